package auth

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"
)

const (
	HeaderIngestTimestamp = "X-Ingest-Timestamp"
	HeaderIngestSignature = "X-Ingest-Signature"
)

var (
	errIngestNotConfigured = errors.New("ingest auth not configured")
	errIngestMissing       = errors.New("missing ingest signature")
	errIngestTimestamp     = errors.New("invalid ingest timestamp")
	errIngestExpired       = errors.New("ingest signature expired")
	errIngestMismatch      = errors.New("invalid ingest signature")
)

// IngestAuthMiddleware checks the HMAC a bridge puts on telemetry posts.
type IngestAuthMiddleware struct {
	Secret  []byte
	MaxSkew time.Duration
	now     func() time.Time
}

// NewIngestAuthMiddleware constructs ingest auth middleware.
func NewIngestAuthMiddleware(secret []byte, maxSkew time.Duration) *IngestAuthMiddleware {
	return &IngestAuthMiddleware{Secret: secret, MaxSkew: maxSkew, now: time.Now}
}

// Wrap rejects unsigned or stale posts with 401 and restores the body for next.
func (m *IngestAuthMiddleware) Wrap(next http.Handler) http.Handler {
	if m == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
		_ = r.Body.Close()
		if err != nil {
			http.Error(w, "read body error", http.StatusBadRequest)
			return
		}
		if err := m.verify(r.Header, body); err != nil {
			http.Error(w, err.Error(), http.StatusUnauthorized)
			return
		}
		r.Body = io.NopCloser(bytes.NewReader(body))
		next.ServeHTTP(w, r)
	})
}

func (m *IngestAuthMiddleware) verify(header http.Header, body []byte) error {
	if len(m.Secret) == 0 {
		return errIngestNotConfigured
	}
	timestamp := strings.TrimSpace(header.Get(HeaderIngestTimestamp))
	signature := strings.ToLower(strings.TrimSpace(header.Get(HeaderIngestSignature)))
	if timestamp == "" || signature == "" {
		return errIngestMissing
	}
	seconds, err := strconv.ParseInt(timestamp, 10, 64)
	if err != nil {
		return errIngestTimestamp
	}
	if m.MaxSkew > 0 {
		now := time.Now
		if m.now != nil {
			now = m.now
		}
		skew := now().Sub(time.Unix(seconds, 0))
		if skew < -m.MaxSkew || skew > m.MaxSkew {
			return errIngestExpired
		}
	}
	if !hmac.Equal([]byte(signature), []byte(SignIngest(m.Secret, timestamp, body))) {
		return errIngestMismatch
	}
	return nil
}

// SignIngest computes the hex HMAC-SHA256 of "timestamp\nbody".
func SignIngest(secret []byte, timestamp string, body []byte) string {
	mac := hmac.New(sha256.New, secret)
	_, _ = mac.Write([]byte(timestamp + "\n"))
	_, _ = mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}
