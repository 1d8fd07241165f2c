package auth

import (
	"context"
	"fmt"
	"net/http"
	"strings"
)

// Middleware checks bearer tokens on /api/ routes and stores the actor in context.
type Middleware struct {
	Secret []byte
	Policy Policy
}

// NewMiddleware constructs an auth middleware.
func NewMiddleware(secret []byte, policy Policy) *Middleware {
	return &Middleware{Secret: secret, Policy: policy}
}

// Wrap applies token and role checks to the handler.
func (m *Middleware) Wrap(next http.Handler) http.Handler {
	if m == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx, status := m.authenticate(r)
		switch status {
		case http.StatusOK:
			next.ServeHTTP(w, r.WithContext(ctx))
		case http.StatusUnauthorized:
			w.Header().Set("WWW-Authenticate", `Bearer realm="irrigation"`)
			http.Error(w, "unauthorized", status)
		default:
			http.Error(w, "forbidden", status)
		}
	})
}

// authenticate returns the request context carrying the actor, or the status to reject with.
func (m *Middleware) authenticate(r *http.Request) (context.Context, int) {
	ctx := r.Context()
	if m.Policy.IsExempt(r) {
		return ctx, http.StatusOK
	}
	required, guarded := m.Policy.RequiredRole(r)
	if !guarded {
		return ctx, http.StatusOK
	}
	claims, err := ParseJWT(bearerToken(r), m.Secret)
	if err != nil {
		return ctx, http.StatusUnauthorized
	}
	role, _ := NormalizeRole(claims.Role)
	if !RoleAtLeast(role, required) {
		return ctx, http.StatusForbidden
	}
	subject := claims.Subject
	if subject == "" {
		subject = fmt.Sprintf("user-%d", claims.UserID)
	}
	return WithIdentity(ctx, claims.UserID, role, subject), http.StatusOK
}

func bearerToken(r *http.Request) string {
	scheme, token, ok := strings.Cut(strings.TrimSpace(r.Header.Get("Authorization")), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}
