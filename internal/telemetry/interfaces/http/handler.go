package http

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"time"

	telemetry "irrigation-cloud/internal/telemetry/domain"
)

const maxIngestBody = 64 << 10

// Ingester handles one telemetry payload.
type Ingester interface {
	Ingest(ctx context.Context, payload []byte) telemetry.Outcome
}

// IngestHandler accepts telemetry posted by bridges that cannot reach the broker.
type IngestHandler struct {
	ingestor Ingester
	logger   *log.Logger
}

// NewIngestHandler constructs an ingest handler.
func NewIngestHandler(ingestor Ingester, logger *log.Logger) (*IngestHandler, error) {
	if ingestor == nil {
		return nil, errors.New("telemetry ingest handler: nil ingestor")
	}
	if logger == nil {
		logger = log.Default()
	}
	return &IngestHandler{ingestor: ingestor, logger: logger}, nil
}

type ingestResponse struct {
	State      string     `json:"state"`
	Reason     string     `json:"reason,omitempty"`
	PlantID    int64      `json:"plant_id,omitempty"`
	ReadingID  int64      `json:"reading_id,omitempty"`
	RecordedAt *time.Time `json:"recorded_at,omitempty"`
}

// ServeHTTP ingests one telemetry message.
func (h *IngestHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxIngestBody))
	if err != nil {
		h.logger.Printf("telemetry ingest: read body error: %v", err)
		http.Error(w, "read body error", http.StatusBadRequest)
		return
	}
	defer r.Body.Close()

	outcome := h.ingestor.Ingest(r.Context(), body)
	resp := ingestResponse{
		State:     string(outcome.State),
		Reason:    string(outcome.Reason),
		PlantID:   outcome.PlantID,
		ReadingID: outcome.ReadingID,
	}
	if outcome.Persisted() {
		recordedAt := outcome.RecordedAt
		resp.RecordedAt = &recordedAt
	}
	writeJSON(w, statusFor(outcome), resp)
}

func statusFor(outcome telemetry.Outcome) int {
	if outcome.Persisted() {
		return http.StatusAccepted
	}
	switch outcome.Reason {
	case telemetry.DropMalformed:
		return http.StatusUnprocessableEntity
	case telemetry.DropUnresolved:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, value any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(value)
}
