package http

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	plants "irrigation-cloud/internal/plants/domain"
	"irrigation-cloud/internal/plants/infrastructure/memory"
	"irrigation-cloud/internal/registry"
	telemetryapp "irrigation-cloud/internal/telemetry/application"
	telemetry "irrigation-cloud/internal/telemetry/domain"
)

type stubIngester struct {
	outcome telemetry.Outcome
}

func (s stubIngester) Ingest(context.Context, []byte) telemetry.Outcome {
	return s.outcome
}

func newHandler(t *testing.T) (*memory.Store, *IngestHandler) {
	t.Helper()
	store := memory.NewStore()
	if err := store.Create(context.Background(), &plants.Plant{UserID: 1, Name: "sage", HardwareID: "node-1"}); err != nil {
		t.Fatalf("create plant: %v", err)
	}
	resolver, _ := registry.NewResolver(store, nil)
	ingestor, err := telemetryapp.NewIngestor(resolver, store, store, nil)
	if err != nil {
		t.Fatalf("new ingestor: %v", err)
	}
	handler, err := NewIngestHandler(ingestor, nil)
	if err != nil {
		t.Fatalf("new handler: %v", err)
	}
	return store, handler
}

func TestIngestHandler_StatusCodes(t *testing.T) {
	cases := []struct {
		name string
		body string
		want int
	}{
		{name: "persisted", body: `{"hardware_id":"node-1","moisture":33.5,"status":"OK"}`, want: http.StatusAccepted},
		{name: "malformed", body: `{"hardware_id":"node-1","moisture":"wet"}`, want: http.StatusUnprocessableEntity},
		{name: "unresolved", body: `{"hardware_id":"node-9","moisture":33}`, want: http.StatusNotFound},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, handler := newHandler(t)
			req := httptest.NewRequest(http.MethodPost, "/ingest/telemetry", bytes.NewBufferString(tc.body))
			resp := httptest.NewRecorder()
			handler.ServeHTTP(resp, req)
			if resp.Code != tc.want {
				t.Fatalf("expected %d, got %d: %s", tc.want, resp.Code, resp.Body.String())
			}
		})
	}
}

func TestIngestHandler_PersistedBody(t *testing.T) {
	store, handler := newHandler(t)
	req := httptest.NewRequest(http.MethodPost, "/ingest/telemetry", bytes.NewBufferString(`{"hardware_id":"node-1","moisture":61}`))
	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, req)

	var body ingestResponse
	if err := json.Unmarshal(resp.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if body.State != "PERSISTED" || body.ReadingID == 0 || body.RecordedAt == nil {
		t.Fatalf("unexpected body %+v", body)
	}
	if len(store.Readings()) != 1 {
		t.Fatalf("expected 1 reading")
	}
}

func TestIngestHandler_PersistenceFailureIs500(t *testing.T) {
	handler, _ := NewIngestHandler(stubIngester{outcome: telemetry.Dropped(telemetry.DropPersistence, "node-1", nil)}, nil)
	req := httptest.NewRequest(http.MethodPost, "/ingest/telemetry", bytes.NewBufferString(`{}`))
	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, req)
	if resp.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", resp.Code)
	}
}

func TestIngestHandler_MethodNotAllowed(t *testing.T) {
	_, handler := newHandler(t)
	req := httptest.NewRequest(http.MethodGet, "/ingest/telemetry", nil)
	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, req)
	if resp.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", resp.Code)
	}
}
