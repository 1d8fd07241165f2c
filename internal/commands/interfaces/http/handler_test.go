package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"irrigation-cloud/internal/audit"
	"irrigation-cloud/internal/auth"
	pubsub "irrigation-cloud/internal/channel"
	commandsapp "irrigation-cloud/internal/commands/application"
	commands "irrigation-cloud/internal/commands/domain"
	plantsapp "irrigation-cloud/internal/plants/application"
	plants "irrigation-cloud/internal/plants/domain"
	"irrigation-cloud/internal/plants/infrastructure/memory"
	"irrigation-cloud/internal/plants/interfaces/export"
)

type handlerFixture struct {
	store     *memory.Store
	transport *pubsub.Memory
	audit     *audit.MemoryLogger
	handler   *Handler
	plant     *plants.Plant
}

func newHandlerFixture(t *testing.T) *handlerFixture {
	t.Helper()
	store := memory.NewStore()
	transport := pubsub.NewMemory()
	dispatcher, err := commandsapp.NewDispatcher(store, store, transport, nil)
	if err != nil {
		t.Fatalf("new dispatcher: %v", err)
	}
	service, err := plantsapp.NewService(store, nil)
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	auditLogger := audit.NewMemoryLogger()
	handler, err := NewHandler(dispatcher, service, store, store, auditLogger, nil)
	if err != nil {
		t.Fatalf("new handler: %v", err)
	}
	plant := &plants.Plant{UserID: 42, Name: "mint", MoistureThreshold: 30, HardwareID: "node-1"}
	if err := store.Create(context.Background(), plant); err != nil {
		t.Fatalf("create plant: %v", err)
	}
	return &handlerFixture{store: store, transport: transport, audit: auditLogger, handler: handler, plant: plant}
}

func (f *handlerFixture) do(t *testing.T, userID int64, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Buffer
	if body != "" {
		reader = bytes.NewBufferString(body)
	} else {
		reader = &bytes.Buffer{}
	}
	req := httptest.NewRequest(method, path, reader)
	if userID > 0 {
		req = req.WithContext(auth.WithIdentity(req.Context(), userID, auth.RoleOperator, "user-42"))
	}
	resp := httptest.NewRecorder()
	f.handler.ServeHTTP(resp, req)
	return resp
}

func TestHandler_PumpOn(t *testing.T) {
	f := newHandlerFixture(t)
	resp := f.do(t, 42, http.MethodPost, "/api/v1/plants/1/pump", `{"action":"on"}`)
	if resp.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", resp.Code, resp.Body.String())
	}
	var ack commands.Ack
	if err := json.Unmarshal(resp.Body.Bytes(), &ack); err != nil {
		t.Fatalf("decode ack: %v", err)
	}
	if !ack.Published || ack.PlantID != 1 {
		t.Fatalf("unexpected ack %+v", ack)
	}
	if len(f.transport.Published(pubsub.CommandChannel)) != 1 {
		t.Fatalf("expected one publish")
	}
	entries := f.audit.Entries()
	if len(entries) != 1 || entries[0].Action != "plant.pump" || entries[0].PlantID != 1 {
		t.Fatalf("unexpected audit entries %+v", entries)
	}
}

func TestHandler_PumpForbiddenForOtherUser(t *testing.T) {
	f := newHandlerFixture(t)
	resp := f.do(t, 7, http.MethodPost, "/api/v1/plants/1/pump", `{"action":"on"}`)
	if resp.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", resp.Code)
	}
	if len(f.store.Readings()) != 0 || len(f.transport.Published(pubsub.CommandChannel)) != 0 {
		t.Fatalf("expected no side effects")
	}
	if len(f.audit.Entries()) != 0 {
		t.Fatalf("expected no audit entry")
	}
}

func TestHandler_PumpMissingPlant(t *testing.T) {
	f := newHandlerFixture(t)
	resp := f.do(t, 42, http.MethodPost, "/api/v1/plants/99/pump", `{"action":"off"}`)
	if resp.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.Code)
	}
}

func TestHandler_PumpBadAction(t *testing.T) {
	f := newHandlerFixture(t)
	resp := f.do(t, 42, http.MethodPost, "/api/v1/plants/1/pump", `{"action":"toggle"}`)
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.Code)
	}
}

func TestHandler_PumpRejectsAutomaticReasons(t *testing.T) {
	f := newHandlerFixture(t)
	for _, reason := range []string{"automatic", "automatic_complete"} {
		resp := f.do(t, 42, http.MethodPost, "/api/v1/plants/1/pump", `{"action":"on","reason":"`+reason+`"}`)
		if resp.Code != http.StatusBadRequest {
			t.Fatalf("%s: expected 400, got %d", reason, resp.Code)
		}
	}
	if got := len(f.transport.Published(pubsub.CommandChannel)); got != 0 {
		t.Fatalf("expected no publish, got %d", got)
	}
	if got := len(f.store.Readings()); got != 0 {
		t.Fatalf("expected no audit rows, got %d", got)
	}

	resp := f.do(t, 42, http.MethodPost, "/api/v1/plants/1/pump", `{"action":"off","reason":"manual_complete"}`)
	if resp.Code != http.StatusAccepted {
		t.Fatalf("manual_complete: expected 202, got %d", resp.Code)
	}
	readings := f.store.Readings()
	if len(readings) != 1 || readings[0].IsAutomated || readings[0].PumpStatus {
		t.Fatalf("unexpected rows %+v", readings)
	}
}

func TestHandler_RequiresIdentity(t *testing.T) {
	f := newHandlerFixture(t)
	resp := f.do(t, 0, http.MethodPost, "/api/v1/plants/1/pump", `{"action":"on"}`)
	if resp.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", resp.Code)
	}
}

func TestHandler_Threshold(t *testing.T) {
	f := newHandlerFixture(t)
	resp := f.do(t, 42, http.MethodPut, "/api/v1/plants/1/threshold", `{"threshold":45}`)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", resp.Code, resp.Body.String())
	}
	plant, _ := f.store.Get(context.Background(), 1)
	if plant.MoistureThreshold != 45 {
		t.Fatalf("expected threshold 45, got %v", plant.MoistureThreshold)
	}

	resp = f.do(t, 42, http.MethodPut, "/api/v1/plants/1/threshold", `{"threshold":140}`)
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for out-of-range threshold, got %d", resp.Code)
	}
}

func TestHandler_Device(t *testing.T) {
	f := newHandlerFixture(t)
	resp := f.do(t, 42, http.MethodPut, "/api/v1/plants/1/device", `{"hardware_id":" node-2 "}`)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}
	plant, _ := f.store.Get(context.Background(), 1)
	if plant.HardwareID != "node-2" {
		t.Fatalf("expected trimmed hardware id, got %q", plant.HardwareID)
	}
	entries := f.audit.Entries()
	if len(entries) != 1 || entries[0].Action != "plant.device" {
		t.Fatalf("unexpected audit entries %+v", entries)
	}
}

func TestHandler_ReadingsFormats(t *testing.T) {
	f := newHandlerFixture(t)
	reading := plants.NewTelemetryReading(1, 40)
	if err := f.store.RecordTelemetry(context.Background(), &reading); err != nil {
		t.Fatalf("record telemetry: %v", err)
	}

	resp := f.do(t, 42, http.MethodGet, "/api/v1/plants/1/readings", "")
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}
	var rows []export.Row
	if err := json.Unmarshal(resp.Body.Bytes(), &rows); err != nil {
		t.Fatalf("decode rows: %v", err)
	}
	if len(rows) != 1 || rows[0].Moisture == nil || *rows[0].Moisture != 40 {
		t.Fatalf("unexpected rows %+v", rows)
	}

	resp = f.do(t, 42, http.MethodGet, "/api/v1/plants/1/readings?format=xlsx", "")
	if resp.Code != http.StatusOK || resp.Header().Get("Content-Type") != export.ContentTypeXLSX {
		t.Fatalf("unexpected xlsx response %d %q", resp.Code, resp.Header().Get("Content-Type"))
	}

	resp = f.do(t, 42, http.MethodGet, "/api/v1/plants/1/readings?format=pdf", "")
	if resp.Code != http.StatusOK || !strings.HasPrefix(resp.Body.String(), "%PDF") {
		t.Fatalf("unexpected pdf response %d", resp.Code)
	}

	resp = f.do(t, 42, http.MethodGet, "/api/v1/plants/1/readings?format=csv", "")
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown format, got %d", resp.Code)
	}
}

func TestHandler_Notifications(t *testing.T) {
	f := newHandlerFixture(t)
	_ = f.do(t, 42, http.MethodPost, "/api/v1/plants/1/pump", `{"action":"on"}`)
	_ = f.do(t, 42, http.MethodPut, "/api/v1/plants/1/threshold", `{"threshold":50}`)

	resp := f.do(t, 42, http.MethodGet, "/api/v1/notifications?limit=1", "")
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}
	var list []notificationView
	if err := json.Unmarshal(resp.Body.Bytes(), &list); err != nil {
		t.Fatalf("decode notifications: %v", err)
	}
	if len(list) != 1 || list[0].Kind != string(plants.EventThresholdUpdate) {
		t.Fatalf("expected newest threshold notification, got %+v", list)
	}
}

type failingDispatcher struct{}

func (failingDispatcher) Dispatch(context.Context, commands.DispatchRequest) (*commands.Ack, error) {
	return nil, plants.Persistence("record pump event", errors.New("db down"))
}

func TestHandler_PersistenceFailureIsGeneric500(t *testing.T) {
	f := newHandlerFixture(t)
	f.handler.dispatcher = failingDispatcher{}
	resp := f.do(t, 42, http.MethodPost, "/api/v1/plants/1/pump", `{"action":"on"}`)
	if resp.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", resp.Code)
	}
	if strings.Contains(resp.Body.String(), "db down") {
		t.Fatalf("expected generic body, got %q", resp.Body.String())
	}
}
