package application

import (
	"context"
	"errors"
	"testing"
	"time"

	plants "irrigation-cloud/internal/plants/domain"
	"irrigation-cloud/internal/plants/infrastructure/memory"
	"irrigation-cloud/internal/registry"
	telemetry "irrigation-cloud/internal/telemetry/domain"
)

type failingReadings struct {
	plants.ReadingRepository
	err error
}

func (f failingReadings) RecordTelemetry(context.Context, *plants.MoistureReading) error {
	return f.err
}

type panicResolver struct{}

func (panicResolver) Resolve(context.Context, string) (*plants.Plant, error) {
	panic("boom")
}

func newFixture(t *testing.T) (*memory.Store, *plants.Plant, *Ingestor) {
	t.Helper()
	store := memory.NewStore()
	plant := &plants.Plant{UserID: 1, Name: "basil", MoistureThreshold: 30, HardwareID: "node-1"}
	if err := store.Create(context.Background(), plant); err != nil {
		t.Fatalf("create plant: %v", err)
	}
	resolver, err := registry.NewResolver(store, nil)
	if err != nil {
		t.Fatalf("new resolver: %v", err)
	}
	ingestor, err := NewIngestor(resolver, store, store, nil)
	if err != nil {
		t.Fatalf("new ingestor: %v", err)
	}
	return store, plant, ingestor
}

func TestIngest_PersistsOneReadingAndUpdatesLatest(t *testing.T) {
	store, plant, ingestor := newFixture(t)

	outcome := ingestor.Ingest(context.Background(), []byte(`{"hardware_id":"node-1","moisture":"42","status":"OK","timestamp":1700000000.5}`))
	if outcome.State != telemetry.StatePersisted {
		t.Fatalf("expected PERSISTED, got %s (%v)", outcome.State, outcome.Err)
	}
	readings := store.Readings()
	if len(readings) != 1 {
		t.Fatalf("expected 1 reading, got %d", len(readings))
	}
	row := readings[0]
	if row.MoistureLevel == nil || *row.MoistureLevel != 42 || row.PumpStatus || row.IsAutomated {
		t.Fatalf("unexpected row %+v", row)
	}
	got, _ := store.Get(context.Background(), plant.ID)
	if got.LastMoisture == nil || *got.LastMoisture != 42 {
		t.Fatalf("expected last moisture 42, got %v", got.LastMoisture)
	}
	if !got.LastUpdate.Equal(row.RecordedAt) {
		t.Fatalf("last update %v != recorded_at %v", got.LastUpdate, row.RecordedAt)
	}
	if len(store.Notifications()) != 0 {
		t.Fatalf("ingest must not create notifications")
	}
}

func TestIngest_DropsWithoutWriting(t *testing.T) {
	cases := []struct {
		name    string
		payload string
		reason  telemetry.DropReason
	}{
		{name: "unresolved", payload: `{"hardware_id":"ghost","moisture":40}`, reason: telemetry.DropUnresolved},
		{name: "missing moisture", payload: `{"hardware_id":"node-1"}`, reason: telemetry.DropMalformed},
		{name: "not json", payload: `MOISTURE:40:512:OK`, reason: telemetry.DropMalformed},
		{name: "out of range", payload: `{"hardware_id":"node-1","moisture":140}`, reason: telemetry.DropMalformed},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			store, _, ingestor := newFixture(t)
			outcome := ingestor.Ingest(context.Background(), []byte(tc.payload))
			if outcome.State != telemetry.StateDropped || outcome.Reason != tc.reason {
				t.Fatalf("expected DROPPED/%s, got %s/%s", tc.reason, outcome.State, outcome.Reason)
			}
			if len(store.Readings()) != 0 {
				t.Fatalf("expected no rows written")
			}
		})
	}
}

func TestIngest_PersistenceFailureIsDropped(t *testing.T) {
	store, _, _ := newFixture(t)
	resolver, _ := registry.NewResolver(store, nil)
	ingestor, err := NewIngestor(resolver, failingReadings{err: plants.Persistence("record telemetry", errors.New("disk full"))}, store, nil)
	if err != nil {
		t.Fatalf("new ingestor: %v", err)
	}

	outcome := ingestor.Ingest(context.Background(), []byte(`{"hardware_id":"node-1","moisture":40}`))
	if outcome.State != telemetry.StateDropped || outcome.Reason != telemetry.DropPersistence {
		t.Fatalf("expected persistence drop, got %s/%s", outcome.State, outcome.Reason)
	}
	if !errors.Is(outcome.Err, plants.ErrPersistenceFailure) {
		t.Fatalf("expected ErrPersistenceFailure, got %v", outcome.Err)
	}
}

func TestIngest_PanicDoesNotEscape(t *testing.T) {
	store := memory.NewStore()
	ingestor, _ := NewIngestor(panicResolver{}, store, store, nil)

	outcome := ingestor.Ingest(context.Background(), []byte(`{"hardware_id":"node-1","moisture":40}`))
	if outcome.State != telemetry.StateDropped || outcome.Reason != telemetry.DropPanic {
		t.Fatalf("expected panic drop, got %s/%s", outcome.State, outcome.Reason)
	}
}

func TestReconcile_RestoresLatest(t *testing.T) {
	store, plant, ingestor := newFixture(t)
	ingestor.Ingest(context.Background(), []byte(`{"hardware_id":"node-1","moisture":55}`))
	store.OverwriteLatest(plant.ID, 3, time.Unix(0, 0).UTC())

	count, err := ingestor.Reconcile(context.Background())
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected 1 corrected plant, got %d", count)
	}
	got, _ := store.Get(context.Background(), plant.ID)
	if got.LastMoisture == nil || *got.LastMoisture != 55 {
		t.Fatalf("expected 55, got %v", got.LastMoisture)
	}
}
