package application

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	pubsub "irrigation-cloud/internal/channel"
	commands "irrigation-cloud/internal/commands/domain"
	plants "irrigation-cloud/internal/plants/domain"
	"irrigation-cloud/internal/plants/infrastructure/memory"
	"irrigation-cloud/internal/wire"
)

var testNow = time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC)

type fixture struct {
	store      *memory.Store
	transport  *pubsub.Memory
	dispatcher *Dispatcher
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := memory.NewStore(memory.WithClock(func() time.Time { return testNow }))
	transport := pubsub.NewMemory()
	dispatcher, err := NewDispatcher(store, store, transport, nil)
	if err != nil {
		t.Fatalf("new dispatcher: %v", err)
	}
	dispatcher.now = func() time.Time { return testNow }
	return &fixture{store: store, transport: transport, dispatcher: dispatcher}
}

// seedPlants creates n plants owned by user 42; the last one is returned.
func (f *fixture) seedPlants(t *testing.T, n int) *plants.Plant {
	t.Helper()
	var plant *plants.Plant
	for i := 1; i <= n; i++ {
		plant = &plants.Plant{
			UserID:            42,
			Name:              fmt.Sprintf("plant-%d", i),
			MoistureThreshold: 30,
			HardwareID:        fmt.Sprintf("node-%d", i),
		}
		if err := f.store.Create(context.Background(), plant); err != nil {
			t.Fatalf("create plant: %v", err)
		}
	}
	return plant
}

func TestDispatch_ManualOnPublishesAndRecords(t *testing.T) {
	f := newFixture(t)
	plant := f.seedPlants(t, 7)
	if plant.ID != 7 {
		t.Fatalf("expected plant id 7, got %d", plant.ID)
	}

	ack, err := f.dispatcher.Dispatch(context.Background(), commands.DispatchRequest{
		Actor:   42,
		PlantID: 7,
		Action:  wire.ActionPumpOn,
		Reason:  wire.ReasonManual,
	})
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if !ack.Published || ack.CommandID == "" || ack.ReadingID == 0 {
		t.Fatalf("unexpected ack %+v", ack)
	}

	published := f.transport.Published(pubsub.CommandChannel)
	if len(published) != 1 {
		t.Fatalf("expected 1 publish, got %d", len(published))
	}
	cmd, err := wire.DecodeCommand(published[0])
	if err != nil {
		t.Fatalf("decode command: %v", err)
	}
	if cmd.Action != wire.ActionPumpOn || cmd.PlantID != 7 || cmd.HardwareID != "node-7" || cmd.Reason != wire.ReasonManual {
		t.Fatalf("unexpected command %+v", cmd)
	}
	if !cmd.Timestamp.Equal(testNow) {
		t.Fatalf("expected timestamp %v, got %v", testNow, cmd.Timestamp)
	}

	readings := f.store.Readings()
	if len(readings) != 1 {
		t.Fatalf("expected 1 audit row, got %d", len(readings))
	}
	row := readings[0]
	if row.PlantID != 7 || !row.PumpStatus || row.IsAutomated || row.MoistureLevel != nil {
		t.Fatalf("unexpected audit row %+v", row)
	}

	notifications := f.store.Notifications()
	if len(notifications) != 1 || notifications[0].Kind != plants.EventManualWatering || notifications[0].UserID != 42 {
		t.Fatalf("unexpected notifications %+v", notifications)
	}
}

func TestDispatch_RejectsOtherOwner(t *testing.T) {
	f := newFixture(t)
	plant := f.seedPlants(t, 1)

	_, err := f.dispatcher.Dispatch(context.Background(), commands.DispatchRequest{
		Actor:   99,
		PlantID: plant.ID,
		Action:  wire.ActionPumpOn,
		Reason:  wire.ReasonManual,
	})
	if !errors.Is(err, commands.ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
	if len(f.store.Readings()) != 0 || len(f.store.Notifications()) != 0 {
		t.Fatalf("expected no rows written")
	}
	if len(f.transport.Published(pubsub.CommandChannel)) != 0 {
		t.Fatalf("expected no publish")
	}
}

func TestDispatch_MissingPlant(t *testing.T) {
	f := newFixture(t)

	_, err := f.dispatcher.Dispatch(context.Background(), commands.DispatchRequest{
		Actor:   42,
		PlantID: 12,
		Action:  wire.ActionPumpOff,
		Reason:  wire.ReasonManual,
	})
	if !errors.Is(err, plants.ErrPlantNotFound) {
		t.Fatalf("expected ErrPlantNotFound, got %v", err)
	}
	if len(f.store.Readings()) != 0 || len(f.transport.Published(pubsub.CommandChannel)) != 0 {
		t.Fatalf("expected no side effects")
	}
}

func TestDispatch_PublishFailureStillRecords(t *testing.T) {
	f := newFixture(t)
	plant := f.seedPlants(t, 1)
	f.transport.FailPublish(errors.New("broker down"))

	ack, err := f.dispatcher.Dispatch(context.Background(), commands.DispatchRequest{
		Actor:   42,
		PlantID: plant.ID,
		Action:  wire.ActionPumpOff,
		Reason:  wire.ReasonManualComplete,
	})
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if ack.Published {
		t.Fatalf("expected Published=false")
	}
	readings := f.store.Readings()
	if len(readings) != 1 || readings[0].PumpStatus {
		t.Fatalf("expected one OFF audit row, got %+v", readings)
	}
}

func TestDispatch_AutomaticReasonMarksRowAutomated(t *testing.T) {
	f := newFixture(t)
	plant := f.seedPlants(t, 1)
	moisture := 12.5

	if _, err := f.dispatcher.Dispatch(context.Background(), commands.DispatchRequest{
		Actor:           42,
		PlantID:         plant.ID,
		Action:          wire.ActionPumpOn,
		Reason:          wire.ReasonAutomatic,
		CurrentMoisture: &moisture,
	}); err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	readings := f.store.Readings()
	if len(readings) != 1 || !readings[0].IsAutomated {
		t.Fatalf("expected automated row, got %+v", readings)
	}
	notifications := f.store.Notifications()
	if len(notifications) != 1 || notifications[0].Kind != plants.EventAutomaticWatering {
		t.Fatalf("expected automatic_watering notification, got %+v", notifications)
	}
	cmd, _ := wire.DecodeCommand(f.transport.Published(pubsub.CommandChannel)[0])
	if cmd.CurrentMoisture == nil || *cmd.CurrentMoisture != moisture {
		t.Fatalf("expected moisture context on command, got %+v", cmd)
	}
}

func TestDispatch_InvalidRequest(t *testing.T) {
	f := newFixture(t)
	plant := f.seedPlants(t, 1)

	_, err := f.dispatcher.Dispatch(context.Background(), commands.DispatchRequest{
		Actor:   42,
		PlantID: plant.ID,
		Action:  wire.Action("PUMP_TOGGLE"),
		Reason:  wire.ReasonManual,
	})
	if !errors.Is(err, commands.ErrInvalidRequest) {
		t.Fatalf("expected ErrInvalidRequest, got %v", err)
	}
	if len(f.transport.Published(pubsub.CommandChannel)) != 0 {
		t.Fatalf("expected no publish")
	}
}
