package application

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"irrigation-cloud/internal/auth"
	pubsub "irrigation-cloud/internal/channel"
	commands "irrigation-cloud/internal/commands/domain"
	"irrigation-cloud/internal/observability/metrics"
	plants "irrigation-cloud/internal/plants/domain"
	"irrigation-cloud/internal/wire"
)

// Publisher sends an encoded command to the broker.
type Publisher interface {
	Publish(ctx context.Context, channel string, payload []byte) error
}

// Dispatcher turns pump requests into published commands plus audit rows.
// It never waits for the device to confirm.
type Dispatcher struct {
	checker   *auth.PlantOwnerChecker
	readings  plants.ReadingRepository
	publisher Publisher
	logger    *log.Logger
	now       func() time.Time
}

// NewDispatcher constructs a dispatcher.
func NewDispatcher(plantRepo plants.PlantRepository, readings plants.ReadingRepository, publisher Publisher, logger *log.Logger) (*Dispatcher, error) {
	if plantRepo == nil {
		return nil, errors.New("commands: nil plant repo")
	}
	if readings == nil {
		return nil, errors.New("commands: nil reading repo")
	}
	if publisher == nil {
		return nil, errors.New("commands: nil publisher")
	}
	checker, err := auth.NewPlantOwnerChecker(plantRepo)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Dispatcher{
		checker:   checker,
		readings:  readings,
		publisher: publisher,
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
	}, nil
}

// Dispatch publishes the command and records the pump event with its notification.
func (d *Dispatcher) Dispatch(ctx context.Context, req commands.DispatchRequest) (*commands.Ack, error) {
	if d == nil {
		return nil, errors.New("commands: nil dispatcher")
	}
	metrics.IncCommandIssued()
	if err := req.Validate(); err != nil {
		return nil, err
	}

	plant, err := d.checker.EnsurePlantOwner(ctx, req.Actor, req.PlantID)
	if err != nil {
		switch {
		case errors.Is(err, plants.ErrPlantNotFound):
			metrics.IncCommandResult(metrics.CommandResultNotFound)
		case errors.Is(err, commands.ErrUnauthorized):
			metrics.IncCommandResult(metrics.CommandResultUnauthorized)
		default:
			metrics.IncCommandResult(metrics.CommandResultPersistFailed)
		}
		return nil, err
	}

	cmd := wire.Command{
		ID:              uuid.NewString(),
		Action:          req.Action,
		PlantID:         plant.ID,
		PlantName:       plant.Name,
		HardwareID:      plant.HardwareID,
		Reason:          req.Reason,
		CurrentMoisture: req.CurrentMoisture,
		Threshold:       req.Threshold,
		Timestamp:       d.now(),
	}
	if cmd.HardwareID == "" {
		d.logger.Printf("commands: plant %d has no device bound; publishing by plant id", plant.ID)
	}

	ack := &commands.Ack{
		CommandID:  cmd.ID,
		PlantID:    plant.ID,
		HardwareID: cmd.HardwareID,
		Action:     cmd.Action,
		Reason:     cmd.Reason,
	}
	ack.Published = d.publish(ctx, cmd)

	on := req.Action.On()
	reading := plants.NewPumpEvent(plant.ID, on, req.Reason.Automated())
	notification := pumpNotification(*plant, req)
	if err := d.readings.RecordPumpEvent(ctx, &reading, &notification); err != nil {
		metrics.IncCommandResult(metrics.CommandResultPersistFailed)
		d.logger.Printf("commands: record pump event for plant %d: %v", plant.ID, err)
		if errors.Is(err, plants.ErrPlantNotFound) || errors.Is(err, plants.ErrPersistenceFailure) {
			return nil, err
		}
		return nil, plants.Persistence("record pump event", err)
	}
	ack.ReadingID = reading.ID
	ack.RecordedAt = reading.RecordedAt
	return ack, nil
}

func (d *Dispatcher) publish(ctx context.Context, cmd wire.Command) bool {
	payload, err := wire.EncodeCommand(cmd)
	if err != nil {
		metrics.IncCommandResult(metrics.CommandResultPublishFailed)
		d.logger.Printf("commands: encode command %s: %v", cmd.ID, err)
		return false
	}
	if err := d.publisher.Publish(ctx, pubsub.CommandChannel, payload); err != nil {
		metrics.IncCommandResult(metrics.CommandResultPublishFailed)
		d.logger.Printf("commands: publish %s for plant %d: %v", cmd.Action, cmd.PlantID, err)
		return false
	}
	metrics.IncCommandResult(metrics.CommandResultPublished)
	return true
}

func pumpNotification(plant plants.Plant, req commands.DispatchRequest) plants.Notification {
	kind := plants.EventManualWatering
	if req.Reason.Automated() {
		kind = plants.EventAutomaticWatering
	}
	state := "off"
	if req.Action.On() {
		state = "on"
	}

	var title, message string
	switch req.Reason {
	case wire.ReasonAutomatic:
		title = "Automatic watering started"
		message = fmt.Sprintf("%s dropped below its moisture threshold; pump turned %s", plant.Name, state)
	case wire.ReasonAutomaticComplete:
		title = "Automatic watering complete"
		message = fmt.Sprintf("%s reached its moisture threshold; pump turned %s", plant.Name, state)
	case wire.ReasonManualComplete:
		title = "Manual watering complete"
		message = fmt.Sprintf("Pump for %s turned %s", plant.Name, state)
	default:
		title = "Manual watering"
		message = fmt.Sprintf("Pump for %s turned %s", plant.Name, state)
	}
	if req.CurrentMoisture != nil {
		message += fmt.Sprintf(" (moisture %.1f%%)", *req.CurrentMoisture)
	}
	return plants.ForPlant(plant, kind, title, message)
}
