package application

import (
	"context"
	"errors"
	"log"
	"time"

	commands "irrigation-cloud/internal/commands/domain"
	"irrigation-cloud/internal/observability/metrics"
	plants "irrigation-cloud/internal/plants/domain"
	"irrigation-cloud/internal/wire"
)

const (
	DecisionStart = "start"
	DecisionStop  = "stop"
	DecisionNone  = "none"
	DecisionStale = "stale"
	DecisionError = "error"

	DefaultFreshness = 10 * time.Minute
)

// CommandDispatcher issues one pump command.
type CommandDispatcher interface {
	Dispatch(ctx context.Context, req commands.DispatchRequest) (*commands.Ack, error)
}

// AutoWatering compares each bound plant's latest moisture with its threshold
// and toggles the pump through the dispatcher.
type AutoWatering struct {
	plants     plants.PlantRepository
	readings   plants.ReadingRepository
	dispatcher CommandDispatcher
	freshness  time.Duration
	logger     *log.Logger
}

// NewAutoWatering constructs the automatic watering loop. A non-positive
// freshness uses DefaultFreshness.
func NewAutoWatering(plantRepo plants.PlantRepository, readings plants.ReadingRepository, dispatcher CommandDispatcher, freshness time.Duration, logger *log.Logger) (*AutoWatering, error) {
	if plantRepo == nil {
		return nil, errors.New("auto watering: nil plant repo")
	}
	if readings == nil {
		return nil, errors.New("auto watering: nil reading repo")
	}
	if dispatcher == nil {
		return nil, errors.New("auto watering: nil dispatcher")
	}
	if freshness <= 0 {
		freshness = DefaultFreshness
	}
	if logger == nil {
		logger = log.Default()
	}
	return &AutoWatering{
		plants:     plantRepo,
		readings:   readings,
		dispatcher: dispatcher,
		freshness:  freshness,
		logger:     logger,
	}, nil
}

// Tick evaluates every bound plant at the given time. Per-plant failures are
// logged and do not stop the sweep.
func (a *AutoWatering) Tick(ctx context.Context, now time.Time) error {
	if a == nil {
		return errors.New("auto watering: nil")
	}
	if now.IsZero() {
		now = time.Now().UTC()
	}
	bound, err := a.plants.ListBound(ctx)
	if err != nil {
		return err
	}
	for _, plant := range bound {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		decision, err := a.evaluate(ctx, plant, now.UTC())
		if err != nil {
			decision = DecisionError
			a.logger.Printf("auto watering: plant %d: %v", plant.ID, err)
		}
		metrics.IncAutoWateringDecision(decision)
	}
	return nil
}

func (a *AutoWatering) evaluate(ctx context.Context, plant plants.Plant, now time.Time) (string, error) {
	if plant.LastMoisture == nil || plant.LastUpdate.IsZero() || now.Sub(plant.LastUpdate) > a.freshness {
		return DecisionStale, nil
	}
	latest, err := a.readings.LatestPumpEvent(ctx, plant.ID)
	if err != nil {
		return "", err
	}
	pumpOn := latest != nil && latest.PumpStatus
	moisture := *plant.LastMoisture
	threshold := plant.MoistureThreshold

	switch {
	case !pumpOn && moisture < threshold:
		if err := a.dispatch(ctx, plant, wire.ActionPumpOn, wire.ReasonAutomatic, moisture); err != nil {
			return "", err
		}
		return DecisionStart, nil
	case pumpOn && latest.IsAutomated && moisture >= threshold:
		if err := a.dispatch(ctx, plant, wire.ActionPumpOff, wire.ReasonAutomaticComplete, moisture); err != nil {
			return "", err
		}
		return DecisionStop, nil
	default:
		return DecisionNone, nil
	}
}

func (a *AutoWatering) dispatch(ctx context.Context, plant plants.Plant, action wire.Action, reason wire.Reason, moisture float64) error {
	threshold := plant.MoistureThreshold
	ack, err := a.dispatcher.Dispatch(ctx, commands.DispatchRequest{
		Actor:           plant.UserID,
		PlantID:         plant.ID,
		Action:          action,
		Reason:          reason,
		CurrentMoisture: &moisture,
		Threshold:       &threshold,
	})
	if err != nil {
		return err
	}
	a.logger.Printf("auto watering: plant %d %s at %.1f%% (threshold %.1f%%, published=%t)", plant.ID, action, moisture, threshold, ack.Published)
	return nil
}
