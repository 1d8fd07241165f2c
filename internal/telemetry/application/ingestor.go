package application

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"irrigation-cloud/internal/observability/metrics"
	plants "irrigation-cloud/internal/plants/domain"
	"irrigation-cloud/internal/registry"
	telemetry "irrigation-cloud/internal/telemetry/domain"
	"irrigation-cloud/internal/wire"
)

// Resolver maps a hardware id to its plant.
type Resolver interface {
	Resolve(ctx context.Context, hardwareID string) (*plants.Plant, error)
}

// Ingestor records telemetry messages against their plants. It is safe for
// concurrent use; it holds no per-message state.
type Ingestor struct {
	resolver Resolver
	readings plants.ReadingRepository
	plants   plants.PlantRepository
	logger   *log.Logger
	now      func() time.Time
}

// NewIngestor constructs an ingestor.
func NewIngestor(resolver Resolver, readings plants.ReadingRepository, plantRepo plants.PlantRepository, logger *log.Logger) (*Ingestor, error) {
	if resolver == nil {
		return nil, errors.New("telemetry ingest: nil resolver")
	}
	if readings == nil {
		return nil, errors.New("telemetry ingest: nil reading repo")
	}
	if plantRepo == nil {
		return nil, errors.New("telemetry ingest: nil plant repo")
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Ingestor{
		resolver: resolver,
		readings: readings,
		plants:   plantRepo,
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
	}, nil
}

// Ingest decodes, resolves and persists one telemetry payload. Every failure
// ends in a DROPPED outcome; nothing is returned as an error or panics out.
func (i *Ingestor) Ingest(ctx context.Context, payload []byte) (outcome telemetry.Outcome) {
	start := time.Now()
	outcome = telemetry.Outcome{State: telemetry.StateReceived}
	defer func() {
		if r := recover(); r != nil {
			outcome = telemetry.Dropped(telemetry.DropPanic, outcome.HardwareID, fmt.Errorf("panic: %v", r))
		}
		i.finish(outcome, time.Since(start))
	}()

	msg, err := wire.DecodeTelemetry(payload)
	if err != nil {
		return telemetry.Dropped(telemetry.DropMalformed, "", err)
	}
	outcome.HardwareID = msg.HardwareID
	if !msg.DeviceTime.IsZero() {
		metrics.ObserveConsumerLag("ingestor", i.now().Sub(msg.DeviceTime))
	}

	plant, err := i.resolver.Resolve(ctx, msg.HardwareID)
	if err != nil {
		if errors.Is(err, registry.ErrUnresolvedDevice) {
			return telemetry.Dropped(telemetry.DropUnresolved, msg.HardwareID, err)
		}
		return telemetry.Dropped(telemetry.DropPersistence, msg.HardwareID, err)
	}
	outcome.State = telemetry.StateResolved
	outcome.PlantID = plant.ID

	reading := plants.NewTelemetryReading(plant.ID, msg.Moisture)
	if err := i.readings.RecordTelemetry(ctx, &reading); err != nil {
		reason := telemetry.DropPersistence
		if errors.Is(err, plants.ErrPlantNotFound) {
			reason = telemetry.DropUnresolved
		}
		dropped := telemetry.Dropped(reason, msg.HardwareID, err)
		dropped.PlantID = plant.ID
		return dropped
	}

	outcome.State = telemetry.StatePersisted
	outcome.ReadingID = reading.ID
	outcome.Moisture = msg.Moisture
	outcome.RecordedAt = reading.RecordedAt
	return outcome
}

func (i *Ingestor) finish(outcome telemetry.Outcome, elapsed time.Duration) {
	if outcome.Persisted() {
		metrics.ObserveIngest(metrics.IngestResultPersisted, elapsed)
		return
	}
	metrics.ObserveIngest(metrics.IngestResultDropped, elapsed)
	metrics.IncIngestError(string(outcome.Reason))
	i.logger.Printf("telemetry ingest: dropped hardware_id=%q reason=%s: %v", outcome.HardwareID, outcome.Reason, outcome.Err)
}

// Reconcile re-derives every plant's cached latest moisture from its readings.
func (i *Ingestor) Reconcile(ctx context.Context) (int, error) {
	count, err := i.plants.ReconcileLatest(ctx)
	if err != nil {
		metrics.IncReconcile(metrics.ResultError)
		return 0, err
	}
	metrics.IncReconcile(metrics.ResultSuccess)
	if count > 0 {
		i.logger.Printf("telemetry reconcile: corrected %d plants", count)
	}
	return count, nil
}

// RunReconciler calls Reconcile every interval until ctx is done.
func (i *Ingestor) RunReconciler(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := i.Reconcile(ctx); err != nil {
				i.logger.Printf("telemetry reconcile error: %v", err)
			}
		}
	}
}
