package plants

import (
	"context"
	"errors"
	"time"
)

// MoistureReading is an append-only row that is either a sensor value or a pump event.
type MoistureReading struct {
	ID      int64
	PlantID int64
	// MoistureLevel is nil when the row records a pump-state event.
	MoistureLevel *float64
	PumpStatus    bool
	IsAutomated   bool
	// RecordedAt is assigned by storage in insertion order.
	RecordedAt time.Time
}

// IsPumpEvent reports whether the row is an actuation audit entry.
func (r MoistureReading) IsPumpEvent() bool {
	return r.MoistureLevel == nil
}

// Validate checks reading invariants.
func (r MoistureReading) Validate() error {
	if r.PlantID <= 0 {
		return errors.New("reading: empty plant id")
	}
	if r.MoistureLevel != nil && (*r.MoistureLevel < 0 || *r.MoistureLevel > 100) {
		return errors.New("reading: moisture out of range")
	}
	return nil
}

// NewTelemetryReading builds the row written for a sensor value.
func NewTelemetryReading(plantID int64, moisture float64) MoistureReading {
	value := moisture
	return MoistureReading{PlantID: plantID, MoistureLevel: &value}
}

// NewPumpEvent builds the audit row written for a pump toggle.
func NewPumpEvent(plantID int64, on, automated bool) MoistureReading {
	return MoistureReading{PlantID: plantID, PumpStatus: on, IsAutomated: automated}
}

// ReadingRepository persists the reading stream.
type ReadingRepository interface {
	// RecordTelemetry inserts the reading and refreshes the plant's cached latest
	// moisture in one transaction. It fills ID and RecordedAt.
	RecordTelemetry(ctx context.Context, reading *MoistureReading) error
	// RecordPumpEvent inserts the audit row and, when given, the notification in one transaction.
	RecordPumpEvent(ctx context.Context, reading *MoistureReading, notification *Notification) error
	// LatestPumpEvent returns the newest pump-state row for a plant, or nil.
	LatestPumpEvent(ctx context.Context, plantID int64) (*MoistureReading, error)
	ListByPlant(ctx context.Context, plantID int64, from, to time.Time) ([]MoistureReading, error)
}
