package telemetry

import "time"

// State is the position of one message in the ingest state machine:
// RECEIVED -> RESOLVED -> PERSISTED, or RECEIVED -> DROPPED.
type State string

const (
	StateReceived  State = "RECEIVED"
	StateResolved  State = "RESOLVED"
	StatePersisted State = "PERSISTED"
	StateDropped   State = "DROPPED"
)

// DropReason explains a DROPPED outcome.
type DropReason string

const (
	DropMalformed   DropReason = "malformed"
	DropUnresolved  DropReason = "unresolved"
	DropPersistence DropReason = "persistence"
	DropPanic       DropReason = "panic"
	DropQueueFull   DropReason = "queue_full"
)

// Outcome is the terminal result of ingesting one message.
type Outcome struct {
	State      State
	Reason     DropReason
	HardwareID string
	PlantID    int64
	ReadingID  int64
	Moisture   float64
	RecordedAt time.Time
	Err        error
}

// Persisted reports whether the reading was stored.
func (o Outcome) Persisted() bool {
	return o.State == StatePersisted
}

// Dropped builds a DROPPED outcome.
func Dropped(reason DropReason, hardwareID string, err error) Outcome {
	return Outcome{State: StateDropped, Reason: reason, HardwareID: hardwareID, Err: err}
}
