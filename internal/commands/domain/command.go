package commands

import (
	"errors"
	"fmt"
	"time"

	"irrigation-cloud/internal/auth"
	"irrigation-cloud/internal/wire"
)

// ErrUnauthorized is returned when the actor does not own the plant.
var ErrUnauthorized = auth.ErrForbidden

// ErrInvalidRequest marks a dispatch request that cannot be executed.
var ErrInvalidRequest = errors.New("commands: invalid request")

// DispatchRequest asks for a pump toggle on behalf of an actor.
type DispatchRequest struct {
	Actor   int64
	PlantID int64
	Action  wire.Action
	Reason  wire.Reason
	// CurrentMoisture and Threshold are carried to the device for its activity log.
	CurrentMoisture *float64
	Threshold       *float64
}

// Validate checks the request shape; ownership is checked by the dispatcher.
func (r DispatchRequest) Validate() error {
	if r.PlantID <= 0 {
		return fmt.Errorf("%w: plant id required", ErrInvalidRequest)
	}
	if !r.Action.Valid() {
		return fmt.Errorf("%w: unknown action %q", ErrInvalidRequest, r.Action)
	}
	if !r.Reason.Valid() {
		return fmt.Errorf("%w: unknown reason %q", ErrInvalidRequest, r.Reason)
	}
	return nil
}

// Ack reports what a dispatch did. Published is false when the broker refused
// the message; the audit row is written either way.
type Ack struct {
	CommandID  string      `json:"command_id"`
	PlantID    int64       `json:"plant_id"`
	HardwareID string      `json:"hardware_id,omitempty"`
	Action     wire.Action `json:"command"`
	Reason     wire.Reason `json:"reason"`
	Published  bool        `json:"published"`
	ReadingID  int64       `json:"reading_id"`
	RecordedAt time.Time   `json:"recorded_at"`
}
