package plants

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	// ErrPlantNotFound indicates no plant with the requested id exists.
	ErrPlantNotFound = errors.New("plants: plant not found")
	// ErrPersistenceFailure wraps storage errors; the attempted write was rolled back.
	ErrPersistenceFailure = errors.New("plants: persistence failure")
	// ErrInvalidThreshold indicates a threshold outside 0-100.
	ErrInvalidThreshold = errors.New("plants: threshold must be between 0 and 100")
)

// Plant is a logical irrigation target owned by one user.
type Plant struct {
	ID                int64
	UserID            int64
	Name              string
	Location          string
	MoistureThreshold float64
	// HardwareID is empty until a device is bound.
	HardwareID string
	// LastMoisture and LastUpdate cache the most recent telemetry reading.
	LastMoisture *float64
	LastUpdate   time.Time
	CreatedAt    time.Time
}

// Bound reports whether a device is paired with the plant.
func (p Plant) Bound() bool {
	return strings.TrimSpace(p.HardwareID) != ""
}

// Validate checks plant invariants.
func (p Plant) Validate() error {
	if p.UserID <= 0 {
		return errors.New("plant: empty user id")
	}
	if strings.TrimSpace(p.Name) == "" {
		return errors.New("plant: empty name")
	}
	return ValidateThreshold(p.MoistureThreshold)
}

// ValidateThreshold checks the operator-settable moisture threshold.
func ValidateThreshold(threshold float64) error {
	if threshold < 0 || threshold > 100 {
		return ErrInvalidThreshold
	}
	return nil
}

// Persistence wraps a storage error with ErrPersistenceFailure.
func Persistence(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %s: %v", ErrPersistenceFailure, op, err)
}

// PlantRepository manages plant persistence.
type PlantRepository interface {
	Get(ctx context.Context, id int64) (*Plant, error)
	// FindByHardwareID returns plants bound to the hardware id in insertion order.
	FindByHardwareID(ctx context.Context, hardwareID string) ([]Plant, error)
	ListBound(ctx context.Context) ([]Plant, error)
	Create(ctx context.Context, plant *Plant) error
	// UpdateThreshold stores the threshold and the notification in one transaction.
	UpdateThreshold(ctx context.Context, plantID int64, threshold float64, notification Notification) error
	// BindHardware records the hardware id and the notification in one transaction.
	BindHardware(ctx context.Context, plantID int64, hardwareID string, notification Notification) error
	// Delete removes the plant together with its readings and notifications.
	Delete(ctx context.Context, id int64) error
	// ReconcileLatest re-derives the cached latest moisture from the readings table.
	ReconcileLatest(ctx context.Context) (int, error)
}
