package plants

import (
	"context"
	"time"
)

// EventKind classifies a user notification.
type EventKind string

const (
	EventThresholdUpdate   EventKind = "threshold_update"
	EventManualWatering    EventKind = "manual_watering"
	EventAutomaticWatering EventKind = "automatic_watering"
	EventDeviceBinding     EventKind = "device_binding"
	EventSystem            EventKind = "system"
)

// Notification is a user-facing record derived from a domain event.
type Notification struct {
	ID        int64
	UserID    int64
	PlantID   *int64
	Title     string
	Message   string
	Kind      EventKind
	IsRead    bool
	CreatedAt time.Time
}

// ForPlant builds an unread notification about a plant.
func ForPlant(plant Plant, kind EventKind, title, message string) Notification {
	plantID := plant.ID
	return Notification{
		UserID:  plant.UserID,
		PlantID: &plantID,
		Title:   title,
		Message: message,
		Kind:    kind,
	}
}

// NotificationRepository reads notifications. Read/unread/delete lifecycle lives elsewhere.
type NotificationRepository interface {
	ListByUser(ctx context.Context, userID int64, limit int) ([]Notification, error)
}
