package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	plants "irrigation-cloud/internal/plants/domain"
)

const defaultNotificationLimit = 50

// NotificationRepository is a Postgres implementation for user notifications.
type NotificationRepository struct {
	db *sql.DB
}

// NewNotificationRepository constructs a repository.
func NewNotificationRepository(db *sql.DB) *NotificationRepository {
	return &NotificationRepository{db: db}
}

// ListByUser returns the newest notifications for a user.
func (r *NotificationRepository) ListByUser(ctx context.Context, userID int64, limit int) ([]plants.Notification, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("notification repo: nil db")
	}
	if limit <= 0 {
		limit = defaultNotificationLimit
	}
	rows, err := r.db.QueryContext(ctx, `
SELECT id, user_id, plant_id, title, message, event_type, is_read, created_at
FROM user_notifications
WHERE user_id = $1
ORDER BY created_at DESC, id DESC
LIMIT $2`, userID, limit)
	if err != nil {
		return nil, plants.Persistence("list notifications", err)
	}
	defer rows.Close()

	var result []plants.Notification
	for rows.Next() {
		var n plants.Notification
		var plantID sql.NullInt64
		var kind string
		if err := rows.Scan(&n.ID, &n.UserID, &plantID, &n.Title, &n.Message, &kind, &n.IsRead, &n.CreatedAt); err != nil {
			return nil, plants.Persistence("scan notification", err)
		}
		if plantID.Valid {
			id := plantID.Int64
			n.PlantID = &id
		}
		n.Kind = plants.EventKind(kind)
		n.CreatedAt = n.CreatedAt.UTC()
		result = append(result, n)
	}
	if err := rows.Err(); err != nil {
		return nil, plants.Persistence("scan notification", err)
	}
	return result, nil
}

func insertNotification(ctx context.Context, tx *sql.Tx, n *plants.Notification) error {
	if n.UserID <= 0 {
		return errors.New("notification: empty user id")
	}
	kind := n.Kind
	if kind == "" {
		kind = plants.EventSystem
	}
	plantID := sql.NullInt64{}
	if n.PlantID != nil {
		plantID = sql.NullInt64{Int64: *n.PlantID, Valid: true}
	}
	var createdAt time.Time
	if err := tx.QueryRowContext(ctx, `
INSERT INTO user_notifications (user_id, plant_id, title, message, event_type, is_read)
VALUES ($1, $2, $3, $4, $5, FALSE)
RETURNING id, created_at`, n.UserID, plantID, n.Title, n.Message, string(kind)).Scan(&n.ID, &createdAt); err != nil {
		return err
	}
	n.Kind = kind
	n.CreatedAt = createdAt.UTC()
	return nil
}
