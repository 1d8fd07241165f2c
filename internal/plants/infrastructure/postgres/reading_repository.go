package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	plants "irrigation-cloud/internal/plants/domain"
)

// insertReadingSQL keeps recorded_at strictly increasing per plant even when the
// server clock steps backwards.
const insertReadingSQL = `
INSERT INTO moisture_readings (plant_id, moisture_level, pump_status, is_automated, recorded_at)
VALUES (
	$1, $2, $3, $4,
	GREATEST(
		clock_timestamp(),
		COALESCE(
			(SELECT MAX(recorded_at) FROM moisture_readings WHERE plant_id = $1) + INTERVAL '1 microsecond',
			clock_timestamp()
		)
	)
)
RETURNING id, recorded_at`

// ReadingRepository is a Postgres implementation for moisture readings.
type ReadingRepository struct {
	db *sql.DB
}

// NewReadingRepository constructs a repository.
func NewReadingRepository(db *sql.DB) *ReadingRepository {
	return &ReadingRepository{db: db}
}

// RecordTelemetry inserts a sensor reading and refreshes the plant cache in one transaction.
func (r *ReadingRepository) RecordTelemetry(ctx context.Context, reading *plants.MoistureReading) error {
	if r == nil || r.db == nil {
		return errors.New("reading repo: nil db")
	}
	if reading == nil || reading.MoistureLevel == nil {
		return errors.New("reading repo: telemetry reading requires a moisture level")
	}
	if err := reading.Validate(); err != nil {
		return err
	}
	return withTx(ctx, r.db, "record telemetry", func(tx *sql.Tx) error {
		if err := insertReading(ctx, tx, reading); err != nil {
			return err
		}
		// The cache only moves forward; a transaction that commits late with an
		// older reading leaves the newer value in place.
		result, err := tx.ExecContext(ctx, `
UPDATE plants
SET last_moisture = $1, last_update = $2
WHERE id = $3 AND (last_update IS NULL OR last_update <= $2)`, *reading.MoistureLevel, reading.RecordedAt, reading.PlantID)
		if err != nil {
			return err
		}
		if n, _ := result.RowsAffected(); n > 0 {
			return nil
		}
		var exists bool
		if err := tx.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM plants WHERE id = $1)`, reading.PlantID).Scan(&exists); err != nil {
			return err
		}
		if !exists {
			return plants.ErrPlantNotFound
		}
		return nil
	})
}

// RecordPumpEvent inserts a pump audit row and its notification in one transaction.
func (r *ReadingRepository) RecordPumpEvent(ctx context.Context, reading *plants.MoistureReading, notification *plants.Notification) error {
	if r == nil || r.db == nil {
		return errors.New("reading repo: nil db")
	}
	if reading == nil {
		return errors.New("reading repo: nil reading")
	}
	if err := reading.Validate(); err != nil {
		return err
	}
	return withTx(ctx, r.db, "record pump event", func(tx *sql.Tx) error {
		if err := insertReading(ctx, tx, reading); err != nil {
			return err
		}
		if notification == nil {
			return nil
		}
		return insertNotification(ctx, tx, notification)
	})
}

// LatestPumpEvent returns the newest pump-state row for a plant.
func (r *ReadingRepository) LatestPumpEvent(ctx context.Context, plantID int64) (*plants.MoistureReading, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("reading repo: nil db")
	}
	row := r.db.QueryRowContext(ctx, `
SELECT id, plant_id, moisture_level, pump_status, is_automated, recorded_at
FROM moisture_readings
WHERE plant_id = $1 AND moisture_level IS NULL
ORDER BY recorded_at DESC, id DESC
LIMIT 1`, plantID)
	reading, err := scanReading(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, plants.Persistence("latest pump event", err)
	}
	return reading, nil
}

// ListByPlant returns readings for a plant in [from, to), oldest first.
func (r *ReadingRepository) ListByPlant(ctx context.Context, plantID int64, from, to time.Time) ([]plants.MoistureReading, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("reading repo: nil db")
	}
	rows, err := r.db.QueryContext(ctx, `
SELECT id, plant_id, moisture_level, pump_status, is_automated, recorded_at
FROM moisture_readings
WHERE plant_id = $1 AND recorded_at >= $2 AND recorded_at < $3
ORDER BY recorded_at ASC, id ASC`, plantID, from.UTC(), to.UTC())
	if err != nil {
		return nil, plants.Persistence("list readings", err)
	}
	defer rows.Close()

	var result []plants.MoistureReading
	for rows.Next() {
		reading, err := scanReading(rows)
		if err != nil {
			return nil, plants.Persistence("scan reading", err)
		}
		result = append(result, *reading)
	}
	if err := rows.Err(); err != nil {
		return nil, plants.Persistence("scan reading", err)
	}
	return result, nil
}

func insertReading(ctx context.Context, tx *sql.Tx, reading *plants.MoistureReading) error {
	level := sql.NullFloat64{}
	if reading.MoistureLevel != nil {
		level = sql.NullFloat64{Float64: *reading.MoistureLevel, Valid: true}
	}
	var recordedAt time.Time
	if err := tx.QueryRowContext(ctx, insertReadingSQL,
		reading.PlantID, level, reading.PumpStatus, reading.IsAutomated,
	).Scan(&reading.ID, &recordedAt); err != nil {
		return err
	}
	reading.RecordedAt = recordedAt.UTC()
	return nil
}

func scanReading(row rowScanner) (*plants.MoistureReading, error) {
	var reading plants.MoistureReading
	var level sql.NullFloat64
	if err := row.Scan(
		&reading.ID,
		&reading.PlantID,
		&level,
		&reading.PumpStatus,
		&reading.IsAutomated,
		&reading.RecordedAt,
	); err != nil {
		return nil, err
	}
	if level.Valid {
		value := level.Float64
		reading.MoistureLevel = &value
	}
	reading.RecordedAt = reading.RecordedAt.UTC()
	return &reading, nil
}
