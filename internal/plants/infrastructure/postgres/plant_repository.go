package postgres

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	plants "irrigation-cloud/internal/plants/domain"
)

const plantColumns = `id, user_id, name, location, moisture_threshold, hardware_id, last_moisture, last_update, created_at`

// PlantRepository is a Postgres implementation for plants.
type PlantRepository struct {
	db *sql.DB
}

// NewPlantRepository constructs a repository.
func NewPlantRepository(db *sql.DB) *PlantRepository {
	return &PlantRepository{db: db}
}

// Get loads a plant by id.
func (r *PlantRepository) Get(ctx context.Context, id int64) (*plants.Plant, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("plant repo: nil db")
	}
	row := r.db.QueryRowContext(ctx, `
SELECT `+plantColumns+`
FROM plants
WHERE id = $1`, id)
	plant, err := scanPlant(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, plants.Persistence("get plant", err)
	}
	return plant, nil
}

// FindByHardwareID returns plants bound to a hardware id, oldest first.
func (r *PlantRepository) FindByHardwareID(ctx context.Context, hardwareID string) ([]plants.Plant, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("plant repo: nil db")
	}
	rows, err := r.db.QueryContext(ctx, `
SELECT `+plantColumns+`
FROM plants
WHERE hardware_id = $1
ORDER BY id ASC`, hardwareID)
	if err != nil {
		return nil, plants.Persistence("find by hardware id", err)
	}
	return collectPlants(rows)
}

// ListBound returns every plant paired with a device.
func (r *PlantRepository) ListBound(ctx context.Context) ([]plants.Plant, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("plant repo: nil db")
	}
	rows, err := r.db.QueryContext(ctx, `
SELECT `+plantColumns+`
FROM plants
WHERE hardware_id IS NOT NULL AND hardware_id <> ''
ORDER BY id ASC`)
	if err != nil {
		return nil, plants.Persistence("list bound plants", err)
	}
	return collectPlants(rows)
}

// Create inserts a plant and fills its id.
func (r *PlantRepository) Create(ctx context.Context, plant *plants.Plant) error {
	if r == nil || r.db == nil {
		return errors.New("plant repo: nil db")
	}
	if plant == nil {
		return errors.New("plant repo: nil plant")
	}
	if err := plant.Validate(); err != nil {
		return err
	}
	var createdAt time.Time
	err := r.db.QueryRowContext(ctx, `
INSERT INTO plants (user_id, name, location, moisture_threshold, hardware_id)
VALUES ($1, $2, $3, $4, $5)
RETURNING id, created_at`,
		plant.UserID, plant.Name, plant.Location, plant.MoistureThreshold, nullString(plant.HardwareID),
	).Scan(&plant.ID, &createdAt)
	if err != nil {
		return plants.Persistence("create plant", err)
	}
	plant.CreatedAt = createdAt.UTC()
	return nil
}

// UpdateThreshold stores the new threshold and its notification atomically.
func (r *PlantRepository) UpdateThreshold(ctx context.Context, plantID int64, threshold float64, notification plants.Notification) error {
	if r == nil || r.db == nil {
		return errors.New("plant repo: nil db")
	}
	if err := plants.ValidateThreshold(threshold); err != nil {
		return err
	}
	return r.withTx(ctx, "update threshold", func(tx *sql.Tx) error {
		result, err := tx.ExecContext(ctx, `
UPDATE plants SET moisture_threshold = $1 WHERE id = $2`, threshold, plantID)
		if err != nil {
			return err
		}
		if n, _ := result.RowsAffected(); n == 0 {
			return plants.ErrPlantNotFound
		}
		return insertNotification(ctx, tx, &notification)
	})
}

// BindHardware records a hardware id and its notification atomically.
func (r *PlantRepository) BindHardware(ctx context.Context, plantID int64, hardwareID string, notification plants.Notification) error {
	if r == nil || r.db == nil {
		return errors.New("plant repo: nil db")
	}
	return r.withTx(ctx, "bind hardware", func(tx *sql.Tx) error {
		result, err := tx.ExecContext(ctx, `
UPDATE plants SET hardware_id = $1 WHERE id = $2`, nullString(strings.TrimSpace(hardwareID)), plantID)
		if err != nil {
			return err
		}
		if n, _ := result.RowsAffected(); n == 0 {
			return plants.ErrPlantNotFound
		}
		return insertNotification(ctx, tx, &notification)
	})
}

// Delete removes a plant; readings and notifications cascade in the schema.
func (r *PlantRepository) Delete(ctx context.Context, id int64) error {
	if r == nil || r.db == nil {
		return errors.New("plant repo: nil db")
	}
	result, err := r.db.ExecContext(ctx, `DELETE FROM plants WHERE id = $1`, id)
	if err != nil {
		return plants.Persistence("delete plant", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return plants.ErrPlantNotFound
	}
	return nil
}

// ReconcileLatest rewrites cached latest moisture values that drifted from the readings table.
func (r *PlantRepository) ReconcileLatest(ctx context.Context) (int, error) {
	if r == nil || r.db == nil {
		return 0, errors.New("plant repo: nil db")
	}
	result, err := r.db.ExecContext(ctx, `
UPDATE plants p
SET last_moisture = latest.moisture_level, last_update = latest.recorded_at
FROM (
	SELECT DISTINCT ON (plant_id) plant_id, moisture_level, recorded_at
	FROM moisture_readings
	WHERE moisture_level IS NOT NULL
	ORDER BY plant_id, recorded_at DESC, id DESC
) latest
WHERE p.id = latest.plant_id
	AND (p.last_update IS DISTINCT FROM latest.recorded_at
		OR p.last_moisture IS DISTINCT FROM latest.moisture_level)`)
	if err != nil {
		return 0, plants.Persistence("reconcile latest", err)
	}
	count, _ := result.RowsAffected()
	return int(count), nil
}

func (r *PlantRepository) withTx(ctx context.Context, op string, fn func(tx *sql.Tx) error) error {
	return withTx(ctx, r.db, op, fn)
}

func withTx(ctx context.Context, db *sql.DB, op string, fn func(tx *sql.Tx) error) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return plants.Persistence(op, err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		if errors.Is(err, plants.ErrPlantNotFound) {
			return err
		}
		return plants.Persistence(op, err)
	}
	if err := tx.Commit(); err != nil {
		return plants.Persistence(op, err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPlant(row rowScanner) (*plants.Plant, error) {
	var plant plants.Plant
	var hardwareID sql.NullString
	var lastMoisture sql.NullFloat64
	var lastUpdate sql.NullTime
	if err := row.Scan(
		&plant.ID,
		&plant.UserID,
		&plant.Name,
		&plant.Location,
		&plant.MoistureThreshold,
		&hardwareID,
		&lastMoisture,
		&lastUpdate,
		&plant.CreatedAt,
	); err != nil {
		return nil, err
	}
	if hardwareID.Valid {
		plant.HardwareID = hardwareID.String
	}
	if lastMoisture.Valid {
		value := lastMoisture.Float64
		plant.LastMoisture = &value
	}
	if lastUpdate.Valid {
		plant.LastUpdate = lastUpdate.Time.UTC()
	}
	plant.CreatedAt = plant.CreatedAt.UTC()
	return &plant, nil
}

func collectPlants(rows *sql.Rows) ([]plants.Plant, error) {
	defer rows.Close()
	var result []plants.Plant
	for rows.Next() {
		plant, err := scanPlant(rows)
		if err != nil {
			return nil, plants.Persistence("scan plant", err)
		}
		result = append(result, *plant)
	}
	if err := rows.Err(); err != nil {
		return nil, plants.Persistence("scan plant", err)
	}
	return result, nil
}

func nullString(value string) sql.NullString {
	if value == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: value, Valid: true}
}
