package metrics

import (
	"context"
	"database/sql"
	"log"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const dbGaugeTimeout = 2 * time.Second

var dbGauges = []struct {
	name  string
	help  string
	query string
}{
	{
		name:  "plants_unbound",
		help:  "Plants without a paired device",
		query: `SELECT COUNT(*) FROM plants WHERE hardware_id IS NULL OR hardware_id = ''`,
	},
	{
		name:  "notifications_unread",
		help:  "Unread user notifications",
		query: `SELECT COUNT(*) FROM user_notifications WHERE is_read = FALSE`,
	},
	{
		name: "pumps_running",
		help: "Plants whose latest pump audit row is ON",
		query: `SELECT COUNT(*) FROM (
	SELECT DISTINCT ON (plant_id) pump_status
	FROM moisture_readings
	WHERE moisture_level IS NULL
	ORDER BY plant_id, recorded_at DESC, id DESC
) latest WHERE pump_status`,
	},
}

func registerDBMetrics(db *sql.DB, logger *log.Logger) {
	for _, gauge := range dbGauges {
		query := gauge.query
		prometheus.MustRegister(prometheus.NewGaugeFunc(
			prometheus.GaugeOpts{Name: metricPrefix + gauge.name, Help: gauge.help},
			func() float64 { return queryCount(db, logger, query) },
		))
	}
}

func queryCount(db *sql.DB, logger *log.Logger, query string) float64 {
	if db == nil {
		return 0
	}
	ctx, cancel := context.WithTimeout(context.Background(), dbGaugeTimeout)
	defer cancel()
	var count int64
	if err := db.QueryRowContext(ctx, query).Scan(&count); err != nil {
		if logger != nil {
			logger.Printf("metrics: gauge query: %v", err)
		}
		return 0
	}
	return float64(max(count, 0))
}
