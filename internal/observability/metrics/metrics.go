package metrics

import (
	"database/sql"
	"log"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	metricPrefix = "irrigation_"

	resultSuccess = "success"
	resultError   = "error"

	ingestResultPersisted = "persisted"
	ingestResultDropped   = "dropped"

	commandResultPublished     = "published"
	commandResultPublishFailed = "publish_failed"
	commandResultPersistFailed = "persist_failed"
	commandResultUnauthorized  = "unauthorized"
	commandResultNotFound      = "not_found"
)

var (
	registerOnce sync.Once

	ingestRequests *prometheus.CounterVec
	ingestErrors   *prometheus.CounterVec
	ingestLatency  *prometheus.HistogramVec

	consumerLag   *prometheus.GaugeVec
	consumerQueue *prometheus.GaugeVec

	commandRequests prometheus.Counter
	commandResults  *prometheus.CounterVec

	autoWateringDecisions *prometheus.CounterVec
	reconcileTotal        *prometheus.CounterVec

	exportTotal   *prometheus.CounterVec
	exportLatency *prometheus.HistogramVec

	transportReconnects *prometheus.CounterVec

	actuationCommands *prometheus.CounterVec
)

// Init registers observability metrics and, when db is set, DB-backed gauges.
func Init(db *sql.DB, logger *log.Logger) {
	registerOnce.Do(func() {
		ingestRequests = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "ingest_messages_total",
				Help: "Total telemetry messages by outcome",
			},
			[]string{"result"},
		)
		ingestErrors = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "ingest_drops_total",
				Help: "Total dropped telemetry messages by reason",
			},
			[]string{"reason"},
		)
		ingestLatency = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "ingest_latency_seconds",
				Help:    "Telemetry ingest latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"result"},
		)

		consumerLag = prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: metricPrefix + "consumer_lag_seconds",
				Help: "Delay between device timestamp and processing in seconds",
			},
			[]string{"consumer"},
		)
		consumerQueue = prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: metricPrefix + "consumer_queue_depth",
				Help: "Messages waiting in a consumer queue",
			},
			[]string{"consumer"},
		)

		commandRequests = prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: metricPrefix + "command_requests_total",
				Help: "Total pump dispatch requests",
			},
		)
		commandResults = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "command_results_total",
				Help: "Total pump dispatch results by status",
			},
			[]string{"status"},
		)

		autoWateringDecisions = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "auto_watering_decisions_total",
				Help: "Automatic watering decisions by outcome",
			},
			[]string{"decision"},
		)
		reconcileTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "reconcile_runs_total",
				Help: "Latest-moisture reconcile runs by result",
			},
			[]string{"result"},
		)

		exportTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "readings_export_total",
				Help: "Total readings export operations by format and result",
			},
			[]string{"format", "result"},
		)
		exportLatency = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "readings_export_latency_seconds",
				Help:    "Readings export latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"format", "result"},
		)

		transportReconnects = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "transport_reconnects_total",
				Help: "Broker reconnect attempts by driver and result",
			},
			[]string{"driver", "result"},
		)

		actuationCommands = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "actuation_commands_total",
				Help: "Pump commands handled on the device by result",
			},
			[]string{"result"},
		)

		prometheus.MustRegister(
			ingestRequests,
			ingestErrors,
			ingestLatency,
			consumerLag,
			consumerQueue,
			commandRequests,
			commandResults,
			autoWateringDecisions,
			reconcileTotal,
			exportTotal,
			exportLatency,
			transportReconnects,
			actuationCommands,
		)

		if db != nil {
			registerDBMetrics(db, logger)
		}
	})
}

// ObserveIngest records ingest duration and outcome.
func ObserveIngest(result string, duration time.Duration) {
	if result == "" {
		result = ingestResultPersisted
	}
	if ingestRequests != nil {
		ingestRequests.WithLabelValues(result).Inc()
	}
	if ingestLatency != nil {
		ingestLatency.WithLabelValues(result).Observe(duration.Seconds())
	}
}

// IncIngestError increments the drop counter.
func IncIngestError(reason string) {
	if reason == "" {
		reason = "unknown"
	}
	if ingestErrors != nil {
		ingestErrors.WithLabelValues(reason).Inc()
	}
}

// ObserveConsumerLag sets consumer lag in seconds.
func ObserveConsumerLag(consumer string, lag time.Duration) {
	if consumer == "" {
		consumer = "unknown"
	}
	if lag < 0 {
		lag = 0
	}
	if consumerLag != nil {
		consumerLag.WithLabelValues(consumer).Set(lag.Seconds())
	}
}

// SetConsumerQueueDepth sets the number of queued messages.
func SetConsumerQueueDepth(consumer string, depth int) {
	if consumer == "" {
		consumer = "unknown"
	}
	if consumerQueue != nil {
		consumerQueue.WithLabelValues(consumer).Set(float64(depth))
	}
}

// IncCommandIssued increments the dispatch request counter.
func IncCommandIssued() {
	if commandRequests != nil {
		commandRequests.Inc()
	}
}

// IncCommandResult increments the dispatch result counter.
func IncCommandResult(status string) {
	if status == "" {
		status = "unknown"
	}
	if commandResults != nil {
		commandResults.WithLabelValues(status).Inc()
	}
}

// IncAutoWateringDecision counts one automatic watering decision.
func IncAutoWateringDecision(decision string) {
	if decision == "" {
		decision = "unknown"
	}
	if autoWateringDecisions != nil {
		autoWateringDecisions.WithLabelValues(decision).Inc()
	}
}

// IncReconcile counts one reconcile run.
func IncReconcile(result string) {
	if result == "" {
		result = resultSuccess
	}
	if reconcileTotal != nil {
		reconcileTotal.WithLabelValues(result).Inc()
	}
}

// ObserveExport records export latency and result.
func ObserveExport(format, result string, duration time.Duration) {
	if format == "" {
		format = "unknown"
	}
	if result == "" {
		result = resultSuccess
	}
	if exportTotal != nil {
		exportTotal.WithLabelValues(format, result).Inc()
	}
	if exportLatency != nil {
		exportLatency.WithLabelValues(format, result).Observe(duration.Seconds())
	}
}

// IncTransportReconnect counts a reconnect attempt.
func IncTransportReconnect(driver, result string) {
	if driver == "" {
		driver = "unknown"
	}
	if result == "" {
		result = resultSuccess
	}
	if transportReconnects != nil {
		transportReconnects.WithLabelValues(driver, result).Inc()
	}
}

// IncActuationCommand counts a command handled by the device executor.
func IncActuationCommand(result string) {
	if result == "" {
		result = "unknown"
	}
	if actuationCommands != nil {
		actuationCommands.WithLabelValues(result).Inc()
	}
}

// Exported constants for callers.
const (
	ResultSuccess = resultSuccess
	ResultError   = resultError

	IngestResultPersisted = ingestResultPersisted
	IngestResultDropped   = ingestResultDropped

	CommandResultPublished     = commandResultPublished
	CommandResultPublishFailed = commandResultPublishFailed
	CommandResultPersistFailed = commandResultPersistFailed
	CommandResultUnauthorized  = commandResultUnauthorized
	CommandResultNotFound      = commandResultNotFound
)
