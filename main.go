package main

import (
	"context"
	"database/sql"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"irrigation-cloud/internal/audit"
	"irrigation-cloud/internal/auth"
	pubsub "irrigation-cloud/internal/channel"
	commandsapp "irrigation-cloud/internal/commands/application"
	commandshttp "irrigation-cloud/internal/commands/interfaces/http"
	"irrigation-cloud/internal/config"
	"irrigation-cloud/internal/observability/metrics"
	plantsapp "irrigation-cloud/internal/plants/application"
	plants "irrigation-cloud/internal/plants/domain"
	"irrigation-cloud/internal/plants/infrastructure/memory"
	plantspostgres "irrigation-cloud/internal/plants/infrastructure/postgres"
	"irrigation-cloud/internal/registry"
	telemetryapp "irrigation-cloud/internal/telemetry/application"
	telemetrychannel "irrigation-cloud/internal/telemetry/interfaces/channel"
	telemetryhttp "irrigation-cloud/internal/telemetry/interfaces/http"
)

func main() {
	logger := log.New(os.Stdout, "", log.LstdFlags)
	cfg, err := config.LoadServer()
	if err != nil {
		logger.Fatalf("config error: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := openStorage(cfg, logger)
	if err != nil {
		logger.Fatalf("storage error: %v", err)
	}
	defer store.Close()
	metrics.Init(store.db, logger)

	transport, err := pubsub.Open(ctx, cfg.Transport.Channel(), logger)
	if err != nil {
		logger.Fatalf("transport error: %v", err)
	}
	defer transport.Close()

	resolver, err := registry.NewResolver(store.plants, logger)
	if err != nil {
		logger.Fatalf("resolver error: %v", err)
	}
	ingestor, err := telemetryapp.NewIngestor(resolver, store.readings, store.plants, logger)
	if err != nil {
		logger.Fatalf("ingestor error: %v", err)
	}
	if _, err := ingestor.Reconcile(ctx); err != nil {
		logger.Printf("startup reconcile error: %v", err)
	}
	go ingestor.RunReconciler(ctx, cfg.ReconcileInterval)

	consumer, err := telemetrychannel.NewConsumer(transport, ingestor, cfg.ConsumerWorkers, cfg.ConsumerQueue, logger)
	if err != nil {
		logger.Fatalf("telemetry consumer error: %v", err)
	}
	if err := consumer.Start(ctx); err != nil {
		logger.Fatalf("telemetry subscribe error: %v", err)
	}

	dispatcher, err := commandsapp.NewDispatcher(store.plants, store.readings, transport, logger)
	if err != nil {
		logger.Fatalf("dispatcher error: %v", err)
	}
	if cfg.AutoWatering.Enabled {
		autoWatering, err := commandsapp.NewAutoWatering(store.plants, store.readings, dispatcher, cfg.AutoWatering.Freshness, logger)
		if err != nil {
			logger.Fatalf("auto watering error: %v", err)
		}
		go func() {
			ticker := time.NewTicker(cfg.AutoWatering.Interval)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case tick := <-ticker.C:
					if err := autoWatering.Tick(ctx, tick.UTC()); err != nil {
						logger.Printf("auto watering tick error: %v", err)
					}
				}
			}
		}()
	}

	plantService, err := plantsapp.NewService(store.plants, logger)
	if err != nil {
		logger.Fatalf("plant service error: %v", err)
	}
	plantHandler, err := commandshttp.NewHandler(dispatcher, plantService, store.readings, store.notifications, store.audit, logger)
	if err != nil {
		logger.Fatalf("plant handler error: %v", err)
	}
	ingestHandler, err := telemetryhttp.NewIngestHandler(ingestor, logger)
	if err != nil {
		logger.Fatalf("ingest handler error: %v", err)
	}

	policy := auth.NewDefaultPolicy(cfg.AuthExempt, []string{"/ingest/"})
	authMiddleware := auth.NewMiddleware([]byte(cfg.JWTSecret), policy)
	ingestAuth := auth.NewIngestAuthMiddleware([]byte(cfg.IngestSecret), cfg.IngestMaxSkew)

	mux := http.NewServeMux()
	mux.Handle("/ingest/telemetry", ingestAuth.Wrap(ingestHandler))
	mux.Handle("/api/v1/plants/", plantHandler)
	mux.Handle("/api/v1/notifications", plantHandler)
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	server := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           loggingMiddleware(authMiddleware.Wrap(mux), logger),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Printf("http shutdown error: %v", err)
		}
	}()

	logger.Printf("http listening on %s (storage=%s transport=%s)", cfg.HTTPAddr, cfg.StorageDriver, cfg.Transport.Driver)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Fatalf("http error: %v", err)
	}
	consumer.Wait()
	logger.Printf("shutdown complete")
}

type storage struct {
	db            *sql.DB
	plants        plants.PlantRepository
	readings      plants.ReadingRepository
	notifications plants.NotificationRepository
	audit         audit.Logger
}

func openStorage(cfg config.Server, logger *log.Logger) (*storage, error) {
	if strings.EqualFold(cfg.StorageDriver, config.StorageMemory) {
		logger.Printf("storage: using in-memory store; data is lost on exit")
		store := memory.NewStore()
		return &storage{
			plants:        store,
			readings:      store,
			notifications: store,
			audit:         audit.NewMemoryLogger(),
		}, nil
	}

	db, err := sql.Open("pgx", cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &storage{
		db:            db,
		plants:        plantspostgres.NewPlantRepository(db),
		readings:      plantspostgres.NewReadingRepository(db),
		notifications: plantspostgres.NewNotificationRepository(db),
		audit:         audit.NewRepository(db),
	}, nil
}

func (s *storage) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func loggingMiddleware(next http.Handler, logger *log.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		resp := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(resp, r)
		logger.Printf("http %s %s %d %s", r.Method, r.URL.Path, resp.status, time.Since(start))
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}
