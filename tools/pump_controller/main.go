package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"irrigation-cloud/internal/actuation"
	pubsub "irrigation-cloud/internal/channel"
	"irrigation-cloud/internal/config"
)

func main() {
	envFile := flag.String("env", ".env", "path to the device env file")
	flag.Parse()

	logger := log.New(os.Stdout, "", log.LstdFlags)
	cfg, err := config.LoadDevice(*envFile)
	if err != nil {
		logger.Fatalf("config error: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	relay, err := actuation.OpenRelay(cfg.RelayPin, cfg.RelayActiveLow)
	if err != nil {
		logger.Fatalf("relay error: %v", err)
	}

	var logs []actuation.ActivityLog
	if cfg.ActivityLogPath != "" {
		fileLog, err := actuation.NewFileLog(cfg.ActivityLogPath)
		if err != nil {
			logger.Fatalf("activity log error: %v", err)
		}
		defer fileLog.Close()
		logs = append(logs, fileLog)
	}
	if cfg.ActivityDBPath != "" {
		store, err := actuation.OpenGormLog(cfg.ActivityDBPath)
		if err != nil {
			logger.Fatalf("activity store error: %v", err)
		}
		defer store.Close()
		logs = append(logs, store)
	}

	executor, err := actuation.NewExecutor(relay, actuation.Identity{HardwareID: cfg.HardwareID, PlantID: cfg.PlantID}, logger, logs...)
	if err != nil {
		logger.Fatalf("executor error: %v", err)
	}

	transportCfg := cfg.Transport.Channel()
	transportCfg.ClientPrefix = "pi_" + cfg.HardwareID
	transport, err := pubsub.Open(ctx, transportCfg, logger)
	if err != nil {
		logger.Printf("transport error: %v", err)
		if err := executor.Shutdown(); err != nil {
			logger.Printf("relay shutdown error: %v", err)
		}
		return
	}
	defer transport.Close()

	logger.Printf("pump controller active: %s", cfg.HardwareID)
	if err := run(ctx, transport, executor, cfg.CommandQueue, logger); err != nil {
		logger.Printf("pump controller error: %v", err)
	}
	logger.Printf("pump controller stopping")
}

// run applies commands until ctx is done, then drives the relay OFF and
// releases it before the caller closes the transport.
func run(ctx context.Context, transport pubsub.Transport, executor *actuation.Executor, queueSize int, logger *log.Logger) error {
	subscriber, err := actuation.NewSubscriber(transport, executor, queueSize, logger)
	if err != nil {
		return errors.Join(err, executor.Shutdown())
	}
	if err := subscriber.Start(ctx); err != nil {
		return errors.Join(err, executor.Shutdown())
	}
	subscriber.Wait()
	return executor.Shutdown()
}
