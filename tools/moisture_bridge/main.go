package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	pubsub "irrigation-cloud/internal/channel"
	"irrigation-cloud/internal/config"
	"irrigation-cloud/internal/sensors"
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

	source, err := openSource(cfg.Sensor, logger)
	if err != nil {
		logger.Fatalf("sensor error: %v", err)
	}

	transportCfg := cfg.Transport.Channel()
	transportCfg.ClientPrefix = "bridge_" + cfg.HardwareID
	transport, err := pubsub.Open(ctx, transportCfg, logger)
	if err != nil {
		_ = source.Close()
		logger.Fatalf("transport error: %v", err)
	}
	defer transport.Close()

	bridge, err := sensors.NewBridge(source, transport, cfg.HardwareID, logger)
	if err != nil {
		logger.Fatalf("bridge error: %v", err)
	}
	if err := bridge.Run(ctx); err != nil {
		logger.Printf("bridge stopped: %v", err)
	}
}

func openSource(cfg config.Sensor, logger *log.Logger) (sensors.Source, error) {
	if cfg.Source == config.SourceI2C {
		return sensors.OpenI2C(cfg.I2CBus, cfg.I2CAddr, sensors.Calibration{DryRaw: cfg.DryRaw, WetRaw: cfg.WetRaw}, cfg.Interval)
	}
	return sensors.OpenSerial(cfg.SerialPort, cfg.BaudRate, logger)
}
