package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadServer_EnvDefaults(t *testing.T) {
	t.Setenv("AUTH_JWT_SECRET", "secret")
	t.Setenv("STORAGE_DRIVER", "memory")
	t.Setenv("CONSUMER_WORKERS", "8")
	t.Setenv("AUTO_WATERING_INTERVAL", "30s")
	t.Setenv("CONFIG_FILE", "")

	cfg, err := LoadServer()
	if err != nil {
		t.Fatalf("load server: %v", err)
	}
	if cfg.StorageDriver != StorageMemory || cfg.ConsumerWorkers != 8 {
		t.Fatalf("unexpected config %+v", cfg)
	}
	if cfg.AutoWatering.Interval != 30*time.Second || !cfg.AutoWatering.Enabled {
		t.Fatalf("unexpected auto watering %+v", cfg.AutoWatering)
	}
	if len(cfg.AuthExempt) != 2 || cfg.AuthExempt[0] != "/healthz" {
		t.Fatalf("unexpected exempt paths %v", cfg.AuthExempt)
	}
}

func TestLoadServer_YAMLOverlay(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "server.yaml")
	data := []byte(`
storage_driver: memory
consumer_queue: 16
transport:
  driver: nats
  url: nats://broker:4222
  connect_timeout: 3s
auto_watering:
  enabled: false
  freshness: 2m
`)
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("AUTH_JWT_SECRET", "secret")
	t.Setenv("CONFIG_FILE", path)

	cfg, err := LoadServer()
	if err != nil {
		t.Fatalf("load server: %v", err)
	}
	if cfg.ConsumerQueue != 16 || cfg.Transport.Driver != "nats" || cfg.Transport.URL != "nats://broker:4222" {
		t.Fatalf("overlay not applied: %+v", cfg)
	}
	if cfg.AutoWatering.Enabled || cfg.AutoWatering.Freshness != 2*time.Minute {
		t.Fatalf("unexpected auto watering %+v", cfg.AutoWatering)
	}
	channelCfg := cfg.Transport.Channel()
	if channelCfg.ConnectTimeout != 3*time.Second || channelCfg.Reconnect.MaxAttempts >= 0 {
		t.Fatalf("unexpected channel config %+v", channelCfg)
	}
}

func TestLoadServer_RequiresSecret(t *testing.T) {
	t.Setenv("AUTH_JWT_SECRET", "")
	t.Setenv("STORAGE_DRIVER", "memory")
	t.Setenv("CONFIG_FILE", "")
	if _, err := LoadServer(); err == nil {
		t.Fatalf("expected error without jwt secret")
	}
}

func TestLoadServer_UnknownStorage(t *testing.T) {
	t.Setenv("AUTH_JWT_SECRET", "secret")
	t.Setenv("STORAGE_DRIVER", "mysql")
	t.Setenv("CONFIG_FILE", "")
	if _, err := LoadServer(); err == nil {
		t.Fatalf("expected error for unknown storage driver")
	}
}

func TestLoadDevice_EnvFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	if err := os.WriteFile(path, []byte("HARDWARE_ID=node-7\nPLANT_ID=7\nSENSOR_SOURCE=i2c\n"), 0o600); err != nil {
		t.Fatalf("write env: %v", err)
	}
	for _, key := range []string{"HARDWARE_ID", "PLANT_ID", "SENSOR_SOURCE"} {
		t.Setenv(key, "")
		os.Unsetenv(key)
	}

	cfg, err := LoadDevice(path)
	if err != nil {
		t.Fatalf("load device: %v", err)
	}
	if cfg.HardwareID != "node-7" || cfg.PlantID != 7 || cfg.Sensor.Source != SourceI2C {
		t.Fatalf("unexpected device config %+v", cfg)
	}
	if cfg.RelayPin != "GPIO27" || !cfg.RelayActiveLow || cfg.Sensor.BaudRate != 9600 {
		t.Fatalf("unexpected defaults %+v", cfg)
	}
}

func TestLoadDevice_MissingFileUsesEnv(t *testing.T) {
	t.Setenv("HARDWARE_ID", "node-3")
	t.Setenv("SENSOR_SOURCE", "serial")
	cfg, err := LoadDevice(filepath.Join(t.TempDir(), "absent.env"))
	if err != nil {
		t.Fatalf("load device: %v", err)
	}
	if cfg.HardwareID != "node-3" {
		t.Fatalf("expected env hardware id, got %q", cfg.HardwareID)
	}
}
