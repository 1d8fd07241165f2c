package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	SourceSerial = "serial"
	SourceI2C    = "i2c"
)

// Device configures the pump controller and moisture bridge on a node.
type Device struct {
	HardwareID string
	PlantID    int64

	RelayPin       string
	RelayActiveLow bool

	ActivityLogPath string
	ActivityDBPath  string
	CommandQueue    int

	Transport Transport
	Sensor    Sensor
}

// Sensor configures where the bridge reads moisture from.
type Sensor struct {
	Source     string
	SerialPort string
	BaudRate   int
	I2CBus     string
	I2CAddr    uint16
	DryRaw     float64
	WetRaw     float64
	Interval   time.Duration
}

// LoadDevice loads envFile into the environment when it exists, then reads
// the device settings. Variables already set win over the file.
func LoadDevice(envFile string) (Device, error) {
	if envFile == "" {
		envFile = ".env"
	}
	if err := godotenv.Load(envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
		return Device{}, fmt.Errorf("config: load %s: %w", envFile, err)
	}

	cfg := Device{
		HardwareID:      strings.TrimSpace(getenvDefault("HARDWARE_ID", "DEFAULT_NODE")),
		PlantID:         getenvInt64Default("PLANT_ID", 0),
		RelayPin:        getenvDefault("RELAY_PIN", "GPIO27"),
		RelayActiveLow:  getenvBoolDefault("RELAY_ACTIVE_LOW", true),
		ActivityLogPath: getenvDefault("ACTIVITY_LOG", "pump_activity.log"),
		ActivityDBPath:  getenvDefault("ACTIVITY_DB", ""),
		CommandQueue:    getenvIntDefault("COMMAND_QUEUE", 32),
		Transport:       loadTransport("node"),
		Sensor: Sensor{
			Source:     strings.ToLower(getenvDefault("SENSOR_SOURCE", SourceSerial)),
			SerialPort: getenvDefault("SERIAL_PORT", ""),
			BaudRate:   getenvIntDefault("SERIAL_BAUD", 9600),
			I2CBus:     getenvDefault("I2C_BUS", ""),
			I2CAddr:    uint16(getenvIntDefault("I2C_ADDR", 0x48)),
			DryRaw:     getenvFloatDefault("SENSOR_DRY_RAW", 600),
			WetRaw:     getenvFloatDefault("SENSOR_WET_RAW", 250),
			Interval:   getenvDuration("SENSOR_INTERVAL", 5*time.Second),
		},
	}
	return cfg, cfg.Validate()
}

// Validate rejects configurations the device cannot start with.
func (c Device) Validate() error {
	if c.HardwareID == "" {
		return errors.New("config: HARDWARE_ID required")
	}
	if c.CommandQueue <= 0 {
		return errors.New("config: command queue must be positive")
	}
	switch c.Sensor.Source {
	case SourceSerial:
		if c.Sensor.BaudRate <= 0 {
			return errors.New("config: serial baud must be positive")
		}
	case SourceI2C:
		if c.Sensor.DryRaw == c.Sensor.WetRaw {
			return errors.New("config: dry and wet calibration must differ")
		}
	default:
		return fmt.Errorf("config: unknown sensor source %q", c.Sensor.Source)
	}
	return nil
}
