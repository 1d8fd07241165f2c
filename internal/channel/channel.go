// Package channel carries telemetry and pump commands over a pub/sub broker.
package channel

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"

	"irrigation-cloud/internal/retry"
)

const (
	// TelemetryChannel carries sensor readings from bridges to the ingestor.
	TelemetryChannel = "moisture-data"
	// CommandChannel carries pump commands from the dispatcher to devices.
	CommandChannel = "pump-commands"

	DefaultConnectTimeout = 10 * time.Second
)

var (
	// ErrTransportUnavailable indicates the broker could not be reached in time.
	ErrTransportUnavailable = errors.New("channel: transport unavailable")
	// ErrClosed is returned after Close.
	ErrClosed = errors.New("channel: transport closed")
)

// Handler receives one payload. It runs on a transport delivery goroutine.
type Handler func(ctx context.Context, payload []byte)

// Subscription is an active channel subscription.
type Subscription interface {
	Unsubscribe() error
}

// Transport publishes to and subscribes on named channels.
type Transport interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string, handler Handler) (Subscription, error)
	Close() error
}

// Driver names.
const (
	DriverMQTT   = "mqtt"
	DriverNATS   = "nats"
	DriverMemory = "memory"
)

// Config describes a broker connection.
type Config struct {
	Driver         string
	URL            string
	ClientPrefix   string
	TopicPrefix    string
	Username       string
	Password       string
	ConnectTimeout time.Duration
	Reconnect      retry.Config
}

func (c Config) withDefaults() Config {
	if c.Driver == "" {
		c.Driver = DriverMQTT
	}
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = DefaultConnectTimeout
	}
	if c.ClientPrefix == "" {
		c.ClientPrefix = "irrigation"
	}
	if c.Reconnect.InitialDelay == 0 && c.Reconnect.MaxAttempts == 0 {
		c.Reconnect = retry.Reconnect()
	}
	return c
}

// Open connects the configured driver. A connect timeout yields ErrTransportUnavailable.
func Open(ctx context.Context, cfg Config, logger *log.Logger) (Transport, error) {
	cfg = cfg.withDefaults()
	if logger == nil {
		logger = log.Default()
	}
	switch strings.ToLower(cfg.Driver) {
	case DriverMQTT:
		return DialMQTT(ctx, cfg, logger)
	case DriverNATS:
		return DialNATS(ctx, cfg, logger)
	case DriverMemory:
		return NewMemory(), nil
	default:
		return nil, fmt.Errorf("channel: unknown driver %q", cfg.Driver)
	}
}

// NewClientID returns a unique broker client id.
func NewClientID(prefix string) string {
	if prefix == "" {
		prefix = "irrigation"
	}
	return prefix + "-" + uuid.NewString()
}

func unavailable(op string, err error) error {
	if err == nil {
		return fmt.Errorf("%w: %s", ErrTransportUnavailable, op)
	}
	return fmt.Errorf("%w: %s: %v", ErrTransportUnavailable, op, err)
}

func topicFor(prefix, channel string) string {
	prefix = strings.Trim(prefix, "/")
	if prefix == "" {
		return channel
	}
	return prefix + "/" + channel
}
