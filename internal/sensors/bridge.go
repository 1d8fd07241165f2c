package sensors

import (
	"context"
	"errors"
	"io"
	"log"
	"time"

	pubsub "irrigation-cloud/internal/channel"
	"irrigation-cloud/internal/wire"
)

// Source yields moisture samples.
type Source interface {
	Next(ctx context.Context) (Sample, error)
	Close() error
}

// Publisher sends telemetry to the broker.
type Publisher interface {
	Publish(ctx context.Context, channel string, payload []byte) error
}

// Bridge forwards samples from a node sensor to the telemetry channel.
type Bridge struct {
	source     Source
	publisher  Publisher
	hardwareID string
	logger     *log.Logger
	now        func() time.Time
}

// NewBridge constructs a bridge for the node identified by hardwareID.
func NewBridge(source Source, publisher Publisher, hardwareID string, logger *log.Logger) (*Bridge, error) {
	if source == nil {
		return nil, errors.New("moisture bridge: nil source")
	}
	if publisher == nil {
		return nil, errors.New("moisture bridge: nil publisher")
	}
	if hardwareID == "" {
		return nil, errors.New("moisture bridge: empty hardware id")
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Bridge{
		source:     source,
		publisher:  publisher,
		hardwareID: hardwareID,
		logger:     logger,
		now:        func() time.Time { return time.Now().UTC() },
	}, nil
}

// Run publishes samples until ctx is done or the source ends, then closes the
// source. Publish failures are logged and the loop continues.
func (b *Bridge) Run(ctx context.Context) error {
	stop := context.AfterFunc(ctx, func() {
		_ = b.source.Close()
	})
	defer func() {
		if stop() {
			_ = b.source.Close()
		}
	}()

	b.logger.Printf("moisture bridge: active for %s", b.hardwareID)
	for {
		sample, err := b.source.Next(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
		b.publish(ctx, sample)
	}
}

func (b *Bridge) publish(ctx context.Context, sample Sample) {
	payload, err := wire.EncodeTelemetry(wire.Telemetry{
		HardwareID: b.hardwareID,
		Moisture:   sample.Moisture,
		Status:     sample.Status,
		DeviceTime: b.now(),
	})
	if err != nil {
		b.logger.Printf("moisture bridge: encode: %v", err)
		return
	}
	if err := b.publisher.Publish(ctx, pubsub.TelemetryChannel, payload); err != nil {
		b.logger.Printf("moisture bridge: publish: %v", err)
		return
	}
	b.logger.Printf("moisture bridge: published %s: %.1f%% (%s)", b.hardwareID, sample.Moisture, sample.Status)
}
