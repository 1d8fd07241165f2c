package channel

import (
	"context"
	"errors"
	"log"
	"sync"

	pubsub "irrigation-cloud/internal/channel"
	"irrigation-cloud/internal/observability/metrics"
	telemetry "irrigation-cloud/internal/telemetry/domain"
)

const consumerName = "moisture-data"

// Ingester handles one telemetry payload.
type Ingester interface {
	Ingest(ctx context.Context, payload []byte) telemetry.Outcome
}

// Consumer feeds telemetry from the broker into a bounded queue drained by
// a fixed pool of workers.
type Consumer struct {
	transport pubsub.Transport
	ingestor  Ingester
	workers   int
	queue     chan []byte
	logger    *log.Logger
	wg        sync.WaitGroup
}

// NewConsumer constructs a consumer.
func NewConsumer(transport pubsub.Transport, ingestor Ingester, workers, queueSize int, logger *log.Logger) (*Consumer, error) {
	if transport == nil {
		return nil, errors.New("telemetry consumer: nil transport")
	}
	if ingestor == nil {
		return nil, errors.New("telemetry consumer: nil ingestor")
	}
	if workers <= 0 {
		workers = 4
	}
	if queueSize <= 0 {
		queueSize = 256
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Consumer{
		transport: transport,
		ingestor:  ingestor,
		workers:   workers,
		queue:     make(chan []byte, queueSize),
		logger:    logger,
	}, nil
}

// Start subscribes and launches the workers. They stop when ctx is done.
func (c *Consumer) Start(ctx context.Context) error {
	sub, err := c.transport.Subscribe(ctx, pubsub.TelemetryChannel, c.enqueue)
	if err != nil {
		return err
	}
	for i := 0; i < c.workers; i++ {
		c.wg.Add(1)
		go func() {
			defer c.wg.Done()
			c.work(ctx)
		}()
	}
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		<-ctx.Done()
		if err := sub.Unsubscribe(); err != nil {
			c.logger.Printf("telemetry consumer: unsubscribe: %v", err)
		}
	}()
	c.logger.Printf("telemetry consumer: subscribed to %s with %d workers", pubsub.TelemetryChannel, c.workers)
	return nil
}

// Wait blocks until every worker has exited.
func (c *Consumer) Wait() {
	c.wg.Wait()
}

func (c *Consumer) enqueue(_ context.Context, payload []byte) {
	select {
	case c.queue <- payload:
		metrics.SetConsumerQueueDepth(consumerName, len(c.queue))
	default:
		metrics.IncIngestError(string(telemetry.DropQueueFull))
		c.logger.Printf("telemetry consumer: queue full; dropped %d bytes", len(payload))
	}
}

func (c *Consumer) work(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case payload := <-c.queue:
			metrics.SetConsumerQueueDepth(consumerName, len(c.queue))
			c.ingestor.Ingest(ctx, payload)
		}
	}
}
