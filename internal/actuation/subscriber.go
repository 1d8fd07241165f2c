package actuation

import (
	"context"
	"errors"
	"log"
	"sync"

	pubsub "irrigation-cloud/internal/channel"
	"irrigation-cloud/internal/observability/metrics"
	"irrigation-cloud/internal/wire"
)

// Subscriber moves commands from the broker callback onto a single executor
// goroutine. A full queue drops the command.
type Subscriber struct {
	transport pubsub.Transport
	executor  *Executor
	queue     chan []byte
	logger    *log.Logger
	wg        sync.WaitGroup
}

// NewSubscriber constructs a subscriber.
func NewSubscriber(transport pubsub.Transport, executor *Executor, queueSize int, logger *log.Logger) (*Subscriber, error) {
	if transport == nil {
		return nil, errors.New("actuation subscriber: nil transport")
	}
	if executor == nil {
		return nil, errors.New("actuation subscriber: nil executor")
	}
	if queueSize <= 0 {
		queueSize = 32
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Subscriber{
		transport: transport,
		executor:  executor,
		queue:     make(chan []byte, queueSize),
		logger:    logger,
	}, nil
}

// Start subscribes to the command channel. Processing stops when ctx is done.
func (s *Subscriber) Start(ctx context.Context) error {
	sub, err := s.transport.Subscribe(ctx, pubsub.CommandChannel, s.enqueue)
	if err != nil {
		return err
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer func() {
			if err := sub.Unsubscribe(); err != nil {
				s.logger.Printf("actuation subscriber: unsubscribe: %v", err)
			}
		}()
		s.run(ctx)
	}()
	s.logger.Printf("actuation subscriber: listening on %s", pubsub.CommandChannel)
	return nil
}

// Wait blocks until the executor goroutine exits.
func (s *Subscriber) Wait() {
	s.wg.Wait()
}

func (s *Subscriber) enqueue(_ context.Context, payload []byte) {
	select {
	case s.queue <- payload:
	default:
		metrics.IncActuationCommand("dropped")
		s.logger.Printf("actuation subscriber: queue full; dropped command")
	}
}

func (s *Subscriber) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case payload := <-s.queue:
			cmd, err := wire.DecodeCommand(payload)
			if err != nil {
				metrics.IncActuationCommand(ResultInvalid)
				s.logger.Printf("actuation subscriber: %v", err)
				continue
			}
			if _, err := s.executor.Handle(ctx, cmd); err != nil && !errors.Is(err, ErrClosed) {
				s.logger.Printf("actuation subscriber: handle %s: %v", cmd.Action, err)
			}
		}
	}
}
