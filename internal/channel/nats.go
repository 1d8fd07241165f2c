package channel

import (
	"context"
	"errors"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/nats-io/nats.go"

	"irrigation-cloud/internal/observability/metrics"
	"irrigation-cloud/internal/retry"
)

// NATSTransport is a Transport over NATS core subjects. The client library
// restores subscriptions after reconnect; backoff follows cfg.Reconnect.
type NATSTransport struct {
	cfg    Config
	logger *log.Logger
	conn   *nats.Conn

	mu     sync.Mutex
	closed bool
}

// DialNATS connects within cfg.ConnectTimeout.
func DialNATS(ctx context.Context, cfg Config, logger *log.Logger) (*NATSTransport, error) {
	cfg = cfg.withDefaults()
	if cfg.URL == "" {
		return nil, errors.New("channel: nats url required")
	}
	if logger == nil {
		logger = log.Default()
	}
	t := &NATSTransport{cfg: cfg, logger: logger}

	opts := []nats.Option{
		nats.Name(NewClientID(cfg.ClientPrefix)),
		nats.Timeout(cfg.ConnectTimeout),
		nats.MaxReconnects(-1),
		nats.CustomReconnectDelay(func(attempts int) time.Duration {
			return retry.Delay(cfg.Reconnect, attempts)
		}),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				t.logger.Printf("channel: nats disconnected: %v", err)
			}
		}),
		nats.ReconnectHandler(func(conn *nats.Conn) {
			metrics.IncTransportReconnect(DriverNATS, metrics.ResultSuccess)
			t.logger.Printf("channel: nats reconnected to %s", conn.ConnectedUrl())
		}),
	}
	if cfg.Username != "" {
		opts = append(opts, nats.UserInfo(cfg.Username, cfg.Password))
	}

	connectCtx, cancel := context.WithTimeout(ctx, cfg.ConnectTimeout)
	defer cancel()
	done := make(chan error, 1)
	go func() {
		conn, err := nats.Connect(cfg.URL, opts...)
		if err != nil {
			done <- err
			return
		}
		t.mu.Lock()
		t.conn = conn
		t.mu.Unlock()
		done <- nil
	}()

	select {
	case err := <-done:
		if err != nil {
			return nil, unavailable("connect", err)
		}
	case <-connectCtx.Done():
		return nil, unavailable("connect", connectCtx.Err())
	}
	logger.Printf("channel: nats connected to %s", cfg.URL)
	return t, nil
}

func (t *NATSTransport) subject(channel string) string {
	return strings.ReplaceAll(topicFor(t.cfg.TopicPrefix, channel), "/", ".")
}

func (t *NATSTransport) current() (*nats.Conn, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil, ErrClosed
	}
	if t.conn == nil {
		return nil, unavailable("publish", errors.New("not connected"))
	}
	return t.conn, nil
}

// Publish sends payload on the channel subject.
func (t *NATSTransport) Publish(_ context.Context, channel string, payload []byte) error {
	conn, err := t.current()
	if err != nil {
		return err
	}
	if err := conn.Publish(t.subject(channel), payload); err != nil {
		return unavailable("publish", err)
	}
	return nil
}

// Subscribe registers handler on the channel subject.
func (t *NATSTransport) Subscribe(ctx context.Context, channel string, handler Handler) (Subscription, error) {
	if handler == nil {
		return nil, errors.New("channel: nil handler")
	}
	conn, err := t.current()
	if err != nil {
		return nil, err
	}
	sub, err := conn.Subscribe(t.subject(channel), func(msg *nats.Msg) {
		handler(ctx, msg.Data)
	})
	if err != nil {
		return nil, unavailable("subscribe", err)
	}
	if err := conn.FlushTimeout(t.cfg.ConnectTimeout); err != nil {
		_ = sub.Unsubscribe()
		return nil, unavailable("subscribe", err)
	}
	return sub, nil
}

// Close drains the connection.
func (t *NATSTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil
	}
	t.closed = true
	if t.conn == nil {
		return nil
	}
	if err := t.conn.Drain(); err != nil {
		t.conn.Close()
		return err
	}
	return nil
}
