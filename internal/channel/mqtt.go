package channel

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"irrigation-cloud/internal/observability/metrics"
	"irrigation-cloud/internal/retry"
)

const mqttQoS = 1

// MQTTTransport is a Transport over an MQTT broker. Reconnection is driven
// here rather than by paho so subscriptions are restored explicitly.
type MQTTTransport struct {
	cfg    Config
	logger *log.Logger
	client mqtt.Client

	mu     sync.Mutex
	subs   map[string]map[int]mqttHandler
	nextID int
	closed bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

type mqttHandler struct {
	ctx     context.Context
	handler Handler
}

// DialMQTT connects to the broker within cfg.ConnectTimeout.
func DialMQTT(ctx context.Context, cfg Config, logger *log.Logger) (*MQTTTransport, error) {
	cfg = cfg.withDefaults()
	if cfg.URL == "" {
		return nil, errors.New("channel: mqtt url required")
	}
	if logger == nil {
		logger = log.Default()
	}
	runCtx, cancel := context.WithCancel(context.Background())
	t := &MQTTTransport{
		cfg:    cfg,
		logger: logger,
		subs:   make(map[string]map[int]mqttHandler),
		ctx:    runCtx,
		cancel: cancel,
	}

	opts := mqtt.NewClientOptions().
		AddBroker(cfg.URL).
		SetClientID(NewClientID(cfg.ClientPrefix)).
		SetCleanSession(true).
		SetAutoReconnect(false).
		SetOrderMatters(false).
		SetConnectTimeout(cfg.ConnectTimeout).
		SetConnectionLostHandler(t.onConnectionLost)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}
	t.client = mqtt.NewClient(opts)

	if err := t.connect(ctx); err != nil {
		cancel()
		return nil, err
	}
	logger.Printf("channel: mqtt connected to %s", cfg.URL)
	return t, nil
}

func (t *MQTTTransport) connect(ctx context.Context) error {
	token := t.client.Connect()
	if err := t.wait(ctx, token, "connect"); err != nil {
		return err
	}
	return nil
}

// wait blocks on token for at most the connect timeout.
func (t *MQTTTransport) wait(ctx context.Context, token mqtt.Token, op string) error {
	timer := time.NewTimer(t.cfg.ConnectTimeout)
	defer timer.Stop()
	select {
	case <-token.Done():
		if err := token.Error(); err != nil {
			return unavailable(op, err)
		}
		return nil
	case <-timer.C:
		return unavailable(op, fmt.Errorf("timed out after %s", t.cfg.ConnectTimeout))
	case <-ctx.Done():
		return unavailable(op, ctx.Err())
	}
}

// Publish sends payload to the channel topic with QoS 1.
func (t *MQTTTransport) Publish(ctx context.Context, channel string, payload []byte) error {
	t.mu.Lock()
	closed := t.closed
	t.mu.Unlock()
	if closed {
		return ErrClosed
	}
	if !t.client.IsConnectionOpen() {
		return unavailable("publish", errors.New("not connected"))
	}
	token := t.client.Publish(topicFor(t.cfg.TopicPrefix, channel), mqttQoS, false, payload)
	return t.wait(ctx, token, "publish")
}

// Subscribe registers handler on the channel topic.
func (t *MQTTTransport) Subscribe(ctx context.Context, channel string, handler Handler) (Subscription, error) {
	if handler == nil {
		return nil, errors.New("channel: nil handler")
	}
	topic := topicFor(t.cfg.TopicPrefix, channel)

	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil, ErrClosed
	}
	handlers, exists := t.subs[topic]
	if !exists {
		handlers = make(map[int]mqttHandler)
		t.subs[topic] = handlers
	}
	t.nextID++
	id := t.nextID
	handlers[id] = mqttHandler{ctx: ctx, handler: handler}
	t.mu.Unlock()

	if !exists {
		if err := t.subscribeTopic(ctx, topic); err != nil {
			t.remove(topic, id)
			return nil, err
		}
	}
	return &mqttSubscription{transport: t, topic: topic, id: id}, nil
}

func (t *MQTTTransport) subscribeTopic(ctx context.Context, topic string) error {
	token := t.client.Subscribe(topic, mqttQoS, func(_ mqtt.Client, msg mqtt.Message) {
		t.deliver(msg.Topic(), msg.Payload())
	})
	return t.wait(ctx, token, "subscribe "+topic)
}

func (t *MQTTTransport) deliver(topic string, payload []byte) {
	t.mu.Lock()
	handlers := make([]mqttHandler, 0, len(t.subs[topic]))
	for _, h := range t.subs[topic] {
		handlers = append(handlers, h)
	}
	t.mu.Unlock()
	for _, h := range handlers {
		h.handler(h.ctx, payload)
	}
}

// remove drops a handler and reports whether the topic has none left.
func (t *MQTTTransport) remove(topic string, id int) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	handlers := t.subs[topic]
	delete(handlers, id)
	if len(handlers) == 0 {
		delete(t.subs, topic)
		return true
	}
	return false
}

func (t *MQTTTransport) onConnectionLost(_ mqtt.Client, err error) {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	// Add under mu so Close cannot start waiting before the reconnect is counted.
	t.wg.Add(1)
	t.mu.Unlock()
	t.logger.Printf("channel: mqtt connection lost: %v", err)
	go func() {
		defer t.wg.Done()
		t.reconnect()
	}()
}

func (t *MQTTTransport) reconnect() {
	cfg := t.cfg.Reconnect
	cfg.OnRetry = func(attempt int, err error, wait time.Duration) {
		metrics.IncTransportReconnect(DriverMQTT, metrics.ResultError)
		t.logger.Printf("channel: mqtt reconnect attempt %d failed: %v; next in %s", attempt, err, wait)
	}
	err := retry.Do(t.ctx, cfg, func() error {
		return t.connect(t.ctx)
	})
	if err != nil {
		t.logger.Printf("channel: mqtt reconnect abandoned: %v", err)
		return
	}
	metrics.IncTransportReconnect(DriverMQTT, metrics.ResultSuccess)

	t.mu.Lock()
	topics := make([]string, 0, len(t.subs))
	for topic := range t.subs {
		topics = append(topics, topic)
	}
	t.mu.Unlock()
	for _, topic := range topics {
		if err := t.subscribeTopic(t.ctx, topic); err != nil {
			t.logger.Printf("channel: mqtt resubscribe %s failed: %v", topic, err)
		}
	}
	t.logger.Printf("channel: mqtt reconnected; restored %d subscriptions", len(topics))
}

// Close disconnects and stops any reconnect loop.
func (t *MQTTTransport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	t.mu.Unlock()
	t.cancel()
	t.wg.Wait()
	if t.client.IsConnected() {
		t.client.Disconnect(250)
	}
	return nil
}

type mqttSubscription struct {
	transport *MQTTTransport
	topic     string
	id        int
	once      sync.Once
}

func (s *mqttSubscription) Unsubscribe() error {
	var err error
	s.once.Do(func() {
		if !s.transport.remove(s.topic, s.id) {
			return
		}
		if !s.transport.client.IsConnectionOpen() {
			return
		}
		token := s.transport.client.Unsubscribe(s.topic)
		err = s.transport.wait(context.Background(), token, "unsubscribe "+s.topic)
	})
	return err
}
