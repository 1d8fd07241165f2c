package channel

import (
	"context"
	"errors"
	"sync"
)

const memoryQueueSize = 256

// Memory is an in-process Transport. Each subscriber has its own delivery
// goroutine, so handlers never run on the publisher's goroutine.
type Memory struct {
	mu         sync.Mutex
	subs       map[string][]*memorySub
	published  map[string][][]byte
	publishErr error
	closed     bool
}

// NewMemory constructs an in-process transport.
func NewMemory() *Memory {
	return &Memory{
		subs:      make(map[string][]*memorySub),
		published: make(map[string][][]byte),
	}
}

// FailPublish makes later publishes return err; nil restores delivery.
func (m *Memory) FailPublish(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.publishErr = err
}

// Published returns every payload accepted on channel, in order.
func (m *Memory) Published(channel string) [][]byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([][]byte, len(m.published[channel]))
	copy(out, m.published[channel])
	return out
}

// Publish fans payload out to every subscriber of channel.
func (m *Memory) Publish(ctx context.Context, channel string, payload []byte) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrClosed
	}
	if m.publishErr != nil {
		err := m.publishErr
		m.mu.Unlock()
		return unavailable("publish", err)
	}
	data := append([]byte(nil), payload...)
	m.published[channel] = append(m.published[channel], data)
	subs := append([]*memorySub(nil), m.subs[channel]...)
	m.mu.Unlock()

	for _, sub := range subs {
		select {
		case sub.queue <- data:
		case <-sub.done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// Subscribe starts a delivery goroutine for handler.
func (m *Memory) Subscribe(ctx context.Context, channel string, handler Handler) (Subscription, error) {
	if handler == nil {
		return nil, errors.New("channel: nil handler")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, ErrClosed
	}
	sub := &memorySub{
		owner:   m,
		channel: channel,
		queue:   make(chan []byte, memoryQueueSize),
		done:    make(chan struct{}),
	}
	m.subs[channel] = append(m.subs[channel], sub)
	sub.wg.Add(1)
	go sub.run(ctx, handler)
	return sub, nil
}

// Close stops every subscription.
func (m *Memory) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	var subs []*memorySub
	for _, list := range m.subs {
		subs = append(subs, list...)
	}
	m.subs = make(map[string][]*memorySub)
	m.mu.Unlock()
	for _, sub := range subs {
		sub.stop()
	}
	return nil
}

type memorySub struct {
	owner   *Memory
	channel string
	queue   chan []byte
	done    chan struct{}
	once    sync.Once
	wg      sync.WaitGroup
}

func (s *memorySub) run(ctx context.Context, handler Handler) {
	defer s.wg.Done()
	for {
		select {
		case payload := <-s.queue:
			handler(ctx, payload)
		case <-s.done:
			return
		}
	}
}

func (s *memorySub) stop() {
	s.once.Do(func() { close(s.done) })
	s.wg.Wait()
}

func (s *memorySub) Unsubscribe() error {
	s.owner.mu.Lock()
	list := s.owner.subs[s.channel]
	for i, sub := range list {
		if sub == s {
			s.owner.subs[s.channel] = append(list[:i:i], list[i+1:]...)
			break
		}
	}
	s.owner.mu.Unlock()
	s.stop()
	return nil
}
