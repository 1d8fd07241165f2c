package channel

import (
	"context"
	"errors"
	"io"
	"log"
	"sync"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newOfflineMQTT(t *testing.T) *MQTTTransport {
	t.Helper()
	cfg := Config{Driver: DriverMQTT, URL: "tcp://127.0.0.1:1", ConnectTimeout: 100 * time.Millisecond}.withDefaults()
	ctx, cancel := context.WithCancel(context.Background())
	opts := mqtt.NewClientOptions().
		AddBroker(cfg.URL).
		SetClientID(NewClientID("test")).
		SetAutoReconnect(false).
		SetConnectTimeout(cfg.ConnectTimeout)
	return &MQTTTransport{
		cfg:    cfg,
		logger: log.New(io.Discard, "", 0),
		client: mqtt.NewClient(opts),
		subs:   make(map[string]map[int]mqttHandler),
		ctx:    ctx,
		cancel: cancel,
	}
}

func TestMQTT_ConnectionLostRacingClose(t *testing.T) {
	for i := 0; i < 20; i++ {
		transport := newOfflineMQTT(t)
		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			transport.onConnectionLost(nil, errors.New("broker gone"))
		}()
		go func() {
			defer wg.Done()
			assert.NoError(t, transport.Close())
		}()

		done := make(chan struct{})
		go func() {
			wg.Wait()
			transport.wg.Wait()
			close(done)
		}()
		select {
		case <-done:
		case <-time.After(5 * time.Second):
			t.Fatal("close did not finish with a concurrent connection loss")
		}
	}
}

func TestMQTT_ConnectionLostAfterCloseStartsNothing(t *testing.T) {
	transport := newOfflineMQTT(t)
	require.NoError(t, transport.Close())
	transport.onConnectionLost(nil, errors.New("broker gone"))

	done := make(chan struct{})
	go func() {
		transport.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("reconnect started after close")
	}
}
