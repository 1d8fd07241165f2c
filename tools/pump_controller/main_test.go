package main

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpiotest"

	"irrigation-cloud/internal/actuation"
	pubsub "irrigation-cloud/internal/channel"
	"irrigation-cloud/internal/wire"
)

func TestRun_ShutdownOnCancelLeavesPumpOff(t *testing.T) {
	transport := pubsub.NewMemory()
	defer transport.Close()
	pin := &gpiotest.Pin{N: "GPIO27", Num: 27, L: gpio.High}
	relay, err := actuation.NewRelay(pin, true)
	require.NoError(t, err)
	executor, err := actuation.NewExecutor(relay, actuation.Identity{HardwareID: "node-7"}, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- run(ctx, transport, executor, 8, nil) }()

	payload, err := wire.EncodeCommand(wire.Command{ID: "cmd-1", Action: wire.ActionPumpOn, PlantID: 7, HardwareID: "node-7", Reason: wire.ReasonManual})
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		require.NoError(t, transport.Publish(context.Background(), pubsub.CommandChannel, payload))
		return executor.State() == actuation.PumpOn
	}, time.Second, 10*time.Millisecond)
	assert.Equal(t, gpio.Low, pin.Read())

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("run did not return after cancel")
	}
	assert.Equal(t, actuation.PumpOff, executor.State())
	assert.Equal(t, gpio.High, pin.Read())

	_, err = executor.Handle(context.Background(), wire.Command{Action: wire.ActionPumpOn, HardwareID: "node-7"})
	assert.ErrorIs(t, err, actuation.ErrClosed)
}
