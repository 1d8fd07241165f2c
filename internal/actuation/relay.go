// Package actuation drives the pump relay on a device node from broker commands.
package actuation

import (
	"errors"
	"fmt"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/host/v3"
)

// Switch is the hardware the executor toggles.
type Switch interface {
	Set(on bool) error
	Halt() error
}

// Relay drives a pump relay through a GPIO output. Most relay boards engage
// when the input is pulled low.
type Relay struct {
	pin       gpio.PinOut
	activeLow bool
}

// NewRelay wraps pin. It does not touch the pin.
func NewRelay(pin gpio.PinOut, activeLow bool) (*Relay, error) {
	if pin == nil {
		return nil, errors.New("relay: nil pin")
	}
	return &Relay{pin: pin, activeLow: activeLow}, nil
}

// OpenRelay initializes the host drivers, looks up the named pin (for example
// "GPIO27") and drives it to OFF.
func OpenRelay(name string, activeLow bool) (*Relay, error) {
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("relay: host init: %w", err)
	}
	pin := gpioreg.ByName(name)
	if pin == nil {
		return nil, fmt.Errorf("relay: gpio %s not found", name)
	}
	relay, err := NewRelay(pin, activeLow)
	if err != nil {
		return nil, err
	}
	if err := relay.Set(false); err != nil {
		return nil, err
	}
	return relay, nil
}

// Set engages (on) or releases the relay.
func (r *Relay) Set(on bool) error {
	if err := r.pin.Out(r.level(on)); err != nil {
		return fmt.Errorf("relay: drive %s: %w", r.pin, err)
	}
	return nil
}

// Halt releases the pin.
func (r *Relay) Halt() error {
	return r.pin.Halt()
}

func (r *Relay) level(on bool) gpio.Level {
	if r.activeLow {
		return gpio.Level(!on)
	}
	return gpio.Level(on)
}
