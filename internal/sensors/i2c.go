package sensors

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"time"

	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/host/v3"
)

// Calibration maps raw ADC counts to a moisture percentage. Capacitive probes
// read higher when dry.
type Calibration struct {
	DryRaw float64
	WetRaw float64
}

// Percent converts raw to 0..100.
func (c Calibration) Percent(raw float64) float64 {
	span := c.DryRaw - c.WetRaw
	if span == 0 {
		return 0
	}
	pct := (c.DryRaw - raw) / span * 100
	if pct < 0 {
		return 0
	}
	if pct > 100 {
		return 100
	}
	return pct
}

// I2CSource polls a moisture ADC over I2C.
type I2CSource struct {
	bus         i2c.BusCloser
	dev         i2c.Dev
	channel     byte
	calibration Calibration
	interval    time.Duration
	first       bool
}

// OpenI2C initializes the host and opens the ADC at addr on bus ("" for the first bus).
func OpenI2C(bus string, addr uint16, calibration Calibration, interval time.Duration) (*I2CSource, error) {
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("sensors: host init: %w", err)
	}
	b, err := i2creg.Open(bus)
	if err != nil {
		return nil, fmt.Errorf("sensors: open i2c bus %q: %w", bus, err)
	}
	return NewI2CSource(b, addr, calibration, interval)
}

// NewI2CSource reads channel 0 of the ADC at addr on bus.
func NewI2CSource(bus i2c.BusCloser, addr uint16, calibration Calibration, interval time.Duration) (*I2CSource, error) {
	if bus == nil {
		return nil, errors.New("sensors: nil i2c bus")
	}
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &I2CSource{
		bus:         bus,
		dev:         i2c.Dev{Bus: bus, Addr: addr},
		calibration: calibration,
		interval:    interval,
		first:       true,
	}, nil
}

// Next waits one interval (not before the first read) and samples the ADC.
func (s *I2CSource) Next(ctx context.Context) (Sample, error) {
	if !s.first {
		timer := time.NewTimer(s.interval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return Sample{}, ctx.Err()
		case <-timer.C:
		}
	}
	s.first = false

	write := []byte{0x20 + s.channel}
	read := make([]byte, 2)
	if err := s.dev.Tx(write, read); err != nil {
		return Sample{}, fmt.Errorf("sensors: i2c read: %w", err)
	}
	raw := float64(binary.LittleEndian.Uint16(read))
	moisture := s.calibration.Percent(raw)
	return Sample{Moisture: moisture, Raw: raw, Status: StatusFor(moisture)}, nil
}

// Close releases the bus.
func (s *I2CSource) Close() error {
	return s.bus.Close()
}
