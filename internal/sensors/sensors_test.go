package sensors

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"periph.io/x/conn/v3/i2c/i2ctest"

	pubsub "irrigation-cloud/internal/channel"
	"irrigation-cloud/internal/wire"
)

func TestParseLine(t *testing.T) {
	sample, err := ParseLine("MOISTURE:42:611:OPTIMAL\r\n")
	require.NoError(t, err)
	assert.Equal(t, Sample{Moisture: 42, Raw: 611, Status: "OPTIMAL"}, sample)

	_, err = ParseLine("MOISTURE:42:611")
	assert.ErrorIs(t, err, ErrMalformedLine)

	_, err = ParseLine("MOISTURE:wet:611:OK")
	assert.ErrorIs(t, err, ErrMalformedLine)

	_, err = ParseLine("Sensor ready")
	assert.ErrorIs(t, err, ErrNotMoisture)
}

func TestStatusFor(t *testing.T) {
	assert.Equal(t, "TOO DRY", StatusFor(12))
	assert.Equal(t, "OPTIMAL", StatusFor(30))
	assert.Equal(t, "TOO WET", StatusFor(75))
}

func TestPickArduino(t *testing.T) {
	ports := []Port{
		{Name: "/dev/ttyS0", Product: ""},
		{Name: "/dev/ttyUSB0", Product: "USB2.0-Serial", VID: "1A86", IsUSB: true},
		{Name: "/dev/ttyACM0", Product: "Arduino Uno", IsUSB: true},
	}
	name, err := PickArduino(ports)
	require.NoError(t, err)
	assert.Equal(t, "/dev/ttyUSB0", name)

	_, err = PickArduino([]Port{{Name: "/dev/ttyS0"}})
	assert.ErrorIs(t, err, ErrNoPort)
}

func TestCalibration_Percent(t *testing.T) {
	cal := Calibration{DryRaw: 600, WetRaw: 250}
	assert.InDelta(t, 100, cal.Percent(200), 0.001)
	assert.InDelta(t, 0, cal.Percent(700), 0.001)
	assert.InDelta(t, 50, cal.Percent(425), 0.001)
}

func TestLineSource_SkipsMalformed(t *testing.T) {
	var logs bytes.Buffer
	input := "booting\nMOISTURE:10:900\nMOISTURE:55:500:OPTIMAL\n"
	source := NewLineSource(io.NopCloser(strings.NewReader(input)), log.New(&logs, "", 0))

	sample, err := source.Next(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 55.0, sample.Moisture)
	assert.Contains(t, logs.String(), "malformed data")

	_, err = source.Next(context.Background())
	assert.ErrorIs(t, err, io.EOF)
}

func TestI2CSource_ReadsADC(t *testing.T) {
	bus := &i2ctest.Playback{Ops: []i2ctest.IO{
		{Addr: 0x48, W: []byte{0x20}, R: []byte{0x2c, 0x01}},
	}}
	source, err := NewI2CSource(bus, 0x48, Calibration{DryRaw: 600, WetRaw: 250}, time.Millisecond)
	require.NoError(t, err)

	sample, err := source.Next(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 300.0, sample.Raw)
	assert.InDelta(t, 85.71, sample.Moisture, 0.01)
	assert.Equal(t, "TOO WET", sample.Status)
	require.NoError(t, source.Close())
}

type sliceSource struct {
	mu      sync.Mutex
	samples []Sample
	closed  bool
}

func (s *sliceSource) Next(ctx context.Context) (Sample, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.samples) == 0 {
		return Sample{}, io.EOF
	}
	sample := s.samples[0]
	s.samples = s.samples[1:]
	return sample, nil
}

func (s *sliceSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func TestBridge_PublishesTelemetry(t *testing.T) {
	transport := pubsub.NewMemory()
	source := &sliceSource{samples: []Sample{{Moisture: 21, Status: "TOO DRY"}, {Moisture: 64, Status: "TOO WET"}}}
	bridge, err := NewBridge(source, transport, "node-7", nil)
	require.NoError(t, err)

	require.NoError(t, bridge.Run(context.Background()))

	published := transport.Published(pubsub.TelemetryChannel)
	require.Len(t, published, 2)
	msg, err := wire.DecodeTelemetry(published[1])
	require.NoError(t, err)
	assert.Equal(t, "node-7", msg.HardwareID)
	assert.Equal(t, 64.0, msg.Moisture)
	assert.Equal(t, "TOO WET", msg.Status)
	assert.False(t, msg.DeviceTime.IsZero())
}

func TestBridge_ContinuesAfterPublishFailure(t *testing.T) {
	transport := pubsub.NewMemory()
	transport.FailPublish(errors.New("broker down"))
	source := &sliceSource{samples: []Sample{{Moisture: 21}, {Moisture: 22}}}
	bridge, err := NewBridge(source, transport, "node-7", nil)
	require.NoError(t, err)

	require.NoError(t, bridge.Run(context.Background()))
	assert.Empty(t, source.samples)
	assert.Empty(t, transport.Published(pubsub.TelemetryChannel))
}

func TestBridge_ClosesSourceOnExit(t *testing.T) {
	source := &sliceSource{}
	bridge, err := NewBridge(source, pubsub.NewMemory(), "node-7", nil)
	require.NoError(t, err)

	require.NoError(t, bridge.Run(context.Background()))
	assert.True(t, source.closed)
}
