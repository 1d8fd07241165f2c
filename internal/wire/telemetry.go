package wire

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

var (
	// ErrMalformedMessage is the root of every decode failure.
	ErrMalformedMessage = errors.New("wire: malformed message")
	// ErrMalformedTelemetry indicates a telemetry payload that cannot be ingested.
	ErrMalformedTelemetry = fmt.Errorf("%w: telemetry", ErrMalformedMessage)
	// ErrMalformedCommand indicates a command payload without a usable command field.
	ErrMalformedCommand = fmt.Errorf("%w: command", ErrMalformedMessage)
)

const (
	MinMoisture = 0.0
	MaxMoisture = 100.0
)

// Telemetry is a single sensor reading published on the moisture channel.
type Telemetry struct {
	HardwareID string
	Moisture   float64
	Status     string
	// DeviceTime is the sensor's own clock; zero when the device did not send one.
	DeviceTime time.Time
}

type telemetryPayload struct {
	HardwareID json.RawMessage `json:"hardware_id"`
	Moisture   json.RawMessage `json:"moisture"`
	Status     json.RawMessage `json:"status"`
	Timestamp  json.RawMessage `json:"timestamp"`
}

type telemetryOut struct {
	HardwareID string   `json:"hardware_id"`
	Moisture   float64  `json:"moisture"`
	Status     string   `json:"status"`
	Timestamp  *float64 `json:"timestamp,omitempty"`
}

// DecodeTelemetry parses a telemetry payload. Failures wrap ErrMalformedTelemetry.
func DecodeTelemetry(payload []byte) (Telemetry, error) {
	var raw telemetryPayload
	if err := json.Unmarshal(payload, &raw); err != nil {
		return Telemetry{}, fmt.Errorf("%w: invalid json: %v", ErrMalformedTelemetry, err)
	}

	hardwareID, ok, err := parseString(raw.HardwareID)
	if err != nil || !ok || strings.TrimSpace(hardwareID) == "" {
		return Telemetry{}, fmt.Errorf("%w: hardware_id required", ErrMalformedTelemetry)
	}

	moisture, ok, err := parseNumber(raw.Moisture)
	if err != nil {
		return Telemetry{}, fmt.Errorf("%w: moisture: %v", ErrMalformedTelemetry, err)
	}
	if !ok {
		return Telemetry{}, fmt.Errorf("%w: moisture required", ErrMalformedTelemetry)
	}
	if moisture < MinMoisture || moisture > MaxMoisture {
		return Telemetry{}, fmt.Errorf("%w: moisture %.2f out of range", ErrMalformedTelemetry, moisture)
	}

	status, _, err := parseString(raw.Status)
	if err != nil {
		return Telemetry{}, fmt.Errorf("%w: status: %v", ErrMalformedTelemetry, err)
	}

	msg := Telemetry{
		HardwareID: strings.TrimSpace(hardwareID),
		Moisture:   moisture,
		Status:     status,
	}
	// The device clock is informational only, so a bad timestamp does not drop the reading.
	if ts, ok, err := parseNumber(raw.Timestamp); err == nil && ok && ts > 0 {
		msg.DeviceTime = epochSeconds(ts)
	}
	return msg, nil
}

// EncodeTelemetry serializes a telemetry message.
func EncodeTelemetry(msg Telemetry) ([]byte, error) {
	if msg.HardwareID == "" {
		return nil, fmt.Errorf("%w: hardware_id required", ErrMalformedTelemetry)
	}
	out := telemetryOut{
		HardwareID: msg.HardwareID,
		Moisture:   msg.Moisture,
		Status:     msg.Status,
	}
	if !msg.DeviceTime.IsZero() {
		ts := float64(msg.DeviceTime.UnixNano()) / float64(time.Second)
		out.Timestamp = &ts
	}
	return json.Marshal(out)
}

func epochSeconds(value float64) time.Time {
	sec, frac := math.Modf(value)
	return time.Unix(int64(sec), int64(frac*float64(time.Second))).UTC()
}

// parseNumber accepts a JSON number or a string holding one. ok is false when absent or null.
func parseNumber(raw json.RawMessage) (float64, bool, error) {
	if isAbsent(raw) {
		return 0, false, nil
	}
	text := strings.TrimSpace(string(raw))
	if strings.HasPrefix(text, `"`) {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return 0, false, err
		}
		text = strings.TrimSpace(s)
		if text == "" {
			return 0, false, errors.New("empty value")
		}
	}
	value, err := strconv.ParseFloat(text, 64)
	if err != nil {
		return 0, false, fmt.Errorf("not numeric: %q", text)
	}
	if math.IsNaN(value) || math.IsInf(value, 0) {
		return 0, false, fmt.Errorf("not finite: %q", text)
	}
	return value, true, nil
}

func parseString(raw json.RawMessage) (string, bool, error) {
	if isAbsent(raw) {
		return "", false, nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return "", false, errors.New("not a string")
	}
	return s, true, nil
}

func isAbsent(raw json.RawMessage) bool {
	text := strings.TrimSpace(string(raw))
	return text == "" || text == "null"
}
