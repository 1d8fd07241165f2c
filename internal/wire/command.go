package wire

import (
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"time"
)

// Action is the actuation requested by a command.
type Action string

const (
	ActionPumpOn  Action = "PUMP_ON"
	ActionPumpOff Action = "PUMP_OFF"
)

// Valid reports whether the action is one the executor understands.
func (a Action) Valid() bool {
	return a == ActionPumpOn || a == ActionPumpOff
}

// On reports whether the action engages the pump.
func (a Action) On() bool {
	return a == ActionPumpOn
}

// ActionFor maps a pump state to the command that produces it.
func ActionFor(on bool) Action {
	if on {
		return ActionPumpOn
	}
	return ActionPumpOff
}

// Reason tags why a command was issued.
type Reason string

const (
	ReasonManual            Reason = "manual"
	ReasonAutomatic         Reason = "automatic"
	ReasonManualComplete    Reason = "manual_complete"
	ReasonAutomaticComplete Reason = "automatic_complete"
)

// Valid reports whether the reason is a known tag.
func (r Reason) Valid() bool {
	switch r {
	case ReasonManual, ReasonAutomatic, ReasonManualComplete, ReasonAutomaticComplete:
		return true
	default:
		return false
	}
}

// Automated reports whether the reason originates from threshold logic.
func (r Reason) Automated() bool {
	return r == ReasonAutomatic || r == ReasonAutomaticComplete
}

// Command is an actuation instruction published on the command channel.
type Command struct {
	ID              string
	Action          Action
	PlantID         int64
	PlantName       string
	HardwareID      string
	Reason          Reason
	CurrentMoisture *float64
	Threshold       *float64
	Timestamp       time.Time
}

type commandPayload struct {
	ID              string          `json:"command_id,omitempty"`
	Command         *string         `json:"command"`
	PlantID         json.RawMessage `json:"plant_id,omitempty"`
	PlantName       string          `json:"plant_name,omitempty"`
	HardwareID      string          `json:"hardware_id,omitempty"`
	Reason          string          `json:"reason,omitempty"`
	CurrentMoisture *float64        `json:"current_moisture,omitempty"`
	Threshold       *float64        `json:"threshold,omitempty"`
	Timestamp       string          `json:"timestamp,omitempty"`
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
}

// DecodeCommand parses a command payload. Only the command field is required; an
// unrecognized action decodes successfully and is reported by Action.Valid.
func DecodeCommand(payload []byte) (Command, error) {
	var raw commandPayload
	if err := json.Unmarshal(payload, &raw); err != nil {
		return Command{}, fmt.Errorf("%w: invalid json: %v", ErrMalformedCommand, err)
	}
	if raw.Command == nil {
		return Command{}, fmt.Errorf("%w: command required", ErrMalformedCommand)
	}

	cmd := Command{
		ID:              raw.ID,
		Action:          Action(strings.TrimSpace(*raw.Command)),
		PlantName:       raw.PlantName,
		HardwareID:      strings.TrimSpace(raw.HardwareID),
		Reason:          Reason(raw.Reason),
		CurrentMoisture: raw.CurrentMoisture,
		Threshold:       raw.Threshold,
	}
	plantID, err := parsePlantID(raw.PlantID)
	if err != nil {
		return Command{}, fmt.Errorf("%w: plant_id: %v", ErrMalformedCommand, err)
	}
	cmd.PlantID = plantID
	if raw.Timestamp != "" {
		for _, layout := range timestampLayouts {
			if ts, err := time.Parse(layout, raw.Timestamp); err == nil {
				cmd.Timestamp = ts.UTC()
				break
			}
		}
	}
	return cmd, nil
}

// maxPlantID is the largest id a float64 carries exactly.
const maxPlantID = 1 << 53

// parsePlantID accepts a whole, non-negative number. Absent yields 0.
func parsePlantID(raw json.RawMessage) (int64, error) {
	value, ok, err := parseNumber(raw)
	if err != nil || !ok {
		return 0, err
	}
	if value != math.Trunc(value) {
		return 0, fmt.Errorf("not an integer: %v", value)
	}
	if value < 0 || value > maxPlantID {
		return 0, fmt.Errorf("out of range: %v", value)
	}
	return int64(value), nil
}

// EncodeCommand serializes a command; the timestamp is written as ISO-8601.
func EncodeCommand(cmd Command) ([]byte, error) {
	if cmd.Action == "" {
		return nil, fmt.Errorf("%w: command required", ErrMalformedCommand)
	}
	action := string(cmd.Action)
	out := commandPayload{
		ID:              cmd.ID,
		Command:         &action,
		PlantID:         json.RawMessage(fmt.Sprintf("%d", cmd.PlantID)),
		PlantName:       cmd.PlantName,
		HardwareID:      cmd.HardwareID,
		Reason:          string(cmd.Reason),
		CurrentMoisture: cmd.CurrentMoisture,
		Threshold:       cmd.Threshold,
	}
	if !cmd.Timestamp.IsZero() {
		out.Timestamp = cmd.Timestamp.UTC().Format(time.RFC3339Nano)
	}
	return json.Marshal(out)
}
