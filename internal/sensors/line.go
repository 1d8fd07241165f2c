// Package sensors reads soil moisture on a device node and publishes it as telemetry.
package sensors

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

const linePrefix = "MOISTURE:"

// ErrMalformedLine marks a sensor line that cannot be parsed.
var ErrMalformedLine = errors.New("sensors: malformed data")

// ErrNotMoisture marks a line that is not a moisture report, such as boot chatter.
var ErrNotMoisture = errors.New("sensors: not a moisture line")

// Sample is one moisture measurement.
type Sample struct {
	Moisture float64
	Raw      float64
	Status   string
}

// ParseLine parses "MOISTURE:<pct>:<raw>:<status>". Extra fields are ignored.
func ParseLine(line string) (Sample, error) {
	line = strings.TrimSpace(line)
	if !strings.HasPrefix(line, linePrefix) {
		return Sample{}, ErrNotMoisture
	}
	parts := strings.Split(line, ":")
	if len(parts) < 4 {
		return Sample{}, fmt.Errorf("%w: %s", ErrMalformedLine, line)
	}
	moisture, err := strconv.ParseFloat(strings.TrimSpace(parts[1]), 64)
	if err != nil {
		return Sample{}, fmt.Errorf("%w: %s", ErrMalformedLine, line)
	}
	raw, err := strconv.ParseFloat(strings.TrimSpace(parts[2]), 64)
	if err != nil {
		return Sample{}, fmt.Errorf("%w: %s", ErrMalformedLine, line)
	}
	return Sample{Moisture: moisture, Raw: raw, Status: strings.TrimSpace(parts[3])}, nil
}

// StatusFor labels a moisture percentage the way the node firmware does.
func StatusFor(moisture float64) string {
	switch {
	case moisture < 30:
		return "TOO DRY"
	case moisture < 60:
		return "OPTIMAL"
	default:
		return "TOO WET"
	}
}
