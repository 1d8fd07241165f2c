package sensors

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"strings"

	"go.bug.st/serial"
	"go.bug.st/serial/enumerator"
)

var arduinoKeywords = []string{"arduino", "ch340", "usb serial", "usb uart"}

// arduinoVIDs are USB vendor ids of boards seen on nodes: Arduino, WCH (CH340), FTDI.
var arduinoVIDs = []string{"2341", "1a86", "0403"}

// ErrNoPort is returned when no Arduino-like serial port is found.
var ErrNoPort = errors.New("sensors: no arduino serial port found")

// Port describes a serial port candidate.
type Port struct {
	Name    string
	Product string
	VID     string
	IsUSB   bool
}

// ListPorts enumerates serial ports with their USB details.
func ListPorts() ([]Port, error) {
	details, err := enumerator.GetDetailedPortsList()
	if err != nil {
		return nil, fmt.Errorf("sensors: list ports: %w", err)
	}
	ports := make([]Port, 0, len(details))
	for _, d := range details {
		ports = append(ports, Port{Name: d.Name, Product: d.Product, VID: d.VID, IsUSB: d.IsUSB})
	}
	return ports, nil
}

// PickArduino returns the first port that looks like an Arduino.
func PickArduino(ports []Port) (string, error) {
	for _, port := range ports {
		product := strings.ToLower(port.Product)
		for _, keyword := range arduinoKeywords {
			if strings.Contains(product, keyword) {
				return port.Name, nil
			}
		}
		if port.IsUSB {
			for _, vid := range arduinoVIDs {
				if strings.EqualFold(port.VID, vid) {
					return port.Name, nil
				}
			}
		}
	}
	return "", ErrNoPort
}

// SerialSource reads moisture lines from a serial port.
type SerialSource struct {
	port    io.ReadCloser
	scanner *bufio.Scanner
	logger  *log.Logger
}

// OpenSerial opens name at baud. An empty name auto-detects the Arduino; the
// available ports are logged when none matches.
func OpenSerial(name string, baud int, logger *log.Logger) (*SerialSource, error) {
	if logger == nil {
		logger = log.Default()
	}
	if name == "" {
		ports, err := ListPorts()
		if err != nil {
			return nil, err
		}
		name, err = PickArduino(ports)
		if err != nil {
			for _, port := range ports {
				logger.Printf("sensors: available port %s (%s)", port.Name, port.Product)
			}
			return nil, err
		}
		logger.Printf("sensors: found arduino on %s", name)
	}
	port, err := serial.Open(name, &serial.Mode{BaudRate: baud})
	if err != nil {
		return nil, fmt.Errorf("sensors: open %s: %w", name, err)
	}
	logger.Printf("sensors: connected to %s at %d baud", name, baud)
	return NewLineSource(port, logger), nil
}

// NewLineSource reads moisture lines from r.
func NewLineSource(r io.ReadCloser, logger *log.Logger) *SerialSource {
	if logger == nil {
		logger = log.Default()
	}
	return &SerialSource{port: r, scanner: bufio.NewScanner(r), logger: logger}
}

// Next blocks for the next parseable line. Malformed lines are logged and
// skipped. Closing the source unblocks a pending read.
func (s *SerialSource) Next(ctx context.Context) (Sample, error) {
	for {
		if err := ctx.Err(); err != nil {
			return Sample{}, err
		}
		if !s.scanner.Scan() {
			if err := s.scanner.Err(); err != nil {
				return Sample{}, fmt.Errorf("sensors: read serial: %w", err)
			}
			return Sample{}, io.EOF
		}
		line := s.scanner.Text()
		sample, err := ParseLine(line)
		switch {
		case err == nil:
			return sample, nil
		case errors.Is(err, ErrNotMoisture):
			if strings.TrimSpace(line) != "" {
				s.logger.Printf("sensors: serial data: %s", strings.TrimSpace(line))
			}
		default:
			s.logger.Printf("sensors: %v", err)
		}
	}
}

// Close closes the port.
func (s *SerialSource) Close() error {
	return s.port.Close()
}
