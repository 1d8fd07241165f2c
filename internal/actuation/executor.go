package actuation

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"irrigation-cloud/internal/observability/metrics"
	"irrigation-cloud/internal/wire"
)

// PumpState is the one-bit pump state held by the executor.
type PumpState bool

const (
	PumpOff PumpState = false
	PumpOn  PumpState = true
)

func (s PumpState) String() string {
	if s {
		return "ON"
	}
	return "OFF"
}

// Handle results, also used as metric labels.
const (
	ResultApplied   = "applied"
	ResultDuplicate = "duplicate"
	ResultIgnored   = "ignored"
	ResultInvalid   = "invalid"
	ResultClosed    = "closed"
	ResultFailed    = "failed"
)

// ErrClosed is returned by Handle after Shutdown.
var ErrClosed = errors.New("actuation: executor closed")

// Identity names the device and the plant it serves.
type Identity struct {
	HardwareID string
	// PlantID scopes commands that carry no hardware id. Zero disables that path.
	PlantID int64
}

// Executor applies pump commands to the relay. Commands run one at a time;
// a repeated command writes an activity entry but never toggles the relay.
type Executor struct {
	mu       sync.Mutex
	relay    Switch
	identity Identity
	logs     []ActivityLog
	logger   *log.Logger
	now      func() time.Time
	state    PumpState
	closed   bool
}

// NewExecutor constructs an executor. The relay is assumed to be OFF.
func NewExecutor(relay Switch, identity Identity, logger *log.Logger, logs ...ActivityLog) (*Executor, error) {
	if relay == nil {
		return nil, errors.New("actuation: nil relay")
	}
	if identity.HardwareID == "" {
		return nil, errors.New("actuation: empty hardware id")
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Executor{
		relay:    relay,
		identity: identity,
		logs:     logs,
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
	}, nil
}

// Handle applies one command and reports what it did.
func (e *Executor) Handle(ctx context.Context, cmd wire.Command) (string, error) {
	if !e.applies(cmd) {
		e.logger.Printf("actuation: ignored command for %q (plant %d); this device is %q", cmd.HardwareID, cmd.PlantID, e.identity.HardwareID)
		metrics.IncActuationCommand(ResultIgnored)
		return ResultIgnored, nil
	}
	if !cmd.Action.Valid() {
		e.logger.Printf("actuation: unknown command %q", cmd.Action)
		metrics.IncActuationCommand(ResultInvalid)
		return ResultInvalid, nil
	}

	target := PumpState(cmd.Action.On())
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		metrics.IncActuationCommand(ResultClosed)
		return ResultClosed, ErrClosed
	}
	before := e.state
	if target != before {
		if err := e.relay.Set(bool(target)); err != nil {
			e.mu.Unlock()
			e.logger.Printf("actuation: %s failed: %v", cmd.Action, err)
			metrics.IncActuationCommand(ResultFailed)
			return ResultFailed, err
		}
		e.state = target
	}
	e.mu.Unlock()

	result := ResultApplied
	if target == before {
		result = ResultDuplicate
	}
	e.logger.Printf("actuation: [%s] pump %s -> %s (%s)", e.identity.HardwareID, before, target, cmd.Reason)
	e.appendActivity(ctx, Entry{
		CommandID:  cmd.ID,
		PlantID:    cmd.PlantID,
		PlantName:  cmd.PlantName,
		HardwareID: e.identity.HardwareID,
		Action:     cmd.Action,
		Reason:     cmd.Reason,
		Before:     before,
		After:      target,
		Moisture:   cmd.CurrentMoisture,
		Threshold:  cmd.Threshold,
		At:         e.now(),
	})
	metrics.IncActuationCommand(result)
	return result, nil
}

// State returns the current pump state.
func (e *Executor) State() PumpState {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Shutdown drives the relay OFF, releases the pin and rejects later commands.
// It is safe to call more than once.
func (e *Executor) Shutdown() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil
	}
	e.closed = true
	e.state = PumpOff
	return errors.Join(e.relay.Set(false), e.relay.Halt())
}

func (e *Executor) applies(cmd wire.Command) bool {
	if cmd.HardwareID != "" {
		return cmd.HardwareID == e.identity.HardwareID
	}
	return e.identity.PlantID > 0 && cmd.PlantID == e.identity.PlantID
}

func (e *Executor) appendActivity(ctx context.Context, entry Entry) {
	for _, activity := range e.logs {
		if err := activity.Append(ctx, entry); err != nil {
			e.logger.Printf("actuation: activity log: %v", err)
		}
	}
}
