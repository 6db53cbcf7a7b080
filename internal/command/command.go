// Package command validates and executes operator and automation requests
// against the actuator and sensor managers.
//
// Commands never own the managers. Each Validate, Step and Abort call
// receives an Env borrowing them for that call only, and closed-loop target
// commands keep their progress as plain state advanced one step per tick.
package command

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/sweeney/dosing-station/internal/actuator"
	"github.com/sweeney/dosing-station/internal/calibration"
	"github.com/sweeney/dosing-station/internal/sensor"
)

// Status is a command's life-cycle state. The numeric values are part of
// the response wire format.
type Status int

const (
	StatusPending Status = iota
	StatusExecuting
	StatusCompleted
	StatusFailed
	StatusTimeout
)

func (s Status) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusExecuting:
		return "executing"
	case StatusCompleted:
		return "completed"
	case StatusFailed:
		return "failed"
	case StatusTimeout:
		return "timeout"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// Terminal reports whether s ends the life cycle.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusTimeout
}

// Kind names a command on the wire.
type Kind string

const (
	KindActivatePump       Kind = "activate_pump"
	KindStopPump           Kind = "stop_pump"
	KindStopAllPumps       Kind = "stop_all_pumps"
	KindDoseVolume         Kind = "dose_volume"
	KindSchedulePump       Kind = "schedule_pump"
	KindCancelSchedule     Kind = "cancel_schedule"
	KindAdjustPHBy         Kind = "adjust_ph_by"
	KindSetPHTarget        Kind = "set_ph_target"
	KindAdjustTDSBy        Kind = "adjust_tds_by"
	KindSetTDSTarget       Kind = "set_tds_target"
	KindEmergencyStop      Kind = "emergency_stop"
	KindClearEmergencyStop Kind = "clear_emergency_stop"
	KindCalibrateSensor    Kind = "calibrate_sensor"
	KindResetSystem        Kind = "reset_system"
	KindGetSystemStatus    Kind = "get_system_status"
)

// Request errors.
var (
	ErrMissingField   = errors.New("missing required field")
	ErrUnknownKind    = errors.New("unknown command")
	ErrInvalidParam   = errors.New("invalid parameter")
	ErrDuplicateID    = errors.New("command id already in progress")
	ErrQueueFull      = errors.New("command queue full")
	ErrAborted        = errors.New("command aborted")
	ErrTargetMissed   = errors.New("target not reached")
	ErrTimedOut       = errors.New("command timed out")
	ErrNoNutrientPump = errors.New("no nutrient pumps available")
)

// Request is an incoming command.
type Request struct {
	CommandID string `json:"command_id"`
	Command   Kind   `json:"command"`
	Params    Params `json:"params"`
}

// ParseRequest decodes a request and checks that command_id, command and
// params are present and well typed. On failure the returned Request still
// carries the command id when one could be read, so the caller can answer it.
func ParseRequest(data []byte) (Request, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return Request{}, fmt.Errorf("decode request: %w", err)
	}

	var req Request
	if v, ok := raw["command_id"]; ok {
		if err := json.Unmarshal(v, &req.CommandID); err != nil {
			return Request{}, fmt.Errorf("%w: command_id must be a string", ErrInvalidParam)
		}
	}
	if req.CommandID == "" {
		return req, fmt.Errorf("%w: command_id", ErrMissingField)
	}

	v, ok := raw["command"]
	if !ok {
		return req, fmt.Errorf("%w: command", ErrMissingField)
	}
	if err := json.Unmarshal(v, &req.Command); err != nil || req.Command == "" {
		return req, fmt.Errorf("%w: command must be a non-empty string", ErrInvalidParam)
	}

	v, ok = raw["params"]
	if !ok {
		return req, fmt.Errorf("%w: params", ErrMissingField)
	}
	if err := json.Unmarshal(v, &req.Params); err != nil || req.Params == nil {
		return req, fmt.Errorf("%w: params must be an object", ErrInvalidParam)
	}
	return req, nil
}

// Response reports a command's outcome.
type Response struct {
	CommandID       string         `json:"command_id"`
	Status          Status         `json:"status"`
	StatusText      string         `json:"status_text"`
	Error           string         `json:"error,omitempty"`
	Result          map[string]any `json:"result"`
	Timestamp       int64          `json:"timestamp"`
	ExecutionTimeMs int64          `json:"execution_time_ms"`
}

// Actuators is the actuator manager as commands see it.
type Actuators interface {
	Has(id string) bool
	Activate(id string, d time.Duration, now time.Time) error
	Deactivate(id string, now time.Time) error
	Dose(id string, volumeMl float64, now time.Time) (time.Duration, error)
	CanDose(id string, volumeMl float64, now time.Time) error
	SetSchedule(id string, interval, duration time.Duration) error
	CancelSchedule(id string) error
	StopAll(now time.Time) error
	EmergencyStop(reason string, now time.Time) error
	ClearEmergencyStop() error
	EmergencyStopActive() (bool, string)
	ResetFaults()
	Status(now time.Time) actuator.ManagerStatus
}

// Sensors is the sensor manager as commands see it.
type Sensors interface {
	Value(id string) (float64, error)
	Calibrate(id string, points []calibration.Point) error
	Status(now time.Time) []sensor.Status
}

// Env is what a command may touch during one call. It is rebuilt for every
// call and must not be retained.
type Env struct {
	Now       time.Time
	Actuators Actuators
	Sensors   Sensors
	Stats     Stats
	Log       zerolog.Logger
}

// Command is a validated unit of work.
type Command interface {
	// Validate checks the command against current device state. A command
	// that fails validation never executes.
	Validate(env *Env) error

	// Step advances execution and reports whether the command has finished.
	// A non-nil error fails the command.
	Step(env *Env) (done bool, err error)

	// Result is the command-specific response payload.
	Result() map[string]any

	// Abort stops whatever hardware the command started, best effort.
	Abort(env *Env)
}

// waiter is implemented by commands that pause between steps.
type waiter interface {
	WakeAt() time.Time
}

// budgeter is implemented by commands whose planned run time extends the
// processor timeout.
type budgeter interface {
	Budget() time.Duration
}

// restarter is implemented by commands that ask the application to restart
// once their response is out.
type restarter interface {
	RestartRequested() bool
}

type builder func(id string, p Params) (Command, error)

var builders = map[Kind]builder{
	KindActivatePump:       newActivatePump,
	KindStopPump:           newStopPump,
	KindStopAllPumps:       newStopAllPumps,
	KindDoseVolume:         newDoseVolume,
	KindSchedulePump:       newSchedulePump,
	KindCancelSchedule:     newCancelSchedule,
	KindAdjustPHBy:         newAdjustPHByCommand,
	KindSetPHTarget:        newSetPHTarget,
	KindAdjustTDSBy:        newAdjustTDSByCommand,
	KindSetTDSTarget:       newSetTDSTarget,
	KindEmergencyStop:      newEmergencyStop,
	KindClearEmergencyStop: newClearEmergencyStop,
	KindCalibrateSensor:    newCalibrateSensor,
	KindResetSystem:        newResetSystem,
	KindGetSystemStatus:    newGetSystemStatus,
}

// Known reports whether k is a supported command.
func Known(k Kind) bool {
	_, ok := builders[k]
	return ok
}

// Build parses params for kind into a ready-to-validate command.
func Build(id string, kind Kind, p Params) (Command, error) {
	b, ok := builders[kind]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownKind, kind)
	}
	return b(id, p)
}

func checkEmergencyStop(env *Env) error {
	if active, reason := env.Actuators.EmergencyStopActive(); active {
		return fmt.Errorf("%w: %s", actuator.ErrEmergencyStop, reason)
	}
	return nil
}

func checkActuator(env *Env, id string) error {
	if !env.Actuators.Has(id) {
		return fmt.Errorf("%w: %s", actuator.ErrUnknownActuator, id)
	}
	return nil
}
