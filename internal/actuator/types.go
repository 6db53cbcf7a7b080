// Package actuator implements the pump safety state machine and the
// registry that gates every actuation behind the emergency stop.
//
// All methods take the current time explicitly; nothing here reads the
// wall clock, so behaviour under test is fully deterministic.
package actuator

import (
	"errors"
	"time"
)

// State is an actuator's life-cycle state.
type State string

const (
	StateIdle     State = "idle"
	StateActive   State = "active"
	StateCooldown State = "cooldown"
	StateError    State = "error"
	StateDisabled State = "disabled"
)

// Type names the actuator variant.
type Type string

const (
	TypeDosingPump Type = "dosing_pump"
	TypeWaterPump  Type = "water_pump"
	TypeAirPump    Type = "air_pump"
)

// Well-known actuator ids.
const (
	IDWaterPump = "water_pump"
	IDAirPump   = "air_pump"
	IDPHDown    = "ph_down"
	IDPHUp      = "ph_up"
	IDNutrientA = "nutrient_a"
	IDNutrientB = "nutrient_b"
	IDCalMag    = "cal_mag"
)

// NutrientPumps are the dosing pumps used to raise TDS, in dosing order.
var NutrientPumps = []string{IDNutrientA, IDNutrientB, IDCalMag}

// Guard rejections. None of these change actuator state.
var (
	ErrNotInitialized    = errors.New("actuator not initialized")
	ErrDisabled          = errors.New("actuator disabled")
	ErrAlreadyActive     = errors.New("actuator already active")
	ErrNotActive         = errors.New("actuator not active")
	ErrFaulted           = errors.New("actuator in error state")
	ErrCooldown          = errors.New("actuator in cooldown")
	ErrExceedsMaxRuntime = errors.New("duration exceeds max runtime")
	ErrInvalidDuration   = errors.New("invalid duration")
	ErrInvalidVolume     = errors.New("invalid volume")
	ErrExceedsMaxDose    = errors.New("volume exceeds max dose")
	ErrNoFlowRate        = errors.New("flow rate not configured")
	ErrInvalidSchedule   = errors.New("invalid schedule")
)

// ErrHardware wraps a failed GPIO write. The actuator latches StateError.
var ErrHardware = errors.New("hardware failure")

// Config is an actuator's configuration. It is immutable once the actuator
// is initialized. See yaml.go for the file shape.
type Config struct {
	Enabled       bool
	Pin           int
	FlowRate      float64
	MaxRuntime    time.Duration
	Cooldown      time.Duration
	Substance     string
	Concentration string
	Schedule      ScheduleConfig
}

// ScheduleConfig is a periodic activation policy.
type ScheduleConfig struct {
	Enabled  bool
	Interval time.Duration
	Duration time.Duration
}

// Status is an actuator's reportable state.
type Status struct {
	ID                string        `json:"actuator_id"`
	Type              Type          `json:"type"`
	State             State         `json:"state"`
	Enabled           bool          `json:"enabled"`
	Healthy           bool          `json:"healthy"`
	ActivationCount   int           `json:"activation_count"`
	TotalRuntimeMs    int64         `json:"total_runtime_ms"`
	CooldownRemaining int64         `json:"cooldown_remaining_ms"`
	LastError         string        `json:"last_error,omitempty"`
	Dosing            *DosingStatus `json:"dosing,omitempty"`
	Schedule          *ScheduleInfo `json:"schedule,omitempty"`
}

// DosingStatus carries the dosing pump extras.
type DosingStatus struct {
	Substance     string  `json:"substance"`
	Concentration string  `json:"concentration"`
	FlowRate      float64 `json:"flow_rate_ml_per_sec"`
	MaxDoseMl     float64 `json:"max_dose_ml"`
	TotalVolumeMl float64 `json:"total_volume_ml"`
	LastDose      int64   `json:"last_dose"` // unix ms, 0 if never
}

// ScheduleInfo carries the scheduled pump extras.
type ScheduleInfo struct {
	Enabled         bool  `json:"enabled"`
	IntervalMinutes int   `json:"interval_minutes"`
	DurationSeconds int   `json:"duration_seconds"`
	LastRun         int64 `json:"last_run"` // unix ms, 0 if never
}
