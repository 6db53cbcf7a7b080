package actuator

import (
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/sweeney/dosing-station/internal/gpio"
)

// Actuator is the capability every pump has.
type Actuator interface {
	ID() string
	Type() Type
	State() State
	Config() Config
	Activate(d time.Duration, now time.Time) error
	Deactivate(now time.Time) error
	Poll(now time.Time)
	ResetFault()
	Healthy(now time.Time) bool
	Status(now time.Time) Status
	Close() error
}

// Pump is a timed on/off pump on a single GPIO line.
//
// Activation is guarded by initialization, enablement, the active state,
// the error latch, cooldown and the configured max runtime. A planned
// duration of zero runs until Deactivate; max runtime still applies.
type Pump struct {
	id   string
	typ  Type
	cfg  Config
	line gpio.Line
	log  zerolog.Logger

	initialized bool
	state       State

	activationStart time.Time
	lastEnd         time.Time
	planned         time.Duration
	totalRuntime    time.Duration
	activations     int
	lastError       string
}

// NewPump creates an uninitialized pump.
func NewPump(id string, typ Type, log zerolog.Logger) *Pump {
	return &Pump{
		id:    id,
		typ:   typ,
		state: StateIdle,
		log:   log.With().Str("component", "actuator").Str("actuator", id).Logger(),
	}
}

// Init installs cfg and takes ownership of line, driving it low. Calling
// Init again replaces the configuration wholesale.
func (p *Pump) Init(cfg Config, line gpio.Line) error {
	if err := line.SetValue(0); err != nil {
		return fmt.Errorf("%w: init %s: %v", ErrHardware, p.id, err)
	}
	p.cfg = cfg
	p.line = line
	p.initialized = true
	p.state = StateIdle
	if !cfg.Enabled {
		p.state = StateDisabled
	}
	return nil
}

func (p *Pump) ID() string     { return p.id }
func (p *Pump) Type() Type     { return p.typ }
func (p *Pump) State() State   { return p.state }
func (p *Pump) Config() Config { return p.cfg }

// LastError returns the reason for the last fault, if any.
func (p *Pump) LastError() string { return p.lastError }

// Activate turns the pump on for d. The first failing guard is returned and
// the pump is left unchanged.
func (p *Pump) Activate(d time.Duration, now time.Time) error {
	if err := p.checkActivate(d, now); err != nil {
		return err
	}
	if err := p.line.SetValue(1); err != nil {
		p.fault("Hardware activation failed")
		return fmt.Errorf("%w: activate %s: %v", ErrHardware, p.id, err)
	}

	p.state = StateActive
	p.activationStart = now
	p.planned = d
	p.activations++
	p.log.Info().Dur("duration", d).Msg("pump activated")
	return nil
}

func (p *Pump) checkActivate(d time.Duration, now time.Time) error {
	switch {
	case !p.initialized:
		return ErrNotInitialized
	case !p.cfg.Enabled:
		return ErrDisabled
	case p.state == StateActive:
		return ErrAlreadyActive
	case p.state == StateError:
		return ErrFaulted
	case p.inCooldown(now):
		return fmt.Errorf("%w: %s remaining", ErrCooldown, p.cooldownRemaining(now).Round(time.Second))
	case d > p.cfg.MaxRuntime:
		return fmt.Errorf("%w: %s > %s", ErrExceedsMaxRuntime, d, p.cfg.MaxRuntime)
	case d < 0:
		return ErrInvalidDuration
	}
	return nil
}

// Deactivate turns the pump off. It is only valid while active.
func (p *Pump) Deactivate(now time.Time) error {
	if p.state != StateActive {
		return ErrNotActive
	}
	if err := p.line.SetValue(0); err != nil {
		p.fault("Hardware deactivation failed")
		return fmt.Errorf("%w: deactivate %s: %v", ErrHardware, p.id, err)
	}

	runtime := now.Sub(p.activationStart)
	p.totalRuntime += runtime
	p.lastEnd = now
	p.activationStart = time.Time{}
	p.planned = 0
	p.state = StateIdle
	p.log.Info().Dur("runtime", runtime).Msg("pump deactivated")
	return nil
}

// Poll advances the watchdogs: planned-duration auto stop, the max runtime
// safety net and the cooldown projection.
func (p *Pump) Poll(now time.Time) {
	if p.state == StateActive {
		runtime := now.Sub(p.activationStart)
		switch {
		case p.planned > 0 && runtime >= p.planned:
			if err := p.Deactivate(now); err != nil {
				p.log.Error().Err(err).Msg("auto deactivation failed")
			}
		case runtime > p.cfg.MaxRuntime:
			if err := p.Deactivate(now); err != nil {
				p.log.Error().Err(err).Msg("forced deactivation failed")
			}
			p.fault("Max runtime exceeded")
		}
		return
	}

	if (p.state == StateIdle || p.state == StateCooldown) && !p.lastEnd.IsZero() {
		if p.inCooldown(now) {
			p.state = StateCooldown
		} else {
			p.state = StateIdle
		}
	}
}

// ResetFault clears a latched error. It is the only way out of StateError.
func (p *Pump) ResetFault() {
	if p.state != StateError {
		return
	}
	p.lastError = ""
	p.state = StateIdle
	if !p.cfg.Enabled {
		p.state = StateDisabled
	}
	p.log.Info().Msg("fault cleared")
}

// Healthy reports whether the pump is usable.
func (p *Pump) Healthy(now time.Time) bool {
	return p.initialized && p.state != StateError
}

// InCooldown reports whether the pump is inside its cooldown window.
func (p *Pump) InCooldown(now time.Time) bool { return p.inCooldown(now) }

// Status reports the pump's state.
func (p *Pump) Status(now time.Time) Status {
	return Status{
		ID:                p.id,
		Type:              p.typ,
		State:             p.state,
		Enabled:           p.cfg.Enabled,
		Healthy:           p.Healthy(now),
		ActivationCount:   p.activations,
		TotalRuntimeMs:    p.totalRuntime.Milliseconds(),
		CooldownRemaining: p.cooldownRemaining(now).Milliseconds(),
		LastError:         p.lastError,
	}
}

// Close turns the pump off and releases its line.
func (p *Pump) Close() error {
	if p.line == nil {
		return nil
	}
	return p.line.Close()
}

func (p *Pump) inCooldown(now time.Time) bool {
	return !p.lastEnd.IsZero() && now.Sub(p.lastEnd) < p.cfg.Cooldown
}

func (p *Pump) cooldownRemaining(now time.Time) time.Duration {
	if !p.inCooldown(now) {
		return 0
	}
	return p.cfg.Cooldown - now.Sub(p.lastEnd)
}

func (p *Pump) fault(reason string) {
	p.state = StateError
	p.lastError = reason
	p.log.Error().Str("reason", reason).Msg("actuator fault")
}
