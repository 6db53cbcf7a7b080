package actuator

import (
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/sweeney/dosing-station/internal/gpio"
)

// Schedulable is the capability of running periodically on its own.
type Schedulable interface {
	Actuator
	SetSchedule(interval, duration time.Duration) error
	CancelSchedule()
	RunSchedule(now time.Time)
	Schedule() ScheduleConfig
}

// ScheduledPump is a water or air pump with an optional periodic run.
type ScheduledPump struct {
	*Pump

	schedule ScheduleConfig
	lastRun  time.Time
}

// NewScheduledPump creates an uninitialized scheduled pump.
func NewScheduledPump(id string, typ Type, log zerolog.Logger) *ScheduledPump {
	return &ScheduledPump{Pump: NewPump(id, typ, log)}
}

// Init installs cfg and adopts its schedule, if enabled.
func (s *ScheduledPump) Init(cfg Config, line gpio.Line) error {
	if err := s.Pump.Init(cfg, line); err != nil {
		return err
	}
	s.schedule, s.lastRun = ScheduleConfig{}, time.Time{}
	if cfg.Schedule.Enabled {
		if err := s.SetSchedule(cfg.Schedule.Interval, cfg.Schedule.Duration); err != nil {
			return fmt.Errorf("%s: %w", s.id, err)
		}
	}
	return nil
}

// SetSchedule enables a periodic run of duration every interval. The first
// run is due immediately.
func (s *ScheduledPump) SetSchedule(interval, duration time.Duration) error {
	switch {
	case interval <= 0:
		return fmt.Errorf("%w: interval must be positive", ErrInvalidSchedule)
	case duration <= 0:
		return fmt.Errorf("%w: duration must be positive", ErrInvalidSchedule)
	case duration > s.cfg.MaxRuntime:
		return fmt.Errorf("%w: duration %s exceeds max runtime %s", ErrInvalidSchedule, duration, s.cfg.MaxRuntime)
	}
	s.schedule = ScheduleConfig{Enabled: true, Interval: interval, Duration: duration}
	s.lastRun = time.Time{}
	s.log.Info().Dur("interval", interval).Dur("duration", duration).Msg("schedule set")
	return nil
}

// CancelSchedule disables the periodic run.
func (s *ScheduledPump) CancelSchedule() {
	s.schedule.Enabled = false
	s.log.Info().Msg("schedule cancelled")
}

// Schedule returns the current schedule.
func (s *ScheduledPump) Schedule() ScheduleConfig { return s.schedule }

// RunSchedule activates the pump when a scheduled run is due. A run blocked
// by cooldown or a latched fault waits silently; any other failure is logged
// and retried on the next call.
func (s *ScheduledPump) RunSchedule(now time.Time) {
	if !s.schedule.Enabled || s.state == StateActive {
		return
	}
	if !s.lastRun.IsZero() && now.Sub(s.lastRun) < s.schedule.Interval {
		return
	}
	if err := s.Activate(s.schedule.Duration, now); err != nil {
		if !errors.Is(err, ErrCooldown) && !errors.Is(err, ErrFaulted) {
			s.log.Warn().Err(err).Msg("scheduled activation failed")
		}
		return
	}
	s.lastRun = now
}

// Status adds the schedule to the pump status.
func (s *ScheduledPump) Status(now time.Time) Status {
	st := s.Pump.Status(now)
	st.Schedule = &ScheduleInfo{
		Enabled:         s.schedule.Enabled,
		IntervalMinutes: int(s.schedule.Interval.Minutes()),
		DurationSeconds: int(s.schedule.Duration.Seconds()),
	}
	if !s.lastRun.IsZero() {
		st.Schedule.LastRun = s.lastRun.UnixMilli()
	}
	return st
}
