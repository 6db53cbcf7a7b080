package actuator

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog"
	"github.com/sweeney/dosing-station/internal/gpio"
)

// Manager errors.
var (
	ErrEmergencyStop   = errors.New("emergency stop active")
	ErrManagerNotReady = errors.New("actuator manager not initialized")
	ErrUnknownActuator = errors.New("unknown actuator")
	ErrNotDoser        = errors.New("actuator is not a dosing pump")
	ErrNotSchedulable  = errors.New("actuator does not support schedules")
	ErrNoEmergencyStop = errors.New("no emergency stop is currently active")
)

// Set is the configuration of every actuator on the device.
type Set struct {
	WaterPump   Config
	AirPump     Config
	DosingPumps map[string]Config
}

// ManagerStatus is the registry-wide status.
type ManagerStatus struct {
	AllHealthy          bool     `json:"all_healthy"`
	EmergencyStopActive bool     `json:"emergency_stop_active"`
	EmergencyStopReason string   `json:"emergency_stop_reason,omitempty"`
	Actuators           []Status `json:"actuators"`
}

// Manager owns every actuator. Actuation passes the emergency stop gate,
// then the initialization gate, then the actuator's own guards.
type Manager struct {
	actuators map[string]Actuator
	order     []string

	initialized bool
	estop       bool
	estopReason string

	log zerolog.Logger
}

// NewManager creates an empty, uninitialized registry.
func NewManager(log zerolog.Logger) *Manager {
	return &Manager{
		actuators: make(map[string]Actuator),
		log:       log.With().Str("component", "actuators").Logger(),
	}
}

// Init builds every enabled actuator in set on lines from chip. On failure
// any lines already claimed are released.
func (m *Manager) Init(set Set, chip gpio.Chip) error {
	type entry struct {
		id  string
		cfg Config
		a   interface {
			Actuator
			Init(Config, gpio.Line) error
		}
	}

	entries := []entry{
		{IDWaterPump, set.WaterPump, NewScheduledPump(IDWaterPump, TypeWaterPump, m.log)},
		{IDAirPump, set.AirPump, NewScheduledPump(IDAirPump, TypeAirPump, m.log)},
	}
	ids := make([]string, 0, len(set.DosingPumps))
	for id := range set.DosingPumps {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		entries = append(entries, entry{id, set.DosingPumps[id], NewDosingPump(id, m.log)})
	}

	for _, e := range entries {
		if !e.cfg.Enabled {
			continue
		}
		line, err := chip.Output(e.cfg.Pin)
		if err != nil {
			m.Close()
			return fmt.Errorf("actuator %s: %w", e.id, err)
		}
		if err := e.a.Init(e.cfg, line); err != nil {
			line.Close()
			m.Close()
			return fmt.Errorf("actuator %s: %w", e.id, err)
		}
		m.Add(e.a)
	}

	m.initialized = true
	m.log.Info().Int("count", len(m.order)).Strs("actuators", m.order).Msg("actuators initialized")
	return nil
}

// Add registers an already-initialized actuator and marks the manager ready.
func (m *Manager) Add(a Actuator) {
	if _, ok := m.actuators[a.ID()]; !ok {
		m.order = append(m.order, a.ID())
	}
	m.actuators[a.ID()] = a
	m.initialized = true
}

// Get looks up an actuator by id.
func (m *Manager) Get(id string) (Actuator, bool) {
	a, ok := m.actuators[id]
	return a, ok
}

// Has reports whether id is registered.
func (m *Manager) Has(id string) bool {
	_, ok := m.actuators[id]
	return ok
}

// IDs returns actuator ids in registration order.
func (m *Manager) IDs() []string {
	out := make([]string, len(m.order))
	copy(out, m.order)
	return out
}

// Doser looks up a dosing-capable actuator by id.
func (m *Manager) Doser(id string) (Doser, error) {
	a, ok := m.actuators[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownActuator, id)
	}
	d, ok := a.(Doser)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotDoser, id)
	}
	return d, nil
}

func (m *Manager) schedulable(id string) (Schedulable, error) {
	a, ok := m.actuators[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownActuator, id)
	}
	s, ok := a.(Schedulable)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotSchedulable, id)
	}
	return s, nil
}

func (m *Manager) gate() error {
	if m.estop {
		return fmt.Errorf("%w: %s", ErrEmergencyStop, m.estopReason)
	}
	if !m.initialized {
		return ErrManagerNotReady
	}
	return nil
}

// Activate runs actuator id for d.
func (m *Manager) Activate(id string, d time.Duration, now time.Time) error {
	if err := m.gate(); err != nil {
		return err
	}
	a, ok := m.actuators[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownActuator, id)
	}
	return a.Activate(d, now)
}

// Deactivate stops actuator id. It is never gated, so pumps can always be
// stopped.
func (m *Manager) Deactivate(id string, now time.Time) error {
	a, ok := m.actuators[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownActuator, id)
	}
	return a.Deactivate(now)
}

// Dose dispenses volumeMl from dosing pump id and returns the run time.
func (m *Manager) Dose(id string, volumeMl float64, now time.Time) (time.Duration, error) {
	if err := m.gate(); err != nil {
		return 0, err
	}
	d, err := m.Doser(id)
	if err != nil {
		return 0, err
	}
	return d.Dose(volumeMl, now)
}

// CanDose reports whether Dose would currently be accepted.
func (m *Manager) CanDose(id string, volumeMl float64, now time.Time) error {
	if err := m.gate(); err != nil {
		return err
	}
	d, err := m.Doser(id)
	if err != nil {
		return err
	}
	return d.CanDose(volumeMl, now)
}

// SetSchedule installs a periodic run on actuator id.
func (m *Manager) SetSchedule(id string, interval, duration time.Duration) error {
	if err := m.gate(); err != nil {
		return err
	}
	s, err := m.schedulable(id)
	if err != nil {
		return err
	}
	return s.SetSchedule(interval, duration)
}

// CancelSchedule removes the periodic run from actuator id. Like
// Deactivate it is allowed during an emergency stop.
func (m *Manager) CancelSchedule(id string) error {
	if !m.initialized {
		return ErrManagerNotReady
	}
	s, err := m.schedulable(id)
	if err != nil {
		return err
	}
	s.CancelSchedule()
	return nil
}

// StopAll deactivates every active actuator, continuing past failures. The
// returned error joins every failure.
func (m *Manager) StopAll(now time.Time) error {
	var errs []error
	for _, id := range m.order {
		a := m.actuators[id]
		if a.State() != StateActive {
			continue
		}
		if err := a.Deactivate(now); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", id, err))
		}
	}
	return errors.Join(errs...)
}

// EmergencyStop latches the stop flag and stops every actuator. Further
// actuation is refused until ClearEmergencyStop.
func (m *Manager) EmergencyStop(reason string, now time.Time) error {
	m.estop = true
	m.estopReason = reason
	m.log.Warn().Str("reason", reason).Msg("emergency stop")
	return m.StopAll(now)
}

// ClearEmergencyStop releases the stop latch.
func (m *Manager) ClearEmergencyStop() error {
	if !m.estop {
		return ErrNoEmergencyStop
	}
	m.estop = false
	m.estopReason = ""
	m.log.Info().Msg("emergency stop cleared")
	return nil
}

// EmergencyStopActive reports the latch and its reason.
func (m *Manager) EmergencyStopActive() (bool, string) {
	return m.estop, m.estopReason
}

// ResetFaults clears the error latch on every actuator.
func (m *Manager) ResetFaults() {
	for _, id := range m.order {
		m.actuators[id].ResetFault()
	}
}

// Poll advances every actuator. Schedules only run while no emergency stop
// is latched.
func (m *Manager) Poll(now time.Time) {
	for _, id := range m.order {
		a := m.actuators[id]
		a.Poll(now)
		if s, ok := a.(Schedulable); ok && !m.estop && m.initialized {
			s.RunSchedule(now)
		}
	}
}

// AllHealthy reports whether every actuator is healthy.
func (m *Manager) AllHealthy(now time.Time) bool {
	for _, a := range m.actuators {
		if !a.Healthy(now) {
			return false
		}
	}
	return true
}

// Status returns the registry-wide status.
func (m *Manager) Status(now time.Time) ManagerStatus {
	st := ManagerStatus{
		AllHealthy:          m.AllHealthy(now),
		EmergencyStopActive: m.estop,
		EmergencyStopReason: m.estopReason,
		Actuators:           make([]Status, 0, len(m.order)),
	}
	for _, id := range m.order {
		st.Actuators = append(st.Actuators, m.actuators[id].Status(now))
	}
	return st
}

// Close releases every actuator's line.
func (m *Manager) Close() error {
	var errs []error
	for _, id := range m.order {
		if err := m.actuators[id].Close(); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", id, err))
		}
	}
	return errors.Join(errs...)
}
