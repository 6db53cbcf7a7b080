package sensor

import (
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/sweeney/dosing-station/internal/calibration"
)

// ErrUnknownSensor is returned for an id that is not registered.
var ErrUnknownSensor = errors.New("unknown sensor")

// ErrNoReading is returned when a sensor has no usable reading to act on.
var ErrNoReading = errors.New("no usable reading")

// Publisher sends readings off the device.
type Publisher interface {
	PublishReading(sensorID, unit string, r Reading) error
	IsConnected() bool
}

// CalibrationStore persists calibrations across restarts.
type CalibrationStore interface {
	SaveCalibration(sensorID string, cfg calibration.Config) error
}

// Status is a sensor's reportable state.
type Status struct {
	ID               string  `json:"sensor_id"`
	Type             Kind    `json:"type"`
	Unit             string  `json:"unit"`
	Healthy          bool    `json:"healthy"`
	CalibrationValid bool    `json:"calibration_valid"`
	Quality          Quality `json:"quality"`
	Raw              float64 `json:"raw"`
	Calibrated       float64 `json:"calibrated"`
	Filtered         float64 `json:"filtered"`
	LastReading      int64   `json:"last_reading"` // unix ms, 0 if never read
}

type schedule struct {
	lastRead    time.Time
	lastPublish time.Time
}

// Manager owns the sensor registry and paces reading and publishing.
type Manager struct {
	sensors map[string]*Sensor
	order   []string
	timing  map[string]*schedule

	pub   Publisher
	store CalibrationStore
	log   zerolog.Logger
}

// NewManager creates an empty registry. pub and store may be nil.
func NewManager(pub Publisher, store CalibrationStore, log zerolog.Logger) *Manager {
	return &Manager{
		sensors: make(map[string]*Sensor),
		timing:  make(map[string]*schedule),
		pub:     pub,
		store:   store,
		log:     log.With().Str("component", "sensors").Logger(),
	}
}

// Add registers s, replacing any sensor with the same id.
func (m *Manager) Add(s *Sensor) {
	if _, ok := m.sensors[s.id]; !ok {
		m.order = append(m.order, s.id)
	}
	m.sensors[s.id] = s
	m.timing[s.id] = &schedule{}
	if !s.calibrationValid() {
		m.log.Warn().Str("sensor", s.id).Msg("sensor has no valid calibration, reporting raw values")
	}
}

// Get looks up a sensor by id.
func (m *Manager) Get(id string) (*Sensor, bool) {
	s, ok := m.sensors[id]
	return s, ok
}

// Value returns the latest filtered value of sensor id. Readings that are
// missing, uncalibrated or in error are refused so nothing doses on them.
func (m *Manager) Value(id string) (float64, error) {
	s, ok := m.sensors[id]
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrUnknownSensor, id)
	}
	r := s.Last()
	switch {
	case r.Timestamp.IsZero():
		return 0, fmt.Errorf("%w: sensor %s has not been read", ErrNoReading, id)
	case r.Quality == QualityError, r.Quality == QualityUncalibrated:
		return 0, fmt.Errorf("%w: sensor %s quality %s", ErrNoReading, id, r.Quality)
	}
	return r.Filtered, nil
}

// Poll reads every sensor whose read interval has elapsed and publishes
// those whose publish interval has elapsed.
func (m *Manager) Poll(now time.Time) {
	for _, id := range m.order {
		s := m.sensors[id]
		if !s.cfg.Enabled {
			continue
		}
		t := m.timing[id]

		if t.lastRead.IsZero() || now.Sub(t.lastRead) >= s.cfg.ReadInterval {
			r := s.Read(now)
			t.lastRead = now
			if r.Quality == QualityError {
				m.log.Debug().Str("sensor", id).Float64("raw", r.Raw).Msg("sensor reading in error")
			}
		}

		every := s.cfg.Publishing.Interval()
		if every == 0 || s.last.Timestamp.IsZero() {
			continue
		}
		if !t.lastPublish.IsZero() && now.Sub(t.lastPublish) < every {
			continue
		}
		if m.pub == nil || !m.pub.IsConnected() {
			continue
		}
		t.lastPublish = now
		if err := m.pub.PublishReading(id, s.kind.Unit(), s.last); err != nil {
			m.log.Warn().Err(err).Str("sensor", id).Msg("publish reading failed")
		}
	}
}

// Calibrate replaces the calibration of sensor id with points. pH probes
// need at least two buffers; TDS accepts a single reference solution.
func (m *Manager) Calibrate(id string, points []calibration.Point) error {
	s, ok := m.sensors[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownSensor, id)
	}

	var cfg calibration.Config
	switch {
	case s.kind == KindPH && len(points) < 2:
		return fmt.Errorf("pH calibration requires at least 2 points, got %d", len(points))
	case len(points) == 0:
		return errors.New("calibration requires at least 1 point")
	case len(points) == 1:
		cfg = calibration.Config{Type: calibration.TypeSinglePoint, Points: points}
	default:
		cfg = calibration.Config{Type: calibration.TypeMultiPoint, Points: points}
	}

	if err := s.SetCalibration(cfg); err != nil {
		return err
	}
	m.log.Info().Str("sensor", id).Int("points", len(points)).Str("type", string(cfg.Type)).Msg("sensor calibrated")

	if m.store != nil {
		if err := m.store.SaveCalibration(id, cfg); err != nil {
			m.log.Error().Err(err).Str("sensor", id).Msg("calibration applied but not persisted")
		}
	}
	return nil
}

// Status returns every sensor's state in registration order.
func (m *Manager) Status(now time.Time) []Status {
	out := make([]Status, 0, len(m.order))
	for _, id := range m.order {
		s := m.sensors[id]
		r := s.Last()
		st := Status{
			ID:               id,
			Type:             s.kind,
			Unit:             s.kind.Unit(),
			Healthy:          s.Healthy(now),
			CalibrationValid: s.calibrationValid(),
			Quality:          r.Quality,
			Raw:              r.Raw,
			Calibrated:       r.Calibrated,
			Filtered:         r.Filtered,
		}
		if !r.Timestamp.IsZero() {
			st.LastReading = r.Timestamp.UnixMilli()
		}
		out = append(out, st)
	}
	return out
}

// AllHealthy reports whether every enabled sensor is healthy.
func (m *Manager) AllHealthy(now time.Time) bool {
	for _, s := range m.sensors {
		if s.cfg.Enabled && !s.Healthy(now) {
			return false
		}
	}
	return true
}
