// Package sensor turns raw ADC samples into calibrated, filtered readings.
package sensor

import (
	"fmt"
	"math"
	"time"

	"github.com/sweeney/dosing-station/internal/adc"
	"github.com/sweeney/dosing-station/internal/calibration"
	"github.com/sweeney/dosing-station/internal/filter"
)

// Kind identifies the probe type.
type Kind string

const (
	KindPH  Kind = "ph"
	KindTDS Kind = "tds"
)

// Unit returns the unit readings of this kind are reported in.
func (k Kind) Unit() string {
	switch k {
	case KindPH:
		return "pH"
	case KindTDS:
		return "ppm"
	default:
		return ""
	}
}

// validRange returns the physically plausible bounds for k.
func (k Kind) validRange() (lo, hi float64) {
	switch k {
	case KindPH:
		return 0, 14
	case KindTDS:
		return 0, 5000
	default:
		return math.Inf(-1), math.Inf(1)
	}
}

// Quality classifies how far a reading can be trusted.
type Quality string

const (
	QualityGood         Quality = "good"
	QualityWarning      Quality = "warning"
	QualityUncalibrated Quality = "uncalibrated"
	QualityError        Quality = "error"
)

const (
	// SampleCount is the number of raw conversions averaged per read.
	SampleCount = 10

	// StaleAfter is how old the last reading may be before the sensor is
	// reported unhealthy.
	StaleAfter = 5 * time.Minute

	// ReferenceTempC is the temperature TDS readings are normalised to.
	ReferenceTempC = 25.0

	// TempCoefficient is the fractional conductivity change per degree C.
	TempCoefficient = 0.02

	// warnDeviation is the filtered/calibrated divergence that flags a
	// reading as suspect.
	warnDeviation = 0.1
)

// Reading is one read cycle's result.
type Reading struct {
	Raw              float64
	Calibrated       float64
	Filtered         float64
	Timestamp        time.Time
	Quality          Quality
	CalibrationValid bool
}

// Config describes one sensor in the device configuration.
type Config struct {
	Enabled      bool               `yaml:"enabled"`
	Pin          int                `yaml:"pin"` // ADC input channel
	Calibration  calibration.Config `yaml:"calibration"`
	NoiseFilter  filter.Config      `yaml:"noise_filter"`
	Publishing   Publishing         `yaml:"publishing"`
	ReadInterval time.Duration      `yaml:"read_interval"`
	TemperatureC float64            `yaml:"temperature_c"`
}

// Publishing controls how often readings leave the device.
type Publishing struct {
	RateHz float64 `yaml:"rate_hz"`
}

// Interval converts the rate to a period. A zero rate never publishes.
func (p Publishing) Interval() time.Duration {
	if p.RateHz <= 0 {
		return 0
	}
	return time.Duration(float64(time.Second) / p.RateHz)
}

// Sensor is a single probe: ADC channel, calibration and filter.
type Sensor struct {
	id   string
	kind Kind
	cfg  Config
	adc  adc.Reader

	cal    calibration.Calibration
	calCfg calibration.Config
	filter filter.Filter

	temperatureC float64
	last         Reading
}

// New builds a sensor reading channel cfg.Pin from r. A calibration that
// cannot be built leaves the sensor uncalibrated rather than failing.
func New(id string, kind Kind, cfg Config, r adc.Reader) (*Sensor, error) {
	f, err := filter.New(cfg.NoiseFilter)
	if err != nil {
		return nil, fmt.Errorf("sensor %s: %w", id, err)
	}
	s := &Sensor{
		id:           id,
		kind:         kind,
		cfg:          cfg,
		adc:          r,
		filter:       f,
		temperatureC: cfg.TemperatureC,
	}
	if s.temperatureC == 0 {
		s.temperatureC = ReferenceTempC
	}
	if err := s.SetCalibration(cfg.Calibration); err != nil {
		s.cal, s.calCfg = nil, calibration.Config{}
	}
	return s, nil
}

// ID returns the sensor id.
func (s *Sensor) ID() string { return s.id }

// Kind returns the probe type.
func (s *Sensor) Kind() Kind { return s.kind }

// SetCalibration replaces the active calibration and clears filter history,
// leaving the old one in place if cfg is unusable. Filter history is cleared
// since previously filtered values were in the old calibration's units.
func (s *Sensor) SetCalibration(cfg calibration.Config) error {
	c, err := calibration.New(cfg)
	if err != nil {
		return fmt.Errorf("sensor %s: %w", s.id, err)
	}
	if !c.Valid() {
		return fmt.Errorf("sensor %s: calibration does not define a usable curve", s.id)
	}
	s.cal, s.calCfg = c, cfg
	s.filter.Reset()
	return nil
}

// CalibrationConfig returns the description of the active calibration.
func (s *Sensor) CalibrationConfig() calibration.Config { return s.calCfg }

// SetTemperature updates the solution temperature used for TDS compensation.
func (s *Sensor) SetTemperature(c float64) { s.temperatureC = c }

// Last returns the most recent reading.
func (s *Sensor) Last() Reading { return s.last }

// Read samples the probe and stores the result as the latest reading.
func (s *Sensor) Read(now time.Time) Reading {
	raw, ok := s.sampleRaw()
	r := Reading{Raw: raw, Timestamp: now, CalibrationValid: s.calibrationValid()}
	if !ok {
		r.Calibrated, r.Filtered = raw, raw
		r.Quality = QualityError
		s.last = r
		return r
	}

	r.Calibrated = raw
	if r.CalibrationValid {
		r.Calibrated = s.cal.Calibrate(raw)
	}
	if s.kind == KindTDS {
		r.Calibrated = compensate(r.Calibrated, s.temperatureC)
	}
	r.Filtered = s.filter.Filter(r.Calibrated)
	r.Quality = s.classify(r)
	s.last = r
	return r
}

// Healthy reports whether the sensor has a recent, usable reading.
func (s *Sensor) Healthy(now time.Time) bool {
	if s.last.Timestamp.IsZero() {
		return false
	}
	return now.Sub(s.last.Timestamp) < StaleAfter && s.last.Quality != QualityError
}

func (s *Sensor) calibrationValid() bool {
	return s.cal != nil && s.cal.Valid()
}

// sampleRaw averages up to SampleCount in-range conversions. It reports false
// when none were usable.
func (s *Sensor) sampleRaw() (float64, bool) {
	sum, n := 0, 0
	for i := 0; i < SampleCount; i++ {
		v, err := s.adc.Read(s.cfg.Pin)
		if err != nil || !adc.ValidRaw(v) {
			continue
		}
		sum += v
		n++
	}
	if n == 0 {
		return 0, false
	}
	return float64(sum) / float64(n), true
}

func (s *Sensor) classify(r Reading) Quality {
	if !r.CalibrationValid {
		return QualityUncalibrated
	}
	for _, v := range []float64{r.Calibrated, r.Filtered} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return QualityError
		}
	}
	lo, hi := s.kind.validRange()
	if r.Calibrated < lo || r.Calibrated > hi {
		return QualityError
	}
	if math.Abs(r.Filtered-r.Calibrated) > warnDeviation*math.Abs(r.Calibrated) {
		return QualityWarning
	}
	return QualityGood
}

// compensate normalises a conductivity-derived value to ReferenceTempC.
func compensate(v, tempC float64) float64 {
	return v / (1 + TempCoefficient*(tempC-ReferenceTempC))
}
