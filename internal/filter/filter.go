// Package filter smooths calibrated sensor values and rejects outliers.
//
// Filters never fail on an outlier: they return a held value instead, so a
// transient ADC glitch cannot propagate into dosing decisions.
package filter

import (
	"fmt"
	"math"
)

// Type names the filter variant in configuration.
type Type string

const (
	TypeMovingAverage Type = "moving_average"
	TypeExponential   Type = "exponential"
)

const (
	DefaultWindowSize       = 10
	DefaultOutlierThreshold = 2.0
	DefaultAlpha            = 0.1
)

// Filter is a stateful smoothing stage.
type Filter interface {
	Filter(v float64) float64
	Reset()
}

// Config describes a filter in the device configuration.
type Config struct {
	Enabled          bool    `yaml:"enabled"`
	Type             Type    `yaml:"type"`
	WindowSize       int     `yaml:"window_size"`
	OutlierThreshold float64 `yaml:"outlier_threshold"`
	Alpha            float64 `yaml:"alpha"`
}

// New builds the filter cfg describes. A disabled filter passes values through.
func New(cfg Config) (Filter, error) {
	if !cfg.Enabled {
		return passThrough{}, nil
	}
	threshold := cfg.OutlierThreshold
	if threshold <= 0 {
		threshold = DefaultOutlierThreshold
	}
	switch cfg.Type {
	case TypeMovingAverage:
		return NewMovingAverage(cfg.WindowSize, threshold), nil
	case TypeExponential:
		alpha := cfg.Alpha
		if alpha == 0 {
			alpha = DefaultAlpha
		}
		return NewExponential(alpha, threshold), nil
	default:
		return nil, fmt.Errorf("unknown filter type %q", cfg.Type)
	}
}

type passThrough struct{}

func (passThrough) Filter(v float64) float64 { return v }
func (passThrough) Reset()                   {}

// MovingAverage averages the last N accepted samples.
//
// Once at least three samples are buffered, a value whose z-score against the
// buffer exceeds the threshold is dropped and the current average returned.
type MovingAverage struct {
	buf       []float64
	head      int
	count     int
	threshold float64
}

// NewMovingAverage returns a filter over window samples.
func NewMovingAverage(window int, threshold float64) *MovingAverage {
	if window <= 0 {
		window = DefaultWindowSize
	}
	return &MovingAverage{buf: make([]float64, window), threshold: threshold}
}

func (m *MovingAverage) Filter(v float64) float64 {
	if m.isOutlier(v) {
		return m.average()
	}
	m.buf[m.head] = v
	m.head = (m.head + 1) % len(m.buf)
	if m.count < len(m.buf) {
		m.count++
	}
	return m.average()
}

func (m *MovingAverage) Reset() {
	m.head, m.count = 0, 0
}

// Len reports the number of buffered samples.
func (m *MovingAverage) Len() int { return m.count }

func (m *MovingAverage) average() float64 {
	if m.count == 0 {
		return 0
	}
	sum := 0.0
	for i := 0; i < m.count; i++ {
		sum += m.buf[i]
	}
	return sum / float64(m.count)
}

func (m *MovingAverage) isOutlier(v float64) bool {
	if m.count < 3 {
		return false
	}
	mean := m.average()
	ss := 0.0
	for i := 0; i < m.count; i++ {
		d := m.buf[i] - mean
		ss += d * d
	}
	stddev := math.Sqrt(ss / float64(m.count-1))
	if stddev == 0 {
		return false
	}
	return math.Abs(v-mean)/stddev > m.threshold
}

// Exponential is a single-pole low-pass filter.
type Exponential struct {
	alpha     float64
	threshold float64
	y         float64
	seeded    bool
}

// NewExponential returns a filter with smoothing factor alpha, clamped to [0,1].
func NewExponential(alpha, threshold float64) *Exponential {
	return &Exponential{alpha: math.Max(0, math.Min(1, alpha)), threshold: threshold}
}

func (e *Exponential) Filter(v float64) float64 {
	if !e.seeded {
		e.y, e.seeded = v, true
		return e.y
	}
	if e.isOutlier(v) {
		return e.y
	}
	e.y = e.alpha*v + (1-e.alpha)*e.y
	return e.y
}

func (e *Exponential) Reset() {
	e.y, e.seeded = 0, false
}

// Alpha returns the effective smoothing factor.
func (e *Exponential) Alpha() float64 { return e.alpha }

// Near zero a relative test is meaningless, so small values use the absolute
// difference against the full threshold.
func (e *Exponential) isOutlier(v float64) bool {
	diff := math.Abs(v - e.y)
	if math.Abs(e.y) < 1 {
		return diff > e.threshold
	}
	return diff/math.Abs(e.y) > e.threshold/10
}
