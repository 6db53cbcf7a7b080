// Package calibration maps raw ADC counts to physical units.
//
// All calibrations are pure functions of their points or coefficients. An
// invalid calibration passes raw values through unchanged; the owning sensor
// reports that via Reading.CalibrationValid rather than failing.
package calibration

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sort"
)

// Type names the calibration variant in configuration.
type Type string

const (
	TypeLinear      Type = "linear"
	TypeMultiPoint  Type = "multi_point"
	TypeSinglePoint Type = "single_point"
)

// minRawSpan is the smallest raw distance between two points that still
// defines a usable slope.
const minRawSpan = 1e-3

// ErrDuplicateRaw is returned when a point's raw value collides with an
// existing point.
var ErrDuplicateRaw = errors.New("calibration: duplicate raw value")

// Point pairs a raw reading with its physical value.
type Point struct {
	Raw   float64 `json:"raw" yaml:"raw"`
	Value float64 `json:"value" yaml:"value"`
}

// UnmarshalJSON accepts the value under "value", "ph" or "tds" so that
// calibration_points from the command channel can be decoded directly.
func (p *Point) UnmarshalJSON(data []byte) error {
	var m map[string]*float64
	if err := json.Unmarshal(data, &m); err != nil {
		return err
	}
	raw, ok := m["raw"]
	if !ok || raw == nil {
		return fmt.Errorf("calibration point: missing raw")
	}
	for _, key := range []string{"value", "ph", "tds"} {
		if v, ok := m[key]; ok && v != nil {
			p.Raw, p.Value = *raw, *v
			return nil
		}
	}
	return fmt.Errorf("calibration point: missing value")
}

// Calibration converts raw counts to a physical value.
type Calibration interface {
	Calibrate(raw float64) float64
	Valid() bool
}

// Config is the serialisable description of a calibration, shared by the
// YAML device config and the calibration store.
type Config struct {
	Type   Type     `json:"type" yaml:"type"`
	Points []Point  `json:"points,omitempty" yaml:"points,omitempty"`
	Slope  *float64 `json:"slope,omitempty" yaml:"slope,omitempty"`
	Offset *float64 `json:"offset,omitempty" yaml:"offset,omitempty"`
}

// New builds a calibration from cfg. An unknown or empty type is inferred
// from what cfg carries.
func New(cfg Config) (Calibration, error) {
	switch cfg.Type {
	case TypeLinear:
		if cfg.Slope != nil {
			off := 0.0
			if cfg.Offset != nil {
				off = *cfg.Offset
			}
			return NewLinear(*cfg.Slope, off), nil
		}
		if len(cfg.Points) < 2 {
			return nil, fmt.Errorf("linear calibration needs slope or 2 points, got %d points", len(cfg.Points))
		}
		return NewLinearFromPoints(cfg.Points[0], cfg.Points[1]), nil
	case TypeMultiPoint:
		return NewMultiPoint(cfg.Points)
	case TypeSinglePoint:
		if len(cfg.Points) < 1 {
			return nil, fmt.Errorf("single_point calibration needs 1 point")
		}
		return NewSinglePoint(cfg.Points[0]), nil
	}

	switch {
	case cfg.Slope != nil:
		return New(Config{Type: TypeLinear, Slope: cfg.Slope, Offset: cfg.Offset})
	case len(cfg.Points) == 1:
		return NewSinglePoint(cfg.Points[0]), nil
	case len(cfg.Points) >= 2:
		return NewMultiPoint(cfg.Points)
	}
	return nil, fmt.Errorf("unknown calibration type %q", cfg.Type)
}

// Linear is value = slope*raw + offset.
type Linear struct {
	slope  float64
	offset float64
	valid  bool
}

// NewLinear returns a calibration with explicit coefficients.
func NewLinear(slope, offset float64) *Linear {
	return &Linear{slope: slope, offset: offset, valid: true}
}

// NewLinearFromPoints derives the line through a and b. The result is
// invalid when the raw values are too close to define a slope.
func NewLinearFromPoints(a, b Point) *Linear {
	if math.Abs(b.Raw-a.Raw) < minRawSpan {
		return &Linear{}
	}
	slope := (b.Value - a.Value) / (b.Raw - a.Raw)
	return &Linear{slope: slope, offset: a.Value - slope*a.Raw, valid: true}
}

// NewSinglePoint is a line through the origin and p.
func NewSinglePoint(p Point) *Linear {
	return NewLinearFromPoints(Point{}, p)
}

func (l *Linear) Calibrate(raw float64) float64 {
	if !l.valid {
		return raw
	}
	return l.slope*raw + l.offset
}

func (l *Linear) Valid() bool { return l.valid }

// Slope returns the line's slope.
func (l *Linear) Slope() float64 { return l.slope }

// Offset returns the line's intercept.
func (l *Linear) Offset() float64 { return l.offset }

// MultiPoint interpolates piecewise between points sorted by raw value.
//
// Raw values outside the recorded range are extrapolated along the nearest
// edge segment rather than clamped, so a probe drifting past its buffers
// still reports a monotonic value.
type MultiPoint struct {
	points []Point
}

// NewMultiPoint builds a multi-point calibration. Duplicate raw values are
// rejected.
func NewMultiPoint(points []Point) (*MultiPoint, error) {
	m := &MultiPoint{}
	for _, p := range points {
		if err := m.Add(p); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// Add inserts p keeping points ordered by raw value.
func (m *MultiPoint) Add(p Point) error {
	for _, q := range m.points {
		if math.Abs(q.Raw-p.Raw) < minRawSpan {
			return fmt.Errorf("%w: %.3f", ErrDuplicateRaw, p.Raw)
		}
	}
	i := sort.Search(len(m.points), func(i int) bool { return m.points[i].Raw > p.Raw })
	m.points = append(m.points, Point{})
	copy(m.points[i+1:], m.points[i:])
	m.points[i] = p
	return nil
}

// Points returns a copy of the ordered points.
func (m *MultiPoint) Points() []Point {
	out := make([]Point, len(m.points))
	copy(out, m.points)
	return out
}

func (m *MultiPoint) Valid() bool { return len(m.points) >= 2 }

func (m *MultiPoint) Calibrate(raw float64) float64 {
	n := len(m.points)
	if n < 2 {
		return raw
	}

	// Index of the segment [i, i+1] that brackets raw, or the edge segment.
	i := sort.Search(n, func(i int) bool { return m.points[i].Raw > raw }) - 1
	if i < 0 {
		i = 0
	}
	if i > n-2 {
		i = n - 2
	}
	a, b := m.points[i], m.points[i+1]
	return a.Value + (raw-a.Raw)*(b.Value-a.Value)/(b.Raw-a.Raw)
}
