package command

import (
	"encoding/json"
	"fmt"
	"math"
	"time"

	"github.com/sweeney/dosing-station/internal/calibration"
)

// Params holds a request's decoded JSON parameters.
type Params map[string]any

// String returns the required string parameter key.
func (p Params) String(key string) (string, error) {
	v, ok := p[key]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrMissingField, key)
	}
	s, ok := v.(string)
	if !ok || s == "" {
		return "", fmt.Errorf("%w: %s must be a non-empty string", ErrInvalidParam, key)
	}
	return s, nil
}

// OptString returns the string parameter key, or def when absent.
func (p Params) OptString(key, def string) (string, error) {
	if _, ok := p[key]; !ok {
		return def, nil
	}
	return p.String(key)
}

// Float returns the required numeric parameter key.
func (p Params) Float(key string) (float64, error) {
	v, ok := p[key]
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrMissingField, key)
	}
	var f float64
	switch n := v.(type) {
	case float64:
		f = n
	case int:
		f = float64(n)
	case json.Number:
		var err error
		if f, err = n.Float64(); err != nil {
			return 0, fmt.Errorf("%w: %s must be a number", ErrInvalidParam, key)
		}
	default:
		return 0, fmt.Errorf("%w: %s must be a number", ErrInvalidParam, key)
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, fmt.Errorf("%w: %s must be finite", ErrInvalidParam, key)
	}
	return f, nil
}

// OptFloat returns the numeric parameter key, or def when absent.
func (p Params) OptFloat(key string, def float64) (float64, error) {
	if _, ok := p[key]; !ok {
		return def, nil
	}
	return p.Float(key)
}

// Int returns the required integer parameter key. JSON numbers with no
// fractional part are accepted.
func (p Params) Int(key string) (int, error) {
	f, err := p.Float(key)
	if err != nil {
		return 0, err
	}
	if f != math.Trunc(f) {
		return 0, fmt.Errorf("%w: %s must be an integer", ErrInvalidParam, key)
	}
	if f >= math.MaxInt32 || f <= math.MinInt32 {
		return 0, fmt.Errorf("%w: %s out of range", ErrInvalidParam, key)
	}
	return int(f), nil
}

// Duration returns the required positive integer parameter key as a count
// of unit.
func (p Params) Duration(key string, unit time.Duration) (time.Duration, error) {
	n, err := p.Int(key)
	if err != nil {
		return 0, err
	}
	if err := positive(key, float64(n)); err != nil {
		return 0, err
	}
	if int64(n) > math.MaxInt64/int64(unit) {
		return 0, fmt.Errorf("%w: %s out of range", ErrInvalidParam, key)
	}
	return time.Duration(n) * unit, nil
}

// OptInt returns the integer parameter key, or def when absent.
func (p Params) OptInt(key string, def int) (int, error) {
	if _, ok := p[key]; !ok {
		return def, nil
	}
	return p.Int(key)
}

// Points returns the required array of calibration points at key.
func (p Params) Points(key string) ([]calibration.Point, error) {
	v, ok := p[key]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrMissingField, key)
	}
	if _, ok := v.([]any); !ok {
		return nil, fmt.Errorf("%w: %s must be an array", ErrInvalidParam, key)
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalidParam, key, err)
	}
	var pts []calibration.Point
	if err := json.Unmarshal(data, &pts); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalidParam, key, err)
	}
	if len(pts) == 0 {
		return nil, fmt.Errorf("%w: %s must not be empty", ErrInvalidParam, key)
	}
	return pts, nil
}

func inRange(key string, v, lo, hi float64) error {
	if v < lo || v > hi {
		return fmt.Errorf("%w: %s %g outside [%g, %g]", ErrInvalidParam, key, v, lo, hi)
	}
	return nil
}

func positive(key string, v float64) error {
	if v <= 0 {
		return fmt.Errorf("%w: %s must be positive", ErrInvalidParam, key)
	}
	return nil
}
