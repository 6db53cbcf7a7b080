package filter

import (
	"math"
	"testing"
)

func TestMovingAverageConvergesOnConstant(t *testing.T) {
	f := NewMovingAverage(5, 2.0)
	var got float64
	for i := 0; i < 20; i++ {
		got = f.Filter(7.25)
	}
	if got != 7.25 {
		t.Errorf("expected 7.25, got %v", got)
	}
}

func TestMovingAverageWindowOverwritesOldest(t *testing.T) {
	f := NewMovingAverage(3, 100)
	f.Filter(1)
	f.Filter(2)
	f.Filter(3)
	if got := f.Filter(4); got != 3 {
		t.Errorf("expected average of 2,3,4 = 3, got %v", got)
	}
	if f.Len() != 3 {
		t.Errorf("expected 3 buffered samples, got %d", f.Len())
	}
}

func TestMovingAverageRejectsOutlier(t *testing.T) {
	f := NewMovingAverage(10, 2.0)
	for _, v := range []float64{7.0, 7.1, 6.9, 7.0, 7.1} {
		f.Filter(v)
	}
	before := f.Filter(7.0)
	n := f.Len()

	got := f.Filter(12.0)
	if got != before {
		t.Errorf("expected pre-insertion average %v, got %v", before, got)
	}
	if f.Len() != n {
		t.Errorf("expected outlier not buffered, len %d -> %d", n, f.Len())
	}
}

func TestMovingAverageNoOutlierTestBelowThreeSamples(t *testing.T) {
	f := NewMovingAverage(10, 0.1)
	f.Filter(1)
	if got := f.Filter(1000); got != 500.5 {
		t.Errorf("expected 500.5, got %v", got)
	}
}

func TestMovingAverageZeroStddevNeverOutlier(t *testing.T) {
	f := NewMovingAverage(10, 2.0)
	for i := 0; i < 5; i++ {
		f.Filter(5)
	}
	// stddev is zero, so the jump is admitted.
	got := f.Filter(50)
	want := (5*5 + 50) / 6.0
	if math.Abs(got-want) > 1e-9 {
		t.Errorf("expected %v, got %v", want, got)
	}
}

func TestMovingAverageReset(t *testing.T) {
	f := NewMovingAverage(4, 2.0)
	f.Filter(10)
	f.Filter(20)
	f.Reset()
	if f.Len() != 0 {
		t.Errorf("expected empty after reset, got %d", f.Len())
	}
	if got := f.Filter(3); got != 3 {
		t.Errorf("expected 3, got %v", got)
	}
}

func TestExponentialSeedsWithFirstSample(t *testing.T) {
	f := NewExponential(0.1, 100)
	if got := f.Filter(342); got != 342 {
		t.Errorf("expected first sample 342, got %v", got)
	}
	got := f.Filter(352)
	if math.Abs(got-343) > 1e-9 {
		t.Errorf("expected 343, got %v", got)
	}
}

func TestExponentialRelativeOutlier(t *testing.T) {
	// threshold 1.0 -> relative limit 0.1
	f := NewExponential(0.5, 1.0)
	f.Filter(100)
	if got := f.Filter(150); got != 100 {
		t.Errorf("expected held value 100 for 50%% jump, got %v", got)
	}
	if got := f.Filter(105); got != 102.5 {
		t.Errorf("expected 102.5, got %v", got)
	}
}

func TestExponentialAbsoluteOutlierNearZero(t *testing.T) {
	f := NewExponential(0.5, 0.2)
	f.Filter(0.5)
	if got := f.Filter(0.9); got != 0.5 {
		t.Errorf("expected held 0.5, got %v", got)
	}
	if got := f.Filter(0.6); math.Abs(got-0.55) > 1e-9 {
		t.Errorf("expected 0.55, got %v", got)
	}
}

func TestExponentialAlphaClamped(t *testing.T) {
	if a := NewExponential(1.5, 1).Alpha(); a != 1 {
		t.Errorf("expected alpha 1, got %v", a)
	}
	if a := NewExponential(-0.5, 1).Alpha(); a != 0 {
		t.Errorf("expected alpha 0, got %v", a)
	}
}

func TestExponentialReset(t *testing.T) {
	f := NewExponential(0.1, 100)
	f.Filter(10)
	f.Reset()
	if got := f.Filter(99); got != 99 {
		t.Errorf("expected reseeded 99, got %v", got)
	}
}

func TestNewFromConfig(t *testing.T) {
	f, err := New(Config{Enabled: false})
	if err != nil {
		t.Fatalf("New disabled: %v", err)
	}
	if got := f.Filter(3.3); got != 3.3 {
		t.Errorf("expected pass-through, got %v", got)
	}

	f, err = New(Config{Enabled: true, Type: TypeMovingAverage})
	if err != nil {
		t.Fatalf("New moving average: %v", err)
	}
	ma, ok := f.(*MovingAverage)
	if !ok {
		t.Fatalf("expected *MovingAverage, got %T", f)
	}
	if len(ma.buf) != DefaultWindowSize || ma.threshold != DefaultOutlierThreshold {
		t.Errorf("expected defaults, got window %d threshold %v", len(ma.buf), ma.threshold)
	}

	f, err = New(Config{Enabled: true, Type: TypeExponential, OutlierThreshold: 100})
	if err != nil {
		t.Fatalf("New exponential: %v", err)
	}
	if e := f.(*Exponential); e.Alpha() != DefaultAlpha {
		t.Errorf("expected default alpha, got %v", e.Alpha())
	}

	if _, err := New(Config{Enabled: true, Type: "kalman"}); err == nil {
		t.Error("expected error for unknown type")
	}
}
