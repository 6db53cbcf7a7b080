package store

import (
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/sweeney/dosing-station/internal/calibration"
	"github.com/sweeney/dosing-station/internal/sensor"
)

var t0 = time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

func openTemp(t *testing.T) (*Store, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "state", "cal.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	s.now = func() time.Time { return t0 }
	return s, path
}

func TestCalibrationSurvivesReopen(t *testing.T) {
	s, path := openTemp(t)
	cfg := calibration.Config{
		Type:   calibration.TypeMultiPoint,
		Points: []calibration.Point{{Raw: 2252, Value: 4}, {Raw: 1721, Value: 7}},
	}
	if err := s.SaveCalibration("ph", cfg); err != nil {
		t.Fatalf("SaveCalibration: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	s2, err := Open(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer s2.Close()

	got, err := s2.LoadCalibration("ph")
	if err != nil {
		t.Fatalf("LoadCalibration: %v", err)
	}
	if got.Type != calibration.TypeMultiPoint || len(got.Points) != 2 || got.Points[1].Value != 7 {
		t.Errorf("unexpected calibration %+v", got)
	}
}

func TestLoadCalibrationMissing(t *testing.T) {
	s, _ := openTemp(t)
	defer s.Close()

	_, err := s.LoadCalibration("tds")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestCalibrationsListsAll(t *testing.T) {
	s, _ := openTemp(t)
	defer s.Close()

	_ = s.SaveCalibration("tds", calibration.Config{Type: calibration.TypeSinglePoint, Points: []calibration.Point{{Raw: 1156, Value: 342}}})
	_ = s.SaveCalibration("ph", calibration.Config{Type: calibration.TypeMultiPoint, Points: []calibration.Point{{Raw: 1, Value: 4}, {Raw: 2, Value: 7}}})

	recs, err := s.Calibrations()
	if err != nil {
		t.Fatalf("Calibrations: %v", err)
	}
	if len(recs) != 2 {
		t.Fatalf("expected 2 records, got %d", len(recs))
	}
	// bbolt iterates in key order
	if recs[0].SensorID != "ph" || recs[1].SensorID != "tds" {
		t.Errorf("unexpected order %s, %s", recs[0].SensorID, recs[1].SensorID)
	}
	if recs[0].SavedAt != t0.UnixMilli() {
		t.Errorf("expected SavedAt %d, got %d", t0.UnixMilli(), recs[0].SavedAt)
	}
}

func TestSaveOverwrites(t *testing.T) {
	s, _ := openTemp(t)
	defer s.Close()

	_ = s.SaveCalibration("tds", calibration.Config{Type: calibration.TypeSinglePoint, Points: []calibration.Point{{Raw: 1000, Value: 300}}})
	_ = s.SaveCalibration("tds", calibration.Config{Type: calibration.TypeSinglePoint, Points: []calibration.Point{{Raw: 1100, Value: 400}}})

	got, err := s.LoadCalibration("tds")
	if err != nil {
		t.Fatalf("LoadCalibration: %v", err)
	}
	if got.Points[0].Value != 400 {
		t.Errorf("expected latest calibration, got %+v", got)
	}
}

func TestDelete(t *testing.T) {
	s, _ := openTemp(t)
	defer s.Close()

	_ = s.SaveCalibration("ph", calibration.Config{Type: calibration.TypeMultiPoint})
	if err := s.Delete(calibrationBucket, "ph"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := s.LoadCalibration("ph"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound after delete, got %v", err)
	}
	if err := s.Delete(calibrationBucket, "ph"); err != nil {
		t.Errorf("deleting a missing key should succeed, got %v", err)
	}
}

func TestUnknownBucket(t *testing.T) {
	s, _ := openTemp(t)
	defer s.Close()

	var v map[string]any
	if err := s.Get("nope", "k", &v); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
	if err := s.Update("nope", "k", 1); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestSatisfiesCalibrationStore(t *testing.T) {
	var _ sensor.CalibrationStore = (*Store)(nil)
}
