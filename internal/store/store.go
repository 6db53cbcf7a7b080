// Package store persists sensor calibrations in a bbolt database so that a
// calibrate_sensor command survives a restart.
package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/sweeney/dosing-station/internal/calibration"
	bolt "go.etcd.io/bbolt"
)

const calibrationBucket = "calibrations"

// ErrNotFound is returned when no record exists for a key.
var ErrNotFound = errors.New("not found")

// Record is one stored calibration.
type Record struct {
	SensorID string             `json:"sensor_id"`
	Config   calibration.Config `json:"config"`
	SavedAt  int64              `json:"saved_at"` // unix ms
}

// Store wraps a bbolt database.
type Store struct {
	db  *bolt.DB
	now func() time.Time
}

// Open opens or creates the database at path, creating parent directories
// as needed.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create store dir: %w", err)
	}
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	s := &Store{db: db, now: time.Now}
	if err := s.CreateBucket(calibrationBucket); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// CreateBucket makes sure bucket exists.
func (s *Store) CreateBucket(bucket string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists([]byte(bucket)); err != nil {
			return fmt.Errorf("create bucket %s: %w", bucket, err)
		}
		return nil
	})
}

// Update stores v as JSON under key.
func (s *Store) Update(bucket, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s/%s: %w", bucket, key, err)
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(bucket))
		if b == nil {
			return fmt.Errorf("bucket %s: %w", bucket, ErrNotFound)
		}
		return b.Put([]byte(key), data)
	})
}

// Get decodes the value under key into v.
func (s *Store) Get(bucket, key string, v any) error {
	return s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(bucket))
		if b == nil {
			return fmt.Errorf("bucket %s: %w", bucket, ErrNotFound)
		}
		data := b.Get([]byte(key))
		if data == nil {
			return fmt.Errorf("%s/%s: %w", bucket, key, ErrNotFound)
		}
		return json.Unmarshal(data, v)
	})
}

// List calls fn for every key in bucket, in key order. The value slice is
// only valid for the duration of the call.
func (s *Store) List(bucket string, fn func(key string, v []byte) error) error {
	return s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(bucket))
		if b == nil {
			return fmt.Errorf("bucket %s: %w", bucket, ErrNotFound)
		}
		return b.ForEach(func(k, v []byte) error {
			return fn(string(k), v)
		})
	})
}

// Delete removes key from bucket. Deleting a missing key is not an error.
func (s *Store) Delete(bucket, key string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(bucket))
		if b == nil {
			return fmt.Errorf("bucket %s: %w", bucket, ErrNotFound)
		}
		return b.Delete([]byte(key))
	})
}

// SaveCalibration records cfg as the current calibration of sensorID.
func (s *Store) SaveCalibration(sensorID string, cfg calibration.Config) error {
	return s.Update(calibrationBucket, sensorID, Record{
		SensorID: sensorID,
		Config:   cfg,
		SavedAt:  s.now().UnixMilli(),
	})
}

// LoadCalibration returns the stored calibration of sensorID.
func (s *Store) LoadCalibration(sensorID string) (calibration.Config, error) {
	var r Record
	if err := s.Get(calibrationBucket, sensorID, &r); err != nil {
		return calibration.Config{}, err
	}
	return r.Config, nil
}

// Calibrations returns every stored calibration record.
func (s *Store) Calibrations() ([]Record, error) {
	var out []Record
	err := s.List(calibrationBucket, func(key string, v []byte) error {
		var r Record
		if err := json.Unmarshal(v, &r); err != nil {
			return fmt.Errorf("decode calibration %s: %w", key, err)
		}
		out = append(out, r)
		return nil
	})
	return out, err
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}
