// Package status provides a thread-safe status tracker for the dosing
// station. runLoop writes it every tick; HTTP handlers read it.
package status

import (
	"fmt"
	"sync"
	"time"

	"github.com/sweeney/dosing-station/internal/actuator"
	"github.com/sweeney/dosing-station/internal/command"
	"github.com/sweeney/dosing-station/internal/sensor"
)

// Config contains station configuration for display.
type Config struct {
	DeviceID    string
	Location    string
	Broker      string
	HTTPAddr    string
	TickMs      int64
	HeartbeatMs int64
	PHMin       float64
	PHMax       float64
	TDSMax      float64
}

// Snapshot is a point-in-time view of station state.
// It is a value type; slices are copied on the way in.
type Snapshot struct {
	StartTime      time.Time
	Now            time.Time
	MQTTConnected  bool
	Sensors        []sensor.Status
	Actuators      actuator.ManagerStatus
	Commands       command.Stats
	ActiveCommands []string
	Config         Config
}

// Uptime returns the duration since the station started.
func (s Snapshot) Uptime() time.Duration {
	return s.Now.Sub(s.StartTime)
}

// SensorsHealthy reports whether every sensor is healthy.
func (s Snapshot) SensorsHealthy() bool {
	for _, st := range s.Sensors {
		if !st.Healthy {
			return false
		}
	}
	return true
}

// Alerts lists readings outside the configured safety limits. Only
// calibrated readings are considered.
func (s Snapshot) Alerts() []string {
	var out []string
	for _, st := range s.Sensors {
		if st.LastReading == 0 || !st.CalibrationValid {
			continue
		}
		switch st.Type {
		case sensor.KindPH:
			if st.Filtered < s.Config.PHMin || st.Filtered > s.Config.PHMax {
				out = append(out, fmt.Sprintf("pH %.2f outside %.1f-%.1f", st.Filtered, s.Config.PHMin, s.Config.PHMax))
			}
		case sensor.KindTDS:
			if st.Filtered > s.Config.TDSMax {
				out = append(out, fmt.Sprintf("TDS %.0f ppm above %.0f", st.Filtered, s.Config.TDSMax))
			}
		}
	}
	return out
}

// Tracker holds mutable station state behind an RWMutex.
type Tracker struct {
	mu   sync.RWMutex
	snap Snapshot
}

// NewTracker creates a Tracker with the given start time and config.
func NewTracker(startTime time.Time, cfg Config) *Tracker {
	return &Tracker{
		snap: Snapshot{
			StartTime: startTime,
			Config:    cfg,
		},
	}
}

// Update replaces the sensor, actuator and command state.
// Called from runLoop on every tick.
func (t *Tracker) Update(sensors []sensor.Status, actuators actuator.ManagerStatus, stats command.Stats, active []string) {
	sensors = append([]sensor.Status(nil), sensors...)
	actuators.Actuators = append([]actuator.Status(nil), actuators.Actuators...)
	active = append([]string(nil), active...)

	t.mu.Lock()
	t.snap.Sensors = sensors
	t.snap.Actuators = actuators
	t.snap.Commands = stats
	t.snap.ActiveCommands = active
	t.mu.Unlock()
}

// SetMQTTConnected sets the MQTT connection status.
func (t *Tracker) SetMQTTConnected(connected bool) {
	t.mu.Lock()
	t.snap.MQTTConnected = connected
	t.mu.Unlock()
}

// Snapshot returns a point-in-time copy of the station state.
// The Now field is set to the current time at the moment of the call.
func (t *Tracker) Snapshot() Snapshot {
	t.mu.RLock()
	s := t.snap
	t.mu.RUnlock()
	s.Now = time.Now()
	return s
}
