package status

import (
	"encoding/json"
	"time"

	"github.com/sweeney/dosing-station/internal/actuator"
	"github.com/sweeney/dosing-station/internal/command"
	"github.com/sweeney/dosing-station/internal/sensor"
)

// StatusJSON is the top-level JSON envelope for status output.
type StatusJSON struct {
	Status StatusInner `json:"status"`
}

// StatusInner contains the status details.
type StatusInner struct {
	DeviceID       string            `json:"device_id"`
	Location       string            `json:"location,omitempty"`
	Healthy        bool              `json:"healthy"`
	UptimeSeconds  int64             `json:"uptime_seconds"`
	StartTime      string            `json:"start_time"`
	Timestamp      string            `json:"timestamp"`
	MQTT           MQTTStatus        `json:"mqtt"`
	EmergencyStop  EmergencyStopJSON `json:"emergency_stop"`
	Sensors        []sensor.Status   `json:"sensors"`
	Actuators      []actuator.Status `json:"actuators"`
	Commands       command.Stats     `json:"commands"`
	ActiveCommands []string          `json:"active_commands"`
	Alerts         []string          `json:"alerts"`
	Config         ConfigJSON        `json:"config"`
}

// MQTTStatus reports MQTT connection state.
type MQTTStatus struct {
	Connected bool   `json:"connected"`
	Broker    string `json:"broker"`
}

// EmergencyStopJSON reports the latch.
type EmergencyStopJSON struct {
	Active bool   `json:"active"`
	Reason string `json:"reason,omitempty"`
}

// ConfigJSON is the JSON representation of station config.
type ConfigJSON struct {
	TickMs      int64   `json:"tick_ms"`
	HeartbeatMs int64   `json:"heartbeat_ms"`
	Broker      string  `json:"broker"`
	HTTPAddr    string  `json:"http_addr"`
	PHMin       float64 `json:"ph_min"`
	PHMax       float64 `json:"ph_max"`
	TDSMax      float64 `json:"tds_max"`
}

func buildInner(snap Snapshot) StatusInner {
	inner := StatusInner{
		DeviceID:      snap.Config.DeviceID,
		Location:      snap.Config.Location,
		Healthy:       snap.Actuators.AllHealthy && snap.SensorsHealthy(),
		UptimeSeconds: int64(snap.Uptime().Truncate(time.Second).Seconds()),
		StartTime:     snap.StartTime.UTC().Format(time.RFC3339),
		Timestamp:     snap.Now.UTC().Format(time.RFC3339),
		MQTT:          MQTTStatus{Connected: snap.MQTTConnected, Broker: snap.Config.Broker},
		EmergencyStop: EmergencyStopJSON{
			Active: snap.Actuators.EmergencyStopActive,
			Reason: snap.Actuators.EmergencyStopReason,
		},
		Sensors:        snap.Sensors,
		Actuators:      snap.Actuators.Actuators,
		Commands:       snap.Commands,
		ActiveCommands: snap.ActiveCommands,
		Alerts:         snap.Alerts(),
		Config: ConfigJSON{
			TickMs:      snap.Config.TickMs,
			HeartbeatMs: snap.Config.HeartbeatMs,
			Broker:      snap.Config.Broker,
			HTTPAddr:    snap.Config.HTTPAddr,
			PHMin:       snap.Config.PHMin,
			PHMax:       snap.Config.PHMax,
			TDSMax:      snap.Config.TDSMax,
		},
	}
	// empty arrays, not null, for the page script
	if inner.Sensors == nil {
		inner.Sensors = []sensor.Status{}
	}
	if inner.Actuators == nil {
		inner.Actuators = []actuator.Status{}
	}
	if inner.ActiveCommands == nil {
		inner.ActiveCommands = []string{}
	}
	if inner.Alerts == nil {
		inner.Alerts = []string{}
	}
	return inner
}

// FormatJSON returns the JSON status for the web endpoint.
func FormatJSON(snap Snapshot) []byte {
	data, _ := json.MarshalIndent(StatusJSON{Status: buildInner(snap)}, "", "  ")
	return data
}
