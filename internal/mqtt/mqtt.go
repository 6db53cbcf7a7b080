// Package mqtt connects the station to its broker: sensor readings, command
// requests and responses, heartbeats, presence and forwarded logs.
package mqtt

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sweeney/dosing-station/internal/command"
	"github.com/sweeney/dosing-station/internal/sensor"
)

// TopicRoot prefixes every device topic.
const TopicRoot = "homegrow/devices"

// Presence payloads on the retained status topic. StatusOffline is also the
// last will.
const (
	StatusOnline  = "online"
	StatusOffline = "offline"
)

// Topics are the per-device topic names.
type Topics struct {
	Base      string
	Commands  string
	Responses string
	Heartbeat string
	Status    string
	Logs      string
}

// TopicsFor builds the topic set for deviceID.
func TopicsFor(deviceID string) Topics {
	base := TopicRoot + "/" + deviceID
	return Topics{
		Base:      base,
		Commands:  base + "/commands",
		Responses: base + "/commands/response",
		Heartbeat: base + "/heartbeat",
		Status:    base + "/status",
		Logs:      base + "/logs",
	}
}

// Sensor is the topic for one sensor's readings.
func (t Topics) Sensor(id string) string { return t.Base + "/sensors/" + id }

// ClientID derives a broker client id that is unique per process.
func ClientID(deviceID string, id uuid.UUID) string {
	return fmt.Sprintf("doser-%s-%s", deviceID, id.String()[:8])
}

// Client is the broker connection as the application sees it. It satisfies
// sensor.Publisher and command.Responder.
type Client interface {
	PublishReading(sensorID, unit string, r sensor.Reading) error
	PublishResponse(resp command.Response) error
	PublishHeartbeat(hb Heartbeat) error
	PublishLog(p []byte) error
	IsConnected() bool
	Close() error
}

// ConnectionStatus reports whether the MQTT connection is active.
type ConnectionStatus interface {
	IsConnected() bool
}

// SensorPayload is the JSON published for each reading.
type SensorPayload struct {
	Timestamp        int64        `json:"timestamp"`
	SensorID         string       `json:"sensor_id"`
	Values           SensorValues `json:"values"`
	Unit             string       `json:"unit"`
	Quality          string       `json:"quality"`
	CalibrationValid bool         `json:"calibration_valid"`
}

// SensorValues are the three stages of a reading.
type SensorValues struct {
	Raw        float64 `json:"raw"`
	Calibrated float64 `json:"calibrated"`
	Filtered   float64 `json:"filtered"`
}

// FormatReading creates the JSON payload for a sensor reading.
func FormatReading(sensorID, unit string, r sensor.Reading) ([]byte, error) {
	return json.Marshal(SensorPayload{
		Timestamp: r.Timestamp.UnixMilli(),
		SensorID:  sensorID,
		Values: SensorValues{
			Raw:        r.Raw,
			Calibrated: r.Calibrated,
			Filtered:   r.Filtered,
		},
		Unit:             unit,
		Quality:          string(r.Quality),
		CalibrationValid: r.CalibrationValid,
	})
}

// FormatResponse creates the JSON payload for a command response.
func FormatResponse(resp command.Response) ([]byte, error) {
	return json.Marshal(resp)
}

// Heartbeat is the periodic liveness report.
type Heartbeat struct {
	Timestamp           time.Time
	DeviceID            string
	Uptime              time.Duration
	MQTTConnected       bool
	EmergencyStop       bool
	EmergencyStopReason string
	Commands            command.Stats
	ActuatorsHealthy    bool
	SensorsHealthy      bool
	HeapAllocBytes      uint64
}

type heartbeatPayload struct {
	Timestamp           int64         `json:"timestamp"`
	DeviceID            string        `json:"device_id"`
	UptimeSeconds       int64         `json:"uptime_seconds"`
	MQTTConnected       bool          `json:"mqtt_connected"`
	EmergencyStop       bool          `json:"emergency_stop"`
	EmergencyStopReason string        `json:"emergency_stop_reason,omitempty"`
	Commands            command.Stats `json:"commands"`
	ActuatorsHealthy    bool          `json:"actuators_healthy"`
	SensorsHealthy      bool          `json:"sensors_healthy"`
	HeapAllocBytes      uint64        `json:"heap_alloc_bytes"`
}

// FormatHeartbeat creates the JSON payload for a heartbeat.
func FormatHeartbeat(hb Heartbeat) ([]byte, error) {
	return json.Marshal(heartbeatPayload{
		Timestamp:           hb.Timestamp.UnixMilli(),
		DeviceID:            hb.DeviceID,
		UptimeSeconds:       int64(hb.Uptime.Seconds()),
		MQTTConnected:       hb.MQTTConnected,
		EmergencyStop:       hb.EmergencyStop,
		EmergencyStopReason: hb.EmergencyStopReason,
		Commands:            hb.Commands,
		ActuatorsHealthy:    hb.ActuatorsHealthy,
		SensorsHealthy:      hb.SensorsHealthy,
		HeapAllocBytes:      hb.HeapAllocBytes,
	})
}
