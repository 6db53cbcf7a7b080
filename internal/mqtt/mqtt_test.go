package mqtt

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/sweeney/dosing-station/internal/command"
	"github.com/sweeney/dosing-station/internal/sensor"
)

var t0 = time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

func TestTopicsFor(t *testing.T) {
	tp := TopicsFor("doser-01")
	want := map[string]string{
		"commands":  "homegrow/devices/doser-01/commands",
		"responses": "homegrow/devices/doser-01/commands/response",
		"heartbeat": "homegrow/devices/doser-01/heartbeat",
		"status":    "homegrow/devices/doser-01/status",
		"logs":      "homegrow/devices/doser-01/logs",
		"sensor":    "homegrow/devices/doser-01/sensors/ph",
	}
	got := map[string]string{
		"commands":  tp.Commands,
		"responses": tp.Responses,
		"heartbeat": tp.Heartbeat,
		"status":    tp.Status,
		"logs":      tp.Logs,
		"sensor":    tp.Sensor("ph"),
	}
	for k, w := range want {
		if got[k] != w {
			t.Errorf("%s: expected %s, got %s", k, w, got[k])
		}
	}
}

func TestClientID(t *testing.T) {
	id := uuid.MustParse("3f2504e0-4f89-11d3-9a0c-0305e82c3301")
	if got := ClientID("doser-01", id); got != "doser-doser-01-3f2504e0" {
		t.Errorf("unexpected client id %s", got)
	}
}

func TestFormatReadingExactJSON(t *testing.T) {
	r := sensor.Reading{
		Raw:              1721,
		Calibrated:       7,
		Filtered:         6.98,
		Timestamp:        t0,
		Quality:          sensor.QualityGood,
		CalibrationValid: true,
	}
	payload, err := FormatReading("ph", "pH", r)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := `{"timestamp":1767268800000,"sensor_id":"ph","values":{"raw":1721,"calibrated":7,"filtered":6.98},"unit":"pH","quality":"good","calibration_valid":true}`
	if string(payload) != want {
		t.Errorf("payload mismatch:\n got: %s\nwant: %s", payload, want)
	}
}

func TestFormatResponse(t *testing.T) {
	resp := command.Response{
		CommandID:       "c1",
		Status:          command.StatusFailed,
		StatusText:      command.StatusFailed.String(),
		Error:           "actuator in cooldown",
		Timestamp:       t0.UnixMilli(),
		ExecutionTimeMs: 0,
	}
	payload, err := FormatResponse(resp)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var parsed map[string]any
	if err := json.Unmarshal(payload, &parsed); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if parsed["status"] != 3.0 {
		t.Errorf("expected numeric status 3, got %v", parsed["status"])
	}
	if parsed["status_text"] != "failed" {
		t.Errorf("expected status_text failed, got %v", parsed["status_text"])
	}
	if parsed["error"] != "actuator in cooldown" {
		t.Errorf("unexpected error field %v", parsed["error"])
	}
}

func TestFormatResponseOmitsEmptyError(t *testing.T) {
	payload, err := FormatResponse(command.Response{CommandID: "c2", Status: command.StatusCompleted})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if strings.Contains(string(payload), `"error"`) {
		t.Errorf("expected no error field, got %s", payload)
	}
}

func TestFormatHeartbeat(t *testing.T) {
	hb := Heartbeat{
		Timestamp:        t0,
		DeviceID:         "doser-01",
		Uptime:           90 * time.Minute,
		MQTTConnected:    true,
		Commands:         command.Stats{Processed: 4, Failed: 1},
		ActuatorsHealthy: true,
		SensorsHealthy:   false,
		HeapAllocBytes:   2048,
	}
	payload, err := FormatHeartbeat(hb)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var parsed map[string]any
	if err := json.Unmarshal(payload, &parsed); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if parsed["uptime_seconds"] != 5400.0 {
		t.Errorf("expected uptime 5400, got %v", parsed["uptime_seconds"])
	}
	if _, ok := parsed["emergency_stop_reason"]; ok {
		t.Error("expected reason omitted when no stop is latched")
	}
	cmds, ok := parsed["commands"].(map[string]any)
	if !ok || cmds["commands_processed"] != 4.0 || cmds["commands_failed"] != 1.0 {
		t.Errorf("unexpected commands block %v", parsed["commands"])
	}
	if parsed["sensors_healthy"] != false {
		t.Errorf("expected sensors_healthy false, got %v", parsed["sensors_healthy"])
	}
}

func TestFakeClientRecords(t *testing.T) {
	f := NewFakeClient("doser-01")

	if err := f.PublishReading("tds", "ppm", sensor.Reading{Filtered: 800, Timestamp: t0}); err != nil {
		t.Fatalf("PublishReading: %v", err)
	}
	if err := f.PublishResponse(command.Response{CommandID: "c1", Status: command.StatusCompleted}); err != nil {
		t.Fatalf("PublishResponse: %v", err)
	}
	if err := f.PublishHeartbeat(Heartbeat{Timestamp: t0}); err != nil {
		t.Fatalf("PublishHeartbeat: %v", err)
	}

	if len(f.Messages) != 3 {
		t.Fatalf("expected 3 messages, got %d", len(f.Messages))
	}
	wantTopics := []string{
		"homegrow/devices/doser-01/sensors/tds",
		"homegrow/devices/doser-01/commands/response",
		"homegrow/devices/doser-01/heartbeat",
	}
	for i, w := range wantTopics {
		if f.Messages[i].Topic != w {
			t.Errorf("message %d: expected topic %s, got %s", i, w, f.Messages[i].Topic)
		}
	}
	if resp, ok := f.ResponseFor("c1"); !ok || resp.Status != command.StatusCompleted {
		t.Errorf("expected recorded response, got %+v %v", resp, ok)
	}
}

func TestFakeClientError(t *testing.T) {
	f := NewFakeClient("d")
	f.PublishError = errors.New("broker down")

	if err := f.PublishResponse(command.Response{CommandID: "c"}); err == nil {
		t.Error("expected error")
	}
	if len(f.Responses) != 0 || len(f.Messages) != 0 {
		t.Error("expected nothing recorded on error")
	}
}

func TestFakeClientLogsCopied(t *testing.T) {
	f := NewFakeClient("d")
	line := []byte(`{"level":"warn"}`)
	_ = f.PublishLog(line)
	line[2] = 'X'
	if string(f.Logs[0]) != `{"level":"warn"}` {
		t.Errorf("expected log line copied, got %s", f.Logs[0])
	}
}

func TestFakeClientResetAndClose(t *testing.T) {
	f := NewFakeClient("d")
	_ = f.PublishHeartbeat(Heartbeat{})
	_ = f.Close()
	if !f.Closed {
		t.Error("expected Closed")
	}
	f.Reset()
	if len(f.Heartbeats) != 0 || len(f.Messages) != 0 || f.Closed {
		t.Error("expected reset state")
	}
	f.SetConnected(false)
	if f.IsConnected() {
		t.Error("expected disconnected")
	}
}

func TestFakeClientSatisfiesInterfaces(t *testing.T) {
	var _ Client = NewFakeClient("d")
	var _ sensor.Publisher = NewFakeClient("d")
	var _ command.Responder = NewFakeClient("d")
	var _ Client = (*RealClient)(nil)
}
