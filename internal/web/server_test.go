package web

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/sweeney/dosing-station/internal/actuator"
	"github.com/sweeney/dosing-station/internal/command"
	"github.com/sweeney/dosing-station/internal/metrics"
	"github.com/sweeney/dosing-station/internal/sensor"
	"github.com/sweeney/dosing-station/internal/status"
)

var start = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

func newTestServer(t *testing.T, m *metrics.Metrics) (*httptest.Server, *status.Tracker) {
	t.Helper()
	cfg := status.Config{
		DeviceID:    "doser-01",
		Broker:      "tcp://192.168.1.200:1883",
		HTTPAddr:    ":80",
		TickMs:      100,
		HeartbeatMs: 30000,
		PHMin:       4,
		PHMax:       8.5,
		TDSMax:      2000,
	}
	tr := status.NewTracker(start, cfg)
	srv := New(":0", tr, m)
	ts := httptest.NewServer(srv.httpServer.Handler)
	t.Cleanup(ts.Close)
	return ts, tr
}

func populate(tr *status.Tracker) {
	tr.Update(
		[]sensor.Status{
			{ID: "ph", Type: sensor.KindPH, Unit: "pH", Healthy: true, CalibrationValid: true, Quality: sensor.QualityGood, Filtered: 6.1, LastReading: start.UnixMilli()},
			{ID: "tds", Type: sensor.KindTDS, Unit: "ppm", Healthy: true, CalibrationValid: true, Quality: sensor.QualityGood, Filtered: 2300, LastReading: start.UnixMilli()},
		},
		actuator.ManagerStatus{
			AllHealthy: true,
			Actuators: []actuator.Status{
				{ID: "water_pump", Type: actuator.TypeWaterPump, State: actuator.StateActive, Healthy: true},
				{ID: "ph_down", Type: actuator.TypeDosingPump, State: actuator.StateCooldown, Healthy: true, Dosing: &actuator.DosingStatus{TotalVolumeMl: 3.5}},
			},
		},
		command.Stats{Processed: 7, Failed: 1, Active: 1},
		[]string{"loop-7"},
	)
}

func getJSON(t *testing.T, url string, v any) *http.Response {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET %s: %v", url, err)
	}
	defer resp.Body.Close()
	if v != nil && resp.StatusCode == 200 {
		if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
			t.Fatalf("decode JSON: %v", err)
		}
	}
	return resp
}

func TestJSONEndpoint(t *testing.T) {
	ts, tr := newTestServer(t, nil)
	populate(tr)
	tr.SetMQTTConnected(true)

	var sj status.StatusJSON
	resp := getJSON(t, ts.URL+"/index.json", &sj)

	if resp.StatusCode != 200 {
		t.Errorf("status: got %d, want 200", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type: got %q, want application/json", ct)
	}
	if sj.Status.DeviceID != "doser-01" {
		t.Errorf("DeviceID: got %q", sj.Status.DeviceID)
	}
	if !sj.Status.MQTT.Connected {
		t.Error("expected MQTT.Connected=true")
	}
	if sj.Status.MQTT.Broker != "tcp://192.168.1.200:1883" {
		t.Errorf("MQTT.Broker: got %q, want tcp://192.168.1.200:1883", sj.Status.MQTT.Broker)
	}
	if len(sj.Status.Sensors) != 2 || len(sj.Status.Actuators) != 2 {
		t.Errorf("expected 2 sensors and 2 actuators, got %d and %d", len(sj.Status.Sensors), len(sj.Status.Actuators))
	}
	if sj.Status.Commands.Processed != 7 {
		t.Errorf("Commands.Processed: got %d, want 7", sj.Status.Commands.Processed)
	}
	if len(sj.Status.Alerts) != 1 || !strings.Contains(sj.Status.Alerts[0], "TDS") {
		t.Errorf("expected a TDS alert, got %v", sj.Status.Alerts)
	}
	if sj.Status.Config.TickMs != 100 {
		t.Errorf("Config.TickMs: got %d, want 100", sj.Status.Config.TickMs)
	}
}

func TestSensorEndpoint(t *testing.T) {
	ts, tr := newTestServer(t, nil)
	populate(tr)

	var st sensor.Status
	resp := getJSON(t, ts.URL+"/sensors/ph", &st)
	if resp.StatusCode != 200 {
		t.Fatalf("status: got %d, want 200", resp.StatusCode)
	}
	if st.ID != "ph" || st.Filtered != 6.1 {
		t.Errorf("unexpected sensor %+v", st)
	}

	if resp := getJSON(t, ts.URL+"/sensors/orp", nil); resp.StatusCode != 404 {
		t.Errorf("unknown sensor: got %d, want 404", resp.StatusCode)
	}
}

func TestActuatorEndpoint(t *testing.T) {
	ts, tr := newTestServer(t, nil)
	populate(tr)

	var st actuator.Status
	resp := getJSON(t, ts.URL+"/actuators/ph_down", &st)
	if resp.StatusCode != 200 {
		t.Fatalf("status: got %d, want 200", resp.StatusCode)
	}
	if st.State != actuator.StateCooldown || st.Dosing == nil || st.Dosing.TotalVolumeMl != 3.5 {
		t.Errorf("unexpected actuator %+v", st)
	}

	if resp := getJSON(t, ts.URL+"/actuators/heater", nil); resp.StatusCode != 404 {
		t.Errorf("unknown actuator: got %d, want 404", resp.StatusCode)
	}
}

func TestHTMLEndpointRoot(t *testing.T) {
	ts, tr := newTestServer(t, nil)
	populate(tr)

	resp, err := http.Get(ts.URL + "/")
	if err != nil {
		t.Fatalf("GET /: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != 200 {
		t.Errorf("status: got %d, want 200", resp.StatusCode)
	}
	ct := resp.Header.Get("Content-Type")
	if !strings.HasPrefix(ct, "text/html") {
		t.Errorf("Content-Type: got %q, want text/html", ct)
	}
	body, _ := io.ReadAll(resp.Body)
	for _, want := range []string{"Dosing Station doser-01", "water_pump", "6.10 pH", "3.5 ml", "loop-7", "TDS 2300 ppm above 2000", " ago)"} {
		if !strings.Contains(string(body), want) {
			t.Errorf("expected %q in page", want)
		}
	}
}

func TestHTMLShowsEmergencyStop(t *testing.T) {
	ts, tr := newTestServer(t, nil)
	tr.Update(nil, actuator.ManagerStatus{EmergencyStopActive: true, EmergencyStopReason: "leak detected"}, command.Stats{}, nil)

	resp, err := http.Get(ts.URL + "/index.html")
	if err != nil {
		t.Fatalf("GET /index.html: %v", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(body), "EMERGENCY STOP: leak detected") {
		t.Error("expected emergency stop banner")
	}
}

func TestNotFoundForUnknownPath(t *testing.T) {
	ts, _ := newTestServer(t, nil)

	resp, err := http.Get(ts.URL + "/nonexistent")
	if err != nil {
		t.Fatalf("GET /nonexistent: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != 404 {
		t.Errorf("status: got %d, want 404", resp.StatusCode)
	}
}

func TestReadOnly(t *testing.T) {
	ts, _ := newTestServer(t, nil)

	resp, err := http.Post(ts.URL+"/index.json", "application/json", strings.NewReader("{}"))
	if err != nil {
		t.Fatalf("POST: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Errorf("status: got %d, want 405", resp.StatusCode)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	m := metrics.New()
	ts, tr := newTestServer(t, m)
	populate(tr)
	m.Observe(tr.Snapshot())

	// counted request
	getJSON(t, ts.URL+"/index.json", nil)

	resp, err := http.Get(ts.URL + "/metrics")
	if err != nil {
		t.Fatalf("GET /metrics: %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	for _, want := range []string{
		`doser_actuator_active{actuator="water_pump"} 1`,
		`doser_http_requests_total{route="/index.json",status="200"} 1`,
	} {
		if !strings.Contains(string(body), want) {
			t.Errorf("expected %q in metrics", want)
		}
	}
}

func TestNoMetricsRouteWithoutMetrics(t *testing.T) {
	ts, _ := newTestServer(t, nil)
	if resp := getJSON(t, ts.URL+"/metrics", nil); resp.StatusCode != 404 {
		t.Errorf("status: got %d, want 404", resp.StatusCode)
	}
}

func TestStateChangesReflectedInResponse(t *testing.T) {
	ts, tr := newTestServer(t, nil)

	var sj1 status.StatusJSON
	getJSON(t, ts.URL+"/index.json", &sj1)
	if len(sj1.Status.Sensors) != 0 || sj1.Status.MQTT.Connected {
		t.Error("expected empty state initially")
	}

	populate(tr)
	tr.SetMQTTConnected(true)

	var sj2 status.StatusJSON
	getJSON(t, ts.URL+"/index.json", &sj2)
	if len(sj2.Status.Sensors) != 2 {
		t.Errorf("expected 2 sensors after update, got %d", len(sj2.Status.Sensors))
	}
	if !sj2.Status.MQTT.Connected {
		t.Error("expected MQTT connected after update")
	}
}
