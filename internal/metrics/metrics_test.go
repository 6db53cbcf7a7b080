package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/sweeney/dosing-station/internal/actuator"
	"github.com/sweeney/dosing-station/internal/command"
	"github.com/sweeney/dosing-station/internal/mqtt"
	"github.com/sweeney/dosing-station/internal/sensor"
	"github.com/sweeney/dosing-station/internal/status"
)

var t0 = time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

func scrape(t *testing.T, m *Metrics) string {
	t.Helper()
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("scrape: status %d", rec.Code)
	}
	body, _ := io.ReadAll(rec.Body)
	return string(body)
}

func expectLine(t *testing.T, body, line string) {
	t.Helper()
	if !strings.Contains(body, line+"\n") {
		t.Errorf("expected %q in scrape output", line)
	}
}

func TestObserve(t *testing.T) {
	m := New()
	m.Observe(status.Snapshot{
		MQTTConnected: true,
		Sensors: []sensor.Status{
			{ID: "ph", Healthy: true, Raw: 1721, Calibrated: 7, Filtered: 6.9, LastReading: t0.UnixMilli()},
			{ID: "tds", Healthy: false},
		},
		Actuators: actuator.ManagerStatus{
			EmergencyStopActive: true,
			Actuators: []actuator.Status{
				{ID: "water_pump", State: actuator.StateActive, Healthy: true, ActivationCount: 2, TotalRuntimeMs: 1500},
				{ID: "ph_down", State: actuator.StateCooldown, Healthy: true, Dosing: &actuator.DosingStatus{TotalVolumeMl: 12.5}},
			},
		},
		Commands: command.Stats{Queued: 3, Active: 1},
	})

	body := scrape(t, m)
	expectLine(t, body, `doser_sensor_value{sensor="ph",stage="filtered"} 6.9`)
	expectLine(t, body, `doser_sensor_healthy{sensor="tds"} 0`)
	expectLine(t, body, `doser_actuator_active{actuator="water_pump"} 1`)
	expectLine(t, body, `doser_actuator_active{actuator="ph_down"} 0`)
	expectLine(t, body, `doser_actuator_runtime_seconds{actuator="water_pump"} 1.5`)
	expectLine(t, body, `doser_dosed_volume_ml{pump="ph_down"} 12.5`)
	expectLine(t, body, `doser_emergency_stop 1`)
	expectLine(t, body, `doser_mqtt_connected 1`)
	expectLine(t, body, `doser_command_queue_length 3`)

	if strings.Contains(body, `doser_sensor_value{sensor="tds"`) {
		t.Error("unread sensor should not export values")
	}
	if strings.Contains(body, `doser_dosed_volume_ml{pump="water_pump"}`) {
		t.Error("non-dosing actuator should not export dosed volume")
	}
}

func TestResponderCountsAndForwards(t *testing.T) {
	m := New()
	fake := mqtt.NewFakeClient("d")
	r := m.Responder(fake)

	_ = r.PublishResponse(command.Response{CommandID: "a", Status: command.StatusCompleted, ExecutionTimeMs: 2000})
	_ = r.PublishResponse(command.Response{CommandID: "b", Status: command.StatusFailed})
	_ = r.PublishResponse(command.Response{CommandID: "c", Status: command.StatusFailed})

	if len(fake.Responses) != 3 {
		t.Errorf("expected 3 forwarded responses, got %d", len(fake.Responses))
	}
	body := scrape(t, m)
	expectLine(t, body, `doser_commands_total{status="completed"} 1`)
	expectLine(t, body, `doser_commands_total{status="failed"} 2`)
	expectLine(t, body, `doser_command_duration_seconds_sum{status="completed"} 2`)
}

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics
	m.Observe(status.Snapshot{})

	fake := mqtt.NewFakeClient("d")
	if got := m.Responder(fake); got != command.Responder(fake) {
		t.Error("nil metrics should return next unchanged")
	}

	h := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {})
	rec := httptest.NewRecorder()
	m.WrapHandler("/", h).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
}

func TestWrapHandler(t *testing.T) {
	m := New()
	h := m.WrapHandler("/index.json", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("fail") != "" {
			w.WriteHeader(http.StatusTeapot)
			return
		}
		w.Write([]byte("ok"))
	}))

	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/index.json", nil))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/index.json?fail=1", nil))

	body := scrape(t, m)
	expectLine(t, body, `doser_http_requests_total{route="/index.json",status="200"} 1`)
	expectLine(t, body, `doser_http_requests_total{route="/index.json",status="418"} 1`)
}

func TestSeparateInstancesDoNotCollide(t *testing.T) {
	a, b := New(), New()
	a.Observe(status.Snapshot{MQTTConnected: true})
	b.Observe(status.Snapshot{})
	expectLine(t, scrape(t, a), "doser_mqtt_connected 1")
	expectLine(t, scrape(t, b), "doser_mqtt_connected 0")
}
