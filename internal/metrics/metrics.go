// Package metrics exposes station state to Prometheus.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sweeney/dosing-station/internal/actuator"
	"github.com/sweeney/dosing-station/internal/command"
	"github.com/sweeney/dosing-station/internal/status"
)

const namespace = "doser"

// Metrics owns a private registry so tests and multiple instances never
// collide on the global one.
type Metrics struct {
	reg *prometheus.Registry

	commandsTotal   *prometheus.CounterVec
	commandDuration *prometheus.HistogramVec
	queueLength     prometheus.Gauge
	activeCommands  prometheus.Gauge

	sensorValue   *prometheus.GaugeVec
	sensorHealthy *prometheus.GaugeVec

	actuatorActive      *prometheus.GaugeVec
	actuatorHealthy     *prometheus.GaugeVec
	actuatorActivations *prometheus.GaugeVec
	actuatorRuntime     *prometheus.GaugeVec
	dosedVolume         *prometheus.GaugeVec

	emergencyStop prometheus.Gauge
	mqttConnected prometheus.Gauge

	httpRequestsTotal *prometheus.CounterVec
}

// New creates and registers every collector.
func New() *Metrics {
	m := &Metrics{
		reg: prometheus.NewRegistry(),
		commandsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "commands_total",
			Help:      "Command responses published, by final status.",
		}, []string{"status"}),
		commandDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "command_duration_seconds",
			Help:      "Command execution time from start to final response.",
			Buckets:   []float64{0.1, 1, 10, 30, 60, 120, 300, 600},
		}, []string{"status"}),
		queueLength: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "command_queue_length",
			Help:      "Commands waiting to start.",
		}),
		activeCommands: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "commands_active",
			Help:      "Commands currently executing.",
		}),
		sensorValue: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sensor_value",
			Help:      "Latest sensor reading by processing stage.",
		}, []string{"sensor", "stage"}),
		sensorHealthy: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sensor_healthy",
			Help:      "1 if the sensor is healthy.",
		}, []string{"sensor"}),
		actuatorActive: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "actuator_active",
			Help:      "1 while the actuator output is on.",
		}, []string{"actuator"}),
		actuatorHealthy: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "actuator_healthy",
			Help:      "1 if the actuator is healthy.",
		}, []string{"actuator"}),
		actuatorActivations: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "actuator_activations",
			Help:      "Activations since start.",
		}, []string{"actuator"}),
		actuatorRuntime: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "actuator_runtime_seconds",
			Help:      "Accumulated on-time since start.",
		}, []string{"actuator"}),
		dosedVolume: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "dosed_volume_ml",
			Help:      "Volume dispensed since start, per dosing pump.",
		}, []string{"pump"}),
		emergencyStop: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "emergency_stop",
			Help:      "1 while the emergency stop is latched.",
		}),
		mqttConnected: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "mqtt_connected",
			Help:      "1 while the broker connection is up.",
		}),
		httpRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests served by route and status.",
		}, []string{"route", "status"}),
	}

	m.reg.MustRegister(
		m.commandsTotal,
		m.commandDuration,
		m.queueLength,
		m.activeCommands,
		m.sensorValue,
		m.sensorHealthy,
		m.actuatorActive,
		m.actuatorHealthy,
		m.actuatorActivations,
		m.actuatorRuntime,
		m.dosedVolume,
		m.emergencyStop,
		m.mqttConnected,
		m.httpRequestsTotal,
	)
	return m
}

func boolFloat(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

// Observe copies a status snapshot into the gauges.
func (m *Metrics) Observe(snap status.Snapshot) {
	if m == nil {
		return
	}
	m.queueLength.Set(float64(snap.Commands.Queued))
	m.activeCommands.Set(float64(snap.Commands.Active))
	m.emergencyStop.Set(boolFloat(snap.Actuators.EmergencyStopActive))
	m.mqttConnected.Set(boolFloat(snap.MQTTConnected))

	for _, s := range snap.Sensors {
		m.sensorHealthy.WithLabelValues(s.ID).Set(boolFloat(s.Healthy))
		if s.LastReading == 0 {
			continue
		}
		m.sensorValue.WithLabelValues(s.ID, "raw").Set(s.Raw)
		m.sensorValue.WithLabelValues(s.ID, "calibrated").Set(s.Calibrated)
		m.sensorValue.WithLabelValues(s.ID, "filtered").Set(s.Filtered)
	}

	for _, a := range snap.Actuators.Actuators {
		m.actuatorActive.WithLabelValues(a.ID).Set(boolFloat(a.State == actuator.StateActive))
		m.actuatorHealthy.WithLabelValues(a.ID).Set(boolFloat(a.Healthy))
		m.actuatorActivations.WithLabelValues(a.ID).Set(float64(a.ActivationCount))
		m.actuatorRuntime.WithLabelValues(a.ID).Set(float64(a.TotalRuntimeMs) / 1000)
		if a.Dosing != nil {
			m.dosedVolume.WithLabelValues(a.ID).Set(a.Dosing.TotalVolumeMl)
		}
	}
}

type responder struct {
	next command.Responder
	m    *Metrics
}

func (r responder) PublishResponse(resp command.Response) error {
	label := resp.Status.String()
	r.m.commandsTotal.WithLabelValues(label).Inc()
	r.m.commandDuration.WithLabelValues(label).Observe(float64(resp.ExecutionTimeMs) / 1000)
	if r.next == nil {
		return nil
	}
	return r.next.PublishResponse(resp)
}

// Responder counts every response before passing it to next.
func (m *Metrics) Responder(next command.Responder) command.Responder {
	if m == nil {
		return next
	}
	return responder{next: next, m: m}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(status int) {
	s.status = status
	s.ResponseWriter.WriteHeader(status)
}

// WrapHandler counts requests to route.
func (m *Metrics) WrapHandler(route string, next http.Handler) http.Handler {
	if m == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(recorder, r)
		m.httpRequestsTotal.WithLabelValues(route, strconv.Itoa(recorder.status)).Inc()
	})
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{Timeout: 5 * time.Second})
}
