package main

import (
	"fmt"
	"runtime"
	"time"

	"github.com/rs/zerolog"
	"github.com/sweeney/dosing-station/internal/actuator"
	"github.com/sweeney/dosing-station/internal/adc"
	"github.com/sweeney/dosing-station/internal/calibration"
	"github.com/sweeney/dosing-station/internal/command"
	"github.com/sweeney/dosing-station/internal/config"
	"github.com/sweeney/dosing-station/internal/gpio"
	"github.com/sweeney/dosing-station/internal/metrics"
	"github.com/sweeney/dosing-station/internal/mqtt"
	"github.com/sweeney/dosing-station/internal/sensor"
	"github.com/sweeney/dosing-station/internal/status"
)

// calibrationSource is the read side of the calibration store.
type calibrationSource interface {
	sensor.CalibrationStore
	LoadCalibration(sensorID string) (calibration.Config, error)
}

// station owns every manager. Only runLoop's goroutine touches it.
type station struct {
	actuators *actuator.Manager
	sensors   *sensor.Manager
	proc      *command.Processor
	client    mqtt.Client
	tracker   *status.Tracker
	metrics   *metrics.Metrics

	deviceID  string
	heartbeat time.Duration
	start     time.Time
	lastBeat  time.Time

	log zerolog.Logger
}

type sensorDef struct {
	id   string
	kind sensor.Kind
	cfg  sensor.Config
}

// sensorDefs lists the enabled probes.
func sensorDefs(cfg *config.Config) []sensorDef {
	var out []sensorDef
	for _, d := range []sensorDef{
		{"ph", sensor.KindPH, cfg.Sensors.PH},
		{"tds", sensor.KindTDS, cfg.Sensors.TDS},
	} {
		if d.cfg.Enabled {
			out = append(out, d)
		}
	}
	return out
}

// newStation wires the managers together. store may be nil.
func newStation(cfg *config.Config, chip gpio.Chip, reader adc.Reader, client mqtt.Client, store calibrationSource, m *metrics.Metrics, start time.Time, log zerolog.Logger) (*station, error) {
	acts := actuator.NewManager(log)
	if err := acts.Init(cfg.Actuators, chip); err != nil {
		return nil, fmt.Errorf("init actuators: %w", err)
	}

	sens := sensor.NewManager(client, store, log)
	for _, def := range sensorDefs(cfg) {
		s, err := sensor.New(def.id, def.kind, def.cfg, reader)
		if err != nil {
			acts.Close()
			return nil, err
		}
		if store != nil {
			restoreCalibration(s, store, log)
		}
		sens.Add(s)
	}

	proc := command.NewProcessor(cfg.Commands, acts, sens, m.Responder(client), log)

	tracker := status.NewTracker(start, status.Config{
		DeviceID:    cfg.Device.ID,
		Location:    cfg.Device.Location,
		Broker:      cfg.MQTT.Broker,
		HTTPAddr:    cfg.HTTP.Addr,
		TickMs:      cfg.System.Tick.Milliseconds(),
		HeartbeatMs: cfg.System.Heartbeat.Milliseconds(),
		PHMin:       cfg.Safety.PHMin,
		PHMax:       cfg.Safety.PHMax,
		TDSMax:      cfg.Safety.TDSMax,
	})

	return &station{
		actuators: acts,
		sensors:   sens,
		proc:      proc,
		client:    client,
		tracker:   tracker,
		metrics:   m,
		deviceID:  cfg.Device.ID,
		heartbeat: cfg.System.Heartbeat,
		start:     start,
		lastBeat:  start,
		log:       log,
	}, nil
}

// restoreCalibration applies a stored calibration over the configured one.
func restoreCalibration(s *sensor.Sensor, store calibrationSource, log zerolog.Logger) {
	cal, err := store.LoadCalibration(s.ID())
	if err != nil {
		return
	}
	if err := s.SetCalibration(cal); err != nil {
		log.Warn().Err(err).Str("sensor", s.ID()).Msg("stored calibration unusable, keeping configured one")
		return
	}
	log.Info().Str("sensor", s.ID()).Str("type", string(cal.Type)).Int("points", len(cal.Points)).Msg("restored stored calibration")
}

// tick runs one control cycle.
func (st *station) tick(now time.Time) {
	st.actuators.Poll(now)
	st.sensors.Poll(now)
	st.proc.Tick(now)

	if st.heartbeat > 0 && now.Sub(st.lastBeat) >= st.heartbeat {
		st.lastBeat = now
		st.publishHeartbeat(now)
	}

	st.tracker.Update(st.sensors.Status(now), st.actuators.Status(now), st.proc.Stats(), st.proc.ActiveIDs())
	st.tracker.SetMQTTConnected(st.client.IsConnected())
	st.metrics.Observe(st.tracker.Snapshot())
}

func (st *station) publishHeartbeat(now time.Time) {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)

	estop, reason := st.actuators.EmergencyStopActive()
	hb := mqtt.Heartbeat{
		Timestamp:           now,
		DeviceID:            st.deviceID,
		Uptime:              now.Sub(st.start),
		MQTTConnected:       st.client.IsConnected(),
		EmergencyStop:       estop,
		EmergencyStopReason: reason,
		Commands:            st.proc.Stats(),
		ActuatorsHealthy:    st.actuators.AllHealthy(now),
		SensorsHealthy:      st.sensors.AllHealthy(now),
		HeapAllocBytes:      ms.HeapAlloc,
	}
	if err := st.client.PublishHeartbeat(hb); err != nil {
		st.log.Warn().Err(err).Msg("heartbeat publish failed")
	}
}

// submit hands a raw command payload to the processor.
func (st *station) submit(data []byte, now time.Time) {
	if err := st.proc.SubmitJSON(data, now); err != nil {
		st.log.Warn().Err(err).Msg("command rejected")
	}
}

// shutdown turns every output off.
func (st *station) shutdown(now time.Time) {
	if err := st.actuators.StopAll(now); err != nil {
		st.log.Error().Err(err).Msg("stop all on shutdown")
	}
}
