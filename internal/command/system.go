package command

import (
	"errors"
	"fmt"

	"github.com/sweeney/dosing-station/internal/actuator"
	"github.com/sweeney/dosing-station/internal/calibration"
	"github.com/sweeney/dosing-station/internal/sensor"
)

type emergencyStop struct {
	reason string
}

func newEmergencyStop(_ string, p Params) (Command, error) {
	reason, err := p.OptString("reason", "Manual emergency stop")
	if err != nil {
		return nil, err
	}
	return &emergencyStop{reason: reason}, nil
}

func (c *emergencyStop) Validate(*Env) error { return nil }

func (c *emergencyStop) Step(env *Env) (bool, error) {
	return true, env.Actuators.EmergencyStop(c.reason, env.Now)
}

func (c *emergencyStop) Result() map[string]any { return map[string]any{"reason": c.reason} }

func (c *emergencyStop) Abort(*Env) {}

type clearEmergencyStop struct{}

func newClearEmergencyStop(string, Params) (Command, error) { return clearEmergencyStop{}, nil }

func (clearEmergencyStop) Validate(env *Env) error {
	if active, _ := env.Actuators.EmergencyStopActive(); !active {
		return actuator.ErrNoEmergencyStop
	}
	return nil
}

func (clearEmergencyStop) Step(env *Env) (bool, error) {
	return true, env.Actuators.ClearEmergencyStop()
}

func (clearEmergencyStop) Result() map[string]any { return nil }

func (clearEmergencyStop) Abort(*Env) {}

type calibrateSensor struct {
	sensorID string
	points   []calibration.Point
}

func newCalibrateSensor(_ string, p Params) (Command, error) {
	id, err := p.String("sensor_id")
	if err != nil {
		return nil, err
	}
	if id != string(sensor.KindPH) && id != string(sensor.KindTDS) {
		return nil, fmt.Errorf("%w: sensor_id must be ph or tds", ErrInvalidParam)
	}
	pts, err := p.Points("calibration_points")
	if err != nil {
		return nil, err
	}
	return &calibrateSensor{sensorID: id, points: pts}, nil
}

func (c *calibrateSensor) Validate(*Env) error { return nil }

func (c *calibrateSensor) Step(env *Env) (bool, error) {
	return true, env.Sensors.Calibrate(c.sensorID, c.points)
}

func (c *calibrateSensor) Result() map[string]any {
	return map[string]any{"sensor_id": c.sensorID, "points": len(c.points)}
}

func (c *calibrateSensor) Abort(*Env) {}

// resetSystem returns the station to a clean state and asks the
// application to restart.
type resetSystem struct {
	restart bool
}

func newResetSystem(string, Params) (Command, error) { return &resetSystem{}, nil }

func (c *resetSystem) Validate(*Env) error { return nil }

func (c *resetSystem) Step(env *Env) (bool, error) {
	if err := env.Actuators.StopAll(env.Now); err != nil {
		env.Log.Warn().Err(err).Msg("reset: stop all failed")
	}
	if err := env.Actuators.ClearEmergencyStop(); err != nil && !errors.Is(err, actuator.ErrNoEmergencyStop) {
		return true, err
	}
	env.Actuators.ResetFaults()
	c.restart = true
	return true, nil
}

func (c *resetSystem) Result() map[string]any {
	return map[string]any{"message": "System reset, restarting"}
}

func (c *resetSystem) Abort(*Env) {}

func (c *resetSystem) RestartRequested() bool { return c.restart }

type getSystemStatus struct {
	result map[string]any
}

func newGetSystemStatus(string, Params) (Command, error) { return &getSystemStatus{}, nil }

func (c *getSystemStatus) Validate(*Env) error { return nil }

func (c *getSystemStatus) Step(env *Env) (bool, error) {
	c.result = map[string]any{
		"sensors":   env.Sensors.Status(env.Now),
		"actuators": env.Actuators.Status(env.Now),
		"processor": env.Stats,
	}
	return true, nil
}

func (c *getSystemStatus) Result() map[string]any { return c.result }

func (c *getSystemStatus) Abort(*Env) {}
