package command

import (
	"time"
)

// activatePump runs a pump for a fixed duration.
type activatePump struct {
	pumpID   string
	duration time.Duration
}

func newActivatePump(_ string, p Params) (Command, error) {
	id, err := p.String("pump_id")
	if err != nil {
		return nil, err
	}
	d, err := p.Duration("duration_sec", time.Second)
	if err != nil {
		return nil, err
	}
	return &activatePump{pumpID: id, duration: d}, nil
}

func (c *activatePump) Validate(env *Env) error {
	if err := checkEmergencyStop(env); err != nil {
		return err
	}
	return checkActuator(env, c.pumpID)
}

func (c *activatePump) Step(env *Env) (bool, error) {
	return true, env.Actuators.Activate(c.pumpID, c.duration, env.Now)
}

func (c *activatePump) Result() map[string]any {
	return map[string]any{
		"pump_id":     c.pumpID,
		"duration_ms": c.duration.Milliseconds(),
	}
}

func (c *activatePump) Abort(env *Env) {
	_ = env.Actuators.Deactivate(c.pumpID, env.Now)
}

type stopPump struct {
	pumpID string
}

func newStopPump(_ string, p Params) (Command, error) {
	id, err := p.String("pump_id")
	if err != nil {
		return nil, err
	}
	return &stopPump{pumpID: id}, nil
}

func (c *stopPump) Validate(env *Env) error { return checkActuator(env, c.pumpID) }

func (c *stopPump) Step(env *Env) (bool, error) {
	return true, env.Actuators.Deactivate(c.pumpID, env.Now)
}

func (c *stopPump) Result() map[string]any { return map[string]any{"pump_id": c.pumpID} }

func (c *stopPump) Abort(*Env) {}

type stopAllPumps struct{}

func newStopAllPumps(string, Params) (Command, error) { return stopAllPumps{}, nil }

func (stopAllPumps) Validate(*Env) error { return nil }

func (stopAllPumps) Step(env *Env) (bool, error) {
	return true, env.Actuators.StopAll(env.Now)
}

func (stopAllPumps) Result() map[string]any {
	return map[string]any{"message": "All pumps stopped"}
}

func (stopAllPumps) Abort(*Env) {}

// doseVolume dispenses a volume from a dosing pump.
type doseVolume struct {
	pumpID   string
	volumeMl float64
	duration time.Duration
}

func newDoseVolume(_ string, p Params) (Command, error) {
	id, err := p.String("pump_id")
	if err != nil {
		return nil, err
	}
	vol, err := p.Float("volume_ml")
	if err != nil {
		return nil, err
	}
	if err := positive("volume_ml", vol); err != nil {
		return nil, err
	}
	return &doseVolume{pumpID: id, volumeMl: vol}, nil
}

func (c *doseVolume) Validate(env *Env) error {
	if err := checkEmergencyStop(env); err != nil {
		return err
	}
	if err := checkActuator(env, c.pumpID); err != nil {
		return err
	}
	return env.Actuators.CanDose(c.pumpID, c.volumeMl, env.Now)
}

func (c *doseVolume) Step(env *Env) (bool, error) {
	d, err := env.Actuators.Dose(c.pumpID, c.volumeMl, env.Now)
	c.duration = d
	return true, err
}

func (c *doseVolume) Result() map[string]any {
	return map[string]any{
		"pump_id":     c.pumpID,
		"volume_ml":   c.volumeMl,
		"duration_ms": c.duration.Milliseconds(),
	}
}

func (c *doseVolume) Abort(env *Env) {
	_ = env.Actuators.Deactivate(c.pumpID, env.Now)
}

// schedulePump installs a periodic run on a water or air pump.
type schedulePump struct {
	pumpID   string
	interval time.Duration
	duration time.Duration
}

func newSchedulePump(_ string, p Params) (Command, error) {
	id, err := p.String("pump_id")
	if err != nil {
		return nil, err
	}
	interval, err := p.Duration("interval_minutes", time.Minute)
	if err != nil {
		return nil, err
	}
	d, err := p.Duration("duration_seconds", time.Second)
	if err != nil {
		return nil, err
	}
	return &schedulePump{pumpID: id, interval: interval, duration: d}, nil
}

func (c *schedulePump) Validate(env *Env) error {
	if err := checkEmergencyStop(env); err != nil {
		return err
	}
	return checkActuator(env, c.pumpID)
}

func (c *schedulePump) Step(env *Env) (bool, error) {
	return true, env.Actuators.SetSchedule(c.pumpID, c.interval, c.duration)
}

func (c *schedulePump) Result() map[string]any {
	return map[string]any{
		"pump_id":          c.pumpID,
		"interval_minutes": int(c.interval.Minutes()),
		"duration_seconds": int(c.duration.Seconds()),
	}
}

func (c *schedulePump) Abort(*Env) {}

type cancelSchedule struct {
	pumpID string
}

func newCancelSchedule(_ string, p Params) (Command, error) {
	id, err := p.String("pump_id")
	if err != nil {
		return nil, err
	}
	return &cancelSchedule{pumpID: id}, nil
}

func (c *cancelSchedule) Validate(env *Env) error { return checkActuator(env, c.pumpID) }

func (c *cancelSchedule) Step(env *Env) (bool, error) {
	return true, env.Actuators.CancelSchedule(c.pumpID)
}

func (c *cancelSchedule) Result() map[string]any { return map[string]any{"pump_id": c.pumpID} }

func (c *cancelSchedule) Abort(*Env) {}
