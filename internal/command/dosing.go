package command

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/sweeney/dosing-station/internal/actuator"
	"github.com/sweeney/dosing-station/internal/sensor"
)

// Dosing model. One ml of pH solution moves pH by 0.1; one ml of nutrient
// raises TDS by 50 ppm.
const (
	phMlPerUnit  = 10.0
	phMinDoseMl  = 0.5
	phMaxDelta   = 2.0
	tdsPerMl     = 50.0
	tdsMinDoseMl = 1.0
	tdsMaxDelta  = 500.0

	// Closed loops correct half the remaining error per attempt.
	loopGain     = 0.5
	phLoopCapMl  = 5.0
	tdsLoopCapMl = 10.0

	PHStabilization  = 30 * time.Second
	TDSStabilization = 60 * time.Second
)

var sensorPH, sensorTDS = string(sensor.KindPH), string(sensor.KindTDS)

// doseFor applies the linear model clamp. A cap below the floor yields a
// volume the caller must reject.
func doseFor(v, floor, capMl float64) (float64, error) {
	v = math.Max(floor, math.Min(v, capMl))
	if v > capMl {
		return 0, fmt.Errorf("%w: required volume %.2f ml exceeds max %.2f ml", actuator.ErrExceedsMaxDose, v, capMl)
	}
	return v, nil
}

// adjustPHBy doses pH up or down solution once.
type adjustPHBy struct {
	id        string
	deltaPH   float64
	maxVolume float64

	currentPH float64
	pumpID    string
	volume    float64
}

func newAdjustPHBy(id string, delta, maxVolume float64) (*adjustPHBy, error) {
	if delta == 0 {
		return nil, fmt.Errorf("%w: delta_ph must be non-zero", ErrInvalidParam)
	}
	if err := inRange("delta_ph", delta, -phMaxDelta, phMaxDelta); err != nil {
		return nil, err
	}
	if err := positive("max_volume_ml", maxVolume); err != nil {
		return nil, err
	}
	c := &adjustPHBy{id: id, deltaPH: delta, maxVolume: maxVolume, pumpID: actuator.IDPHUp}
	if delta < 0 {
		c.pumpID = actuator.IDPHDown
	}
	return c, nil
}

func newAdjustPHByCommand(id string, p Params) (Command, error) {
	delta, err := p.Float("delta_ph")
	if err != nil {
		return nil, err
	}
	maxVol, err := p.OptFloat("max_volume_ml", 10)
	if err != nil {
		return nil, err
	}
	return newAdjustPHBy(id, delta, maxVol)
}

func (c *adjustPHBy) Validate(env *Env) error {
	if err := checkEmergencyStop(env); err != nil {
		return err
	}
	return checkActuator(env, c.pumpID)
}

func (c *adjustPHBy) Step(env *Env) (bool, error) {
	current, err := env.Sensors.Value(sensorPH)
	if err != nil {
		return true, fmt.Errorf("read pH: %w", err)
	}
	c.currentPH = current

	vol, err := doseFor(math.Abs(c.deltaPH)*phMlPerUnit, phMinDoseMl, c.maxVolume)
	if err != nil {
		return true, err
	}
	c.volume = vol

	env.Log.Info().Str("command_id", c.id).Float64("current_ph", current).
		Float64("delta_ph", c.deltaPH).Float64("volume_ml", vol).Str("pump", c.pumpID).
		Msg("adjusting pH")
	if _, err := env.Actuators.Dose(c.pumpID, vol, env.Now); err != nil {
		return true, err
	}
	return true, nil
}

func (c *adjustPHBy) Result() map[string]any {
	return map[string]any{
		"current_ph": c.currentPH,
		"delta_ph":   c.deltaPH,
		"pump_id":    c.pumpID,
		"volume_ml":  c.volume,
	}
}

func (c *adjustPHBy) Abort(env *Env) {
	_ = env.Actuators.Deactivate(c.pumpID, env.Now)
}

// adjustTDSBy splits one nutrient dose evenly across the registered
// nutrient pumps.
type adjustTDSBy struct {
	id        string
	deltaTDS  float64
	maxVolume float64

	currentTDS float64
	volume     float64
	pumps      []string
}

func newAdjustTDSBy(id string, delta, maxVolume float64) (*adjustTDSBy, error) {
	if delta <= 0 {
		return nil, fmt.Errorf("%w: delta_tds must be positive, TDS can only be increased", ErrInvalidParam)
	}
	if err := inRange("delta_tds", delta, 0, tdsMaxDelta); err != nil {
		return nil, err
	}
	if err := positive("max_volume_ml", maxVolume); err != nil {
		return nil, err
	}
	return &adjustTDSBy{id: id, deltaTDS: delta, maxVolume: maxVolume}, nil
}

func newAdjustTDSByCommand(id string, p Params) (Command, error) {
	delta, err := p.Float("delta_tds")
	if err != nil {
		return nil, err
	}
	maxVol, err := p.OptFloat("max_volume_ml", 20)
	if err != nil {
		return nil, err
	}
	return newAdjustTDSBy(id, delta, maxVol)
}

func (c *adjustTDSBy) Validate(env *Env) error {
	if err := checkEmergencyStop(env); err != nil {
		return err
	}
	c.pumps = c.pumps[:0]
	for _, id := range actuator.NutrientPumps {
		if env.Actuators.Has(id) {
			c.pumps = append(c.pumps, id)
		}
	}
	if len(c.pumps) == 0 {
		return ErrNoNutrientPump
	}
	return nil
}

func (c *adjustTDSBy) Step(env *Env) (bool, error) {
	current, err := env.Sensors.Value(sensorTDS)
	if err != nil {
		return true, fmt.Errorf("read TDS: %w", err)
	}
	c.currentTDS = current

	vol, err := doseFor(c.deltaTDS/tdsPerMl, tdsMinDoseMl, c.maxVolume)
	if err != nil {
		return true, err
	}
	c.volume = vol
	per := vol / float64(len(c.pumps))

	env.Log.Info().Str("command_id", c.id).Float64("current_tds", current).
		Float64("delta_tds", c.deltaTDS).Float64("volume_ml", vol).Strs("pumps", c.pumps).
		Msg("adjusting TDS")
	var errs []error
	for _, id := range c.pumps {
		if _, err := env.Actuators.Dose(id, per, env.Now); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", id, err))
		}
	}
	return true, errors.Join(errs...)
}

func (c *adjustTDSBy) Result() map[string]any {
	pumps := make([]string, len(c.pumps))
	copy(pumps, c.pumps)
	return map[string]any{
		"current_tds":     c.currentTDS,
		"delta_tds":       c.deltaTDS,
		"total_volume_ml": c.volume,
		"pumps_used":      pumps,
	}
}

func (c *adjustTDSBy) Abort(env *Env) {
	for _, id := range c.pumps {
		_ = env.Actuators.Deactivate(id, env.Now)
	}
}

// targetLoop is the resumable state shared by the closed-loop commands.
// Each Step reads the sensor once and either finishes or issues one
// sub-adjustment and sets the next wake time.
type targetLoop struct {
	id          string
	sensorID    string
	label       string
	target      float64
	tolerance   float64
	maxAttempts int
	wait        time.Duration

	attempt int
	nextAt  time.Time
	final   float64
	sub     Command

	// reached reports success beyond the tolerance band; nil means only
	// the band counts.
	reached func(current float64) bool
	// adjust builds the sub-command for the current reading.
	adjust func(id string, current float64) (Command, error)
}

func (l *targetLoop) WakeAt() time.Time { return l.nextAt }

func (l *targetLoop) Budget() time.Duration {
	return time.Duration(l.maxAttempts) * l.wait
}

func (l *targetLoop) Validate(env *Env) error {
	return checkEmergencyStop(env)
}

func (l *targetLoop) Step(env *Env) (bool, error) {
	if env.Now.Before(l.nextAt) {
		return false, nil
	}
	l.sub = nil

	current, err := env.Sensors.Value(l.sensorID)
	if err != nil {
		return true, fmt.Errorf("read %s: %w", l.label, err)
	}
	l.final = current
	if math.Abs(l.target-current) <= l.tolerance || (l.reached != nil && l.reached(current)) {
		env.Log.Info().Str("command_id", l.id).Float64("value", current).Msgf("%s target reached", l.label)
		return true, nil
	}
	if l.attempt >= l.maxAttempts {
		return true, fmt.Errorf("%w: failed to reach target %s after %d attempts", ErrTargetMissed, l.label, l.maxAttempts)
	}

	subID := fmt.Sprintf("%s_adjust_%d", l.id, l.attempt)
	sub, err := l.adjust(subID, current)
	if err != nil {
		return true, fmt.Errorf("attempt %d: %w", l.attempt+1, err)
	}
	l.attempt++
	l.sub = sub
	if err := sub.Validate(env); err != nil {
		return true, fmt.Errorf("%s: %w", subID, err)
	}
	if _, err := sub.Step(env); err != nil {
		return true, fmt.Errorf("%s: %w", subID, err)
	}
	l.nextAt = env.Now.Add(l.wait)
	return false, nil
}

func (l *targetLoop) Result() map[string]any {
	res := map[string]any{
		"tolerance": l.tolerance,
		"attempts":  l.attempt,
	}
	res["target_"+l.sensorID] = l.target
	res["final_"+l.sensorID] = l.final
	return res
}

func (l *targetLoop) Abort(env *Env) {
	if l.sub != nil {
		l.sub.Abort(env)
	}
}

func parseLoop(p Params, targetKey string, lo, hi, defTolerance float64) (target, tolerance float64, attempts int, err error) {
	if target, err = p.Float(targetKey); err != nil {
		return
	}
	if err = inRange(targetKey, target, lo, hi); err != nil {
		return
	}
	if tolerance, err = p.OptFloat("tolerance", defTolerance); err != nil {
		return
	}
	if err = positive("tolerance", tolerance); err != nil {
		return
	}
	if attempts, err = p.OptInt("max_attempts", 3); err != nil {
		return
	}
	err = positive("max_attempts", float64(attempts))
	return
}

// setPHTarget walks pH toward a setpoint with half-strength corrections.
type setPHTarget struct {
	targetLoop
}

func newSetPHTarget(id string, p Params) (Command, error) {
	target, tol, attempts, err := parseLoop(p, "target_ph", 4.0, 8.5, 0.1)
	if err != nil {
		return nil, err
	}
	c := &setPHTarget{targetLoop{
		id: id, sensorID: sensorPH, label: "pH",
		target: target, tolerance: tol, maxAttempts: attempts, wait: PHStabilization,
	}}
	c.adjust = func(subID string, current float64) (Command, error) {
		delta := (target - current) * loopGain
		delta = math.Max(-phMaxDelta, math.Min(delta, phMaxDelta))
		return newAdjustPHBy(subID, delta, phLoopCapMl)
	}
	return c, nil
}

// setTDSTarget raises TDS toward a setpoint. It cannot lower TDS, so a
// reading at or above the target is success.
type setTDSTarget struct {
	targetLoop
}

func newSetTDSTarget(id string, p Params) (Command, error) {
	target, tol, attempts, err := parseLoop(p, "target_tds", 100, 2000, 50)
	if err != nil {
		return nil, err
	}
	c := &setTDSTarget{targetLoop{
		id: id, sensorID: sensorTDS, label: "TDS",
		target: target, tolerance: tol, maxAttempts: attempts, wait: TDSStabilization,
	}}
	c.reached = func(current float64) bool { return current >= target }
	c.adjust = func(subID string, current float64) (Command, error) {
		delta := math.Min((target-current)*loopGain, tdsMaxDelta)
		return newAdjustTDSBy(subID, delta, tdsLoopCapMl)
	}
	return c, nil
}

