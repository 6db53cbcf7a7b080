package actuator

import (
	"fmt"
	"math"
	"time"

	"github.com/rs/zerolog"
	"github.com/sweeney/dosing-station/internal/gpio"
)

// Doser is the capability of dispensing a measured volume.
type Doser interface {
	Actuator
	Dose(volumeMl float64, now time.Time) (time.Duration, error)
	CanDose(volumeMl float64, now time.Time) error
	MaxDoseMl() float64
}

// DosingPump is a peristaltic pump dispensing volumes at a fixed flow rate.
type DosingPump struct {
	*Pump

	maxDoseMl     float64
	totalVolumeMl float64
	lastDose      time.Time
}

// NewDosingPump creates an uninitialized dosing pump.
func NewDosingPump(id string, log zerolog.Logger) *DosingPump {
	return &DosingPump{Pump: NewPump(id, TypeDosingPump, log)}
}

// Init installs cfg and derives the max dose from flow rate and max runtime.
func (d *DosingPump) Init(cfg Config, line gpio.Line) error {
	if cfg.Substance == "" {
		cfg.Substance = "Unknown"
	}
	if cfg.Concentration == "" {
		cfg.Concentration = "100%"
	}
	if err := d.Pump.Init(cfg, line); err != nil {
		return err
	}
	d.maxDoseMl = cfg.FlowRate * cfg.MaxRuntime.Seconds()
	return nil
}

// MaxDoseMl is the largest volume a single dose may request.
func (d *DosingPump) MaxDoseMl() float64 { return d.maxDoseMl }

// TotalVolumeMl is the volume dispensed since startup.
func (d *DosingPump) TotalVolumeMl() float64 { return d.totalVolumeMl }

// DurationFor converts a volume to a pump run time.
func (d *DosingPump) DurationFor(volumeMl float64) time.Duration {
	ms := math.Round(volumeMl / d.cfg.FlowRate * 1000)
	return time.Duration(ms) * time.Millisecond
}

// CanDose checks every dose guard without touching hardware.
func (d *DosingPump) CanDose(volumeMl float64, now time.Time) error {
	switch {
	case !d.initialized:
		return ErrNotInitialized
	case volumeMl <= 0:
		return fmt.Errorf("%w: %.2f ml", ErrInvalidVolume, volumeMl)
	case d.cfg.FlowRate <= 0:
		return ErrNoFlowRate
	case volumeMl > d.maxDoseMl:
		return fmt.Errorf("%w: %.2f ml > %.2f ml", ErrExceedsMaxDose, volumeMl, d.maxDoseMl)
	}
	return d.checkActivate(d.DurationFor(volumeMl), now)
}

// Dose dispenses volumeMl and returns the planned run time.
func (d *DosingPump) Dose(volumeMl float64, now time.Time) (time.Duration, error) {
	if err := d.CanDose(volumeMl, now); err != nil {
		return 0, err
	}
	dur := d.DurationFor(volumeMl)
	if err := d.Activate(dur, now); err != nil {
		return 0, err
	}
	d.totalVolumeMl += volumeMl
	d.lastDose = now
	d.log.Info().Float64("volume_ml", volumeMl).Str("substance", d.cfg.Substance).Msg("dose started")
	return dur, nil
}

// Status adds the dosing details to the pump status.
func (d *DosingPump) Status(now time.Time) Status {
	st := d.Pump.Status(now)
	st.Dosing = &DosingStatus{
		Substance:     d.cfg.Substance,
		Concentration: d.cfg.Concentration,
		FlowRate:      d.cfg.FlowRate,
		MaxDoseMl:     d.maxDoseMl,
		TotalVolumeMl: d.totalVolumeMl,
	}
	if !d.lastDose.IsZero() {
		st.Dosing.LastDose = d.lastDose.UnixMilli()
	}
	return st
}
