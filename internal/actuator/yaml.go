package actuator

import (
	"fmt"
	"math"
	"slices"
	"time"

	"gopkg.in/yaml.v3"
)

// File shape of one actuator. Limits are in seconds, schedule intervals in
// minutes. Keys left out keep the value already in the target Config.
type configYAML struct {
	Enabled       bool         `yaml:"enabled"`
	Pin           int          `yaml:"pin"`
	FlowRate      float64      `yaml:"flow_rate_ml_per_sec"`
	MaxRuntimeSec float64      `yaml:"max_runtime_sec"`
	CooldownSec   float64      `yaml:"cooldown_sec"`
	Substance     string       `yaml:"substance"`
	Concentration string       `yaml:"concentration"`
	Scheduled     scheduleYAML `yaml:"scheduled"`
}

type scheduleYAML struct {
	Enabled         bool    `yaml:"enabled"`
	IntervalMinutes float64 `yaml:"interval_minutes"`
	DurationSeconds float64 `yaml:"duration_seconds"`
}

var (
	setKeys      = []string{"water_pump", "air_pump", "dosing_pumps"}
	configKeys   = []string{"type", "enabled", "pin", "flow_rate_ml_per_sec", "max_runtime_sec", "cooldown_sec", "substance", "concentration", "scheduled"}
	scheduleKeys = []string{"enabled", "interval_minutes", "duration_seconds"}
)

// UnmarshalYAML layers the node over the existing values in s. A pump named
// in dosing_pumps keeps every field the file does not set.
func (s *Set) UnmarshalYAML(n *yaml.Node) error {
	if err := checkKeys(n, setKeys); err != nil {
		return err
	}
	var f struct {
		WaterPump   *yaml.Node            `yaml:"water_pump"`
		AirPump     *yaml.Node            `yaml:"air_pump"`
		DosingPumps map[string]*yaml.Node `yaml:"dosing_pumps"`
	}
	if err := n.Decode(&f); err != nil {
		return err
	}

	if err := decodeActuator(f.WaterPump, &s.WaterPump, IDWaterPump, TypeWaterPump); err != nil {
		return err
	}
	if err := decodeActuator(f.AirPump, &s.AirPump, IDAirPump, TypeAirPump); err != nil {
		return err
	}
	if len(f.DosingPumps) > 0 && s.DosingPumps == nil {
		s.DosingPumps = make(map[string]Config, len(f.DosingPumps))
	}
	for id, pn := range f.DosingPumps {
		c := s.DosingPumps[id]
		if err := decodeActuator(pn, &c, id, TypeDosingPump); err != nil {
			return err
		}
		s.DosingPumps[id] = c
	}
	return nil
}

func decodeActuator(n *yaml.Node, c *Config, id string, want Type) error {
	if n == nil {
		return nil
	}
	if t := child(n, "type"); t != nil && Type(t.Value) != want {
		return fmt.Errorf("%s: line %d: type %q, expected %q", id, t.Line, t.Value, want)
	}
	if err := n.Decode(c); err != nil {
		return fmt.Errorf("%s: %w", id, err)
	}
	return nil
}

// UnmarshalYAML decodes one actuator over the values already in c.
func (c *Config) UnmarshalYAML(n *yaml.Node) error {
	if err := checkKeys(n, configKeys); err != nil {
		return err
	}
	if sn := child(n, "scheduled"); sn != nil {
		if err := checkKeys(sn, scheduleKeys); err != nil {
			return err
		}
	}

	f := configYAML{
		Enabled:       c.Enabled,
		Pin:           c.Pin,
		FlowRate:      c.FlowRate,
		MaxRuntimeSec: c.MaxRuntime.Seconds(),
		CooldownSec:   c.Cooldown.Seconds(),
		Substance:     c.Substance,
		Concentration: c.Concentration,
		Scheduled: scheduleYAML{
			Enabled:         c.Schedule.Enabled,
			IntervalMinutes: c.Schedule.Interval.Minutes(),
			DurationSeconds: c.Schedule.Duration.Seconds(),
		},
	}
	if err := n.Decode(&f); err != nil {
		return err
	}

	maxRun, err := seconds("max_runtime_sec", f.MaxRuntimeSec)
	if err != nil {
		return err
	}
	cooldown, err := seconds("cooldown_sec", f.CooldownSec)
	if err != nil {
		return err
	}
	interval, err := seconds("scheduled.interval_minutes", f.Scheduled.IntervalMinutes*60)
	if err != nil {
		return err
	}
	runFor, err := seconds("scheduled.duration_seconds", f.Scheduled.DurationSeconds)
	if err != nil {
		return err
	}

	*c = Config{
		Enabled:       f.Enabled,
		Pin:           f.Pin,
		FlowRate:      f.FlowRate,
		MaxRuntime:    maxRun,
		Cooldown:      cooldown,
		Substance:     f.Substance,
		Concentration: f.Concentration,
		Schedule:      ScheduleConfig{Enabled: f.Scheduled.Enabled, Interval: interval, Duration: runFor},
	}
	return nil
}

const maxSeconds = float64(math.MaxInt64 / int64(time.Second))

func seconds(key string, v float64) (time.Duration, error) {
	if math.IsNaN(v) || math.Abs(v) > maxSeconds {
		return 0, fmt.Errorf("%s %g out of range", key, v)
	}
	return time.Duration(v * float64(time.Second)), nil
}

// checkKeys rejects mapping keys outside known. Other node kinds are left
// to Decode to report.
func checkKeys(n *yaml.Node, known []string) error {
	if n.Kind != yaml.MappingNode {
		return nil
	}
	for i := 0; i+1 < len(n.Content); i += 2 {
		k := n.Content[i]
		if !slices.Contains(known, k.Value) {
			return fmt.Errorf("line %d: unknown field %q", k.Line, k.Value)
		}
	}
	return nil
}

func child(n *yaml.Node, key string) *yaml.Node {
	if n.Kind != yaml.MappingNode {
		return nil
	}
	for i := 0; i+1 < len(n.Content); i += 2 {
		if n.Content[i].Value == key {
			return n.Content[i+1]
		}
	}
	return nil
}
