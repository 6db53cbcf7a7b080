// Package config loads the station's YAML configuration.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/sweeney/dosing-station/internal/actuator"
	"github.com/sweeney/dosing-station/internal/calibration"
	"github.com/sweeney/dosing-station/internal/command"
	"github.com/sweeney/dosing-station/internal/filter"
	"github.com/sweeney/dosing-station/internal/sensor"
	"gopkg.in/yaml.v3"
)

// Config holds the full device configuration.
type Config struct {
	Device    DeviceConfig   `yaml:"device"`
	MQTT      MQTTConfig     `yaml:"mqtt"`
	HTTP      HTTPConfig     `yaml:"http"`
	Hardware  HardwareConfig `yaml:"hardware"`
	Sensors   SensorsConfig  `yaml:"sensors"`
	Actuators actuator.Set   `yaml:"actuators"`
	Safety    SafetyConfig   `yaml:"safety"`
	Commands  command.Config `yaml:"commands"`
	System    SystemConfig   `yaml:"system"`
	Storage   StorageConfig  `yaml:"storage"`
	Logging   LoggingConfig  `yaml:"logging"`
}

// DeviceConfig identifies the station.
type DeviceConfig struct {
	ID       string `yaml:"id"`
	Name     string `yaml:"name"`
	Location string `yaml:"location"`
}

// MQTTConfig contains broker connection settings.
type MQTTConfig struct {
	Broker     string `yaml:"broker"`
	Username   string `yaml:"username"`
	Password   string `yaml:"password"`
	BufferSize int    `yaml:"buffer_size"`
}

// HTTPConfig controls the status page. An empty address disables it.
type HTTPConfig struct {
	Addr string `yaml:"addr"`
}

// HardwareConfig selects the GPIO chip and ADC.
type HardwareConfig struct {
	GPIOChip   string `yaml:"gpio_chip"`
	ADCAddress uint8  `yaml:"adc_address"`
}

// SensorsConfig holds the two probes.
type SensorsConfig struct {
	PH  sensor.Config `yaml:"ph"`
	TDS sensor.Config `yaml:"tds"`
}

// SafetyConfig bounds acceptable water chemistry.
type SafetyConfig struct {
	PHMin  float64 `yaml:"ph_min"`
	PHMax  float64 `yaml:"ph_max"`
	TDSMax float64 `yaml:"tds_max"`
}

// SystemConfig holds loop timing.
type SystemConfig struct {
	Tick      time.Duration `yaml:"tick"`
	Heartbeat time.Duration `yaml:"heartbeat_interval"`
}

// StorageConfig locates the calibration database.
type StorageConfig struct {
	Path string `yaml:"path"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	MQTT   bool   `yaml:"mqtt"`
}

// Load reads, defaults, overrides and validates the configuration at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return Parse(data)
}

// Parse is Load without the file read. Values in data are layered over
// Default, so a file only needs to name what differs. Unknown keys are an
// error.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	cfg.ApplyDefaults()
	cfg.OverrideFromEnv()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// Default returns the factory configuration.
func Default() *Config {
	dosing := func(pin int, flow float64, maxRun, cooldown int, substance, conc string) actuator.Config {
		return actuator.Config{
			Enabled:       true,
			Pin:           pin,
			FlowRate:      flow,
			MaxRuntime:    time.Duration(maxRun) * time.Second,
			Cooldown:      time.Duration(cooldown) * time.Second,
			Substance:     substance,
			Concentration: conc,
		}
	}
	cfg := &Config{
		Device: DeviceConfig{ID: "homegrow_client_001", Name: "HomeGrow dosing station"},
		Sensors: SensorsConfig{
			PH: sensor.Config{
				Enabled: true,
				Pin:     0,
				Calibration: calibration.Config{
					Type:   calibration.TypeMultiPoint,
					Points: []calibration.Point{{Raw: 2252, Value: 4.0}, {Raw: 1721, Value: 7.0}},
				},
				NoiseFilter: filter.Config{Enabled: true, Type: filter.TypeMovingAverage, WindowSize: 10, OutlierThreshold: 2.0},
				Publishing:  sensor.Publishing{RateHz: 1.0},
			},
			TDS: sensor.Config{
				Enabled: true,
				Pin:     1,
				Calibration: calibration.Config{
					Type:   calibration.TypeSinglePoint,
					Points: []calibration.Point{{Raw: 1156, Value: 342}},
				},
				NoiseFilter: filter.Config{Enabled: true, Type: filter.TypeExponential, Alpha: 0.1, OutlierThreshold: 100},
				Publishing:  sensor.Publishing{RateHz: 0.5},
			},
		},
		Actuators: actuator.Set{
			WaterPump: actuator.Config{
				Enabled: true, Pin: 16, FlowRate: 50,
				MaxRuntime: 300 * time.Second, Cooldown: 60 * time.Second,
				Schedule: actuator.ScheduleConfig{Interval: 30 * time.Minute, Duration: 120 * time.Second},
			},
			AirPump: actuator.Config{
				Enabled: true, Pin: 17,
				MaxRuntime: 1800 * time.Second, Cooldown: 30 * time.Second,
				Schedule: actuator.ScheduleConfig{Interval: 15 * time.Minute, Duration: 300 * time.Second},
			},
			DosingPumps: map[string]actuator.Config{
				actuator.IDPHDown:    dosing(18, 0.5, 60, 300, "pH Down", "85%"),
				actuator.IDPHUp:      dosing(19, 0.5, 60, 300, "pH Up", "40%"),
				actuator.IDNutrientA: dosing(20, 1.0, 120, 60, "Nutrient A", "100%"),
				actuator.IDNutrientB: dosing(21, 1.0, 120, 60, "Nutrient B", "100%"),
				actuator.IDCalMag:    dosing(22, 0.8, 90, 120, "Cal-Mag", "100%"),
			},
		},
	}
	cfg.ApplyDefaults()
	return cfg
}

// ApplyDefaults sets default values for any unset fields.
func (c *Config) ApplyDefaults() {
	if c.Device.ID == "" {
		c.Device.ID = "homegrow_client_001"
	}
	if c.MQTT.Broker == "" {
		c.MQTT.Broker = "tcp://192.168.1.100:1883"
	}
	if c.MQTT.BufferSize == 0 {
		c.MQTT.BufferSize = 100
	}
	if c.Hardware.GPIOChip == "" {
		c.Hardware.GPIOChip = "gpiochip0"
	}
	if c.Hardware.ADCAddress == 0 {
		c.Hardware.ADCAddress = 0x48
	}
	for _, s := range []*sensor.Config{&c.Sensors.PH, &c.Sensors.TDS} {
		if s.ReadInterval == 0 {
			s.ReadInterval = 500 * time.Millisecond
		}
		if s.Publishing.RateHz == 0 {
			s.Publishing.RateHz = 1.0
		}
		if s.TemperatureC == 0 {
			s.TemperatureC = sensor.ReferenceTempC
		}
	}
	if c.Safety.PHMin == 0 && c.Safety.PHMax == 0 {
		c.Safety.PHMin, c.Safety.PHMax = 4.0, 8.5
	}
	if c.Safety.TDSMax == 0 {
		c.Safety.TDSMax = 2000
	}
	if c.Commands.QueueSize == 0 {
		c.Commands.QueueSize = command.DefaultQueueSize
	}
	if c.Commands.Timeout == 0 {
		c.Commands.Timeout = command.DefaultTimeout
	}
	if c.System.Tick == 0 {
		c.System.Tick = 100 * time.Millisecond
	}
	if c.System.Heartbeat == 0 {
		c.System.Heartbeat = 30 * time.Second
	}
	if c.Storage.Path == "" {
		c.Storage.Path = "/var/lib/dosing-station/calibration.db"
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}
}

// OverrideFromEnv overrides config values from DOSER_* environment variables.
func (c *Config) OverrideFromEnv() {
	if v := os.Getenv("DOSER_DEVICE_ID"); v != "" {
		c.Device.ID = v
	}
	if v := os.Getenv("DOSER_MQTT_BROKER"); v != "" {
		c.MQTT.Broker = v
	}
	if v := os.Getenv("DOSER_MQTT_USERNAME"); v != "" {
		c.MQTT.Username = v
	}
	if v := os.Getenv("DOSER_MQTT_PASSWORD"); v != "" {
		c.MQTT.Password = v
	}
	if v, ok := os.LookupEnv("DOSER_HTTP_ADDR"); ok {
		c.HTTP.Addr = v
	}
	if v := os.Getenv("DOSER_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv("DOSER_STORAGE_PATH"); v != "" {
		c.Storage.Path = v
	}
}

// Validate checks that the configuration is usable. All problems are
// reported together.
func (c *Config) Validate() error {
	var errs []error
	add := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf(format, args...))
	}

	if c.Device.ID == "" || strings.ContainsAny(c.Device.ID, "/+# ") {
		add("device id %q must be non-empty and free of MQTT wildcards", c.Device.ID)
	}
	if u, err := url.Parse(c.MQTT.Broker); err != nil || (u.Scheme != "tcp" && u.Scheme != "ssl" && u.Scheme != "ws" && u.Scheme != "wss") {
		add("mqtt broker %q must be a tcp, ssl, ws or wss URL", c.MQTT.Broker)
	}

	for name, s := range map[string]sensor.Config{"ph": c.Sensors.PH, "tds": c.Sensors.TDS} {
		if !s.Enabled {
			continue
		}
		if s.Pin < 0 || s.Pin > 3 {
			add("sensor %s: adc channel %d out of range 0-3", name, s.Pin)
		}
		if s.ReadInterval <= 0 || s.Publishing.RateHz <= 0 {
			add("sensor %s: read interval and publish rate must be positive", name)
		}
		if s.NoiseFilter.Enabled {
			switch s.NoiseFilter.Type {
			case filter.TypeMovingAverage, filter.TypeExponential, "":
			default:
				add("sensor %s: unknown filter type %q", name, s.NoiseFilter.Type)
			}
		}
		switch s.Calibration.Type {
		case calibration.TypeLinear, calibration.TypeMultiPoint, calibration.TypeSinglePoint, "":
		default:
			add("sensor %s: unknown calibration type %q", name, s.Calibration.Type)
		}
	}

	pins := make(map[int]string)
	check := func(id string, a actuator.Config, dosing bool) {
		if !a.Enabled {
			return
		}
		if a.Pin <= 0 {
			add("actuator %s: pin must be positive", id)
		} else if other, ok := pins[a.Pin]; ok {
			add("actuator %s: pin %d already used by %s", id, a.Pin, other)
		} else {
			pins[a.Pin] = id
		}
		if a.MaxRuntime <= 0 {
			add("actuator %s: max runtime must be positive", id)
		}
		if a.Cooldown < 0 {
			add("actuator %s: cooldown must not be negative", id)
		}
		if dosing && a.FlowRate <= 0 {
			add("actuator %s: dosing pumps need a positive flow rate", id)
		}
		if a.Schedule.Enabled && (a.Schedule.Interval <= 0 || a.Schedule.Duration <= 0 || a.Schedule.Duration > a.MaxRuntime) {
			add("actuator %s: schedule needs positive interval and a duration within max runtime", id)
		}
	}
	check(actuator.IDWaterPump, c.Actuators.WaterPump, false)
	check(actuator.IDAirPump, c.Actuators.AirPump, false)
	for id, a := range c.Actuators.DosingPumps {
		check(id, a, true)
	}

	if c.Safety.PHMin >= c.Safety.PHMax || c.Safety.PHMin < 0 || c.Safety.PHMax > 14 {
		add("safety: pH range %.1f-%.1f invalid", c.Safety.PHMin, c.Safety.PHMax)
	}
	if c.Safety.TDSMax <= 0 {
		add("safety: tds max must be positive")
	}
	if c.Commands.QueueSize <= 0 || c.Commands.Timeout <= 0 {
		add("commands: queue size and timeout must be positive")
	}
	if c.System.Tick <= 0 || c.System.Heartbeat <= 0 {
		add("system: tick and heartbeat interval must be positive")
	}
	switch c.Logging.Format {
	case "json", "console":
	default:
		add("logging: format %q must be json or console", c.Logging.Format)
	}
	return errors.Join(errs...)
}

// String returns a safe representation that hides the broker password.
func (c *Config) String() string {
	return fmt.Sprintf("Config{Device: %s, Broker: %s, User: %s, Password: %s, HTTP: %q, Storage: %s}",
		c.Device.ID, c.MQTT.Broker, c.MQTT.Username, mask(c.MQTT.Password), c.HTTP.Addr, c.Storage.Path)
}

func mask(s string) string {
	if s == "" {
		return ""
	}
	return "****"
}
