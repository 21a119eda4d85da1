// Package config loads the JSON machine configuration: one entry per axis
// with its ramp profile and driver, plus the shared timing backend.
package config

import (
	"encoding/json"
	"math"
	"os"
	"sort"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"stepramp/ramp"
)

// Profile kinds
const (
	ProfileConstant    = "constant"
	ProfileTrapezoidal = "trapezoidal"
)

// Timing backends
const (
	TimingSoftware = "software"
	TimingCounter  = "counter"
)

// Driver kinds
const (
	DriverLog    = "log"
	DriverSerial = "serial"
)

var ErrNoAxes = errors.New("no axes configured")

// MachineConfig is the top level configuration
type MachineConfig struct {
	LogLevel string                `json:"log_level"`
	Timing   TimingConfig          `json:"timing"`
	Axes     map[string]AxisConfig `json:"axes"`
}

// TimingConfig selects the timing source behind every axis
type TimingConfig struct {
	Backend            string `json:"backend"`
	CounterFrequencyHz uint32 `json:"counter_frequency_hz"`
}

// AxisConfig configures one axis. The profile can be given in steps, or in
// mm with steps_per_mm, max_velocity and max_accel filling the gaps.
type AxisConfig struct {
	Profile     ProfileConfig `json:"profile"`
	Driver      DriverConfig  `json:"driver"`
	StepsPerMM  float64       `json:"steps_per_mm"`
	MaxVelocity float64       `json:"max_velocity"` // mm/s
	MaxAccel    float64       `json:"max_accel"`    // mm/s^2
	TraceSize   int           `json:"trace_size"`
}

// ProfileConfig describes a ramp profile. The cruise speed is
// cruise_interval_ns, or steps_per_second when that is unset.
type ProfileConfig struct {
	Kind             string `json:"kind"`
	IntervalNs       uint64 `json:"interval_ns"`
	CruiseIntervalNs uint64 `json:"cruise_interval_ns"`
	StepsPerSecond   uint32 `json:"steps_per_second"`
	AccelerationRate uint32 `json:"acceleration_rate"` // steps/s^2
	DecelerationRate uint32 `json:"deceleration_rate"` // steps/s^2
}

// DriverConfig selects the physical driver of an axis
type DriverConfig struct {
	Kind          string `json:"kind"`
	Device        string `json:"device"`
	Baud          int    `json:"baud"`
	ReadTimeoutMs int    `json:"read_timeout_ms"`
	LinkAxis      uint8  `json:"link_axis"`
	QueueSize     int    `json:"queue_size"`
}

// Load parses a JSON configuration, applies defaults and validates it.
func Load(data []byte) (*MachineConfig, error) {
	var cfg MachineConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, errors.Wrap(err, "parse config")
	}

	applyDefaults(&cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadFile reads and loads the configuration at path
func LoadFile(path string) (*MachineConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "read config")
	}
	cfg, err := Load(data)
	if err != nil {
		return nil, errors.Wrap(err, path)
	}
	return cfg, nil
}

// applyDefaults fills in missing values
func applyDefaults(cfg *MachineConfig) {
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	if cfg.Timing.Backend == "" {
		cfg.Timing.Backend = TimingSoftware
	}
	if cfg.Timing.CounterFrequencyHz == 0 {
		cfg.Timing.CounterFrequencyHz = 1_000_000
	}

	for name, axis := range cfg.Axes {
		p := &axis.Profile
		if p.Kind == "" {
			p.Kind = ProfileTrapezoidal
		}
		if axis.StepsPerMM > 0 {
			if p.StepsPerSecond == 0 && p.CruiseIntervalNs == 0 {
				p.StepsPerSecond = toRate(axis.MaxVelocity * axis.StepsPerMM)
			}
			if p.AccelerationRate == 0 {
				p.AccelerationRate = toRate(axis.MaxAccel * axis.StepsPerMM)
			}
		}
		if p.DecelerationRate == 0 {
			p.DecelerationRate = p.AccelerationRate
		}

		d := &axis.Driver
		if d.Kind == "" {
			d.Kind = DriverLog
		}
		if d.Kind == DriverSerial {
			if d.Baud == 0 {
				d.Baud = 250000
			}
			if d.ReadTimeoutMs == 0 {
				d.ReadTimeoutMs = 100
			}
		}
		cfg.Axes[name] = axis
	}
}

func toRate(v float64) uint32 {
	if v <= 0 {
		return 0
	}
	if v >= math.MaxUint32 {
		return math.MaxUint32
	}
	return uint32(math.Round(v))
}

// Validate checks the configuration after defaults are applied
func (cfg *MachineConfig) Validate() error {
	if _, err := cfg.Level(); err != nil {
		return err
	}

	switch cfg.Timing.Backend {
	case TimingSoftware, TimingCounter:
	default:
		return errors.Errorf("unknown timing backend %q", cfg.Timing.Backend)
	}

	if len(cfg.Axes) == 0 {
		return ErrNoAxes
	}
	for _, name := range cfg.AxisNames() {
		axis := cfg.Axes[name]
		if _, err := axis.RampProfile(); err != nil {
			return errors.Wrapf(err, "axis %s", name)
		}
		if err := axis.Driver.validate(); err != nil {
			return errors.Wrapf(err, "axis %s", name)
		}
		if axis.TraceSize < 0 {
			return errors.Errorf("axis %s: negative trace size", name)
		}
	}
	return nil
}

// Level returns the configured log level
func (cfg *MachineConfig) Level() (logrus.Level, error) {
	lvl, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		return 0, errors.Wrap(err, "log_level")
	}
	return lvl, nil
}

// AxisNames returns the axis names in sorted order
func (cfg *MachineConfig) AxisNames() []string {
	names := make([]string, 0, len(cfg.Axes))
	for name := range cfg.Axes {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// RampProfile converts the profile configuration
func (a AxisConfig) RampProfile() (ramp.Profile, error) {
	var p ramp.Profile
	switch a.Profile.Kind {
	case ProfileConstant:
		interval := a.Profile.IntervalNs
		if interval == 0 {
			interval = ramp.CruiseInterval(a.Profile.StepsPerSecond)
		}
		p = ramp.Constant{IntervalNs: interval}
	case ProfileTrapezoidal:
		cruise := a.Profile.CruiseIntervalNs
		if cruise == 0 {
			cruise = ramp.CruiseInterval(a.Profile.StepsPerSecond)
		}
		p = ramp.Trapezoidal{
			CruiseIntervalNs: cruise,
			AccelerationRate: a.Profile.AccelerationRate,
			DecelerationRate: a.Profile.DecelerationRate,
		}
	default:
		return nil, errors.Wrapf(ramp.ErrUnsupportedProfile, "profile kind %q", a.Profile.Kind)
	}

	if err := p.Validate(); err != nil {
		return nil, err
	}
	return p, nil
}

func (d DriverConfig) validate() error {
	switch d.Kind {
	case DriverLog:
		return nil
	case DriverSerial:
		if d.Device == "" {
			return errors.New("serial driver needs a device")
		}
		if d.QueueSize < 0 {
			return errors.New("negative queue size")
		}
		return nil
	default:
		return errors.Errorf("unknown driver kind %q", d.Kind)
	}
}

// Default returns a single axis dry run configuration
func Default() *MachineConfig {
	cfg := &MachineConfig{
		Axes: map[string]AxisConfig{
			"x": {
				Profile: ProfileConfig{
					Kind:             ProfileTrapezoidal,
					StepsPerSecond:   2000,
					AccelerationRate: 8000,
				},
			},
		},
	}
	applyDefaults(cfg)
	return cfg
}
