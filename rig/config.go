package rig

import (
	"fmt"
	"io/ioutil"
	"time"

	"github.com/CodedInternet/gopneumatic/rig/errors"
	"github.com/CodedInternet/gopneumatic/rig/hardware"
	"github.com/CodedInternet/gopneumatic/rig/pose"
	"github.com/CodedInternet/gopneumatic/rig/waves"
	"github.com/CodedInternet/gopneumatic/rig/wire"
	"github.com/Masterminds/semver"
	"github.com/caarlos0/env/v6"
	"gopkg.in/yaml.v2"
)

// CONFIG_VERSION is the range of experiment file versions this build understands.
const CONFIG_VERSION = "~1.0"

type PoseConfig struct {
	Enabled bool   `yaml:"enabled"`
	Address string `yaml:"address"`
	Size    int    `yaml:"size"`
}

type StorageConfig struct {
	Dir   string `yaml:"dir"`
	Index string `yaml:"index"`
}

// Targets accepts either one pressure per channel or a single pressure for every channel.
type Targets []float64

func (t *Targets) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var list []float64
	if err := unmarshal(&list); err == nil {
		*t = list
		return nil
	}

	var scalar float64
	if err := unmarshal(&scalar); err != nil {
		return err
	}
	*t = Targets{scalar}
	return nil
}

// Config is one experiment file. Times are in seconds.
type Config struct {
	Version                string           `yaml:"version"`
	Host                   string           `yaml:"host"`
	Ports                  []int            `yaml:"ports,flow"`
	Channels               []int            `yaml:"channels,flow"`
	Targets                Targets          `yaml:"targets,flow"`
	DurationSeconds        float64          `yaml:"duration_seconds"`
	EndAfterOneCycle       bool             `yaml:"end_after_one_cycle"`
	RampdownSeconds        float64          `yaml:"rampdown_seconds"`
	TickSeconds            float64          `yaml:"tick_seconds"`
	LogIntervalSeconds     float64          `yaml:"log_interval_seconds"`
	ExchangeTimeoutSeconds float64          `yaml:"exchange_timeout_seconds"`
	Frame                  string           `yaml:"frame"`
	Limits                 waves.Limits     `yaml:"limits"`
	Pose                   PoseConfig       `yaml:"pose"`
	Storage                StorageConfig    `yaml:"storage"`
	Progress               bool             `yaml:"progress"`
	Experiment             string           `yaml:"experiment,omitempty"`
	Description            string           `yaml:"description,omitempty"`
	Wave                   waves.WaveConfig `yaml:"wave"`
}

// EnvOverrides are the settings that change per bench rather than per experiment.
type EnvOverrides struct {
	Host        string `env:"SOFTROBOT_HOST"`
	PoseAddress string `env:"SOFTROBOT_POSE_ADDRESS"`
}

func DefaultConfig() *Config {
	return &Config{
		Version:                "1.0.0",
		Host:                   "0.0.0.0",
		Ports:                  append([]int(nil), hardware.DefaultPorts...),
		DurationSeconds:        120,
		RampdownSeconds:        5,
		TickSeconds:            0.01,
		LogIntervalSeconds:     0.01,
		ExchangeTimeoutSeconds: hardware.DefaultExchangeTimeout.Seconds(),
		Frame:                  wire.FormatInt16x4.Name,
		Limits:                 waves.Limits{Min: 0, Max: 100},
		Pose: PoseConfig{
			Address: pose.DefaultAddress,
			Size:    pose.Size,
		},
		Storage: StorageConfig{
			Dir:   "experiments",
			Index: "experiments/index.db",
		},
		Wave: waves.WaveConfig{
			Name:     "step",
			StepTime: 1,
		},
	}
}

// LoadConfig reads an experiment file over the defaults, applies environment overrides and
// validates the result.
func LoadConfig(path string) (c *Config, err error) {
	in, err := ioutil.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("unable to read config %s: %w", path, err)
	}
	return ParseConfig(in)
}

func ParseConfig(in []byte) (c *Config, err error) {
	c = DefaultConfig()
	if err = yaml.Unmarshal(in, c); err != nil {
		return nil, fmt.Errorf("unable to unmarshal config: %w", err)
	}
	if err = c.ApplyEnv(); err != nil {
		return nil, err
	}
	c.normalize()

	if err = c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Config) ApplyEnv() error {
	var o EnvOverrides
	if err := env.Parse(&o); err != nil {
		return fmt.Errorf("unable to parse environment: %w", err)
	}
	if o.Host != "" {
		c.Host = o.Host
	}
	if o.PoseAddress != "" {
		c.Pose.Address = o.PoseAddress
	}
	return nil
}

// normalize spreads a single target over every channel.
func (c *Config) normalize() {
	if len(c.Targets) == 1 && len(c.Channels) > 1 {
		t := c.Targets[0]
		c.Targets = make(Targets, len(c.Channels))
		for i := range c.Targets {
			c.Targets[i] = t
		}
	}
}

// Validate fails on the first problem that would stop a session from starting cleanly.
func (c *Config) Validate() error {
	v, err := semver.NewVersion(c.Version)
	if err != nil {
		return errors.ConfigError{Field: "version", Reason: fmt.Sprintf("%q is not a semantic version", c.Version)}
	}
	constraint, err := semver.NewConstraint(CONFIG_VERSION)
	if err != nil {
		return err
	}
	if !constraint.Check(v) {
		return errors.ConfigError{Field: "version", Reason: fmt.Sprintf("%s does not satisfy %s", v, CONFIG_VERSION)}
	}

	if len(c.Channels) == 0 {
		return errors.ConfigError{Field: "channels", Reason: "must list at least one actuator"}
	}
	seen := make(map[int]bool, len(c.Channels))
	for _, channel := range c.Channels {
		if seen[channel] {
			return errors.ConfigError{Field: "channels", Reason: fmt.Sprintf("lists channel %d twice", channel)}
		}
		seen[channel] = true

		port, err := hardware.PortFor(channel, c.Ports)
		if err != nil {
			return err
		}
		if port < 1 || port > 65535 {
			return errors.ConfigError{Field: "ports", Reason: fmt.Sprintf("%d is not a valid port for channel %d", port, channel)}
		}
	}

	if len(c.Targets) != len(c.Channels) {
		return errors.ConfigError{
			Field:  "targets",
			Reason: fmt.Sprintf("has %d entries for %d channels", len(c.Targets), len(c.Channels)),
		}
	}

	switch {
	case c.DurationSeconds <= 0:
		return errors.ConfigError{Field: "duration_seconds", Reason: "must be positive"}
	case c.RampdownSeconds < 0:
		return errors.ConfigError{Field: "rampdown_seconds", Reason: "must not be negative"}
	case c.TickSeconds <= 0:
		return errors.ConfigError{Field: "tick_seconds", Reason: "must be positive"}
	case c.LogIntervalSeconds <= 0:
		return errors.ConfigError{Field: "log_interval_seconds", Reason: "must be positive"}
	case c.ExchangeTimeoutSeconds < 0:
		return errors.ConfigError{Field: "exchange_timeout_seconds", Reason: "must not be negative"}
	}

	if _, err := wire.LookupFormat(c.Frame); err != nil {
		return errors.ConfigError{Field: "frame", Reason: err.Error()}
	}

	if c.Pose.Enabled {
		if c.Pose.Address == "" {
			return errors.ConfigError{Field: "pose.address", Reason: "is required when pose is enabled"}
		}
		if c.Pose.Size != pose.Size {
			return errors.ConfigError{Field: "pose.size", Reason: fmt.Sprintf("must be %d", pose.Size)}
		}
	}

	if !waves.Known(c.Wave.Name) {
		return errors.ConfigError{Field: "wave.name", Reason: fmt.Sprintf("%q is not one of %v", c.Wave.Name, waves.Names())}
	}
	if _, err := c.Waveform(); err != nil {
		return err
	}
	return nil
}

func (c *Config) Waveform() (waves.Waveform, error) {
	return waves.Build(c.Wave, c.Channels, c.Targets, c.Limits)
}

func (c *Config) FrameFormat() wire.Format {
	f, _ := wire.LookupFormat(c.Frame)
	return f
}

func (c *Config) Duration() time.Duration {
	return seconds(c.DurationSeconds)
}

func (c *Config) Rampdown() time.Duration {
	return seconds(c.RampdownSeconds)
}

func (c *Config) Tick() time.Duration {
	return seconds(c.TickSeconds)
}

func (c *Config) LogInterval() time.Duration {
	return seconds(c.LogIntervalSeconds)
}

func (c *Config) ExchangeTimeout() time.Duration {
	return seconds(c.ExchangeTimeoutSeconds)
}

func seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}
