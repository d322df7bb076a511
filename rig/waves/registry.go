package waves

import (
	stderrors "errors"
	"fmt"
	"sort"

	"github.com/CodedInternet/gopneumatic/rig/errors"
)

var ErrUnknownRoutine = stderrors.New("unknown wave routine")

// Waveform computes the desired pressure of every channel at t seconds after the trial start.
// Implementations are pure and clamp what they write.
type Waveform interface {
	Sample(t float64, out []float64)
	// Length is how long the given number of cycles takes, including any one-off setup.
	Length(cycles int) float64
}

type Limits struct {
	Min float64 `yaml:"min"`
	Max float64 `yaml:"max"`
}

// WaveConfig is the union of every routine's parameters. Each routine reads only what it needs.
// Angles are in degrees, times in seconds and rates in PSI per second.
type WaveConfig struct {
	Name              string    `yaml:"name"`
	Lower             float64   `yaml:"lower"`
	Upper             float64   `yaml:"upper"`
	Frequency         float64   `yaml:"frequency"`
	Center            float64   `yaml:"center"`
	Amplitude         float64   `yaml:"amplitude"`
	AmplitudeY        float64   `yaml:"amplitude_y"`
	Offset            float64   `yaml:"offset"`
	Phase             float64   `yaml:"phase"`
	PhaseStep         float64   `yaml:"phase_step"`
	StaticChannel     int       `yaml:"static_channel"`
	StaticPressure    float64   `yaml:"static_pressure"`
	WaveChannel       int       `yaml:"wave_channel"`
	StepTime          float64   `yaml:"step_time"`
	UpRate            float64   `yaml:"up_rate"`
	DownRate          float64   `yaml:"down_rate"`
	HoldTime          float64   `yaml:"hold_time"`
	StabilizationTime float64   `yaml:"stabilization_time"`
	InitialDelay      float64   `yaml:"initial_delay"`
	Pinned            []int     `yaml:"pinned"`
	PhasesDeg         []float64 `yaml:"phases_deg"`
	Amplitudes        []float64 `yaml:"amplitudes"`
}

type builder func(cfg WaveConfig, channels []int, targets []float64, limits Limits) (Waveform, error)

var routines = map[string]builder{
	"step":       newStep,
	"ramp":       newRamp,
	"triangular": newTriangular,
	"sine":       newSine,
	"square":     newSquare,
	"circular":   newCircular,
	"elliptical": newElliptical,
	"axial":      newAxial,
	"sequential": newSequential,
}

// Names lists the registered routines.
func Names() (names []string) {
	for name := range routines {
		names = append(names, name)
	}
	sort.Strings(names)
	return
}

func Known(name string) bool {
	_, ok := routines[name]
	return ok
}

// Build looks up the named routine and binds it to the session's channels. targets holds one
// target pressure per channel in the same order.
func Build(cfg WaveConfig, channels []int, targets []float64, limits Limits) (w Waveform, err error) {
	b, ok := routines[cfg.Name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownRoutine, cfg.Name)
	}
	if len(targets) != len(channels) {
		return nil, errors.ConfigError{
			Field:  "targets",
			Reason: fmt.Sprintf("has %d entries for %d channels", len(targets), len(channels)),
		}
	}
	if limits.Max <= limits.Min {
		return nil, errors.ConfigError{Field: "limits", Reason: "max must be above min"}
	}
	return b(cfg, channels, targets, limits)
}

func positive(field string, v float64) error {
	if v <= 0 {
		return errors.ConfigError{Field: "wave." + field, Reason: "must be positive"}
	}
	return nil
}

func indexOf(channels []int, channel int) int {
	for i, c := range channels {
		if c == channel {
			return i
		}
	}
	return -1
}
