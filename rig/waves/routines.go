package waves

import (
	"fmt"

	"github.com/CodedInternet/gopneumatic/rig/errors"
)

// periodic covers the routines whose value depends only on t and the channel's position.
type periodic struct {
	period float64
	limits Limits
	value  func(t float64, i int) float64
}

func (w *periodic) Sample(t float64, out []float64) {
	for i := range out {
		out[i] = Clamp(w.value(t, i), w.limits.Min, w.limits.Max)
	}
}

func (w *periodic) Length(cycles int) float64 {
	return w.period * float64(cycles)
}

func newStep(cfg WaveConfig, channels []int, targets []float64, limits Limits) (Waveform, error) {
	if err := positive("step_time", cfg.StepTime); err != nil {
		return nil, err
	}
	levels := append([]float64(nil), targets...)
	return &periodic{
		period: cfg.StepTime,
		limits: limits,
		value: func(t float64, i int) float64 {
			if i >= len(levels) {
				return 0
			}
			return Step(t, levels[i], 0)
		},
	}, nil
}

func newRamp(cfg WaveConfig, channels []int, targets []float64, limits Limits) (Waveform, error) {
	if err := positive("up_rate", cfg.UpRate); err != nil {
		return nil, err
	}
	if err := positive("down_rate", cfg.DownRate); err != nil {
		return nil, err
	}
	if cfg.Upper <= cfg.Lower {
		return nil, errors.ConfigError{Field: "wave.upper", Reason: "must be above wave.lower"}
	}

	span := cfg.Upper - cfg.Lower
	return &periodic{
		period: span/cfg.UpRate + cfg.HoldTime + span/cfg.DownRate,
		limits: limits,
		value: func(t float64, _ int) float64 {
			return Ramp(t, cfg.Lower, cfg.Upper, cfg.UpRate, cfg.DownRate, cfg.HoldTime)
		},
	}, nil
}

func newTriangular(cfg WaveConfig, channels []int, targets []float64, limits Limits) (Waveform, error) {
	if err := positive("frequency", cfg.Frequency); err != nil {
		return nil, err
	}
	if cfg.Upper <= cfg.Lower {
		return nil, errors.ConfigError{Field: "wave.upper", Reason: "must be above wave.lower"}
	}
	return &periodic{
		period: 1 / cfg.Frequency,
		limits: limits,
		value: func(t float64, _ int) float64 {
			return Triangular(t, cfg.Lower, cfg.Upper, cfg.Frequency)
		},
	}, nil
}

func newSine(cfg WaveConfig, channels []int, targets []float64, limits Limits) (Waveform, error) {
	if err := positive("frequency", cfg.Frequency); err != nil {
		return nil, err
	}
	return &periodic{
		period: 1 / cfg.Frequency,
		limits: limits,
		value: func(t float64, i int) float64 {
			phase := radians(cfg.Phase + float64(i)*cfg.PhaseStep)
			return Sine(t, cfg.Amplitude, cfg.Frequency, cfg.Offset, phase)
		},
	}, nil
}

func newSquare(cfg WaveConfig, channels []int, targets []float64, limits Limits) (Waveform, error) {
	if err := positive("frequency", cfg.Frequency); err != nil {
		return nil, err
	}
	return &periodic{
		period: 1 / cfg.Frequency,
		limits: limits,
		value: func(t float64, i int) float64 {
			phase := radians(cfg.Phase + float64(i)*cfg.PhaseStep)
			return Square(t, cfg.Amplitude, cfg.Frequency, cfg.Offset, phase)
		},
	}, nil
}

// leg is one channel of an oscillator: either held at level or swinging about the shared center.
type leg struct {
	static    bool
	level     float64
	amplitude float64
	phase     float64
}

// oscillator drives every dynamic channel with center + amplitude*sin(2πft + phase) from a single
// shared clock, so relative phases never drift.
type oscillator struct {
	frequency float64
	center    float64
	legs      []leg
	limits    Limits
}

func (w *oscillator) Sample(t float64, out []float64) {
	for i := range out {
		var v float64
		if i < len(w.legs) {
			l := w.legs[i]
			if l.static {
				v = l.level
			} else {
				v = Sine(t, l.amplitude, w.frequency, w.center, l.phase)
			}
		}
		out[i] = Clamp(v, w.limits.Min, w.limits.Max)
	}
}

func (w *oscillator) Length(cycles int) float64 {
	return float64(cycles) / w.frequency
}

// choreography lays out the dynamic channels of circular and elliptical motion: every channel but
// the optional static one, with phases evenly spaced unless overridden.
func choreography(cfg WaveConfig, channels []int, limits Limits, amplitude func(k int) float64) (*oscillator, error) {
	if err := positive("frequency", cfg.Frequency); err != nil {
		return nil, err
	}

	static := -1
	if cfg.StaticChannel != 0 {
		if static = indexOf(channels, cfg.StaticChannel); static < 0 {
			return nil, errors.ConfigError{
				Field:  "wave.static_channel",
				Reason: fmt.Sprintf("channel %d is not configured", cfg.StaticChannel),
			}
		}
	}

	dynamic := len(channels)
	if static >= 0 {
		dynamic--
	}
	if len(cfg.PhasesDeg) > 0 && len(cfg.PhasesDeg) != dynamic {
		return nil, errors.ConfigError{
			Field:  "wave.phases_deg",
			Reason: fmt.Sprintf("needs one entry per moving channel (%d)", dynamic),
		}
	}
	if len(cfg.Amplitudes) > 0 && len(cfg.Amplitudes) != dynamic {
		return nil, errors.ConfigError{
			Field:  "wave.amplitudes",
			Reason: fmt.Sprintf("needs one entry per moving channel (%d)", dynamic),
		}
	}

	w := &oscillator{
		frequency: cfg.Frequency,
		center:    cfg.Center,
		legs:      make([]leg, len(channels)),
		limits:    limits,
	}

	k := 0
	for i := range channels {
		if i == static {
			w.legs[i] = leg{static: true, level: cfg.StaticPressure}
			continue
		}

		l := leg{amplitude: amplitude(k), phase: PhaseOffset(k, dynamic)}
		if len(cfg.Amplitudes) > 0 {
			l.amplitude = cfg.Amplitudes[k]
		}
		if len(cfg.PhasesDeg) > 0 {
			l.phase = radians(cfg.PhasesDeg[k])
		}
		w.legs[i] = l
		k++
	}
	return w, nil
}

func newCircular(cfg WaveConfig, channels []int, targets []float64, limits Limits) (Waveform, error) {
	return choreography(cfg, channels, limits, func(int) float64 {
		return cfg.Amplitude
	})
}

// newElliptical alternates the x and y amplitudes across the moving channels. Without an explicit
// y amplitude the minor axis is half the major one.
func newElliptical(cfg WaveConfig, channels []int, targets []float64, limits Limits) (Waveform, error) {
	ampY := cfg.AmplitudeY
	if ampY == 0 {
		ampY = cfg.Amplitude / 2
	}
	return choreography(cfg, channels, limits, func(k int) float64 {
		if k%2 == 0 {
			return cfg.Amplitude
		}
		return ampY
	})
}

// newAxial swings wave_channel about center and holds every other channel at static_pressure.
func newAxial(cfg WaveConfig, channels []int, targets []float64, limits Limits) (Waveform, error) {
	if err := positive("frequency", cfg.Frequency); err != nil {
		return nil, err
	}
	moving := indexOf(channels, cfg.WaveChannel)
	if moving < 0 {
		return nil, errors.ConfigError{
			Field:  "wave.wave_channel",
			Reason: fmt.Sprintf("channel %d is not configured", cfg.WaveChannel),
		}
	}

	w := &oscillator{
		frequency: cfg.Frequency,
		center:    cfg.Center,
		legs:      make([]leg, len(channels)),
		limits:    limits,
	}
	for i := range w.legs {
		w.legs[i] = leg{static: true, level: cfg.StaticPressure}
	}
	w.legs[moving] = leg{amplitude: cfg.Amplitude, phase: radians(cfg.Phase)}
	return w, nil
}
