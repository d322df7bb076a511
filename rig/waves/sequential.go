package waves

import (
	"fmt"

	"github.com/CodedInternet/gopneumatic/rig/errors"
)

// segment linearly moves every channel from `from` to `to` over duration. Holds have from == to.
type segment struct {
	duration float64
	from, to []float64
}

// sequential plays a fixed schedule: a one-off setup that brings the pinned channels up, then a
// repeating cycle that ramps the remaining channels up one at a time and back down in reverse
// order, giving the robot stabilization_time to settle after every change.
type sequential struct {
	setup  []segment
	cycle  []segment
	limits Limits

	setupLength float64
	cycleLength float64
	rest        []float64 // state at the end of setup and of every cycle
}

func newSequential(cfg WaveConfig, channels []int, targets []float64, limits Limits) (Waveform, error) {
	if err := positive("up_rate", cfg.UpRate); err != nil {
		return nil, err
	}
	if err := positive("down_rate", cfg.DownRate); err != nil {
		return nil, err
	}

	pinned := make(map[int]bool, len(cfg.Pinned))
	for _, channel := range cfg.Pinned {
		i := indexOf(channels, channel)
		if i < 0 {
			return nil, errors.ConfigError{
				Field:  "wave.pinned",
				Reason: fmt.Sprintf("channel %d is not configured", channel),
			}
		}
		pinned[i] = true
	}

	w := &sequential{limits: limits}
	state := make([]float64, len(channels))

	// setup: pinned channels come up once and stay there
	for i := range channels {
		if !pinned[i] || targets[i] <= 0 {
			continue
		}
		state = w.appendRamp(&w.setup, state, i, targets[i], cfg.UpRate)
		w.appendHold(&w.setup, state, cfg.StabilizationTime)
	}
	w.appendHold(&w.setup, state, cfg.InitialDelay)
	w.rest = state

	var dynamic []int
	for i := range channels {
		if !pinned[i] && targets[i] > 0 {
			dynamic = append(dynamic, i)
		}
	}

	for _, i := range dynamic {
		state = w.appendRamp(&w.cycle, state, i, targets[i], cfg.UpRate)
		w.appendHold(&w.cycle, state, cfg.StabilizationTime)
	}
	w.appendHold(&w.cycle, state, cfg.HoldTime)
	for k := len(dynamic) - 1; k >= 0; k-- {
		i := dynamic[k]
		state = w.appendRamp(&w.cycle, state, i, 0, cfg.DownRate)
		w.appendHold(&w.cycle, state, cfg.StabilizationTime)
	}
	w.appendHold(&w.cycle, state, cfg.HoldTime)

	w.setupLength = total(w.setup)
	w.cycleLength = total(w.cycle)
	return w, nil
}

// appendRamp moves channel i from its current level to level at rate and returns the new state.
func (w *sequential) appendRamp(segments *[]segment, state []float64, i int, level, rate float64) []float64 {
	next := append([]float64(nil), state...)
	next[i] = level

	delta := level - state[i]
	if delta < 0 {
		delta = -delta
	}
	if delta > 0 {
		*segments = append(*segments, segment{duration: delta / rate, from: state, to: next})
	}
	return next
}

func (w *sequential) appendHold(segments *[]segment, state []float64, duration float64) {
	if duration > 0 {
		*segments = append(*segments, segment{duration: duration, from: state, to: state})
	}
}

func total(segments []segment) (d float64) {
	for _, s := range segments {
		d += s.duration
	}
	return
}

func (w *sequential) Sample(t float64, out []float64) {
	var level []float64
	switch {
	case t < w.setupLength:
		level = play(w.setup, t, w.rest)
	case w.cycleLength > 0:
		level = play(w.cycle, cyclePos(t-w.setupLength, w.cycleLength), w.rest)
	default:
		level = w.rest
	}

	for i := range out {
		var v float64
		if i < len(level) {
			v = level[i]
		}
		out[i] = Clamp(v, w.limits.Min, w.limits.Max)
	}
}

func play(segments []segment, t float64, fallback []float64) []float64 {
	for _, s := range segments {
		if t < s.duration {
			out := make([]float64, len(s.from))
			for i := range out {
				out[i] = s.from[i] + (s.to[i]-s.from[i])*t/s.duration
			}
			return out
		}
		t -= s.duration
	}
	if len(segments) > 0 {
		return segments[len(segments)-1].to
	}
	return fallback
}

func (w *sequential) Length(cycles int) float64 {
	return w.setupLength + w.cycleLength*float64(cycles)
}
