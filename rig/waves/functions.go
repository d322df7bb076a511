package waves

import "math"

// Clamp limits v to [lo, hi].
func Clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}

// Step is zero until delay and level from then on.
func Step(t, level, delay float64) float64 {
	if t < delay {
		return 0
	}
	return level
}

// Ramp is a periodic trapezoid: rise from lower to upper at upRate, hold at upper, fall back to
// lower at downRate. Rates are in units per second and must be positive.
func Ramp(t, lower, upper, upRate, downRate, hold float64) float64 {
	rise := (upper - lower) / upRate
	fall := (upper - lower) / downRate
	tc := cyclePos(t, rise+hold+fall)

	switch {
	case tc <= rise:
		return lower + upRate*tc
	case tc <= rise+hold:
		return upper
	default:
		return upper - downRate*(tc-rise-hold)
	}
}

// Triangular rises linearly from lower to upper over the first half period and falls back over
// the second.
func Triangular(t, lower, upper, frequency float64) float64 {
	period := 1 / frequency
	half := period / 2
	tc := cyclePos(t, period)

	if tc <= half {
		return lower + (upper-lower)*tc/half
	}
	return upper - (upper-lower)*(tc-half)/half
}

// Sine is offset + amplitude*sin(2πft + phase), phase in radians.
func Sine(t, amplitude, frequency, offset, phase float64) float64 {
	return offset + amplitude*math.Sin(2*math.Pi*frequency*t+phase)
}

// Square is offset+amplitude for the first half of each period and offset-amplitude for the
// second, with the same phase convention as Sine.
func Square(t, amplitude, frequency, offset, phase float64) float64 {
	period := 1 / frequency
	tc := cyclePos(t+phase/(2*math.Pi*frequency), period)
	if tc < period/2 {
		return offset + amplitude
	}
	return offset - amplitude
}

// PhaseOffset spaces n channels evenly over a full turn; channel k sits at 2πk/n.
func PhaseOffset(k, n int) float64 {
	if n == 0 {
		return 0
	}
	return 2 * math.Pi * float64(k) / float64(n)
}

func cyclePos(t, period float64) float64 {
	if period <= 0 {
		return 0
	}
	tc := math.Mod(t, period)
	if tc < 0 {
		tc += period
	}
	return tc
}

func radians(deg float64) float64 {
	return deg * math.Pi / 180
}
