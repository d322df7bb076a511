package waves

import (
	stderrors "errors"
	"math"
	"testing"

	"github.com/CodedInternet/gopneumatic/rig/errors"
	. "github.com/smartystreets/goconvey/convey"
)

const tolerance = 1e-9

var wide = Limits{Min: 0, Max: 100}

func sample(w Waveform, t float64, n int) []float64 {
	out := make([]float64, n)
	w.Sample(t, out)
	return out
}

func TestFunctions(t *testing.T) {
	Convey("Triangular hits lower, mid, upper, mid, lower over one period", t, func() {
		const lower, upper, f = 1.0, 5.0, 0.5
		period := 1 / f
		expected := []float64{1, 3, 5, 3, 1}
		for i, want := range expected {
			So(Triangular(float64(i)*period/4, lower, upper, f), ShouldAlmostEqual, want, tolerance)
		}

		Convey("and repeats every period", func() {
			for tt := 0.0; tt < 7; tt += 0.37 {
				So(Triangular(tt, lower, upper, f), ShouldAlmostEqual, Triangular(tt+period, lower, upper, f), tolerance)
			}
		})
	})

	Convey("Ramp rises, holds and falls at the configured rates", t, func() {
		// rise 2s, hold 1s, fall 1s
		So(Ramp(1, 0, 10, 5, 10, 1), ShouldAlmostEqual, 5, tolerance)
		So(Ramp(2.5, 0, 10, 5, 10, 1), ShouldAlmostEqual, 10, tolerance)
		So(Ramp(3.5, 0, 10, 5, 10, 1), ShouldAlmostEqual, 5, tolerance)
		So(Ramp(4, 0, 10, 5, 10, 1), ShouldAlmostEqual, 0, tolerance)
	})

	Convey("Square switches at the half period", t, func() {
		So(Square(0.25, 2, 1, 5, 0), ShouldEqual, 7)
		So(Square(0.75, 2, 1, 5, 0), ShouldEqual, 3)
		So(Square(0.25, 2, 1, 5, math.Pi), ShouldEqual, 3)
	})

	Convey("Step is zero until its delay", t, func() {
		So(Step(0.5, 4, 1), ShouldEqual, 0)
		So(Step(1, 4, 1), ShouldEqual, 4)
	})

	Convey("Clamp bounds both sides", t, func() {
		So(Clamp(-1, 0, 10), ShouldEqual, 0)
		So(Clamp(11, 0, 10), ShouldEqual, 10)
		So(Clamp(4, 0, 10), ShouldEqual, 4)
	})
}

func TestClamping(t *testing.T) {
	Convey("Every routine stays inside the limits even when its formula does not", t, func() {
		limits := Limits{Min: 0, Max: 10}
		channels := []int{3, 4, 7, 8}
		targets := []float64{12, 5, 3, 1}
		cfgs := []WaveConfig{
			{Name: "step", StepTime: 1},
			{Name: "sine", Amplitude: 8, Frequency: 0.5, Offset: 6, PhaseStep: 90},
			{Name: "square", Amplitude: 8, Frequency: 0.5, Offset: 6},
			{Name: "circular", Center: 6, Amplitude: 9, Frequency: 0.3},
			{Name: "elliptical", Center: 6, Amplitude: 9, AmplitudeY: 7, Frequency: 0.3},
			{Name: "axial", Center: 6, Amplitude: 9, Frequency: 0.3, WaveChannel: 7, StaticPressure: 14},
			{Name: "ramp", Lower: -5, Upper: 20, UpRate: 10, DownRate: 10},
			{Name: "triangular", Lower: -5, Upper: 20, Frequency: 0.2},
			{Name: "sequential", UpRate: 5, DownRate: 5, HoldTime: 1, StabilizationTime: 1, Pinned: []int{3}},
		}

		for _, cfg := range cfgs {
			w, err := Build(cfg, channels, targets, limits)
			So(err, ShouldBeNil)

			clamped := 0
			for tt := 0.0; tt < 10; tt += 0.05 {
				for _, v := range sample(w, tt, len(channels)) {
					So(v, ShouldBeBetweenOrEqual, limits.Min, limits.Max)
					if v == limits.Max || v == limits.Min {
						clamped++
					}
				}
			}
			So(clamped, ShouldBeGreaterThan, 0)
		}
	})
}

func TestChoreography(t *testing.T) {
	Convey("Circular motion spaces channel phases evenly over a full turn", t, func() {
		cfg := WaveConfig{Name: "circular", Center: 6, Amplitude: 3, Frequency: 0.1}
		channels := []int{3, 6, 7, 8}
		w, err := Build(cfg, channels, make([]float64, 4), wide)
		So(err, ShouldBeNil)
		So(w.Length(1), ShouldAlmostEqual, 10, tolerance)

		for tt := 0.0; tt < 20; tt += 0.13 {
			out := sample(w, tt, len(channels))
			for k := range channels {
				want := 3 * math.Sin(2*math.Pi*0.1*tt+2*math.Pi*float64(k)/4)
				So(out[k]-6, ShouldAlmostEqual, want, tolerance)
			}
		}
	})

	Convey("A static channel is held while the rest share the turn", t, func() {
		cfg := WaveConfig{Name: "circular", Center: 6, Amplitude: 3, Frequency: 0.1, StaticChannel: 3, StaticPressure: 2}
		w, err := Build(cfg, []int{3, 4, 7, 8}, make([]float64, 4), wide)
		So(err, ShouldBeNil)

		for tt := 0.0; tt < 10; tt += 0.7 {
			out := sample(w, tt, 4)
			So(out[0], ShouldEqual, 2)
			for k := 0; k < 3; k++ {
				want := 6 + 3*math.Sin(2*math.Pi*0.1*tt+PhaseOffset(k, 3))
				So(out[k+1], ShouldAlmostEqual, want, tolerance)
			}
		}
	})

	Convey("Elliptical motion alternates amplitudes and accepts explicit phases", t, func() {
		cfg := WaveConfig{
			Name:           "elliptical",
			Center:         6,
			Amplitude:      4,
			Frequency:      0.1,
			StaticChannel:  4,
			StaticPressure: 2,
			PhasesDeg:      []float64{0, 180, 90},
			Amplitudes:     []float64{4, 4, 2},
		}
		w, err := Build(cfg, []int{3, 4, 7, 8}, make([]float64, 4), wide)
		So(err, ShouldBeNil)

		out := sample(w, 2.5, 4) // quarter period
		So(out[0], ShouldAlmostEqual, 10, tolerance)
		So(out[1], ShouldEqual, 2)
		So(out[2], ShouldAlmostEqual, 2, tolerance)
		So(out[3], ShouldAlmostEqual, 6, tolerance)

		Convey("without overrides the minor axis defaults to half the major", func() {
			w, err := Build(WaveConfig{Name: "elliptical", Center: 6, Amplitude: 4, Frequency: 0.1}, []int{1, 2}, make([]float64, 2), wide)
			So(err, ShouldBeNil)
			out := sample(w, 0, 2)
			So(out[1]-6, ShouldAlmostEqual, 2*math.Sin(math.Pi), tolerance)
			out = sample(w, 2.5, 2)
			So(out[0], ShouldAlmostEqual, 10, tolerance)
		})
	})

	Convey("Axial motion moves one channel only", t, func() {
		cfg := WaveConfig{Name: "axial", Center: 5, Amplitude: 3, Frequency: 0.1, WaveChannel: 7, StaticPressure: 2}
		w, err := Build(cfg, []int{3, 6, 7, 8}, make([]float64, 4), wide)
		So(err, ShouldBeNil)

		out := sample(w, 2.5, 4)
		So(out, ShouldResemble, []float64{2, 2, out[2], 2})
		So(out[2], ShouldAlmostEqual, 8, tolerance)
	})

	Convey("Misconfigured choreography is rejected", t, func() {
		_, err := Build(WaveConfig{Name: "circular", Frequency: 0.1, StaticChannel: 5}, []int{3, 4}, make([]float64, 2), wide)
		So(err, ShouldHaveSameTypeAs, errors.ConfigError{})

		_, err = Build(WaveConfig{Name: "circular", Frequency: 0.1, PhasesDeg: []float64{0}}, []int{3, 4}, make([]float64, 2), wide)
		So(err, ShouldHaveSameTypeAs, errors.ConfigError{})

		_, err = Build(WaveConfig{Name: "axial", Frequency: 0.1, WaveChannel: 9}, []int{3, 4}, make([]float64, 2), wide)
		So(err, ShouldHaveSameTypeAs, errors.ConfigError{})

		_, err = Build(WaveConfig{Name: "sine"}, []int{3}, []float64{1}, wide)
		So(err, ShouldHaveSameTypeAs, errors.ConfigError{})
	})
}

func TestSequential(t *testing.T) {
	Convey("Given a pinned supply channel and one moving channel", t, func() {
		cfg := WaveConfig{
			Name:              "sequential",
			UpRate:            3,
			DownRate:          6,
			HoldTime:          1,
			StabilizationTime: 1,
			InitialDelay:      2,
			Pinned:            []int{4},
		}
		w, err := Build(cfg, []int{4, 8}, []float64{3, 6}, wide)
		So(err, ShouldBeNil)

		// setup: 1s ramp + 1s settle + 2s delay; cycle: 2s up, 1s settle, 1s hold, 1s down, 1s settle, 1s hold
		So(w.Length(0), ShouldAlmostEqual, 4, tolerance)
		So(w.Length(1), ShouldAlmostEqual, 11, tolerance)

		Convey("the pinned channel comes up once and stays up", func() {
			So(sample(w, 0.5, 2), ShouldResemble, []float64{1.5, 0})
			So(sample(w, 3, 2), ShouldResemble, []float64{3, 0})
			for tt := 4.0; tt < 30; tt += 0.5 {
				So(sample(w, tt, 2)[0], ShouldEqual, 3)
			}
		})

		Convey("the moving channel ramps, settles, holds and returns", func() {
			So(sample(w, 5, 2)[1], ShouldAlmostEqual, 3, tolerance)
			So(sample(w, 6.5, 2)[1], ShouldAlmostEqual, 6, tolerance)
			So(sample(w, 7.5, 2)[1], ShouldAlmostEqual, 6, tolerance)
			So(sample(w, 8.5, 2)[1], ShouldAlmostEqual, 3, tolerance)
			So(sample(w, 10.5, 2)[1], ShouldAlmostEqual, 0, tolerance)
		})

		Convey("and the cycle repeats", func() {
			So(sample(w, 12, 2)[1], ShouldAlmostEqual, sample(w, 5, 2)[1], tolerance)
		})
	})

	Convey("Moving channels come down in reverse order", t, func() {
		cfg := WaveConfig{Name: "sequential", UpRate: 1, DownRate: 1}
		w, err := Build(cfg, []int{1, 2}, []float64{1, 1}, wide)
		So(err, ShouldBeNil)

		// 0-1 ch1 up, 1-2 ch2 up, 2-3 ch2 down, 3-4 ch1 down
		So(sample(w, 1.5, 2), ShouldResemble, []float64{1, 0.5})
		So(sample(w, 2.5, 2), ShouldResemble, []float64{1, 0.5})
		So(sample(w, 3.5, 2), ShouldResemble, []float64{0.5, 0})
	})
}

func TestRegistry(t *testing.T) {
	Convey("Routines are looked up by name", t, func() {
		So(Names(), ShouldContain, "sequential")
		So(Known("step"), ShouldBeTrue)
		So(Known("zigzag"), ShouldBeFalse)

		_, err := Build(WaveConfig{Name: "zigzag"}, []int{1}, []float64{1}, wide)
		So(stderrors.Is(err, ErrUnknownRoutine), ShouldBeTrue)
	})

	Convey("Step holds each channel at its target", t, func() {
		w, err := Build(WaveConfig{Name: "step", StepTime: 1}, []int{1, 2}, []float64{5, 3}, wide)
		So(err, ShouldBeNil)
		So(sample(w, 0.3, 2), ShouldResemble, []float64{5, 3})
		So(w.Length(1), ShouldEqual, 1)
	})

	Convey("Targets must line up with channels and limits must be ordered", t, func() {
		_, err := Build(WaveConfig{Name: "step", StepTime: 1}, []int{1, 2}, []float64{5}, wide)
		So(err, ShouldHaveSameTypeAs, errors.ConfigError{})

		_, err = Build(WaveConfig{Name: "step", StepTime: 1}, []int{1}, []float64{5}, Limits{Min: 5, Max: 5})
		So(err, ShouldHaveSameTypeAs, errors.ConfigError{})
	})
}
