package analysis

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/CodedInternet/gopneumatic/rig/pose"
	"github.com/CodedInternet/gopneumatic/rig/wire"
	"github.com/go-gl/mathgl/mgl64"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

// Readout is a linear map from sensor columns to target columns fitted by least squares.
type Readout struct {
	Features []string
	Targets  []string

	// (1 + len(Features)) x len(Targets), intercept in the first row
	Coefficients *mat.Dense

	// scores on the test split, one per target
	R2  []float64
	MAE []float64

	Actual    *mat.Dense
	Predicted *mat.Dense
}

func FitReadout(train, test *Table, features, targets []string) (r *Readout, err error) {
	x, err := train.Matrix(features, true)
	if err != nil {
		return nil, err
	}
	y, err := train.Matrix(targets, false)
	if err != nil {
		return nil, err
	}

	r = &Readout{Features: features, Targets: targets}
	r.Coefficients = new(mat.Dense)
	if err = r.Coefficients.Solve(x, y); err != nil {
		return nil, fmt.Errorf("unable to fit readout: %w", err)
	}

	if r.Actual, err = test.Matrix(targets, false); err != nil {
		return nil, err
	}
	if r.Predicted, err = r.Predict(test); err != nil {
		return nil, err
	}

	rows, _ := r.Actual.Dims()
	for j := range targets {
		actual := mat.Col(nil, j, r.Actual)
		predicted := mat.Col(nil, j, r.Predicted)
		r.R2 = append(r.R2, stat.RSquaredFrom(predicted, actual, nil))

		var abs float64
		for i := range actual {
			abs += math.Abs(actual[i] - predicted[i])
		}
		r.MAE = append(r.MAE, abs/float64(rows))
	}
	return r, nil
}

func (r *Readout) Predict(t *Table) (*mat.Dense, error) {
	x, err := t.Matrix(r.Features, true)
	if err != nil {
		return nil, err
	}
	out := new(mat.Dense)
	out.Mul(x, r.Coefficients)
	return out, nil
}

// Tracking is how well one channel's measured pressure follows its command: pm ~ Offset + Gain*pd,
// with pm the mean of the channel's sensors.
type Tracking struct {
	Channel int
	Gain    float64
	Offset  float64
	R2      float64
	MAE     float64
}

// Channels lists the channel ids with a pd_ column.
func (t *Table) Channels() (channels []int) {
	for _, c := range t.Matching("pd_") {
		if id, err := strconv.Atoi(strings.TrimPrefix(c, "pd_")); err == nil {
			channels = append(channels, id)
		}
	}
	sort.Ints(channels)
	return
}

func FitTracking(t *Table) (fits []Tracking, err error) {
	for _, channel := range t.Channels() {
		pd, err := t.Column(fmt.Sprintf("pd_%d", channel))
		if err != nil {
			return nil, err
		}

		pm := make([]float64, len(pd))
		for s := 1; s <= wire.SensorsPerChannel; s++ {
			col, err := t.Column(fmt.Sprintf("pm_%d_%d", channel, s))
			if err != nil {
				return nil, err
			}
			for i, v := range col {
				pm[i] += v / wire.SensorsPerChannel
			}
		}

		fit := Tracking{Channel: channel}
		fit.Offset, fit.Gain = stat.LinearRegression(pd, pm, nil, false)
		fit.R2 = stat.RSquared(pd, pm, nil, fit.Offset, fit.Gain)
		for i := range pd {
			fit.MAE += math.Abs(pm[i] - pd[i])
		}
		if len(pd) > 0 {
			fit.MAE /= float64(len(pd))
		}
		fits = append(fits, fit)
	}
	if len(fits) == 0 {
		return nil, fmt.Errorf("%w pd_<channel>", ErrNoColumn)
	}
	return fits, nil
}

// Orientation converts one motion capture body's quaternion columns to roll, pitch and yaw series.
func (t *Table) Orientation(body int) (roll, pitch, yaw []float64, err error) {
	var q [4][]float64
	for i, field := range []string{"qx", "qy", "qz", "qw"} {
		if q[i], err = t.Column(fmt.Sprintf("mocap_%d_%s", body, field)); err != nil {
			return
		}
	}

	n := len(q[0])
	roll, pitch, yaw = make([]float64, n), make([]float64, n), make([]float64, n)
	for i := 0; i < n; i++ {
		rot := mgl64.Quat{W: q[3][i], V: mgl64.Vec3{q[0][i], q[1][i], q[2][i]}}
		roll[i], pitch[i], yaw[i] = pose.Euler(rot)
	}
	return
}
