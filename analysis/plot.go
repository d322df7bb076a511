package analysis

import (
	"fmt"
	"os"
	"path/filepath"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/plotutil"
	"gonum.org/v1/plot/vg"
)

const (
	PLOT_WIDTH  = 10 * vg.Inch
	PLOT_HEIGHT = 4 * vg.Inch
)

// Series is one named line against time.
type Series struct {
	Name   string
	Values []float64
}

// PlotColumns draws the named columns against time, relative to the first row.
func PlotColumns(t *Table, columns []string, title, path string) error {
	series := make([]Series, 0, len(columns))
	for _, name := range columns {
		values, err := t.Column(name)
		if err != nil {
			return err
		}
		series = append(series, Series{Name: name, Values: values})
	}
	times, err := t.Column("time")
	if err != nil {
		return err
	}
	return PlotSeries(times, series, title, "pressure (psi)", path)
}

// PlotReadout draws each target against its prediction over the test split.
func PlotReadout(test *Table, r *Readout, path string) error {
	times, err := test.Column("time")
	if err != nil {
		return err
	}

	var series []Series
	for j, target := range r.Targets {
		series = append(series,
			Series{Name: target + " true", Values: mat.Col(nil, j, r.Actual)},
			Series{Name: target + " pred", Values: mat.Col(nil, j, r.Predicted)},
		)
	}
	return PlotSeries(times, series, "readout (test)", "value", path)
}

// PlotSeries writes a line plot; the format follows the file extension.
func PlotSeries(times []float64, series []Series, title, ylabel, path string) error {
	if len(times) == 0 {
		return ErrTooShort
	}

	p := plot.New()
	p.Title.Text = title
	p.X.Label.Text = "time (s)"
	p.Y.Label.Text = ylabel
	p.Add(plotter.NewGrid())

	t0 := times[0]
	for i, s := range series {
		if len(s.Values) != len(times) {
			return fmt.Errorf("series %s has %d values for %d times", s.Name, len(s.Values), len(times))
		}
		pts := make(plotter.XYs, len(times))
		for k := range times {
			pts[k].X = times[k] - t0
			pts[k].Y = s.Values[k]
		}

		line, err := plotter.NewLine(pts)
		if err != nil {
			return err
		}
		line.Color = plotutil.Color(i)
		line.Dashes = plotutil.Dashes(i / len(plotutil.DefaultColors))
		p.Add(line)
		p.Legend.Add(s.Name, line)
	}
	p.Legend.Top = true

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("unable to create plot folder: %w", err)
	}
	return p.Save(PLOT_WIDTH, PLOT_HEIGHT, path)
}
