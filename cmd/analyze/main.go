package main

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/CodedInternet/gopneumatic/analysis"
	"github.com/CodedInternet/gopneumatic/rig/record"
	"github.com/edaniels/golog"
)

func split(list string) (out []string) {
	for _, s := range strings.Split(list, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return
}

func main() {
	trim := flag.Float64("trim", 10, "Seconds dropped from the start and end of the run")
	fraction := flag.Float64("train", 0.5, "Fraction of the run, in time order, used for fitting")
	features := flag.String("features", "", "Comma separated readout inputs, default every pm_ column")
	targets := flag.String("targets", "", "Comma separated readout outputs, default the tip position")
	columns := flag.String("plot", "", "Comma separated columns to plot against time")
	out := flag.String("out", "plots", "Folder for plots")
	body := flag.Int("body", 3, "Motion capture body whose orientation is plotted, 0 to skip")
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "usage: %s [flags] <experiment.csv>\n", os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()

	logger := golog.NewDevelopmentLogger("analyze")
	if flag.NArg() != 1 {
		flag.Usage()
		os.Exit(2)
	}
	path := flag.Arg(0)

	table, err := analysis.Load(path)
	if err != nil {
		logger.Fatalw("unable to load experiment", "path", path, "error", err)
	}
	name := strings.TrimSuffix(filepath.Base(path), record.EXPERIMENT_EXT)
	if m, err := record.ReadSidecar(path); err == nil {
		fmt.Printf("%s: %s, %d samples, %s\n", name, m.ExperimentType, m.SampleCount, m.Description)
	}

	fits, err := analysis.FitTracking(table)
	if err != nil {
		logger.Warnw("no pressure tracking fit", "error", err)
	}
	for _, f := range fits {
		fmt.Printf("channel %d: pm = %.3f + %.3f pd  R2 %.4f  MAE %.3f psi\n", f.Channel, f.Offset, f.Gain, f.R2, f.MAE)
	}

	if *columns != "" {
		plotPath := filepath.Join(*out, name+"_columns.png")
		if err := analysis.PlotColumns(table, split(*columns), name, plotPath); err != nil {
			logger.Fatalw("unable to plot", "error", err)
		}
		fmt.Println("wrote", plotPath)
	}

	if *body > 0 && len(table.Matching(fmt.Sprintf("mocap_%d_q", *body))) == 4 {
		roll, pitch, yaw, err := table.Orientation(*body)
		if err != nil {
			logger.Fatalw("unable to compute orientation", "body", *body, "error", err)
		}
		times, _ := table.Column("time")
		plotPath := filepath.Join(*out, fmt.Sprintf("%s_body%d_orientation.png", name, *body))
		err = analysis.PlotSeries(times, []analysis.Series{
			{Name: "roll", Values: roll},
			{Name: "pitch", Values: pitch},
			{Name: "yaw", Values: yaw},
		}, fmt.Sprintf("%s body %d", name, *body), "rad", plotPath)
		if err != nil {
			logger.Fatalw("unable to plot", "error", err)
		}
		fmt.Println("wrote", plotPath)
	}

	in := split(*features)
	if len(in) == 0 {
		in = table.Matching("pm_")
	}
	want := split(*targets)
	if len(want) == 0 {
		want = table.Matching("mocap_3_")
		if len(want) > 3 {
			want = want[:3]
		}
	}
	if len(want) == 0 {
		return
	}

	trimmed, err := table.Trim(*trim, *trim)
	if err != nil {
		logger.Fatalw("unable to trim", "error", err)
	}
	train, test, err := trimmed.Split(*fraction)
	if err != nil {
		logger.Fatalw("unable to split", "error", err)
	}
	r, err := analysis.FitReadout(train, test, in, want)
	if err != nil {
		logger.Fatalw("unable to fit readout", "error", err)
	}
	for j, target := range r.Targets {
		fmt.Printf("%s: R2 %.4f  MAE %.4f\n", target, r.R2[j], r.MAE[j])
	}

	plotPath := filepath.Join(*out, name+"_readout.png")
	if err := analysis.PlotReadout(test, r, plotPath); err != nil {
		logger.Fatalw("unable to plot", "error", err)
	}
	fmt.Println("wrote", plotPath)
}
