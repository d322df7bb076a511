package rig

import (
	"bufio"
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/buger/goterm"
)

const (
	PROGRESS_WIDTH    = 30
	PROGRESS_INTERVAL = time.Second
)

// ProgressBar renders e.g. "[█████░░░░░] 42.0% | 50s/120s".
func ProgressBar(elapsed, total time.Duration, width int) string {
	if width < 1 {
		width = 1
	}
	frac := 1.0
	if total > 0 {
		frac = elapsed.Seconds() / total.Seconds()
	}
	if frac < 0 {
		frac = 0
	}
	if frac > 1 {
		frac = 1
	}

	filled := int(frac * float64(width))
	return fmt.Sprintf("[%s%s] %.1f%% | %ds/%ds",
		strings.Repeat("█", filled),
		strings.Repeat("░", width-filled),
		frac*100,
		int(elapsed.Seconds()),
		int(total.Seconds()),
	)
}

// Progress redraws a single status line while a trial runs.
type Progress struct {
	Out      *bufio.Writer
	Total    time.Duration
	Interval time.Duration
	Elapsed  func() time.Duration
}

func NewProgress(total time.Duration, elapsed func() time.Duration) *Progress {
	return &Progress{
		Out:      goterm.Output,
		Total:    total,
		Interval: PROGRESS_INTERVAL,
		Elapsed:  elapsed,
	}
}

func (p *Progress) width() int {
	width := PROGRESS_WIDTH
	// leave room for the percentage and times on narrow terminals
	if w := goterm.Width(); w > 0 && w-30 < width {
		width = w - 30
	}
	return width
}

func (p *Progress) draw() {
	fmt.Fprintf(p.Out, "\r%s", ProgressBar(p.Elapsed(), p.Total, p.width()))
	p.Out.Flush()
}

// Run draws once per interval until ctx is done, then finishes the line.
func (p *Progress) Run(ctx context.Context) {
	ticker := time.NewTicker(p.Interval)
	defer ticker.Stop()

	p.draw()
	for {
		select {
		case <-ctx.Done():
			p.draw()
			fmt.Fprintln(p.Out)
			p.Out.Flush()
			return
		case <-ticker.C:
			p.draw()
		}
	}
}
