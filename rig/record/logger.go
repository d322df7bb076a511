package record

import (
	"bufio"
	"context"
	"encoding/csv"
	stderrors "errors"
	"fmt"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/CodedInternet/gopneumatic/rig/pose"
	"github.com/CodedInternet/gopneumatic/rig/wire"
	"go.uber.org/zap"
)

const FLUSH_INTERVAL = time.Second

var ErrNotLogging = stderrors.New("sample logger is not running")

// Sample is one snapshot of the shared control state. Pose is nil when motion capture is off.
type Sample struct {
	Time     time.Time
	Desired  []float64
	Measured []wire.Reading
	Pose     *pose.Vector
}

// Header lists the columns of a run: time, desired pressure per channel, the four sensors per
// channel, then the three motion capture bodies when enabled.
func Header(channels []int, withPose bool) (header []string) {
	header = append(header, "time")
	for _, id := range channels {
		header = append(header, fmt.Sprintf("pd_%d", id))
	}
	for _, id := range channels {
		for s := 1; s <= wire.SensorsPerChannel; s++ {
			header = append(header, fmt.Sprintf("pm_%d_%d", id, s))
		}
	}
	if withPose {
		for body := 1; body <= pose.Bodies; body++ {
			for _, field := range pose.Fields {
				header = append(header, fmt.Sprintf("mocap_%d_%s", body, field))
			}
		}
	}
	return
}

// SampleLogger streams samples to a CSV file, one row per LogTick.
type SampleLogger struct {
	Dir string

	logger *zap.SugaredLogger

	lock     sync.Mutex
	file     *os.File
	buf      *bufio.Writer
	csv      *csv.Writer
	path     string
	name     string
	channels []int
	pose     bool
	start    time.Time
	rows     uint64
}

func NewSampleLogger(dir string, logger *zap.SugaredLogger) *SampleLogger {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &SampleLogger{Dir: dir, logger: logger}
}

// Start opens a new run and writes its header. Times in every later row are relative to now.
func (l *SampleLogger) Start(channels []int, name string, withPose bool) (path string, err error) {
	l.lock.Lock()
	defer l.lock.Unlock()

	if l.file != nil {
		return "", fmt.Errorf("unable to start logging: %s is still open", l.path)
	}

	path, name, err = ResolvePath(l.Dir, name, time.Now())
	if err != nil {
		return "", fmt.Errorf("unable to create experiment folder: %w", err)
	}

	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("unable to create %s: %w", path, err)
	}

	l.file = f
	l.buf = bufio.NewWriter(f)
	l.csv = csv.NewWriter(l.buf)
	l.path = path
	l.name = name
	l.channels = append([]int(nil), channels...)
	l.pose = withPose
	l.rows = 0

	if err = l.csv.Write(Header(channels, withPose)); err != nil {
		f.Close()
		l.file = nil
		return "", fmt.Errorf("unable to write header: %w", err)
	}
	l.csv.Flush()

	l.start = time.Now()
	l.logger.Infow("logging started", "path", path)
	return path, nil
}

// LogTick appends exactly one row.
func (l *SampleLogger) LogTick(s Sample) error {
	l.lock.Lock()
	defer l.lock.Unlock()

	if l.file == nil {
		return ErrNotLogging
	}

	now := s.Time
	if now.IsZero() {
		now = time.Now()
	}

	row := make([]string, 0, 1+len(l.channels)*(1+wire.SensorsPerChannel)+pose.Size)
	row = append(row, strconv.FormatFloat(now.Sub(l.start).Seconds(), 'f', 6, 64))
	for i := range l.channels {
		var v float64
		if i < len(s.Desired) {
			v = s.Desired[i]
		}
		row = append(row, strconv.FormatFloat(v, 'f', 3, 64))
	}
	for i := range l.channels {
		var r wire.Reading
		if i < len(s.Measured) {
			r = s.Measured[i]
		}
		for _, v := range r {
			row = append(row, strconv.FormatFloat(v, 'f', 3, 64))
		}
	}
	if l.pose {
		var v pose.Vector
		if s.Pose != nil {
			v = *s.Pose
		}
		for _, m := range v {
			row = append(row, strconv.FormatFloat(m, 'f', 6, 64))
		}
	}

	if err := l.csv.Write(row); err != nil {
		return err
	}
	l.rows++
	return nil
}

// Run logs source() every interval until ctx is done, flushing to disk once a second.
func (l *SampleLogger) Run(ctx context.Context, interval time.Duration, source func() Sample) {
	tick := time.NewTicker(interval)
	defer tick.Stop()
	flush := time.NewTicker(FLUSH_INTERVAL)
	defer flush.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-tick.C:
			if err := l.LogTick(source()); err != nil {
				if err == ErrNotLogging {
					return
				}
				l.logger.Errorw("unable to log sample", "error", err)
			}
		case <-flush.C:
			l.Flush()
		}
	}
}

func (l *SampleLogger) Flush() {
	l.lock.Lock()
	defer l.lock.Unlock()

	if l.file == nil {
		return
	}
	l.csv.Flush()
	if err := l.buf.Flush(); err != nil {
		l.logger.Errorw("unable to flush samples", "path", l.path, "error", err)
	}
}

// Stop flushes and closes the run. Calling it again is a no-op.
func (l *SampleLogger) Stop() (err error) {
	l.lock.Lock()
	defer l.lock.Unlock()

	if l.file == nil {
		return nil
	}

	l.csv.Flush()
	if err = l.csv.Error(); err == nil {
		err = l.buf.Flush()
	}
	if cerr := l.file.Close(); err == nil {
		err = cerr
	}
	l.file = nil

	l.logger.Infow("logging stopped", "path", l.path, "rows", l.rows)
	return err
}

func (l *SampleLogger) Rows() uint64 {
	l.lock.Lock()
	defer l.lock.Unlock()
	return l.rows
}

func (l *SampleLogger) Path() string {
	l.lock.Lock()
	defer l.lock.Unlock()
	return l.path
}

func (l *SampleLogger) Name() string {
	l.lock.Lock()
	defer l.lock.Unlock()
	return l.name
}

// Columns is the header of the current or last run.
func (l *SampleLogger) Columns() []string {
	l.lock.Lock()
	defer l.lock.Unlock()
	return Header(l.channels, l.pose)
}
