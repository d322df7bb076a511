package rig

import (
	"context"
	"sync"
	"time"

	"github.com/CodedInternet/gopneumatic/rig/errors"
	"github.com/CodedInternet/gopneumatic/rig/hardware"
	"github.com/CodedInternet/gopneumatic/rig/pose"
	"github.com/CodedInternet/gopneumatic/rig/record"
	"github.com/CodedInternet/gopneumatic/rig/waves"
	"github.com/CodedInternet/gopneumatic/rig/wire"
	"go.uber.org/atomic"
	"go.uber.org/zap"
)

const (
	POSE_DIAL_TIMEOUT = 2 * time.Second
	POSE_STALE_AFTER  = 500 * time.Millisecond
	TIMESTAMP_FORMAT  = "2006-01-02T15:04:05.000000"
)

// Status is a point in time view of a session, safe to hand to other goroutines.
type Status struct {
	State      string         `json:"state"`
	Experiment string         `json:"experiment"`
	Wave       string         `json:"wave"`
	Elapsed    float64        `json:"elapsed"`
	Total      float64        `json:"total"`
	Channels   []int          `json:"channels"`
	Desired    []float64      `json:"desired"`
	Measured   []wire.Reading `json:"measured"`
	Faults     map[int]uint64 `json:"faults,omitempty"`
	Rows       uint64         `json:"rows"`
	PoseCount  uint64         `json:"pose_count"`
	PoseFresh  bool           `json:"pose_fresh"`
	Pose       *pose.Vector   `json:"pose,omitempty"`
}

// Session owns one experiment from actuator bring-up to the metadata sidecar.
type Session struct {
	Config *Config

	// Index, when set, gets a record of every finished run.
	Index *record.Index
	// Describe is asked for a description when none was given in the config or with SetDescription.
	Describe func() string
	// PoseStaleAfter is how long the pose feed may go quiet before it is reported.
	PoseStaleAfter time.Duration

	logger   *zap.SugaredLogger
	wave     waves.Waveform
	fleet    *hardware.Fleet
	feed     *pose.Feed
	loop     *ControlLoop
	recorder *record.SampleLogger

	initialized atomic.Bool
	running     atomic.Bool
	poseStale   atomic.Bool
	started     time.Time

	lock        sync.Mutex
	description string
	describedBy string
	stoppedBy   string
}

// NewSession validates cfg and builds the wave. Nothing is bound or opened until Initialize.
func NewSession(cfg *Config, logger *zap.SugaredLogger) (s *Session, err error) {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	if err = cfg.Validate(); err != nil {
		return nil, err
	}

	s = new(Session)
	s.Config = cfg
	s.logger = logger
	s.PoseStaleAfter = POSE_STALE_AFTER
	if s.wave, err = cfg.Waveform(); err != nil {
		return nil, err
	}
	s.description = cfg.Description
	return s, nil
}

// Initialize waits for every actuator to connect and opens the pose feed. A pose feed that cannot
// be reached is logged and replaced by zeros; the trial still runs.
func (s *Session) Initialize(ctx context.Context) (err error) {
	if !s.initialized.CompareAndSwap(false, true) {
		return errors.ErrAlreadyRunning
	}

	cfg := s.Config
	s.logger.Infow("waiting for actuators", "channels", cfg.Channels, "host", cfg.Host)
	fleet, err := hardware.ConnectAll(ctx, hardware.FleetConfig{
		Host:     cfg.Host,
		Ports:    cfg.Ports,
		Channels: cfg.Channels,
		Format:   cfg.FrameFormat(),
		Timeout:  cfg.ExchangeTimeout(),
		Logger:   s.logger.Named("hardware"),
	})
	if err != nil {
		s.initialized.Store(false)
		return err
	}

	var source pose.Source
	if cfg.Pose.Enabled {
		dialCtx, cancel := context.WithTimeout(ctx, POSE_DIAL_TIMEOUT)
		source, err = pose.Dial(dialCtx, cfg.Pose.Address)
		cancel()
		if err != nil {
			s.logger.Warnw("pose feed unavailable, logging zeros", "address", cfg.Pose.Address, "error", err)
			source = nil
		}
	}

	s.lock.Lock()
	defer s.lock.Unlock()
	s.fleet = fleet
	s.feed = pose.NewFeed(source, s.logger.Named("pose"))
	s.loop = NewControlLoop(fleet, s.wave, cfg.Channels, LoopConfig{
		Tick:             cfg.Tick(),
		Rampdown:         cfg.Rampdown(),
		Duration:         cfg.Duration(),
		EndAfterOneCycle: cfg.EndAfterOneCycle,
	}, s.logger.Named("control"))
	s.recorder = record.NewSampleLogger(cfg.Storage.Dir, s.logger.Named("record"))

	s.logger.Infow("session initialized", "wave", cfg.Wave.Name)
	return nil
}

// Run executes the trial and always leaves the actuators commanded to zero, whether the trial
// ended by itself, was stopped or ctx was cancelled.
func (s *Session) Run(ctx context.Context) (m record.Metadata, err error) {
	if !s.initialized.Load() {
		return m, errors.ErrNotInitialized
	}
	if !s.running.CompareAndSwap(false, true) {
		return m, errors.ErrAlreadyRunning
	}
	defer s.running.Store(false)

	cfg := s.Config
	path, err := s.recorder.Start(cfg.Channels, cfg.Experiment, cfg.Pose.Enabled)
	if err != nil {
		s.fleet.SendAll(make([]float64, len(cfg.Channels)))
		s.feed.Stop(pose.FEED_STOP_TIMEOUT)
		s.fleet.Cleanup()
		return m, err
	}
	started := time.Now()
	s.started = started
	s.feed.Start()

	logCtx, stopLogging := context.WithCancel(context.Background())
	wg := new(sync.WaitGroup)
	wg.Add(1)
	go func() {
		defer wg.Done()
		s.recorder.Run(logCtx, cfg.LogInterval(), s.sample)
	}()

	progressCtx, stopProgress := context.WithCancel(context.Background())
	if cfg.Progress {
		p := NewProgress(s.loop.End(), s.loop.Elapsed)
		wg.Add(1)
		go func() {
			defer wg.Done()
			p.Run(progressCtx)
		}()
	}

	reason := s.loop.Run(ctx)
	s.logger.Infow("trial ended", "reason", reason.String())
	stopProgress()
	s.loop.Rampdown()

	if err := s.feed.Stop(pose.FEED_STOP_TIMEOUT); err != nil {
		s.logger.Warnw("pose feed did not stop cleanly", "error", err)
	}

	stopLogging()
	wg.Wait()
	// the final row carries the zero command
	if err := s.recorder.LogTick(s.sample()); err != nil {
		s.logger.Errorw("unable to log final sample", "error", err)
	}
	rows := s.recorder.Rows()
	if err = s.recorder.Stop(); err != nil {
		s.logger.Errorw("unable to close experiment log", "path", path, "error", err)
	}
	s.fleet.Cleanup()

	m = s.metadata(started, rows)
	if _, err = record.WriteSidecar(path, m); err != nil {
		return m, err
	}
	if s.Index != nil {
		if err = s.Index.Put(m); err != nil {
			return m, err
		}
	}
	s.logger.Infow("experiment saved", "name", m.Name, "path", path, "rows", rows)
	return m, nil
}

func (s *Session) sample() record.Sample {
	desired, measured := s.loop.Snapshot()
	sample := record.Sample{
		Time:     time.Now(),
		Desired:  desired,
		Measured: measured,
	}
	if s.Config.Pose.Enabled {
		v := s.feed.Get()
		sample.Pose = &v
		s.checkPose(sample.Time)
	}
	return sample
}

// checkPose reports the pose feed going quiet, and coming back, once each.
func (s *Session) checkPose(now time.Time) {
	if !s.feed.Attached() || now.Sub(s.started) < s.PoseStaleAfter {
		return
	}
	if s.feed.Fresh(s.PoseStaleAfter) {
		if s.poseStale.CompareAndSwap(true, false) {
			s.logger.Infow("pose feed recovered", "received", s.feed.Count())
		}
		return
	}
	if s.poseStale.CompareAndSwap(false, true) {
		s.logger.Warnw("pose fault, logging the last known pose", "stale_after", s.PoseStaleAfter.String(), "received", s.feed.Count())
	}
}

func (s *Session) metadata(started time.Time, rows uint64) (m record.Metadata) {
	cfg := s.Config

	m.Name = s.recorder.Name()
	m.Path = s.recorder.Path()
	m.Timestamp = started.Format(TIMESTAMP_FORMAT)
	m.ExperimentType = cfg.Wave.Name
	m.DurationSeconds = cfg.DurationSeconds
	m.MocapEnabled = cfg.Pose.Enabled && s.feed.Attached()
	m.ArduinoIDs = append([]int(nil), cfg.Channels...)
	m.TargetPressuresPSI = append([]float64(nil), cfg.Targets...)
	m.EndAfterOneCycle = cfg.EndAfterOneCycle
	m.RampdownDurationSeconds = cfg.RampdownSeconds
	m.SampleCount = rows
	m.PCAddress = cfg.Host
	if cfg.Pose.Enabled {
		m.MocapPort = cfg.Pose.Address
		m.MocapDataSize = cfg.Pose.Size
	}
	m.Columns = s.recorder.Columns()

	s.lock.Lock()
	m.Description = s.description
	m.DescribedBy = s.describedBy
	m.StoppedBy = s.stoppedBy
	s.lock.Unlock()
	if m.Description == "" && s.Describe != nil {
		m.Description = s.Describe()
	}
	if m.Description == "" {
		m.Description = record.NO_DESCRIPTION
	}
	return m
}

// Stop ends a running trial early. The rampdown still runs in full.
func (s *Session) Stop() {
	s.StopBy("")
}

// StopBy is Stop on behalf of a named operator, who is recorded in the run's metadata.
func (s *Session) StopBy(operator string) {
	s.lock.Lock()
	defer s.lock.Unlock()
	if s.loop == nil {
		return
	}
	if s.stoppedBy == "" && s.loop.State() != StateStopped {
		s.stoppedBy = operator
	}
	s.loop.Stop()
}

func (s *Session) SetDescription(description string) {
	s.SetDescriptionBy(description, "")
}

// SetDescriptionBy replaces the run's description and records who wrote it.
func (s *Session) SetDescriptionBy(description, operator string) {
	s.lock.Lock()
	defer s.lock.Unlock()
	s.description = description
	s.describedBy = operator
}

func (s *Session) Status() (st Status) {
	cfg := s.Config
	st.State = StateIdle.String()
	st.Wave = cfg.Wave.Name
	st.Channels = append([]int(nil), cfg.Channels...)
	st.Total = cfg.DurationSeconds

	s.lock.Lock()
	defer s.lock.Unlock()
	if s.loop == nil {
		return st
	}
	st.State = s.loop.State().String()
	st.Elapsed = s.loop.Elapsed().Seconds()
	st.Total = s.loop.End().Seconds()
	st.Desired, st.Measured = s.loop.Snapshot()
	st.Faults = s.fleet.Faults()
	st.Rows = s.recorder.Rows()
	st.Experiment = s.recorder.Name()
	st.PoseCount = s.feed.Count()
	st.PoseFresh = s.feed.Attached() && s.feed.Fresh(s.PoseStaleAfter)
	if cfg.Pose.Enabled {
		v := s.feed.Get()
		st.Pose = &v
	}
	return st
}
