package rig

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/CodedInternet/gopneumatic/rig/waves"
	"github.com/CodedInternet/gopneumatic/rig/wire"
	"go.uber.org/atomic"
	"go.uber.org/zap"
)

// Actuators is whatever carries one desired pressure per channel out and brings one reading per
// channel back. *hardware.Fleet in production.
type Actuators interface {
	SendAll(desired []float64) []wire.Reading
}

type State int32

const (
	StateIdle State = iota
	StateRunning
	StateRampdown
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	case StateRampdown:
		return "rampdown"
	case StateStopped:
		return "stopped"
	}
	return "unknown"
}

type StopReason int

const (
	StopDuration StopReason = iota
	StopCycleComplete
	StopRequested
	StopCancelled
)

func (r StopReason) String() string {
	switch r {
	case StopDuration:
		return "duration elapsed"
	case StopCycleComplete:
		return "cycle complete"
	case StopRequested:
		return "stop requested"
	case StopCancelled:
		return "cancelled"
	}
	return "unknown"
}

type LoopConfig struct {
	Tick             time.Duration
	Rampdown         time.Duration
	Duration         time.Duration
	EndAfterOneCycle bool
}

// ControlLoop drives the wave out to the actuators once per tick and keeps the latest desired and
// measured values for the sample logger.
type ControlLoop struct {
	actuators Actuators
	wave      waves.Waveform
	channels  []int
	cfg       LoopConfig
	logger    *zap.SugaredLogger

	state atomic.Int32
	ticks atomic.Uint64

	lock     sync.RWMutex
	desired  []float64
	measured []wire.Reading
	started  time.Time
	finished time.Time

	stopOnce sync.Once
	stop     chan struct{}
}

func NewControlLoop(actuators Actuators, wave waves.Waveform, channels []int, cfg LoopConfig, logger *zap.SugaredLogger) (c *ControlLoop) {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	if cfg.Tick <= 0 {
		cfg.Tick = 10 * time.Millisecond
	}

	c = new(ControlLoop)
	c.actuators = actuators
	c.wave = wave
	c.channels = append([]int(nil), channels...)
	c.cfg = cfg
	c.logger = logger
	c.desired = make([]float64, len(channels))
	c.measured = make([]wire.Reading, len(channels))
	c.stop = make(chan struct{})
	return c
}

// End is how long the trial runs for before the rampdown, which is the configured duration cut
// short to one wave cycle when asked.
func (c *ControlLoop) End() time.Duration {
	end := c.cfg.Duration
	if c.cfg.EndAfterOneCycle {
		cycle := time.Duration(c.wave.Length(1) * float64(time.Second))
		if cycle > 0 && cycle < end {
			end = cycle
		}
	}
	return end
}

// Run blocks until the trial ends, is stopped or ctx is cancelled. It does not ramp down; the
// caller always follows with Rampdown.
func (c *ControlLoop) Run(ctx context.Context) (reason StopReason) {
	end := c.End()
	endReason := StopDuration
	if end < c.cfg.Duration {
		endReason = StopCycleComplete
	}

	c.lock.Lock()
	c.started = time.Now()
	c.lock.Unlock()
	c.state.Store(int32(StateRunning))
	c.logger.Infow("control loop started", "tick", c.cfg.Tick, "end", end)

	ticker := time.NewTicker(c.cfg.Tick)
	defer ticker.Stop()

	desired := make([]float64, len(c.channels))
	for {
		elapsed := c.Elapsed()
		if elapsed >= end {
			reason = endReason
			break
		}

		c.wave.Sample(elapsed.Seconds(), desired)
		c.exchange(desired)

		select {
		case <-ctx.Done():
			reason = StopCancelled
		case <-c.stop:
			reason = StopRequested
		case <-ticker.C:
			continue
		}
		break
	}

	c.lock.Lock()
	c.finished = time.Now()
	c.lock.Unlock()
	c.logger.Infow("control loop finished", "reason", reason.String(), "ticks", c.ticks.Load())
	return reason
}

// Rampdown brings every channel from where it is to zero in a straight line over the configured
// rampdown time, always finishing with an explicit zero command. It is not interruptible. The line
// follows the wall clock, so slow actuators cost steps, not time: the zero command goes out no later
// than the rampdown time once the cost of one exchange is allowed for.
func (c *ControlLoop) Rampdown() {
	c.state.Store(int32(StateRampdown))

	c.lock.RLock()
	start := append([]float64(nil), c.desired...)
	c.lock.RUnlock()

	c.logger.Infow("ramping down", "from", start, "duration", c.cfg.Rampdown.String())

	desired := make([]float64, len(start))
	begin := time.Now()
	var cost time.Duration
	for {
		elapsed := time.Since(begin)
		if elapsed+cost >= c.cfg.Rampdown {
			break
		}

		scale := 1 - float64(elapsed)/float64(c.cfg.Rampdown)
		for i, v := range start {
			desired[i] = math.Max(0, v*scale)
		}
		sent := time.Now()
		c.exchange(desired)
		cost = time.Since(sent)

		wait := c.cfg.Tick - cost
		if left := c.cfg.Rampdown - cost - time.Since(begin); left < wait {
			wait = left
		}
		if wait > 0 {
			time.Sleep(wait)
		}
	}

	for i := range desired {
		desired[i] = 0
	}
	c.exchange(desired)
	c.state.Store(int32(StateStopped))
	c.logger.Infow("rampdown complete", "took", time.Since(begin).String())
}

func (c *ControlLoop) exchange(desired []float64) {
	c.lock.Lock()
	copy(c.desired, desired)
	c.lock.Unlock()

	measured := c.actuators.SendAll(desired)

	c.lock.Lock()
	copy(c.measured, measured)
	c.lock.Unlock()
	c.ticks.Inc()
}

// Stop asks a running loop to finish at its next tick. Safe to call any number of times.
func (c *ControlLoop) Stop() {
	c.stopOnce.Do(func() {
		close(c.stop)
	})
}

// Snapshot copies out the latest desired and measured values.
func (c *ControlLoop) Snapshot() (desired []float64, measured []wire.Reading) {
	c.lock.RLock()
	defer c.lock.RUnlock()
	desired = append([]float64(nil), c.desired...)
	measured = append([]wire.Reading(nil), c.measured...)
	return
}

func (c *ControlLoop) State() State {
	return State(c.state.Load())
}

func (c *ControlLoop) Elapsed() time.Duration {
	c.lock.RLock()
	defer c.lock.RUnlock()
	if c.started.IsZero() {
		return 0
	}
	if !c.finished.IsZero() {
		return c.finished.Sub(c.started)
	}
	return time.Since(c.started)
}

func (c *ControlLoop) Ticks() uint64 {
	return c.ticks.Load()
}
