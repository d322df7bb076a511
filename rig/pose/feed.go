package pose

import (
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

const (
	FEED_RETRY_INTERVAL = 10 * time.Millisecond
	FEED_STOP_TIMEOUT   = time.Second
)

// Source delivers raw pose payloads. Recv blocks until a payload arrives or the source is closed.
type Source interface {
	Recv() ([]byte, error)
	Close() error
}

// Feed keeps the most recent pose from a Source. Readers never wait on the transport; they get the
// last known pose, or all zeros before the first one arrives.
type Feed struct {
	source Source
	logger *zap.SugaredLogger

	lock     sync.RWMutex
	last     Vector
	received time.Time
	count    uint64

	started bool
	once    sync.Once
	done    chan struct{}
	stopped chan struct{}
}

// NewFeed wraps source. A nil source gives a feed that only ever reports zeros.
func NewFeed(source Source, logger *zap.SugaredLogger) (f *Feed) {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	f = new(Feed)
	f.source = source
	f.logger = logger
	f.done = make(chan struct{})
	f.stopped = make(chan struct{})
	return f
}

func (f *Feed) Start() {
	f.lock.Lock()
	defer f.lock.Unlock()

	if f.started {
		return
	}
	f.started = true
	if f.source == nil {
		close(f.stopped)
		return
	}
	go f.listen()
}

func (f *Feed) listen() {
	defer close(f.stopped)

	failing := false
	for {
		payload, err := f.source.Recv()

		select {
		case <-f.done:
			return
		default:
		}

		if err == nil {
			var v Vector
			if v, err = Parse(payload); err == nil {
				f.lock.Lock()
				f.last = v
				f.received = time.Now()
				f.count++
				f.lock.Unlock()

				if failing {
					f.logger.Infow("pose feed recovered")
					failing = false
				}
				continue
			}
		}

		if !failing {
			f.logger.Warnw("pose fault, keeping last known pose", "error", err)
			failing = true
		} else {
			f.logger.Debugw("pose fault", "error", err)
		}

		select {
		case <-f.done:
			return
		case <-time.After(FEED_RETRY_INTERVAL):
		}
	}
}

// Get returns a copy of the last known pose.
func (f *Feed) Get() Vector {
	f.lock.RLock()
	defer f.lock.RUnlock()
	return f.last
}

// Attached reports whether the feed has a source at all. A feed without one only ever yields zeros.
func (f *Feed) Attached() bool {
	return f.source != nil
}

// Fresh reports whether a pose arrived within maxAge.
func (f *Feed) Fresh(maxAge time.Duration) bool {
	f.lock.RLock()
	defer f.lock.RUnlock()
	return !f.received.IsZero() && time.Since(f.received) <= maxAge
}

// Count is the number of poses received so far.
func (f *Feed) Count() uint64 {
	f.lock.RLock()
	defer f.lock.RUnlock()
	return f.count
}

// Stop closes the source and waits up to timeout for the receiver to exit. Safe to call more than
// once, and before Start.
func (f *Feed) Stop(timeout time.Duration) (err error) {
	f.once.Do(func() {
		close(f.done)
		if f.source != nil {
			if cerr := f.source.Close(); cerr != nil {
				f.logger.Debugw("closing pose source", "error", cerr)
			}
		}
	})

	f.lock.RLock()
	started := f.started
	f.lock.RUnlock()
	if !started {
		return nil
	}

	select {
	case <-f.stopped:
		return nil
	case <-time.After(timeout):
		return fmt.Errorf("unable to stop pose feed within %s", timeout)
	}
}
