package hardware

import (
	"context"
	stderrors "errors"
	"fmt"
	"sync"
	"time"

	"github.com/CodedInternet/gopneumatic/rig/errors"
	"github.com/CodedInternet/gopneumatic/rig/wire"
	"go.uber.org/zap"
)

// DefaultPorts is the static port table; channel k listens on DefaultPorts[k-1].
var DefaultPorts = []int{10001, 10002, 10003, 10004, 10005, 10006, 10007, 10008}

var (
	ErrNoChannels  = stderrors.New("no actuator channels configured")
	ErrFleetClosed = stderrors.New("fleet has been cleaned up")
)

type FleetConfig struct {
	Host     string
	Ports    []int // indexed by channel id - 1
	Channels []int
	Format   wire.Format
	Timeout  time.Duration
	Logger   *zap.SugaredLogger
}

// PortFor maps a 1 based channel id onto the port table.
func PortFor(channel int, ports []int) (port int, err error) {
	if channel < 1 || channel > len(ports) {
		return 0, errors.ConfigError{
			Field:  fmt.Sprintf("channel %d", channel),
			Reason: fmt.Sprintf("has no entry in the port table (1..%d)", len(ports)),
		}
	}
	return ports[channel-1], nil
}

// Fleet owns one Link per channel, in configured channel order.
type Fleet struct {
	links  []*Link
	logger *zap.SugaredLogger

	lock   sync.Mutex
	closed bool
}

// ConnectAll binds every channel's port, then accepts each actuator in channel order. Any failure
// tears down whatever was already bound or accepted; there are no partial fleets.
func ConnectAll(ctx context.Context, cfg FleetConfig) (f *Fleet, err error) {
	if len(cfg.Channels) == 0 {
		return nil, ErrNoChannels
	}
	if cfg.Ports == nil {
		cfg.Ports = DefaultPorts
	}
	if cfg.Format.Values == 0 {
		cfg.Format = wire.FormatInt16x4
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop().Sugar()
	}

	f = &Fleet{
		links:  make([]*Link, 0, len(cfg.Channels)),
		logger: cfg.Logger,
	}

	for _, channel := range cfg.Channels {
		port, err := PortFor(channel, cfg.Ports)
		if err != nil {
			f.Cleanup()
			return nil, err
		}

		l, err := Bind(cfg.Host, port, channel)
		if err != nil {
			f.Cleanup()
			return nil, err
		}
		l.Format = cfg.Format
		l.Timeout = cfg.Timeout
		l.Logger = cfg.Logger
		f.links = append(f.links, l)
	}

	for _, l := range f.links {
		f.logger.Infow("waiting for actuator", "channel", l.Channel, "port", l.Port)
		if err = l.Accept(ctx); err != nil {
			f.logger.Errorw("connection fault, aborting fleet bring-up", "channel", l.Channel, "error", err)
			f.Cleanup()
			return nil, err
		}
	}

	return f, nil
}

// SendAll exchanges desired[i] with the i-th channel, one channel at a time, and returns the measured
// matrix in the same order. Channels without a desired value are commanded to zero.
func (f *Fleet) SendAll(desired []float64) (measured []wire.Reading) {
	measured = make([]wire.Reading, len(f.links))

	f.lock.Lock()
	closed := f.closed
	f.lock.Unlock()
	if closed {
		f.logger.Debugw("send on closed fleet", "error", ErrFleetClosed)
		return
	}

	for i, l := range f.links {
		var psi float64
		if i < len(desired) {
			psi = desired[i]
		}
		measured[i] = l.Exchange(psi)
	}
	return
}

func (f *Fleet) Channels() (channels []int) {
	channels = make([]int, len(f.links))
	for i, l := range f.links {
		channels[i] = l.Channel
	}
	return
}

// Faults reports the per channel count of zero fallback readings, keyed by channel id.
func (f *Fleet) Faults() map[int]uint64 {
	faults := make(map[int]uint64, len(f.links))
	for _, l := range f.links {
		faults[l.Channel] = l.Faults()
	}
	return faults
}

// Cleanup closes every socket. It never fails and may be called more than once.
func (f *Fleet) Cleanup() {
	f.lock.Lock()
	defer f.lock.Unlock()

	if f.closed {
		return
	}
	f.closed = true

	for _, l := range f.links {
		l.Close()
	}
	f.logger.Infow("fleet closed", "channels", len(f.links))
}
