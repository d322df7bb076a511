package hardware

import (
	"context"
	"io"
	"math"
	"math/rand"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/CodedInternet/gopneumatic/rig/wire"
	"go.uber.org/atomic"
	"go.uber.org/zap"
)

const (
	SIM_DIAL_INTERVAL = 50 * time.Millisecond
	SIM_TIME_CONSTANT = 150 * time.Millisecond
	SIM_NOISE         = 0.02 // PSI
)

// SimulatedActuator stands in for a microcontroller on the bench: it dials the host, and answers
// every pressure command with a sensor frame following a first order response towards the command.
type SimulatedActuator struct {
	Channel int
	Address string
	Format  wire.Format
	Tau     time.Duration
	Noise   float64
	Logger  *zap.SugaredLogger

	commands atomic.Uint64
	last     atomic.Float64
	pressure float64
	updated  time.Time
}

func NewSimulatedActuator(channel int, address string, format wire.Format) (s *SimulatedActuator) {
	s = new(SimulatedActuator)
	s.Channel = channel
	s.Address = address
	s.Format = format
	s.Tau = SIM_TIME_CONSTANT
	s.Noise = SIM_NOISE
	s.Logger = zap.NewNop().Sugar()
	return s
}

// Run dials until the host accepts, then serves commands until the host hangs up or ctx is done.
func (s *SimulatedActuator) Run(ctx context.Context) (err error) {
	conn, err := s.dial(ctx)
	if err != nil {
		return err
	}
	defer conn.Close()

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()

	cmd := make([]byte, wire.CommandSize)
	for {
		if _, err = io.ReadFull(conn, cmd); err != nil {
			if ctx.Err() != nil || err == io.EOF {
				return nil
			}
			return err
		}

		psi, _ := wire.DecodeCommand(cmd)
		s.commands.Inc()
		s.last.Store(psi)

		if _, err = conn.Write(s.Format.Encode(s.respond(psi))); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
	}
}

func (s *SimulatedActuator) dial(ctx context.Context) (conn net.Conn, err error) {
	d := net.Dialer{Timeout: time.Second}
	for {
		conn, err = d.DialContext(ctx, "tcp", s.Address)
		if err == nil {
			s.Logger.Debugw("simulated actuator connected", "channel", s.Channel, "address", s.Address)
			return conn, nil
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(SIM_DIAL_INTERVAL):
		}
	}
}

// respond advances the chamber pressure towards target and samples the four onboard sensors.
func (s *SimulatedActuator) respond(target float64) (r wire.Reading) {
	now := time.Now()
	if !s.updated.IsZero() && s.Tau > 0 {
		dt := now.Sub(s.updated).Seconds()
		s.pressure += (target - s.pressure) * (1 - math.Exp(-dt/s.Tau.Seconds()))
	} else {
		s.pressure = target
	}
	s.updated = now

	for i := range r {
		r[i] = s.pressure + (rand.Float64()*2-1)*s.Noise
	}
	return
}

// Commands is the number of commands served so far.
func (s *SimulatedActuator) Commands() uint64 {
	return s.commands.Load()
}

// LastCommand is the most recent pressure the host asked for.
func (s *SimulatedActuator) LastCommand() float64 {
	return s.last.Load()
}

// Simulate starts one simulated actuator per configured channel against the fleet's ports. The
// returned WaitGroup is done once every actuator has disconnected.
func Simulate(ctx context.Context, cfg FleetConfig) (sims []*SimulatedActuator, wg *sync.WaitGroup, err error) {
	if cfg.Ports == nil {
		cfg.Ports = DefaultPorts
	}
	if cfg.Format.Values == 0 {
		cfg.Format = wire.FormatInt16x4
	}
	host := cfg.Host
	if host == "" || host == "0.0.0.0" || host == "::" {
		host = "127.0.0.1"
	}

	wg = new(sync.WaitGroup)
	for _, channel := range cfg.Channels {
		port, err := PortFor(channel, cfg.Ports)
		if err != nil {
			return nil, nil, err
		}

		s := NewSimulatedActuator(channel, net.JoinHostPort(host, strconv.Itoa(port)), cfg.Format)
		if cfg.Logger != nil {
			s.Logger = cfg.Logger
		}
		sims = append(sims, s)
	}

	for _, s := range sims {
		wg.Add(1)
		go func(s *SimulatedActuator) {
			defer wg.Done()
			if err := s.Run(ctx); err != nil {
				s.Logger.Warnw("simulated actuator stopped", "channel", s.Channel, "error", err)
			}
		}(s)
	}
	return sims, wg, nil
}
