package hardware

import (
	"context"
	"fmt"
	"io"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/CodedInternet/gopneumatic/rig/errors"
	"github.com/CodedInternet/gopneumatic/rig/wire"
	"go.uber.org/atomic"
	"go.uber.org/zap"
)

const DefaultExchangeTimeout = 500 * time.Millisecond

// Link is one accepted stream connection to a single actuator. The host listens and the actuator
// dials in, so a Link is bound first and then blocks in Accept until its actuator shows up.
type Link struct {
	Channel int
	Port    int
	Format  wire.Format
	Timeout time.Duration // per exchange, zero disables the deadline
	Logger  *zap.SugaredLogger

	lock     sync.Mutex
	listener net.Listener
	conn     net.Conn
	faults   atomic.Uint64
	degraded atomic.Bool
}

// Bind opens the listening socket for channel on host:port. Nothing is accepted until Accept.
func Bind(host string, port, channel int) (l *Link, err error) {
	lc := net.ListenConfig{Control: listenControl}
	addr := net.JoinHostPort(host, strconv.Itoa(port))

	listener, err := lc.Listen(context.Background(), "tcp", addr)
	if err != nil {
		return nil, errors.ChannelError{Channel: channel, Op: "bind " + addr, Err: err}
	}

	l = &Link{
		Channel:  channel,
		Port:     port,
		Format:   wire.FormatInt16x4,
		Timeout:  DefaultExchangeTimeout,
		Logger:   zap.NewNop().Sugar(),
		listener: listener,
	}
	return l, nil
}

// Addr is the address the link is listening on, or nil once accepted.
func (l *Link) Addr() net.Addr {
	l.lock.Lock()
	defer l.lock.Unlock()

	if l.listener == nil {
		return nil
	}
	return l.listener.Addr()
}

// Accept blocks until the actuator connects or ctx is done. A link accepts exactly once; the
// listening socket is released as soon as the actuator is connected.
func (l *Link) Accept(ctx context.Context) (err error) {
	l.lock.Lock()
	listener := l.listener
	l.lock.Unlock()
	if listener == nil {
		return errors.ChannelError{Channel: l.Channel, Op: "accept", Err: net.ErrClosed}
	}

	type accepted struct {
		conn net.Conn
		err  error
	}
	result := make(chan accepted, 1)
	go func() {
		conn, err := listener.Accept()
		result <- accepted{conn, err}
	}()

	var r accepted
	select {
	case r = <-result:
	case <-ctx.Done():
		listener.Close()
		if r = <-result; r.conn != nil {
			r.conn.Close()
		}
		r.conn, r.err = nil, ctx.Err()
	}

	l.lock.Lock()
	defer l.lock.Unlock()

	listener.Close()
	l.listener = nil
	if r.err != nil {
		return errors.ChannelError{Channel: l.Channel, Op: "accept", Err: r.err}
	}

	l.conn = r.conn
	l.Logger.Infow("actuator connected", "channel", l.Channel, "peer", r.conn.RemoteAddr().String())
	return nil
}

// Exchange sends one pressure command and reads back one sensor frame. It never fails: any I/O or
// protocol fault is logged, counted, and reported as an all-zero reading so the caller's cadence is
// not held up by a single bad channel. An I/O fault also drops the connection.
func (l *Link) Exchange(psi float64) (r wire.Reading) {
	l.lock.Lock()
	conn := l.conn
	l.lock.Unlock()

	if conn == nil {
		l.fault("connection fault", errors.ErrNotConnected)
		return
	}

	if l.Timeout > 0 {
		conn.SetDeadline(time.Now().Add(l.Timeout))
	}

	if _, err := conn.Write(wire.EncodeCommand(psi)); err != nil {
		l.fault("connection fault", err)
		l.drop(conn)
		return
	}

	frame := make([]byte, l.Format.Size())
	if _, err := io.ReadFull(conn, frame); err != nil {
		l.fault("connection fault", err)
		l.drop(conn)
		return
	}

	r, err := l.Format.Decode(frame)
	if err != nil {
		l.fault("protocol fault", err)
		return wire.Reading{}
	}

	if l.degraded.CompareAndSwap(true, false) {
		l.Logger.Infow("actuator recovered", "channel", l.Channel)
	}
	return r
}

// drop closes conn after a failed exchange. Frames carry no header, so once a read has been cut
// short there is no telling where the next frame starts; the channel stays at zero from here on.
func (l *Link) drop(conn net.Conn) {
	l.lock.Lock()
	defer l.lock.Unlock()

	if l.conn != conn {
		return
	}
	conn.Close()
	l.conn = nil
	l.Logger.Warnw("dropped actuator connection", "channel", l.Channel)
}

// Faults is the number of exchanges that fell back to a zero reading.
func (l *Link) Faults() uint64 {
	return l.faults.Load()
}

func (l *Link) Connected() bool {
	l.lock.Lock()
	defer l.lock.Unlock()
	return l.conn != nil
}

// Close releases the connection and the listening socket. Safe to call more than once.
func (l *Link) Close() {
	l.lock.Lock()
	defer l.lock.Unlock()

	if l.listener != nil {
		l.listener.Close()
		l.listener = nil
	}
	if l.conn != nil {
		l.conn.Close()
		l.conn = nil
	}
}

func (l *Link) String() string {
	return fmt.Sprintf("channel %d (port %d)", l.Channel, l.Port)
}

// fault logs the first failure of a run of failures at warn level and the rest at debug, so a dead
// channel does not flood the log at the tick rate.
func (l *Link) fault(category string, err error) {
	l.faults.Inc()
	if l.degraded.CompareAndSwap(false, true) {
		l.Logger.Warnw(category+", using zero reading", "channel", l.Channel, "error", err)
		return
	}
	l.Logger.Debugw(category, "channel", l.Channel, "error", err)
}
