package hardware

import (
	"context"
	stderrors "errors"
	"io"
	"net"
	"strconv"
	"testing"
	"time"

	"github.com/CodedInternet/gopneumatic/rig/errors"
	"github.com/CodedInternet/gopneumatic/rig/wire"
	. "github.com/smartystreets/goconvey/convey"
)

const testHost = "127.0.0.1"

// freePorts asks the kernel for n unused loopback ports.
func freePorts(n int) (ports []int) {
	listeners := make([]net.Listener, n)
	for i := range listeners {
		l, err := net.Listen("tcp", testHost+":0")
		if err != nil {
			panic(err)
		}
		listeners[i] = l
		ports = append(ports, l.Addr().(*net.TCPAddr).Port)
	}
	for _, l := range listeners {
		l.Close()
	}
	return
}

func dialLink(l *Link) net.Conn {
	conn, err := net.Dial("tcp", testHost+":"+strconv.Itoa(l.Port))
	if err != nil {
		panic(err)
	}
	return conn
}

func acceptedLink(port int) (l *Link, actuator net.Conn) {
	l, err := Bind(testHost, port, 3)
	if err != nil {
		panic(err)
	}
	dialed := make(chan net.Conn, 1)
	go func() { dialed <- dialLink(l) }()
	if err = l.Accept(context.Background()); err != nil {
		panic(err)
	}
	return l, <-dialed
}

func TestLink(t *testing.T) {
	Convey("An accepted link exchanges commands for frames", t, func() {
		l, actuator := acceptedLink(freePorts(1)[0])
		defer l.Close()
		defer actuator.Close()

		So(l.Connected(), ShouldBeTrue)
		So(l.Addr(), ShouldBeNil)

		received := make(chan float64, 1)
		go func() {
			cmd := make([]byte, wire.CommandSize)
			io.ReadFull(actuator, cmd)
			psi, _ := wire.DecodeCommand(cmd)
			received <- psi
			actuator.Write(wire.FormatInt16x4.Encode(wire.Reading{5, 5.1, 4.9, 5}))
		}()

		r := l.Exchange(5.5)
		So(<-received, ShouldEqual, 5.5)
		So(r[0], ShouldAlmostEqual, 5, 0.001)
		So(r[1], ShouldAlmostEqual, 5.1, 0.001)
		So(r[2], ShouldAlmostEqual, 4.9, 0.001)
		So(l.Faults(), ShouldEqual, 0)

		Convey("a short frame degrades to a zero reading", func() {
			go func() {
				io.ReadFull(actuator, make([]byte, wire.CommandSize))
				actuator.Write([]byte{0x27, 0x10, 0x00})
				actuator.Close()
			}()

			So(l.Exchange(2), ShouldResemble, wire.Reading{})
			So(l.Faults(), ShouldEqual, 1)

			Convey("and so does every exchange after the actuator has gone", func() {
				So(l.Exchange(2), ShouldResemble, wire.Reading{})
				So(l.Faults(), ShouldEqual, 2)
			})
		})

		Convey("a silent actuator times out instead of blocking the caller", func() {
			l.Timeout = 50 * time.Millisecond
			start := time.Now()
			So(l.Exchange(1), ShouldResemble, wire.Reading{})
			So(time.Since(start), ShouldBeLessThan, time.Second)
			So(l.Faults(), ShouldEqual, 1)
		})

		Convey("a frame that arrives late drops the link rather than shifting every later frame", func() {
			l.Timeout = 50 * time.Millisecond
			frame := wire.FormatInt16x4.Encode(wire.Reading{10, 10, 10, 10})
			served := make(chan struct{})
			go func() {
				defer close(served)
				cmd := make([]byte, wire.CommandSize)
				io.ReadFull(actuator, cmd)
				actuator.Write(frame[:3])
				time.Sleep(100 * time.Millisecond)
				actuator.Write(frame[3:])
				for {
					if _, err := io.ReadFull(actuator, cmd); err != nil {
						return
					}
					actuator.Write(frame)
				}
			}()

			So(l.Exchange(10), ShouldResemble, wire.Reading{})
			So(l.Faults(), ShouldEqual, 1)
			So(l.Connected(), ShouldBeFalse)

			time.Sleep(150 * time.Millisecond)
			for i := 0; i < 3; i++ {
				So(l.Exchange(10), ShouldResemble, wire.Reading{})
			}
			So(l.Faults(), ShouldEqual, 4)

			select {
			case <-served:
			case <-time.After(time.Second):
			}
		})
	})

	Convey("Exchanging before accept is a fault, not a panic", t, func() {
		l, err := Bind(testHost, freePorts(1)[0], 1)
		So(err, ShouldBeNil)
		defer l.Close()

		So(l.Exchange(4), ShouldResemble, wire.Reading{})
		So(l.Faults(), ShouldEqual, 1)
	})

	Convey("Accept gives up when the context is cancelled and releases the port", t, func() {
		port := freePorts(1)[0]
		l, err := Bind(testHost, port, 2)
		So(err, ShouldBeNil)

		ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
		defer cancel()
		err = l.Accept(ctx)
		So(err, ShouldNotBeNil)
		So(stderrors.Is(err, context.DeadlineExceeded), ShouldBeTrue)

		var ce errors.ChannelError
		So(stderrors.As(err, &ce), ShouldBeTrue)
		So(ce.Channel, ShouldEqual, 2)

		again, err := Bind(testHost, port, 2)
		So(err, ShouldBeNil)
		again.Close()
		l.Close()
		l.Close()
	})
}

func TestFleet(t *testing.T) {
	Convey("Channels map onto the port table", t, func() {
		port, err := PortFor(3, DefaultPorts)
		So(err, ShouldBeNil)
		So(port, ShouldEqual, 10003)

		_, err = PortFor(9, DefaultPorts)
		So(err, ShouldHaveSameTypeAs, errors.ConfigError{})
		_, err = PortFor(0, DefaultPorts)
		So(err, ShouldNotBeNil)
	})

	Convey("A fleet with no channels is refused", t, func() {
		_, err := ConnectAll(context.Background(), FleetConfig{Host: testHost})
		So(err, ShouldEqual, ErrNoChannels)
	})

	Convey("Given two simulated actuators", t, func() {
		cfg := FleetConfig{
			Host:     testHost,
			Ports:    freePorts(2),
			Channels: []int{2, 1},
			Timeout:  time.Second,
		}

		simCtx, stopSims := context.WithCancel(context.Background())
		defer stopSims()
		sims, wg, err := Simulate(simCtx, cfg)
		So(err, ShouldBeNil)
		So(sims, ShouldHaveLength, 2)

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		fleet, err := ConnectAll(ctx, cfg)
		So(err, ShouldBeNil)
		defer fleet.Cleanup()

		So(fleet.Channels(), ShouldResemble, []int{2, 1})

		Convey("SendAll drives every channel in order", func() {
			measured := fleet.SendAll([]float64{3, 1})
			So(measured, ShouldHaveLength, 2)
			So(sims[0].LastCommand(), ShouldEqual, 3)
			So(sims[1].LastCommand(), ShouldEqual, 1)
			for i := range measured[0] {
				So(measured[0][i], ShouldAlmostEqual, 3, 0.05)
				So(measured[1][i], ShouldAlmostEqual, 1, 0.05)
			}
			So(sims[0].Commands(), ShouldEqual, 1)
		})

		Convey("Channels without a desired value are sent zero", func() {
			fleet.SendAll([]float64{2})
			So(sims[0].LastCommand(), ShouldEqual, 2)
			So(sims[1].LastCommand(), ShouldEqual, 0)
		})

		Convey("Losing an actuator mid run degrades only to zero readings", func() {
			stopSims()
			wg.Wait()

			measured := fleet.SendAll([]float64{3, 1})
			So(measured, ShouldResemble, []wire.Reading{{}, {}})
			So(fleet.Faults()[2], ShouldBeGreaterThan, 0)
			So(fleet.Faults()[1], ShouldBeGreaterThan, 0)
		})

		Convey("Cleanup is idempotent and stops all traffic", func() {
			fleet.Cleanup()
			fleet.Cleanup()
			So(fleet.SendAll([]float64{3, 1}), ShouldResemble, []wire.Reading{{}, {}})
			So(sims[0].Commands(), ShouldEqual, 0)
		})
	})

	Convey("Bring-up aborts when an actuator never connects", t, func() {
		cfg := FleetConfig{
			Host:     testHost,
			Ports:    freePorts(2),
			Channels: []int{1, 2},
		}
		ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
		defer cancel()

		fleet, err := ConnectAll(ctx, cfg)
		So(fleet, ShouldBeNil)
		So(err, ShouldNotBeNil)

		for _, port := range cfg.Ports {
			l, err := Bind(testHost, port, 1)
			So(err, ShouldBeNil)
			l.Close()
		}
	})
}
