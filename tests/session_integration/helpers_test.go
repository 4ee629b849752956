// Package sessionintegration contains end-to-end tests that drive a session against
// the simulated controller, directly and through a TCP bridge.
package sessionintegration

import (
	"context"
	"io"
	"net"
	"os"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/arloliu/go-grbl/grbl"
	"github.com/arloliu/go-grbl/logger"
	"github.com/arloliu/go-grbl/session"
	"github.com/arloliu/go-grbl/sim"
	"github.com/stretchr/testify/require"
)

const waitTimeout = 5 * time.Second

func TestMain(m *testing.M) {
	level, err := logger.ParseLevel(os.Getenv("LOG_LEVEL"))
	if err != nil {
		level = logger.ErrorLevel
	}
	logger.SetLevel(level)

	os.Exit(m.Run())
}

func newDevice(t *testing.T, timeScale float64) *sim.Device {
	t.Helper()

	dev, err := sim.NewDevice(
		sim.WithTimeScale(timeScale),
		sim.WithStepInterval(5*time.Millisecond),
		sim.WithLogger(logger.NewMockLogger().AllowAll()),
	)
	require.NoError(t, err)

	return dev
}

// connectSim creates a connected session over dev and records its events.
func connectSim(t *testing.T, dev *sim.Device) (*session.Session, *recorder) {
	t.Helper()

	s, err := session.NewSimulated(context.Background(), dev,
		session.WithPollInterval(20*time.Millisecond),
		session.WithCloseTimeout(time.Second),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	rec := newRecorder()
	s.AddEventHandler(rec.handle)

	require.NoError(t, s.Connect(context.Background()))
	rec.waitKind(t, grbl.EventConnected)

	return s, rec
}

// serveBridge relays the first accepted connection to dev, like a serial-to-network
// bridge in front of a controller.
func serveBridge(t *testing.T, dev *sim.Device) net.Listener {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { _ = ln.Close() })

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()

		if err := dev.Open(context.Background()); err != nil {
			return
		}
		defer dev.Close()

		done := make(chan struct{}, 2)
		go func() { _, _ = io.Copy(dev, conn); done <- struct{}{} }()
		go func() { _, _ = io.Copy(conn, dev); done <- struct{}{} }()
		<-done
	}()

	return ln
}

func slowLines(n int) []string {
	lines := make([]string, n)
	for i := range lines {
		lines[i] = "G1 X" + strconv.Itoa(i+1) + " F60"
	}

	return lines
}

// recorder collects session events.
type recorder struct {
	mu     sync.Mutex
	events []grbl.Event
	ch     chan grbl.Event
}

func newRecorder() *recorder {
	return &recorder{ch: make(chan grbl.Event, 4096)}
}

func (r *recorder) handle(evt grbl.Event) {
	r.mu.Lock()
	r.events = append(r.events, evt)
	r.mu.Unlock()

	select {
	case r.ch <- evt:
	default:
	}
}

func (r *recorder) waitFor(t *testing.T, desc string, match func(grbl.Event) bool) grbl.Event {
	t.Helper()

	timeout := time.After(waitTimeout)
	for {
		select {
		case evt := <-r.ch:
			if match(evt) {
				return evt
			}
		case <-timeout:
			t.Fatalf("timeout waiting for %s", desc)
			return nil
		}
	}
}

func (r *recorder) waitKind(t *testing.T, kind grbl.EventKind) grbl.Event {
	t.Helper()

	return r.waitFor(t, kind.String(), func(evt grbl.Event) bool { return evt.EventKind() == kind })
}

func (r *recorder) waitLog(t *testing.T, msg string) {
	t.Helper()

	r.waitFor(t, "log "+msg, func(evt grbl.Event) bool {
		l, ok := evt.(grbl.LogEvent)
		return ok && l.Message == msg
	})
}

func (r *recorder) count(kind grbl.EventKind) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := 0
	for _, evt := range r.events {
		if evt.EventKind() == kind {
			n++
		}
	}

	return n
}

func (r *recorder) errorMessages() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	var msgs []string
	for _, evt := range r.events {
		if e, ok := evt.(grbl.ErrorEvent); ok {
			msgs = append(msgs, e.Message)
		}
	}

	return msgs
}
