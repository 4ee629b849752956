package session

import (
	"context"
	"errors"
	"net"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/arloliu/go-grbl/grbl"
	"github.com/stretchr/testify/require"
	"go.uber.org/atomic"
)

const idleReport = "<Idle|MPos:0.000,0.000,0.000|FS:0,0>"

// fakeDevice is a scripted controller on the far end of an in-memory pipe.
// Command lines and real-time bytes it receives are recorded on channels; replies are
// written asynchronously so the device never blocks the session.
type fakeDevice struct {
	info    grbl.PortInfo
	openErr error

	// autoAck replies to every command line; errorCodes overrides the reply for a line.
	autoAck    atomic.Bool
	errMu      sync.Mutex
	errorCodes map[string]int

	report        atomic.String
	statusQueries atomic.Int32

	mu   sync.Mutex
	host net.Conn
	dev  net.Conn
	// writeHold, when set, blocks session writes until it is closed; writeStalled
	// is signalled when a write starts waiting on it.
	writeHold    chan struct{}
	writeStalled chan struct{}

	lines    chan string
	realtime chan grbl.RealtimeCommand
	out      chan string
	done     chan struct{}
}

func newFakeDevice() *fakeDevice {
	f := &fakeDevice{
		info:       grbl.PortInfo{Kind: grbl.LinkSerial, Name: "/dev/fake0", BaudRate: 115200},
		errorCodes: map[string]int{},
		lines:      make(chan string, 256),
		realtime:   make(chan grbl.RealtimeCommand, 256),

		writeStalled: make(chan struct{}, 1),
	}
	f.report.Store(idleReport)

	return f
}

func (f *fakeDevice) Info() grbl.PortInfo { return f.info }

func (f *fakeDevice) Open(_ context.Context) error {
	if f.openErr != nil {
		return f.openErr
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	f.host, f.dev = net.Pipe()
	f.out = make(chan string, 256)
	f.done = make(chan struct{})
	go f.serve(f.dev)
	go f.writeLoop(f.dev, f.out, f.done)

	return nil
}

func (f *fakeDevice) conn() net.Conn {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.host
}

func (f *fakeDevice) Read(p []byte) (int, error) {
	conn := f.conn()
	if conn == nil {
		return 0, errors.New("fake: not open")
	}

	return conn.Read(p)
}

func (f *fakeDevice) Write(p []byte) (int, error) {
	f.mu.Lock()
	hold := f.writeHold
	f.mu.Unlock()

	if hold != nil {
		select {
		case f.writeStalled <- struct{}{}:
		default:
		}
		<-hold
	}

	conn := f.conn()
	if conn == nil {
		return 0, errors.New("fake: not open")
	}

	return conn.Write(p)
}

func (f *fakeDevice) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.host == nil {
		return nil
	}
	_ = f.dev.Close()
	err := f.host.Close()
	close(f.done)
	f.host, f.dev = nil, nil

	return err
}

// stallWrites blocks session writes, like a port held back by hardware flow control,
// until the returned function is called.
func (f *fakeDevice) stallWrites() func() {
	hold := make(chan struct{})

	f.mu.Lock()
	f.writeHold = hold
	f.mu.Unlock()

	return func() {
		f.mu.Lock()
		f.writeHold = nil
		f.mu.Unlock()
		close(hold)
	}
}

// unplug closes the device end, as a pulled USB cable would.
func (f *fakeDevice) unplug() {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.dev != nil {
		_ = f.dev.Close()
	}
}

func (f *fakeDevice) serve(conn net.Conn) {
	buf := make([]byte, 256)
	var line []byte

	for {
		n, err := conn.Read(buf)
		for _, b := range buf[:n] {
			switch {
			case b == '?':
				f.statusQueries.Inc()
				f.send(f.report.Load())
			case grbl.IsRealtimeByte(b):
				f.realtime <- grbl.RealtimeCommand(b)
			case b == '\n':
				f.handleLine(string(line))
				line = line[:0]
			default:
				line = append(line, b)
			}
		}
		if err != nil {
			return
		}
	}
}

func (f *fakeDevice) handleLine(line string) {
	f.lines <- line

	if !f.autoAck.Load() {
		return
	}

	f.errMu.Lock()
	code, ok := f.errorCodes[line]
	f.errMu.Unlock()

	if ok {
		f.send("error:" + strconv.Itoa(code))
	} else {
		f.send("ok")
	}
}

func (f *fakeDevice) failLine(line string, code int) {
	f.errMu.Lock()
	f.errorCodes[line] = code
	f.errMu.Unlock()
}

func (f *fakeDevice) writeLoop(conn net.Conn, out <-chan string, done <-chan struct{}) {
	for {
		select {
		case <-done:
			return
		case line := <-out:
			if _, err := conn.Write([]byte(line + "\r\n")); err != nil {
				return
			}
		}
	}
}

// send queues a controller line for the session.
func (f *fakeDevice) send(line string) {
	f.mu.Lock()
	out, done := f.out, f.done
	f.mu.Unlock()

	select {
	case out <- line:
	case <-done:
	}
}

func (f *fakeDevice) expectLine(t *testing.T, want string) {
	t.Helper()

	select {
	case got := <-f.lines:
		require.Equal(t, want, got)
	case <-time.After(2 * time.Second):
		t.Fatalf("timeout waiting for line %q", want)
	}
}

func (f *fakeDevice) expectNoLine(t *testing.T, wait time.Duration) {
	t.Helper()

	select {
	case got := <-f.lines:
		t.Fatalf("unexpected line %q", got)
	case <-time.After(wait):
	}
}

func (f *fakeDevice) expectRealtime(t *testing.T, want grbl.RealtimeCommand) {
	t.Helper()

	select {
	case got := <-f.realtime:
		require.Equal(t, want, got)
	case <-time.After(2 * time.Second):
		t.Fatalf("timeout waiting for real-time command %s", want)
	}
}

// eventRecorder collects session events.
type eventRecorder struct {
	mu     sync.Mutex
	events []grbl.Event
	ch     chan grbl.Event
}

func newEventRecorder() *eventRecorder {
	return &eventRecorder{ch: make(chan grbl.Event, 1024)}
}

func (r *eventRecorder) handle(evt grbl.Event) {
	r.mu.Lock()
	r.events = append(r.events, evt)
	r.mu.Unlock()

	r.ch <- evt
}

// waitFor consumes events until match returns true.
func (r *eventRecorder) waitFor(t *testing.T, desc string, match func(grbl.Event) bool) grbl.Event {
	t.Helper()

	timeout := time.After(2 * time.Second)
	for {
		select {
		case evt := <-r.ch:
			if match(evt) {
				return evt
			}
		case <-timeout:
			t.Fatalf("timeout waiting for %s; events: %v", desc, r.snapshot())
			return nil
		}
	}
}

func (r *eventRecorder) waitLog(t *testing.T, kind grbl.LogKind, msg string) {
	t.Helper()

	r.waitFor(t, string(kind)+" log "+msg, func(evt grbl.Event) bool {
		l, ok := evt.(grbl.LogEvent)
		return ok && l.Kind == kind && l.Message == msg
	})
}

func (r *eventRecorder) waitKind(t *testing.T, kind grbl.EventKind) grbl.Event {
	t.Helper()

	return r.waitFor(t, kind.String()+" event", func(evt grbl.Event) bool {
		return evt.EventKind() == kind
	})
}

func (r *eventRecorder) snapshot() []grbl.Event {
	r.mu.Lock()
	defer r.mu.Unlock()

	return append([]grbl.Event(nil), r.events...)
}

func (r *eventRecorder) count(kind grbl.EventKind) int {
	n := 0
	for _, evt := range r.snapshot() {
		if evt.EventKind() == kind {
			n++
		}
	}

	return n
}

func (r *eventRecorder) logs(kind grbl.LogKind) []string {
	var msgs []string
	for _, evt := range r.snapshot() {
		if l, ok := evt.(grbl.LogEvent); ok && l.Kind == kind {
			msgs = append(msgs, l.Message)
		}
	}

	return msgs
}

func (r *eventRecorder) progress() []grbl.ProgressEvent {
	var out []grbl.ProgressEvent
	for _, evt := range r.snapshot() {
		if p, ok := evt.(grbl.ProgressEvent); ok {
			out = append(out, p)
		}
	}

	return out
}
