package sim

import (
	"context"
	"fmt"
	"io"
	"net"
	"sync"

	"github.com/arloliu/go-grbl/grbl"
	"github.com/arloliu/go-grbl/internal/queue"
	"github.com/arloliu/go-grbl/logger"
	"go.uber.org/atomic"
)

const (
	// Banner is printed by the device after power-on and every soft reset.
	Banner = "Grbl 1.1h ['$' for help]"

	// maxLineLength is the longest command line the device accepts.
	maxLineLength = 80
)

// Device is a simulated GRBL controller. It implements grbl.Link: the session side of
// the link is one end of an in-memory pipe, the device serves the other end.
type Device struct {
	cfg      *Config
	logger   logger.Logger
	settings *settings
	taskMgr  *grbl.TaskManager

	connMu sync.RWMutex
	host   net.Conn
	dev    net.Conn
	opened atomic.Bool

	outMu     sync.Mutex
	out       queue.Queue[string]
	outNotify chan struct{}

	// machine position and spindle, readable without holding mu
	posX, posY, posZ atomic.Float64
	spindleDir       atomic.String
	spindleSpeed     atomic.Float64
	linesReceived    atomic.Int64

	mu          sync.Mutex
	status      grbl.Status
	alarmCode   int
	hold        bool
	checkMode   bool
	gc          gcodeState
	input       []byte
	overflow    bool
	rx          queue.Queue[string]
	rxBytes     int
	planner     queue.Queue[block]
	current     *block
	elapsed     float64
	ovFeed      int
	ovRapid     int
	ovSpindle   int
	injectedErr int
	reportCount int
	offsetDirty bool
}

var _ grbl.Link = (*Device)(nil)

// NewDevice creates a simulated controller. The device is powered on by Open.
func NewDevice(opts ...Option) (*Device, error) {
	cfg, err := NewConfig(opts...)
	if err != nil {
		return nil, err
	}

	l := cfg.logger.With("device", cfg.name)
	d := &Device{
		cfg:       cfg,
		logger:    l,
		settings:  newSettings(),
		taskMgr:   grbl.NewTaskManager(context.Background(), l),
		out:       queue.NewSliceQueue[string](16),
		outNotify: make(chan struct{}, 1),
		rx:        queue.NewSliceQueue[string](8),
		planner:   queue.NewSliceQueue[block](cfg.plannerSize),
	}
	d.spindleDir.Store(string(grbl.SpindleOff))
	d.status = grbl.StatusIdle

	return d, nil
}

// Config returns the device configuration.
func (d *Device) Config() *Config {
	return d.cfg
}

// Info describes the simulated endpoint.
func (d *Device) Info() grbl.PortInfo {
	return grbl.PortInfo{Kind: grbl.LinkSimulated, Name: d.cfg.name}
}

// Open powers on the device: it resets the machine state, keeps the settings and
// prints the startup banner.
func (d *Device) Open(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	d.connMu.Lock()
	defer d.connMu.Unlock()

	if d.opened.Load() {
		return fmt.Errorf("sim: %s already open", d.cfg.name)
	}

	d.host, d.dev = net.Pipe()

	d.outMu.Lock()
	d.out.Reset()
	d.outMu.Unlock()

	d.mu.Lock()
	d.powerOn()
	d.mu.Unlock()

	d.opened.Store(true)

	if err := d.startTasks(); err != nil {
		d.opened.Store(false)
		_ = d.dev.Close()
		_ = d.host.Close()
		d.taskMgr.Stop()
		d.taskMgr.Wait()

		return fmt.Errorf("sim: start device tasks: %w", err)
	}

	d.logger.Debug("sim: device powered on")

	return nil
}

func (d *Device) startTasks() error {
	if err := d.taskMgr.StartReader("simReader", 256, d.readInput, nil); err != nil {
		return err
	}

	if err := d.taskMgr.Start("simWriter", d.flushOutput); err != nil {
		return err
	}

	_, err := d.taskMgr.StartInterval("simMotion", d.tick, d.cfg.stepInterval, false)

	return err
}

func (d *Device) hostConn() net.Conn {
	d.connMu.RLock()
	defer d.connMu.RUnlock()

	return d.host
}

func (d *Device) devConn() net.Conn {
	d.connMu.RLock()
	defer d.connMu.RUnlock()

	return d.dev
}

// Read reads controller output.
func (d *Device) Read(p []byte) (int, error) {
	conn := d.hostConn()
	if conn == nil {
		return 0, io.ErrClosedPipe
	}

	return conn.Read(p)
}

// Write sends command lines and real-time bytes to the controller.
func (d *Device) Write(p []byte) (int, error) {
	conn := d.hostConn()
	if conn == nil {
		return 0, io.ErrClosedPipe
	}

	return conn.Write(p)
}

// Close powers the device off. Closing a closed device is a no-op.
func (d *Device) Close() error {
	if !d.opened.CompareAndSwap(true, false) {
		return nil
	}

	d.connMu.Lock()
	host, dev := d.host, d.dev
	d.host, d.dev = nil, nil
	d.connMu.Unlock()

	_ = dev.Close()
	err := host.Close()

	d.taskMgr.Stop()
	d.taskMgr.Wait()

	d.logger.Debug("sim: device powered off")

	return err
}

// Unplug simulates a lost connection: the session side of the link sees end of file
// on its next read. The device stays open until Close.
func (d *Device) Unplug() {
	if conn := d.devConn(); conn != nil {
		d.logger.Debug("sim: device unplugged")
		_ = conn.Close()
	}
}

// InjectError makes the device reply "error:<code>" to the next command line
// instead of executing it.
func (d *Device) InjectError(code int) {
	d.mu.Lock()
	d.injectedErr = code
	d.mu.Unlock()
}

// TriggerAlarm stops all motion and enters the Alarm state with code, as a limit
// switch or probe failure would.
func (d *Device) TriggerAlarm(code int) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.abortMotion()
	d.enterAlarm(code)
}

// Status returns the current controller state.
func (d *Device) Status() grbl.Status {
	d.mu.Lock()
	defer d.mu.Unlock()

	return d.status
}

// MachinePosition returns the current machine position.
func (d *Device) MachinePosition() grbl.Position {
	return grbl.Position{X: d.posX.Load(), Y: d.posY.Load(), Z: d.posZ.Load()}
}

// Spindle returns the current spindle state.
func (d *Device) Spindle() grbl.Spindle {
	return grbl.Spindle{
		Direction: grbl.SpindleDirection(d.spindleDir.Load()),
		SpeedRPM:  d.spindleSpeed.Load(),
	}
}

// Setting returns the value of setting n, e.g. Setting(110) for the X max rate.
func (d *Device) Setting(n int) (string, bool) {
	return d.settings.get(n)
}

// LinesReceived returns the number of command lines the device has received since it was created.
func (d *Device) LinesReceived() int64 {
	return d.linesReceived.Load()
}

// readInput is one iteration of the reader task.
func (d *Device) readInput(buf []byte) bool {
	conn := d.devConn()
	if conn == nil {
		return false
	}

	n, err := conn.Read(buf)
	if n > 0 {
		d.receive(buf[:n])
	}

	return err == nil
}

// flushOutput is one iteration of the writer task. Output is queued so the device
// never blocks on a host that is not reading.
func (d *Device) flushOutput() bool {
	select {
	case <-d.taskMgr.Context().Done():
		return false
	case <-d.outNotify:
	}

	conn := d.devConn()
	if conn == nil {
		return false
	}

	for {
		d.outMu.Lock()
		line, ok := d.out.Dequeue()
		d.outMu.Unlock()

		if !ok {
			return true
		}

		if _, err := conn.Write([]byte(line + "\r\n")); err != nil {
			d.logger.Debug("sim: write failed", "error", err)
			return false
		}
	}
}

// emit queues output lines for the host.
func (d *Device) emit(lines ...string) {
	d.outMu.Lock()
	for _, line := range lines {
		d.out.Enqueue(line)
	}
	d.outMu.Unlock()

	select {
	case d.outNotify <- struct{}{}:
	default:
	}
}

// receive handles a chunk of host input: real-time bytes take effect immediately,
// other bytes are assembled into command lines.
func (d *Device) receive(chunk []byte) {
	d.mu.Lock()
	defer d.mu.Unlock()

	for _, b := range chunk {
		if grbl.IsRealtimeByte(b) {
			d.realtime(grbl.RealtimeCommand(b))
			continue
		}

		switch b {
		case '\n', '\r':
			if d.overflow {
				d.overflow = false
				d.input = d.input[:0]
				d.emit(fmt.Sprintf("error:%d", codeOverflow))

				continue
			}
			line := string(d.input)
			d.input = d.input[:0]
			d.rx.Enqueue(line)
			d.rxBytes += len(line) + 1
			d.linesReceived.Inc()
		default:
			if len(d.input) >= maxLineLength {
				d.overflow = true
				continue
			}
			d.input = append(d.input, b)
		}
	}

	d.processRx()
}

// tick is one iteration of the motion task.
func (d *Device) tick() bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.step(d.cfg.stepInterval.Seconds() * d.cfg.timeScale)

	return true
}
