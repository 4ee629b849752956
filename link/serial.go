package link

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/arloliu/go-grbl/grbl"
	"github.com/arloliu/go-grbl/internal/pool"
	"github.com/arloliu/go-grbl/logger"
	"go.bug.st/serial"
	"go.uber.org/atomic"
)

// ErrClosed is returned by Read and Write on a link that is not open.
var ErrClosed = errors.New("link: closed")

// SerialPort is the subset of go.bug.st/serial.Port used by the serial link.
type SerialPort interface {
	Read(p []byte) (int, error)
	Write(p []byte) (int, error)
	ResetInputBuffer() error
	Close() error
}

// PortOpener opens a serial device.
type PortOpener func(name string, mode *serial.Mode) (SerialPort, error)

// OpenSerialPort opens a serial device with go.bug.st/serial.
func OpenSerialPort(name string, mode *serial.Mode) (SerialPort, error) {
	p, err := serial.Open(name, mode)
	if err != nil {
		return nil, err
	}

	return p, nil
}

// Serial is a grbl.Link over a serial port.
type Serial struct {
	cfg    *SerialConfig
	opener PortOpener
	logger logger.Logger

	mu     sync.RWMutex
	port   SerialPort
	opened atomic.Bool
}

var _ grbl.Link = (*Serial)(nil)

// NewSerial creates a serial link. The port is opened by Open.
func NewSerial(cfg *SerialConfig) *Serial {
	return NewSerialWithOpener(cfg, OpenSerialPort)
}

// NewSerialWithOpener creates a serial link that opens its port with opener.
func NewSerialWithOpener(cfg *SerialConfig, opener PortOpener) *Serial {
	return &Serial{
		cfg:    cfg,
		opener: opener,
		logger: cfg.logger.With("port", cfg.portName),
	}
}

// Info describes the serial endpoint.
func (s *Serial) Info() grbl.PortInfo {
	return grbl.PortInfo{Kind: grbl.LinkSerial, Name: s.cfg.portName, BaudRate: s.cfg.baudRate}
}

// Open opens the serial device, discards stale input and waits for the configured reset time.
func (s *Serial) Open(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.opened.Load() {
		return fmt.Errorf("link: %s already open", s.cfg.portName)
	}

	port, err := s.opener(s.cfg.portName, s.cfg.mode())
	if err != nil {
		return describePortError(s.cfg.portName, err)
	}

	if s.cfg.resetWait > 0 {
		if err := pool.Sleep(ctx, s.cfg.resetWait); err != nil {
			_ = port.Close()
			return err
		}
	}

	if err := port.ResetInputBuffer(); err != nil {
		s.logger.Debug("link: reset input buffer failed", "error", err)
	}

	s.port = port
	s.opened.Store(true)
	s.logger.Debug("link: serial port opened", "baud", s.cfg.baudRate)

	return nil
}

func (s *Serial) getPort() SerialPort {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.port
}

func (s *Serial) Read(p []byte) (int, error) {
	port := s.getPort()
	if port == nil || !s.opened.Load() {
		return 0, ErrClosed
	}

	n, err := port.Read(p)
	if err != nil && !s.opened.Load() {
		return n, ErrClosed
	}

	return n, err
}

func (s *Serial) Write(p []byte) (int, error) {
	port := s.getPort()
	if port == nil || !s.opened.Load() {
		return 0, ErrClosed
	}

	return port.Write(p)
}

// Close closes the port and unblocks a pending Read. Closing a closed link is a no-op.
func (s *Serial) Close() error {
	if !s.opened.CompareAndSwap(true, false) {
		return nil
	}

	s.mu.Lock()
	port := s.port
	s.port = nil
	s.mu.Unlock()

	s.logger.Debug("link: closing serial port")

	return port.Close()
}

// describePortError adds a human readable reason to go.bug.st/serial open errors.
func describePortError(name string, err error) error {
	var portErr *serial.PortError
	if !errors.As(err, &portErr) {
		return fmt.Errorf("link: open %s: %w", name, err)
	}

	switch portErr.Code() {
	case serial.PortBusy:
		return fmt.Errorf("link: %s is busy: %w", name, err)
	case serial.PortNotFound:
		return fmt.Errorf("link: %s not found: %w", name, err)
	case serial.PermissionDenied:
		return fmt.Errorf("link: permission denied on %s: %w", name, err)
	default:
		return fmt.Errorf("link: open %s: %w", name, err)
	}
}
