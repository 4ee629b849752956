package link

import (
	"fmt"
	"slices"
	"time"

	"github.com/arloliu/go-grbl/logger"
	"go.bug.st/serial"
)

// DefaultBaudRate is the baud rate of GRBL 1.1 firmware.
const DefaultBaudRate = 115200

const (
	DefaultDataBits = 8
	// DefaultResetWait is how long Open waits for the controller to reboot after the
	// port is opened. Boards with an auto-reset circuit reboot when DTR is asserted.
	DefaultResetWait = 0
	MaxResetWait     = 10 * time.Second
)

// ValidBaudRates lists the baud rates accepted by WithBaudRate.
var ValidBaudRates = []int{1200, 2400, 4800, 9600, 19200, 38400, 57600, 115200, 230400, 460800, 921600}

// SerialConfig holds the configuration of a serial link.
type SerialConfig struct {
	portName  string
	baudRate  int
	dataBits  int
	parity    serial.Parity
	stopBits  serial.StopBits
	resetWait time.Duration
	logger    logger.Logger
}

// NewSerialConfig creates a serial link configuration for the device at portName,
// e.g. /dev/ttyUSB0 or COM3.
func NewSerialConfig(portName string, opts ...SerialOption) (*SerialConfig, error) {
	if portName == "" {
		return nil, fmt.Errorf("link: port name cannot be empty")
	}

	cfg := &SerialConfig{
		portName:  portName,
		baudRate:  DefaultBaudRate,
		dataBits:  DefaultDataBits,
		parity:    serial.NoParity,
		stopBits:  serial.OneStopBit,
		resetWait: DefaultResetWait,
		logger:    logger.GetLogger(),
	}

	for _, opt := range opts {
		if err := opt.apply(cfg); err != nil {
			return nil, err
		}
	}

	return cfg, nil
}

// PortName returns the serial device path.
func (cfg *SerialConfig) PortName() string { return cfg.portName }

// BaudRate returns the configured baud rate.
func (cfg *SerialConfig) BaudRate() int { return cfg.baudRate }

// DataBits returns the configured number of data bits.
func (cfg *SerialConfig) DataBits() int { return cfg.dataBits }

// Parity returns the configured parity.
func (cfg *SerialConfig) Parity() serial.Parity { return cfg.parity }

// StopBits returns the configured stop bits.
func (cfg *SerialConfig) StopBits() serial.StopBits { return cfg.stopBits }

// ResetWait returns how long Open waits after opening the port.
func (cfg *SerialConfig) ResetWait() time.Duration { return cfg.resetWait }

func (cfg *SerialConfig) mode() *serial.Mode {
	return &serial.Mode{
		BaudRate: cfg.baudRate,
		DataBits: cfg.dataBits,
		Parity:   cfg.parity,
		StopBits: cfg.stopBits,
	}
}

// SerialOption is a functional option for configuring a SerialConfig.
type SerialOption interface {
	apply(*SerialConfig) error
}

type serialOptFunc func(*SerialConfig) error

func (f serialOptFunc) apply(cfg *SerialConfig) error { return f(cfg) }

// WithBaudRate sets the baud rate; it must be one of ValidBaudRates.
func WithBaudRate(rate int) SerialOption {
	return serialOptFunc(func(cfg *SerialConfig) error {
		if !slices.Contains(ValidBaudRates, rate) {
			return fmt.Errorf("link: invalid baud rate %d, must be one of: %v", rate, ValidBaudRates)
		}
		cfg.baudRate = rate

		return nil
	})
}

// WithDataBits sets the number of data bits, 5 to 8.
func WithDataBits(bits int) SerialOption {
	return serialOptFunc(func(cfg *SerialConfig) error {
		if bits < 5 || bits > 8 {
			return fmt.Errorf("link: data bits must be 5-8, got: %d", bits)
		}
		cfg.dataBits = bits

		return nil
	})
}

// WithParity sets the parity.
func WithParity(parity serial.Parity) SerialOption {
	return serialOptFunc(func(cfg *SerialConfig) error {
		if parity < serial.NoParity || parity > serial.SpaceParity {
			return fmt.Errorf("link: invalid parity value: %d", parity)
		}
		cfg.parity = parity

		return nil
	})
}

// WithStopBits sets the stop bits.
func WithStopBits(stopBits serial.StopBits) SerialOption {
	return serialOptFunc(func(cfg *SerialConfig) error {
		if stopBits < serial.OneStopBit || stopBits > serial.TwoStopBits {
			return fmt.Errorf("link: invalid stop bits value: %d", stopBits)
		}
		cfg.stopBits = stopBits

		return nil
	})
}

// WithResetWait sets how long Open waits for the controller to reboot after opening the port.
func WithResetWait(d time.Duration) SerialOption {
	return serialOptFunc(func(cfg *SerialConfig) error {
		if d < 0 || d > MaxResetWait {
			return fmt.Errorf("link: reset wait %v out of range [0, %v]", d, MaxResetWait)
		}
		cfg.resetWait = d

		return nil
	})
}

// WithSerialLogger sets the logger.
func WithSerialLogger(l logger.Logger) SerialOption {
	return serialOptFunc(func(cfg *SerialConfig) error {
		if l == nil {
			return fmt.Errorf("link: logger is nil")
		}
		cfg.logger = l

		return nil
	})
}
