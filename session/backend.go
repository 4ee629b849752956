package session

import (
	"context"

	"github.com/arloliu/go-grbl/link"
	"github.com/arloliu/go-grbl/sim"
)

// NewSerial creates a session over a serial port.
func NewSerial(ctx context.Context, cfg *link.SerialConfig, opts ...Option) (*Session, error) {
	return New(ctx, link.NewSerial(cfg), opts...)
}

// NewTCP creates a session over a TCP connection to a serial-to-network bridge.
func NewTCP(ctx context.Context, cfg *link.TCPConfig, opts ...Option) (*Session, error) {
	return New(ctx, link.NewTCP(cfg), opts...)
}

// NewSimulated creates a session over a simulated controller. A nil dev creates a
// device with the default simulator configuration.
//
// The status poll interval defaults to DefaultSimPollInterval; opts may override it.
func NewSimulated(ctx context.Context, dev *sim.Device, opts ...Option) (*Session, error) {
	if dev == nil {
		var err error
		dev, err = sim.NewDevice()
		if err != nil {
			return nil, err
		}
	}

	opts = append([]Option{WithPollInterval(DefaultSimPollInterval)}, opts...)

	return New(ctx, dev, opts...)
}
