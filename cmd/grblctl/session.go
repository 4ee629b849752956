package main

import (
	"context"
	"fmt"

	"github.com/arloliu/go-grbl/link"
	"github.com/arloliu/go-grbl/logger"
	"github.com/arloliu/go-grbl/session"
	"github.com/arloliu/go-grbl/sim"
)

// newSession creates an unconnected session for the configured link.
func newSession(ctx context.Context, c appConfig, l logger.Logger) (*session.Session, error) {
	if err := c.validate(); err != nil {
		return nil, err
	}

	opts := []session.Option{session.WithLogger(l)}
	if c.PollInterval > 0 {
		opts = append(opts, session.WithPollInterval(c.PollInterval))
	}
	if c.AckTimeout > 0 {
		opts = append(opts, session.WithAckTimeout(c.AckTimeout))
	}

	switch c.Link {
	case linkTCP:
		tcpCfg, err := link.ParseTCPAddress(c.Addr, link.WithTCPLogger(l))
		if err != nil {
			return nil, err
		}

		return session.NewTCP(ctx, tcpCfg, opts...)

	case linkSim:
		dev, err := sim.NewDevice(sim.WithTimeScale(c.Sim.TimeScale), sim.WithLogger(l))
		if err != nil {
			return nil, fmt.Errorf("simulator: %w", err)
		}

		return session.NewSimulated(ctx, dev, opts...)

	default:
		serialCfg, err := link.NewSerialConfig(c.Port, link.WithBaudRate(c.Baud), link.WithSerialLogger(l))
		if err != nil {
			return nil, err
		}

		return session.NewSerial(ctx, serialCfg, opts...)
	}
}

// connectSession creates a session, attaches the event printer and connects.
func connectSession(ctx context.Context, p *eventPrinter) (*session.Session, error) {
	s, err := newSession(ctx, cfg, appLog)
	if err != nil {
		return nil, err
	}
	s.AddEventHandler(p.handle)

	if err := s.Connect(ctx); err != nil {
		_ = s.Close()
		return nil, err
	}

	return s, nil
}
