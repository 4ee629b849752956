package session

import (
	"fmt"
	"time"

	"github.com/arloliu/go-grbl/grbl"
	"github.com/arloliu/go-grbl/logger"
)

const (
	// DefaultPollInterval is the status poll interval for a physical link.
	DefaultPollInterval = 100 * time.Millisecond
	// DefaultSimPollInterval is the status poll interval for the simulated controller.
	DefaultSimPollInterval = 250 * time.Millisecond

	DefaultCloseTimeout   = 3 * time.Second
	DefaultReadBufferSize = 256
)

const (
	MinPollInterval = 10 * time.Millisecond
	MaxPollInterval = 10 * time.Second

	MinReadBufferSize = 16
	MaxReadBufferSize = 64 * 1024
)

// SessionConfig holds the configuration of a Session.
type SessionConfig struct {
	pollInterval time.Duration
	closeTimeout time.Duration
	// ackTimeout of zero waits for acknowledgments without limit.
	ackTimeout     time.Duration
	readBufferSize int
	maxLineSize    int
	logger         logger.Logger
}

// NewSessionConfig creates a session configuration. opts are applied in order.
func NewSessionConfig(opts ...Option) (*SessionConfig, error) {
	cfg := &SessionConfig{
		pollInterval:   DefaultPollInterval,
		closeTimeout:   DefaultCloseTimeout,
		readBufferSize: DefaultReadBufferSize,
		maxLineSize:    grbl.DefaultMaxLineSize,
		logger:         logger.GetLogger(),
	}

	for _, opt := range opts {
		if err := opt.apply(cfg); err != nil {
			return nil, err
		}
	}

	return cfg, nil
}

// PollInterval returns the status poll interval.
func (cfg *SessionConfig) PollInterval() time.Duration { return cfg.pollInterval }

// CloseTimeout returns how long Disconnect waits for the session goroutines to stop.
func (cfg *SessionConfig) CloseTimeout() time.Duration { return cfg.closeTimeout }

// AckTimeout returns the acknowledgment timeout, zero when disabled.
func (cfg *SessionConfig) AckTimeout() time.Duration { return cfg.ackTimeout }

// ReadBufferSize returns the size of the link read buffer.
func (cfg *SessionConfig) ReadBufferSize() int { return cfg.readBufferSize }

// MaxLineSize returns the longest controller line the session accepts.
func (cfg *SessionConfig) MaxLineSize() int { return cfg.maxLineSize }

// GetLogger returns the configured logger.
func (cfg *SessionConfig) GetLogger() logger.Logger { return cfg.logger }

// Option is a functional option for configuring a SessionConfig.
type Option interface {
	apply(*SessionConfig) error
}

type optFunc func(*SessionConfig) error

func (f optFunc) apply(cfg *SessionConfig) error { return f(cfg) }

// WithPollInterval sets the status poll interval.
func WithPollInterval(d time.Duration) Option {
	return optFunc(func(cfg *SessionConfig) error {
		if d < MinPollInterval || d > MaxPollInterval {
			return fmt.Errorf("session: poll interval %v out of range [%v, %v]", d, MinPollInterval, MaxPollInterval)
		}
		cfg.pollInterval = d

		return nil
	})
}

// WithCloseTimeout sets how long Disconnect waits for the session goroutines to stop.
func WithCloseTimeout(d time.Duration) Option {
	return optFunc(func(cfg *SessionConfig) error {
		if d <= 0 {
			return fmt.Errorf("session: close timeout must be positive, got %v", d)
		}
		cfg.closeTimeout = d

		return nil
	})
}

// WithAckTimeout bounds the wait for a command acknowledgment. Zero disables the timeout.
//
// Homing and long moves can take a long time to be acknowledged, so the timeout should
// be generous when enabled.
func WithAckTimeout(d time.Duration) Option {
	return optFunc(func(cfg *SessionConfig) error {
		if d < 0 {
			return fmt.Errorf("session: ack timeout must not be negative, got %v", d)
		}
		cfg.ackTimeout = d

		return nil
	})
}

// WithReadBufferSize sets the size of the link read buffer.
func WithReadBufferSize(size int) Option {
	return optFunc(func(cfg *SessionConfig) error {
		if size < MinReadBufferSize || size > MaxReadBufferSize {
			return fmt.Errorf("session: read buffer size %d out of range [%d, %d]", size, MinReadBufferSize, MaxReadBufferSize)
		}
		cfg.readBufferSize = size

		return nil
	})
}

// WithMaxLineSize sets the longest controller line the session accepts; longer lines are dropped.
func WithMaxLineSize(size int) Option {
	return optFunc(func(cfg *SessionConfig) error {
		if size <= 0 {
			return fmt.Errorf("session: max line size must be positive, got %d", size)
		}
		cfg.maxLineSize = size

		return nil
	})
}

// WithLogger sets the logger. A nil logger is rejected.
func WithLogger(l logger.Logger) Option {
	return optFunc(func(cfg *SessionConfig) error {
		if l == nil {
			return fmt.Errorf("session: logger is nil")
		}
		cfg.logger = l

		return nil
	})
}
