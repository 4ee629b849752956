package sim

import (
	"fmt"
	"time"

	"github.com/arloliu/go-grbl/logger"
)

const (
	// DefaultName is the port name reported by a simulated device.
	DefaultName = "grbl-sim"

	DefaultStepInterval = 10 * time.Millisecond
	MinStepInterval     = time.Millisecond
	MaxStepInterval     = time.Second

	// DefaultPlannerSize and DefaultRxBufferSize are the buffer sizes of an Arduino Uno build.
	DefaultPlannerSize  = 15
	DefaultRxBufferSize = 128

	DefaultTimeScale = 1.0
	MaxTimeScale     = 1000.0
)

// Config holds the configuration of a simulated device.
type Config struct {
	name         string
	stepInterval time.Duration
	plannerSize  int
	rxBufferSize int
	timeScale    float64
	logger       logger.Logger
}

// NewConfig creates a simulator configuration. opts are applied in order.
func NewConfig(opts ...Option) (*Config, error) {
	cfg := &Config{
		name:         DefaultName,
		stepInterval: DefaultStepInterval,
		plannerSize:  DefaultPlannerSize,
		rxBufferSize: DefaultRxBufferSize,
		timeScale:    DefaultTimeScale,
		logger:       logger.GetLogger(),
	}

	for _, opt := range opts {
		if err := opt.apply(cfg); err != nil {
			return nil, err
		}
	}

	return cfg, nil
}

// Name returns the port name of the simulated device.
func (cfg *Config) Name() string { return cfg.name }

// StepInterval returns the motion update interval.
func (cfg *Config) StepInterval() time.Duration { return cfg.stepInterval }

// PlannerSize returns the number of planner blocks.
func (cfg *Config) PlannerSize() int { return cfg.plannerSize }

// RxBufferSize returns the size of the serial receive buffer reported in status reports.
func (cfg *Config) RxBufferSize() int { return cfg.rxBufferSize }

// TimeScale returns the motion speed-up factor.
func (cfg *Config) TimeScale() float64 { return cfg.timeScale }

// Option is a functional option for configuring a simulated device.
type Option interface {
	apply(*Config) error
}

type optFunc func(*Config) error

func (f optFunc) apply(cfg *Config) error { return f(cfg) }

// WithName sets the port name reported by the device.
func WithName(name string) Option {
	return optFunc(func(cfg *Config) error {
		if name == "" {
			return fmt.Errorf("sim: name cannot be empty")
		}
		cfg.name = name

		return nil
	})
}

// WithStepInterval sets how often the simulated axes move.
func WithStepInterval(d time.Duration) Option {
	return optFunc(func(cfg *Config) error {
		if d < MinStepInterval || d > MaxStepInterval {
			return fmt.Errorf("sim: step interval %v out of range [%v, %v]", d, MinStepInterval, MaxStepInterval)
		}
		cfg.stepInterval = d

		return nil
	})
}

// WithPlannerSize sets the number of planner blocks.
func WithPlannerSize(n int) Option {
	return optFunc(func(cfg *Config) error {
		if n < 1 || n > 64 {
			return fmt.Errorf("sim: planner size %d out of range [1, 64]", n)
		}
		cfg.plannerSize = n

		return nil
	})
}

// WithTimeScale speeds up motion by factor; 1 moves at the programmed feed rate.
func WithTimeScale(factor float64) Option {
	return optFunc(func(cfg *Config) error {
		if factor <= 0 || factor > MaxTimeScale {
			return fmt.Errorf("sim: time scale %v out of range (0, %v]", factor, MaxTimeScale)
		}
		cfg.timeScale = factor

		return nil
	})
}

// WithLogger sets the logger.
func WithLogger(l logger.Logger) Option {
	return optFunc(func(cfg *Config) error {
		if l == nil {
			return fmt.Errorf("sim: logger is nil")
		}
		cfg.logger = l

		return nil
	})
}
