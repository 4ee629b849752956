package main

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"

	"github.com/arloliu/go-grbl/link"
	"github.com/arloliu/go-grbl/logger"
)

const envPrefix = "GRBL_"

const (
	linkSerial = "serial"
	linkTCP    = "tcp"
	linkSim    = "sim"
)

// appConfig is the resolved grblctl configuration. Values are layered in this order,
// later layers winning: defaults, YAML file, environment, command line flags.
type appConfig struct {
	Link         string        `yaml:"link"`
	Port         string        `yaml:"port"`
	Baud         int           `yaml:"baud"`
	Addr         string        `yaml:"addr"`
	PollInterval time.Duration `yaml:"poll_interval"`
	AckTimeout   time.Duration `yaml:"ack_timeout"`
	LogLevel     string        `yaml:"log_level"`
	LogBackend   string        `yaml:"log_backend"`
	Sim          simConfig     `yaml:"sim"`
}

type simConfig struct {
	TimeScale float64 `yaml:"time_scale"`
}

func defaultConfig() appConfig {
	return appConfig{
		Link:       linkSerial,
		Baud:       link.DefaultBaudRate,
		LogLevel:   "info",
		LogBackend: "slog",
		Sim:        simConfig{TimeScale: 1},
	}
}

// loadConfigFile overlays the YAML file at path onto cfg. Unknown keys are rejected.
func loadConfigFile(cfg *appConfig, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config: %w", err)
	}

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("parse config %s: %w", path, err)
	}

	return nil
}

// loadEnvFile loads a dotenv file into the process environment. Variables already set
// are not overridden. A missing default file is not an error.
func loadEnvFile(path string, explicit bool) error {
	if path == "" {
		return nil
	}

	if _, err := os.Stat(path); err != nil {
		if !explicit && errors.Is(err, os.ErrNotExist) {
			return nil
		}

		return fmt.Errorf("env file: %w", err)
	}

	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("load env file %s: %w", path, err)
	}

	return nil
}

// applyEnv overlays GRBL_* environment variables onto cfg.
func applyEnv(cfg *appConfig, lookup func(string) (string, bool)) error {
	get := func(name string) (string, bool) {
		v, ok := lookup(envPrefix + name)
		v = strings.TrimSpace(v)

		return v, ok && v != ""
	}

	if v, ok := get("LINK"); ok {
		cfg.Link = v
	}
	if v, ok := get("PORT"); ok {
		cfg.Port = v
	}
	if v, ok := get("ADDR"); ok {
		cfg.Addr = v
	}
	if v, ok := get("LOG_LEVEL"); ok {
		cfg.LogLevel = v
	}
	if v, ok := get("LOG_BACKEND"); ok {
		cfg.LogBackend = v
	}

	if v, ok := get("BAUD"); ok {
		baud, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%sBAUD: %w", envPrefix, err)
		}
		cfg.Baud = baud
	}
	if v, ok := get("POLL_INTERVAL"); ok {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("%sPOLL_INTERVAL: %w", envPrefix, err)
		}
		cfg.PollInterval = d
	}
	if v, ok := get("ACK_TIMEOUT"); ok {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("%sACK_TIMEOUT: %w", envPrefix, err)
		}
		cfg.AckTimeout = d
	}
	if v, ok := get("SIM_TIME_SCALE"); ok {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("%sSIM_TIME_SCALE: %w", envPrefix, err)
		}
		cfg.Sim.TimeScale = f
	}

	return nil
}

// applyFlags overlays the flags set on the command line onto cfg.
func applyFlags(cfg *appConfig, fs *pflag.FlagSet, f *globalFlags) {
	if fs.Changed("link") {
		cfg.Link = f.link
	}
	if fs.Changed("port") {
		cfg.Port = f.port
	}
	if fs.Changed("baud") {
		cfg.Baud = f.baud
	}
	if fs.Changed("addr") {
		cfg.Addr = f.addr
	}
	if fs.Changed("poll-interval") {
		cfg.PollInterval = f.pollInterval
	}
	if fs.Changed("ack-timeout") {
		cfg.AckTimeout = f.ackTimeout
	}
	if fs.Changed("log-level") {
		cfg.LogLevel = f.logLevel
	}
	if fs.Changed("log-backend") {
		cfg.LogBackend = f.logBackend
	}
	if fs.Changed("time-scale") {
		cfg.Sim.TimeScale = f.timeScale
	}
}

func (cfg *appConfig) validate() error {
	switch cfg.Link {
	case linkSerial:
		if cfg.Port == "" {
			return errors.New("serial link requires --port")
		}
	case linkTCP:
		if cfg.Addr == "" {
			return errors.New("tcp link requires --addr")
		}
	case linkSim:
	default:
		return fmt.Errorf("unknown link %q, want serial, tcp or sim", cfg.Link)
	}

	if _, err := logger.ParseLevel(cfg.LogLevel); err != nil {
		return err
	}

	switch cfg.LogBackend {
	case "slog", "logrus", "zap":
	default:
		return fmt.Errorf("unknown log backend %q, want slog, logrus or zap", cfg.LogBackend)
	}

	return nil
}

// newLogger creates the logger selected by the configuration.
func (cfg *appConfig) newLogger(w io.Writer) (logger.Logger, error) {
	level, err := logger.ParseLevel(cfg.LogLevel)
	if err != nil {
		return nil, err
	}

	switch cfg.LogBackend {
	case "logrus":
		return logger.NewLogrus(w, level), nil
	case "zap":
		return logger.NewZap(w, level), nil
	default:
		return logger.NewSlogWriter(w, level, false), nil
	}
}
