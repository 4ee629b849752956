// Command grblctl drives a GRBL controller over a serial port, a TCP bridge or the
// built-in simulator.
package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/arloliu/go-grbl/link"
	"github.com/arloliu/go-grbl/logger"
)

type globalFlags struct {
	configPath   string
	envFile      string
	link         string
	port         string
	baud         int
	addr         string
	pollInterval time.Duration
	ackTimeout   time.Duration
	logLevel     string
	logBackend   string
	timeScale    float64
}

var (
	flags globalFlags
	// cfg is resolved by the root command before any subcommand runs.
	cfg    appConfig
	appLog logger.Logger
)

var rootCmd = &cobra.Command{
	Use:   "grblctl",
	Short: "Control a GRBL CNC controller",
	Long: `grblctl streams G-code jobs to a GRBL 1.1 controller and offers an
interactive console.

The controller is reached over a serial port (--link serial --port /dev/ttyUSB0),
a serial-to-network bridge (--link tcp --addr host:23) or the built-in
simulator (--link sim).

Settings are read from a YAML file (--config), a dotenv file (--env-file),
GRBL_* environment variables and flags, later sources taking precedence.`,
	SilenceUsage:      true,
	SilenceErrors:     true,
	PersistentPreRunE: resolveConfig,
}

func init() {
	bindGlobalFlags(rootCmd.PersistentFlags(), &flags)
}

func bindGlobalFlags(fs *pflag.FlagSet, f *globalFlags) {
	fs.StringVar(&f.configPath, "config", "", "YAML configuration file")
	fs.StringVar(&f.envFile, "env-file", ".env", "dotenv file with GRBL_* variables")
	fs.StringVar(&f.link, "link", linkSerial, "controller link: serial, tcp or sim")
	fs.StringVarP(&f.port, "port", "p", "", "serial port name")
	fs.IntVarP(&f.baud, "baud", "b", link.DefaultBaudRate, "serial baud rate")
	fs.StringVar(&f.addr, "addr", "", "TCP bridge address, host:port")
	fs.DurationVar(&f.pollInterval, "poll-interval", 0, "status poll interval (default depends on the link)")
	fs.DurationVar(&f.ackTimeout, "ack-timeout", 0, "acknowledgment timeout, 0 waits forever")
	fs.StringVar(&f.logLevel, "log-level", "info", "log level: debug, info, warn or error")
	fs.StringVar(&f.logBackend, "log-backend", "slog", "log backend: slog, logrus or zap")
	fs.Float64Var(&f.timeScale, "time-scale", 1, "simulator speed factor")
}

func resolveConfig(cmd *cobra.Command, _ []string) error {
	resolved, err := buildConfig(cmd, os.LookupEnv)
	if err != nil {
		return err
	}

	l, err := resolved.newLogger(os.Stderr)
	if err != nil {
		return err
	}

	cfg = resolved
	appLog = l
	logger.SetLogger(l)

	return nil
}

func buildConfig(cmd *cobra.Command, lookup func(string) (string, bool)) (appConfig, error) {
	fs := cmd.Flags()

	if err := loadEnvFile(flags.envFile, fs.Changed("env-file")); err != nil {
		return appConfig{}, err
	}

	resolved := defaultConfig()
	if flags.configPath != "" {
		if err := loadConfigFile(&resolved, flags.configPath); err != nil {
			return appConfig{}, err
		}
	}

	if err := applyEnv(&resolved, lookup); err != nil {
		return appConfig{}, err
	}
	applyFlags(&resolved, fs, &flags)

	return resolved, nil
}

// execute runs the root command and returns the process exit code.
func execute() int {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		return 1
	}

	return 0
}

func main() {
	os.Exit(execute())
}
