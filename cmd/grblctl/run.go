package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/atomic"

	"github.com/arloliu/go-grbl/grbl"
)

var (
	runDryRun    bool
	runStartLine int
)

var runCmd = &cobra.Command{
	Use:   "run FILE",
	Short: "Stream a G-code file to the controller",
	Long: `Stream a G-code file to the controller, one acknowledged line at a time.

Blank lines and comment-only lines are skipped. Interrupting grblctl (Ctrl-C)
stops the job and soft-resets the controller.

Examples:
  grblctl run part.nc --port /dev/ttyUSB0
  grblctl run part.nc --link sim --dry-run
  grblctl run part.nc --start-line 120`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		f, err := os.Open(args[0])
		if err != nil {
			return err
		}
		lines, err := readProgram(f)
		_ = f.Close()
		if err != nil {
			return fmt.Errorf("read %s: %w", args[0], err)
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		return runJob(ctx, lines, grbl.JobOptions{StartLine: runStartLine, DryRun: runDryRun}, cmd.OutOrStdout())
	},
}

func init() {
	runCmd.Flags().BoolVar(&runDryRun, "dry-run", false, "skip spindle commands (M3, M4, M5)")
	runCmd.Flags().IntVar(&runStartLine, "start-line", 0, "zero-based index of the first program line to send")
	rootCmd.AddCommand(runCmd)
}

// readProgram returns the program lines of r, without blank and comment-only lines.
func readProgram(r io.Reader) ([]string, error) {
	var lines []string

	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if isBlankOrComment(line) {
			continue
		}
		lines = append(lines, line)
	}

	return lines, scanner.Err()
}

func isBlankOrComment(line string) bool {
	switch {
	case line == "", line == "%":
		return true
	case line[0] == ';':
		return true
	case line[0] == '(' && strings.HasSuffix(line, ")") && strings.Count(line, "(") == 1:
		return true
	}

	return false
}

// runJob connects, streams lines and waits for the job to end. Cancelling ctx stops
// the job.
func runJob(ctx context.Context, lines []string, opts grbl.JobOptions, out io.Writer) error {
	printer := newEventPrinter(out)

	s, err := connectSession(context.WithoutCancel(ctx), printer)
	if err != nil {
		return err
	}
	defer s.Close()

	var started atomic.Bool
	ended := make(chan struct{}, 1)
	s.AddEventHandler(func(grbl.Event) {
		if started.Load() && !s.JobStatus().State.IsActive() {
			select {
			case ended <- struct{}{}:
			default:
			}
		}
	})

	if err := s.StartJob(lines, opts); err != nil {
		return err
	}
	started.Store(true)

	if s.JobStatus().State.IsActive() {
		select {
		case <-ended:
		case <-ctx.Done():
			s.StopJob()
		}
	}

	st := s.JobStatus()
	// Close flushes the queued events to the printer before the summary line.
	_ = s.Close()

	switch st.State {
	case grbl.JobComplete:
		fmt.Fprintf(out, "job complete: %d lines\n", st.Total)
		return nil
	case grbl.JobStopped:
		return fmt.Errorf("job stopped at line %d of %d", st.Cursor+1, st.Total)
	default:
		return fmt.Errorf("job ended: controller disconnected")
	}
}
