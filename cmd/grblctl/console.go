package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/arloliu/go-grbl/grbl"
)

const consolePrompt = "grbl> "

const consoleHelp = `Lines are sent to the controller as typed. Console commands:
  :run FILE      stream a G-code file
  :dryrun FILE   stream a G-code file without spindle commands
  :pause         feed hold the running job
  :resume        resume the paused job
  :stop          stop the job and soft-reset the controller
  :estop         soft-reset the controller immediately
  :status        print the machine and job state
  :help          print this help
  :quit          disconnect and exit`

var consoleCmd = &cobra.Command{
	Use:   "console",
	Short: "Interactive controller console",
	Long: `Open an interactive console to the controller.

Input lines are sent as manual commands; replies, errors and state changes are
printed as they arrive. Type :help for the console commands.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		out := cmd.OutOrStdout()
		printer := newEventPrinter(out)
		printer.quiet = true

		s, err := connectSession(cmd.Context(), printer)
		if err != nil {
			return err
		}
		defer s.Close()

		le := newLineEditor(os.Stdin, out)
		defer le.close()

		fmt.Fprintln(out, "type :help for commands, :quit to exit")

		return runConsole(cmd.Context(), s, le, out)
	},
}

func init() {
	rootCmd.AddCommand(consoleCmd)
}

func runConsole(ctx context.Context, c grbl.Controller, le *lineEditor, out io.Writer) error {
	for {
		line, err := le.readLine(consolePrompt)
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}

		quit, err := execConsoleLine(ctx, c, line, out)
		if err != nil {
			fmt.Fprintln(out, "error:", err)
		}
		if quit {
			return nil
		}
	}
}

// execConsoleLine runs one line of console input. It returns true when the console
// should exit.
func execConsoleLine(ctx context.Context, c grbl.Controller, line string, out io.Writer) (bool, error) {
	line = strings.TrimSpace(line)
	if line == "" {
		return false, nil
	}

	if !strings.HasPrefix(line, ":") {
		err := c.SendLine(ctx, line)
		if errors.Is(err, grbl.ErrAckPending) {
			return false, errors.New("the previous command is still waiting for its acknowledgment")
		}

		return false, err
	}

	name, arg, _ := strings.Cut(line[1:], " ")
	arg = strings.TrimSpace(arg)

	switch strings.ToLower(name) {
	case "quit", "q", "exit":
		return true, nil
	case "help":
		fmt.Fprintln(out, consoleHelp)
	case "status":
		printStatus(out, c)
	case "pause":
		return false, c.PauseJob()
	case "resume":
		return false, c.ResumeJob()
	case "stop":
		c.StopJob()
	case "estop":
		c.EmergencyStop()
	case "run", "dryrun":
		if arg == "" {
			return false, fmt.Errorf(":%s needs a file name", name)
		}

		return false, startFileJob(c, arg, strings.EqualFold(name, "dryrun"))
	default:
		return false, fmt.Errorf("unknown console command %q, type :help", line)
	}

	return false, nil
}

func startFileJob(c grbl.Controller, path string, dryRun bool) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	lines, err := readProgram(f)
	if err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}

	return c.StartJob(lines, grbl.JobOptions{DryRun: dryRun})
}

func printStatus(out io.Writer, c grbl.Controller) {
	if !c.IsConnected() {
		fmt.Fprintln(out, "not connected")
		return
	}

	fmt.Fprintln(out, "machine:", describeState(c.MachineState()))

	job := c.JobStatus()
	if job.Total == 0 && job.State == grbl.JobIdle {
		fmt.Fprintln(out, "job: none")
		return
	}

	mode := ""
	if job.DryRun {
		mode = ", dry run"
	}
	fmt.Fprintf(out, "job: %s %d/%d (%.1f%%%s)\n", job.State, job.Cursor, job.Total, job.Progress(), mode)
}
