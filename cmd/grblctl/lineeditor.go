package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/ergochat/readline"
	"golang.org/x/term"
)

const (
	historyFileName = ".grblctl_history"
	historySize     = 500
)

// lineEditor reads console input with line editing and history on a terminal,
// and line by line from a plain reader otherwise (pipes, editor shells).
type lineEditor struct {
	rl      *readline.Instance
	scanner *bufio.Scanner
	out     io.Writer
}

func newLineEditor(in *os.File, out io.Writer) *lineEditor {
	if !term.IsTerminal(int(in.Fd())) || os.Getenv("INSIDE_EMACS") != "" {
		return newPlainLineEditor(in, out)
	}

	rl, err := readline.NewFromConfig(&readline.Config{
		HistoryFile:            historyPath(),
		HistoryLimit:           historySize,
		DisableAutoSaveHistory: true,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "readline unavailable (%v), using plain input\n", err)
		return newPlainLineEditor(in, out)
	}

	return &lineEditor{rl: rl, out: out}
}

func newPlainLineEditor(in io.Reader, out io.Writer) *lineEditor {
	return &lineEditor{scanner: bufio.NewScanner(in), out: out}
}

func historyPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}

	return filepath.Join(home, historyFileName)
}

// readLine returns the next input line. io.EOF is returned at the end of input and
// when the user interrupts the prompt.
func (le *lineEditor) readLine(prompt string) (string, error) {
	if le.rl == nil {
		fmt.Fprint(le.out, prompt)
		if !le.scanner.Scan() {
			if err := le.scanner.Err(); err != nil {
				return "", err
			}

			return "", io.EOF
		}

		return le.scanner.Text(), nil
	}

	le.rl.SetPrompt(prompt)
	line, err := le.rl.Readline()
	if err != nil {
		if errors.Is(err, readline.ErrInterrupt) {
			return "", io.EOF
		}

		return "", err
	}

	if trimmed := strings.TrimSpace(line); trimmed != "" {
		le.rl.SaveToHistory(trimmed) //nolint:errcheck
	}

	return line, nil
}

func (le *lineEditor) close() error {
	if le.rl == nil {
		return nil
	}

	return le.rl.Close()
}
