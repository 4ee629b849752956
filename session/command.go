package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/arloliu/go-grbl/grbl"
	"github.com/arloliu/go-grbl/internal/pool"
)

var errNotWritten = errors.New("session: line resolved before it was written")

// pendingAck is the command line awaiting its acknowledgment.
type pendingAck struct {
	line string
	// done receives the acknowledgment result. It is nil for a manual command sent
	// with SendLine, whose result is reported through the event sink.
	done chan error
	// err is the result the entry was resolved with. Guarded by Session.ackMu.
	err error
}

// SendGCode writes a command line and waits for its acknowledgment.
//
// It returns grbl.ErrAckPending without writing if another line awaits its
// acknowledgment, and grbl.ErrJobActive while a job is running or paused.
// An "error:<n>" reply is returned as a *grbl.CommandError and is also reported
// through the event sink.
func (s *Session) SendGCode(ctx context.Context, line string) error {
	if s.jobActive() {
		return grbl.ErrJobActive
	}

	err := s.sendAwaitingAck(ctx, line, false)

	var cmdErr *grbl.CommandError
	if errors.As(err, &cmdErr) {
		s.reportCommandError(cmdErr)
	}

	return err
}

// SendLine writes a manual command line without waiting for its acknowledgment.
//
// The line keeps the acknowledgment slot until the controller replies, so a second
// SendLine or SendGCode before the reply fails with grbl.ErrAckPending. An
// "error:<n>" reply is reported through the event sink.
func (s *Session) SendLine(_ context.Context, line string) error {
	if s.jobActive() {
		return grbl.ErrJobActive
	}

	return s.writeCommand(&pendingAck{line: line}, false)
}

// RequestStatus sends a status query outside the poller schedule.
func (s *Session) RequestStatus() error {
	return s.sendRealtime(grbl.StatusQuery)
}

// Override sends one of the feed, rapid or spindle override real-time commands.
func (s *Session) Override(cmd grbl.OverrideCommand) error {
	if !cmd.IsOverride() {
		return fmt.Errorf("session: 0x%02x is not an override command", byte(cmd))
	}

	return s.sendRealtime(cmd)
}

// HasPendingAck reports whether a command line awaits its acknowledgment.
func (s *Session) HasPendingAck() bool {
	s.ackMu.Lock()
	defer s.ackMu.Unlock()

	return s.pending != nil
}

// sendAwaitingAck writes line and waits until it is acknowledged or rejected.
// silent suppresses the "sent" log event.
func (s *Session) sendAwaitingAck(ctx context.Context, line string, silent bool) error {
	p := &pendingAck{line: line, done: make(chan error, 1)}
	if err := s.writeCommand(p, silent); err != nil {
		return err
	}

	return s.waitAck(ctx, p)
}

// writeCommand registers p as the pending acknowledgment and writes its line.
func (s *Session) writeCommand(p *pendingAck, silent bool) error {
	if err := s.registerPending(p); err != nil {
		return err
	}

	return s.writePending(p, silent)
}

// registerPending makes p the pending acknowledgment without writing its line.
func (s *Session) registerPending(p *pendingAck) error {
	if strings.ContainsAny(p.line, "\r\n") {
		return fmt.Errorf("%w: %q contains a line break", grbl.ErrInvalidLine, p.line)
	}

	if !s.connState.IsConnected() {
		return grbl.ErrNotConnected
	}

	s.ackMu.Lock()
	if s.pending != nil {
		s.ackMu.Unlock()
		return grbl.ErrAckPending
	}
	s.pending = p
	s.metrics.incAckInflight()
	s.ackMu.Unlock()

	return nil
}

// writePending writes the line of a registered p. If p was resolved after it was
// registered, by a stop, an alarm or a disconnect, the line is not written and the
// resolution error is returned.
func (s *Session) writePending(p *pendingAck, silent bool) error {
	s.writeMu.Lock()
	s.ackMu.Lock()
	current, resolved := s.pending == p, p.err
	s.ackMu.Unlock()
	if !current {
		s.writeMu.Unlock()
		if resolved == nil {
			resolved = errNotWritten
		}

		return resolved
	}

	err := writeAll(s.link, []byte(p.line+"\n"))
	s.writeMu.Unlock()

	if err != nil {
		s.handleLinkFailure(err)
		s.clearPending(p)

		return fmt.Errorf("%w: %w", grbl.ErrLinkClosed, err)
	}

	s.metrics.incLinesSent()
	s.noteSpindleCommand(p.line)
	s.logger.Debug("line sent", "line", p.line)
	if !silent {
		s.emitLog(grbl.LogSent, p.line)
	}

	return nil
}

func (s *Session) waitAck(ctx context.Context, p *pendingAck) error {
	var timeoutC <-chan time.Time
	if s.cfg.ackTimeout > 0 {
		timer := pool.GetTimer(s.cfg.ackTimeout)
		defer pool.PutTimer(timer)
		timeoutC = timer.C
	}

	select {
	case err := <-p.done:
		return err

	case <-ctx.Done():
		// the controller still owes a reply; keep the slot until it arrives
		if !s.detachPending(p) {
			return <-p.done
		}

		return ctx.Err()

	case <-timeoutC:
		if !s.clearPending(p) {
			return <-p.done
		}
		s.logger.Warn("session: acknowledgment timeout", "line", p.line, "timeout", s.cfg.ackTimeout)

		return fmt.Errorf("%w: %q", grbl.ErrAckTimeout, p.line)
	}
}

// resolvePending completes the pending acknowledgment with the error returned by errFor.
// It returns the completed entry, and whether a waiter received the result.
func (s *Session) resolvePending(errFor func(p *pendingAck) error) (*pendingAck, bool) {
	s.ackMu.Lock()
	defer s.ackMu.Unlock()

	p := s.pending
	if p == nil {
		return nil, false
	}
	s.pending = nil
	s.metrics.decAckInflight()

	p.err = errFor(p)
	if p.done == nil {
		return p, false
	}
	p.done <- p.err

	return p, true
}

// rejectPending rejects the pending acknowledgment, if any, with reason.
func (s *Session) rejectPending(reason error) {
	p, _ := s.resolvePending(func(*pendingAck) error { return reason })
	if p != nil {
		s.logger.Debug("pending acknowledgment rejected", "line", p.line, "reason", reason)
	}
}

// clearPending drops p if it is still pending. It returns false if p was already resolved.
func (s *Session) clearPending(p *pendingAck) bool {
	s.ackMu.Lock()
	defer s.ackMu.Unlock()

	if s.pending != p {
		return false
	}
	s.pending = nil
	s.metrics.decAckInflight()

	return true
}

// detachPending turns p into a manual command whose reply nobody waits for.
// It returns false if p was already resolved.
func (s *Session) detachPending(p *pendingAck) bool {
	s.ackMu.Lock()
	defer s.ackMu.Unlock()

	if s.pending != p {
		return false
	}
	p.done = nil

	return true
}

func (s *Session) handleAck() {
	s.metrics.incAckCount()

	p, _ := s.resolvePending(func(*pendingAck) error { return nil })
	if p == nil {
		s.logger.Debug("unsolicited ok")
	}
}

func (s *Session) handleCommandError(code int) {
	s.metrics.incCommandErrCount()

	p, waited := s.resolvePending(func(p *pendingAck) error {
		return &grbl.CommandError{Code: code, Line: p.line}
	})
	if waited {
		return
	}

	cmdErr := &grbl.CommandError{Code: code}
	if p != nil {
		cmdErr.Line = p.line
	}
	s.reportCommandError(cmdErr)
}

// reportCommandError surfaces a controller error outside the job runner.
func (s *Session) reportCommandError(cmdErr *grbl.CommandError) {
	desc := grbl.ErrorDescription(cmdErr.Code)
	if desc != "" {
		desc = " (" + desc + ")"
	}

	var msg string
	if cmdErr.Line != "" {
		msg = fmt.Sprintf("command %q failed: error:%d%s", cmdErr.Line, cmdErr.Code, desc)
	} else {
		msg = fmt.Sprintf("controller reported error:%d%s", cmdErr.Code, desc)
	}

	s.logger.Warn("session: command error", "code", cmdErr.Code, "line", cmdErr.Line)
	s.emitLog(grbl.LogError, msg)
	s.emitError(msg, cmdErr)
}

func (s *Session) noteSpindleCommand(line string) {
	dir, ok := grbl.SpindleCommandDirection(line)
	if !ok {
		return
	}

	s.stateMu.Lock()
	s.spindleDir = dir
	s.stateMu.Unlock()
}

// sendRealtime writes a real-time command. It never touches the pending acknowledgment
// and is never logged as sent.
func (s *Session) sendRealtime(cmd grbl.RealtimeCommand) error {
	if !s.connState.IsConnected() {
		return grbl.ErrNotConnected
	}

	return s.writeRealtime(cmd)
}

func (s *Session) writeRealtime(cmd grbl.RealtimeCommand) error {
	if err := s.write([]byte{byte(cmd)}); err != nil {
		return err
	}

	s.metrics.incRealtimeSent()
	if cmd != grbl.StatusQuery {
		s.logger.Debug("real-time command sent", "command", cmd.String())
	}

	return nil
}

// pollStatus is the status poller task. Failures are swallowed; the next tick retries.
func (s *Session) pollStatus() bool {
	if err := s.sendRealtime(grbl.StatusQuery); err != nil {
		s.logger.Debug("status poll failed", "error", err)
	}

	return true
}

// write serializes writes to the link. A failed write starts the link loss path.
func (s *Session) write(b []byte) error {
	s.writeMu.Lock()
	err := writeAll(s.link, b)
	s.writeMu.Unlock()

	if err != nil {
		s.handleLinkFailure(err)
		return fmt.Errorf("%w: %w", grbl.ErrLinkClosed, err)
	}

	return nil
}

func writeAll(w io.Writer, b []byte) error {
	for len(b) > 0 {
		n, err := w.Write(b)
		if err != nil {
			return err
		}
		if n == 0 {
			return io.ErrShortWrite
		}
		b = b[n:]
	}

	return nil
}
