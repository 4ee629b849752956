package session

import (
	"errors"
	"fmt"
	"slices"

	"github.com/arloliu/go-grbl/grbl"
)

// job is the state of the job runner. It is guarded by Session.jobMu.
type job struct {
	lines  []string
	cursor int
	dryRun bool
	state  grbl.JobState
	// driving is true while the drive task runs; at most one drive task exists per job.
	driving bool
	// gen identifies the job; a drive task only acts on the job it was started for.
	gen uint64
}

// JobStatus returns a snapshot of the job runner.
func (s *Session) JobStatus() grbl.JobStatus {
	s.jobMu.Lock()
	defer s.jobMu.Unlock()

	return grbl.JobStatus{
		State:  s.job.state,
		Cursor: s.job.cursor,
		Total:  len(s.job.lines),
		DryRun: s.job.dryRun,
	}
}

func (s *Session) jobActive() bool {
	s.jobMu.Lock()
	defer s.jobMu.Unlock()

	return s.job.state.IsActive()
}

// StartJob streams lines to the controller, one acknowledged line at a time.
//
// A finished or stopped job stays observable through JobStatus until the next StartJob.
func (s *Session) StartJob(lines []string, opts grbl.JobOptions) error {
	if !s.IsConnected() {
		return grbl.ErrNotConnected
	}

	if opts.StartLine < 0 || opts.StartLine > len(lines) {
		return fmt.Errorf("%w: %d not in [0, %d]", grbl.ErrInvalidStartLine, opts.StartLine, len(lines))
	}

	s.jobMu.Lock()
	if s.job.state.IsActive() {
		s.jobMu.Unlock()
		return grbl.ErrJobActive
	}
	if s.HasPendingAck() {
		s.jobMu.Unlock()
		return grbl.ErrAckPending
	}

	s.job = job{
		lines:  slices.Clone(lines),
		cursor: opts.StartLine,
		dryRun: opts.DryRun,
		state:  grbl.JobRunning,
		gen:    s.job.gen + 1,
	}
	s.jobMu.Unlock()

	s.logger.Info("job started", "lines", len(lines), "startLine", opts.StartLine, "dryRun", opts.DryRun)
	msg := fmt.Sprintf("job started: %d lines", len(lines))
	if opts.DryRun {
		msg += " (dry run)"
	}
	s.emitLog(grbl.LogStatus, msg)
	s.emitProgress(opts.StartLine, len(lines))

	s.startDriver()

	return nil
}

// PauseJob holds the running job. The line in flight, if any, is still acknowledged.
func (s *Session) PauseJob() error {
	s.jobMu.Lock()
	if s.job.state != grbl.JobRunning {
		state := s.job.state
		s.jobMu.Unlock()

		return fmt.Errorf("%w: cannot pause a job in state %s", grbl.ErrInvalidJobState, state)
	}
	s.job.state = grbl.JobPaused
	s.jobMu.Unlock()

	if err := s.sendRealtime(grbl.FeedHold); err != nil {
		s.logger.Warn("session: feed hold failed", "error", err)
	}

	s.logger.Info("job paused")
	s.emitLog(grbl.LogStatus, "paused")

	return nil
}

// ResumeJob resumes a paused job.
func (s *Session) ResumeJob() error {
	s.jobMu.Lock()
	if s.job.state != grbl.JobPaused {
		state := s.job.state
		s.jobMu.Unlock()

		return fmt.Errorf("%w: cannot resume a job in state %s", grbl.ErrInvalidJobState, state)
	}
	s.job.state = grbl.JobRunning
	s.jobMu.Unlock()

	if err := s.sendRealtime(grbl.CycleResume); err != nil {
		s.logger.Warn("session: cycle resume failed", "error", err)
	}

	s.logger.Info("job resumed")
	s.emitLog(grbl.LogStatus, "resumed")
	s.startDriver()

	return nil
}

// StopJob soft-resets the controller and stops a running or paused job.
// It is a no-op when no job is active.
func (s *Session) StopJob() {
	s.abortJob(grbl.ErrStoppedByUser, true)
}

// EmergencyStop soft-resets the controller, whether or not a job is active, and stops
// the job. It is a no-op when the session is not connected.
func (s *Session) EmergencyStop() {
	if !s.IsConnected() {
		return
	}

	if err := s.writeRealtime(grbl.SoftReset); err != nil {
		s.logger.Warn("session: soft reset failed", "error", err)
	}
	s.logger.Warn("emergency stop")
	s.emitLog(grbl.LogStatus, "emergency stop")

	if !s.abortJob(grbl.ErrStoppedByUser, false) {
		s.rejectPending(grbl.ErrStoppedByUser)
	}
}

// abortJob moves an active job to Stopped, optionally soft-resets the controller and
// rejects the pending acknowledgment with reason. It returns false if no job was active.
func (s *Session) abortJob(reason error, softReset bool) bool {
	s.jobMu.Lock()
	if !s.job.state.IsActive() {
		s.jobMu.Unlock()
		return false
	}
	s.job.state = grbl.JobStopped
	s.jobMu.Unlock()

	// rejected first, so a line registered but not yet written never follows the reset
	s.rejectPending(reason)

	if softReset && s.connState.State() != grbl.ConnDisconnected {
		if err := s.writeRealtime(grbl.SoftReset); err != nil {
			s.logger.Warn("session: soft reset failed", "error", err)
		}
	}

	if errors.Is(reason, grbl.ErrStoppedByUser) {
		s.logger.Info("job stopped by user")
		s.emitLog(grbl.LogStatus, "stopped by user")
	} else {
		s.logger.Warn("job aborted", "reason", reason)
		s.emitLog(grbl.LogStatus, fmt.Sprintf("job stopped: %v", reason))
	}

	return true
}

// startDriver starts the drive task unless one is already running.
func (s *Session) startDriver() {
	s.jobMu.Lock()
	if s.job.driving {
		s.jobMu.Unlock()
		return
	}
	s.job.driving = true
	gen := s.job.gen
	s.jobMu.Unlock()

	err := s.taskMgr.Start("jobDriver", func() bool {
		return s.driveStep(gen)
	})
	if err != nil {
		s.failJob(gen, -1, "", err)
	}
}

// driveStep is one iteration of the drive task for the job identified by gen. Each
// iteration processes at most one line; it returns false when the driver halts.
//
// The line is registered as pending while jobMu is held and written after it is
// released. A stop that lands in between rejects the pending entry, and the line is
// then never written.
func (s *Session) driveStep(gen uint64) bool {
	s.jobMu.Lock()
	j := &s.job

	if j.gen != gen {
		s.jobMu.Unlock()
		return false
	}

	if j.state != grbl.JobRunning {
		// Stopped is reported by whoever stopped the job; Paused is resumed externally.
		j.driving = false
		s.jobMu.Unlock()

		return false
	}

	total := len(j.lines)
	if j.cursor >= total {
		j.state = grbl.JobComplete
		j.driving = false
		s.jobMu.Unlock()

		s.logger.Info("job complete", "lines", total)
		s.emitProgress(total, total)
		s.emitLog(grbl.LogStatus, "job complete")

		return false
	}

	idx := j.cursor
	line := j.lines[idx]

	if j.dryRun && grbl.HasSpindlePrefix(line) {
		j.cursor++
		cursor := j.cursor
		s.jobMu.Unlock()

		s.emitLog(grbl.LogStatus, fmt.Sprintf("line %d: %s skipped (dry run)", idx+1, line))
		s.emitProgress(cursor, total)

		return true
	}

	p := &pendingAck{line: line, done: make(chan error, 1)}
	err := s.registerPending(p)
	s.jobMu.Unlock()

	if err == nil {
		err = s.writePending(p, false)
	}
	if err == nil {
		err = s.waitAck(s.taskMgr.Context(), p)
	}

	s.jobMu.Lock()
	if j.gen != gen {
		s.jobMu.Unlock()
		return false
	}

	if err == nil {
		if j.state.IsActive() {
			j.cursor++
			cursor := j.cursor
			s.jobMu.Unlock()
			s.emitProgress(cursor, total)

			return true
		}
		s.jobMu.Unlock()

		return true
	}

	if !j.state.IsActive() {
		// stopped by the user, an alarm or a disconnect while the line was in flight
		j.driving = false
		s.jobMu.Unlock()

		return false
	}
	s.jobMu.Unlock()

	s.failJob(gen, idx, line, err)

	return false
}

// failJob stops the job identified by gen after a line was rejected and reports the
// failure. idx is the zero-based index of the failed line, or -1 if no line was involved.
func (s *Session) failJob(gen uint64, idx int, line string, err error) {
	s.jobMu.Lock()
	if s.job.gen != gen {
		s.jobMu.Unlock()
		return
	}
	if s.job.state.IsActive() {
		s.job.state = grbl.JobStopped
	}
	s.job.driving = false
	s.jobMu.Unlock()

	var (
		msg    string
		cmdErr *grbl.CommandError
	)
	switch {
	case idx < 0:
		msg = fmt.Sprintf("job failed: %v", err)
	case errors.As(err, &cmdErr):
		msg = fmt.Sprintf("line %d failed: %s: error:%d", idx+1, line, cmdErr.Code)
		if desc := grbl.ErrorDescription(cmdErr.Code); desc != "" {
			msg += " (" + desc + ")"
		}
	default:
		msg = fmt.Sprintf("line %d failed: %s: %v", idx+1, line, err)
	}

	s.logger.Error("session: job failed", "line", idx+1, "text", line, "error", err)
	s.emitLog(grbl.LogError, msg)
	s.emitError(msg, err)
}
