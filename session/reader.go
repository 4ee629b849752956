package session

import (
	"fmt"

	"github.com/arloliu/go-grbl/grbl"
)

// readLoop is one iteration of the read task: it reads a chunk, frames it into lines
// and dispatches every complete line.
func (s *Session) readLoop(buf []byte) bool {
	n, err := s.link.Read(buf)
	if n > 0 {
		s.metrics.addBytesReceived(n)

		overflows := s.framer.Overflows()
		for _, line := range s.framer.Feed(buf[:n]) {
			s.handleLine(line)
		}
		if s.framer.Overflows() != overflows {
			s.logger.Warn("session: oversized line dropped", "maxLineSize", s.cfg.maxLineSize)
		}
	}

	if err != nil {
		s.handleLinkFailure(err)
		return false
	}

	return true
}

func (s *Session) handleLine(line string) {
	reply := grbl.ClassifyReply(line)

	switch reply.Kind {
	case grbl.ReplyOK:
		s.handleAck()
	case grbl.ReplyError:
		s.handleCommandError(reply.Code)
	case grbl.ReplyStatus:
		s.handleStatusReport(reply.Line)
	case grbl.ReplyAlarm:
		s.logger.Warn("session: controller alarm", "code", reply.Code)
		s.emitLog(grbl.LogReceived, reply.Line)
		s.applyStatusUpdate(grbl.StatusUpdate{Status: grbl.StatusAlarm, AlarmCode: reply.Code})
	default:
		s.logger.Debug("line received", "line", reply.Line)
		s.emitLog(grbl.LogReceived, reply.Line)
	}
}

func (s *Session) handleStatusReport(line string) {
	upd, err := grbl.ParseStatusReport(line)
	if err != nil {
		s.metrics.incParseErrCount()
		s.logger.Debug("malformed status report", "line", line, "error", err)

		return
	}
	s.metrics.incStatusReportCount()

	s.applyStatusUpdate(upd)
}

// applyStatusUpdate merges upd into the machine state and runs the alarm path when
// the resulting status is Alarm.
func (s *Session) applyStatusUpdate(upd grbl.StatusUpdate) {
	s.stateMu.Lock()
	prev := s.state
	if upd.WorkOffset != nil {
		s.offsetKnown = true
	}
	// without a reported offset the other position cannot be derived
	if s.offsetKnown {
		upd = upd.WithDerivedPositions(prev.WorkOffset)
	}
	upd.SpindleDirection = s.spindleDir
	next := grbl.Merge(prev, upd)
	s.state = next
	s.stateMu.Unlock()

	if next != prev {
		s.events.emit(grbl.StateChangedEvent{State: next})
	}

	if next.Status == grbl.StatusAlarm {
		s.handleAlarm(next.LastAlarmCode, prev.Status != grbl.StatusAlarm)
	}
}

// handleAlarm stops an active job when the controller reports the Alarm state.
// entered is true when the controller has just entered the Alarm state; the
// controller flushes its receive buffer then, so a pending line is never acknowledged.
func (s *Session) handleAlarm(code int, entered bool) {
	s.jobMu.Lock()
	if !s.job.state.IsActive() {
		s.jobMu.Unlock()
		if entered {
			s.rejectPending(grbl.ErrAlarm)
		}

		return
	}
	s.job.state = grbl.JobStopped
	s.job.cursor = 0
	total := len(s.job.lines)
	s.jobMu.Unlock()

	s.rejectPending(grbl.ErrAlarm)

	msg := fmt.Sprintf("job stopped: controller alarm %d", code)
	if desc := grbl.AlarmDescription(code); desc != "" {
		msg += " (" + desc + ")"
	}

	s.logger.Error("session: job stopped by alarm", "code", code)
	s.emitProgress(0, total)
	s.emitLog(grbl.LogError, msg)
	s.emitError(msg, fmt.Errorf("%w %d", grbl.ErrAlarm, code))
}
