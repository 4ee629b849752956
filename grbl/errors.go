package grbl

import (
	"errors"
	"fmt"
)

// Usage errors, returned synchronously by session operations.
var (
	// ErrAckPending is returned when a buffered command is sent while another one
	// is still waiting for its acknowledgment.
	ErrAckPending = errors.New("grbl: acknowledgment pending")
	// ErrJobActive is returned when a job is started, or a manual line is sent, while a job is running or paused.
	ErrJobActive = errors.New("grbl: job is active")
	// ErrInvalidJobState is returned by pause/resume when the job is not in the required state.
	ErrInvalidJobState = errors.New("grbl: invalid job state")
	// ErrInvalidStartLine is returned when the start line of a job is out of range.
	ErrInvalidStartLine = errors.New("grbl: invalid start line")
	// ErrInvalidLine is returned for command lines that contain a line break.
	ErrInvalidLine = errors.New("grbl: invalid command line")
	// ErrNotConnected is returned when an operation needs a connected session.
	ErrNotConnected = errors.New("grbl: not connected")
	// ErrAlreadyConnected is returned when Connect is called on a connected session.
	ErrAlreadyConnected = errors.New("grbl: already connected")
)

// Reasons a pending acknowledgment is rejected with.
var (
	// ErrStoppedByUser rejects the pending acknowledgment when the job is stopped by the operator.
	ErrStoppedByUser = errors.New("grbl: stopped by user")
	// ErrAlarm rejects the pending acknowledgment when the controller enters the Alarm state.
	ErrAlarm = errors.New("grbl: controller alarm")
	// ErrLinkClosed rejects the pending acknowledgment when the link fails or is closed.
	ErrLinkClosed = errors.New("grbl: link closed")
	// ErrAckTimeout is returned when the acknowledgment did not arrive within the configured timeout.
	ErrAckTimeout = errors.New("grbl: acknowledgment timeout")
)

// ErrMalformedReport is returned by ParseStatusReport for text that is not a status report.
var ErrMalformedReport = errors.New("grbl: malformed status report")

// CommandError is the controller's "error:<code>" reply to a buffered command.
type CommandError struct {
	Code int
	Line string
}

func (e *CommandError) Error() string {
	if desc := ErrorDescription(e.Code); desc != "" {
		return fmt.Sprintf("grbl: error:%d (%s) for %q", e.Code, desc, e.Line)
	}

	return fmt.Sprintf("grbl: error:%d for %q", e.Code, e.Line)
}

// IsCommandError reports whether err is, or wraps, a *CommandError.
func IsCommandError(err error) bool {
	var cmdErr *CommandError
	return errors.As(err, &cmdErr)
}

var errorDescriptions = map[int]string{
	1:  "expected command letter",
	2:  "bad number format",
	3:  "invalid statement",
	4:  "negative value",
	5:  "setting disabled",
	6:  "step pulse too short",
	7:  "settings read failure",
	8:  "not idle",
	9:  "g-code lock",
	10: "soft limits require homing",
	11: "line overflow",
	12: "step rate too high",
	13: "safety door",
	14: "startup line too long",
	15: "travel exceeded",
	16: "invalid jog command",
	17: "laser mode requires PWM output",
	20: "unsupported command",
	21: "modal group violation",
	22: "undefined feed rate",
	23: "command value not integer",
	24: "axis command conflict",
	25: "word repeated",
	26: "no axis words",
	27: "invalid line number",
	28: "value word missing",
	29: "unsupported work coordinate system",
	30: "G53 invalid motion mode",
	31: "axis words exist",
	32: "no axis words in plane",
	33: "invalid target",
	34: "arc radius error",
	35: "no offsets in plane",
	36: "unused words",
	37: "G43.1 dynamic axis error",
	38: "tool number greater than max",
}

var alarmDescriptions = map[int]string{
	1:  "hard limit",
	2:  "soft limit",
	3:  "abort during cycle",
	4:  "probe fail, initial state",
	5:  "probe fail, no contact",
	6:  "homing fail, reset",
	7:  "homing fail, door",
	8:  "homing fail, pull off",
	9:  "homing fail, approach",
	10: "homing fail, dual approach",
}

// ErrorDescription returns a short description of a GRBL 1.1 error code, or "" if unknown.
func ErrorDescription(code int) string {
	return errorDescriptions[code]
}

// AlarmDescription returns a short description of a GRBL 1.1 alarm code, or "" if unknown.
func AlarmDescription(code int) string {
	return alarmDescriptions[code]
}
