package grbl

import (
	"strconv"
	"strings"
)

// ReplyKind classifies a line received from the controller.
type ReplyKind int

const (
	// ReplyInfo is any line that is neither an acknowledgment nor a status report,
	// e.g. the welcome banner, "[MSG:...]" or "$$" setting lines.
	ReplyInfo ReplyKind = iota
	ReplyOK
	ReplyError
	ReplyStatus
	// ReplyAlarm is an "ALARM:<n>" push message.
	ReplyAlarm
)

func (k ReplyKind) String() string {
	switch k {
	case ReplyOK:
		return "ok"
	case ReplyError:
		return "error"
	case ReplyStatus:
		return "status"
	case ReplyAlarm:
		return "alarm"
	default:
		return "info"
	}
}

// Reply is a classified controller line.
type Reply struct {
	Kind ReplyKind
	// Code is the error or alarm code for ReplyError and ReplyAlarm.
	Code int
	Line string
}

// ClassifyReply classifies one line received from the controller.
func ClassifyReply(line string) Reply {
	trimmed := strings.TrimSpace(line)
	reply := Reply{Kind: ReplyInfo, Line: trimmed}

	switch {
	case trimmed == "ok":
		reply.Kind = ReplyOK
	case IsStatusReport(trimmed):
		reply.Kind = ReplyStatus
	case strings.HasPrefix(trimmed, "error:"):
		if code, ok := parseCode(trimmed[len("error:"):]); ok {
			reply.Kind = ReplyError
			reply.Code = code
		}
	case strings.HasPrefix(trimmed, "ALARM:"):
		if code, ok := parseCode(trimmed[len("ALARM:"):]); ok {
			reply.Kind = ReplyAlarm
			reply.Code = code
		}
	}

	return reply
}

func parseCode(s string) (int, bool) {
	if s == "" {
		return 0, false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return 0, false
		}
	}

	code, err := strconv.Atoi(s)
	if err != nil {
		return 0, false
	}

	return code, true
}
