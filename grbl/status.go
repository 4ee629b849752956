package grbl

import (
	"fmt"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"
)

// Status is the controller state keyword of a status report.
type Status string

const (
	StatusIdle  Status = "Idle"
	StatusRun   Status = "Run"
	StatusHold  Status = "Hold"
	StatusJog   Status = "Jog"
	StatusAlarm Status = "Alarm"
	StatusDoor  Status = "Door"
	StatusCheck Status = "Check"
	StatusHome  Status = "Home"
	StatusSleep Status = "Sleep"
)

var knownStatuses = map[string]Status{
	"idle":  StatusIdle,
	"run":   StatusRun,
	"hold":  StatusHold,
	"jog":   StatusJog,
	"alarm": StatusAlarm,
	"door":  StatusDoor,
	"check": StatusCheck,
	"home":  StatusHome,
	"sleep": StatusSleep,
}

// ParseStatus maps a status keyword case-insensitively to a Status.
// Unrecognized keywords are capitalized and passed through.
func ParseStatus(keyword string) Status {
	keyword = strings.TrimSpace(keyword)
	if st, ok := knownStatuses[strings.ToLower(keyword)]; ok {
		return st
	}

	r, size := utf8.DecodeRuneInString(keyword)
	if r == utf8.RuneError {
		return Status(keyword)
	}

	return Status(string(unicode.ToUpper(r)) + strings.ToLower(keyword[size:]))
}

// IsKnown reports whether st is one of the statuses defined by GRBL.
func (st Status) IsKnown() bool {
	_, ok := knownStatuses[strings.ToLower(string(st))]
	return ok
}

// StatusUpdate is the partial machine snapshot carried by one status report.
//
// Status and AlarmCode are always present; every other field is nil when the
// report did not carry it.
type StatusUpdate struct {
	Status    Status
	AlarmCode int

	MachinePosition *Position
	WorkPosition    *Position
	WorkOffset      *Position
	FeedRate        *float64
	SpindleSpeed    *float64
	Overrides       *Overrides
	Buffer          *BufferState

	// SpindleDirection is not part of the report. It is filled by the session from
	// the last spindle command it sent, and only applies together with SpindleSpeed.
	SpindleDirection SpindleDirection
}

// IsStatusReport reports whether line looks like a bracketed status report.
func IsStatusReport(line string) bool {
	line = strings.TrimSpace(line)
	return len(line) >= 2 && line[0] == '<' && line[len(line)-1] == '>'
}

// ParseStatusReport parses a status report line such as
// "<Run|MPos:1.000,2.000,0.000|FS:500,12000|Ov:100,100,100>".
//
// Malformed fields are ignored; ErrMalformedReport is returned only when the line is not
// a bracketed report or has no status keyword.
func ParseStatusReport(line string) (StatusUpdate, error) {
	line = strings.TrimSpace(line)
	if !IsStatusReport(line) {
		return StatusUpdate{}, fmt.Errorf("%w: %q", ErrMalformedReport, line)
	}

	fields := strings.Split(line[1:len(line)-1], "|")

	keyword, sub, hasSub := strings.Cut(fields[0], ":")
	if strings.TrimSpace(keyword) == "" {
		return StatusUpdate{}, fmt.Errorf("%w: missing status in %q", ErrMalformedReport, line)
	}

	upd := StatusUpdate{Status: ParseStatus(keyword)}
	if upd.Status == StatusAlarm && hasSub {
		if code, err := strconv.Atoi(strings.TrimSpace(sub)); err == nil && code > 0 {
			upd.AlarmCode = code
		}
	}

	for _, field := range fields[1:] {
		name, value, ok := strings.Cut(field, ":")
		if !ok {
			continue
		}

		switch strings.TrimSpace(name) {
		case "MPos":
			if pos, ok := parsePosition(value); ok {
				upd.MachinePosition = &pos
			}
		case "WPos":
			if pos, ok := parsePosition(value); ok {
				upd.WorkPosition = &pos
			}
		case "WCO":
			if pos, ok := parsePosition(value); ok {
				upd.WorkOffset = &pos
			}
		case "FS":
			vals, ok := parseFloats(value, 2)
			if !ok {
				continue
			}
			upd.FeedRate = &vals[0]
			upd.SpindleSpeed = &vals[1]
		case "F":
			if vals, ok := parseFloats(value, 1); ok {
				upd.FeedRate = &vals[0]
			}
		case "Ov":
			if ov, ok := parseOverrides(value); ok {
				upd.Overrides = &ov
			}
		case "Bf":
			if bf, ok := parseBuffer(value); ok {
				upd.Buffer = &bf
			}
		}
	}

	return upd, nil
}

// WithDerivedPositions fills in the missing one of machine and work position from the
// other and a work coordinate offset. The offset carried by the report itself takes
// precedence over the given one.
func (u StatusUpdate) WithDerivedPositions(offset Position) StatusUpdate {
	if u.WorkOffset != nil {
		offset = *u.WorkOffset
	}

	switch {
	case u.MachinePosition != nil && u.WorkPosition == nil:
		wpos := u.MachinePosition.Sub(offset)
		u.WorkPosition = &wpos
	case u.WorkPosition != nil && u.MachinePosition == nil:
		mpos := u.WorkPosition.Add(offset)
		u.MachinePosition = &mpos
	}

	return u
}

func parsePosition(s string) (Position, bool) {
	vals, ok := parseFloats(s, 3)
	if !ok {
		return Position{}, false
	}

	return Position{X: vals[0], Y: vals[1], Z: vals[2]}, true
}

// parseFloats parses at least n comma separated floats and returns the first n.
func parseFloats(s string, n int) ([]float64, bool) {
	parts := strings.Split(s, ",")
	if len(parts) < n {
		return nil, false
	}

	vals := make([]float64, n)
	for i := 0; i < n; i++ {
		v, err := strconv.ParseFloat(strings.TrimSpace(parts[i]), 64)
		if err != nil {
			return nil, false
		}
		vals[i] = v
	}

	return vals, true
}

func parseInts(s string, n int) ([]int, bool) {
	parts := strings.Split(s, ",")
	if len(parts) != n {
		return nil, false
	}

	vals := make([]int, n)
	for i, p := range parts {
		v, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil {
			return nil, false
		}
		vals[i] = v
	}

	return vals, true
}

func parseOverrides(s string) (Overrides, bool) {
	vals, ok := parseInts(s, 3)
	if !ok {
		return Overrides{}, false
	}

	return Overrides{Feed: vals[0], Rapid: vals[1], Spindle: vals[2]}, true
}

func parseBuffer(s string) (BufferState, bool) {
	vals, ok := parseInts(s, 2)
	if !ok {
		return BufferState{}, false
	}

	return BufferState{PlannerBlocks: vals[0], RxBytes: vals[1]}, true
}
