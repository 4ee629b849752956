package grbl

// RealtimeCommand is a single byte processed by the controller out of band.
// Real-time commands are written unterminated and are never acknowledged.
type RealtimeCommand byte

const (
	StatusQuery RealtimeCommand = '?'
	FeedHold    RealtimeCommand = '!'
	CycleResume RealtimeCommand = '~'
	SoftReset   RealtimeCommand = 0x18
)

// OverrideCommand is one of the GRBL 1.1 extended real-time override bytes.
type OverrideCommand = RealtimeCommand

const (
	FeedOverrideReset      OverrideCommand = 0x90
	FeedOverridePlus10     OverrideCommand = 0x91
	FeedOverrideMinus10    OverrideCommand = 0x92
	RapidOverrideFull      OverrideCommand = 0x95
	RapidOverrideHalf      OverrideCommand = 0x96
	RapidOverrideQuarter   OverrideCommand = 0x97
	SpindleOverrideReset   OverrideCommand = 0x99
	SpindleOverridePlus10  OverrideCommand = 0x9A
	SpindleOverrideMinus10 OverrideCommand = 0x9B
	SpindleOverrideStop    OverrideCommand = 0x9E
)

func (c RealtimeCommand) String() string {
	switch c {
	case StatusQuery:
		return "status query"
	case FeedHold:
		return "feed hold"
	case CycleResume:
		return "cycle resume"
	case SoftReset:
		return "soft reset"
	}

	if c.IsOverride() {
		return "override"
	}

	return "unknown"
}

// IsOverride reports whether c is one of the override bytes.
func (c RealtimeCommand) IsOverride() bool {
	switch c {
	case FeedOverrideReset, FeedOverridePlus10, FeedOverrideMinus10,
		RapidOverrideFull, RapidOverrideHalf, RapidOverrideQuarter,
		SpindleOverrideReset, SpindleOverridePlus10, SpindleOverrideMinus10, SpindleOverrideStop:
		return true
	}

	return false
}

// IsRealtimeByte reports whether b is handled by the controller as a real-time command.
func IsRealtimeByte(b byte) bool {
	c := RealtimeCommand(b)
	switch c {
	case StatusQuery, FeedHold, CycleResume, SoftReset:
		return true
	}

	return c.IsOverride()
}
