package grbl

import "fmt"

// Position is a 3-axis coordinate in millimeters.
type Position struct {
	X, Y, Z float64
}

func (p Position) Add(o Position) Position {
	return Position{X: p.X + o.X, Y: p.Y + o.Y, Z: p.Z + o.Z}
}

func (p Position) Sub(o Position) Position {
	return Position{X: p.X - o.X, Y: p.Y - o.Y, Z: p.Z - o.Z}
}

func (p Position) String() string {
	return fmt.Sprintf("X%.3f Y%.3f Z%.3f", p.X, p.Y, p.Z)
}

// SpindleDirection is the rotation direction of the spindle.
type SpindleDirection string

const (
	SpindleOff SpindleDirection = "off"
	SpindleCW  SpindleDirection = "cw"
	SpindleCCW SpindleDirection = "ccw"
)

type Spindle struct {
	Direction SpindleDirection
	SpeedRPM  float64
}

// Overrides holds the feed, rapid and spindle override percentages.
type Overrides struct {
	Feed    int
	Rapid   int
	Spindle int
}

// BufferState is the controller's free planner blocks and free serial RX bytes.
type BufferState struct {
	PlannerBlocks int
	RxBytes       int
}

// MachineState is the latest known snapshot of the controller.
//
// MachineState is a comparable value; two states are equal when every field is equal.
type MachineState struct {
	Status Status
	// AlarmCode is the code of the latest report; a report without one clears it.
	AlarmCode int
	// LastAlarmCode is the latest alarm code seen while the controller stays in the
	// Alarm state. GRBL reports a bare "Alarm" keyword after the ALARM:<n> message.
	LastAlarmCode   int
	WorkPosition    Position
	MachinePosition Position
	WorkOffset      Position
	FeedRate        float64
	Spindle         Spindle
	Overrides       Overrides
	Buffer          BufferState
}

// DefaultMachineState returns the state a session assumes right after connecting.
func DefaultMachineState() MachineState {
	return MachineState{
		Status:    StatusIdle,
		Spindle:   Spindle{Direction: SpindleOff},
		Overrides: Overrides{Feed: 100, Rapid: 100, Spindle: 100},
	}
}

// Merge applies a status update to prev and returns the new state.
//
// Status and AlarmCode are always taken from the update. LastAlarmCode follows a
// non-zero AlarmCode and is cleared when the status leaves Alarm. Every other field is replaced
// only when the update carries it. A reported spindle speed of zero forces the spindle
// direction to off; otherwise the update's SpindleDirection is applied when set.
func Merge(prev MachineState, upd StatusUpdate) MachineState {
	next := prev

	next.Status = upd.Status
	next.AlarmCode = 0
	if upd.Status == StatusAlarm {
		next.AlarmCode = upd.AlarmCode
		if upd.AlarmCode != 0 {
			next.LastAlarmCode = upd.AlarmCode
		}
	} else {
		next.LastAlarmCode = 0
	}

	if upd.MachinePosition != nil {
		next.MachinePosition = *upd.MachinePosition
	}
	if upd.WorkPosition != nil {
		next.WorkPosition = *upd.WorkPosition
	}
	if upd.WorkOffset != nil {
		next.WorkOffset = *upd.WorkOffset
	}
	if upd.FeedRate != nil {
		next.FeedRate = *upd.FeedRate
	}
	if upd.Overrides != nil {
		next.Overrides = *upd.Overrides
	}
	if upd.Buffer != nil {
		next.Buffer = *upd.Buffer
	}

	if upd.SpindleSpeed != nil {
		next.Spindle.SpeedRPM = *upd.SpindleSpeed
		switch {
		case *upd.SpindleSpeed == 0:
			next.Spindle.Direction = SpindleOff
		case upd.SpindleDirection != "":
			next.Spindle.Direction = upd.SpindleDirection
		}
	}

	return next
}
