package sim

import (
	"math"
	"strconv"
	"time"

	"github.com/arloliu/go-grbl/grbl"
)

// GRBL status codes produced by the simulator.
const (
	codeOK                = 0
	codeBadNumberFormat   = 2
	codeInvalidStatement  = 3
	codeNegativeValue     = 4
	codeSettingDisabled   = 5
	codeIdleError         = 8
	codeSystemGCodeLock   = 9
	codeOverflow          = 11
	codeInvalidJog        = 16
	codeUnsupported       = 20
	codeUndefinedFeedRate = 22
	codeValueWordMissing  = 28
)

const mmPerInch = 25.4

// gcodeState is the modal state of the g-code parser.
type gcodeState struct {
	motion   int
	absolute bool
	inches   bool
	feed     float64
	spindle  grbl.Spindle
	// planned is the machine position at the end of the last accepted block.
	planned grbl.Position
	// offset is the G92 work coordinate offset.
	offset grbl.Position
}

func newGCodeState(pos, offset grbl.Position) gcodeState {
	return gcodeState{
		absolute: true,
		spindle:  grbl.Spindle{Direction: grbl.SpindleOff},
		planned:  pos,
		offset:   offset,
	}
}

// block is one planner entry. Blocks without motion apply their spindle state or
// dwell when they reach the head of the planner.
type block struct {
	line   string
	target grbl.Position
	motion bool
	rapid  bool
	jog    bool
	homing bool
	// rate is the programmed feed rate in mm/min; rapid moves use the max rate setting.
	rate    float64
	dwell   time.Duration
	spindle *grbl.Spindle
}

type axisWords [3]*float64

func (a axisWords) any() bool {
	return a[0] != nil || a[1] != nil || a[2] != nil
}

// parse validates line against the modal state gc and returns the state after the
// line, the planner block it produces (nil for modal-only lines) and a status code.
func (gc gcodeState) parse(line string) (gcodeState, *block, int) {
	var (
		axes          axisWords
		motion        = -1
		dwell         bool
		home          bool
		setOffset     bool
		spindleChange bool
		inches        = gc.inches
		feed          *float64
		dwellSec      *float64
	)

	for _, w := range grbl.ParseWords(line) {
		v, err := strconv.ParseFloat(w.Value, 64)
		if err != nil {
			return gc, nil, codeBadNumberFormat
		}

		switch w.Letter {
		case 'G':
			switch v {
			case 0, 1, 2, 3:
				motion = int(v)
			case 4:
				dwell = true
			case 20:
				inches = true
			case 21:
				inches = false
			case 28:
				home = true
			case 90:
				gc.absolute = true
			case 91:
				gc.absolute = false
			case 92:
				setOffset = true
			case 17, 18, 19, 40, 49, 54, 80, 94:
			default:
				return gc, nil, codeUnsupported
			}
		case 'M':
			switch v {
			case 3:
				gc.spindle.Direction, spindleChange = grbl.SpindleCW, true
			case 4:
				gc.spindle.Direction, spindleChange = grbl.SpindleCCW, true
			case 5:
				gc.spindle.Direction, spindleChange = grbl.SpindleOff, true
			case 2, 30:
				gc.spindle.Direction, spindleChange = grbl.SpindleOff, true
				gc.absolute = true
			case 0, 1, 7, 8, 9:
			default:
				return gc, nil, codeUnsupported
			}
		case 'X', 'Y', 'Z':
			val := v
			axes[w.Letter-'X'] = &val
		case 'F':
			if v < 0 {
				return gc, nil, codeNegativeValue
			}
			val := v
			feed = &val
		case 'S':
			if v < 0 {
				return gc, nil, codeNegativeValue
			}
			gc.spindle.SpeedRPM, spindleChange = v, true
		case 'P':
			val := v
			dwellSec = &val
		case 'I', 'J', 'K', 'R', 'N', 'T':
		default:
			return gc, nil, codeUnsupported
		}
	}

	gc.inches = inches
	scale := 1.0
	if gc.inches {
		scale = mmPerInch
	}
	if feed != nil {
		gc.feed = *feed * scale
	}
	if motion >= 0 {
		gc.motion = motion
	}

	switch {
	case dwell:
		if dwellSec == nil {
			return gc, nil, codeValueWordMissing
		}
		if *dwellSec < 0 {
			return gc, nil, codeNegativeValue
		}

		return gc, &block{line: line, dwell: time.Duration(*dwellSec * float64(time.Second))}, codeOK

	case setOffset:
		if !axes.any() {
			return gc, nil, codeValueWordMissing
		}
		work := gc.planned.Sub(gc.offset)
		coords := []*float64{&work.X, &work.Y, &work.Z}
		for i, a := range axes {
			if a != nil {
				*coords[i] = *a * scale
			}
		}
		gc.offset = gc.planned.Sub(work)

		return gc, gc.spindleBlock(line, spindleChange), codeOK

	case home:
		gc.planned = grbl.Position{}
		return gc, &block{line: line, motion: true, rapid: true, spindle: gc.spindlePtr(spindleChange)}, codeOK
	}

	if !axes.any() {
		return gc, gc.spindleBlock(line, spindleChange), codeOK
	}

	if gc.motion != 0 && gc.feed <= 0 {
		return gc, nil, codeUndefinedFeedRate
	}

	target := gc.planned
	coords := []*float64{&target.X, &target.Y, &target.Z}
	offsets := []float64{gc.offset.X, gc.offset.Y, gc.offset.Z}
	for i, a := range axes {
		if a == nil {
			continue
		}
		if gc.absolute {
			*coords[i] = *a*scale + offsets[i]
		} else {
			*coords[i] += *a * scale
		}
	}
	gc.planned = target

	// arcs are approximated by a straight move to their end point
	return gc, &block{
		line:    line,
		target:  target,
		motion:  true,
		rapid:   gc.motion == 0,
		rate:    gc.feed,
		spindle: gc.spindlePtr(spindleChange),
	}, codeOK
}

// parseJog parses the body of a "$J=" command. Jog motions do not change the modal state
// other than the planned position.
func (gc gcodeState) parseJog(line string) (gcodeState, *block, int) {
	next, blk, code := gc.parse("G1 " + line)
	if code != codeOK {
		if code == codeUndefinedFeedRate {
			return gc, nil, codeInvalidJog
		}

		return gc, nil, code
	}
	if blk == nil || !blk.motion || blk.spindle != nil {
		return gc, nil, codeInvalidJog
	}

	gc.planned = next.planned
	blk.line = "$J=" + line
	blk.jog = true

	return gc, blk, codeOK
}

func (gc gcodeState) spindlePtr(changed bool) *grbl.Spindle {
	if !changed {
		return nil
	}
	sp := gc.spindle

	return &sp
}

func (gc gcodeState) spindleBlock(line string, changed bool) *block {
	if !changed {
		return nil
	}

	return &block{line: line, spindle: gc.spindlePtr(true)}
}

// moveToward moves pos toward target by at most dist and reports whether target was reached.
func moveToward(pos, target grbl.Position, dist float64) (grbl.Position, bool) {
	delta := target.Sub(pos)
	remaining := math.Sqrt(delta.X*delta.X + delta.Y*delta.Y + delta.Z*delta.Z)
	if remaining <= dist || remaining == 0 {
		return target, true
	}

	f := dist / remaining

	return grbl.Position{
		X: pos.X + delta.X*f,
		Y: pos.Y + delta.Y*f,
		Z: pos.Z + delta.Z*f,
	}, false
}
