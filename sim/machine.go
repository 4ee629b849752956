package sim

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/arloliu/go-grbl/grbl"
)

// The methods in this file are called with d.mu held.

func (d *Device) powerOn() {
	d.setPosition(grbl.Position{})
	d.setSpindle(grbl.Spindle{Direction: grbl.SpindleOff})

	d.status = grbl.StatusIdle
	d.alarmCode = 0
	d.hold = false
	d.checkMode = false
	d.gc = newGCodeState(grbl.Position{}, grbl.Position{})
	d.input = d.input[:0]
	d.overflow = false
	d.rx.Reset()
	d.rxBytes = 0
	d.planner.Reset()
	d.current = nil
	d.elapsed = 0
	d.ovFeed, d.ovRapid, d.ovSpindle = 100, 100, 100
	d.injectedErr = 0
	d.reportCount = 0
	d.offsetDirty = true

	d.emit("", Banner)
}

func (d *Device) position() grbl.Position {
	return grbl.Position{X: d.posX.Load(), Y: d.posY.Load(), Z: d.posZ.Load()}
}

func (d *Device) setPosition(p grbl.Position) {
	d.posX.Store(p.X)
	d.posY.Store(p.Y)
	d.posZ.Store(p.Z)
}

func (d *Device) setSpindle(sp grbl.Spindle) {
	d.spindleDir.Store(string(sp.Direction))
	d.spindleSpeed.Store(sp.SpeedRPM)
}

func (d *Device) moving() bool {
	return d.current != nil || !d.planner.IsEmpty()
}

// processRx executes buffered command lines in order until the buffer is empty or the
// planner is full. A line waiting for planner space is acknowledged once space frees up.
func (d *Device) processRx() {
	for {
		line, ok := d.rx.Peek()
		if !ok {
			return
		}
		if !d.handleLine(line) {
			return
		}
		d.rx.Dequeue()
		d.rxBytes -= len(line) + 1
	}
}

// handleLine executes one command line. It returns false when the line needs a
// planner block and the planner is full.
func (d *Device) handleLine(raw string) bool {
	line := strings.TrimSpace(raw)
	if line == "" {
		d.reply(codeOK)
		return true
	}

	if d.injectedErr != 0 {
		code := d.injectedErr
		d.injectedErr = 0
		d.reply(code)

		return true
	}

	if line[0] == '$' {
		return d.systemCommand(line)
	}

	if d.status == grbl.StatusAlarm {
		d.reply(codeSystemGCodeLock)
		return true
	}

	next, blk, code := d.gc.parse(line)
	if code != codeOK {
		d.reply(code)
		return true
	}

	if d.checkMode {
		d.commitModal(next)
		d.reply(codeOK)

		return true
	}

	if blk != nil {
		if d.planner.Length() >= d.cfg.plannerSize {
			return false
		}
		d.planner.Enqueue(*blk)
	}
	d.commitModal(next)
	d.reply(codeOK)

	return true
}

func (d *Device) commitModal(next gcodeState) {
	if next.offset != d.gc.offset {
		d.offsetDirty = true
	}
	d.gc = next
}

func (d *Device) reply(code int) {
	if code == codeOK {
		d.emit("ok")
		return
	}

	d.emit(fmt.Sprintf("error:%d", code))
}

// systemCommand executes a "$" command.
func (d *Device) systemCommand(line string) bool {
	busy := d.status == grbl.StatusRun || d.status == grbl.StatusHold ||
		d.status == grbl.StatusJog || d.status == grbl.StatusHome
	cmd := strings.ToUpper(line)

	switch {
	case cmd == "$":
		d.emit("[HLP:$$ $# $G $I $N $x=val $Nx=line $J=line $SLP $C $X $H ~ ! ? ctrl-x]")
	case cmd == "$$":
		if busy {
			d.reply(codeIdleError)
			return true
		}
		d.emit(d.settings.dump()...)
	case cmd == "$#":
		off := d.gc.offset
		d.emit(
			"[G54:0.000,0.000,0.000]",
			fmt.Sprintf("[G92:%s]", formatPosition(off)),
			"[TLO:0.000]",
			"[PRB:0.000,0.000,0.000:0]",
		)
	case cmd == "$G":
		d.emit(d.parserState())
	case cmd == "$I":
		d.emit("[VER:1.1h.20190825:]", fmt.Sprintf("[OPT:V,%d,%d]", d.cfg.plannerSize, d.cfg.rxBufferSize))
	case cmd == "$N":
		d.emit("$N0=", "$N1=")
	case cmd == "$X":
		if d.status == grbl.StatusAlarm {
			d.status = grbl.StatusIdle
			d.alarmCode = 0
			d.emit("[MSG:Caution: Unlocked]")
		}
	case cmd == "$H":
		return d.startHoming()
	case cmd == "$C":
		return d.toggleCheckMode()
	case strings.HasPrefix(cmd, "$J="):
		return d.startJog(line[3:])
	case cmd == "$SLP":
		d.reply(codeUnsupported)
		return true
	default:
		return d.setSetting(line, busy)
	}

	d.reply(codeOK)

	return true
}

func (d *Device) setSetting(line string, busy bool) bool {
	key, value, found := strings.Cut(line[1:], "=")
	if !found {
		d.reply(codeInvalidStatement)
		return true
	}

	n, err := strconv.Atoi(key)
	if err != nil {
		d.reply(codeInvalidStatement)
		return true
	}

	if busy {
		d.reply(codeIdleError)
		return true
	}

	d.reply(d.settings.set(n, value))

	return true
}

func (d *Device) startHoming() bool {
	if d.settings.int(SettingHomingEnable) == 0 {
		d.reply(codeSettingDisabled)
		return true
	}
	if d.status != grbl.StatusIdle && d.status != grbl.StatusAlarm {
		d.reply(codeIdleError)
		return true
	}

	d.alarmCode = 0
	d.status = grbl.StatusHome
	d.planner.Enqueue(block{line: "$H", motion: true, homing: true, rate: d.settings.float(SettingHomingSeekRate)})
	d.gc.planned = grbl.Position{}
	d.reply(codeOK)

	return true
}

func (d *Device) toggleCheckMode() bool {
	if d.checkMode {
		d.checkMode = false
		d.status = grbl.StatusIdle
		d.gc = newGCodeState(d.position(), d.gc.offset)
		d.emit("[MSG:Disabled]", "", Banner)
		d.reply(codeOK)

		return true
	}

	if d.status != grbl.StatusIdle {
		d.reply(codeIdleError)
		return true
	}

	d.checkMode = true
	d.status = grbl.StatusCheck
	d.emit("[MSG:Enabled]")
	d.reply(codeOK)

	return true
}

func (d *Device) startJog(body string) bool {
	if d.status != grbl.StatusIdle && d.status != grbl.StatusJog {
		d.reply(codeIdleError)
		return true
	}

	next, blk, code := d.gc.parseJog(body)
	if code != codeOK {
		d.reply(code)
		return true
	}

	if d.planner.Length() >= d.cfg.plannerSize {
		return false
	}
	d.planner.Enqueue(*blk)
	d.gc = next
	d.reply(codeOK)

	return true
}

func (d *Device) parserState() string {
	units, dist := "G21", "G90"
	if d.gc.inches {
		units = "G20"
	}
	if !d.gc.absolute {
		dist = "G91"
	}

	spindle := "M5"
	switch d.gc.spindle.Direction {
	case grbl.SpindleCW:
		spindle = "M3"
	case grbl.SpindleCCW:
		spindle = "M4"
	}

	return fmt.Sprintf("[GC:G%d G54 G17 %s %s G94 %s M9 T0 F%s S%s]",
		d.gc.motion, units, dist, spindle, formatNumber(d.gc.feed), formatNumber(d.gc.spindle.SpeedRPM))
}

// realtime executes a real-time command.
func (d *Device) realtime(cmd grbl.RealtimeCommand) {
	switch cmd {
	case grbl.StatusQuery:
		d.emit(d.statusReport())
	case grbl.FeedHold:
		if d.status == grbl.StatusRun {
			d.hold = true
			d.status = grbl.StatusHold
		} else if d.status == grbl.StatusJog {
			// feed hold cancels a jog
			d.abortMotion()
			d.status = grbl.StatusIdle
		}
	case grbl.CycleResume:
		if d.status == grbl.StatusHold {
			d.hold = false
			d.status = grbl.StatusIdle
			if d.moving() {
				d.status = grbl.StatusRun
			}
		}
	case grbl.SoftReset:
		d.softReset()
	default:
		d.override(cmd)
	}
}

func (d *Device) override(cmd grbl.OverrideCommand) {
	switch cmd {
	case grbl.FeedOverrideReset:
		d.ovFeed = 100
	case grbl.FeedOverridePlus10:
		d.ovFeed = min(d.ovFeed+10, 200)
	case grbl.FeedOverrideMinus10:
		d.ovFeed = max(d.ovFeed-10, 10)
	case grbl.RapidOverrideFull:
		d.ovRapid = 100
	case grbl.RapidOverrideHalf:
		d.ovRapid = 50
	case grbl.RapidOverrideQuarter:
		d.ovRapid = 25
	case grbl.SpindleOverrideReset:
		d.ovSpindle = 100
	case grbl.SpindleOverridePlus10:
		d.ovSpindle = min(d.ovSpindle+10, 200)
	case grbl.SpindleOverrideMinus10:
		d.ovSpindle = max(d.ovSpindle-10, 10)
	case grbl.SpindleOverrideStop:
		if d.status == grbl.StatusHold {
			d.setSpindle(grbl.Spindle{Direction: grbl.SpindleOff})
		}
	default:
		return
	}

	// the next report carries the override values
	d.reportCount = 1
}

// softReset aborts everything. A reset during motion loses position and raises alarm 3;
// a completed feed hold keeps the position.
func (d *Device) softReset() {
	wasMoving := d.moving() &&
		(d.status == grbl.StatusRun || d.status == grbl.StatusJog || d.status == grbl.StatusHome)

	d.abortMotion()
	d.checkMode = false
	d.hold = false
	d.ovFeed, d.ovRapid, d.ovSpindle = 100, 100, 100
	d.gc = newGCodeState(d.position(), d.gc.offset)

	if wasMoving {
		d.enterAlarm(3)
	} else if d.status != grbl.StatusAlarm {
		d.status = grbl.StatusIdle
	}

	d.emit("", Banner)
	if d.status == grbl.StatusAlarm {
		d.emit("[MSG:'$H'|'$X' to unlock]")
	}
}

// abortMotion drops the planner and the receive buffer and stops the spindle.
// Lines dropped from the receive buffer are never acknowledged.
func (d *Device) abortMotion() {
	d.planner.Reset()
	d.rx.Reset()
	d.rxBytes = 0
	d.input = d.input[:0]
	d.current = nil
	d.elapsed = 0
	d.hold = false
	d.gc.planned = d.position()
	d.setSpindle(grbl.Spindle{Direction: grbl.SpindleOff, SpeedRPM: d.gc.spindle.SpeedRPM})
	d.gc.spindle.Direction = grbl.SpindleOff
}

func (d *Device) enterAlarm(code int) {
	d.status = grbl.StatusAlarm
	d.alarmCode = code
	d.checkMode = false
	d.emit(fmt.Sprintf("ALARM:%d", code))
	d.logger.Debug("sim: alarm", "code", code)
}

// step advances the planner by dt seconds of machine time.
func (d *Device) step(dt float64) {
	if d.hold || d.status == grbl.StatusAlarm || d.status == grbl.StatusCheck {
		return
	}

	for dt > 0 {
		if d.current == nil {
			blk, ok := d.planner.Dequeue()
			if !ok {
				if d.status == grbl.StatusRun || d.status == grbl.StatusJog || d.status == grbl.StatusHome {
					d.status = grbl.StatusIdle
				}
				d.processRx()

				return
			}
			d.startBlock(&blk)
			d.processRx()
		}

		dt = d.advance(dt)
	}
}

func (d *Device) startBlock(blk *block) {
	d.current = blk
	d.elapsed = 0

	if blk.spindle != nil {
		d.setSpindle(*blk.spindle)
	}

	switch {
	case blk.homing:
		d.status = grbl.StatusHome
	case blk.jog:
		d.status = grbl.StatusJog
	case blk.motion || blk.dwell > 0:
		d.status = grbl.StatusRun
	}
}

// advance runs the current block for up to dt seconds and returns the unused time.
func (d *Device) advance(dt float64) float64 {
	blk := d.current

	switch {
	case blk.dwell > 0:
		d.elapsed += dt
		left := d.elapsed - blk.dwell.Seconds()
		if left < 0 {
			return 0
		}
		d.finishBlock()

		return left

	case blk.motion:
		rate := d.blockRate(blk)
		if rate <= 0 {
			return 0
		}
		dist := rate / 60 * dt
		pos, reached := moveToward(d.position(), blk.target, dist)
		d.setPosition(pos)
		if !reached {
			return 0
		}
		d.finishBlock()

		// the remaining time is not carried over to the next block
		return 0

	default:
		d.finishBlock()
		return dt
	}
}

func (d *Device) finishBlock() {
	if d.current.homing {
		d.alarmCode = 0
		d.status = grbl.StatusIdle
	}
	d.current = nil
	d.elapsed = 0

	if d.planner.IsEmpty() && d.status != grbl.StatusHold {
		d.status = grbl.StatusIdle
	}
}

// blockRate returns the effective rate of blk in mm/min.
func (d *Device) blockRate(blk *block) float64 {
	switch {
	case blk.homing:
		return blk.rate
	case blk.rapid:
		maxRate := min(d.settings.float(SettingMaxRateX), d.settings.float(SettingMaxRateY), d.settings.float(SettingMaxRateZ))
		return maxRate * float64(d.ovRapid) / 100
	case blk.jog:
		return blk.rate
	default:
		return blk.rate * float64(d.ovFeed) / 100
	}
}

// statusReport formats a GRBL 1.1 status report.
func (d *Device) statusReport() string {
	var b strings.Builder

	b.WriteByte('<')
	switch d.status {
	case grbl.StatusHold:
		b.WriteString("Hold:0")
	default:
		b.WriteString(string(d.status))
	}

	mask := d.settings.int(SettingStatusReportMask)
	pos := d.position()
	if mask&1 != 0 {
		b.WriteString("|MPos:" + formatPosition(pos))
	} else {
		b.WriteString("|WPos:" + formatPosition(pos.Sub(d.gc.offset)))
	}

	if mask&2 != 0 {
		fmt.Fprintf(&b, "|Bf:%d,%d", d.cfg.plannerSize-d.planner.Length(), d.cfg.rxBufferSize-d.rxBytes)
	}

	feed := 0.0
	if d.current != nil && d.current.motion && d.status != grbl.StatusHold {
		feed = d.blockRate(d.current)
	}
	sp := grbl.Spindle{Direction: grbl.SpindleDirection(d.spindleDir.Load()), SpeedRPM: d.spindleSpeed.Load()}
	speed := 0.0
	if sp.Direction != grbl.SpindleOff {
		speed = sp.SpeedRPM * float64(d.ovSpindle) / 100
	}
	fmt.Fprintf(&b, "|FS:%s,%s", formatNumber(feed), formatNumber(speed))

	// work offset and overrides are refreshed every tenth report, like the firmware
	if d.offsetDirty || d.reportCount%10 == 0 {
		b.WriteString("|WCO:" + formatPosition(d.gc.offset))
		d.offsetDirty = false
	} else if d.reportCount%10 == 1 {
		fmt.Fprintf(&b, "|Ov:%d,%d,%d", d.ovFeed, d.ovRapid, d.ovSpindle)
		switch sp.Direction {
		case grbl.SpindleCW:
			b.WriteString("|A:S")
		case grbl.SpindleCCW:
			b.WriteString("|A:C")
		}
	}
	d.reportCount++

	b.WriteByte('>')

	return b.String()
}

func formatPosition(p grbl.Position) string {
	return fmt.Sprintf("%.3f,%.3f,%.3f", p.X, p.Y, p.Z)
}

func formatNumber(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
