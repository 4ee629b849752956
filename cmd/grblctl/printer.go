package main

import (
	"fmt"
	"io"
	"sync"

	"github.com/arloliu/go-grbl/grbl"
)

// eventPrinter writes session events as human readable lines.
//
// State changes are printed only when the controller status changes; the status
// poller would flood the terminal otherwise.
type eventPrinter struct {
	mu         sync.Mutex
	w          io.Writer
	lastStatus grbl.Status
	// quiet suppresses "sent" logs, which echo what the console user just typed.
	quiet bool
}

func newEventPrinter(w io.Writer) *eventPrinter {
	return &eventPrinter{w: w}
}

func (p *eventPrinter) handle(evt grbl.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()

	switch e := evt.(type) {
	case grbl.ConnectedEvent:
		p.printf("connected to %s (%s)", e.Port.Name, e.Port.Kind)
		p.lastStatus = ""
	case grbl.DisconnectedEvent:
		p.printf("disconnected")
	case grbl.LogEvent:
		if p.quiet && e.Kind == grbl.LogSent {
			return
		}
		p.printf("[%s] %s", e.Kind, e.Message)
	case grbl.ProgressEvent:
		p.printf("progress %d/%d (%.1f%%)", e.Sent, e.Total, e.Percentage)
	case grbl.ErrorEvent:
		p.printf("error: %s", e.Message)
	case grbl.StateChangedEvent:
		if e.State.Status == p.lastStatus {
			return
		}
		p.lastStatus = e.State.Status
		p.printf("state %s", describeState(e.State))
	}
}

func (p *eventPrinter) printf(format string, args ...any) {
	fmt.Fprintf(p.w, format+"\n", args...)
}

func describeState(st grbl.MachineState) string {
	status := string(st.Status)
	code := st.AlarmCode
	if code == 0 {
		code = st.LastAlarmCode
	}
	if st.Status == grbl.StatusAlarm && code > 0 {
		status = fmt.Sprintf("%s:%d", status, code)
		if desc := grbl.AlarmDescription(code); desc != "" {
			status += " (" + desc + ")"
		}
	}

	return fmt.Sprintf("%s WPos %s MPos %s F%g S%g %s",
		status, st.WorkPosition, st.MachinePosition, st.FeedRate, st.Spindle.SpeedRPM, st.Spindle.Direction)
}
