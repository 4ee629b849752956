package grbl

import "fmt"

// EventKind identifies the type of an Event.
type EventKind int

const (
	EventConnected EventKind = iota
	EventDisconnected
	EventLog
	EventProgress
	EventError
	EventStateChanged
)

func (k EventKind) String() string {
	switch k {
	case EventConnected:
		return "connected"
	case EventDisconnected:
		return "disconnected"
	case EventLog:
		return "log"
	case EventProgress:
		return "progress"
	case EventError:
		return "error"
	case EventStateChanged:
		return "stateChanged"
	default:
		return fmt.Sprintf("EventKind(%d)", int(k))
	}
}

// Event is a notification emitted by a session.
type Event interface {
	EventKind() EventKind
}

// EventHandler receives session events. Handlers are called from a single dispatcher
// goroutine, in emission order, and may call back into the session.
type EventHandler func(evt Event)

// LogKind is the category of a LogEvent.
type LogKind string

const (
	LogSent     LogKind = "sent"
	LogReceived LogKind = "received"
	LogStatus   LogKind = "status"
	LogError    LogKind = "error"
)

type ConnectedEvent struct {
	Port PortInfo
}

type DisconnectedEvent struct{}

type LogEvent struct {
	Kind    LogKind
	Message string
}

// ProgressEvent reports job progress. Sent is the number of lines processed so far.
type ProgressEvent struct {
	Percentage float64
	Sent       int
	Total      int
}

// ErrorEvent is a user visible error. Err is the underlying error, if any.
type ErrorEvent struct {
	Message string
	Err     error
}

type StateChangedEvent struct {
	State MachineState
}

func (ConnectedEvent) EventKind() EventKind    { return EventConnected }
func (DisconnectedEvent) EventKind() EventKind { return EventDisconnected }
func (LogEvent) EventKind() EventKind          { return EventLog }
func (ProgressEvent) EventKind() EventKind     { return EventProgress }
func (ErrorEvent) EventKind() EventKind        { return EventError }
func (StateChangedEvent) EventKind() EventKind { return EventStateChanged }
