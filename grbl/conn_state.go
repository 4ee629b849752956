package grbl

import "sync/atomic"

// ConnState is where a session is in its connect/disconnect cycle.
type ConnState uint32

const (
	ConnDisconnected ConnState = iota
	// ConnConnecting: the link is being opened.
	ConnConnecting
	// ConnConnected: the read loop and the status poller are running.
	ConnConnected
	// ConnDisconnecting: the job is aborted and the link is being closed.
	ConnDisconnecting
)

func (st ConnState) String() string {
	switch st {
	case ConnDisconnected:
		return "disconnected"
	case ConnConnecting:
		return "connecting"
	case ConnConnected:
		return "connected"
	case ConnDisconnecting:
		return "disconnecting"
	default:
		return "unknown"
	}
}

// ConnLifecycle guards the connect/disconnect cycle of a session:
//
//	disconnected -> connecting -> connected -> disconnecting -> disconnected
//
// A failed link open goes from connecting straight back to disconnected. Command
// lines and real-time bytes are accepted only while connected, and exactly one
// caller wins BeginDisconnect, so a user disconnect and a link failure never tear
// the same connection down twice.
type ConnLifecycle struct {
	state atomic.Uint32
}

// State returns the current state.
func (c *ConnLifecycle) State() ConnState {
	return ConnState(c.state.Load())
}

func (c *ConnLifecycle) String() string {
	return c.State().String()
}

// IsConnected reports whether the link is open and the session tasks run.
func (c *ConnLifecycle) IsConnected() bool {
	return c.State() == ConnConnected
}

// BeginConnect claims a disconnected session for a connect attempt.
func (c *ConnLifecycle) BeginConnect() bool {
	return c.move(ConnDisconnected, ConnConnecting)
}

// AbortConnect returns a failed connect attempt to disconnected.
func (c *ConnLifecycle) AbortConnect() bool {
	return c.move(ConnConnecting, ConnDisconnected)
}

// FinishConnect marks the link open.
func (c *ConnLifecycle) FinishConnect() bool {
	return c.move(ConnConnecting, ConnConnected)
}

// BeginDisconnect claims the teardown of a connected session.
func (c *ConnLifecycle) BeginDisconnect() bool {
	return c.move(ConnConnected, ConnDisconnecting)
}

// FinishDisconnect marks the teardown done.
func (c *ConnLifecycle) FinishDisconnect() bool {
	return c.move(ConnDisconnecting, ConnDisconnected)
}

func (c *ConnLifecycle) move(from, to ConnState) bool {
	return c.state.CompareAndSwap(uint32(from), uint32(to))
}
