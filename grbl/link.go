package grbl

import (
	"context"
	"io"
)

// LinkKind identifies the family of a Link.
type LinkKind string

const (
	LinkSerial    LinkKind = "serial"
	LinkTCP       LinkKind = "tcp"
	LinkSimulated LinkKind = "simulated"
)

// PortInfo describes the endpoint of a Link. It is carried by the connected event.
type PortInfo struct {
	Kind LinkKind
	// Name is the serial device path, the TCP address, or the simulator name.
	Name string
	// BaudRate is zero for links without a baud rate.
	BaudRate int
}

// Link is a duplex byte stream to a controller.
//
// A Link is owned by exactly one session while connected. Read blocks until data
// arrives, the link fails, or the link is closed; a Read returning (0, nil) is treated
// as "no data yet". Close must unblock a pending Read. A Link may be opened again after
// it has been closed.
type Link interface {
	io.ReadWriteCloser
	// Open establishes the underlying connection.
	Open(ctx context.Context) error
	// Info describes the link endpoint.
	Info() PortInfo
}
