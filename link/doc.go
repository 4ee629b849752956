// Package link provides the physical grbl.Link implementations: a serial port backed
// by go.bug.st/serial, and a TCP connection for controllers behind a serial-to-network
// bridge.
//
// Both links can be opened again after Close, so a session can reconnect over the
// same Link value.
package link
