// Package grbl provides the protocol primitives for talking to GRBL-style CNC controllers.
//
// The controller speaks a newline-delimited text protocol. Buffered commands are
// written one line at a time and each is acknowledged with "ok" or "error:<n>".
// Real-time commands are single bytes that bypass the controller's line buffer and
// are never acknowledged. The controller also emits asynchronous, bracketed status
// reports such as:
//
//	<Idle|MPos:0.000,0.000,0.000|FS:0,0|WCO:0.000,0.000,0.000>
//
// This package contains the pieces that do not own any I/O:
//   - ParseStatusReport and Merge, which turn status reports into a MachineState.
//   - LineFramer, which splits a byte stream into complete lines.
//   - ClassifyReply, which tells acknowledgments, status reports and informational lines apart.
//   - The real-time command bytes.
//   - The Link and Controller interfaces, the Event types delivered to an EventHandler,
//     and the sentinel errors shared by the session, link and sim packages.
//
// It also provides TaskManager and ConnLifecycle, the goroutine and lifecycle helpers
// used by the session package.
package grbl
