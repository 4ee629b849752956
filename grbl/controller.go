package grbl

import "context"

// Controller is the capability interface shared by the live and simulated backends.
//
// Job and event semantics are identical for every backend; only the Link differs.
type Controller interface {
	// Connect opens the link, starts the status poller and the read loop, and emits a
	// ConnectedEvent.
	Connect(ctx context.Context) error
	// Disconnect stops any job, closes the link and emits a DisconnectedEvent.
	// It is idempotent.
	Disconnect() error
	// SendLine writes a manual command line without waiting for its acknowledgment.
	SendLine(ctx context.Context, line string) error
	// SendGCode writes a command line and waits for its acknowledgment.
	SendGCode(ctx context.Context, line string) error
	// StartJob streams lines to the controller.
	StartJob(lines []string, opts JobOptions) error
	PauseJob() error
	ResumeJob() error
	// StopJob soft-resets the controller and stops the job. It is safe from any state.
	StopJob()
	// EmergencyStop soft-resets the controller regardless of the job state.
	EmergencyStop()

	// AddEventHandler registers a handler for session events.
	AddEventHandler(handler EventHandler)
	// MachineState returns the latest known controller state.
	MachineState() MachineState
	// JobStatus returns a snapshot of the job runner.
	JobStatus() JobStatus
	IsConnected() bool
}
