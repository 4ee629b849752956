package grbl

// JobState is the state of a job runner.
type JobState int32

const (
	JobIdle JobState = iota
	JobRunning
	JobPaused
	JobStopped
	JobComplete
)

func (s JobState) String() string {
	switch s {
	case JobIdle:
		return "Idle"
	case JobRunning:
		return "Running"
	case JobPaused:
		return "Paused"
	case JobStopped:
		return "Stopped"
	case JobComplete:
		return "Complete"
	default:
		return "Unknown"
	}
}

// IsActive reports whether the job is running or paused.
func (s JobState) IsActive() bool {
	return s == JobRunning || s == JobPaused
}

// JobOptions controls how a job is started.
type JobOptions struct {
	// StartLine is the zero-based index of the first line to send.
	StartLine int
	// DryRun skips spindle lines, see HasSpindlePrefix.
	DryRun bool
}

// JobStatus is a snapshot of the job runner.
type JobStatus struct {
	State  JobState
	Cursor int
	Total  int
	DryRun bool
}

// Progress returns the completed percentage of the job.
func (s JobStatus) Progress() float64 {
	return Percentage(s.Cursor, s.Total)
}

// Percentage returns sent/total*100, or 0 when total is zero.
func Percentage(sent, total int) float64 {
	if total <= 0 {
		return 0
	}

	return float64(sent) / float64(total) * 100
}
