package session

import (
	"context"
	"testing"
	"time"

	"github.com/arloliu/go-grbl/grbl"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func progressSent(rec *eventRecorder) []int {
	var sent []int
	for _, p := range rec.progress() {
		sent = append(sent, p.Sent)
	}

	return sent
}

func TestJob_Complete(t *testing.T) {
	s, dev, rec := newTestSession(t)
	dev.autoAck.Store(true)
	connect(t, s, rec)

	lines := []string{"G21", "G0 X1", "G0 X2"}
	require.NoError(t, s.StartJob(lines, grbl.JobOptions{}))
	rec.waitLog(t, grbl.LogStatus, "job complete")

	for _, line := range lines {
		dev.expectLine(t, line)
	}

	assert.Equal(t, []int{0, 1, 2, 3, 3}, progressSent(rec))
	progress := rec.progress()
	assert.InDelta(t, 100.0, progress[len(progress)-1].Percentage, 1e-9)
	assert.Equal(t, lines, rec.logs(grbl.LogSent))
	assert.Equal(t, []string{"job started: 3 lines", "job complete"}, rec.logs(grbl.LogStatus))
	assert.Equal(t, grbl.JobStatus{State: grbl.JobComplete, Cursor: 3, Total: 3}, s.JobStatus())
	assert.False(t, s.HasPendingAck())

	// a finished job does not block manual commands or the next job
	require.NoError(t, s.SendGCode(context.Background(), "G0 X0"))
	require.NoError(t, s.StartJob(lines, grbl.JobOptions{}))
	rec.waitLog(t, grbl.LogStatus, "job complete")
}

func TestJob_StartLine(t *testing.T) {
	s, dev, rec := newTestSession(t)
	dev.autoAck.Store(true)
	connect(t, s, rec)

	lines := []string{"G21", "G0 X1", "G0 X2"}
	require.NoError(t, s.StartJob(lines, grbl.JobOptions{StartLine: 1}))
	rec.waitLog(t, grbl.LogStatus, "job complete")

	dev.expectLine(t, "G0 X1")
	dev.expectLine(t, "G0 X2")
	dev.expectNoLine(t, 20*time.Millisecond)
	assert.Equal(t, []int{1, 2, 3, 3}, progressSent(rec))
}

func TestJob_StartLineAtEnd(t *testing.T) {
	s, dev, rec := newTestSession(t)
	dev.autoAck.Store(true)
	connect(t, s, rec)

	require.NoError(t, s.StartJob([]string{"G21", "G0 X1"}, grbl.JobOptions{StartLine: 2}))
	rec.waitLog(t, grbl.LogStatus, "job complete")

	dev.expectNoLine(t, 20*time.Millisecond)
	assert.Equal(t, []int{2, 2}, progressSent(rec))
	assert.Equal(t, grbl.JobComplete, s.JobStatus().State)
}

func TestJob_DryRun(t *testing.T) {
	s, dev, rec := newTestSession(t)
	dev.autoAck.Store(true)
	connect(t, s, rec)

	lines := []string{"G21", "M3 S1000", "G0 X1", "m5"}
	require.NoError(t, s.StartJob(lines, grbl.JobOptions{DryRun: true}))
	rec.waitLog(t, grbl.LogStatus, "job complete")

	dev.expectLine(t, "G21")
	dev.expectLine(t, "G0 X1")
	dev.expectNoLine(t, 20*time.Millisecond)

	assert.Equal(t, []string{
		"job started: 4 lines (dry run)",
		"line 2: M3 S1000 skipped (dry run)",
		"line 4: m5 skipped (dry run)",
		"job complete",
	}, rec.logs(grbl.LogStatus))
	assert.Equal(t, []string{"G21", "G0 X1"}, rec.logs(grbl.LogSent))
	assert.Equal(t, []int{0, 1, 2, 3, 4, 4}, progressSent(rec))
	assert.Equal(t, grbl.JobStatus{State: grbl.JobComplete, Cursor: 4, Total: 4, DryRun: true}, s.JobStatus())
}

func TestJob_LineError(t *testing.T) {
	s, dev, rec := newTestSession(t)
	dev.autoAck.Store(true)
	dev.failLine("G0 X2", 9)
	connect(t, s, rec)

	require.NoError(t, s.StartJob([]string{"G0 X1", "G0 X2", "G0 X3"}, grbl.JobOptions{}))

	evt := rec.waitKind(t, grbl.EventError).(grbl.ErrorEvent)
	assert.Equal(t, "line 2 failed: G0 X2: error:9 (g-code lock)", evt.Message)

	var cmdErr *grbl.CommandError
	require.ErrorAs(t, evt.Err, &cmdErr)
	assert.Equal(t, 9, cmdErr.Code)

	dev.expectLine(t, "G0 X1")
	dev.expectLine(t, "G0 X2")
	dev.expectNoLine(t, 50*time.Millisecond)

	assert.Equal(t, grbl.JobStatus{State: grbl.JobStopped, Cursor: 1, Total: 3}, s.JobStatus())
	assert.Contains(t, rec.logs(grbl.LogError), "line 2 failed: G0 X2: error:9 (g-code lock)")
	assert.Equal(t, 1, rec.count(grbl.EventError))
	assert.NotContains(t, rec.logs(grbl.LogStatus), "job complete")
}

func TestJob_Stop(t *testing.T) {
	s, dev, rec := newTestSession(t)
	connect(t, s, rec)

	lines := []string{"G1 X10 F100", "G1 X20"}
	require.NoError(t, s.StartJob(lines, grbl.JobOptions{}))
	dev.expectLine(t, "G1 X10 F100")

	s.StopJob()
	dev.expectRealtime(t, grbl.SoftReset)
	rec.waitLog(t, grbl.LogStatus, "stopped by user")

	assert.Equal(t, grbl.JobStatus{State: grbl.JobStopped, Cursor: 0, Total: 2}, s.JobStatus())
	assert.False(t, s.HasPendingAck())

	s.StopJob()
	dev.expectNoLine(t, 50*time.Millisecond)
	assert.Len(t, rec.logs(grbl.LogStatus), 2)
	assert.Equal(t, 0, rec.count(grbl.EventError))

	// a stopped job can be restarted from the first line
	dev.autoAck.Store(true)
	require.NoError(t, s.StartJob(lines, grbl.JobOptions{}))
	rec.waitLog(t, grbl.LogStatus, "job complete")
	dev.expectLine(t, "G1 X10 F100")
	dev.expectLine(t, "G1 X20")
}

func TestJob_PauseResume(t *testing.T) {
	s, dev, rec := newTestSession(t)
	connect(t, s, rec)

	require.ErrorIs(t, s.PauseJob(), grbl.ErrInvalidJobState)
	require.ErrorIs(t, s.ResumeJob(), grbl.ErrInvalidJobState)

	require.NoError(t, s.StartJob([]string{"G0 X1", "G0 X2"}, grbl.JobOptions{}))
	dev.expectLine(t, "G0 X1")

	require.ErrorIs(t, s.SendGCode(context.Background(), "G0 Y1"), grbl.ErrJobActive)
	require.ErrorIs(t, s.SendLine(context.Background(), "G0 Y1"), grbl.ErrJobActive)

	require.NoError(t, s.PauseJob())
	dev.expectRealtime(t, grbl.FeedHold)
	rec.waitLog(t, grbl.LogStatus, "paused")
	require.ErrorIs(t, s.PauseJob(), grbl.ErrInvalidJobState)

	// the line in flight is still acknowledged, but no further line is sent
	dev.send("ok")
	require.Eventually(t, func() bool { return s.JobStatus().Cursor == 1 }, time.Second, 5*time.Millisecond)
	dev.expectNoLine(t, 50*time.Millisecond)
	assert.Equal(t, grbl.JobStatus{State: grbl.JobPaused, Cursor: 1, Total: 2}, s.JobStatus())

	require.NoError(t, s.ResumeJob())
	dev.expectRealtime(t, grbl.CycleResume)
	rec.waitLog(t, grbl.LogStatus, "resumed")
	dev.expectLine(t, "G0 X2")
	dev.send("ok")
	rec.waitLog(t, grbl.LogStatus, "job complete")

	require.ErrorIs(t, s.ResumeJob(), grbl.ErrInvalidJobState)
	assert.Equal(t, grbl.JobStatus{State: grbl.JobComplete, Cursor: 2, Total: 2}, s.JobStatus())
}

func TestJob_StopDuringStalledWrite(t *testing.T) {
	s, dev, rec := newTestSession(t)
	connect(t, s, rec)

	release := dev.stallWrites()
	released := false
	defer func() {
		if !released {
			release()
		}
	}()

	require.NoError(t, s.StartJob([]string{"G0 X1", "G0 X2"}, grbl.JobOptions{}))
	select {
	case <-dev.writeStalled:
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for the line write")
	}

	stopped := make(chan struct{})
	go func() {
		s.StopJob()
		close(stopped)
	}()

	// the job state stays reachable while the line write is stuck
	require.Eventually(t, func() bool {
		return s.JobStatus().State == grbl.JobStopped
	}, time.Second, 5*time.Millisecond)

	released = true
	release()
	select {
	case <-stopped:
	case <-time.After(time.Second):
		t.Fatal("StopJob did not return")
	}

	dev.expectLine(t, "G0 X1")
	dev.expectRealtime(t, grbl.SoftReset)
	rec.waitLog(t, grbl.LogStatus, "stopped by user")
	assert.Equal(t, grbl.JobStatus{State: grbl.JobStopped, Cursor: 0, Total: 2}, s.JobStatus())
	assert.False(t, s.HasPendingAck())
}

func TestJob_StopWhilePaused(t *testing.T) {
	s, dev, rec := newTestSession(t)
	connect(t, s, rec)

	require.NoError(t, s.StartJob([]string{"G0 X1", "G0 X2"}, grbl.JobOptions{}))
	dev.expectLine(t, "G0 X1")
	require.NoError(t, s.PauseJob())
	dev.expectRealtime(t, grbl.FeedHold)

	s.StopJob()
	dev.expectRealtime(t, grbl.SoftReset)
	rec.waitLog(t, grbl.LogStatus, "stopped by user")
	assert.Equal(t, grbl.JobStopped, s.JobStatus().State)
	require.ErrorIs(t, s.ResumeJob(), grbl.ErrInvalidJobState)
}

func TestJob_StartValidation(t *testing.T) {
	s, dev, rec := newTestSession(t)

	require.ErrorIs(t, s.StartJob([]string{"G21"}, grbl.JobOptions{}), grbl.ErrNotConnected)

	connect(t, s, rec)

	require.ErrorIs(t, s.StartJob([]string{"G21"}, grbl.JobOptions{StartLine: -1}), grbl.ErrInvalidStartLine)
	require.ErrorIs(t, s.StartJob([]string{"G21"}, grbl.JobOptions{StartLine: 2}), grbl.ErrInvalidStartLine)

	require.NoError(t, s.SendLine(context.Background(), "$H"))
	dev.expectLine(t, "$H")
	require.ErrorIs(t, s.StartJob([]string{"G21"}, grbl.JobOptions{}), grbl.ErrAckPending)
	dev.send("ok")
	require.Eventually(t, func() bool { return !s.HasPendingAck() }, time.Second, 5*time.Millisecond)

	require.NoError(t, s.StartJob([]string{"G21", "G0 X1"}, grbl.JobOptions{}))
	dev.expectLine(t, "G21")
	require.ErrorIs(t, s.StartJob([]string{"G21"}, grbl.JobOptions{}), grbl.ErrJobActive)
	assert.Equal(t, grbl.JobStatus{State: grbl.JobRunning, Cursor: 0, Total: 2}, s.JobStatus())

	s.StopJob()
}

func TestJob_StartCopiesLines(t *testing.T) {
	s, dev, rec := newTestSession(t)
	connect(t, s, rec)

	lines := []string{"G0 X1", "G0 X2"}
	require.NoError(t, s.StartJob(lines, grbl.JobOptions{}))
	dev.expectLine(t, "G0 X1")
	lines[1] = "G0 X99"

	dev.send("ok")
	dev.expectLine(t, "G0 X2")
	s.StopJob()
}

func TestJob_AlarmStatusReport(t *testing.T) {
	s, dev, rec := newTestSession(t)
	connect(t, s, rec)

	require.NoError(t, s.StartJob([]string{"G0 X1", "G1 X100 F10", "G0 X0"}, grbl.JobOptions{}))
	dev.expectLine(t, "G0 X1")
	dev.send("ok")
	dev.expectLine(t, "G1 X100 F10")

	dev.send("<Alarm:1|MPos:0.000,0.000,0.000|FS:0,0>")

	evt := rec.waitKind(t, grbl.EventError).(grbl.ErrorEvent)
	assert.Equal(t, "job stopped: controller alarm 1 (hard limit)", evt.Message)
	require.ErrorIs(t, evt.Err, grbl.ErrAlarm)

	assert.Equal(t, grbl.JobStatus{State: grbl.JobStopped, Cursor: 0, Total: 3}, s.JobStatus())
	assert.Equal(t, []int{0, 1, 0}, progressSent(rec))
	assert.Contains(t, rec.logs(grbl.LogError), "job stopped: controller alarm 1 (hard limit)")
	assert.False(t, s.HasPendingAck())

	state := s.MachineState()
	assert.Equal(t, grbl.StatusAlarm, state.Status)
	assert.Equal(t, 1, state.AlarmCode)

	dev.expectNoLine(t, 50*time.Millisecond)
	assert.Equal(t, 1, rec.count(grbl.EventError))
}

func TestJob_AlarmMessage(t *testing.T) {
	s, dev, rec := newTestSession(t)
	connect(t, s, rec)

	require.NoError(t, s.StartJob([]string{"G1 X500 F100", "G0 X0"}, grbl.JobOptions{}))
	dev.expectLine(t, "G1 X500 F100")

	dev.send("ALARM:2")

	evt := rec.waitKind(t, grbl.EventError).(grbl.ErrorEvent)
	assert.Equal(t, "job stopped: controller alarm 2 (soft limit)", evt.Message)
	assert.Equal(t, grbl.JobStopped, s.JobStatus().State)

	// later bare "Alarm" reports clear the code and do not report the alarm again
	dev.report.Store("<Alarm|MPos:1.000,0.000,0.000|FS:0,0>")
	require.NoError(t, s.RequestStatus())
	require.Eventually(t, func() bool {
		return s.MachineState().MachinePosition.X == 1
	}, time.Second, 5*time.Millisecond)

	assert.Equal(t, 0, s.MachineState().AlarmCode)
	assert.Equal(t, 2, s.MachineState().LastAlarmCode)
	assert.Equal(t, 1, rec.count(grbl.EventError))
}
