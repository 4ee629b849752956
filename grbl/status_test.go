package grbl

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseStatus(t *testing.T) {
	tests := []struct {
		in   string
		want Status
	}{
		{"Idle", StatusIdle},
		{"idle", StatusIdle},
		{"RUN", StatusRun},
		{"Hold", StatusHold},
		{"jog", StatusJog},
		{"Alarm", StatusAlarm},
		{"door", StatusDoor},
		{"Check", StatusCheck},
		{"HOME", StatusHome},
		{"Sleep", StatusSleep},
		{"tool", Status("Tool")},
		{"PROBING", Status("Probing")},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got := ParseStatus(tt.in)
			assert.Equal(t, tt.want, got)
		})
	}

	assert.True(t, StatusRun.IsKnown())
	assert.False(t, Status("Tool").IsKnown())
}

func TestParseStatusReport(t *testing.T) {
	upd, err := ParseStatusReport("<Run|MPos:1.000,2.500,-3.000|WPos:0.000,0.500,-1.000|FS:500,12000|Ov:110,100,90>")
	require.NoError(t, err)

	assert.Equal(t, StatusRun, upd.Status)
	assert.Equal(t, 0, upd.AlarmCode)
	require.NotNil(t, upd.MachinePosition)
	assert.Equal(t, Position{X: 1, Y: 2.5, Z: -3}, *upd.MachinePosition)
	require.NotNil(t, upd.WorkPosition)
	assert.Equal(t, Position{X: 0, Y: 0.5, Z: -1}, *upd.WorkPosition)
	require.NotNil(t, upd.SpindleSpeed)
	assert.InDelta(t, 12000, *upd.SpindleSpeed, 0)
	require.NotNil(t, upd.FeedRate)
	assert.InDelta(t, 500, *upd.FeedRate, 0)
	require.NotNil(t, upd.Overrides)
	assert.Equal(t, Overrides{Feed: 110, Rapid: 100, Spindle: 90}, *upd.Overrides)
	assert.Nil(t, upd.WorkOffset)
	assert.Nil(t, upd.Buffer)
}

func TestParseStatusReport_Alarm(t *testing.T) {
	upd, err := ParseStatusReport("<Alarm:1|MPos:0,0,0>")
	require.NoError(t, err)
	assert.Equal(t, StatusAlarm, upd.Status)
	assert.Equal(t, 1, upd.AlarmCode)

	upd, err = ParseStatusReport("<alarm|MPos:0,0,0>")
	require.NoError(t, err)
	assert.Equal(t, StatusAlarm, upd.Status)
	assert.Equal(t, 0, upd.AlarmCode)

	upd, err = ParseStatusReport("<Hold:0|MPos:0,0,0>")
	require.NoError(t, err)
	assert.Equal(t, StatusHold, upd.Status)
	assert.Equal(t, 0, upd.AlarmCode)
}

func TestParseStatusReport_MalformedFieldsIgnored(t *testing.T) {
	upd, err := ParseStatusReport("<Idle|MPos:1,2|WPos:a,b,c|Ov:100,100|FS:10|Bf:15,128|Foo:bar|junk>")
	require.NoError(t, err)

	assert.Equal(t, StatusIdle, upd.Status)
	assert.Nil(t, upd.MachinePosition)
	assert.Nil(t, upd.WorkPosition)
	assert.Nil(t, upd.Overrides)
	assert.Nil(t, upd.SpindleSpeed)
	require.NotNil(t, upd.Buffer)
	assert.Equal(t, BufferState{PlannerBlocks: 15, RxBytes: 128}, *upd.Buffer)

	upd, err = ParseStatusReport("<Idle|Ov:100,100,100,100>")
	require.NoError(t, err)
	assert.Nil(t, upd.Overrides)
}

func TestParseStatusReport_ExtraAxesAndFeedOnly(t *testing.T) {
	upd, err := ParseStatusReport("<Jog|MPos:1,2,3,4|F:250|WCO:0.5,0.5,0>")
	require.NoError(t, err)

	assert.Equal(t, StatusJog, upd.Status)
	assert.Equal(t, Position{X: 1, Y: 2, Z: 3}, *upd.MachinePosition)
	assert.InDelta(t, 250, *upd.FeedRate, 0)
	assert.Nil(t, upd.SpindleSpeed)
	assert.Equal(t, Position{X: 0.5, Y: 0.5}, *upd.WorkOffset)
}

func TestParseStatusReport_Malformed(t *testing.T) {
	for _, line := range []string{"", "ok", "Idle|MPos:0,0,0", "<Idle|MPos:0,0,0", "<>", "<|MPos:0,0,0>"} {
		t.Run(line, func(t *testing.T) {
			_, err := ParseStatusReport(line)
			require.ErrorIs(t, err, ErrMalformedReport)
		})
	}
}

func TestStatusUpdate_WithDerivedPositions(t *testing.T) {
	upd, err := ParseStatusReport("<Idle|MPos:10,10,5|WCO:2,3,1>")
	require.NoError(t, err)

	upd = upd.WithDerivedPositions(Position{})
	require.NotNil(t, upd.WorkPosition)
	assert.Equal(t, Position{X: 8, Y: 7, Z: 4}, *upd.WorkPosition)

	upd, err = ParseStatusReport("<Idle|WPos:1,1,1>")
	require.NoError(t, err)
	upd = upd.WithDerivedPositions(Position{X: 1, Y: 2, Z: 3})
	assert.Equal(t, Position{X: 2, Y: 3, Z: 4}, *upd.MachinePosition)

	upd, err = ParseStatusReport("<Idle|FS:0,0>")
	require.NoError(t, err)
	upd = upd.WithDerivedPositions(Position{X: 1})
	assert.Nil(t, upd.MachinePosition)
	assert.Nil(t, upd.WorkPosition)
}
