package grbl

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLineFramer_SplitAcrossChunks(t *testing.T) {
	f := NewLineFramer(0)

	lines := f.Feed([]byte("<Idl"))
	assert.Empty(t, lines)
	assert.Equal(t, 4, f.Pending())

	lines = f.Feed([]byte("e|MPos:0,0,0>\nok\n"))
	assert.Equal(t, []string{"<Idle|MPos:0,0,0>", "ok"}, lines)
	assert.Equal(t, 0, f.Pending())
}

func TestLineFramer_ByteByByte(t *testing.T) {
	f := NewLineFramer(0)
	input := "ok\r\nerror:9\r\n\r\nGrbl 1.1h ['$' for help]\r\n[MSG:"

	var lines []string
	for i := 0; i < len(input); i++ {
		lines = append(lines, f.Feed([]byte{input[i]})...)
	}

	assert.Equal(t, []string{"ok", "error:9", "Grbl 1.1h ['$' for help]"}, lines)
	assert.Equal(t, len("[MSG:"), f.Pending())
}

func TestLineFramer_Overflow(t *testing.T) {
	f := NewLineFramer(8)

	lines := f.Feed([]byte(strings.Repeat("A", 6)))
	assert.Empty(t, lines)

	lines = f.Feed([]byte(strings.Repeat("B", 6)))
	assert.Empty(t, lines)
	assert.Equal(t, 1, f.Overflows())
	assert.Equal(t, 0, f.Pending())

	// the tail of the oversized line is discarded up to its line feed
	lines = f.Feed([]byte("CC\nok\n"))
	assert.Equal(t, []string{"ok"}, lines)

	lines = f.Feed([]byte(strings.Repeat("D", 9) + "\nok\n"))
	assert.Equal(t, []string{"ok"}, lines)
	assert.Equal(t, 2, f.Overflows())
}

func TestLineFramer_Reset(t *testing.T) {
	f := NewLineFramer(0)
	f.Feed([]byte("<Run|MPos"))
	f.Reset()

	assert.Equal(t, []string{"ok"}, f.Feed([]byte("ok\n")))
}
