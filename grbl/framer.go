package grbl

import "bytes"

// DefaultMaxLineSize is the longest line a LineFramer keeps by default.
const DefaultMaxLineSize = 4096

// LineFramer accumulates chunks read from a link and splits them into complete lines.
//
// Lines are terminated by LF; a trailing CR is stripped and empty lines are dropped.
// Bytes after the last LF stay in the framer until a later chunk completes them.
// A line growing beyond the maximum size is discarded up to its terminating LF.
//
// LineFramer is not safe for concurrent use.
type LineFramer struct {
	buf       []byte
	maxSize   int
	discard   bool
	overflows int
}

// NewLineFramer creates a LineFramer. A maxLineSize <= 0 selects DefaultMaxLineSize.
func NewLineFramer(maxLineSize int) *LineFramer {
	if maxLineSize <= 0 {
		maxLineSize = DefaultMaxLineSize
	}

	return &LineFramer{maxSize: maxLineSize}
}

// Feed appends chunk to the framer and returns the lines it completed.
func (f *LineFramer) Feed(chunk []byte) []string {
	var lines []string

	for len(chunk) > 0 {
		idx := bytes.IndexByte(chunk, '\n')
		if idx < 0 {
			f.appendPartial(chunk)
			break
		}

		part := chunk[:idx]
		chunk = chunk[idx+1:]

		if f.discard {
			f.discard = false
			continue
		}

		f.buf = append(f.buf, part...)
		if len(f.buf) > f.maxSize {
			f.buf = f.buf[:0]
			f.overflows++
			continue
		}

		line := bytes.TrimRight(f.buf, "\r")
		if len(line) > 0 {
			lines = append(lines, string(line))
		}
		f.buf = f.buf[:0]
	}

	return lines
}

func (f *LineFramer) appendPartial(chunk []byte) {
	if f.discard {
		return
	}

	f.buf = append(f.buf, chunk...)
	if len(f.buf) > f.maxSize {
		f.buf = f.buf[:0]
		f.discard = true
		f.overflows++
	}
}

// Pending returns the number of buffered bytes not yet terminated by a line feed.
func (f *LineFramer) Pending() int {
	return len(f.buf)
}

// Overflows returns how many oversized lines have been discarded.
func (f *LineFramer) Overflows() int {
	return f.overflows
}

// Reset drops any partial line.
func (f *LineFramer) Reset() {
	f.buf = f.buf[:0]
	f.discard = false
}
