package grbl

import (
	"strings"
)

// HasSpindlePrefix reports whether line starts with M3, M4 or M5, case-insensitively.
//
// Only the literal prefix is checked: a spindle word later on the line is not
// recognized, and "M30" matches the "M3" prefix. Dry-run jobs skip exactly the
// lines this function accepts.
func HasSpindlePrefix(line string) bool {
	line = strings.TrimSpace(line)
	if len(line) < 2 {
		return false
	}

	if line[0] != 'M' && line[0] != 'm' {
		return false
	}

	switch line[1] {
	case '3', '4', '5':
		return true
	}

	return false
}

// SpindleCommandDirection returns the spindle direction selected by the last M3, M4
// or M5 word on a command line. Comments are ignored.
func SpindleCommandDirection(line string) (SpindleDirection, bool) {
	var (
		dir   SpindleDirection
		found bool
	)

	for _, word := range ParseWords(line) {
		if word.Letter != 'M' {
			continue
		}

		switch word.Value {
		case "3", "03":
			dir, found = SpindleCW, true
		case "4", "04":
			dir, found = SpindleCCW, true
		case "5", "05":
			dir, found = SpindleOff, true
		}
	}

	return dir, found
}

// Word is one letter/value pair of a g-code line, e.g. "G1" or "X-2.5".
// Letter is upper case; Value is the unparsed number.
type Word struct {
	Letter byte
	Value  string
}

// ParseWords splits a g-code line into words, skipping parenthesized comments and
// everything after ';'. Letters without a number are dropped.
func ParseWords(line string) []Word {
	var (
		words   []Word
		comment bool
	)

	for i := 0; i < len(line); i++ {
		c := line[i]
		switch {
		case comment:
			if c == ')' {
				comment = false
			}
			continue
		case c == '(':
			comment = true
			continue
		case c == ';':
			return words
		}

		letter := upper(c)
		if letter < 'A' || letter > 'Z' {
			continue
		}

		j := i + 1
		for j < len(line) && (line[j] == ' ' || line[j] == '\t') {
			j++
		}
		start := j
		for j < len(line) && isNumberByte(line[j]) {
			j++
		}
		if j == start {
			continue
		}

		words = append(words, Word{Letter: letter, Value: line[start:j]})
		i = j - 1
	}

	return words
}

func upper(c byte) byte {
	if c >= 'a' && c <= 'z' {
		return c - ('a' - 'A')
	}

	return c
}

func isNumberByte(c byte) bool {
	return (c >= '0' && c <= '9') || c == '.' || c == '-' || c == '+'
}
