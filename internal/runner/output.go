package runner

import "strings"

// outputCheck classifies a captured output against the expected line count.
type outputCheck int

const (
	outputOK outputCheck = iota
	outputTimeout
	outputTooShort
	outputTooLong
)

func (c outputCheck) String() string {
	switch c {
	case outputOK:
		return "ok"
	case outputTimeout:
		return "timeout"
	case outputTooShort:
		return "too short"
	default:
		return "too long"
	}
}

// checkOutput counts '\n' in out. Empty output is only valid when nothing was
// expected.
func checkOutput(out string, expected int) outputCheck {
	if out == "" {
		if expected <= 0 {
			return outputOK
		}
		return outputTimeout
	}
	n := strings.Count(out, "\n")
	switch {
	case n < expected:
		return outputTooShort
	case n > expected:
		return outputTooLong
	}
	return outputOK
}

// splitLines returns the first n lines of a checked output.
func splitLines(out string, n int) []string {
	if n <= 0 {
		return nil
	}
	lines := strings.Split(strings.TrimSuffix(out, "\n"), "\n")
	if len(lines) > n {
		lines = lines[:n]
	}
	return lines
}

// Answer is the result of asking a player for output: either exactly the
// expected lines, or no valid answer.
type Answer struct {
	Lines []string
	Valid bool
	Check string
}
