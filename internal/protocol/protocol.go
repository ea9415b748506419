package protocol

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// Keyword is the command name carried in a frame header.
type Keyword string

// Referee -> runner.
const (
	View            Keyword = "VIEW"
	Infos           Keyword = "INFOS"
	NextPlayerInput Keyword = "NEXT_PLAYER_INPUT"
	NextPlayerInfo  Keyword = "NEXT_PLAYER_INFO"
	Scores          Keyword = "SCORES"
	UInput          Keyword = "UINPUT"
	Tooltip         Keyword = "TOOLTIP"
	Summary         Keyword = "SUMMARY"
	Metadata        Keyword = "METADATA"
	Fail            Keyword = "FAIL"
)

// Runner -> referee.
const (
	Init             Keyword = "INIT"
	GetGameInfo      Keyword = "GET_GAME_INFO"
	SetPlayerOutput  Keyword = "SET_PLAYER_OUTPUT"
	SetPlayerTimeout Keyword = "SET_PLAYER_TIMEOUT"
)

// RefereeKeywords is the closed vocabulary a runner accepts from a referee.
var RefereeKeywords = []Keyword{View, Infos, NextPlayerInput, NextPlayerInfo, Scores, UInput, Tooltip, Summary, Metadata, Fail}

// RunnerKeywords is the closed vocabulary a referee accepts from a runner.
var RunnerKeywords = []Keyword{Init, GetGameInfo, SetPlayerOutput, SetPlayerTimeout}

var headerPattern = regexp.MustCompile(`^\[\[([A-Z_]+)\] ?([0-9]+)\]$`)

// Command is one framed message: a header naming the keyword and the body line
// count, followed by exactly that many lines.
type Command struct {
	Key   Keyword
	Lines []string
}

// NewCommand builds a command, splitting any line that carries embedded line
// breaks so the declared count always matches what is sent.
func NewCommand(key Keyword, lines ...string) Command {
	c := Command{Key: key}
	c.Add(lines...)
	return c
}

// Add appends body lines.
func (c *Command) Add(lines ...string) {
	for _, l := range lines {
		c.Lines = append(c.Lines, splitLines(l)...)
	}
}

// Body returns the body joined with '\n' (no trailing newline).
func (c Command) Body() string {
	return strings.Join(c.Lines, "\n")
}

// Header formats a frame header.
func Header(key Keyword, n int) string {
	return fmt.Sprintf("[[%s] %d]", key, n)
}

// Format renders the command on the wire: header, newline, then each body line
// newline-terminated.
func Format(c Command) string {
	var sb strings.Builder
	sb.WriteString(Header(c.Key, len(c.Lines)))
	sb.WriteByte('\n')
	for _, l := range c.Lines {
		sb.WriteString(l)
		sb.WriteByte('\n')
	}
	return sb.String()
}

// ParseHeader parses a header line. The keyword must belong to allowed when
// allowed is non-empty.
func ParseHeader(line string, allowed ...Keyword) (Keyword, int, error) {
	m := headerPattern.FindStringSubmatch(strings.TrimRight(line, "\r\n"))
	if m == nil {
		return "", 0, fmt.Errorf("%w: bad header %q", ErrViolation, line)
	}
	key := Keyword(m[1])
	if len(allowed) > 0 && !contains(allowed, key) {
		return "", 0, fmt.Errorf("%w: unexpected keyword %s", ErrViolation, key)
	}
	n, err := strconv.Atoi(m[2])
	if err != nil {
		return "", 0, fmt.Errorf("%w: bad line count %q", ErrViolation, m[2])
	}
	return key, n, nil
}

func contains(keys []Keyword, k Keyword) bool {
	for _, x := range keys {
		if x == k {
			return true
		}
	}
	return false
}

func splitLines(s string) []string {
	if !strings.ContainsAny(s, "\r\n") {
		return []string{s}
	}
	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = strings.ReplaceAll(s, "\r", "\n")
	return strings.Split(s, "\n")
}
