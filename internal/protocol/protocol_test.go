package protocol

import (
	"errors"
	"strings"
	"testing"
)

func TestFormat_HeaderAndBody(t *testing.T) {
	got := Format(NewCommand(NextPlayerInfo, "0", "2", "50"))
	want := "[[NEXT_PLAYER_INFO] 3]\n0\n2\n50\n"
	if got != want {
		t.Fatalf("Format=%q want %q", got, want)
	}
	if got := Format(NewCommand(SetPlayerTimeout)); got != "[[SET_PLAYER_TIMEOUT] 0]\n" {
		t.Fatalf("empty Format=%q", got)
	}
}

func TestNewCommand_SplitsEmbeddedBreaks(t *testing.T) {
	c := NewCommand(Fail, "line one\nline two\r\nline three")
	if len(c.Lines) != 3 {
		t.Fatalf("lines=%d want 3 (%q)", len(c.Lines), c.Lines)
	}
	if !strings.HasPrefix(Format(c), "[[FAIL] 3]\n") {
		t.Fatalf("header does not match body: %q", Format(c))
	}
}

func TestParseHeader(t *testing.T) {
	cases := []struct {
		line string
		key  Keyword
		n    int
		ok   bool
	}{
		{"[[VIEW] 2]", View, 2, true},
		{"[[INIT]3]", Init, 3, true},
		{"[[SCORES] 0]\r\n", Scores, 0, true},
		{"[VIEW] 2]", "", 0, false},
		{"[[VIEW] -1]", "", 0, false},
		{"[[VIEW] x]", "", 0, false},
		{"hello", "", 0, false},
	}
	for _, tc := range cases {
		key, n, err := ParseHeader(tc.line)
		if tc.ok != (err == nil) {
			t.Fatalf("ParseHeader(%q) err=%v want ok=%v", tc.line, err, tc.ok)
		}
		if !tc.ok {
			if !errors.Is(err, ErrViolation) {
				t.Fatalf("ParseHeader(%q) err=%v want ErrViolation", tc.line, err)
			}
			continue
		}
		if key != tc.key || n != tc.n {
			t.Fatalf("ParseHeader(%q)=(%s,%d) want (%s,%d)", tc.line, key, n, tc.key, tc.n)
		}
	}
}

func TestParseHeader_RejectsForeignKeyword(t *testing.T) {
	if _, _, err := ParseHeader("[[VIEW] 1]", RunnerKeywords...); !errors.Is(err, ErrViolation) {
		t.Fatalf("err=%v want ErrViolation", err)
	}
	if _, _, err := ParseHeader("[[BOGUS] 1]", RefereeKeywords...); !errors.Is(err, ErrViolation) {
		t.Fatalf("err=%v want ErrViolation", err)
	}
}

func TestReader_ReadsExactlyDeclaredLines(t *testing.T) {
	in := "[[SET_PLAYER_OUTPUT] 2]\na\nb\n[[GET_GAME_INFO] 0]\n"
	r := NewReader(strings.NewReader(in))
	c, err := r.ReadCommand(RunnerKeywords...)
	if err != nil {
		t.Fatalf("ReadCommand: %v", err)
	}
	if c.Key != SetPlayerOutput || len(c.Lines) != 2 || c.Lines[0] != "a" || c.Lines[1] != "b" {
		t.Fatalf("got %+v", c)
	}
	c, err = r.ReadCommand(RunnerKeywords...)
	if err != nil {
		t.Fatalf("second ReadCommand: %v", err)
	}
	if c.Key != GetGameInfo || len(c.Lines) != 0 {
		t.Fatalf("got %+v", c)
	}
}

func TestReader_ShortBodyIsViolation(t *testing.T) {
	r := NewReader(strings.NewReader("[[SET_PLAYER_OUTPUT] 3]\na\nb\n"))
	if _, err := r.ReadCommand(); !errors.Is(err, ErrViolation) {
		t.Fatalf("err=%v want ErrViolation", err)
	}
}

func TestReader_ExtraLineIsViolation(t *testing.T) {
	r := NewReader(strings.NewReader("[[SET_PLAYER_OUTPUT] 1]\na\nb\n"))
	if _, err := r.ReadCommand(); err != nil {
		t.Fatalf("first: %v", err)
	}
	if _, err := r.ReadCommand(); !errors.Is(err, ErrViolation) {
		t.Fatalf("trailing body line err=%v want ErrViolation", err)
	}
}

func TestReader_RoundTripsFormat(t *testing.T) {
	for n := 0; n < 5; n++ {
		lines := make([]string, n)
		for i := range lines {
			lines[i] = strings.Repeat("x", i)
		}
		c := NewCommand(View, lines...)
		got, err := NewReader(strings.NewReader(Format(c))).ReadCommand(RefereeKeywords...)
		if err != nil {
			t.Fatalf("n=%d: %v", n, err)
		}
		if len(got.Lines) != n {
			t.Fatalf("n=%d: got %d lines", n, len(got.Lines))
		}
	}
}
