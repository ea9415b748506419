package engine

import (
	"bytes"
	"errors"
	"log"
	"strings"
	"testing"
)

func TestQuotaWarnsOnceThenFails(t *testing.T) {
	var buf bytes.Buffer
	q := NewQuota("bytes", 10, 20, log.New(&buf, "", 0))
	for i := 0; i < 4; i++ {
		if err := q.Add(4); err != nil {
			t.Fatalf("add %d: %v", i, err)
		}
	}
	if !q.Warned() {
		t.Fatalf("soft threshold not reported")
	}
	if n := strings.Count(buf.String(), "warning"); n != 1 {
		t.Fatalf("warnings=%d want 1", n)
	}
	if err := q.Add(5); !errors.Is(err, ErrQuotaExceeded) {
		t.Fatalf("err=%v want quota exceeded", err)
	}
	if q.Total() != 21 {
		t.Fatalf("total=%d want 21", q.Total())
	}
	if err := q.Add(-30); !errors.Is(err, ErrQuotaExceeded) {
		t.Fatalf("negative add lowered the counter: err=%v total=%d", err, q.Total())
	}
}

func TestTimeoutSettingsBounds(t *testing.T) {
	ts := DefaultTimeouts()
	if ts.PerTurn() != 50 || ts.First() != 1000 {
		t.Fatalf("defaults=%d/%d", ts.PerTurn(), ts.First())
	}
	cases := []struct {
		perTurn, first int
		ok             bool
	}{
		{50, 50, true},
		{25_000, 25_000, true},
		{49, 1000, false},
		{100, 25_001, false},
		{25_001, 100, false},
	}
	for _, c := range cases {
		err := ts.Set(c.perTurn, c.first)
		if (err == nil) != c.ok {
			t.Fatalf("Set(%d,%d) err=%v ok=%v", c.perTurn, c.first, err, c.ok)
		}
	}
}

func TestTurnTimeQuotaStopsExecution(t *testing.T) {
	turns := 0
	ref := &testReferee{
		init: func(e *Engine) error { return e.SetTimeouts(MaxTurnTime, MaxTurnTime) },
		turn: func(e *Engine, turn int) error {
			turns++
			return e.Player(0).Execute()
		},
	}
	in := script(initCmd("1"), gameInfo, timedOut, gameInfo, timedOut)
	_, err := runEngine(t, ref, in)
	if !errors.Is(err, ErrQuotaExceeded) {
		t.Fatalf("err=%v want quota exceeded", err)
	}
	if turns != 2 {
		t.Fatalf("turns=%d want 2", turns)
	}
}
