package log

import (
	"path/filepath"
	"testing"

	"turnforge.ai/internal/result"
)

func TestRoundJournalRoundTrip(t *testing.T) {
	dir := t.TempDir()
	j := NewRoundJournal(dir, "run-1")
	if filepath.Base(j.Path()) != "run-1.jsonl.zst" {
		t.Fatalf("path=%s", j.Path())
	}
	for i := 0; i < 3; i++ {
		r := result.Round{RunID: "run-1", Index: i, Valid: true, Player: 0, Output: result.Str("x\n")}
		if err := j.WriteRound(r); err != nil {
			t.Fatalf("write round %d: %v", i, err)
		}
	}

	res := result.New("run-1")
	res.Views = []*string{nil, nil, nil}
	res.Scores[0] = 4
	if err := j.Finish(res); err != nil {
		t.Fatalf("finish: %v", err)
	}
	entries, err := ReadJournal(j.Path())
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(entries) != 4 {
		t.Fatalf("entries=%d want 4", len(entries))
	}
	if entries[2].Type != EntryRound || entries[2].Round.Index != 2 || *entries[2].Round.Output != "x\n" {
		t.Fatalf("round entry=%+v", entries[2])
	}
	fin := entries[3]
	if fin.Type != EntryFinish || fin.Finish.Rounds != 3 || fin.Finish.Scores[0] != 4 {
		t.Fatalf("finish entry=%+v", fin.Finish)
	}
}

func TestReadJournalMissingFile(t *testing.T) {
	if _, err := ReadJournal(filepath.Join(t.TempDir(), "nope.jsonl.zst")); err == nil {
		t.Fatalf("expected error")
	}
}
