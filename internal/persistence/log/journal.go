package log

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/klauspost/compress/zstd"

	"turnforge.ai/internal/result"
)

// JSONLZstdWriter appends one JSON document per line to a zstd-compressed
// file. The file is created on the first write.
type JSONLZstdWriter struct {
	path string

	mu  sync.Mutex
	f   *os.File
	enc *zstd.Encoder
	w   *bufio.Writer
}

func NewJSONLZstdWriter(path string) *JSONLZstdWriter {
	return &JSONLZstdWriter{path: path}
}

func (w *JSONLZstdWriter) Path() string { return w.path }

func (w *JSONLZstdWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.closeLocked()
}

func (w *JSONLZstdWriter) Write(v any) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.w == nil {
		if err := w.openLocked(); err != nil {
			return err
		}
	}

	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	if _, err := w.w.Write(b); err != nil {
		return err
	}
	if err := w.w.WriteByte('\n'); err != nil {
		return err
	}
	if err := w.w.Flush(); err != nil {
		return err
	}
	// Each line is readable by a tailing decoder as soon as it is written.
	return w.enc.Flush()
}

func (w *JSONLZstdWriter) openLocked() error {
	if err := os.MkdirAll(filepath.Dir(w.path), 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(w.path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	enc, err := zstd.NewWriter(f, zstd.WithEncoderLevel(zstd.SpeedFastest))
	if err != nil {
		_ = f.Close()
		return err
	}
	w.f = f
	w.enc = enc
	w.w = bufio.NewWriterSize(enc, 128*1024)
	return nil
}

func (w *JSONLZstdWriter) closeLocked() error {
	var err1 error
	if w.w != nil {
		_ = w.w.Flush()
	}
	if w.enc != nil {
		err1 = w.enc.Close()
		w.enc = nil
	}
	if w.f != nil {
		_ = w.f.Close()
		w.f = nil
	}
	w.w = nil
	return err1
}

// Entry is one journal line: either a round or the closing summary.
type Entry struct {
	Type   string        `json:"type"`
	Round  *result.Round `json:"round,omitempty"`
	Finish *FinishEntry  `json:"finish,omitempty"`
}

type FinishEntry struct {
	RunID     string      `json:"runId"`
	Rounds    int         `json:"rounds"`
	Scores    map[int]int `json:"scores"`
	FailCause string      `json:"failCause,omitempty"`
	FailCode  string      `json:"failCode,omitempty"`
}

const (
	EntryRound  = "round"
	EntryFinish = "finish"
)

// RoundJournal writes every round of one run as it ends, then a finish entry.
type RoundJournal struct{ w *JSONLZstdWriter }

// NewRoundJournal journals run runID under dir as <runID>.jsonl.zst.
func NewRoundJournal(dir, runID string) *RoundJournal {
	return &RoundJournal{w: NewJSONLZstdWriter(filepath.Join(dir, runID+".jsonl.zst"))}
}

func (j *RoundJournal) Path() string { return j.w.Path() }

func (j *RoundJournal) WriteRound(r result.Round) error {
	return j.w.Write(Entry{Type: EntryRound, Round: &r})
}

// Finish writes the closing entry and closes the file.
func (j *RoundJournal) Finish(res *result.GameResult) error {
	err := j.w.Write(Entry{Type: EntryFinish, Finish: &FinishEntry{
		RunID:     res.RunID,
		Rounds:    len(res.Views),
		Scores:    res.Scores,
		FailCause: res.FailCause,
		FailCode:  res.FailCode,
	}})
	if cerr := j.w.Close(); err == nil {
		err = cerr
	}
	return err
}

func (j *RoundJournal) Close() error { return j.w.Close() }

// ReadJournal decodes every entry of a journal file. A journal cut short by a
// crash yields the entries written so far.
func ReadJournal(path string) ([]Entry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	dec, err := zstd.NewReader(f)
	if err != nil {
		return nil, err
	}
	defer dec.Close()

	var out []Entry
	jd := json.NewDecoder(bufio.NewReader(dec))
	for {
		var e Entry
		if err := jd.Decode(&e); err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				return out, nil
			}
			return out, fmt.Errorf("journal %s: entry %d: %w", path, len(out), err)
		}
		out = append(out, e)
	}
}
