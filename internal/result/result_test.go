package result

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

func sample() *GameResult {
	r := New("run-1")
	r.Errors["referee"] = []*string{Str(""), nil}
	r.Errors["0"] = []*string{nil, Str("warn\n")}
	r.Outputs["referee"] = []*string{}
	r.Outputs["0"] = []*string{nil, Str("MOVE\n")}
	r.Summaries = append(r.Summaries, Str(""), nil)
	r.Views = append(r.Views, Str("KEY_FRAME 0\n{}"), nil)
	r.Scores[0] = 12
	r.GameParameters = append(r.GameParameters, "seed=42")
	r.Metadata = `{"k":"v"}`
	r.Tooltips = append(r.Tooltips, Tooltip{Text: "hit", Event: 0, Turn: 1})
	r.IDs[0] = 0
	r.Agents = append(r.Agents, Agent{Index: 0, AgentID: 0, Name: "Player 0", Avatar: "a.png"})
	r.FailCause = "referee stream closed"
	r.FailCode = "E_PROTOCOL"
	return r
}

func TestWriteReadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out", "result.json.zst")
	in := sample()
	if err := WriteFile(path, in); err != nil {
		t.Fatalf("write: %v", err)
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read raw: %v", err)
	}
	if !bytes.HasPrefix(raw, []byte{0x28, 0xb5, 0x2f, 0xfd}) {
		t.Fatalf("missing zstd frame magic: % x", raw[:4])
	}
	out, err := ReadFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if out.RunID != "run-1" || out.Scores[0] != 12 || out.FailCode != "E_PROTOCOL" {
		t.Fatalf("got=%+v", out)
	}
	if len(out.Views) != 2 || out.Views[1] != nil || *out.Views[0] != "KEY_FRAME 0\n{}" {
		t.Fatalf("views=%v", out.Views)
	}
	if out.Outputs["0"][0] != nil || *out.Outputs["0"][1] != "MOVE\n" {
		t.Fatalf("outputs=%v", out.Outputs["0"])
	}
}

func TestReadFileMissing(t *testing.T) {
	if _, err := ReadFile(filepath.Join(t.TempDir(), "nope.zst")); err == nil {
		t.Fatalf("expected error")
	}
}

func TestResultMatchesSchema(t *testing.T) {
	s, err := jsonschema.Compile(filepath.Join("..", "..", "schemas", "game_result.schema.json"))
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	validate := func(r *GameResult) {
		t.Helper()
		b, err := json.Marshal(r)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		var v any
		if err := json.Unmarshal(b, &v); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		if err := s.Validate(v); err != nil {
			t.Fatalf("validate: %v", err)
		}
	}
	validate(sample())
	validate(New("empty"))

	bad := sample()
	bad.FailCode = "E_NOPE"
	b, _ := json.Marshal(bad)
	var v any
	_ = json.Unmarshal(b, &v)
	if err := s.Validate(v); err == nil {
		t.Fatalf("unknown fail code accepted")
	}
}
