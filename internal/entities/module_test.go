package entities

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"log"
	"strings"
	"testing"

	"turnforge.ai/internal/engine"
	"turnforge.ai/internal/protocol"
)

func countPrefix(records []string, prefix string) int {
	n := 0
	for _, r := range records {
		if strings.HasPrefix(r, prefix) {
			n++
		}
	}
	return n
}

func TestSameValueTwiceEmitsOneUpdate(t *testing.T) {
	m := New()
	c := m.NewCircle()
	c.SetX(5)
	c.SetX(5)
	got := m.Records()
	want := []string{"CREATE 1 CIRCLE", "UPDATE 1 1 x 5", "COMMIT 1"}
	if strings.Join(got, "|") != strings.Join(want, "|") {
		t.Fatalf("records=%q want %q", got, want)
	}
}

func TestUnchangedValueAtLaterInstantIsSuppressed(t *testing.T) {
	m := New()
	c := m.NewCircle()
	c.SetX(5).SetY(1)
	if err := m.CommitEntityState(0.25, c); err != nil {
		t.Fatalf("commit: %v", err)
	}
	c.SetX(5).SetY(2)
	if err := m.CommitEntityState(0.5, c); err != nil {
		t.Fatalf("commit: %v", err)
	}
	got := m.Records()
	want := []string{"CREATE 1 CIRCLE", "UPDATE 1 0.25 x 5 y 1", "UPDATE 1 0.5 y 2", "COMMIT 1"}
	if strings.Join(got, "|") != strings.Join(want, "|") {
		t.Fatalf("records=%q want %q", got, want)
	}

	// Next turn: nothing changed, only the end-of-turn synchronization.
	c.SetX(5)
	got = m.Records()
	if strings.Join(got, "|") != "COMMIT 1" {
		t.Fatalf("records=%q want only COMMIT 1", got)
	}
}

func TestCurveChangeAloneIsNotADelta(t *testing.T) {
	m := New()
	c := m.NewCircle()
	c.SetAlpha(0.5)
	m.Records()
	c.SetAlpha(0.5, Ease)
	if got := m.Records(); countPrefix(got, "UPDATE") != 0 {
		t.Fatalf("records=%q want no update", got)
	}
	c.SetAlpha(0.75, Ease)
	got := m.Records()
	if len(got) != 2 || got[0] != "UPDATE 1 1 alpha~ease 0.75" {
		t.Fatalf("records=%q", got)
	}
}

func TestForceCommitEmittedWhenEmpty(t *testing.T) {
	m := New()
	c := m.NewRectangle()
	m.Records()
	if err := m.CommitWorldState(0.5); err != nil {
		t.Fatalf("commit: %v", err)
	}
	got := m.Records()
	if strings.Join(got, "|") != "COMMIT 0.5|COMMIT 1" {
		t.Fatalf("records=%q", got)
	}
	_ = c
}

func TestOrdinaryEmptyCommitNotEmitted(t *testing.T) {
	m := New()
	c := m.NewRectangle()
	c.SetX(1)
	m.Records()
	if err := m.CommitEntityState(0.3, c); err != nil {
		t.Fatalf("commit: %v", err)
	}
	got := m.Records()
	for _, r := range got {
		if strings.Contains(r, "0.3") {
			t.Fatalf("empty ordinary commit emitted: %q", got)
		}
	}
}

func TestCommitsAtSameInstantMerge(t *testing.T) {
	m := New()
	c := m.NewCircle()
	c.SetX(1).SetY(1)
	if err := m.CommitEntityState(0.5, c); err != nil {
		t.Fatalf("commit: %v", err)
	}
	c.SetX(2)
	if err := m.CommitEntityState(0.5, c); err != nil {
		t.Fatalf("commit: %v", err)
	}
	got := m.Records()
	if got[1] != "UPDATE 1 0.5 x 2 y 1" {
		t.Fatalf("records=%q", got)
	}
}

func TestInstantsInAscendingOrder(t *testing.T) {
	m := New()
	a := m.NewCircle()
	b := m.NewText("hi there")
	b.SetX(3)
	if err := m.CommitEntityState(0.8, b); err != nil {
		t.Fatalf("commit: %v", err)
	}
	a.SetX(1)
	if err := m.CommitEntityState(0.2, a); err != nil {
		t.Fatalf("commit: %v", err)
	}
	got := m.Records()
	want := []string{
		"CREATE 1 CIRCLE",
		"CREATE 2 TEXT",
		"UPDATE 1 0.2 x 1",
		`UPDATE 2 0.8 text~immediate "hi there" x 3`,
		"COMMIT 1",
	}
	if strings.Join(got, "|") != strings.Join(want, "|") {
		t.Fatalf("records=%q\nwant=%q", got, want)
	}
}

func TestInstantBounds(t *testing.T) {
	m := New()
	c := m.NewCircle()
	if err := m.CommitEntityState(1.5, c); err == nil {
		t.Fatalf("instant above 1 accepted")
	}
	if err := m.CommitEntityState(-0.1, c); err == nil {
		t.Fatalf("negative instant accepted")
	}
	if err := m.CommitEntityState(0.5); err == nil {
		t.Fatalf("commit without entities accepted")
	}
}

func TestCreateWorldMustComeFirst(t *testing.T) {
	m := New()
	if err := m.CreateWorld(800, 600); err != nil {
		t.Fatalf("create world: %v", err)
	}
	if err := m.CreateWorld(100, 100); !errors.Is(err, engine.ErrIllegalState) {
		t.Fatalf("err=%v want illegal state", err)
	}
	m2 := New()
	m2.NewCircle()
	if err := m2.CreateWorld(100, 100); !errors.Is(err, engine.ErrIllegalState) {
		t.Fatalf("err=%v want illegal state", err)
	}
}

func TestFormatNumber(t *testing.T) {
	cases := map[float64]string{
		5:          "5",
		0.1 + 0.2:  "0.3",
		1.23456789: "1.234568",
		-0.0000001: "0",
		-2.5:       "-2.5",
		1e7:        "10000000",
		// exact binary ties round to the even digit
		0.0078125:  "0.007812",
		0.0234375:  "0.023438",
		-0.0078125: "-0.007812",
		1.0000005:  "1.000001", // just above the tie in binary
	}
	for in, want := range cases {
		if got := formatNumber(in); got != want {
			t.Fatalf("formatNumber(%v)=%q want %q", in, got, want)
		}
	}
}

type scriptedReferee struct {
	m *Module
	c *Entity
}

func (r *scriptedReferee) Init(e *engine.Engine) error {
	r.m = New()
	if err := e.Register(r.m); err != nil {
		return err
	}
	if err := r.m.CreateWorld(100, 50); err != nil {
		return err
	}
	r.c = r.m.NewCircle()
	return e.SetMaxTurns(1)
}

func (r *scriptedReferee) GameTurn(e *engine.Engine, turn int) error {
	r.c.SetX(5)
	r.c.SetX(5)
	return e.Player(0).Execute()
}

func (r *scriptedReferee) OnEnd(e *engine.Engine) error { return nil }

func TestRecordsFlowThroughEngineViews(t *testing.T) {
	var in bytes.Buffer
	for _, c := range []protocol.Command{
		protocol.NewCommand(protocol.Init, "1"),
		protocol.NewCommand(protocol.GetGameInfo),
		protocol.NewCommand(protocol.SetPlayerTimeout),
		protocol.NewCommand(protocol.GetGameInfo),
	} {
		in.WriteString(protocol.Format(c))
	}
	var out bytes.Buffer
	e := engine.New(&scriptedReferee{}, engine.Options{Logger: log.New(io.Discard, "", 0)})
	if err := e.Run(&in, &out); err != nil {
		t.Fatalf("run: %v", err)
	}

	r := protocol.NewReader(&out)
	var views []protocol.Command
	for {
		c, err := r.ReadCommand(protocol.RefereeKeywords...)
		if err != nil {
			break
		}
		if c.Key == protocol.View {
			views = append(views, c)
		}
	}
	if len(views) != 2 {
		t.Fatalf("views=%d want 2", len(views))
	}
	var first struct {
		Global map[string]World  `json:"global"`
		Frame  map[string]string `json:"frame"`
	}
	if err := json.Unmarshal([]byte(views[0].Lines[1]), &first); err != nil {
		t.Fatalf("first view: %v", err)
	}
	if first.Global[ViewKey].Width != 100 {
		t.Fatalf("global=%v", first.Global)
	}
	if first.Frame[ViewKey] != "CREATE 1 CIRCLE\nCOMMIT 1" {
		t.Fatalf("init frame=%q", first.Frame[ViewKey])
	}
	var last map[string]string
	if err := json.Unmarshal([]byte(views[1].Lines[1]), &last); err != nil {
		t.Fatalf("last view: %v", err)
	}
	all := first.Frame[ViewKey] + "\n" + last[ViewKey]
	records := strings.Split(all, "\n")
	if countPrefix(records, "CREATE") != 1 || countPrefix(records, "UPDATE") != 1 {
		t.Fatalf("records=%q want one CREATE and one UPDATE", records)
	}
	if !strings.Contains(last[ViewKey], "UPDATE 1 1 x 5") {
		t.Fatalf("turn frame=%q", last[ViewKey])
	}
}
