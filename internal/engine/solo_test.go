package engine

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"turnforge.ai/internal/protocol"
)

func runSolo(t *testing.T, ref Referee, in *bytes.Buffer) ([]protocol.Command, error) {
	t.Helper()
	e := New(ref, Options{Logger: quietLogger(), Solo: true})
	var out bytes.Buffer
	err := e.Run(in, &out)
	return parseAll(t, out.Bytes()), err
}

func lastOf(cmds []protocol.Command, k protocol.Keyword) protocol.Command {
	all := find(cmds, k)
	if len(all) == 0 {
		return protocol.Command{}
	}
	return all[len(all)-1]
}

func TestSoloReadsTestCaseAndWins(t *testing.T) {
	var testCase []string
	var seenParam bool
	turns := 0
	ref := &testReferee{
		init: func(e *Engine) error {
			testCase = e.TestCaseInput()
			_, seenParam = e.Param("max")
			return e.SetMaxTurns(5)
		},
		turn: func(e *Engine, turn int) error {
			turns++
			p := e.Player(0)
			if err := p.SendInputLine(e.TestCaseInput()[0]); err != nil {
				return err
			}
			if err := p.Execute(); err != nil {
				return err
			}
			out, err := p.Outputs()
			if err != nil {
				return err
			}
			if out[0] == "7" {
				return e.WinGame("found 7")
			}
			return nil
		},
	}
	in := script(initCmd("1", "10 7", "max=3"), gameInfo,
		protocol.NewCommand(protocol.SetPlayerOutput, "5"), gameInfo,
		protocol.NewCommand(protocol.SetPlayerOutput, "7"), gameInfo)
	cmds, err := runSolo(t, ref, in)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(testCase) != 2 || testCase[0] != "10 7" || testCase[1] != "max=3" {
		t.Fatalf("testCase=%q", testCase)
	}
	if seenParam {
		t.Fatalf("test case line parsed as a parameter")
	}
	if turns != 2 {
		t.Fatalf("turns=%d want 2", turns)
	}
	if got := lastOf(cmds, protocol.Infos).Body(); got != "¤GREEN¤found 7§GREEN§" {
		t.Fatalf("final infos=%q", got)
	}
	if got := lastOf(cmds, protocol.Scores).Body(); got != "0 1" {
		t.Fatalf("scores=%q want %q", got, "0 1")
	}
	if count(cmds, protocol.Summary) != 0 {
		t.Fatalf("solo game sent SUMMARY")
	}
}

func TestSoloLoseGame(t *testing.T) {
	ref := &testReferee{
		turn: func(e *Engine, turn int) error {
			e.Player(0).SetScore(5)
			if err := e.Player(0).Execute(); err != nil {
				return err
			}
			return e.LoseGame("wrong answer")
		},
	}
	in := script(initCmd("1", "case"), gameInfo, protocol.NewCommand(protocol.SetPlayerOutput, "x"), gameInfo)
	cmds, err := runSolo(t, ref, in)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if got := lastOf(cmds, protocol.Infos).Body(); got != "¤RED¤wrong answer§RED§" {
		t.Fatalf("final infos=%q", got)
	}
	if got := lastOf(cmds, protocol.Scores).Body(); got != "0 0" {
		t.Fatalf("scores=%q want %q", got, "0 0")
	}
}

func TestSoloWinWithoutMessageAddsNoSummary(t *testing.T) {
	ref := &testReferee{
		turn: func(e *Engine, turn int) error {
			if err := e.Player(0).Execute(); err != nil {
				return err
			}
			return e.WinGame("")
		},
	}
	in := script(initCmd("1"), gameInfo, protocol.NewCommand(protocol.SetPlayerOutput, "x"), gameInfo)
	cmds, err := runSolo(t, ref, in)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if got := lastOf(cmds, protocol.Infos); len(got.Lines) != 0 {
		t.Fatalf("final infos=%q", got.Lines)
	}
	if got := lastOf(cmds, protocol.Scores).Body(); got != "0 1" {
		t.Fatalf("scores=%q", got)
	}
}

func TestSoloTimeoutEndsTheGame(t *testing.T) {
	turns := 0
	ref := &testReferee{
		init: func(e *Engine) error { return e.SetMaxTurns(5) },
		turn: func(e *Engine, turn int) error {
			turns++
			return e.Player(0).Execute()
		},
	}
	in := script(initCmd("1", "case"), gameInfo, timedOut, gameInfo)
	cmds, err := runSolo(t, ref, in)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if turns != 1 {
		t.Fatalf("turns=%d want 1", turns)
	}
	if cmds[len(cmds)-1].Key != protocol.Scores {
		t.Fatalf("last=%s want SCORES (%v)", cmds[len(cmds)-1].Key, keys(cmds))
	}
}

func TestSoloRejectsSeveralPlayers(t *testing.T) {
	cmds, err := runSolo(t, &testReferee{}, script(initCmd("2", "case")))
	if !errors.Is(err, protocol.ErrViolation) {
		t.Fatalf("err=%v want violation", err)
	}
	fail := find(cmds, protocol.Fail)
	if len(fail) != 1 || !strings.Contains(fail[0].Body(), "solo game") {
		t.Fatalf("fail=%v", fail)
	}
}

func TestWinGameOutsideSoloIsIllegal(t *testing.T) {
	var winErr error
	ref := &testReferee{
		init: func(e *Engine) error { return e.SetMaxTurns(1) },
		turn: func(e *Engine, turn int) error {
			winErr = e.WinGame("nope")
			return e.Player(0).Execute()
		},
	}
	in := script(initCmd("1", "max=3"), gameInfo, protocol.NewCommand(protocol.SetPlayerOutput, "x"), gameInfo)
	if _, err := runEngine(t, ref, in); err != nil {
		t.Fatalf("run: %v", err)
	}
	if !errors.Is(winErr, ErrIllegalState) {
		t.Fatalf("err=%v want illegal state", winErr)
	}
}
