package runner

import (
	"bufio"
	"context"
	"io"
	"log"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"turnforge.ai/internal/agent"
	"turnforge.ai/internal/engine"
	"turnforge.ai/internal/protocol"
	"turnforge.ai/internal/result"
	"turnforge.ai/internal/tuning"
)

func testTuning() tuning.Tuning {
	t := tuning.Defaults()
	t.SettleMs = 0
	t.RefereeTimeoutMs = 5000
	return t
}

type recordingSink struct {
	mu       sync.Mutex
	rounds   []result.Round
	finished *result.GameResult
}

func (s *recordingSink) WriteRound(r result.Round) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rounds = append(s.rounds, r)
	return nil
}

func (s *recordingSink) Finish(res *result.GameResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.finished = res
	return nil
}

// silentPlayer consumes its input and never answers.
func silentPlayer() agent.Factory {
	return agent.Func(func(stdin io.Reader, stdout, stderr io.Writer) error {
		_, err := io.Copy(io.Discard, stdin)
		return err
	})
}

// echoPlayer answers every input line with lines copies of it.
func echoPlayer(lines int) agent.Factory {
	return agent.Func(func(stdin io.Reader, stdout, stderr io.Writer) error {
		sc := bufio.NewScanner(stdin)
		for sc.Scan() {
			for i := 0; i < lines; i++ {
				if _, err := io.WriteString(stdout, sc.Text()+"\n"); err != nil {
					return err
				}
			}
		}
		return nil
	})
}

type loopReferee struct {
	turns      int
	stillAlive *atomic.Bool
}

func (r *loopReferee) Init(e *engine.Engine) error { return e.SetMaxTurns(r.turns) }

func (r *loopReferee) GameTurn(e *engine.Engine, turn int) error {
	p := e.Player(0)
	if err := p.SendInputLine("turn"); err != nil {
		return err
	}
	return p.Execute()
}

func (r *loopReferee) OnEnd(e *engine.Engine) error {
	r.stillAlive.Store(e.Player(0).Active())
	return nil
}

func run(t *testing.T, cfg Config) *result.GameResult {
	t.Helper()
	if cfg.Tuning == (tuning.Tuning{}) {
		cfg.Tuning = testTuning()
	}
	cfg.Logger = log.New(io.Discard, "", 0)
	r, err := New(cfg)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()
	res, err := r.Run(ctx)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	return res
}

func TestSilentPlayerTimesOutEveryTurnButStaysActive(t *testing.T) {
	alive := &atomic.Bool{}
	sink := &recordingSink{}
	res := run(t, Config{
		Referee: InProcessReferee(func() engine.Referee { return &loopReferee{turns: 3, stillAlive: alive} }),
		Players: []PlayerSpec{{Factory: silentPlayer()}},
		Sinks:   []Sink{sink},
	})

	if res.FailCause != "" {
		t.Fatalf("failCause=%q", res.FailCause)
	}
	if len(sink.rounds) != 4 {
		t.Fatalf("rounds=%d want 4", len(sink.rounds))
	}
	for i, rd := range sink.rounds[:3] {
		if !rd.TimedOut || rd.Player != 0 {
			t.Fatalf("round %d: timedOut=%v player=%d", i, rd.TimedOut, rd.Player)
		}
		if rd.Scores != nil || rd.Terminal {
			t.Fatalf("round %d carries scores before the end", i)
		}
	}
	last := sink.rounds[3]
	if !last.Terminal || last.Scores == nil {
		t.Fatalf("last round terminal=%v scores=%v", last.Terminal, last.Scores)
	}
	if !alive.Load() {
		t.Fatalf("player deactivated by timeouts")
	}
	if got := len(res.Outputs["0"]); got != 5 {
		t.Fatalf("outputs=%d want 5", got)
	}
	for i, o := range res.Outputs["0"] {
		if o != nil {
			t.Fatalf("output %d=%q want nil", i, *o)
		}
	}
	if len(res.Views) != 4 || res.Views[0] == nil {
		t.Fatalf("views=%d", len(res.Views))
	}
	if sink.finished != res {
		t.Fatalf("sink not finished with the result")
	}
}

func TestEchoPlayerOutputsRecorded(t *testing.T) {
	alive := &atomic.Bool{}
	res := run(t, Config{
		Referee: InProcessReferee(func() engine.Referee { return &loopReferee{turns: 2, stillAlive: alive} }),
		Players: []PlayerSpec{{Factory: echoPlayer(1), Nickname: "echo"}},
		Params:  map[string]string{"seed": "7"},
	})
	outs := res.Outputs["0"]
	if len(outs) != 4 || outs[1] == nil || *outs[1] != "turn\n" || outs[3] != nil {
		t.Fatalf("outputs=%v", deref(outs))
	}
	if res.Agents[0].Name != "echo" || res.Agents[0].Avatar != defaultAvatar {
		t.Fatalf("agents=%+v", res.Agents)
	}
	if !contains(res.GameParameters, "seed=7") {
		t.Fatalf("params=%v", res.GameParameters)
	}
	if res.RunID == "" {
		t.Fatalf("run id not set")
	}
}

// scriptedReferee speaks the protocol by hand: one player turn expecting two
// lines, then the scores.
func scriptedReferee(forwarded chan<- protocol.Command) agent.Factory {
	return agent.Func(func(stdin io.Reader, stdout, stderr io.Writer) error {
		in := protocol.NewReader(stdin)
		w := bufio.NewWriter(stdout)
		send := func(cmds ...protocol.Command) error {
			for _, c := range cmds {
				if err := protocol.Write(w, c); err != nil {
					return err
				}
			}
			return w.Flush()
		}
		if _, err := in.ReadCommand(protocol.Init); err != nil {
			return err
		}
		if _, err := in.ReadCommand(protocol.GetGameInfo); err != nil {
			return err
		}
		if err := send(
			protocol.NewCommand(protocol.View, "KEY_FRAME 0", "{}"),
			protocol.NewCommand(protocol.Infos),
			protocol.NewCommand(protocol.NextPlayerInput, "go"),
			protocol.NewCommand(protocol.NextPlayerInfo, "0", "2", "50"),
		); err != nil {
			return err
		}
		c, err := in.ReadCommand(protocol.SetPlayerOutput, protocol.SetPlayerTimeout)
		if err != nil {
			return err
		}
		forwarded <- c
		if _, err := in.ReadCommand(protocol.GetGameInfo); err != nil {
			return err
		}
		return send(
			protocol.NewCommand(protocol.View, "KEY_FRAME 1", "{}"),
			protocol.NewCommand(protocol.Infos),
			protocol.NewCommand(protocol.Scores, "0 7"),
		)
	})
}

func TestOnlyExpectedLinesAreForwarded(t *testing.T) {
	forwarded := make(chan protocol.Command, 1)
	res := run(t, Config{
		Referee: scriptedReferee(forwarded),
		Players: []PlayerSpec{{Factory: echoPlayer(3)}},
	})
	c := <-forwarded
	if c.Key != protocol.SetPlayerOutput {
		t.Fatalf("forwarded=%s", c.Key)
	}
	if len(c.Lines) != 2 || c.Lines[0] != "go" || c.Lines[1] != "go" {
		t.Fatalf("lines=%q want two lines", c.Lines)
	}
	if res.Scores[0] != 7 {
		t.Fatalf("scores=%v", res.Scores)
	}
	if got := res.Outputs["0"][1]; got == nil || *got != "go\ngo\n" {
		t.Fatalf("output=%v", got)
	}
}

func TestIncompleteRefereeEndsTheGame(t *testing.T) {
	ref := agent.Func(func(stdin io.Reader, stdout, stderr io.Writer) error {
		in := protocol.NewReader(stdin)
		if _, err := in.ReadCommand(protocol.Init); err != nil {
			return err
		}
		if _, err := in.ReadCommand(protocol.GetGameInfo); err != nil {
			return err
		}
		return protocol.Write(stdout, protocol.NewCommand(protocol.View, "KEY_FRAME 0", "{}"))
	})
	sink := &recordingSink{}
	res := run(t, Config{
		Referee: ref,
		Players: []PlayerSpec{{Factory: silentPlayer()}},
		Sinks:   []Sink{sink},
	})
	if res.FailCause == "" || res.FailCode != protocol.ErrCodeProtocol {
		t.Fatalf("failCause=%q failCode=%q", res.FailCause, res.FailCode)
	}
	if len(res.Views) != 1 || res.Views[0] != nil {
		t.Fatalf("views=%v", deref(res.Views))
	}
	if len(sink.rounds) != 1 || sink.rounds[0].Valid {
		t.Fatalf("rounds=%+v", sink.rounds)
	}
}

type panickyReferee struct{}

func (panickyReferee) Init(e *engine.Engine) error               { return nil }
func (panickyReferee) GameTurn(e *engine.Engine, turn int) error { panic("boom") }
func (panickyReferee) OnEnd(e *engine.Engine) error              { return nil }

func TestRefereeFailureIsRecorded(t *testing.T) {
	res := run(t, Config{
		Referee: InProcessReferee(func() engine.Referee { return panickyReferee{} }),
		Players: []PlayerSpec{{Factory: silentPlayer()}},
	})
	if !strings.Contains(res.FailCause, "boom") {
		t.Fatalf("failCause=%q", res.FailCause)
	}
	if res.FailCode != protocol.ErrCodeInternal {
		t.Fatalf("failCode=%q want %q", res.FailCode, protocol.ErrCodeInternal)
	}
	if len(res.Views) != 1 || res.Views[0] != nil {
		t.Fatalf("views=%v", deref(res.Views))
	}
}

func TestConfigValidation(t *testing.T) {
	if _, err := New(Config{Players: []PlayerSpec{{Factory: silentPlayer()}}}); err == nil {
		t.Fatalf("missing referee accepted")
	}
	if _, err := New(Config{Referee: silentPlayer()}); err == nil {
		t.Fatalf("no players accepted")
	}
	tooMany := make([]PlayerSpec, 9)
	for i := range tooMany {
		tooMany[i] = PlayerSpec{Factory: silentPlayer()}
	}
	if _, err := New(Config{Referee: silentPlayer(), Players: tooMany}); err == nil {
		t.Fatalf("9 players accepted")
	}
	two := []PlayerSpec{{Factory: silentPlayer()}, {Factory: silentPlayer()}}
	if _, err := New(Config{Referee: silentPlayer(), Players: two, TestCase: []string{"x"}}); err == nil {
		t.Fatalf("test case with two players accepted")
	}
	one := two[:1]
	if _, err := New(Config{Referee: silentPlayer(), Players: one, TestCase: []string{"x"}, Params: map[string]string{"a": "1"}}); err == nil {
		t.Fatalf("test case with params accepted")
	}
}

func TestInitCarriesTestCaseVerbatim(t *testing.T) {
	r, err := New(Config{
		Referee:  silentPlayer(),
		Players:  []PlayerSpec{{Factory: silentPlayer()}},
		TestCase: []string{"10 7", "k=v"},
	})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	r.players = make([]*agent.Agent, 1)
	got := r.initCommand()
	if got.Key != protocol.Init || strings.Join(got.Lines, "|") != "1|10 7|k=v" {
		t.Fatalf("init=%s %q", got.Key, got.Lines)
	}
}

func TestCheckOutput(t *testing.T) {
	cases := []struct {
		out  string
		n    int
		want outputCheck
	}{
		{"", 0, outputOK},
		{"", 1, outputTimeout},
		{"a\n", 1, outputOK},
		{"a", 1, outputTooShort},
		{"a\nb\n", 1, outputTooLong},
		{"a\nb\n", 2, outputOK},
	}
	for _, c := range cases {
		if got := checkOutput(c.out, c.n); got != c.want {
			t.Fatalf("checkOutput(%q,%d)=%s want %s", c.out, c.n, got, c.want)
		}
	}
}

func TestTurnInfoShapes(t *testing.T) {
	ti := NewTurnInfo()
	ti.Put(protocol.NewCommand(protocol.View, "x"))
	ti.Put(protocol.NewCommand(protocol.Infos))
	if ti.Complete() {
		t.Fatalf("complete without player info or scores")
	}
	ti.Put(protocol.NewCommand(protocol.Scores, "0 1"))
	if !ti.Complete() || !ti.Terminal() {
		t.Fatalf("terminal shape not detected")
	}
	ti.Put(protocol.NewCommand(protocol.Fail, "x"))
	if !ti.Failed() {
		t.Fatalf("fail not detected")
	}
}

func deref(ss []*string) []string {
	out := make([]string, len(ss))
	for i, s := range ss {
		if s == nil {
			out[i] = "<nil>"
		} else {
			out[i] = *s
		}
	}
	return out
}

func contains(ss []string, want string) bool {
	for _, s := range ss {
		if s == want {
			return true
		}
	}
	return false
}

func TestConfigAgentsMatchResult(t *testing.T) {
	alive := &atomic.Bool{}
	cfg := Config{
		Referee: InProcessReferee(func() engine.Referee { return &loopReferee{turns: 1, stillAlive: alive} }),
		Players: []PlayerSpec{{Factory: silentPlayer(), Nickname: "quiet", Avatar: "owl"}},
	}
	want := cfg.Agents()
	res := run(t, cfg)
	if len(want) != 1 || want[0] != res.Agents[0] {
		t.Fatalf("agents=%+v result=%+v", want, res.Agents)
	}
	if want[0].Name != "quiet" || want[0].Avatar != "owl" {
		t.Fatalf("agent=%+v", want[0])
	}
}

// The referee is written to directly, so a one-slot player queue must not
// starve it of any SET_PLAYER_OUTPUT over a long game.
func TestRefereeReceivesEveryAnswerWithTinyPumpQueue(t *testing.T) {
	const turns = 40
	tune := testTuning()
	tune.PumpQueue = 1
	alive := &atomic.Bool{}
	sink := &recordingSink{}
	res := run(t, Config{
		Referee: InProcessReferee(func() engine.Referee { return &loopReferee{turns: turns, stillAlive: alive} }),
		Players: []PlayerSpec{{Factory: echoPlayer(1)}},
		Tuning:  tune,
		Sinks:   []Sink{sink},
	})
	if res.FailCause != "" {
		t.Fatalf("failCause=%q", res.FailCause)
	}
	if len(sink.rounds) != turns+1 {
		t.Fatalf("rounds=%d want %d", len(sink.rounds), turns+1)
	}
	for i, rd := range sink.rounds[:turns] {
		if rd.TimedOut {
			t.Fatalf("round %d timed out", i)
		}
	}
	if !alive.Load() {
		t.Fatalf("player deactivated")
	}
}
