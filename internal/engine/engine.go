package engine

import (
	"bufio"
	"fmt"
	"io"
	"log"
	"math/rand"
	"os"
	"runtime/debug"
	"sort"
	"strconv"
	"strings"

	"turnforge.ai/internal/protocol"
)

// Referee holds the game rules. The engine calls Init once, GameTurn once per
// turn and OnEnd once after the last turn.
type Referee interface {
	Init(e *Engine) error
	GameTurn(e *Engine, turn int) error
	OnEnd(e *Engine) error
}

// Module produces view data alongside the referee. Modules are called in
// registration order after the matching referee hook.
type Module interface {
	OnGameInit(e *Engine) error
	OnAfterGameTurn(e *Engine) error
	OnAfterOnEnd(e *Engine) error
}

// Tooltip is a short message attached to a player on one turn.
type Tooltip struct {
	Player int
	Text   string
}

type Options struct {
	Logger *log.Logger
	// Solo selects a single-player game: INIT carries a test case instead of
	// parameters and a timeout ends the game.
	Solo bool
}

// Engine runs one game on the referee side of the protocol.
type Engine struct {
	referee Referee
	modules []Module
	logger  *log.Logger

	in  *protocol.Reader
	out *bufio.Writer

	solo     bool
	testCase []string

	players  []*Player
	params   map[string]string
	seed     int64
	random   *rand.Rand
	metadata map[string]string

	maxTurns int
	timeouts TimeoutSettings
	turn     int
	frame    int
	ended    bool

	initDone    bool
	newTurn     bool
	outputsRead bool

	frameDuration int
	globalView    map[string]any
	curView       map[string]any
	prevView      map[string]any

	curSummary  []string
	prevSummary []string

	curTooltips  []Tooltip
	prevTooltips []Tooltip

	viewQuota    *Quota
	summaryQuota *Quota
}

func New(referee Referee, opts Options) *Engine {
	logger := opts.Logger
	if logger == nil {
		logger = log.New(os.Stderr, "[referee] ", log.LstdFlags|log.Lmicroseconds)
	}
	return &Engine{
		referee:       referee,
		logger:        logger,
		solo:          opts.Solo,
		params:        map[string]string{},
		metadata:      map[string]string{},
		maxTurns:      DefaultMaxTurns,
		timeouts:      DefaultTimeouts(),
		frameDuration: 1000,
		globalView:    map[string]any{},
		curView:       map[string]any{},
		viewQuota:     NewQuota("view data", ViewSoftQuota, ViewHardQuota, logger),
		summaryQuota:  NewQuota("game summary", SummarySoftQuota, SummaryHardQuota, logger),
	}
}

// Register adds a module. Modules must be registered before Run.
func (e *Engine) Register(m Module) error {
	if e.initDone {
		return fmt.Errorf("%w: module registered after init", ErrIllegalState)
	}
	e.modules = append(e.modules, m)
	return nil
}

// Run plays one full game reading runner commands from in and writing referee
// commands to out. Any failure is reported once as FAIL and returned.
func (e *Engine) Run(in io.Reader, out io.Writer) (err error) {
	e.in = protocol.NewReader(in)
	e.out = bufio.NewWriterSize(out, 64*1024)
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("referee panic: %v\n%s", r, debug.Stack())
		}
		if err != nil {
			e.fail(err)
		}
	}()

	if err := e.init(); err != nil {
		return err
	}
	for e.turn = 1; e.turn <= e.maxTurns && !e.ended && !e.allPlayersInactive(); e.turn++ {
		if err := e.playTurn(); err != nil {
			return fmt.Errorf("turn %d: %w", e.turn, err)
		}
	}
	return e.finish()
}

func (e *Engine) init() error {
	cmd, err := e.in.ReadCommand(protocol.Init)
	if err != nil {
		return err
	}
	if len(cmd.Lines) == 0 {
		return fmt.Errorf("%w: INIT without player count", protocol.ErrViolation)
	}
	n, err := strconv.Atoi(strings.TrimSpace(cmd.Lines[0]))
	if err != nil || n <= 0 {
		return fmt.Errorf("%w: bad player count %q", protocol.ErrViolation, cmd.Lines[0])
	}
	if e.solo && n != 1 {
		return fmt.Errorf("%w: solo game started with %d players", protocol.ErrViolation, n)
	}
	e.players = make([]*Player, n)
	for i := range e.players {
		e.players[i] = newPlayer(e, i)
	}
	if e.solo {
		e.testCase = append([]string(nil), cmd.Lines[1:]...)
	} else {
		for _, line := range cmd.Lines[1:] {
			if k, v, ok := parseParam(line); ok {
				e.params[k] = v
			}
		}
	}
	e.seedRandom()

	e.logger.Printf("init: %d players", n)
	if err := e.referee.Init(e); err != nil {
		return fmt.Errorf("init: %w", err)
	}
	for _, m := range e.modules {
		if err := m.OnGameInit(e); err != nil {
			return fmt.Errorf("init: %w", err)
		}
	}
	e.initDone = true
	return nil
}

func (e *Engine) seedRandom() {
	seed := rand.Int63()
	if s, ok := e.params["seed"]; ok {
		if v, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64); err == nil {
			seed = v
		} else {
			e.logger.Printf("seed %q is not a number, using %d", s, seed)
		}
	}
	e.seed = seed
	e.params["seed"] = strconv.FormatInt(seed, 10)
	e.random = rand.New(rand.NewSource(seed))
}

func (e *Engine) playTurn() error {
	e.swap()
	e.newTurn = true
	e.outputsRead = false

	if err := e.referee.GameTurn(e, e.turn); err != nil {
		return err
	}
	for _, m := range e.modules {
		if err := m.OnAfterGameTurn(e); err != nil {
			return err
		}
	}
	// Nobody played: still emit a frame boundary.
	if e.newTurn && len(e.players) > 0 {
		if err := e.execute(e.players[0], 0, false); err != nil {
			return err
		}
	}
	if e.solo && e.players[0].TimedOut() {
		e.logger.Printf("turn %d: solo player timed out", e.turn)
		e.ended = true
	}
	for _, p := range e.players {
		p.resetTurn()
	}
	return nil
}

func (e *Engine) finish() error {
	e.logger.Printf("end after turn %d", e.turn-1)
	if err := e.referee.OnEnd(e); err != nil {
		return fmt.Errorf("end: %w", err)
	}
	for _, m := range e.modules {
		if err := m.OnAfterOnEnd(e); err != nil {
			return fmt.Errorf("end: %w", err)
		}
	}
	e.swap()
	e.newTurn = true

	if err := e.expectGameInfo(); err != nil {
		return err
	}
	if err := e.dumpView(); err != nil {
		return err
	}
	if err := e.dumpInfos(); err != nil {
		return err
	}
	e.dumpParams()
	if err := e.dumpMetadata(); err != nil {
		return err
	}
	e.dumpScores()
	return e.out.Flush()
}

// execute runs one player exchange. Forced frame-boundary exchanges pass
// counted=false and neither charge time nor mark the player as executed.
func (e *Engine) execute(p *Player, n int, counted bool) error {
	if !e.initDone {
		return fmt.Errorf("%w: player executed during init", ErrIllegalState)
	}
	if err := e.expectGameInfo(); err != nil {
		return err
	}
	if err := e.dumpView(); err != nil {
		return err
	}
	if err := e.dumpInfos(); err != nil {
		return err
	}
	e.write(protocol.NewCommand(protocol.NextPlayerInput, p.inputs...))

	timeout := e.timeouts.budget(p)
	if counted {
		if err := p.timeQuota.Add(int64(timeout)); err != nil {
			return err
		}
		p.spentMs += int64(timeout)
	}
	e.write(protocol.NewCommand(protocol.NextPlayerInfo, strconv.Itoa(p.index), strconv.Itoa(n), strconv.Itoa(timeout)))
	if err := e.out.Flush(); err != nil {
		return err
	}

	cmd, err := e.in.ReadCommand(protocol.SetPlayerOutput, protocol.SetPlayerTimeout)
	if err != nil {
		return err
	}
	if counted {
		if cmd.Key == protocol.SetPlayerTimeout {
			p.answer = Answer{TimedOut: true}
		} else {
			p.answer = Answer{Lines: cmd.Lines}
		}
	}
	p.inputs = nil
	e.newTurn = false
	return nil
}

func (e *Engine) expectGameInfo() error {
	_, err := e.in.ReadCommand(protocol.GetGameInfo)
	return err
}

func (e *Engine) swap() {
	e.prevView, e.curView = e.curView, map[string]any{}
	e.prevSummary, e.curSummary = e.curSummary, nil
	e.prevTooltips, e.curTooltips = e.curTooltips, nil
}

func (e *Engine) fail(cause error) {
	if e.out == nil {
		return
	}
	e.write(protocol.NewCommand(protocol.Fail, protocol.CodeOf(cause)+": "+cause.Error()))
	_ = e.out.Flush()
	e.logger.Printf("fail: %v", cause)
}

func (e *Engine) write(cmd protocol.Command) {
	_, _ = e.out.WriteString(protocol.Format(cmd))
}

func (e *Engine) allPlayersInactive() bool {
	for _, p := range e.players {
		if p.active {
			return false
		}
	}
	return true
}

// parseParam accepts "key=value" and "key:value". Blank lines and lines
// starting with '#' or '!' are skipped.
func parseParam(line string) (string, string, bool) {
	line = strings.TrimSpace(line)
	if line == "" || line[0] == '#' || line[0] == '!' {
		return "", "", false
	}
	i := strings.IndexAny(line, "=:")
	if i < 0 {
		return line, "", true
	}
	return strings.TrimSpace(line[:i]), strings.TrimSpace(line[i+1:]), true
}

// Referee-facing accessors.

func (e *Engine) Logger() *log.Logger { return e.logger }
func (e *Engine) Turn() int           { return e.turn }
func (e *Engine) Frame() int          { return e.frame }
func (e *Engine) PlayerCount() int    { return len(e.players) }
func (e *Engine) Players() []*Player  { return e.players }
func (e *Engine) Player(i int) *Player {
	if i < 0 || i >= len(e.players) {
		return nil
	}
	return e.players[i]
}

func (e *Engine) ActivePlayers() []*Player {
	var out []*Player
	for _, p := range e.players {
		if p.active {
			out = append(out, p)
		}
	}
	return out
}

func (e *Engine) EndGame()        { e.ended = true }
func (e *Engine) GameEnded() bool { return e.ended }
func (e *Engine) MaxTurns() int   { return e.maxTurns }

func (e *Engine) SetMaxTurns(n int) error {
	if n <= 0 {
		return fmt.Errorf("invalid max turns %d", n)
	}
	e.maxTurns = n
	return nil
}

func (e *Engine) Timeouts() TimeoutSettings { return e.timeouts }

// SetTimeouts sets the per-turn and first-turn budgets in milliseconds.
func (e *Engine) SetTimeouts(perTurn, first int) error {
	return e.timeouts.Set(perTurn, first)
}

func (e *Engine) Seed() int64 { return e.seed }

// Random is seeded from the "seed" game parameter.
func (e *Engine) Random() *rand.Rand { return e.random }

func (e *Engine) Param(key string) (string, bool) {
	v, ok := e.params[key]
	return v, ok
}

// SetParam records a game parameter; all parameters are reported at the end of
// the game.
func (e *Engine) SetParam(key, value string) { e.params[key] = value }

func (e *Engine) Params() map[string]string {
	out := make(map[string]string, len(e.params))
	for k, v := range e.params {
		out[k] = v
	}
	return out
}

func (e *Engine) SetMetadata(key, value string) { e.metadata[key] = value }

// SetViewData sets the current frame's data for one view module.
func (e *Engine) SetViewData(module string, v any) { e.curView[module] = v }

// SetViewGlobalData sets data sent once with the first frame. Init only.
func (e *Engine) SetViewGlobalData(module string, v any) error {
	if e.initDone {
		return fmt.Errorf("%w: global view data set after init", ErrIllegalState)
	}
	e.globalView[module] = v
	return nil
}

func (e *Engine) FrameDuration() int { return e.frameDuration }

// SetFrameDuration sets the replay duration of the frame being computed.
func (e *Engine) SetFrameDuration(ms int) {
	if ms != e.frameDuration {
		e.frameDuration = ms
		e.curView["duration"] = ms
	}
}

func (e *Engine) AddTooltip(t Tooltip) { e.curTooltips = append(e.curTooltips, t) }

func (e *Engine) AddToGameSummary(line string) { e.curSummary = append(e.curSummary, line) }

// ScoreBoard returns "index score" pairs in player order.
func (e *Engine) ScoreBoard() []string {
	lines := make([]string, len(e.players))
	for i, p := range e.players {
		lines[i] = strconv.Itoa(p.index) + " " + strconv.Itoa(p.score)
	}
	return lines
}

func sortedParams(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	lines := make([]string, len(keys))
	for i, k := range keys {
		lines[i] = k + "=" + m[k]
	}
	return lines
}
