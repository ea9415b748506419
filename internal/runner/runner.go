package runner

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"turnforge.ai/internal/agent"
	"turnforge.ai/internal/protocol"
	"turnforge.ai/internal/result"
	"turnforge.ai/internal/tuning"
)

const (
	refereeKey    = "referee"
	defaultAvatar = "default"
)

// PlayerSpec describes one participant.
type PlayerSpec struct {
	Factory  agent.Factory
	Nickname string
	Avatar   string
}

type Config struct {
	Referee agent.Factory
	Players []PlayerSpec
	// Params are sent to the referee with INIT as key=value lines.
	Params map[string]string
	// TestCase, when set, replaces Params in INIT with these lines verbatim.
	// It drives a solo referee and needs exactly one player.
	TestCase []string
	Tuning   tuning.Tuning
	Logger   *log.Logger
	Sinks    []Sink
	// RunID overrides the generated run id.
	RunID string
}

// Runner drives one game: it relays between the referee and the players and
// accumulates the GameResult.
type Runner struct {
	cfg    Config
	logger *log.Logger

	referee *agent.Agent
	players []*agent.Agent
	// pumps feed the players; the referee is written to directly since the
	// runner always waits for its answer before the next request.
	pumps []*agent.Pump

	res *result.GameResult
	// failCode is set when the runner itself detected the failure.
	failCode string
}

func New(cfg Config) (*Runner, error) {
	if cfg.Referee == nil {
		return nil, errors.New("runner: referee is required")
	}
	if cfg.Tuning == (tuning.Tuning{}) {
		cfg.Tuning = tuning.Defaults()
	}
	if err := cfg.Tuning.Validate(); err != nil {
		return nil, err
	}
	if len(cfg.Players) == 0 {
		return nil, errors.New("runner: at least one player is required")
	}
	if len(cfg.Players) > cfg.Tuning.MaxPlayers {
		return nil, fmt.Errorf("runner: %d players exceeds the maximum of %d", len(cfg.Players), cfg.Tuning.MaxPlayers)
	}
	if cfg.TestCase != nil {
		if len(cfg.Players) != 1 {
			return nil, fmt.Errorf("runner: a test case needs exactly one player, got %d", len(cfg.Players))
		}
		if len(cfg.Params) > 0 {
			return nil, errors.New("runner: game parameters cannot be combined with a test case")
		}
	}
	for i, p := range cfg.Players {
		if p.Factory == nil {
			return nil, fmt.Errorf("runner: player %d has no process", i)
		}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	if cfg.RunID == "" {
		cfg.RunID = uuid.NewString()
	}
	return &Runner{cfg: cfg, logger: logger}, nil
}

// Run plays the game to its end. The returned result is complete even when
// the referee failed; the error is only non-nil when the run could not start
// or ctx was cancelled.
func (r *Runner) Run(ctx context.Context) (*result.GameResult, error) {
	t := r.cfg.Tuning
	r.res = result.New(r.cfg.RunID)
	r.res.Errors[refereeKey] = []*string{}
	r.res.Outputs[refereeKey] = []*string{}

	if err := r.start(ctx); err != nil {
		r.teardown()
		return nil, err
	}
	defer r.teardown()

	if !sleepCtx(ctx, t.Settle()) {
		return r.finish(ctx.Err())
	}

	for _, p := range r.players {
		r.pumps = append(r.pumps, agent.NewPump(p.Stdin(), t.PumpQueue))
	}

	for i, p := range r.players {
		key := strconv.Itoa(i)
		r.res.Errors[key] = []*string{nullable(p.ReadError())}
		r.res.Outputs[key] = []*string{nil}
	}

	r.sendReferee(r.initCommand())
	r.logger.Printf("run %s: started with %d players", r.cfg.RunID, len(r.players))

	for round := 0; ; round++ {
		if err := ctx.Err(); err != nil {
			r.res.FailCause = "run cancelled"
			r.failCode = protocol.ErrCodeInternal
			return r.finish(err)
		}
		if done := r.playRound(ctx, round); done {
			break
		}
	}
	return r.finish(nil)
}

func (r *Runner) start(ctx context.Context) error {
	t := r.cfg.Tuning
	limits := agent.Limits{
		ErrChunk:        t.Stderr.ChunkBytes,
		ErrChunkReduced: t.Stderr.ReducedChunkBytes,
		ErrThreshold:    t.Stderr.ThresholdBytes,
		ErrBuffer:       t.Stderr.BufferBytes,
		OutBuffer:       t.StdoutBufferBytes,
	}
	ref, err := agent.Start(ctx, -1, r.cfg.Referee, limits, r.logger)
	if err != nil {
		return fmt.Errorf("start referee: %w", err)
	}
	r.referee = ref
	for i, spec := range r.cfg.Players {
		a, err := agent.Start(ctx, i, spec.Factory, limits, r.logger)
		if err != nil {
			return fmt.Errorf("start player %d: %w", i, err)
		}
		desc := spec.describe(i)
		a.Nickname = desc.Name
		a.Avatar = desc.Avatar
		r.players = append(r.players, a)
		r.res.Agents = append(r.res.Agents, desc)
		r.res.IDs[i] = desc.AgentID
	}
	return nil
}

func (p PlayerSpec) describe(i int) result.Agent {
	a := result.Agent{Index: i, AgentID: i, Name: p.Nickname, Avatar: p.Avatar}
	if a.Name == "" {
		a.Name = "Player " + strconv.Itoa(i)
	}
	if a.Avatar == "" {
		a.Avatar = defaultAvatar
	}
	return a
}

// Agents describes the players as they will appear in the result, before the
// run starts.
func (c Config) Agents() []result.Agent {
	out := make([]result.Agent, len(c.Players))
	for i, p := range c.Players {
		out[i] = p.describe(i)
	}
	return out
}

// RunID is the id of the run, generated by New when the config left it empty.
func (r *Runner) RunID() string { return r.cfg.RunID }

func (r *Runner) initCommand() protocol.Command {
	cmd := protocol.NewCommand(protocol.Init, strconv.Itoa(len(r.players)))
	if r.cfg.TestCase != nil {
		cmd.Add(r.cfg.TestCase...)
		return cmd
	}
	keys := make([]string, 0, len(r.cfg.Params))
	for k := range r.cfg.Params {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		cmd.Add(k + "=" + r.cfg.Params[k])
	}
	return cmd
}

// playRound runs one exchange and reports whether the game is over.
func (r *Runner) playRound(ctx context.Context, round int) bool {
	info := r.readGameInfo(round)
	rec := result.Round{RunID: r.cfg.RunID, Index: round, Player: -1}

	valid := info.Complete()
	if fail, ok := info.Get(protocol.Fail); ok {
		r.recordFail(fail)
		rec.Fail = r.res.FailCause
		valid = false
	}
	terminal := valid && info.Terminal()

	summary := info.Body(protocol.Summary)
	if summary == nil {
		summary = info.Body(protocol.Infos)
	}
	r.res.Summaries = append(r.res.Summaries, summary)
	rec.Summary = summary

	var played *playerTurn
	if valid && !terminal {
		pt, err := r.playPlayer(ctx, info)
		if err != nil {
			r.logger.Printf("round %d: %v", round, err)
			r.res.FailCause = err.Error()
			r.failCode = protocol.ErrCodeProtocol
			rec.Fail = r.res.FailCause
			valid = false
		} else {
			played = pt
		}
	}
	r.appendPlayerRound(played, &rec)

	refErr := nullable(r.drainReferee())
	r.res.Errors[refereeKey] = append(r.res.Errors[refereeKey], refErr)
	if refErr != nil {
		if rec.Errors == nil {
			rec.Errors = map[string]string{}
		}
		rec.Errors[refereeKey] = *refErr
	}

	if !valid {
		r.res.Views = append(r.res.Views, nil)
	} else {
		rec.View = info.Body(protocol.View)
		r.res.Views = append(r.res.Views, rec.View)
		r.collect(info, round, &rec)
	}
	rec.Valid = valid
	rec.Terminal = terminal

	for _, s := range r.cfg.Sinks {
		if err := s.WriteRound(rec); err != nil {
			r.logger.Printf("round %d: sink: %v", round, err)
		}
	}
	return !valid || terminal
}

// readGameInfo asks the referee for the next round and reads commands until
// one of the two complete shapes is filled or the referee fails.
func (r *Runner) readGameInfo(round int) *TurnInfo {
	r.sendReferee(protocol.NewCommand(protocol.GetGameInfo))
	info := NewTurnInfo()
	for !info.Complete() && !info.Failed() {
		info.Put(r.readCommand(round))
	}
	return info
}

// readCommand reads one framed command from the referee. Anything that is not
// a well-formed command becomes a FAIL command.
func (r *Runner) readCommand(round int) protocol.Command {
	t := r.cfg.Tuning
	timeout := t.RefereeTimeout()
	maxBytes := t.RefereeMaxBytes
	if round == 0 {
		maxBytes = t.RefereeFirstRoundMaxBytes
	}

	header := r.referee.GetOutput(1, timeout, maxBytes)
	if c := checkOutput(header, 1); c != outputOK {
		r.failCode = protocol.ErrCodeProtocol
		return protocol.NewCommand(protocol.Fail, fmt.Sprintf("invalid referee command header (%s): %q", c, header))
	}
	key, n, err := protocol.ParseHeader(strings.TrimSuffix(header, "\n"), protocol.RefereeKeywords...)
	if err != nil {
		r.failCode = protocol.ErrCodeProtocol
		return protocol.NewCommand(protocol.Fail, err.Error())
	}
	body := r.referee.GetOutput(n, timeout, maxBytes)
	if c := checkOutput(body, n); c != outputOK {
		r.failCode = protocol.ErrCodeProtocol
		return protocol.NewCommand(protocol.Fail, fmt.Sprintf("error reading referee command %s: body %s (%d bytes / max %d)", key, c, len(body), maxBytes))
	}
	return protocol.Command{Key: key, Lines: splitLines(body, n)}
}

// recordFail stores the referee's failure. A FAIL body produced by the
// referee engine starts with its error code.
func (r *Runner) recordFail(fail protocol.Command) {
	body := fail.Body()
	r.res.FailCause = body
	if r.failCode != "" {
		return
	}
	r.failCode = protocol.ErrCodeInternal
	if code, _, ok := strings.Cut(body, ":"); ok && code != "" && protocol.IsKnownCode(code) {
		r.failCode = code
	}
}

type playerTurn struct {
	index  int
	answer Answer
	stderr *string
}

func (r *Runner) playPlayer(ctx context.Context, info *TurnInfo) (*playerTurn, error) {
	next, _ := info.Get(protocol.NextPlayerInfo)
	idx, n, timeout, err := parsePlayerInfo(next.Lines)
	if err != nil {
		return nil, err
	}
	if idx < 0 || idx >= len(r.players) {
		return nil, fmt.Errorf("%w: NEXT_PLAYER_INFO names player %d of %d", protocol.ErrViolation, idx, len(r.players))
	}

	input, _ := info.Get(protocol.NextPlayerInput)
	var sb strings.Builder
	for _, l := range input.Lines {
		sb.WriteString(l)
		sb.WriteByte('\n')
	}
	r.pumps[idx].Enqueue(sb.String())

	pt := &playerTurn{index: idx}
	p := r.players[idx]
	out := p.GetOutput(n, timeout, r.cfg.Tuning.PlayerMaxBytes)
	check := checkOutput(out, n)
	pt.answer.Check = check.String()
	if check == outputOK {
		pt.answer.Valid = true
		pt.answer.Lines = splitLines(out, n)
	} else {
		// Leave the player a chance to explain itself on stderr.
		sleepCtx(ctx, timeout)
		r.logger.Printf("player %d: %s after %s", idx, check, timeout)
	}
	pt.stderr = nullable(p.ReadError())

	if pt.answer.Valid {
		r.sendReferee(protocol.NewCommand(protocol.SetPlayerOutput, pt.answer.Lines...))
	} else {
		r.sendReferee(protocol.NewCommand(protocol.SetPlayerTimeout))
	}
	return pt, nil
}

func parsePlayerInfo(lines []string) (idx, n int, timeout time.Duration, err error) {
	if len(lines) < 3 {
		return 0, 0, 0, fmt.Errorf("%w: NEXT_PLAYER_INFO has %d lines", protocol.ErrViolation, len(lines))
	}
	var vals [3]int
	for i := range vals {
		v, perr := strconv.Atoi(strings.TrimSpace(lines[i]))
		if perr != nil {
			return 0, 0, 0, fmt.Errorf("%w: NEXT_PLAYER_INFO line %d: %v", protocol.ErrViolation, i, perr)
		}
		vals[i] = v
	}
	return vals[0], vals[1], time.Duration(vals[2]) * time.Millisecond, nil
}

// appendPlayerRound adds one entry per player to outputs and errors; only the
// player that was asked gets a value.
func (r *Runner) appendPlayerRound(pt *playerTurn, rec *result.Round) {
	for i := range r.players {
		key := strconv.Itoa(i)
		var out, errText *string
		if pt != nil && pt.index == i {
			if pt.answer.Valid {
				out = result.Str(strings.Join(pt.answer.Lines, "\n") + "\n")
				if len(pt.answer.Lines) == 0 {
					out = result.Str("\n")
				}
			}
			errText = pt.stderr
		}
		r.res.Outputs[key] = append(r.res.Outputs[key], out)
		r.res.Errors[key] = append(r.res.Errors[key], errText)
	}
	if pt == nil {
		return
	}
	rec.Player = pt.index
	rec.TimedOut = !pt.answer.Valid
	if pt.answer.Valid {
		rec.Output = r.res.Outputs[strconv.Itoa(pt.index)][len(r.res.Outputs[strconv.Itoa(pt.index)])-1]
	}
	if pt.stderr != nil {
		rec.Errors = map[string]string{strconv.Itoa(pt.index): *pt.stderr}
	}
}

// collect copies the optional per-round data of a valid round into the result.
func (r *Runner) collect(info *TurnInfo, round int, rec *result.Round) {
	if c, ok := info.Get(protocol.UInput); ok {
		r.res.GameParameters = append([]string{}, c.Lines...)
	}
	if c, ok := info.Get(protocol.Metadata); ok {
		r.res.Metadata = c.Body()
	}
	if c, ok := info.Get(protocol.Tooltip); ok {
		for i := 0; i+1 < len(c.Lines); i += 2 {
			ev, err := strconv.Atoi(strings.TrimSpace(c.Lines[i+1]))
			if err != nil {
				r.logger.Printf("round %d: tooltip player %q: %v", round, c.Lines[i+1], err)
				continue
			}
			tt := result.Tooltip{Text: c.Lines[i], Event: ev, Turn: round}
			r.res.Tooltips = append(r.res.Tooltips, tt)
			rec.Tooltips = append(rec.Tooltips, tt)
		}
	}
	if c, ok := info.Get(protocol.Scores); ok {
		rec.Scores = map[int]int{}
		for _, l := range c.Lines {
			f := strings.Fields(l)
			if len(f) != 2 {
				continue
			}
			idx, err1 := strconv.Atoi(f[0])
			score, err2 := strconv.Atoi(f[1])
			if err1 != nil || err2 != nil {
				r.logger.Printf("round %d: bad score line %q", round, l)
				continue
			}
			r.res.Scores[idx] = score
			rec.Scores[idx] = score
		}
	}
}

// drainReferee returns all stderr the referee produced since the last call.
func (r *Runner) drainReferee() string {
	var sb strings.Builder
	for {
		s := r.referee.ReadError()
		if s == "" {
			return sb.String()
		}
		sb.WriteString(s)
	}
}

func (r *Runner) finish(cause error) (*result.GameResult, error) {
	r.res.FinishedAt = time.Now().UTC()
	if r.res.FailCause != "" {
		r.res.FailCode = r.failCode
		if r.res.FailCode == "" {
			r.res.FailCode = protocol.ErrCodeInternal
		}
	}
	for _, s := range r.cfg.Sinks {
		if err := s.Finish(r.res); err != nil {
			r.logger.Printf("run %s: sink finish: %v", r.cfg.RunID, err)
		}
	}
	if r.res.FailCause != "" {
		r.logger.Printf("run %s: ended with failure %s: %s", r.cfg.RunID, r.res.FailCode, firstLine(r.res.FailCause))
	} else {
		r.logger.Printf("run %s: ended after %d rounds", r.cfg.RunID, len(r.res.Views))
	}
	return r.res, cause
}

// sendReferee writes c synchronously. A dead referee stdin is absorbed by the
// agent; the following read then reports the incomplete round.
func (r *Runner) sendReferee(c protocol.Command) {
	r.referee.SendInput(protocol.Format(c))
}

func (r *Runner) teardown() {
	for _, p := range r.pumps {
		p.Stop()
	}
	if r.referee != nil {
		_ = r.referee.Close()
	}
	for _, p := range r.players {
		_ = p.Close()
	}
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
