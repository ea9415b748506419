// Package duel is a small guessing game: every turn each active player guesses
// a hidden number in [1, max]. The closest guess scores a point, an exact
// guess scores three and a new number is drawn. Three misses (timeouts or
// invalid guesses) deactivate a player.
package duel

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"turnforge.ai/internal/engine"
	"turnforge.ai/internal/entities"
)

const (
	DefaultRounds = 10
	DefaultMax    = 100
	MaxMisses     = 3

	exactBonus = 3
)

// Feedback sent to a player about its previous guess.
const (
	FeedbackNone   = "none"
	FeedbackHigher = "higher"
	FeedbackLower  = "lower"
	FeedbackExact  = "exact"
)

type Referee struct {
	max    int
	hidden int

	misses   []int
	feedback []string

	view    *entities.Module
	target  *entities.Entity
	markers []*entities.Entity
	labels  []*entities.Entity
}

func New() *Referee { return &Referee{} }

// Hidden returns the number players are currently looking for.
func (r *Referee) Hidden() int { return r.hidden }

func (r *Referee) Init(e *engine.Engine) error {
	n := e.PlayerCount()
	if n < 1 || n > 2 {
		return fmt.Errorf("duel: %d players, want 1 or 2", n)
	}
	rounds, err := intParam(e, "rounds", DefaultRounds, 1, engine.DefaultMaxTurns)
	if err != nil {
		return err
	}
	r.max, err = intParam(e, "max", DefaultMax, 2, 1_000_000)
	if err != nil {
		return err
	}
	if err := e.SetMaxTurns(rounds); err != nil {
		return err
	}

	r.view = entities.New()
	if err := e.Register(r.view); err != nil {
		return err
	}
	if err := r.view.CreateWorld(1920, 1080); err != nil {
		return err
	}
	r.target = r.view.NewRectangle().SetSize(6, 1080).SetFillColor(0xffcc00).SetVisible(false)
	for _, p := range e.Players() {
		y := float64(300 + 400*p.Index())
		r.markers = append(r.markers, r.view.NewCircle().SetRadius(30).SetFillColor(p.ColorToken()).SetY(y))
		r.labels = append(r.labels, r.view.NewText(p.NicknameToken()).SetY(y-60))
		r.misses = append(r.misses, 0)
		r.feedback = append(r.feedback, FeedbackNone)
	}
	r.hidden = r.draw(e)
	return nil
}

func (r *Referee) GameTurn(e *engine.Engine, turn int) error {
	var playing []*engine.Player
	for _, p := range e.ActivePlayers() {
		if err := p.SendInputLine(strconv.Itoa(r.max) + " " + r.feedback[p.Index()]); err != nil {
			return err
		}
		if err := p.Execute(); err != nil {
			return err
		}
		playing = append(playing, p)
	}

	guesses := map[int]int{}
	for _, p := range playing {
		out, err := p.Outputs()
		if errors.Is(err, engine.ErrTimeout) {
			r.miss(e, p, "timeout")
			continue
		}
		if err != nil {
			return err
		}
		g, perr := strconv.Atoi(strings.TrimSpace(out[0]))
		if perr != nil || g < 1 || g > r.max {
			r.miss(e, p, "invalid guess")
			continue
		}
		guesses[p.Index()] = g
		r.markers[p.Index()].SetX(r.screenX(g), entities.Ease)
		r.labels[p.Index()].SetText(p.NicknameToken() + ": " + strconv.Itoa(g))
	}
	if len(guesses) == 0 {
		return nil
	}

	best := -1
	for _, g := range guesses {
		if d := abs(g - r.hidden); best < 0 || d < best {
			best = d
		}
	}
	found := false
	for idx, g := range guesses {
		p := e.Player(idx)
		switch {
		case g == r.hidden:
			r.feedback[idx] = FeedbackExact
			p.SetScore(p.Score() + exactBonus)
			e.AddToGameSummary(fmt.Sprintf("%s found %d", p.NicknameToken(), g))
			found = true
		case g < r.hidden:
			r.feedback[idx] = FeedbackHigher
		default:
			r.feedback[idx] = FeedbackLower
		}
		if g != r.hidden && abs(g-r.hidden) == best {
			p.SetScore(p.Score() + 1)
			e.AddToGameSummary(fmt.Sprintf("%s is closest with %d", p.NicknameToken(), g))
		}
	}
	if found {
		r.target.SetX(r.screenX(r.hidden)).SetVisible(true)
		if err := r.view.CommitEntityState(0.5, r.target); err != nil {
			return err
		}
		r.target.SetVisible(false)
		r.hidden = r.draw(e)
		for i := range r.feedback {
			r.feedback[i] = FeedbackNone
		}
	}
	return nil
}

func (r *Referee) OnEnd(e *engine.Engine) error {
	e.SetMetadata("hidden", strconv.Itoa(r.hidden))
	for _, p := range e.Players() {
		if !p.Active() {
			p.SetScore(-1)
		}
	}
	return nil
}

func (r *Referee) miss(e *engine.Engine, p *engine.Player, why string) {
	i := p.Index()
	r.misses[i]++
	r.feedback[i] = FeedbackNone
	e.AddToGameSummary(fmt.Sprintf("%s: %s (%d/%d)", p.NicknameToken(), why, r.misses[i], MaxMisses))
	if r.misses[i] >= MaxMisses {
		p.Deactivate(p.NicknameToken() + " " + why)
		r.markers[i].SetAlpha(0.3)
	}
}

func (r *Referee) draw(e *engine.Engine) int { return 1 + e.Random().Intn(r.max) }

func (r *Referee) screenX(v int) float64 {
	return 60 + 1800*float64(v-1)/float64(r.max-1)
}

// intParam reads an integer game parameter, records the default when absent
// and rejects values outside [lo, hi].
func intParam(e *engine.Engine, key string, def, lo, hi int) (int, error) {
	raw, ok := e.Param(key)
	if !ok {
		e.SetParam(key, strconv.Itoa(def))
		return def, nil
	}
	v, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil || v < lo || v > hi {
		return 0, fmt.Errorf("duel: param %s=%q must be an integer in [%d, %d]", key, raw, lo, hi)
	}
	return v, nil
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
