package duel

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"turnforge.ai/internal/engine"
	"turnforge.ai/internal/entities"
)

// Solo is the single-player variant: the test case fixes the range and the
// hidden number, and the player wins by finding it within the turn limit.
// Its input line has the same "max feedback" shape as the duel.
//
// Test case lines: "<max> <hidden>" and an optional turn limit.
type Solo struct {
	max      int
	hidden   int
	feedback string
	done     bool

	view   *entities.Module
	marker *entities.Entity
}

func NewSolo() *Solo { return &Solo{feedback: FeedbackNone} }

func (s *Solo) Init(e *engine.Engine) error {
	tc := e.TestCaseInput()
	if len(tc) == 0 {
		return errors.New("solo: empty test case")
	}
	f := strings.Fields(tc[0])
	if len(f) != 2 {
		return fmt.Errorf("solo: test case line %q, want \"<max> <hidden>\"", tc[0])
	}
	var err error
	if s.max, err = strconv.Atoi(f[0]); err != nil || s.max < 2 {
		return fmt.Errorf("solo: bad max %q", f[0])
	}
	if s.hidden, err = strconv.Atoi(f[1]); err != nil || s.hidden < 1 || s.hidden > s.max {
		return fmt.Errorf("solo: hidden %q outside [1, %d]", f[1], s.max)
	}
	turns := DefaultRounds
	if len(tc) > 1 && strings.TrimSpace(tc[1]) != "" {
		if turns, err = strconv.Atoi(strings.TrimSpace(tc[1])); err != nil {
			return fmt.Errorf("solo: bad turn limit %q", tc[1])
		}
	}
	if err := e.SetMaxTurns(turns); err != nil {
		return err
	}

	s.view = entities.New()
	if err := e.Register(s.view); err != nil {
		return err
	}
	if err := s.view.CreateWorld(1920, 1080); err != nil {
		return err
	}
	s.marker = s.view.NewCircle().SetRadius(30).SetFillColor(e.Player(0).ColorToken()).SetY(540)
	return nil
}

func (s *Solo) GameTurn(e *engine.Engine, turn int) error {
	p := e.Player(0)
	if err := p.SendInputLine(strconv.Itoa(s.max) + " " + s.feedback); err != nil {
		return err
	}
	if err := p.Execute(); err != nil {
		return err
	}
	out, err := p.Outputs()
	if errors.Is(err, engine.ErrTimeout) {
		// the engine ends a solo game on timeout
		s.done = true
		return e.LoseGame("timeout")
	}
	if err != nil {
		return err
	}
	g, perr := strconv.Atoi(strings.TrimSpace(out[0]))
	if perr != nil || g < 1 || g > s.max {
		s.done = true
		return e.LoseGame(fmt.Sprintf("invalid guess %q", out[0]))
	}
	s.marker.SetX(60+1800*float64(g-1)/float64(s.max-1), entities.Ease)
	switch {
	case g == s.hidden:
		s.done = true
		return e.WinGame(fmt.Sprintf("found %d in %d turns", g, turn))
	case g < s.hidden:
		s.feedback = FeedbackHigher
	default:
		s.feedback = FeedbackLower
	}
	return nil
}

func (s *Solo) OnEnd(e *engine.Engine) error {
	if s.done {
		return nil
	}
	return e.LoseGame(fmt.Sprintf("not found in %d turns", e.MaxTurns()))
}
