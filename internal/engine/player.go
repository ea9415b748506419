package engine

import (
	"fmt"
	"strconv"
)

// Answer is what the runner reported for one execution: either the captured
// lines or a timeout.
type Answer struct {
	Lines    []string
	TimedOut bool
}

// Player is the referee-side handle of one participant.
type Player struct {
	// ExpectedOutputLines is the line count requested on Execute.
	ExpectedOutputLines int

	e     *Engine
	index int

	inputs  []string
	answer  Answer
	active  bool
	score   int
	spentMs int64

	executed     bool
	everExecuted bool

	timeQuota *Quota
}

func newPlayer(e *Engine, index int) *Player {
	return &Player{
		ExpectedOutputLines: 1,
		e:                   e,
		index:               index,
		active:              true,
		timeQuota:           NewQuota("turn time of player "+strconv.Itoa(index), TurnTimeSoftQuota, TurnTimeHardQuota, e.logger),
	}
}

func (p *Player) Index() int { return p.index }

// NicknameToken is replaced by the player's nickname when displayed.
func (p *Player) NicknameToken() string { return "$" + strconv.Itoa(p.index) }

// AvatarToken is replaced by the player's avatar when displayed.
func (p *Player) AvatarToken() string { return "$" + strconv.Itoa(p.index) }

// ColorToken is replaced by the player's color when displayed.
func (p *Player) ColorToken() int { return -(p.index + 1) }

func (p *Player) Active() bool { return p.active }
func (p *Player) Score() int   { return p.score }

func (p *Player) SetScore(score int) { p.score = score }

// Deactivate removes the player from the active set. A non-empty reason is
// shown as a tooltip on this turn.
func (p *Player) Deactivate(reason string) {
	p.active = false
	if reason != "" {
		p.e.AddTooltip(Tooltip{Player: p.index, Text: reason})
	}
}

// TimedOut reports whether the last execution of this turn produced no answer.
func (p *Player) TimedOut() bool { return p.executed && p.answer.TimedOut }

// TimeGrantedMs is the sum of every budget handed to this player.
func (p *Player) TimeGrantedMs() int64 { return p.spentMs }

// SendInputLine queues one input line for the next execution.
func (p *Player) SendInputLine(line string) error {
	if p.executed {
		return fmt.Errorf("%w: input sent to player %d after execute", ErrIllegalState, p.index)
	}
	if p.e.outputsRead {
		return fmt.Errorf("%w: input sent to player %d after outputs were read", ErrIllegalState, p.index)
	}
	p.inputs = append(p.inputs, line)
	return nil
}

// Execute hands the queued input to the player and blocks until the runner
// reports its answer.
func (p *Player) Execute() error {
	if err := p.e.execute(p, p.ExpectedOutputLines, true); err != nil {
		return err
	}
	p.executed = true
	p.everExecuted = true
	return nil
}

// Outputs returns this turn's answer. A player that timed out, or answered
// with the wrong number of lines, yields ErrTimeout.
func (p *Player) Outputs() ([]string, error) {
	p.e.outputsRead = true
	if !p.executed {
		return nil, fmt.Errorf("%w: outputs of player %d read before execute", ErrIllegalState, p.index)
	}
	if p.answer.TimedOut {
		return nil, fmt.Errorf("player %d: %w", p.index, ErrTimeout)
	}
	return p.answer.Lines, nil
}

func (p *Player) resetTurn() {
	p.answer = Answer{}
	p.executed = false
}
