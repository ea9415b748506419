package runner

import (
	"turnforge.ai/internal/protocol"
)

var (
	normalShape   = []protocol.Keyword{protocol.NextPlayerInput, protocol.View, protocol.NextPlayerInfo, protocol.Infos}
	terminalShape = []protocol.Keyword{protocol.Scores, protocol.View, protocol.Infos}
)

// TurnInfo collects the referee commands of one round; a later command of the
// same kind replaces an earlier one.
type TurnInfo struct {
	cmds map[protocol.Keyword]protocol.Command
}

func NewTurnInfo() *TurnInfo {
	return &TurnInfo{cmds: map[protocol.Keyword]protocol.Command{}}
}

func (t *TurnInfo) Put(c protocol.Command) { t.cmds[c.Key] = c }

func (t *TurnInfo) Get(k protocol.Keyword) (protocol.Command, bool) {
	c, ok := t.cmds[k]
	return c, ok
}

// Body returns the body of k, or nil when k was not received.
func (t *TurnInfo) Body(k protocol.Keyword) *string {
	c, ok := t.cmds[k]
	if !ok {
		return nil
	}
	s := c.Body()
	return &s
}

func (t *TurnInfo) has(keys []protocol.Keyword) bool {
	for _, k := range keys {
		if _, ok := t.cmds[k]; !ok {
			return false
		}
	}
	return true
}

// Complete reports whether either the normal or the terminal shape is filled.
func (t *TurnInfo) Complete() bool { return t.has(normalShape) || t.has(terminalShape) }

// Terminal reports whether the round carries the final scores.
func (t *TurnInfo) Terminal() bool { return t.has(terminalShape) }

func (t *TurnInfo) Failed() bool {
	_, ok := t.cmds[protocol.Fail]
	return ok
}
