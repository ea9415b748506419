package engine

import "fmt"

// Colour markers understood by the viewer's game summary.
func SuccessMessage(msg string) string { return "¤GREEN¤" + msg + "§GREEN§" }
func ErrorMessage(msg string) string   { return "¤RED¤" + msg + "§RED§" }

// TestCaseInput returns the test case lines a solo game received with INIT.
func (e *Engine) TestCaseInput() []string {
	return append([]string(nil), e.testCase...)
}

// Solo reports whether the engine runs a single-player game.
func (e *Engine) Solo() bool { return e.solo }

// WinGame ends a solo game with a score of 1. A non-empty msg is added to the
// game summary in green.
func (e *Engine) WinGame(msg string) error {
	return e.endSolo(1, msg, SuccessMessage)
}

// LoseGame ends a solo game with a score of 0. A non-empty msg is added to the
// game summary in red.
func (e *Engine) LoseGame(msg string) error {
	return e.endSolo(0, msg, ErrorMessage)
}

func (e *Engine) endSolo(score int, msg string, format func(string) string) error {
	if !e.solo {
		return fmt.Errorf("%w: win or lose called in a multiplayer game", ErrIllegalState)
	}
	if len(e.players) == 0 {
		return fmt.Errorf("%w: win or lose called before init", ErrIllegalState)
	}
	e.EndGame()
	if msg != "" {
		e.AddToGameSummary(format(msg))
	}
	e.players[0].SetScore(score)
	return nil
}
