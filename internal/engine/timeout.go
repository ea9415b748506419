package engine

import "fmt"

const (
	MinTurnTime  = 50
	MaxTurnTime  = 25_000
	MaxTotalTime = 30_000

	DefaultTurnTime      = 50
	DefaultFirstTurnTime = 1000
	DefaultMaxTurns      = 400

	ViewSoftQuota = 512 * 1024
	ViewHardQuota = 1024 * 1024

	SummarySoftQuota  = 256 * 1024
	SummaryHardQuota  = 512 * 1024
	SummaryPerTurnCap = 800
	TurnTimeSoftQuota = 25_000
	TurnTimeHardQuota = MaxTotalTime
)

// TimeoutSettings holds the per-turn budgets handed to players, in
// milliseconds.
type TimeoutSettings struct {
	perTurn int
	first   int
}

func DefaultTimeouts() TimeoutSettings {
	return TimeoutSettings{perTurn: DefaultTurnTime, first: DefaultFirstTurnTime}
}

// Set changes both budgets. Values must lie within [MinTurnTime, MaxTurnTime].
func (t *TimeoutSettings) Set(perTurn, first int) error {
	if perTurn < MinTurnTime || perTurn > MaxTurnTime {
		return fmt.Errorf("turn time %dms outside [%d, %d]", perTurn, MinTurnTime, MaxTurnTime)
	}
	if first < MinTurnTime || first > MaxTurnTime {
		return fmt.Errorf("first turn time %dms outside [%d, %d]", first, MinTurnTime, MaxTurnTime)
	}
	t.perTurn, t.first = perTurn, first
	return nil
}

func (t TimeoutSettings) PerTurn() int { return t.perTurn }
func (t TimeoutSettings) First() int   { return t.first }

func (t TimeoutSettings) budget(p *Player) int {
	if !p.everExecuted {
		return t.first
	}
	return t.perTurn
}
