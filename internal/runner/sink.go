package runner

import "turnforge.ai/internal/result"

// Sink receives every round as soon as it ends and the full result at the end
// of the run.
type Sink interface {
	WriteRound(r result.Round) error
	Finish(res *result.GameResult) error
}
