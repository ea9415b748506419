package engine

import "turnforge.ai/internal/protocol"

type codedError struct {
	code string
	msg  string
}

func (e *codedError) Error() string { return e.msg }
func (e *codedError) Code() string  { return e.code }

var (
	// ErrIllegalState is returned when the referee drives the engine out of
	// order: executing before init, queuing input after execute or after any
	// output was read this turn, registering a module after init.
	ErrIllegalState error = &codedError{code: protocol.ErrCodeIllegalState, msg: "illegal state"}

	// ErrTimeout is returned by Player.Outputs when the player gave no valid
	// answer this turn.
	ErrTimeout error = &codedError{code: protocol.ErrCodeTimeout, msg: "player timed out"}

	// ErrQuotaExceeded is returned when a hard quota is crossed. It is fatal.
	ErrQuotaExceeded error = &codedError{code: protocol.ErrCodeQuota, msg: "quota exceeded"}
)
