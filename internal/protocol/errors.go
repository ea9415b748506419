package protocol

import "errors"

// ErrViolation marks a framing error: malformed header, unexpected keyword or
// a body shorter than declared. It is fatal to the side that detects it.
var ErrViolation = errors.New("protocol violation")

const (
	// Framing.
	ErrCodeProtocol = "E_PROTOCOL"

	// Player execution.
	ErrCodeTimeout      = "E_TIMEOUT"
	ErrCodeIllegalState = "E_ILLEGAL_STATE"

	// Resource ceilings.
	ErrCodeQuota = "E_QUOTA"

	ErrCodeInternal = "E_INTERNAL"
)

var knownCodes = map[string]struct{}{
	ErrCodeProtocol:     {},
	ErrCodeTimeout:      {},
	ErrCodeIllegalState: {},
	ErrCodeQuota:        {},
	ErrCodeInternal:     {},
}

func IsKnownCode(code string) bool {
	if code == "" {
		return true
	}
	_, ok := knownCodes[code]
	return ok
}

// Coded is implemented by errors that carry one of the codes above.
type Coded interface {
	Code() string
}

// CodeOf returns the code for err: ErrCodeProtocol for violations, the code of
// the first Coded error in the chain, or ErrCodeInternal.
func CodeOf(err error) string {
	if err == nil {
		return ""
	}
	if errors.Is(err, ErrViolation) {
		return ErrCodeProtocol
	}
	var c Coded
	if errors.As(err, &c) {
		return c.Code()
	}
	return ErrCodeInternal
}
