package observerproto

import "turnforge.ai/internal/result"

// Version is the observer protocol version.
const Version = "0.1"

const (
	TypeSubscribe = "SUBSCRIBE"
	TypeRound     = "ROUND"
	TypeFinish    = "FINISH"
)

// Client -> Server. First message on the observer WS connection, and can be
// re-sent to update settings.
type SubscribeMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`

	// Views are large; observers that only follow the score leave them out.
	IncludeViews bool `json:"include_views"`
	// FromRound skips the backlog before this round.
	FromRound int `json:"from_round,omitempty"`
}

// HTTP response for GET /observer/bootstrap.
type BootstrapResponse struct {
	ProtocolVersion string         `json:"protocol_version"`
	RunID           string         `json:"run_id"`
	Agents          []result.Agent `json:"agents"`
	Rounds          int            `json:"rounds"`
	Finished        bool           `json:"finished"`
}

// Server -> Client. Sent when a round ends.
type RoundMsg struct {
	Type            string       `json:"type"`
	ProtocolVersion string       `json:"protocol_version"`
	Round           result.Round `json:"round"`
}

// Server -> Client. Sent once when the run ends; the connection is closed
// afterwards.
type FinishMsg struct {
	Type            string      `json:"type"`
	ProtocolVersion string      `json:"protocol_version"`
	RunID           string      `json:"run_id"`
	Rounds          int         `json:"rounds"`
	Scores          map[int]int `json:"scores"`
	FailCause       string      `json:"fail_cause,omitempty"`
	FailCode        string      `json:"fail_code,omitempty"`
}
