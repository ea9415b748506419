package result

import "time"

// Tooltip is one tooltip shown on a given round.
type Tooltip struct {
	Text  string `json:"text"`
	Event int    `json:"event"`
	Turn  int    `json:"turn"`
}

// Agent describes one participant as shown in the replay.
type Agent struct {
	Index   int    `json:"index"`
	AgentID int    `json:"agentId"`
	Name    string `json:"name"`
	Avatar  string `json:"avatar"`
}

// GameResult is the replay artifact of one run. Per-round slices are appended
// to in round order; entries of rounds that never completed are absent, and a
// nil entry means the agent produced nothing that round.
type GameResult struct {
	RunID      string    `json:"runId"`
	StartedAt  time.Time `json:"startedAt"`
	FinishedAt time.Time `json:"finishedAt"`

	// Keyed by "referee" and by player index.
	Errors  map[string][]*string `json:"errors"`
	Outputs map[string][]*string `json:"outputs"`

	Summaries []*string   `json:"summaries"`
	Views     []*string   `json:"views"`
	Scores    map[int]int `json:"scores"`

	GameParameters []string    `json:"gameParameters"`
	Metadata       string      `json:"metadata,omitempty"`
	Tooltips       []Tooltip   `json:"tooltips"`
	IDs            map[int]int `json:"ids"`
	Agents         []Agent     `json:"agents"`

	FailCause string `json:"failCause,omitempty"`
	FailCode  string `json:"failCode,omitempty"`
}

func New(runID string) *GameResult {
	return &GameResult{
		RunID:          runID,
		StartedAt:      time.Now().UTC(),
		Errors:         map[string][]*string{},
		Outputs:        map[string][]*string{},
		Summaries:      []*string{},
		Views:          []*string{},
		Scores:         map[int]int{},
		GameParameters: []string{},
		Tooltips:       []Tooltip{},
		IDs:            map[int]int{},
		Agents:         []Agent{},
	}
}

// Round is the per-round record handed to sinks as soon as the round ends.
type Round struct {
	RunID string `json:"runId"`
	Index int    `json:"round"`
	Valid bool   `json:"valid"`

	// Player is the index of the player that was asked to answer, or -1.
	Player   int     `json:"player"`
	Output   *string `json:"output,omitempty"`
	TimedOut bool    `json:"timedOut,omitempty"`

	View     *string           `json:"view,omitempty"`
	Summary  *string           `json:"summary,omitempty"`
	Tooltips []Tooltip         `json:"tooltips,omitempty"`
	Scores   map[int]int       `json:"scores,omitempty"`
	Errors   map[string]string `json:"errors,omitempty"`
	Terminal bool              `json:"terminal,omitempty"`
	Fail     string            `json:"fail,omitempty"`
}

// Str returns a pointer to s, for nullable fields.
func Str(s string) *string { return &s }
