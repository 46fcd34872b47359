package session

import (
	"time"

	"github.com/torosent/gamestorm/internal/clientmetrics"
)

// Report is the terminal summary of one session, emitted exactly once.
type Report struct {
	SessionID     int                    `json:"session_id"`
	PlayerID      uint64                 `json:"player_id"`
	Target        string                 `json:"target"`
	FinalState    State                  `json:"final_state"`
	ReachedActive bool                   `json:"reached_active"`
	Transitions   []Transition           `json:"transitions"`
	Bypassed      []string               `json:"handshake_bypassed,omitempty"`
	ErrorKind     string                 `json:"error_kind,omitempty"`
	Error         string                 `json:"error,omitempty"`
	Counters      clientmetrics.Snapshot `json:"counters"`
	CreatedAt     time.Time              `json:"created_at"`
	ClosedAt      time.Time              `json:"closed_at"`

	Err error `json:"-"`
}

// TimeIn returns how long the session stayed in state, or zero if it never
// left it.
func (r Report) TimeIn(state State) time.Duration {
	var entered time.Time
	for _, tr := range r.Transitions {
		if tr.To == state {
			entered = tr.At
			continue
		}
		if tr.From == state && !entered.IsZero() {
			return tr.At.Sub(entered)
		}
	}
	return 0
}

// FailedBeforeActive reports a connection or handshake failure.
func (r Report) FailedBeforeActive() bool {
	return r.FinalState == Failed && !r.ReachedActive
}
