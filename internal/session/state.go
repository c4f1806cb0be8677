package session

import (
	"fmt"
	"time"

	"github.com/MrWong99/heychef/internal/generate"
)

// State is the position of a session in the voice turn cycle.
type State int

// Session states. A session starts Idle and ends Stopped.
const (
	Idle State = iota
	ListeningForWake
	Recording
	Transcribing
	Generating
	Speaking
	Stopped
)

var stateNames = [...]string{
	Idle:             "idle",
	ListeningForWake: "listening_for_wake",
	Recording:        "recording",
	Transcribing:     "transcribing",
	Generating:       "generating",
	Speaking:         "speaking",
	Stopped:          "stopped",
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return fmt.Sprintf("state(%d)", int(s))
	}
	return stateNames[s]
}

// MarshalText encodes the state by name.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText parses a state name.
func (s *State) UnmarshalText(b []byte) error {
	for i, n := range stateNames {
		if n == string(b) {
			*s = State(i)
			return nil
		}
	}
	return fmt.Errorf("session: unknown state %q", b)
}

// Turn is one answered question.
type Turn struct {
	ID       string        `json:"id"`
	Question string        `json:"question"`
	Answer   string        `json:"answer"`
	Mode     generate.Mode `json:"mode"`
	At       time.Time     `json:"at"`
}

// Config selects how a session behaves.
type Config struct {
	// Mode selects the generation profile. Empty means normal.
	Mode generate.Mode `json:"mode"`

	// Streaming speaks the answer while it is being generated.
	Streaming bool `json:"streaming"`

	// UseHistory sends previous turns of the session to the model.
	UseHistory bool `json:"use_history"`

	// KeepHistory continues the history of the previous session. Without it
	// every start begins with an empty history.
	KeepHistory bool `json:"keep_history"`

	// Recipe is the text the questions are about.
	Recipe string `json:"-"`
}

// Snapshot is an immutable view of a session. Snapshots are safe to share;
// their History is never modified after publication.
type Snapshot struct {
	// Version increases with every published change.
	Version uint64 `json:"version"`

	SessionID  string        `json:"session_id,omitempty"`
	State      State         `json:"state"`
	Running    bool          `json:"running"`
	Mode       generate.Mode `json:"mode"`
	Streaming  bool          `json:"streaming"`
	UseHistory bool          `json:"use_history"`
	History    []Turn        `json:"history"`
	StartedAt  time.Time     `json:"started_at,omitzero"`

	// LastError describes the failure that ended the session, if any.
	LastError string `json:"last_error,omitempty"`
}
