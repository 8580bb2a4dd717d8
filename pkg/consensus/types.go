package consensus

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

var (
	// ErrFaulty is returned for any action against a permanently faulty or killed node.
	ErrFaulty = errors.New("faulty")
	// ErrRunning is returned when a round loop is already in flight.
	ErrRunning = errors.New("already running")
	// ErrBadVote is returned for a vote with an unknown phase.
	ErrBadVote = errors.New("bad vote")
)

// MaxRounds caps the round counter; the loop runs while k <= MaxRounds.
const MaxRounds = 10

// Value is a binary proposal or Undefined.
type Value int8

const (
	Undefined Value = -1
	Zero      Value = 0
	One       Value = 1
)

func (v Value) Defined() bool { return v == Zero || v == One }

func (v Value) String() string {
	switch v {
	case Zero:
		return "0"
	case One:
		return "1"
	default:
		return "?"
	}
}

// ParseValue accepts "0", "1" and "?" (or empty) for Undefined.
func ParseValue(s string) (Value, error) {
	switch s {
	case "0":
		return Zero, nil
	case "1":
		return One, nil
	case "?", "", "null":
		return Undefined, nil
	}
	return Undefined, fmt.Errorf("invalid value %q", s)
}

// MarshalJSON encodes Undefined as null.
func (v Value) MarshalJSON() ([]byte, error) {
	if !v.Defined() {
		return []byte("null"), nil
	}
	return []byte(v.String()), nil
}

func (v *Value) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		b = []byte(s)
	}
	parsed, err := ParseValue(string(b))
	if err != nil {
		return err
	}
	*v = parsed
	return nil
}

// Phase is the step within a round.
type Phase int

const (
	Phase1 Phase = 1
	Phase2 Phase = 2
)

func (p Phase) Valid() bool { return p == Phase1 || p == Phase2 }

func (p Phase) String() string {
	switch p {
	case Phase1:
		return "1"
	case Phase2:
		return "2"
	}
	return "invalid"
}

// Vote is one proposal sent between nodes.
type Vote struct {
	Round int   `json:"round"`
	Phase Phase `json:"phase"`
	Value Value `json:"value"`
	// From is the sender ordinal. Older senders omit it.
	From *int `json:"from,omitempty"`
}

// Identity is fixed at creation.
type Identity struct {
	ID     int
	N      int
	F      int
	Faulty bool
}

// ExceedsFaultLimit reports 2F >= N: no majority can be trusted.
func (id Identity) ExceedsFaultLimit() bool { return 2*id.F >= id.N }

// Quorum is how many peer votes a phase waits for: the N-F-1 peers that
// can be expected to answer, but never fewer than a strict majority needs.
// Past the fault limit no count matters and the quorum is zero.
func (id Identity) Quorum() int {
	if id.ExceedsFaultLimit() {
		return 0
	}
	q := max(id.N-id.F-1, (id.N-id.F)/2+1)
	return max(min(q, id.N-1), 0)
}

// State is the externally visible node record. Nil fields are reported
// as null, which is how a faulty node presents itself.
type State struct {
	Killed  bool  `json:"killed"`
	X       Value `json:"x"`
	Decided *bool `json:"decided"`
	K       *int  `json:"k"`
}

// Outcome is how a round loop ended.
type Outcome int

const (
	Decided Outcome = iota
	Killed
	RoundExhausted
	Cancelled
)

func (o Outcome) String() string {
	switch o {
	case Decided:
		return "decided"
	case Killed:
		return "killed"
	case RoundExhausted:
		return "round_exhausted"
	case Cancelled:
		return "cancelled"
	}
	return "unknown"
}
