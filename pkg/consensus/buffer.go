package consensus

import (
	"context"
	"slices"
	"sync"

	"github.com/bits-and-blooms/bitset"
)

// AddResult tells what the buffer did with a vote.
type AddResult int

const (
	Accepted AddResult = iota
	Stale
	Duplicate
	// Unknown marks a vote whose sender ordinal is outside [0, N).
	Unknown
)

func (r AddResult) String() string {
	switch r {
	case Accepted:
		return "accepted"
	case Stale:
		return "stale"
	case Duplicate:
		return "duplicate"
	case Unknown:
		return "unknown_sender"
	}
	return "unknown"
}

// VoteBuffer collects the votes of a single round, one sequence per phase.
// Votes tagged with any other round are dropped.
type VoteBuffer struct {
	mu     sync.Mutex
	n      int
	round  int
	values [2][]Value
	seen   [2]*bitset.BitSet // sender ordinals per phase
	notify chan struct{}     // closed and replaced on every change
}

func NewVoteBuffer(n int) *VoteBuffer {
	return &VoteBuffer{
		n:      n,
		seen:   [2]*bitset.BitSet{bitset.New(uint(n)), bitset.New(uint(n))},
		notify: make(chan struct{}),
	}
}

// Reset clears both phases and retags the buffer for round.
func (b *VoteBuffer) Reset(round int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.round = round
	for i := range b.values {
		b.values[i] = b.values[i][:0]
		b.seen[i].ClearAll()
	}
	b.signal()
}

// Round returns the round the buffer is collecting for.
func (b *VoteBuffer) Round() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.round
}

// ValidSender reports whether from is absent or an ordinal in [0, n).
func ValidSender(from *int, n int) bool {
	return from == nil || (*from >= 0 && *from < n)
}

// Add files v if it belongs to the current round. The phase must be valid.
func (b *VoteBuffer) Add(v Vote) AddResult {
	if !ValidSender(v.From, b.n) {
		return Unknown
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if v.Round != b.round {
		return Stale
	}
	i := int(v.Phase) - 1
	if v.From != nil {
		from := uint(*v.From)
		if b.seen[i].Test(from) {
			return Duplicate
		}
		b.seen[i].Set(from)
	}
	b.values[i] = append(b.values[i], v.Value)
	b.signal()
	return Accepted
}

// Values returns a copy of the votes collected for phase.
func (b *VoteBuffer) Values(p Phase) []Value {
	b.mu.Lock()
	defer b.mu.Unlock()
	return slices.Clone(b.values[int(p)-1])
}

// Len returns how many votes phase holds.
func (b *VoteBuffer) Len(p Phase) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.values[int(p)-1])
}

// Wait blocks until phase of round holds at least n votes. It returns false
// when ctx ends first or the buffer moved on to another round.
func (b *VoteBuffer) Wait(ctx context.Context, round int, p Phase, n int) bool {
	for {
		b.mu.Lock()
		if b.round != round {
			b.mu.Unlock()
			return false
		}
		if len(b.values[int(p)-1]) >= n {
			b.mu.Unlock()
			return true
		}
		ch := b.notify
		b.mu.Unlock()

		select {
		case <-ch:
		case <-ctx.Done():
			return false
		}
	}
}

// signal wakes waiters. Callers hold b.mu.
func (b *VoteBuffer) signal() {
	close(b.notify)
	b.notify = make(chan struct{})
}
