package consensus

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/ryandielhenn/benor/internal/telemetry"
)

// Broadcaster delivers a vote to every other node, best effort.
// It returns the number of peers that acknowledged.
type Broadcaster interface {
	Broadcast(ctx context.Context, v Vote) int
}

// WaitPolicy decides how long a phase collects votes after its broadcast.
// The zero value means DefaultWait.
type WaitPolicy struct {
	// Quorum waits until Identity.Quorum votes arrived or Timeout passed.
	Quorum  bool
	Timeout time.Duration

	// Settle is a fixed pause used when Quorum is false.
	Settle time.Duration

	// Skip reduces whatever arrived during the broadcast without waiting.
	Skip bool
}

// DefaultWait waits for a quorum of peer votes, bounded by 250ms.
func DefaultWait() WaitPolicy {
	return WaitPolicy{Quorum: true, Timeout: 250 * time.Millisecond}
}

// NoWait skips the post-broadcast wait. Only useful when the transport
// delivers synchronously.
func NoWait() WaitPolicy {
	return WaitPolicy{Skip: true}
}

// LegacyWait pauses a fixed 50ms after every broadcast.
func LegacyWait() WaitPolicy {
	return WaitPolicy{Settle: 50 * time.Millisecond}
}

type Config struct {
	Identity
	Initial   Value
	Transport Broadcaster
	Wait      WaitPolicy
	// Coin returns a uniformly random bit. Defaults to math/rand/v2.
	Coin   func() Value
	Logger *zap.Logger
}

// Node is a single Ben-Or participant. State and vote buffers are only
// mutated through its methods.
type Node struct {
	id    Identity
	tr    Broadcaster
	wait  WaitPolicy
	coin  func() Value
	log   *zap.Logger
	label string

	mu      sync.Mutex
	killed  bool
	x       Value
	decided bool
	k       int

	buf     *VoteBuffer
	running atomic.Bool
}

func NewNode(cfg Config) *Node {
	coin := cfg.Coin
	if coin == nil {
		coin = randomBit
	}
	wait := cfg.Wait
	if wait == (WaitPolicy{}) {
		wait = DefaultWait()
	}
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}
	n := &Node{
		id:    cfg.Identity,
		tr:    cfg.Transport,
		wait:  wait,
		coin:  coin,
		log:   log.With(zap.Int("node", cfg.ID)),
		label: telemetry.NodeLabel(cfg.ID),
		x:     cfg.Initial,
		buf:   NewVoteBuffer(cfg.N),
	}
	if cfg.Faulty {
		n.x = Undefined
	}
	return n
}

func randomBit() Value {
	if rand.Intn(2) == 0 {
		return Zero
	}
	return One
}

func (n *Node) Identity() Identity { return n.id }

// Running reports whether a round loop is in flight.
func (n *Node) Running() bool { return n.running.Load() }

// Live returns ErrFaulty if the node is permanently faulty or killed.
func (n *Node) Live() error {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.liveLocked()
}

func (n *Node) liveLocked() error {
	if n.id.Faulty {
		return fmt.Errorf("node %d is permanently faulty: %w", n.id.ID, ErrFaulty)
	}
	if n.killed {
		return fmt.Errorf("node %d was killed: %w", n.id.ID, ErrFaulty)
	}
	return nil
}

// Kill stops the node for good. A running loop exits at its next round boundary.
func (n *Node) Kill() {
	n.mu.Lock()
	defer n.mu.Unlock()
	if !n.killed {
		n.log.Info("node stopped", zap.Int("round", n.k))
	}
	n.killed = true
}

// Snapshot returns the current state. A faulty node reports only killed.
func (n *Node) Snapshot() State {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.id.Faulty {
		return State{Killed: n.killed, X: Undefined}
	}
	decided, k := n.decided, n.k
	return State{Killed: n.killed, X: n.x, Decided: &decided, K: &k}
}

// Receive files an inbound vote against the current round.
func (n *Node) Receive(v Vote) error {
	if err := n.Live(); err != nil {
		telemetry.VotesTotal.WithLabelValues(n.label, v.Phase.String(), "rejected").Inc()
		return err
	}
	if !v.Phase.Valid() {
		return fmt.Errorf("phase %d: %w", v.Phase, ErrBadVote)
	}
	if !ValidSender(v.From, n.id.N) {
		telemetry.VotesTotal.WithLabelValues(n.label, v.Phase.String(), Unknown.String()).Inc()
		return fmt.Errorf("sender %d not in [0, %d): %w", *v.From, n.id.N, ErrBadVote)
	}
	res := n.buf.Add(v)
	telemetry.VotesTotal.WithLabelValues(n.label, v.Phase.String(), res.String()).Inc()
	if res != Accepted {
		n.log.Debug("vote dropped",
			zap.Stringer("reason", res),
			zap.Int("round", v.Round),
			zap.Stringer("phase", v.Phase),
		)
	}
	return nil
}

// Run drives rounds until the node decides, is killed, passes MaxRounds or
// ctx ends. An in-flight phase always completes before the loop re-checks.
func (n *Node) Run(ctx context.Context) (Outcome, error) {
	if err := n.Live(); err != nil {
		return 0, err
	}
	if !n.running.CompareAndSwap(false, true) {
		return 0, ErrRunning
	}
	defer n.running.Store(false)

	n.log.Info("consensus started", zap.Stringer("x", n.Snapshot().X))
	for {
		x, k, done, outcome := n.next()
		if done {
			n.log.Info("consensus finished", zap.Stringer("outcome", outcome), zap.Int("round", k))
			return outcome, nil
		}
		if ctx.Err() != nil {
			return Cancelled, ctx.Err()
		}

		maj := Majority1(n.phase(ctx, Phase1, k, x), n.id.N, n.id.F)
		d := Decide(n.phase(ctx, Phase2, k, maj), n.id.N, n.id.F, maj, n.coin)
		n.advance(k, d)
	}
}

// next checks the loop condition and returns the value to propose in round k.
func (n *Node) next() (x Value, k int, done bool, outcome Outcome) {
	n.mu.Lock()
	defer n.mu.Unlock()
	switch {
	case n.killed:
		return n.x, n.k, true, Killed
	case n.decided:
		return n.x, n.k, true, Decided
	case n.k > MaxRounds:
		return n.x, n.k, true, RoundExhausted
	}
	return n.x, n.k, false, 0
}

// phase broadcasts v for (p, k) and returns the votes collected for it.
func (n *Node) phase(ctx context.Context, p Phase, k int, v Value) []Value {
	from := n.id.ID
	acks := n.tr.Broadcast(ctx, Vote{Round: k, Phase: p, Value: v, From: &from})
	n.collect(ctx, k, p)
	votes := n.buf.Values(p)
	n.log.Debug("phase complete",
		zap.Int("round", k),
		zap.Stringer("phase", p),
		zap.Stringer("sent", v),
		zap.Int("acks", acks),
		zap.Int("votes", len(votes)),
	)
	return votes
}

func (n *Node) collect(ctx context.Context, k int, p Phase) {
	if n.wait.Skip {
		return
	}
	if n.wait.Quorum {
		wctx, cancel := context.WithTimeout(ctx, n.wait.Timeout)
		defer cancel()
		if !n.buf.Wait(wctx, k, p, n.id.Quorum()) {
			n.log.Debug("quorum wait timed out", zap.Int("round", k), zap.Stringer("phase", p))
		}
		return
	}
	if n.wait.Settle <= 0 {
		return
	}
	t := time.NewTimer(n.wait.Settle)
	defer t.Stop()
	select {
	case <-t.C:
	case <-ctx.Done():
	}
}

// advance applies the phase-2 decision of round k and moves to round k+1.
// The buffer is retagged under the same lock so every vote lands in exactly
// one round.
func (n *Node) advance(k int, d Decision) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.killed || n.k != k {
		return
	}
	n.x = d.Value
	n.decided = d.Decided
	n.k++
	n.buf.Reset(n.k)

	telemetry.RoundsTotal.WithLabelValues(n.label).Inc()
	telemetry.CurrentRound.WithLabelValues(n.label).Set(float64(n.k))
	if d.Random {
		telemetry.DecisionsTotal.WithLabelValues(n.label, "random").Inc()
		n.log.Debug("fault limit exceeded, flipped coin", zap.Int("round", k), zap.Stringer("x", d.Value))
		return
	}
	telemetry.DecisionsTotal.WithLabelValues(n.label, d.Value.String()).Inc()
	n.log.Info("decided", zap.Int("round", k), zap.Stringer("x", d.Value))
}
