// Package sentpeerset tracks the per-send lifecycle of candidate next hops:
// which peers a send has already tried, which attempt is in flight, and
// which failed, so hop reselection never revisits a dead peer.
package sentpeerset

import (
	"math/big"
	"sort"

	"github.com/overlaynet/go-routing/nodeid"
)

// AttemptState describes a peer's role in a single outstanding send.
type AttemptState int

const (
	// AttemptPending marks a peer selected but not yet handed to the
	// transport.
	AttemptPending AttemptState = iota
	// AttemptSent marks the hop currently in flight.
	AttemptSent
	// AttemptFailed marks a hop the transport reported as unreachable.
	AttemptFailed
	// AttemptAcked marks the hop that accepted the message.
	AttemptAcked
)

// SentPeerset is the state of one outstanding send. It is not safe for
// concurrent use; each send owns its own set.
type SentPeerset struct {
	target nodeid.ID
	states map[nodeid.ID]*attemptState
}

type attemptState struct {
	distance *big.Int
	state    AttemptState
}

// New creates an empty set for a send addressed to target.
func New(target nodeid.ID) *SentPeerset {
	return &SentPeerset{
		target: target,
		states: make(map[nodeid.ID]*attemptState),
	}
}

// TryAdd records p as a pending attempt. It returns false when p was
// already tracked, leaving the existing state untouched.
func (s *SentPeerset) TryAdd(p nodeid.ID) bool {
	if _, found := s.states[p]; found {
		return false
	}
	s.states[p] = &attemptState{
		distance: nodeid.Distance(p, s.target),
		state:    AttemptPending,
	}
	return true
}

// SetState transitions p. Unknown peers are ignored.
func (s *SentPeerset) SetState(p nodeid.ID, state AttemptState) {
	if st, found := s.states[p]; found {
		st.state = state
	}
}

// getState returns p's state and whether p is tracked.
func (s *SentPeerset) getState(p nodeid.ID) (AttemptState, bool) {
	st, found := s.states[p]
	if !found {
		return AttemptPending, false
	}
	return st.state, true
}

// Tried returns every tracked peer id, the exclusion set for the next hop
// selection.
func (s *SentPeerset) Tried() []nodeid.ID {
	out := make([]nodeid.ID, 0, len(s.states))
	for p := range s.states {
		out = append(out, p)
	}
	return out
}

// NumFailed counts hops the transport reported as unreachable.
func (s *SentPeerset) NumFailed() int {
	n := 0
	for _, st := range s.states {
		if st.state == AttemptFailed {
			n++
		}
	}
	return n
}

// NumAttempts counts every peer the send has committed to so far.
func (s *SentPeerset) NumAttempts() int {
	return len(s.states)
}

// ClosestInStates returns tracked peers in any of the given states, in
// ascending distance to the target.
func (s *SentPeerset) ClosestInStates(states ...AttemptState) []nodeid.ID {
	want := make(map[AttemptState]struct{}, len(states))
	for _, st := range states {
		want[st] = struct{}{}
	}

	out := []nodeid.ID{}
	for p, st := range s.states {
		if _, ok := want[st.state]; ok {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return s.states[out[i]].distance.Cmp(s.states[out[j]].distance) == -1
	})
	return out
}
