package sidecar

import (
	"sync"
	"sync/atomic"
)

// Child is a handle to a spawned sidecar process. Handles are never compared;
// the slot tracks which spawn it holds with its own token.
type Child interface {
	Kill() error
	PID() int
}

// State is the process-wide sidecar state. Construct one at application
// entry and share the pointer with everything that starts or stops the
// sidecar.
//
// started flips false->true once and is never reset. The child slot is
// guarded by mu; Take empties it and hands the handle to the caller. gen
// counts stores into the slot.
type State struct {
	started atomic.Bool

	mu    sync.Mutex
	child Child
	gen   uint64
}

func NewState() *State { return &State{} }

// Started reports whether a start has ever been attempted, or the start gate
// was closed by a shutdown.
func (s *State) Started() bool { return s.started.Load() }

// markStarted performs the test-and-set. It returns true only for the single
// caller that observed the false->true transition.
func (s *State) markStarted() bool { return !s.started.Swap(true) }

// Occupied reports whether the slot currently holds a handle.
func (s *State) Occupied() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.child != nil
}

// Peek returns the current handle without taking it.
func (s *State) Peek() Child {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.child
}

// Take empties the slot and returns what it held (nil when empty).
func (s *State) Take() Child {
	s.mu.Lock()
	c := s.child
	s.child = nil
	s.mu.Unlock()
	return c
}

// storeLocked puts c in the slot and returns its token. mu must be held.
func (s *State) storeLocked(c Child) uint64 {
	s.gen++
	s.child = c
	return s.gen
}

// clearIf empties the slot only if it still holds the child stored under
// token.
func (s *State) clearIf(token uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.child != nil && s.gen == token {
		s.child = nil
		return true
	}
	return false
}
