package eventloop

import (
	"sync/atomic"
)

// LoopState represents the lifecycle state of a [Loop].
//
// State Machine:
//
//	StateIdle (0) → StateRunning (1)    [Start()]
//	StateRunning (1) → StateIdle (0)    [Finish()]
//	StateIdle (0) → StateClosed (2)     [Close()]
//	StateClosed (2) → (terminal)
//
// Stopping is not a state of its own: it is a flag, set by Stop, that is
// observed by the driver of the loop after the current step.
type LoopState uint64

const (
	// StateIdle indicates the loop is not being driven.
	StateIdle LoopState = iota
	// StateRunning indicates a driver owns the loop (Start was called).
	StateRunning
	// StateClosed indicates the loop has released its resources.
	StateClosed
)

// String returns a human-readable representation of the state.
func (s LoopState) String() string {
	switch s {
	case StateIdle:
		return "Idle"
	case StateRunning:
		return "Running"
	case StateClosed:
		return "Closed"
	default:
		return "Unknown"
	}
}

// FastState is a lock-free state machine with cache-line padding.
type FastState struct { // betteralign:ignore
	_ [64]byte      // Cache line padding (before value) //nolint:unused
	v atomic.Uint64 // State value
	_ [56]byte      // Pad to complete cache line (64 - 8 = 56) //nolint:unused
}

// NewFastState creates a new state machine in the Idle state.
func NewFastState() *FastState {
	s := &FastState{}
	s.v.Store(uint64(StateIdle))
	return s
}

// Load returns the current state atomically.
func (s *FastState) Load() LoopState {
	return LoopState(s.v.Load())
}

// Store atomically stores a new state, without validating the transition.
func (s *FastState) Store(state LoopState) {
	s.v.Store(uint64(state))
}

// TryTransition attempts to atomically transition from one state to another.
// Returns true if the transition was successful.
func (s *FastState) TryTransition(from, to LoopState) bool {
	return s.v.CompareAndSwap(uint64(from), uint64(to))
}
