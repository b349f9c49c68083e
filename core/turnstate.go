package orchestration

import (
	"sync"
	"time"
)

// TurnState is the orchestrator's coarse conversational state. It is
// push-only: surfaces receive state events through a callback and
// never query or drive the state machine.
type TurnState int

const (
	StateIdle TurnState = iota
	StateListening
	StateThinking
	StateSearching
	StateSpeaking
	StateSleeping
)

func (s TurnState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateListening:
		return "listening"
	case StateThinking:
		return "thinking"
	case StateSearching:
		return "searching"
	case StateSpeaking:
		return "speaking"
	case StateSleeping:
		return "sleeping"
	}
	return "unknown"
}

// StateEvent is one state transition, pushed to the surface callback.
type StateEvent struct {
	State  TurnState
	Detail string
	At     time.Time
}

// stateTracker serializes transitions and notifies the surface.
// Repeated transitions into the current state are dropped.
type stateTracker struct {
	mu      sync.Mutex
	current TurnState
	onState func(StateEvent)
}

func newStateTracker(onState func(StateEvent)) *stateTracker {
	return &stateTracker{current: StateIdle, onState: onState}
}

func (t *stateTracker) set(state TurnState, detail string) {
	t.mu.Lock()
	if t.current == state {
		t.mu.Unlock()
		return
	}
	t.current = state
	callback := t.onState
	t.mu.Unlock()

	logger.Debug("turn state changed", "state", state.String(), "detail", detail)
	if callback != nil {
		callback(StateEvent{State: state, Detail: detail, At: time.Now()})
	}
}

func (t *stateTracker) get() TurnState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.current
}
