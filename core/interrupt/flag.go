// Package interrupt provides the set-once interruption flag shared
// between a turn's pipeline goroutines and whatever raises the
// interruption (barge-in monitor, surface command, shutdown).
package interrupt

import (
	"sync"
	"sync/atomic"
)

// Reason records what raised an interruption.
type Reason string

const (
	ReasonBargeIn  Reason = "barge-in"
	ReasonCommand  Reason = "command"
	ReasonTimeout  Reason = "timeout"
	ReasonShutdown Reason = "shutdown"
)

// Flag is a per-turn, set-once interruption signal with two surfaces:
// Raised for cheap polling inside tight loops, and Done for select
// statements. Once raised it stays raised until Reset, which only the
// turn owner calls between turns.
//
// The zero value is usable and starts enabled.
type Flag struct {
	raised   atomic.Bool
	disabled atomic.Bool

	mu     sync.Mutex
	done   chan struct{}
	reason Reason
}

func NewFlag() *Flag {
	return &Flag{}
}

// Raised reports whether the flag has been raised this turn.
func (f *Flag) Raised() bool {
	if f == nil {
		return false
	}
	return f.raised.Load()
}

// Raise sets the flag with the given reason. Only the first call per
// turn takes effect; later calls and calls while the flag is disabled
// are ignored. Returns whether this call was the one that raised it.
func (f *Flag) Raise(reason Reason) bool {
	if f == nil || f.disabled.Load() {
		return false
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if f.raised.Load() {
		return false
	}

	f.reason = reason
	if f.done == nil {
		f.done = make(chan struct{})
	}
	close(f.done)
	f.raised.Store(true)
	return true
}

// Done returns a channel closed when the flag is raised. The channel
// is valid until the next Reset.
func (f *Flag) Done() <-chan struct{} {
	if f == nil {
		// A nil flag never interrupts.
		return nil
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if f.done == nil {
		f.done = make(chan struct{})
	}
	return f.done
}

// Reason returns what raised the flag, or the empty string if it has
// not been raised.
func (f *Flag) Reason() Reason {
	if f == nil {
		return ""
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if !f.raised.Load() {
		return ""
	}
	return f.reason
}

// Disable makes Raise a no-op until Enable. Used while no turn is
// speaking, so stray monitor triggers between turns cannot poison the
// next turn's flag.
func (f *Flag) Disable() {
	if f == nil {
		return
	}
	f.disabled.Store(true)
}

func (f *Flag) Enable() {
	if f == nil {
		return
	}
	f.disabled.Store(false)
}

// Reset clears the flag for the next turn. Must not be called while
// pipeline goroutines still select on the previous Done channel.
func (f *Flag) Reset() {
	if f == nil {
		return
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	f.raised.Store(false)
	f.reason = ""
	f.done = make(chan struct{})
}
