package orchestration

import "errors"

var (
	// ErrQueryTimeout signals that the reasoning service did not finish
	// within the configured per-query deadline. The turn is cancelled
	// the same way an interrupt cancels it, but callers can
	// distinguish the two with errors.Is.
	ErrQueryTimeout = errors.New("query timed out")

	// ErrClosed is returned by operations on an orchestrator that has
	// been shut down.
	ErrClosed = errors.New("orchestrator closed")

	// ErrNoInput signals that a listening window produced no usable
	// utterance.
	ErrNoInput = errors.New("no input captured")
)
