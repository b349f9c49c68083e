package interrupt

import (
	"testing"
	"time"
)

func TestRaiseIsSetOnce(t *testing.T) {
	f := NewFlag()

	if !f.Raise(ReasonBargeIn) {
		t.Fatalf("expected first raise to take effect")
	}
	if f.Raise(ReasonCommand) {
		t.Fatalf("expected second raise to be ignored")
	}
	if got := f.Reason(); got != ReasonBargeIn {
		t.Fatalf("expected first reason to win, got %q", got)
	}
	if !f.Raised() {
		t.Fatalf("expected flag raised")
	}
}

func TestDoneClosesOnRaise(t *testing.T) {
	f := NewFlag()

	done := f.Done()
	select {
	case <-done:
		t.Fatalf("expected done channel open before raise")
	default:
	}

	f.Raise(ReasonCommand)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("expected done channel closed after raise")
	}
}

func TestDisableGatesRaise(t *testing.T) {
	f := NewFlag()
	f.Disable()

	if f.Raise(ReasonBargeIn) {
		t.Fatalf("expected raise on disabled flag to be ignored")
	}
	if f.Raised() {
		t.Fatalf("expected flag to stay down while disabled")
	}

	f.Enable()
	if !f.Raise(ReasonBargeIn) {
		t.Fatalf("expected raise to work after enable")
	}
}

func TestResetClearsForNextTurn(t *testing.T) {
	f := NewFlag()
	f.Raise(ReasonTimeout)
	f.Reset()

	if f.Raised() {
		t.Fatalf("expected flag down after reset")
	}
	if got := f.Reason(); got != "" {
		t.Fatalf("expected empty reason after reset, got %q", got)
	}

	select {
	case <-f.Done():
		t.Fatalf("expected fresh done channel after reset")
	default:
	}

	if !f.Raise(ReasonBargeIn) {
		t.Fatalf("expected raise to work on the next turn")
	}
}

func TestNilFlagIsInert(t *testing.T) {
	var f *Flag

	if f.Raise(ReasonBargeIn) {
		t.Fatalf("expected nil flag raise to report false")
	}
	if f.Raised() {
		t.Fatalf("expected nil flag to never be raised")
	}
	if f.Reason() != "" {
		t.Fatalf("expected nil flag to have no reason")
	}
	f.Disable()
	f.Enable()
	f.Reset()

	select {
	case <-f.Done():
		t.Fatalf("expected nil flag done channel to block forever")
	case <-time.After(10 * time.Millisecond):
	}
}
