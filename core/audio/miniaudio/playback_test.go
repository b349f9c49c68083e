package miniaudio

import (
	"sync"
	"testing"
	"time"
)

func TestClearBufferReleasesDrainWait(t *testing.T) {
	c := &playbackClient{}
	c.queuedAudio = make([]byte, 1024)

	done := make(chan error, 1)
	go func() { done <- c.AwaitMark() }()

	deadline := time.Now().Add(time.Second)
	for {
		c.marksMu.Lock()
		registered := len(c.marks) > 0
		c.marksMu.Unlock()
		if registered {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("drain mark never registered")
		}
		time.Sleep(time.Millisecond)
	}

	c.ClearBuffer()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("drain wait failed: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatalf("drain wait did not release after the buffer was cleared")
	}
}

func TestMarksFireOncePositionPlayed(t *testing.T) {
	c := &playbackClient{}
	c.queuedAudio = make([]byte, 100)

	var mu sync.Mutex
	var fired []string
	if err := c.Mark("sentence", func(name string) {
		mu.Lock()
		fired = append(fired, name)
		mu.Unlock()
	}); err != nil {
		t.Fatalf("mark failed: %v", err)
	}

	c.processMarks(40)
	mu.Lock()
	early := len(fired)
	mu.Unlock()
	if early != 0 {
		t.Fatalf("mark fired before its audio played")
	}

	c.processMarks(60)
	deadline := time.Now().Add(time.Second)
	for {
		mu.Lock()
		n := len(fired)
		mu.Unlock()
		if n == 1 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("mark did not fire after its audio played")
		}
		time.Sleep(time.Millisecond)
	}
	mu.Lock()
	defer mu.Unlock()
	if fired[0] != "sentence" {
		t.Fatalf("unexpected mark name: %q", fired[0])
	}
}
