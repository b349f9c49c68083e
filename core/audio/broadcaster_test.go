package audio

import (
	"testing"
	"time"
)

func testFrame(fill byte) Frame {
	pcm := make([]byte, 16)
	for i := range pcm {
		pcm[i] = fill
	}
	return Frame{PCM: pcm, Encoding: GetDefaultEncodingInfo(), CapturedAt: time.Now()}
}

func TestBroadcasterDeliversToAllSubscribers(t *testing.T) {
	b := NewBroadcaster()
	defer b.Close()

	first := b.Subscribe()
	second := b.Subscribe()

	b.Publish(testFrame(1))

	select {
	case frame := <-first.Frames():
		if frame.PCM[0] != 1 {
			t.Fatalf("expected frame fill 1 on first subscriber, got %d", frame.PCM[0])
		}
	default:
		t.Fatalf("expected a frame on the first subscriber")
	}

	select {
	case frame := <-second.Frames():
		if frame.PCM[0] != 1 {
			t.Fatalf("expected frame fill 1 on second subscriber, got %d", frame.PCM[0])
		}
	default:
		t.Fatalf("expected a frame on the second subscriber")
	}
}

func TestBroadcasterSlowSubscriberDoesNotBlockPublish(t *testing.T) {
	b := NewBroadcaster()
	defer b.Close()

	slow := b.Subscribe()

	published := make(chan struct{})
	go func() {
		for i := 0; i < defaultSubscriptionBuffer*3; i++ {
			b.Publish(testFrame(byte(i)))
		}
		close(published)
	}()

	select {
	case <-published:
	case <-time.After(time.Second):
		t.Fatalf("publish blocked on a slow subscriber")
	}

	if slow.Dropped() == 0 {
		t.Fatalf("expected the slow subscriber to have dropped frames")
	}

	// The newest frame must have survived eviction.
	var last Frame
drain:
	for {
		select {
		case frame, ok := <-slow.Frames():
			if !ok {
				break drain
			}
			last = frame
		default:
			break drain
		}
	}
	if last.PCM[0] != byte(defaultSubscriptionBuffer*3-1) {
		t.Fatalf("expected the newest frame to survive, got fill %d", last.PCM[0])
	}
}

func TestSubscriptionCloseDetaches(t *testing.T) {
	b := NewBroadcaster()
	defer b.Close()

	sub := b.Subscribe()
	sub.Close()
	sub.Close() // idempotent

	if got := b.SubscriberCount(); got != 0 {
		t.Fatalf("expected no subscribers after close, got %d", got)
	}

	if _, ok := <-sub.Frames(); ok {
		t.Fatalf("expected closed frame channel")
	}
}

func TestBroadcasterCloseClosesSubscribers(t *testing.T) {
	b := NewBroadcaster()
	sub := b.Subscribe()

	b.Close()
	b.Publish(testFrame(9))

	if _, ok := <-sub.Frames(); ok {
		t.Fatalf("expected subscriber channel closed after broadcaster close")
	}

	late := b.Subscribe()
	if _, ok := <-late.Frames(); ok {
		t.Fatalf("expected subscription after close to be born closed")
	}
}

func TestFrameRMS(t *testing.T) {
	silent := Frame{PCM: make([]byte, 32), Encoding: GetDefaultEncodingInfo()}
	if got := silent.RMS(); got != 0 {
		t.Fatalf("expected zero RMS for silence, got %f", got)
	}

	loud := Frame{PCM: make([]byte, 32), Encoding: GetDefaultEncodingInfo()}
	for i := 0; i < len(loud.PCM); i += 2 {
		loud.PCM[i] = 0xFF
		loud.PCM[i+1] = 0x7F // max positive int16
	}
	if got := loud.RMS(); got < 0.99 {
		t.Fatalf("expected near-unit RMS for full-scale samples, got %f", got)
	}
}

func TestFrameDuration(t *testing.T) {
	encoding := GetDefaultEncodingInfo()
	frame := Frame{PCM: make([]byte, encoding.FrameBytes(30)), Encoding: encoding}
	if got := frame.Duration(); got != 30*time.Millisecond {
		t.Fatalf("expected 30ms frame, got %s", got)
	}
}
