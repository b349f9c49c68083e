package orchestration

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/kajovic/liora-core/core/speechtotext"
	"github.com/kajovic/liora-core/core/vad"
)

type fakeSTT struct {
	mu      sync.Mutex
	uploads int
	stopped bool
	options speechtotext.TranscriptionOptions

	// transcribeAfter delivers transcript once this many uploads arrive.
	transcribeAfter int
	transcript      string
}

func (s *fakeSTT) Transcribe(_ context.Context, opts ...speechtotext.TranscriptionOption) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, opt := range opts {
		opt(&s.options)
	}
	return nil
}

func (s *fakeSTT) SendAudio(_ []byte) error {
	s.mu.Lock()
	s.uploads++
	fire := s.transcribeAfter > 0 && s.uploads == s.transcribeAfter
	callback := s.options.TranscriptionCallback
	s.mu.Unlock()

	if fire && callback != nil {
		callback(s.transcript)
	}
	return nil
}

func (s *fakeSTT) StopStream() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopped = true
	return nil
}

func (s *fakeSTT) uploadCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.uploads
}

func testListeningProfile() vad.Config {
	profile := vad.ListeningConfig()
	profile.OnsetFrames = 3
	return profile
}

func TestListenReturnsUtteranceAndUploadsOnlySpeech(t *testing.T) {
	device := newFakeDevice()
	stt := &fakeSTT{transcribeAfter: 5, transcript: "hello there"}
	l := newListener(device, stt, testListeningProfile(), 0)

	done := make(chan struct{})
	defer close(done)
	go func() {
		for {
			select {
			case <-done:
				return
			default:
				device.broadcaster.Publish(frameWithAmplitude(16000))
				time.Sleep(time.Millisecond)
			}
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	utterance, err := l.Listen(ctx, listenCallbacks{})
	if err != nil {
		t.Fatalf("listen failed: %v", err)
	}
	if utterance != "hello there" {
		t.Fatalf("unexpected utterance: %q", utterance)
	}
	if stt.uploadCount() < 5 {
		t.Fatalf("expected speech frames uploaded, got %d", stt.uploadCount())
	}

	stt.mu.Lock()
	defer stt.mu.Unlock()
	if !stt.stopped {
		t.Fatalf("expected transcription stream stopped after the window")
	}
}

func TestListenDoesNotUploadSilence(t *testing.T) {
	device := newFakeDevice()
	stt := &fakeSTT{}
	l := newListener(device, stt, testListeningProfile(), 0)

	done := make(chan struct{})
	defer close(done)
	go func() {
		for {
			select {
			case <-done:
				return
			default:
				device.broadcaster.Publish(frameWithAmplitude(20))
				time.Sleep(time.Millisecond)
			}
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	if _, err := l.Listen(ctx, listenCallbacks{}); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline, got %v", err)
	}
	if stt.uploadCount() != 0 {
		t.Fatalf("quiet frames must not be uploaded, got %d", stt.uploadCount())
	}
}

func TestListenFailsWhenCaptureDies(t *testing.T) {
	device := newFakeDevice()
	stt := &fakeSTT{}
	l := newListener(device, stt, testListeningProfile(), 0)

	go func() {
		time.Sleep(10 * time.Millisecond)
		device.broadcaster.Close()
	}()

	_, err := l.Listen(context.Background(), listenCallbacks{})
	if !errors.Is(err, ErrNoInput) {
		t.Fatalf("expected no-input error, got %v", err)
	}
}

func TestListenHonoursCooldown(t *testing.T) {
	device := newFakeDevice()
	stt := &fakeSTT{}
	l := newListener(device, stt, testListeningProfile(), 100*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := l.Listen(ctx, listenCallbacks{})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline during cooldown, got %v", err)
	}
	if stt.uploadCount() != 0 {
		t.Fatalf("no audio must flow during the cooldown")
	}
}
