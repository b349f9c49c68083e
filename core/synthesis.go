package orchestration

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/kajovic/liora-core/core/interrupt"
	"github.com/kajovic/liora-core/core/texttospeech"
	"go.opentelemetry.io/otel/codes"
)

type synthesisState int

const (
	synthesisIdle synthesisState = iota
	synthesisOpen
	synthesisStreaming
	synthesisClosed
)

// audioSink is the playback side of an audio device.
type audioSink interface {
	SendAudio(audio []byte) error
	ClearBuffer()
	AwaitMark() error
}

// synthesisSession drives one spoken response: sentences in, device
// audio out. The session opens its generator lazily on the first
// sentence so a turn that produces no text (or is interrupted while
// thinking) never opens a synthesis request.
type synthesisSession struct {
	tts  TextToSpeech
	sink audioSink
	flag *interrupt.Flag

	mu        sync.Mutex
	state     synthesisState
	generator texttospeech.SpeechGenerator
	spoken    strings.Builder
	failed    bool

	cancelOnce sync.Once
	endedOnce  sync.Once
	ended      chan struct{}
	report     texttospeech.SpeechEndedReport
}

func newSynthesisSession(tts TextToSpeech, sink audioSink, flag *interrupt.Flag) *synthesisSession {
	return &synthesisSession{
		tts:   tts,
		sink:  sink,
		flag:  flag,
		ended: make(chan struct{}),
	}
}

// Submit hands one sentence to the generator, opening the session if
// this is the first. Cancellation is checked before every submission;
// a raised flag makes Submit a no-op so at most one sentence is in
// flight past the interrupt.
func (s *synthesisSession) Submit(ctx context.Context, sentence string) error {
	if s == nil || s.tts == nil || sentence == "" {
		return nil
	}
	if s.flag.Raised() {
		return nil
	}

	s.mu.Lock()
	if s.failed || s.state == synthesisClosed {
		s.mu.Unlock()
		return nil
	}

	if s.state == synthesisIdle {
		if err := s.openLocked(ctx); err != nil {
			s.failed = true
			s.mu.Unlock()
			s.signalEnded(texttospeech.SpeechEndedReport{})
			return fmt.Errorf("failed to open synthesis session: %w", err)
		}
	}
	s.state = synthesisStreaming
	generator := s.generator
	// The generator's mark callback locks s.mu, so the generator must
	// not be called with it held.
	s.mu.Unlock()

	if err := generator.SendText(sentence); err != nil {
		return fmt.Errorf("failed to send sentence to synthesis: %w", err)
	}
	if err := generator.Mark(sentence); err != nil {
		return fmt.Errorf("failed to mark sentence: %w", err)
	}
	return nil
}

func (s *synthesisSession) openLocked(ctx context.Context) error {
	generator, err := s.tts.NewSpeechGenerator(ctx,
		texttospeech.WithSpeechAudioCallback(func(audio []byte) {
			if s.flag.Raised() {
				return
			}
			if err := s.sink.SendAudio(audio); err != nil {
				logger.WarnContext(ctx, "failed to send synthesized audio to device", "error", err)
			}
		}),
		texttospeech.WithSpeechMarkCallback(func(sentence string) {
			s.mu.Lock()
			s.spoken.WriteString(sentence)
			s.mu.Unlock()
		}),
		texttospeech.WithSpeechEndedCallback(func(report texttospeech.SpeechEndedReport) {
			s.signalEnded(report)
		}),
		texttospeech.WithErrorCallback(func(err error) {
			logger.WarnContext(ctx, "synthesis session error", "error", err)
			s.signalEnded(texttospeech.SpeechEndedReport{Cancelled: true})
		}),
	)
	if err != nil {
		return err
	}
	s.generator = generator
	return nil
}

// Finish signals end of text and waits for the response to be fully
// synthesized and played, or for an interrupt.
func (s *synthesisSession) Finish(ctx context.Context) error {
	ctx, span := tracer.Start(ctx, "finish synthesis")
	defer span.End()

	s.mu.Lock()
	opened := s.state == synthesisOpen || s.state == synthesisStreaming
	generator := s.generator
	s.mu.Unlock()

	if !opened {
		s.signalEnded(texttospeech.SpeechEndedReport{})
		return nil
	}

	if err := generator.EndOfText(); err != nil {
		err = fmt.Errorf("failed to close synthesis text stream: %w", err)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		s.Cancel()
		return err
	}

	select {
	case <-s.ended:
	case <-s.flag.Done():
		s.Cancel()
		return nil
	case <-ctx.Done():
		s.Cancel()
		return ctx.Err()
	}

	// The generator is done; wait for the device to drain what it has.
	// A barge-in during this tail must still land: cancelling clears the
	// device buffer, which releases the drain wait.
	drained := make(chan error, 1)
	go func() { drained <- s.sink.AwaitMark() }()

	select {
	case err := <-drained:
		if err != nil {
			return fmt.Errorf("failed to await playback completion: %w", err)
		}
		return nil
	case <-s.flag.Done():
		s.Cancel()
		return nil
	case <-ctx.Done():
		s.Cancel()
		return ctx.Err()
	}
}

// Cancel stops generation and discards device-buffered audio. Safe to
// call multiple times and on a session that never opened; the
// generator sees exactly one cancellation.
func (s *synthesisSession) Cancel() {
	if s == nil {
		return
	}

	s.cancelOnce.Do(func() {
		s.mu.Lock()
		generator := s.generator
		s.state = synthesisClosed
		s.mu.Unlock()

		if generator != nil {
			if err := generator.Cancel(); err != nil {
				logger.Warn("failed to cancel synthesis generator", "error", err)
			}
		}
		if s.sink != nil {
			s.sink.ClearBuffer()
		}
		s.signalEnded(texttospeech.SpeechEndedReport{Cancelled: true})
	})
}

// Spoken returns the concatenation of sentences confirmed spoken.
func (s *synthesisSession) Spoken() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.spoken.String()
}

// Opened reports whether a synthesis request was ever opened.
func (s *synthesisSession) Opened() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state != synthesisIdle && !s.failed
}

// Ended returns a channel closed once the session reports completion,
// cancellation, or failure.
func (s *synthesisSession) Ended() <-chan struct{} { return s.ended }

// Cancelled reports whether the session ended short of completion.
func (s *synthesisSession) Cancelled() bool {
	select {
	case <-s.ended:
	default:
		return false
	}
	return s.report.Cancelled
}

// signalEnded publishes the report and closes the ended channel. The
// close orders the report write before any read that observed the
// closed channel, so no lock is needed.
func (s *synthesisSession) signalEnded(report texttospeech.SpeechEndedReport) {
	s.endedOnce.Do(func() {
		s.report = report
		close(s.ended)
	})
}
