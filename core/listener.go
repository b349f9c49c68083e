package orchestration

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/kajovic/liora-core/core/audio"
	"github.com/kajovic/liora-core/core/speechtotext"
	"github.com/kajovic/liora-core/core/vad"
)

// listener owns one listening window: capture frames, gate them
// through the energy VAD, feed speech to the transcription service,
// and return the finalized utterance.
type listener struct {
	device   AudioDevice
	stt      SpeechToText
	profile  vad.Config
	cooldown time.Duration
}

type listenCallbacks struct {
	onInterim       func(string)
	onSpeechStarted func()
	onSpeechEnded   func()
}

func newListener(device AudioDevice, stt SpeechToText, profile vad.Config, cooldown time.Duration) *listener {
	return &listener{device: device, stt: stt, profile: profile, cooldown: cooldown}
}

// Listen blocks until a complete utterance is transcribed, the capture
// stream dies, or ctx is cancelled. The post-playback cooldown runs
// first so residual speaker audio cannot trip the VAD.
func (l *listener) Listen(ctx context.Context, callbacks listenCallbacks) (string, error) {
	ctx, span := tracer.Start(ctx, "listen for utterance")
	defer span.End()

	if l.cooldown > 0 {
		select {
		case <-time.After(l.cooldown):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}

	transcripts := make(chan string, 1)
	if err := l.stt.Transcribe(ctx,
		speechtotext.WithEncodingInfo(l.device.EncodingInfo()),
		speechtotext.WithInterimTranscriptionCallback(func(transcript string) {
			if callbacks.onInterim != nil {
				callbacks.onInterim(transcript)
			}
		}),
		speechtotext.WithTranscriptionCallback(func(transcript string) {
			select {
			case transcripts <- transcript:
			default:
			}
		}),
	); err != nil {
		return "", fmt.Errorf("failed to open transcription stream: %w", err)
	}
	defer func() {
		if err := l.stt.StopStream(); err != nil {
			logger.WarnContext(ctx, "failed to stop transcription stream", "error", err)
		}
	}()

	if err := l.device.StartCapture(ctx); err != nil {
		return "", fmt.Errorf("failed to start capture: %w", err)
	}
	defer func() {
		if err := l.device.StopCapture(); err != nil {
			logger.WarnContext(ctx, "failed to stop capture", "error", err)
		}
	}()

	frames := l.device.Frames()
	defer frames.Close()

	detector := vad.New(l.profile)

	// Frames before the onset run completes would otherwise be lost, so
	// a short preroll is kept and flushed once speech starts.
	preroll := make([]audio.Frame, 0, l.prerollFrames())

	for {
		select {
		case <-ctx.Done():
			return "", ctx.Err()

		case transcript := <-transcripts:
			if strings.TrimSpace(transcript) == "" {
				continue
			}
			span.AddEvent("utterance transcribed")
			return transcript, nil

		case frame, ok := <-frames.Frames():
			if !ok {
				return "", fmt.Errorf("capture stream closed: %w", ErrNoInput)
			}

			event := detector.Process(frame)
			switch event.Type {
			case vad.SpeechStart:
				if callbacks.onSpeechStarted != nil {
					callbacks.onSpeechStarted()
				}
				for _, buffered := range preroll {
					l.sendFrame(ctx, buffered)
				}
				preroll = preroll[:0]
				l.sendFrame(ctx, frame)

			case vad.SpeechContinue:
				l.sendFrame(ctx, frame)

			case vad.SpeechEnd:
				if callbacks.onSpeechEnded != nil {
					callbacks.onSpeechEnded()
				}
				l.sendFrame(ctx, frame)

			case vad.Silence:
				// Quiet frames are not uploaded; the transcription client
				// generates its own silence to keep endpointing moving.
				preroll = append(preroll, frame)
				if len(preroll) > l.prerollFrames() {
					preroll = preroll[1:]
				}
			}
		}
	}
}

func (l *listener) sendFrame(ctx context.Context, frame audio.Frame) {
	if err := l.stt.SendAudio(frame.PCM); err != nil {
		logger.WarnContext(ctx, "failed to send audio to transcription", "error", err)
	}
}

func (l *listener) prerollFrames() int {
	onset := l.profile.OnsetFrames
	if onset <= 0 {
		onset = vad.ListeningConfig().OnsetFrames
	}
	return onset + 2
}
