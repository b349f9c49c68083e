package speechtotext

import (
	"errors"

	"github.com/kajovic/liora-core/core/audio"
)

// ErrServiceUnreachable signals that the transcription backend could
// not be reached or dropped the connection.
var ErrServiceUnreachable = errors.New("speech-to-text service unreachable")

type TranscriptionOptions struct {
	// InterimTranscriptionCallback receives live, unfinalized guesses.
	// They may be revised by later results.
	InterimTranscriptionCallback func(transcript string)
	// PartialTranscriptionCallback receives finalized fragments as the
	// service commits them.
	PartialTranscriptionCallback func(transcript string)
	// TranscriptionCallback receives the full utterance once the
	// service decides the speaker is done.
	TranscriptionCallback func(transcript string)

	SpeechStartedCallback func()
	SpeechEndedCallback   func()

	EncodingInfo audio.EncodingInfo
}

type TranscriptionOption func(*TranscriptionOptions)

func WithTranscriptionCallback(callback func(transcript string)) TranscriptionOption {
	return func(o *TranscriptionOptions) {
		o.TranscriptionCallback = callback
	}
}

func WithPartialTranscriptionCallback(callback func(transcript string)) TranscriptionOption {
	return func(o *TranscriptionOptions) {
		o.PartialTranscriptionCallback = callback
	}
}

func WithInterimTranscriptionCallback(callback func(transcript string)) TranscriptionOption {
	return func(o *TranscriptionOptions) {
		o.InterimTranscriptionCallback = callback
	}
}

func WithSpeechStartedCallback(callback func()) TranscriptionOption {
	return func(o *TranscriptionOptions) {
		o.SpeechStartedCallback = callback
	}
}

func WithSpeechEndedCallback(callback func()) TranscriptionOption {
	return func(o *TranscriptionOptions) {
		o.SpeechEndedCallback = callback
	}
}

func WithEncodingInfo(encodingInfo audio.EncodingInfo) TranscriptionOption {
	return func(o *TranscriptionOptions) {
		o.EncodingInfo = encodingInfo
	}
}
