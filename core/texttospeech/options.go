package texttospeech

import (
	"errors"

	"github.com/kajovic/liora-core/core/audio"
)

// ErrServiceUnreachable signals that the synthesis backend could not
// be reached or dropped the connection. Callers match it with
// errors.Is and fall back to text-only delivery for the turn.
var ErrServiceUnreachable = errors.New("text-to-speech service unreachable")

type TextToSpeechOptions struct {
	// SpeechAudioCallback is called when the TTS client produces audio.
	SpeechAudioCallback func(audio []byte)
	// SpeechMarkCallback is called when the TTS client has produced
	// speech up to a mark. Each mark is called once, in order.
	SpeechMarkCallback func(string)
	// SpeechEndedCallback is called when the TTS client has finished
	// producing speech for the whole request.
	SpeechEndedCallback func(SpeechEndedReport)
	// ErrorCallback is called when the TTS client encounters an error,
	// this usually means the connection dropped mid-generation.
	ErrorCallback func(error)

	EncodingInfo audio.EncodingInfo
}

type TextToSpeechOption func(*TextToSpeechOptions)

func WithSpeechAudioCallback(callback func([]byte)) TextToSpeechOption {
	return func(o *TextToSpeechOptions) { o.SpeechAudioCallback = callback }
}

func WithSpeechMarkCallback(callback func(string)) TextToSpeechOption {
	return func(o *TextToSpeechOptions) { o.SpeechMarkCallback = callback }
}

func WithSpeechEndedCallback(callback func(SpeechEndedReport)) TextToSpeechOption {
	return func(o *TextToSpeechOptions) { o.SpeechEndedCallback = callback }
}

func WithErrorCallback(callback func(error)) TextToSpeechOption {
	return func(o *TextToSpeechOptions) { o.ErrorCallback = callback }
}

func WithEncodingInfo(encodingInfo audio.EncodingInfo) TextToSpeechOption {
	return func(o *TextToSpeechOptions) {
		if encodingInfo.IsZero() {
			return
		}
		o.EncodingInfo = encodingInfo
	}
}

// SpeechGenerator is one synthesis session: text in, audio out, both
// streaming.
type SpeechGenerator interface {
	// SendText sends text to the generator. Speech is guaranteed to be
	// generated in the order text is sent.
	//
	// SendText will error if EndOfText, Cancel or Close has been called.
	SendText(string) error
	// Mark marks the current point in the text. The mark callback fires
	// after the text sent up to the mark has been generated. There is
	// no guarantee it fires exactly at the marked point.
	//
	// Mark will error if EndOfText, Cancel or Close has been called.
	Mark(string) error
	// EndOfText signals that no more text will be sent. The generator
	// closes itself after all remaining speech has been generated.
	//
	// EndOfText will error if Cancel or Close has been called.
	// Repeated calls are ignored.
	EndOfText() error
	// Cancel immediately stops further speech generation and closes
	// the generator. Audio already produced may still be in flight.
	//
	// Repeated calls are ignored.
	Cancel() error
	// Close immediately closes the generator. No more speech will be
	// generated after this call.
	//
	// Repeated calls are ignored.
	Close() error
}

// SpeechEndedReport summarizes a completed generation.
type SpeechEndedReport struct {
	// Cancelled is true if the generation was cut short.
	Cancelled bool
}
