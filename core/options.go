package orchestration

import (
	"context"
	"time"

	"github.com/kajovic/liora-core/core/audio"
	"github.com/kajovic/liora-core/core/interrupt"
	"github.com/kajovic/liora-core/core/llms"
	"github.com/kajovic/liora-core/core/memory"
	"github.com/kajovic/liora-core/core/personality"
	"github.com/kajovic/liora-core/core/sessions"
	"github.com/kajovic/liora-core/core/speechtotext"
	"github.com/kajovic/liora-core/core/texttospeech"
	"github.com/kajovic/liora-core/core/vad"
)

// LLM is the reasoning service: a streaming path for turns and a batch
// path for auxiliary prompts.
type LLM interface {
	PromptWithStream(ctx context.Context, prompt *string, opts ...llms.PromptOption) llms.Stream
	Prompt(ctx context.Context, prompt string, opts ...llms.PromptOption) ([]llms.Response, error)
}

// AudioDevice owns the capture and playback hardware. Captured frames
// fan out through subscriptions so the listening path and the barge-in
// monitor observe the same stream independently.
type AudioDevice interface {
	Frames() *audio.Subscription
	StartCapture(ctx context.Context) error
	StopCapture() error
	SendAudio(audio []byte) error
	ClearBuffer()
	AwaitMark() error
	EncodingInfo() audio.EncodingInfo
}

// SpeechToText is the transcription transducer.
type SpeechToText interface {
	Transcribe(ctx context.Context, opts ...speechtotext.TranscriptionOption) error
	SendAudio(audio []byte) error
	StopStream() error
}

// TextToSpeech opens one synthesis session per spoken response.
type TextToSpeech interface {
	NewSpeechGenerator(ctx context.Context, opts ...texttospeech.TextToSpeechOption) (texttospeech.SpeechGenerator, error)
}

type OrchestratorOption func(*Orchestrator)

func WithLLM(client LLM) OrchestratorOption {
	return func(o *Orchestrator) { o.llm = client }
}

func WithAudioDevice(device AudioDevice) OrchestratorOption {
	return func(o *Orchestrator) { o.device = device }
}

func WithSpeechToText(client SpeechToText) OrchestratorOption {
	return func(o *Orchestrator) { o.speechToText = client }
}

func WithTextToSpeech(client TextToSpeech) OrchestratorOption {
	return func(o *Orchestrator) { o.textToSpeech = client }
}

func WithPersonality(engine *personality.Engine) OrchestratorOption {
	return func(o *Orchestrator) { o.persona = engine }
}

// WithMemory wires the memory store: its state is injected into the
// system prompt and its tools are exposed to the model.
func WithMemory(store *memory.Store) OrchestratorOption {
	return func(o *Orchestrator) {
		o.memory = store
		o.tools = append(o.tools, memory.Tools(store)...)
	}
}

func WithSessionLog(engine *sessions.Engine) OrchestratorOption {
	return func(o *Orchestrator) { o.sessionLog = engine }
}

func WithTools(tools ...llms.Tool) OrchestratorOption {
	return func(o *Orchestrator) { o.tools = append(o.tools, tools...) }
}

// WithOrchestrationTools exposes the built-in control tools (sleep,
// speaking toggle) to the model.
func WithOrchestrationTools() OrchestratorOption {
	return func(o *Orchestrator) { o.tools = append(o.tools, orchestrationTools(o)...) }
}

func WithListeningProfile(profile vad.Config) OrchestratorOption {
	return func(o *Orchestrator) { o.listeningProfile = profile }
}

func WithBargeInProfile(profile vad.Config) OrchestratorOption {
	return func(o *Orchestrator) { o.bargeInProfile = profile }
}

// WithQueryTimeout bounds a single reasoning query. Exceeding it
// cancels the turn with ErrQueryTimeout.
func WithQueryTimeout(timeout time.Duration) OrchestratorOption {
	return func(o *Orchestrator) { o.queryTimeout = timeout }
}

// WithPostPlaybackCooldown delays the next listening window after
// playback so residual speaker audio does not trip the listening VAD.
func WithPostPlaybackCooldown(cooldown time.Duration) OrchestratorOption {
	return func(o *Orchestrator) { o.cooldown = cooldown }
}

// WithBatchSynthesis disables sentence-by-sentence streaming: the
// whole response is generated first and synthesized as one request.
func WithBatchSynthesis() OrchestratorOption {
	return func(o *Orchestrator) { o.streaming = false }
}

// WithSentenceBoundaries overrides the characters that end a speakable
// unit. Empty keeps the default set.
func WithSentenceBoundaries(boundaries string) OrchestratorOption {
	return func(o *Orchestrator) { o.boundaries = boundaries }
}

func WithMaxHistoryTurns(n int) OrchestratorOption {
	return func(o *Orchestrator) { o.maxHistoryTurns = n }
}

// OrchestrateOptions carry the per-run surface callbacks.
type OrchestrateOptions struct {
	onStateChange          func(StateEvent)
	onInterimTranscription func(string)
	onTranscription        func(string)
	onReasoning            func(string)
	onResponse             func(string)
	onResponseEnd          func()
	onInterrupted          func(interrupt.Reason)
	onError                func(error)
}

type OrchestrateOption func(*OrchestrateOptions)

func OnStateChange(callback func(StateEvent)) OrchestrateOption {
	return func(o *OrchestrateOptions) { o.onStateChange = callback }
}

func OnInterimTranscription(callback func(string)) OrchestrateOption {
	return func(o *OrchestrateOptions) { o.onInterimTranscription = callback }
}

func OnTranscription(callback func(string)) OrchestrateOption {
	return func(o *OrchestrateOptions) { o.onTranscription = callback }
}

// OnReasoning receives thinking deltas. Display-only: they never reach
// the sentence buffer or synthesis.
func OnReasoning(callback func(string)) OrchestrateOption {
	return func(o *OrchestrateOptions) { o.onReasoning = callback }
}

func OnResponse(callback func(string)) OrchestrateOption {
	return func(o *OrchestrateOptions) { o.onResponse = callback }
}

func OnResponseEnd(callback func()) OrchestrateOption {
	return func(o *OrchestrateOptions) { o.onResponseEnd = callback }
}

func OnInterrupted(callback func(interrupt.Reason)) OrchestrateOption {
	return func(o *OrchestrateOptions) { o.onInterrupted = callback }
}

func OnError(callback func(error)) OrchestrateOption {
	return func(o *OrchestrateOptions) { o.onError = callback }
}
