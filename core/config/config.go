// Package config provides the configuration schema and loader for the
// voice agent runtime.
package config

import (
	"time"

	"github.com/kajovic/liora-core/core/audio"
	"github.com/kajovic/liora-core/core/vad"
)

// LogLevel controls log verbosity.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// AudioBackend selects the device layer.
type AudioBackend string

const (
	BackendMiniaudio AudioBackend = "miniaudio"
	BackendPortAudio AudioBackend = "portaudio"
)

// IsValid reports whether b is a recognised audio backend.
func (b AudioBackend) IsValid() bool {
	return b == BackendMiniaudio || b == BackendPortAudio
}

// Config is the root configuration structure. It is typically loaded
// from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Agent     AgentConfig     `yaml:"agent"`
	Providers ProvidersConfig `yaml:"providers"`
	Audio     AudioConfig     `yaml:"audio"`
	VAD       VADConfig       `yaml:"vad"`
	Turn      TurnConfig      `yaml:"turn"`
	Memory    MemoryConfig    `yaml:"memory"`
	Sessions  SessionsConfig  `yaml:"sessions"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// AgentConfig names the agent and points at its persona file.
type AgentConfig struct {
	// Name is the agent's display name, also used as the wake word
	// while sleeping.
	Name string `yaml:"name"`

	// PersonaPath is the YAML persona definition injected into the
	// system prompt. Empty means the built-in default persona.
	PersonaPath string `yaml:"persona_path"`

	// MaxHistoryTurns caps how much conversation history is replayed
	// into each prompt. Zero means no cap.
	MaxHistoryTurns int `yaml:"max_history_turns"`
}

// ProvidersConfig holds credentials and model selection per external
// service.
type ProvidersConfig struct {
	LLM ProviderEntry `yaml:"llm"`
	STT ProviderEntry `yaml:"stt"`
	TTS ProviderEntry `yaml:"tts"`
}

// ProviderEntry is the common configuration block shared by all
// provider kinds.
type ProviderEntry struct {
	// APIKey is the authentication key. Empty falls back to the
	// provider's conventional environment variable.
	APIKey string `yaml:"api_key"`

	// Model selects a specific model or voice within the provider.
	Model string `yaml:"model"`
}

// AudioConfig tunes the device layer.
type AudioConfig struct {
	// Backend selects the device library. Defaults to miniaudio.
	Backend AudioBackend `yaml:"backend"`

	// SampleRate in Hz. Defaults to 16000.
	SampleRate int `yaml:"sample_rate"`

	// FrameDurationMs is the capture frame length. Defaults to 30.
	FrameDurationMs int `yaml:"frame_duration_ms"`
}

// EncodingInfo resolves the configured capture encoding.
func (c AudioConfig) EncodingInfo() audio.EncodingInfo {
	encoding := audio.GetDefaultEncodingInfo()
	if c.SampleRate != 0 {
		encoding.SampleRate = c.SampleRate
	}
	return encoding
}

// VADConfig tunes both detection profiles. Zero fields keep the
// built-in defaults.
type VADConfig struct {
	// Threshold is the minimum RMS energy considered speech.
	Threshold float64 `yaml:"threshold"`

	// ListeningOnsetFrames debounces utterance starts while listening.
	ListeningOnsetFrames int `yaml:"listening_onset_frames"`

	// HangoverMs is how long a pause can last before the utterance is
	// considered finished.
	HangoverMs int `yaml:"hangover_ms"`

	// BargeInOnsetFrames debounces interruptions while speaking.
	BargeInOnsetFrames int `yaml:"barge_in_onset_frames"`

	// BargeInMultiplier scales the noise floor for the barge-in
	// profile; playback bleed raises the floor, deliberate speech
	// still clears it.
	BargeInMultiplier float64 `yaml:"barge_in_multiplier"`

	// OnsetSkipMs disarms barge-in detection for this long after
	// playback starts.
	OnsetSkipMs int `yaml:"onset_skip_ms"`
}

// ListeningProfile resolves the utterance-segmentation detector
// config.
func (c VADConfig) ListeningProfile(frameDuration time.Duration) vad.Config {
	profile := vad.ListeningConfig()
	if c.Threshold > 0 {
		profile.Threshold = c.Threshold
	}
	if c.ListeningOnsetFrames > 0 {
		profile.OnsetFrames = c.ListeningOnsetFrames
	}
	if c.HangoverMs > 0 && frameDuration > 0 {
		profile.HangoverFrames = int(time.Duration(c.HangoverMs) * time.Millisecond / frameDuration)
	}
	return profile
}

// BargeInProfile resolves the interruption detector config.
func (c VADConfig) BargeInProfile() vad.Config {
	profile := vad.BargeInConfig()
	if c.Threshold > 0 {
		profile.Threshold = c.Threshold
	}
	if c.BargeInOnsetFrames > 0 {
		profile.OnsetFrames = c.BargeInOnsetFrames
	}
	if c.BargeInMultiplier > 0 {
		profile.ThresholdMultiplier = c.BargeInMultiplier
	}
	if c.OnsetSkipMs > 0 {
		profile.SkipInitial = time.Duration(c.OnsetSkipMs) * time.Millisecond
	}
	return profile
}

// TurnConfig tunes turn-taking behaviour.
type TurnConfig struct {
	// QueryTimeoutSeconds bounds how long a turn may stay in the
	// thinking/searching stages before it is abandoned. Defaults to 60.
	QueryTimeoutSeconds int `yaml:"query_timeout_seconds"`

	// PostPlaybackCooldownMs suppresses listening briefly after
	// playback ends so the utterance tail is not picked up as user
	// speech. Defaults to 400.
	PostPlaybackCooldownMs int `yaml:"post_playback_cooldown_ms"`

	// StreamingSynthesis speaks sentences as they are generated. When
	// false the full response is synthesized only once generation
	// completes.
	StreamingSynthesis *bool `yaml:"streaming_synthesis"`

	// BoundaryChars overrides the characters that end a speakable
	// sentence. Empty keeps the default set.
	BoundaryChars string `yaml:"boundary_chars"`
}

// QueryTimeout resolves the configured timeout.
func (c TurnConfig) QueryTimeout() time.Duration {
	if c.QueryTimeoutSeconds <= 0 {
		return 60 * time.Second
	}
	return time.Duration(c.QueryTimeoutSeconds) * time.Second
}

// PostPlaybackCooldown resolves the configured cooldown.
func (c TurnConfig) PostPlaybackCooldown() time.Duration {
	if c.PostPlaybackCooldownMs <= 0 {
		return 400 * time.Millisecond
	}
	return time.Duration(c.PostPlaybackCooldownMs) * time.Millisecond
}

// Streaming resolves the streaming-synthesis flag, defaulting to on.
func (c TurnConfig) Streaming() bool {
	if c.StreamingSynthesis == nil {
		return true
	}
	return *c.StreamingSynthesis
}

// MemoryConfig locates the agent's long-term memory store.
type MemoryConfig struct {
	// Dir is the directory holding the markdown memory files.
	Dir string `yaml:"dir"`
}

// SessionsConfig controls conversation persistence.
type SessionsConfig struct {
	// Dir is the directory holding daily session logs. Empty disables
	// file persistence.
	Dir string `yaml:"dir"`

	// PostgresDSN enables database persistence alongside (or instead
	// of) file logs. Empty disables it.
	PostgresDSN string `yaml:"postgres_dsn"`
}

// LoggingConfig controls diagnostics output.
type LoggingConfig struct {
	Level LogLevel `yaml:"level"`
}
