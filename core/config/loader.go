package config

import (
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

// Load reads the YAML configuration file at path and returns a
// validated [Config]. It is a convenience wrapper around
// [LoadFromReader].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r and validates the
// result. Useful in tests where configs are constructed from string
// literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		if errors.Is(err, io.EOF) {
			// An empty config file means all defaults.
			if err := Validate(cfg); err != nil {
				return nil, err
			}
			return cfg, nil
		}
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values. It
// returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.Logging.Level != "" && !cfg.Logging.Level.IsValid() {
		errs = append(errs, fmt.Errorf("logging.level %q is invalid; valid values: debug, info, warn, error", cfg.Logging.Level))
	}

	if cfg.Audio.Backend != "" && !cfg.Audio.Backend.IsValid() {
		errs = append(errs, fmt.Errorf("audio.backend %q is invalid; valid values: miniaudio, portaudio", cfg.Audio.Backend))
	}

	switch cfg.Audio.SampleRate {
	case 0, 8000, 16000, 24000, 32000, 48000:
	default:
		errs = append(errs, fmt.Errorf("audio.sample_rate %d is unsupported; valid values: 8000, 16000, 24000, 32000, 48000", cfg.Audio.SampleRate))
	}

	if cfg.Audio.FrameDurationMs < 0 || cfg.Audio.FrameDurationMs > 100 {
		errs = append(errs, fmt.Errorf("audio.frame_duration_ms %d is out of range [0, 100]", cfg.Audio.FrameDurationMs))
	}

	if cfg.VAD.Threshold < 0 || cfg.VAD.Threshold > 1 {
		errs = append(errs, fmt.Errorf("vad.threshold %.3f is out of range [0, 1]", cfg.VAD.Threshold))
	}
	if cfg.VAD.BargeInMultiplier < 0 {
		errs = append(errs, fmt.Errorf("vad.barge_in_multiplier %.2f must not be negative", cfg.VAD.BargeInMultiplier))
	}

	if cfg.Turn.QueryTimeoutSeconds < 0 {
		errs = append(errs, fmt.Errorf("turn.query_timeout_seconds %d must not be negative", cfg.Turn.QueryTimeoutSeconds))
	}
	if cfg.Turn.PostPlaybackCooldownMs < 0 {
		errs = append(errs, fmt.Errorf("turn.post_playback_cooldown_ms %d must not be negative", cfg.Turn.PostPlaybackCooldownMs))
	}

	return errors.Join(errs...)
}
