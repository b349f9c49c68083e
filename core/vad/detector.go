// Package vad implements frame-level energy voice activity detection.
//
// The detector is deliberately simple: per-frame RMS energy compared
// against an adaptive threshold, debounced with onset and hangover
// frame counts. It runs twice in a conversation: once over the
// listening path to segment utterances, and once while the agent
// speaks, tuned stricter, to detect barge-in.
package vad

import (
	"time"

	"github.com/kajovic/liora-core/core/audio"
)

// EventType enumerates detection states emitted per processed frame.
type EventType int

const (
	// Silence indicates no speech detected.
	Silence EventType = iota

	// SpeechStart indicates speech has just begun. Emitted exactly once
	// per utterance, on the frame that completes the onset run.
	SpeechStart

	// SpeechContinue indicates ongoing speech.
	SpeechContinue

	// SpeechEnd indicates speech has just ended, after the hangover
	// period of quiet frames elapsed.
	SpeechEnd
)

func (t EventType) String() string {
	switch t {
	case SpeechStart:
		return "speech_start"
	case SpeechContinue:
		return "speech_continue"
	case SpeechEnd:
		return "speech_end"
	case Silence:
		return "silence"
	}
	return "unknown"
}

// Event is the detection result for a single audio frame.
type Event struct {
	Type EventType

	// Energy is the frame's RMS energy, normalized to [0, 1].
	Energy float64

	// Threshold is the effective threshold the frame was compared
	// against, after noise-floor adaptation.
	Threshold float64

	At time.Time
}

// Config tunes a detector. Zero values fall back to the listening
// profile defaults.
type Config struct {
	// Threshold is the minimum RMS energy considered speech.
	Threshold float64

	// ThresholdMultiplier scales the adaptive noise floor; the
	// effective threshold is the larger of Threshold and
	// floor*ThresholdMultiplier.
	ThresholdMultiplier float64

	// OnsetFrames is how many consecutive energetic frames are needed
	// before SpeechStart fires.
	OnsetFrames int

	// HangoverFrames is how many consecutive quiet frames are needed
	// before SpeechEnd fires.
	HangoverFrames int

	// NoiseFloorAlpha is the EMA coefficient for the noise floor,
	// applied only on quiet frames.
	NoiseFloorAlpha float64

	// SkipInitial discards detection for this long after Reset. Used by
	// the barge-in profile to let playback onset transients and echo
	// settle before arming.
	SkipInitial time.Duration
}

// ListeningConfig is the utterance-segmentation profile: permissive
// onset, generous hangover so mid-sentence pauses don't split turns.
func ListeningConfig() Config {
	return Config{
		Threshold:           0.02,
		ThresholdMultiplier: 2.5,
		OnsetFrames:         5,
		HangoverFrames:      23, // ~700ms at 30ms frames
		NoiseFloorAlpha:     0.05,
	}
}

// BargeInConfig is the interruption profile: a stricter threshold and a
// short onset run, so deliberate speech over playback trips it fast but
// playback bleed and coughs do not.
func BargeInConfig() Config {
	return Config{
		Threshold:           0.02,
		ThresholdMultiplier: 5,
		OnsetFrames:         3,
		HangoverFrames:      10,
		NoiseFloorAlpha:     0.02,
		SkipInitial:         300 * time.Millisecond,
	}
}

// Detector tracks debounce state across frames. Not safe for
// concurrent use; each consumer of the capture stream owns its own
// detector.
type Detector struct {
	config Config

	speaking    bool
	onsetRun    int
	hangoverRun int
	noiseFloor  float64
	elapsed     time.Duration
}

func New(config Config) *Detector {
	defaults := ListeningConfig()
	if config.Threshold <= 0 {
		config.Threshold = defaults.Threshold
	}
	if config.ThresholdMultiplier <= 0 {
		config.ThresholdMultiplier = defaults.ThresholdMultiplier
	}
	if config.OnsetFrames <= 0 {
		config.OnsetFrames = defaults.OnsetFrames
	}
	if config.HangoverFrames <= 0 {
		config.HangoverFrames = defaults.HangoverFrames
	}
	if config.NoiseFloorAlpha <= 0 {
		config.NoiseFloorAlpha = defaults.NoiseFloorAlpha
	}

	return &Detector{config: config}
}

// Process classifies one frame and advances the debounce state.
func (d *Detector) Process(frame audio.Frame) Event {
	energy := frame.RMS()
	threshold := d.effectiveThreshold()
	event := Event{Type: Silence, Energy: energy, Threshold: threshold, At: frame.CapturedAt}

	if d.elapsed < d.config.SkipInitial {
		d.elapsed += frame.Duration()
		return event
	}
	d.elapsed += frame.Duration()

	energetic := energy >= threshold

	if !energetic {
		// Quiet frames teach the noise floor; energetic ones must not,
		// or sustained speech would raise the bar against itself.
		alpha := d.config.NoiseFloorAlpha
		d.noiseFloor = (1-alpha)*d.noiseFloor + alpha*energy
	}

	if d.speaking {
		if energetic {
			d.hangoverRun = 0
			event.Type = SpeechContinue
			return event
		}

		d.hangoverRun++
		if d.hangoverRun >= d.config.HangoverFrames {
			d.speaking = false
			d.hangoverRun = 0
			event.Type = SpeechEnd
			return event
		}
		// Inside the hangover window quiet frames still count as part
		// of the utterance.
		event.Type = SpeechContinue
		return event
	}

	if energetic {
		d.onsetRun++
		if d.onsetRun >= d.config.OnsetFrames {
			d.speaking = true
			d.onsetRun = 0
			event.Type = SpeechStart
		}
		return event
	}

	d.onsetRun = 0
	return event
}

// Speaking reports whether the detector is currently inside an
// utterance.
func (d *Detector) Speaking() bool { return d.speaking }

// Reset clears debounce state and restarts the SkipInitial window. The
// learned noise floor survives the reset.
func (d *Detector) Reset() {
	d.speaking = false
	d.onsetRun = 0
	d.hangoverRun = 0
	d.elapsed = 0
}

func (d *Detector) effectiveThreshold() float64 {
	adaptive := d.noiseFloor * d.config.ThresholdMultiplier
	if adaptive > d.config.Threshold {
		return adaptive
	}
	return d.config.Threshold
}
