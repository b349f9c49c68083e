package vad

import (
	"encoding/binary"
	"testing"
	"time"

	"github.com/kajovic/liora-core/core/audio"
)

func frameWithAmplitude(amplitude float64) audio.Frame {
	encoding := audio.GetDefaultEncodingInfo()
	pcm := make([]byte, encoding.FrameBytes(audio.DefaultFrameDuration))
	sample := int16(amplitude * 32767)
	for i := 0; i < len(pcm); i += 2 {
		binary.LittleEndian.PutUint16(pcm[i:], uint16(sample))
	}
	return audio.Frame{PCM: pcm, Encoding: encoding, CapturedAt: time.Now()}
}

func loudFrame() audio.Frame   { return frameWithAmplitude(0.5) }
func quietFrame() audio.Frame  { return frameWithAmplitude(0.001) }
func silentFrame() audio.Frame { return frameWithAmplitude(0) }

func TestSpeechStartRequiresOnsetRun(t *testing.T) {
	d := New(Config{OnsetFrames: 5, HangoverFrames: 3})

	for i := 0; i < 4; i++ {
		if event := d.Process(loudFrame()); event.Type != Silence {
			t.Fatalf("frame %d: expected silence before onset completes, got %s", i, event.Type)
		}
	}

	if event := d.Process(loudFrame()); event.Type != SpeechStart {
		t.Fatalf("expected speech start on onset frame, got %s", event.Type)
	}
	if !d.Speaking() {
		t.Fatalf("expected detector to be speaking after speech start")
	}
}

func TestOnsetRunResetsOnQuietFrame(t *testing.T) {
	d := New(Config{OnsetFrames: 3, HangoverFrames: 3})

	d.Process(loudFrame())
	d.Process(loudFrame())
	d.Process(silentFrame())
	d.Process(loudFrame())
	if event := d.Process(loudFrame()); event.Type == SpeechStart {
		t.Fatalf("expected interrupted onset run not to trigger speech start")
	}
	if event := d.Process(loudFrame()); event.Type != SpeechStart {
		t.Fatalf("expected speech start after a fresh onset run, got %s", event.Type)
	}
}

func TestSpeechEndAfterHangover(t *testing.T) {
	d := New(Config{OnsetFrames: 2, HangoverFrames: 4})

	d.Process(loudFrame())
	if event := d.Process(loudFrame()); event.Type != SpeechStart {
		t.Fatalf("expected speech start, got %s", event.Type)
	}

	// A brief pause inside the hangover window stays part of the
	// utterance.
	for i := 0; i < 3; i++ {
		if event := d.Process(silentFrame()); event.Type != SpeechContinue {
			t.Fatalf("pause frame %d: expected speech continue, got %s", i, event.Type)
		}
	}
	if event := d.Process(loudFrame()); event.Type != SpeechContinue {
		t.Fatalf("expected resumed speech to continue, got %s", event.Type)
	}

	for i := 0; i < 3; i++ {
		d.Process(silentFrame())
	}
	if event := d.Process(silentFrame()); event.Type != SpeechEnd {
		t.Fatalf("expected speech end after hangover, got %s", event.Type)
	}
	if d.Speaking() {
		t.Fatalf("expected detector to be quiet after speech end")
	}
}

func TestSkipInitialSuppressesDetection(t *testing.T) {
	d := New(Config{OnsetFrames: 1, HangoverFrames: 3, SkipInitial: 90 * time.Millisecond})

	// 3 frames of 30ms fall inside the skip window.
	for i := 0; i < 3; i++ {
		if event := d.Process(loudFrame()); event.Type != Silence {
			t.Fatalf("frame %d: expected silence inside skip window, got %s", i, event.Type)
		}
	}
	if event := d.Process(loudFrame()); event.Type != SpeechStart {
		t.Fatalf("expected speech start after skip window, got %s", event.Type)
	}
}

func TestResetRestartsSkipWindowAndDebounce(t *testing.T) {
	d := New(Config{OnsetFrames: 1, HangoverFrames: 2, SkipInitial: 30 * time.Millisecond})

	d.Process(quietFrame())
	d.Process(loudFrame())
	if !d.Speaking() {
		t.Fatalf("expected speech before reset")
	}

	d.Reset()
	if d.Speaking() {
		t.Fatalf("expected reset to clear speaking state")
	}
	if event := d.Process(loudFrame()); event.Type != Silence {
		t.Fatalf("expected skip window to restart after reset, got %s", event.Type)
	}
}

func TestNoiseFloorRaisesThreshold(t *testing.T) {
	d := New(Config{
		Threshold:           0.02,
		ThresholdMultiplier: 5,
		OnsetFrames:         1,
		HangoverFrames:      3,
		NoiseFloorAlpha:     0.5,
	})

	// Teach the floor with sustained moderate noise.
	noisy := frameWithAmplitude(0.04)
	for i := 0; i < 20; i++ {
		d.Process(frameWithAmplitude(0.01))
	}
	event := d.Process(noisy)
	if event.Threshold <= 0.02 {
		t.Fatalf("expected adapted threshold above the static one, got %f", event.Threshold)
	}
}

func TestBargeInProfileIsStricterThanListening(t *testing.T) {
	listening := ListeningConfig()
	bargeIn := BargeInConfig()

	if bargeIn.OnsetFrames >= listening.OnsetFrames {
		t.Fatalf("expected barge-in onset (%d) shorter than listening (%d)",
			bargeIn.OnsetFrames, listening.OnsetFrames)
	}
	if bargeIn.ThresholdMultiplier <= listening.ThresholdMultiplier {
		t.Fatalf("expected barge-in multiplier (%f) stricter than listening (%f)",
			bargeIn.ThresholdMultiplier, listening.ThresholdMultiplier)
	}
	if bargeIn.SkipInitial == 0 {
		t.Fatalf("expected barge-in profile to skip playback onset")
	}
}
