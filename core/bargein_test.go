package orchestration

import (
	"context"
	"encoding/binary"
	"testing"
	"time"

	"github.com/kajovic/liora-core/core/audio"
	"github.com/kajovic/liora-core/core/interrupt"
	"github.com/kajovic/liora-core/core/vad"
)

func frameWithAmplitude(amplitude int16) audio.Frame {
	encoding := audio.GetDefaultEncodingInfo()
	samples := encoding.FrameBytes(audio.DefaultFrameDuration) / 2
	pcm := make([]byte, samples*2)
	for i := 0; i < samples; i++ {
		binary.LittleEndian.PutUint16(pcm[i*2:], uint16(amplitude))
	}
	return audio.Frame{PCM: pcm, Encoding: encoding, CapturedAt: time.Now()}
}

func testBargeInProfile() vad.Config {
	profile := vad.BargeInConfig()
	profile.SkipInitial = 0
	return profile
}

func TestBargeInRaisesFlagOnSustainedSpeech(t *testing.T) {
	broadcaster := audio.NewBroadcaster()
	defer broadcaster.Close()

	flag := interrupt.NewFlag()
	monitor := newBargeInMonitor(broadcaster.Subscribe(), testBargeInProfile(), flag)
	go monitor.Run(context.Background())

	for i := 0; i < 5; i++ {
		broadcaster.Publish(frameWithAmplitude(16000))
	}

	select {
	case <-flag.Done():
	case <-time.After(time.Second):
		t.Fatalf("expected barge-in to raise the flag")
	}
	if flag.Reason() != interrupt.ReasonBargeIn {
		t.Fatalf("expected barge-in reason, got %q", flag.Reason())
	}

	monitor.Stop()
}

func TestBargeInIgnoresQuietFrames(t *testing.T) {
	broadcaster := audio.NewBroadcaster()
	defer broadcaster.Close()

	flag := interrupt.NewFlag()
	monitor := newBargeInMonitor(broadcaster.Subscribe(), testBargeInProfile(), flag)
	go monitor.Run(context.Background())

	for i := 0; i < 30; i++ {
		broadcaster.Publish(frameWithAmplitude(50))
	}
	time.Sleep(50 * time.Millisecond)

	if flag.Raised() {
		t.Fatalf("quiet frames must not raise the flag")
	}
	monitor.Stop()
}

func TestBargeInRequiresOnsetRun(t *testing.T) {
	broadcaster := audio.NewBroadcaster()
	defer broadcaster.Close()

	flag := interrupt.NewFlag()
	monitor := newBargeInMonitor(broadcaster.Subscribe(), testBargeInProfile(), flag)
	go monitor.Run(context.Background())

	// Isolated loud frames separated by silence never complete the
	// onset run.
	for i := 0; i < 6; i++ {
		broadcaster.Publish(frameWithAmplitude(16000))
		broadcaster.Publish(frameWithAmplitude(0))
	}
	time.Sleep(50 * time.Millisecond)

	if flag.Raised() {
		t.Fatalf("interrupted onset must not raise the flag")
	}
	monitor.Stop()
}

func TestBargeInStopDetaches(t *testing.T) {
	broadcaster := audio.NewBroadcaster()
	defer broadcaster.Close()

	flag := interrupt.NewFlag()
	monitor := newBargeInMonitor(broadcaster.Subscribe(), testBargeInProfile(), flag)
	go monitor.Run(context.Background())

	monitor.Stop()

	for i := 0; i < 5; i++ {
		broadcaster.Publish(frameWithAmplitude(16000))
	}
	time.Sleep(50 * time.Millisecond)

	if flag.Raised() {
		t.Fatalf("stopped monitor must not raise the flag")
	}
}

func TestBargeInDisabledFlagStaysDown(t *testing.T) {
	broadcaster := audio.NewBroadcaster()
	defer broadcaster.Close()

	flag := interrupt.NewFlag()
	flag.Disable()
	monitor := newBargeInMonitor(broadcaster.Subscribe(), testBargeInProfile(), flag)
	go monitor.Run(context.Background())

	for i := 0; i < 5; i++ {
		broadcaster.Publish(frameWithAmplitude(16000))
	}
	time.Sleep(50 * time.Millisecond)

	if flag.Raised() {
		t.Fatalf("disabled flag must not be raised by the monitor")
	}
	monitor.Stop()
}