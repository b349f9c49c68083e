package orchestration

import (
	"context"
	"sync"

	"github.com/kajovic/liora-core/core/audio"
	"github.com/kajovic/liora-core/core/interrupt"
	"github.com/kajovic/liora-core/core/vad"
)

// bargeInMonitor watches the capture stream while the agent speaks and
// raises the interrupt flag on sustained user speech. It is armed for
// exactly one speaking window: once it raises (or is stopped) it
// detaches from the stream.
type bargeInMonitor struct {
	frames   *audio.Subscription
	detector *vad.Detector
	flag     *interrupt.Flag

	stopOnce sync.Once
	done     chan struct{}
}

func newBargeInMonitor(frames *audio.Subscription, profile vad.Config, flag *interrupt.Flag) *bargeInMonitor {
	return &bargeInMonitor{
		frames:   frames,
		detector: vad.New(profile),
		flag:     flag,
		done:     make(chan struct{}),
	}
}

// Run consumes frames until speech onset, the stream closes, or ctx is
// cancelled. Call it in its own goroutine; Stop unblocks it.
func (m *bargeInMonitor) Run(ctx context.Context) {
	defer close(m.done)
	defer m.detach()

	for {
		select {
		case <-ctx.Done():
			return
		case frame, ok := <-m.frames.Frames():
			if !ok {
				return
			}
			event := m.detector.Process(frame)
			if event.Type != vad.SpeechStart {
				continue
			}
			if m.flag.Raise(interrupt.ReasonBargeIn) {
				logger.InfoContext(ctx, "barge-in detected",
					"energy", event.Energy, "threshold", event.Threshold)
			}
			return
		}
	}
}

// Stop detaches the monitor from the capture stream and waits for Run
// to return. Safe to call even if Run already finished.
func (m *bargeInMonitor) Stop() {
	m.detach()
	<-m.done
}

func (m *bargeInMonitor) detach() {
	m.stopOnce.Do(func() { m.frames.Close() })
}
