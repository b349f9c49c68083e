package main

import (
	"context"
	"log"
	"sync"

	"github.com/kajovic/liora-core/core/audio/portaudio"
)

// pumpedDevice adapts the blocking-IO PortAudio backend to the
// start/stop capture surface the orchestrator expects by owning the
// pump goroutine the backend leaves to its caller.
type pumpedDevice struct {
	*portaudio.Client

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

func newPumpedDevice(client *portaudio.Client) *pumpedDevice {
	return &pumpedDevice{Client: client}
}

func (d *pumpedDevice) StartCapture(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.cancel != nil {
		return nil
	}

	// The pump must outlive the turn that started it; only StopCapture
	// ends it.
	pumpCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	done := make(chan struct{})
	d.cancel, d.done = cancel, done

	go func() {
		defer close(done)
		if err := d.Client.Stream(pumpCtx); err != nil {
			log.Printf("capture pump stopped: %v", err)
		}
	}()
	return nil
}

func (d *pumpedDevice) StopCapture() error {
	d.mu.Lock()
	cancel, done := d.cancel, d.done
	d.cancel, d.done = nil, nil
	d.mu.Unlock()

	if cancel == nil {
		return nil
	}
	cancel()
	<-done
	return nil
}
