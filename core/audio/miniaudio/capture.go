package miniaudio

import (
	"fmt"
	"sync"
	"time"

	"github.com/gen2brain/malgo"
	"github.com/kajovic/liora-core/core/audio"
)

type captureClient struct {
	audioContext *malgo.AllocatedContext
	device       *malgo.Device
	config       malgo.DeviceConfig

	broadcaster *audio.Broadcaster
	encoding    audio.EncodingInfo

	mu sync.Mutex
}

func (c *captureClient) Init(audioContext *malgo.AllocatedContext, broadcaster *audio.Broadcaster) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.encoding = audio.GetDefaultEncodingInfo()
	c.broadcaster = broadcaster

	channels := 1
	format := malgo.FormatS16
	bytesPerFrame := malgo.SampleSizeInBytes(format) * channels

	c.config = malgo.DefaultDeviceConfig(malgo.Capture)
	c.config.SampleRate = uint32(c.encoding.SampleRate)
	c.config.Capture.Format = format
	c.config.Capture.Channels = uint32(channels)
	c.config.Alsa.NoMMap = 1
	c.config.PerformanceProfile = malgo.LowLatency
	c.config.PeriodSizeInFrames = uint32(c.encoding.SampleRate * audio.DefaultFrameDuration / 1000)
	c.config.Periods = 3

	c.audioContext = audioContext

	var err error
	c.device, err = malgo.InitDevice(c.audioContext.Context, c.config, malgo.DeviceCallbacks{
		Data: func(_, pInput []byte, frameCount uint32) {
			n := int(frameCount) * bytesPerFrame
			if len(pInput) < n || n == 0 {
				return
			}
			// The device reuses pInput between callbacks; hand
			// subscribers their own copy.
			pcm := make([]byte, n)
			copy(pcm, pInput[:n])
			c.broadcaster.Publish(audio.Frame{
				PCM:        pcm,
				Encoding:   c.encoding,
				CapturedAt: time.Now(),
			})
		},
	})
	if err != nil {
		return fmt.Errorf("%w: failed to initialize capture device: %w", audio.ErrDeviceUnavailable, err)
	}

	return nil
}

func (c *captureClient) Start() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.device == nil {
		return fmt.Errorf("%w: device not initialized", audio.ErrDeviceUnavailable)
	} else if c.device.IsStarted() {
		return nil
	}

	if err := c.device.Start(); err != nil {
		return fmt.Errorf("%w: failed to start capture device: %w", audio.ErrDeviceUnavailable, err)
	}

	return nil
}

func (c *captureClient) Stop() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.device == nil {
		return fmt.Errorf("%w: device not initialized", audio.ErrDeviceUnavailable)
	} else if !c.device.IsStarted() {
		return nil
	}

	if err := c.device.Stop(); err != nil {
		return fmt.Errorf("failed to stop capture device: %w", err)
	}

	return nil
}

func (c *captureClient) Uninit() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.device != nil {
		c.device.Uninit()
		c.device = nil
	}

	return nil
}
