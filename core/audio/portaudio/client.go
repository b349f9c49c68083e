package portaudio

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"time"

	"github.com/gordonklaus/portaudio"
	"github.com/kajovic/liora-core/core/audio"
)

// Client is a blocking-IO PortAudio backend. Unlike the callback-driven
// miniaudio backend it pumps capture frames from a loop the caller owns,
// which makes it the easier backend to reason about on platforms where
// miniaudio misbehaves.
type Client struct {
	bufferSize  int
	stream      *portaudio.Stream
	started     bool
	broadcaster *audio.Broadcaster

	queuedAudio []byte

	in  []int16
	out []int16
}

func NewClient(bufferSize int) (*Client, error) {
	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("%w: failed to initialize portaudio: %w", audio.ErrDeviceUnavailable, err)
	}

	in := make([]int16, bufferSize)
	out := make([]int16, bufferSize)
	stream, err := portaudio.OpenDefaultStream(1, 1, audio.DefaultSampleRate, bufferSize, in, out)
	if err != nil {
		_ = portaudio.Terminate()
		return nil, fmt.Errorf("%w: failed to open portaudio stream: %w", audio.ErrDeviceUnavailable, err)
	}

	return &Client{
		bufferSize:  bufferSize,
		stream:      stream,
		broadcaster: audio.NewBroadcaster(),
		in:          in,
		out:         out,
	}, nil
}

// Frames returns a fresh subscription to the capture stream.
func (c *Client) Frames() *audio.Subscription {
	return c.broadcaster.Subscribe()
}

// Stream pumps capture frames into the broadcaster until ctx is
// cancelled. It must run on a single goroutine.
func (c *Client) Stream(ctx context.Context) error {
	// The duplex stream stays started across capture windows so playback
	// writes keep working between them.
	if !c.started {
		if err := c.stream.Start(); err != nil {
			return fmt.Errorf("%w: failed to start portaudio stream: %w", audio.ErrDeviceUnavailable, err)
		}
		c.started = true
	}

	encoding := c.EncodingInfo()
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
			if err := c.stream.Read(); err != nil {
				return fmt.Errorf("%w: failed to read from portaudio stream: %w", audio.ErrDeviceUnavailable, err)
			}

			audioBuffer := bytes.Buffer{}
			_ = binary.Write(&audioBuffer, binary.LittleEndian, c.in)
			c.broadcaster.Publish(audio.Frame{
				PCM:        audioBuffer.Bytes(),
				Encoding:   encoding,
				CapturedAt: time.Now(),
			})
		}
	}
}

func (c *Client) Close() {
	c.broadcaster.Close()
	_ = c.stream.Close()
	_ = portaudio.Terminate()
}

func (c *Client) SendAudio(pcm []byte) error {
	bufferSize := c.bufferSize * 2

	pcm = append(c.queuedAudio, pcm...)
	for i := range len(pcm)/bufferSize + 1 {
		if (i+1)*bufferSize > len(pcm) {
			c.queuedAudio = make([]byte, len(pcm)-i*bufferSize)
			copy(c.queuedAudio, pcm[i*bufferSize:])
			break
		}

		_ = binary.Read(bytes.NewBuffer(pcm[i*bufferSize:(i+1)*bufferSize]), binary.LittleEndian, c.out)
		if err := c.stream.Write(); err != nil {
			return fmt.Errorf("%w: failed to write to portaudio stream: %w", audio.ErrDeviceUnavailable, err)
		}
	}

	return nil
}

func (c *Client) ClearBuffer() {
	c.queuedAudio = make([]byte, 0)
}

// AwaitMark flushes whatever partial buffer is still queued and returns
// once it has been written. Blocking writes mean everything sent before
// this call has already reached the device.
func (c *Client) AwaitMark() error {
	if len(c.queuedAudio) == 0 {
		return nil
	}

	padded := make([]byte, c.bufferSize*2)
	copy(padded, c.queuedAudio)
	c.queuedAudio = nil

	_ = binary.Read(bytes.NewBuffer(padded), binary.LittleEndian, c.out)
	if err := c.stream.Write(); err != nil {
		return fmt.Errorf("%w: failed to flush portaudio stream: %w", audio.ErrDeviceUnavailable, err)
	}
	return nil
}

func (c *Client) EncodingInfo() audio.EncodingInfo {
	return audio.GetDefaultEncodingInfo()
}
