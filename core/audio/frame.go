package audio

import (
	"encoding/binary"
	"math"
	"time"
)

// Frame is a fixed-duration block of captured audio. Frames are
// immutable once produced; consumers must not modify PCM.
type Frame struct {
	// PCM holds the raw sample bytes in the capture encoding.
	PCM []byte
	// Encoding describes how PCM is to be interpreted.
	Encoding EncodingInfo
	// CapturedAt is the time the frame left the device callback.
	CapturedAt time.Time
}

// Duration returns the playback length of the frame.
func (f Frame) Duration() time.Duration {
	byteSize := f.Encoding.Format.ByteSize()
	if f.Encoding.SampleRate == 0 || byteSize <= 0 {
		return 0
	}
	samples := len(f.PCM) / byteSize
	return time.Duration(samples) * time.Second / time.Duration(f.Encoding.SampleRate)
}

// RMS computes the root-mean-square energy of the frame, normalized to
// [0, 1]. Only linear16 PCM carries meaningful energy; other encodings
// report zero so callers treat them as silence rather than noise.
func (f Frame) RMS() float64 {
	if f.Encoding.Format != EncodingLinear16 || len(f.PCM) < 2 {
		return 0
	}

	sampleCount := len(f.PCM) / 2
	var sum float64
	for i := 0; i < sampleCount; i++ {
		sample := int16(binary.LittleEndian.Uint16(f.PCM[i*2:]))
		normalized := float64(sample) / math.MaxInt16
		sum += normalized * normalized
	}
	return math.Sqrt(sum / float64(sampleCount))
}
