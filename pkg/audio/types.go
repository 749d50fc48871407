// ABOUTME: Audio type definitions
// ABOUTME: Defines PCM buffers, sequenced frames and stream formats
package audio

import (
	"fmt"
	"math"
)

// Codec names carried in stream formats and on the wire.
const (
	CodecOpus   = "opus"
	CodecMP3    = "mp3"
	CodecAAC    = "aac"
	CodecFLAC   = "flac"
	CodecVorbis = "vorbis"
	CodecPCM    = "pcm"
)

// Format describes an audio stream format.
//
// For synced music streams this is also the wire codec descriptor: it carries
// everything a receiver needs to construct a decoder without the source file,
// including opaque codec-private bytes (e.g. decoder magic headers).
type Format struct {
	Codec       string
	SampleRate  int
	Channels    int
	CodecHeader []byte
}

// Buffer is interleaved PCM, owned and moved by value through the pipeline.
//
// Samples are float32 in [-1, 1]. Invariant: len(Samples) % Channels == 0.
type Buffer struct {
	Samples    []float32
	SampleRate int
	Channels   int
}

// NewBuffer validates the shape invariant and wraps samples into a Buffer.
func NewBuffer(samples []float32, sampleRate, channels int) (Buffer, error) {
	if channels < 1 || channels > 2 {
		return Buffer{}, fmt.Errorf("unsupported channel count %d", channels)
	}
	if len(samples)%channels != 0 {
		return Buffer{}, fmt.Errorf("sample count %d not divisible by %d channels", len(samples), channels)
	}
	return Buffer{Samples: samples, SampleRate: sampleRate, Channels: channels}, nil
}

// Silence returns a zeroed buffer of the given shape.
func Silence(frames, sampleRate, channels int) Buffer {
	return Buffer{
		Samples:    make([]float32, frames*channels),
		SampleRate: sampleRate,
		Channels:   channels,
	}
}

// Frames returns the number of sample frames (samples per channel).
func (b Buffer) Frames() int {
	if b.Channels == 0 {
		return 0
	}
	return len(b.Samples) / b.Channels
}

// Clone returns a deep copy. The pipeline moves buffers by value and a tee
// with more than one successor is the only place that needs this.
func (b Buffer) Clone() Buffer {
	samples := make([]float32, len(b.Samples))
	copy(samples, b.Samples)
	return Buffer{Samples: samples, SampleRate: b.SampleRate, Channels: b.Channels}
}

// Frame is a Buffer plus the monotonic sequence number assigned by the
// producer of the stream. Sequence arithmetic must stay wrap-safe even though
// wrapping takes centuries at audio rates.
type Frame struct {
	Seq uint64
	Buffer
}

// Soft-clip knee. Linear below the knee, monotone compression above it,
// asymptote at full scale. The curve 1 - a/(x+b) is continuous in value and
// slope at the knee.
const (
	softClipKnee = 0.75
	softClipA    = (1 - softClipKnee) * (1 - softClipKnee)
	softClipB    = 1 - 2*softClipKnee
)

// SoftClip compresses a sample that may exceed full scale instead of hard
// clipping it. Output magnitude never reaches 1.0 for overdriven input.
func SoftClip(x float32) float32 {
	if x < 0 {
		return -SoftClip(-x)
	}
	if x <= softClipKnee {
		return x
	}
	return 1.0 - softClipA/(x+softClipB)
}

// SampleToInt16 converts a float32 sample to 16-bit PCM with clamping.
func SampleToInt16(s float32) int16 {
	v := s * 32767.0
	if v > 32767.0 {
		v = 32767.0
	} else if v < -32768.0 {
		v = -32768.0
	}
	return int16(v)
}

// SampleFromInt16 converts a 16-bit PCM sample to float32.
func SampleFromInt16(s int16) float32 {
	return float32(s) / 32768.0
}

// RMSLevel computes a 0-100 loudness level from interleaved samples.
func RMSLevel(samples []float32) float32 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range samples {
		sum += float64(s) * float64(s)
	}
	rms := math.Sqrt(sum / float64(len(samples)))
	level := float32(rms * 200)
	if level > 100 {
		level = 100
	}
	return level
}
