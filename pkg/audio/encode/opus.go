// ABOUTME: Opus audio encoder
// ABOUTME: Encodes float32 samples to Opus packets tuned for live voice
package encode

import (
	"fmt"

	"github.com/SuperKenVery/wifi-party-go/pkg/audio"
	"gopkg.in/hraban/opus.v2"
)

// Live-audio tuning: smallest useful frames, cheapest complexity, and no
// redundancy features that add latency. Bitrate leaves headroom inside the
// 1200-byte packet budget.
const (
	// OpusFrameMs is the codec frame duration in milliseconds.
	OpusFrameMs = 5
	opusBitrate = 128_000
	maxPacket   = 1200
)

// OpusEncoder encodes Opus audio.
type OpusEncoder struct {
	encoder   *opus.Encoder
	frameSize int
	channels  int
}

// NewOpus creates a new Opus encoder.
func NewOpus(format audio.Format) (Encoder, error) {
	if format.Codec != audio.CodecOpus {
		return nil, fmt.Errorf("invalid codec for Opus encoder: %s", format.Codec)
	}

	enc, err := opus.NewEncoder(format.SampleRate, format.Channels, opus.AppRestrictedLowdelay)
	if err != nil {
		return nil, fmt.Errorf("failed to create opus encoder: %w", err)
	}
	if err := enc.SetBitrate(opusBitrate); err != nil {
		return nil, fmt.Errorf("failed to set opus bitrate: %w", err)
	}
	if err := enc.SetComplexity(0); err != nil {
		return nil, fmt.Errorf("failed to set opus complexity: %w", err)
	}
	if err := enc.SetInBandFEC(false); err != nil {
		return nil, fmt.Errorf("failed to disable opus FEC: %w", err)
	}
	if err := enc.SetDTX(false); err != nil {
		return nil, fmt.Errorf("failed to disable opus DTX: %w", err)
	}

	return &OpusEncoder{
		encoder:   enc,
		frameSize: format.SampleRate * OpusFrameMs / 1000,
		channels:  format.Channels,
	}, nil
}

// Encode converts one frame of float32 samples to an Opus packet.
func (e *OpusEncoder) Encode(samples []float32) ([]byte, error) {
	if len(samples) != e.frameSize*e.channels {
		return nil, fmt.Errorf("opus encode needs %d samples, got %d", e.frameSize*e.channels, len(samples))
	}

	data := make([]byte, maxPacket)
	n, err := e.encoder.EncodeFloat32(samples, data)
	if err != nil {
		return nil, fmt.Errorf("opus encode error: %w", err)
	}
	return data[:n], nil
}

// FrameSize returns sample frames per Opus frame.
func (e *OpusEncoder) FrameSize() int {
	return e.frameSize
}

// Close releases resources.
func (e *OpusEncoder) Close() error {
	return nil
}
