// ABOUTME: Opus audio decoder
// ABOUTME: Decodes Opus packets to float32 samples with packet-loss concealment
package decode

import (
	"fmt"

	"github.com/SuperKenVery/wifi-party-go/pkg/audio"
	"gopkg.in/hraban/opus.v2"
)

// Opus never produces more than 120 ms per packet.
const maxOpusFrames = 5760

// OpusDecoder decodes Opus audio.
type OpusDecoder struct {
	decoder  *opus.Decoder
	channels int
}

// NewOpus creates a new Opus decoder.
func NewOpus(format audio.Format) (Decoder, error) {
	if format.Codec != audio.CodecOpus {
		return nil, fmt.Errorf("invalid codec for Opus decoder: %s", format.Codec)
	}

	dec, err := opus.NewDecoder(format.SampleRate, format.Channels)
	if err != nil {
		return nil, fmt.Errorf("failed to create opus decoder: %w", err)
	}

	return &OpusDecoder{decoder: dec, channels: format.Channels}, nil
}

// Decode converts one Opus packet to float32 samples.
func (d *OpusDecoder) Decode(data []byte) ([]float32, error) {
	pcm := make([]float32, maxOpusFrames*d.channels)
	n, err := d.decoder.DecodeFloat32(data, pcm)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecodeFailed, err)
	}
	return pcm[:n*d.channels], nil
}

// Conceal synthesizes a substitute frame for a lost packet using the
// decoder's built-in PLC.
func (d *OpusDecoder) Conceal(frames int) ([]float32, error) {
	pcm := make([]float32, frames*d.channels)
	if err := d.decoder.DecodePLCFloat32(pcm); err != nil {
		return nil, fmt.Errorf("opus PLC failed: %w", err)
	}
	return pcm, nil
}

// Close releases decoder resources.
func (d *OpusDecoder) Close() error {
	return nil
}
