// ABOUTME: PCM pass-through decoder
// ABOUTME: Unpacks little-endian 16-bit PCM bytes to float32 samples
package decode

import (
	"encoding/binary"
	"fmt"

	"github.com/SuperKenVery/wifi-party-go/pkg/audio"
)

// PCMDecoder unpacks raw 16-bit PCM.
type PCMDecoder struct {
	channels int
}

// NewPCM creates a new PCM decoder.
func NewPCM(format audio.Format) (Decoder, error) {
	if format.Codec != audio.CodecPCM {
		return nil, fmt.Errorf("invalid codec for PCM decoder: %s", format.Codec)
	}
	return &PCMDecoder{channels: format.Channels}, nil
}

// Decode converts 16-bit little-endian PCM bytes to float32 samples.
func (d *PCMDecoder) Decode(data []byte) ([]float32, error) {
	if len(data)%2 != 0 {
		return nil, fmt.Errorf("%w: odd PCM payload length %d", ErrDecodeFailed, len(data))
	}
	samples := make([]float32, len(data)/2)
	for i := range samples {
		samples[i] = audio.SampleFromInt16(int16(binary.LittleEndian.Uint16(data[i*2:])))
	}
	return samples, nil
}

// Close releases decoder resources.
func (d *PCMDecoder) Close() error {
	return nil
}
