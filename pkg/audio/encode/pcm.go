// ABOUTME: PCM pass-through encoder
// ABOUTME: Packs float32 samples as little-endian 16-bit PCM bytes
package encode

import (
	"encoding/binary"
	"fmt"

	"github.com/SuperKenVery/wifi-party-go/pkg/audio"
)

// pcmFrameMs keeps PCM packets inside the wire budget: 5 ms of 48 kHz stereo
// int16 is 960 bytes.
const pcmFrameMs = 5

// PCMEncoder packs raw samples without compression.
type PCMEncoder struct {
	frameSize int
	channels  int
}

// NewPCM creates a new PCM encoder.
func NewPCM(format audio.Format) (Encoder, error) {
	if format.Codec != audio.CodecPCM {
		return nil, fmt.Errorf("invalid codec for PCM encoder: %s", format.Codec)
	}
	return &PCMEncoder{
		frameSize: format.SampleRate * pcmFrameMs / 1000,
		channels:  format.Channels,
	}, nil
}

// Encode packs one frame of samples as 16-bit little-endian PCM.
func (e *PCMEncoder) Encode(samples []float32) ([]byte, error) {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(audio.SampleToInt16(s)))
	}
	return out, nil
}

// FrameSize returns sample frames per packet.
func (e *PCMEncoder) FrameSize() int {
	return e.frameSize
}

// Close releases resources.
func (e *PCMEncoder) Close() error {
	return nil
}
