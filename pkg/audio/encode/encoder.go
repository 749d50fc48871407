// ABOUTME: Audio encoder interface and factory
// ABOUTME: Creates encoders from stream formats
package encode

import (
	"fmt"

	"github.com/SuperKenVery/wifi-party-go/pkg/audio"
)

// Encoder converts interleaved float32 PCM into codec packets.
//
// Encoders are stateful and belong to exactly one stream; they are never
// shared across streams.
type Encoder interface {
	// Encode consumes exactly one codec frame of samples and returns the
	// encoded packet bytes.
	Encode(samples []float32) ([]byte, error)
	// FrameSize returns the number of sample frames per codec frame.
	FrameSize() int
	Close() error
}

// New creates an encoder for the given format.
func New(format audio.Format) (Encoder, error) {
	switch format.Codec {
	case audio.CodecOpus:
		return NewOpus(format)
	case audio.CodecPCM:
		return NewPCM(format)
	default:
		return nil, fmt.Errorf("no encoder for codec %q", format.Codec)
	}
}
