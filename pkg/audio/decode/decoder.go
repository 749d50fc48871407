// ABOUTME: Audio decoder interface and factory
// ABOUTME: Builds decoders from wire codec descriptors
package decode

import (
	"errors"
	"fmt"

	"github.com/SuperKenVery/wifi-party-go/pkg/audio"
)

// ErrUnsupportedCodec marks a codec tag we recognize on the wire but cannot
// decode. The owning stream is dropped and the failure logged once.
var ErrUnsupportedCodec = errors.New("unsupported codec")

// ErrDecodeFailed marks a corrupted packet. The packet is dropped and
// decoding continues.
var ErrDecodeFailed = errors.New("decode failed")

// Decoder converts codec packets into interleaved float32 PCM.
//
// Decoders are stateful and belong to exactly one stream.
type Decoder interface {
	// Decode converts one packet to PCM samples. Packets must arrive in
	// stream order for stateful codecs.
	Decode(data []byte) ([]float32, error)
	Close() error
}

// Concealer is implemented by decoders that can synthesize a substitute
// frame for a lost packet. Callers fall back to silence otherwise.
type Concealer interface {
	Conceal(frames int) ([]float32, error)
}

// New builds a decoder from the wire codec descriptor carried in synced
// metadata. Tags we recognize but cannot decode return ErrUnsupportedCodec.
func New(format audio.Format) (Decoder, error) {
	switch format.Codec {
	case audio.CodecOpus:
		return NewOpus(format)
	case audio.CodecPCM:
		return NewPCM(format)
	case audio.CodecMP3:
		return NewMP3(format)
	case audio.CodecFLAC:
		return NewFLAC(format)
	case audio.CodecAAC, audio.CodecVorbis:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedCodec, format.Codec)
	default:
		return nil, fmt.Errorf("%w: unknown tag %q", ErrUnsupportedCodec, format.Codec)
	}
}
