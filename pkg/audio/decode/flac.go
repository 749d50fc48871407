// ABOUTME: FLAC audio decoder
// ABOUTME: Streams wire packets through mewkiz/flac to float32 samples
package decode

import (
	"fmt"
	"io"

	"github.com/SuperKenVery/wifi-party-go/pkg/audio"
	"github.com/mewkiz/flac"
)

// FLACDecoder decodes a chunked FLAC stream. The sender ships the raw
// container bytes, so the first packets must include the fLaC marker and
// stream info block.
type FLACDecoder struct {
	pump *streamPump
}

// NewFLAC creates a new FLAC decoder.
func NewFLAC(format audio.Format) (Decoder, error) {
	if format.Codec != audio.CodecFLAC {
		return nil, fmt.Errorf("invalid codec for FLAC decoder: %s", format.Codec)
	}

	pump := newStreamPump(func(pr *io.PipeReader, out chan<- []float32, errc chan<- error) {
		stream, err := flac.New(pr)
		if err != nil {
			errc <- fmt.Errorf("%w: flac header: %v", ErrDecodeFailed, err)
			pr.CloseWithError(err)
			return
		}

		scale := float32(int64(1) << (stream.Info.BitsPerSample - 1))
		channels := int(stream.Info.NChannels)

		for {
			frame, err := stream.ParseNext()
			if err != nil {
				if err != io.EOF {
					errc <- fmt.Errorf("%w: flac: %v", ErrDecodeFailed, err)
				}
				return
			}

			frames := int(frame.Subframes[0].NSamples)
			pcm := make([]float32, frames*channels)
			for ch := 0; ch < channels; ch++ {
				sub := frame.Subframes[ch]
				for i := 0; i < frames; i++ {
					pcm[i*channels+ch] = float32(sub.Samples[i]) / scale
				}
			}
			out <- pcm
		}
	})

	return &FLACDecoder{pump: pump}, nil
}

// Decode feeds one chunk of container bytes and returns whatever PCM is
// ready.
func (d *FLACDecoder) Decode(data []byte) ([]float32, error) {
	return d.pump.feed(data)
}

// Close releases decoder resources.
func (d *FLACDecoder) Close() error {
	return d.pump.close()
}
