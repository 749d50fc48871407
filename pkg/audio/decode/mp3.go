// ABOUTME: MP3 audio decoder
// ABOUTME: Streams wire packets through go-mp3 to float32 samples
package decode

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/SuperKenVery/wifi-party-go/pkg/audio"
	mp3 "github.com/hajimehoshi/go-mp3"
)

// MP3Decoder decodes MP3 audio. go-mp3 always emits 16-bit stereo at the
// stream's native rate, so the advertised format must be 2 channels.
type MP3Decoder struct {
	pump *streamPump
}

// NewMP3 creates a new MP3 decoder.
func NewMP3(format audio.Format) (Decoder, error) {
	if format.Codec != audio.CodecMP3 {
		return nil, fmt.Errorf("invalid codec for MP3 decoder: %s", format.Codec)
	}
	if format.Channels != 2 {
		return nil, fmt.Errorf("mp3 decode always yields stereo, format says %d channels", format.Channels)
	}

	pump := newStreamPump(func(pr *io.PipeReader, out chan<- []float32, errc chan<- error) {
		dec, err := mp3.NewDecoder(pr)
		if err != nil {
			errc <- fmt.Errorf("%w: mp3 header: %v", ErrDecodeFailed, err)
			pr.CloseWithError(err)
			return
		}

		// One MPEG-1 layer III frame of stereo int16.
		buf := make([]byte, 1152*2*2)
		for {
			n, err := io.ReadFull(dec, buf)
			if n > 0 {
				pcm := make([]float32, n/2)
				for i := range pcm {
					pcm[i] = audio.SampleFromInt16(int16(binary.LittleEndian.Uint16(buf[i*2:])))
				}
				out <- pcm
			}
			if err != nil {
				if err != io.EOF && err != io.ErrUnexpectedEOF {
					errc <- fmt.Errorf("%w: mp3: %v", ErrDecodeFailed, err)
				}
				return
			}
		}
	})

	return &MP3Decoder{pump: pump}, nil
}

// Decode feeds one MP3 frame and returns whatever PCM is ready. Empty output
// while the decoder primes is normal.
func (d *MP3Decoder) Decode(data []byte) ([]float32, error) {
	return d.pump.feed(data)
}

// Close releases decoder resources.
func (d *MP3Decoder) Close() error {
	return d.pump.close()
}
