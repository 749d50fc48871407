// ABOUTME: Oto-based audio playback
// ABOUTME: Feeds mixed PCM from the pull callback into the oto device
package output

import (
	"encoding/binary"
	"fmt"
	"io"
	"log"

	"github.com/SuperKenVery/wifi-party-go/pkg/audio"
	"github.com/ebitengine/oto/v3"
)

// otoBlockFrames is the pull granularity: 10 ms at 48 kHz. Small enough for
// the latency budget, large enough to keep Read call overhead down.
const otoBlockFrames = 480

// Oto plays mixed audio through the oto library. The device pulls from an
// io.Reader; each Read invokes the pull callback, which makes the reader
// goroutine the playback callback thread.
type Oto struct {
	ctx        *oto.Context
	player     *oto.Player
	sampleRate int
	channels   int
	pull       PullFunc
}

// NewOto creates a playback device over the pull callback.
func NewOto(sampleRate, channels int, pull PullFunc) (*Oto, error) {
	op := &oto.NewContextOptions{
		SampleRate:   sampleRate,
		ChannelCount: channels,
		Format:       oto.FormatSignedInt16LE,
	}

	ctx, ready, err := oto.NewContext(op)
	if err != nil {
		return nil, fmt.Errorf("failed to create oto context: %w", err)
	}
	<-ready

	o := &Oto{
		ctx:        ctx,
		sampleRate: sampleRate,
		channels:   channels,
		pull:       pull,
	}
	o.player = ctx.NewPlayer(&pullReader{out: o})

	log.Printf("audio output initialized: %dHz, %d channels", sampleRate, channels)
	return o, nil
}

// Start begins playback.
func (o *Oto) Start() error {
	o.player.Play()
	return nil
}

// Close stops playback. The oto context itself cannot be torn down; it is
// suspended instead.
func (o *Oto) Close() error {
	if o.player != nil {
		o.player.Close()
		o.player = nil
	}
	return o.ctx.Suspend()
}

// pullReader adapts the pull callback to oto's io.Reader contract.
type pullReader struct {
	out      *Oto
	leftover []byte
}

func (r *pullReader) Read(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	if len(r.leftover) == 0 {
		samples := r.out.pull(otoBlockFrames)
		r.leftover = make([]byte, len(samples)*2)
		for i, s := range samples {
			binary.LittleEndian.PutUint16(r.leftover[i*2:], uint16(audio.SampleToInt16(s)))
		}
	}

	n := copy(p, r.leftover)
	r.leftover = r.leftover[n:]
	if n == 0 {
		return 0, io.EOF
	}
	return n, nil
}
