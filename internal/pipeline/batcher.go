// ABOUTME: Frame batcher
// ABOUTME: Rechunks hardware-sized capture frames into codec-sized frames
package pipeline

import "github.com/SuperKenVery/wifi-party-go/pkg/audio"

// Batcher accumulates pushed samples and emits frames of exactly frameSize
// sample frames, the size the downstream encoder wants. Hardware capture
// callbacks deliver whatever block size the device picked (128-1024 frames
// typical); the batcher re-aligns that to the codec frame.
//
// Only the capture thread touches a Batcher instance.
type Batcher struct {
	frameSize  int
	sampleRate int
	channels   int
	pending    []float32
	next       Pusher
}

// NewBatcher creates a batcher emitting frameSize-frame buffers to next.
func NewBatcher(frameSize, sampleRate, channels int, next Pusher) *Batcher {
	return &Batcher{
		frameSize:  frameSize,
		sampleRate: sampleRate,
		channels:   channels,
		pending:    make([]float32, 0, frameSize*channels*2),
		next:       next,
	}
}

func (b *Batcher) Push(buf audio.Buffer) {
	b.pending = append(b.pending, buf.Samples...)

	want := b.frameSize * b.channels
	for len(b.pending) >= want {
		out := make([]float32, want)
		copy(out, b.pending[:want])
		b.pending = b.pending[:copy(b.pending, b.pending[want:])]

		b.next.Push(audio.Buffer{
			Samples:    out,
			SampleRate: b.sampleRate,
			Channels:   b.channels,
		})
	}
}

// Pending returns buffered sample count, for tests.
func (b *Batcher) Pending() int {
	return len(b.pending)
}
