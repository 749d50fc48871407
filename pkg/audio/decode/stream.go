// ABOUTME: Shared plumbing for container-codec decoders
// ABOUTME: Feeds wire packets into a blocking stream decoder goroutine
package decode

import (
	"io"
	"sync/atomic"
)

// streamPump bridges packet-at-a-time Decode calls to codec libraries that
// want a continuous io.Reader. Packets are written into a pipe consumed by a
// decoder goroutine; decoded PCM comes back over a buffered channel.
//
// The channel is drained before each write so a steady caller can never
// deadlock against a full channel.
type streamPump struct {
	pw     *io.PipeWriter
	out    chan []float32
	errc   chan error
	closed atomic.Bool
}

func newStreamPump(run func(pr *io.PipeReader, out chan<- []float32, errc chan<- error)) *streamPump {
	pr, pw := io.Pipe()
	p := &streamPump{
		pw:   pw,
		out:  make(chan []float32, 256),
		errc: make(chan error, 1),
	}
	go run(pr, p.out, p.errc)
	return p
}

// feed pushes packet bytes to the decoder goroutine and collects whatever PCM
// it has produced so far. An empty result is normal while the decoder is
// still priming.
func (p *streamPump) feed(data []byte) ([]float32, error) {
	collected := p.drain(nil)

	select {
	case err := <-p.errc:
		return nil, err
	default:
	}

	if _, err := p.pw.Write(data); err != nil {
		return nil, err
	}

	return p.drain(collected), nil
}

func (p *streamPump) drain(into []float32) []float32 {
	for {
		select {
		case pcm := <-p.out:
			into = append(into, pcm...)
		default:
			return into
		}
	}
}

func (p *streamPump) close() error {
	if p.closed.CompareAndSwap(false, true) {
		return p.pw.Close()
	}
	return nil
}
