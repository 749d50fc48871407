// ABOUTME: Sender side of synchronized music playback
// ABOUTME: Stamps compressed packets with epoch deadlines and serves retransmits
package party

import (
	"io"
	"log"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/SuperKenVery/wifi-party-go/internal/clock"
	"github.com/SuperKenVery/wifi-party-go/internal/protocol"
	"github.com/SuperKenVery/wifi-party-go/internal/state"
	"github.com/SuperKenVery/wifi-party-go/pkg/music"
)

const (
	// How far ahead of the shared deadline packets are pushed out.
	bufferAheadUs = 2_000_000
	metaInterval  = 500 * time.Millisecond
)

// MusicStream reads compressed packets from a source, stamps each with a
// play_at time on the party clock and multicasts them without re-encoding.
// Sent packets are retained so receivers can ask for retransmits. The
// sender's own receiver chain is fed locally, since the dispatcher drops our
// multicast echo.
type MusicStream struct {
	id     uint64
	host   protocol.HostID
	src    music.Source
	clk    *clock.Service
	send   func(protocol.Packet)
	synced *SyncedManager
	prog   *state.MusicProgress

	mu      sync.Mutex
	sent    map[uint64]protocol.Synced
	stopped atomic.Bool
	done    chan struct{}
}

// StartMusicStream begins streaming the source to the party.
func StartMusicStream(src music.Source, host protocol.HostID, clk *clock.Service,
	send func(protocol.Packet), synced *SyncedManager, prog *state.MusicProgress) *MusicStream {

	s := &MusicStream{
		id:     rand.Uint64(),
		host:   host,
		src:    src,
		clk:    clk,
		send:   send,
		synced: synced,
		prog:   prog,
		sent:   make(map[uint64]protocol.Synced),
		done:   make(chan struct{}),
	}

	prog.SetTitle(src.Title())
	prog.TotalFrames.Store(src.TotalPackets())
	prog.SentFrames.Store(0)
	prog.Streaming.Store(true)

	go s.run()
	return s
}

// ID returns the stream identifier.
func (s *MusicStream) ID() uint64 { return s.id }

func (s *MusicStream) meta() protocol.SyncedMeta {
	return protocol.SyncedMeta{
		Host:        s.host,
		Stream:      s.id,
		Format:      s.src.Format(),
		TotalFrames: s.src.TotalPackets(),
		Title:       s.src.Title(),
	}
}

func (s *MusicStream) run() {
	defer close(s.done)
	defer func() {
		s.prog.Streaming.Store(false)
		s.src.Close()
	}()

	// The deadline schedule needs the party epoch.
	for !s.clk.Synced() {
		if s.stopped.Load() {
			return
		}
		time.Sleep(100 * time.Millisecond)
	}

	meta := s.meta()
	s.deliverMeta(meta)
	s.deliverControl(protocol.OpPlay, 0)

	log.Printf("music: streaming %q as stream %d (%d packets)",
		meta.Title, s.id, meta.TotalFrames)

	playAt := s.clk.Now() + bufferAheadUs
	lastMeta := time.Now()
	seq := uint64(0)

	for !s.stopped.Load() {
		pkt, err := s.src.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			log.Printf("music: source error on stream %d: %v", s.id, err)
			break
		}

		seq++
		frame := protocol.Synced{
			Host:     s.host,
			Stream:   s.id,
			Seq:      seq,
			PlayAtUs: playAt,
			DurUs:    pkt.DurationUs,
			Payload:  pkt.Data,
		}
		playAt += uint64(pkt.DurationUs)

		s.mu.Lock()
		s.sent[seq] = frame
		s.mu.Unlock()

		s.send(frame)
		s.synced.Receive(frame)
		s.prog.SentFrames.Store(seq)

		// Meta repeats at >= 2 Hz so late joiners can bootstrap a decoder.
		if time.Since(lastMeta) >= metaInterval {
			s.deliverMeta(meta)
			lastMeta = time.Now()
		}

		// Pace transmission to stay a bounded lead ahead of the deadline.
		if now := s.clk.Now(); playAt > now+bufferAheadUs {
			sleep := time.Duration(playAt-now-bufferAheadUs) * time.Microsecond
			if sleep > 100*time.Millisecond {
				sleep = 100 * time.Millisecond
			}
			time.Sleep(sleep)
		}
	}

	if !s.stopped.Load() {
		log.Printf("music: stream %d complete (%d packets)", s.id, seq)
	}
}

func (s *MusicStream) deliverMeta(meta protocol.SyncedMeta) {
	s.send(meta)
	s.synced.ReceiveMeta(meta)
}

func (s *MusicStream) deliverControl(op protocol.ControlOp, posUs uint64) {
	ctl := protocol.SyncedControl{Host: s.host, Stream: s.id, Op: op, PosUs: posUs}
	s.send(ctl)
	s.synced.ReceiveControl(ctl)
}

// Pause halts playback on every receiver.
func (s *MusicStream) Pause() {
	s.deliverControl(protocol.OpPause, 0)
}

// Resume continues playback.
func (s *MusicStream) Resume() {
	s.deliverControl(protocol.OpPlay, 0)
}

// Stop ends the stream everywhere and stops transmission.
func (s *MusicStream) Stop() {
	if s.stopped.CompareAndSwap(false, true) {
		s.deliverControl(protocol.OpStop, 0)
		<-s.done
	}
}

// Done reports whether transmission has finished.
func (s *MusicStream) Done() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}

// HandleRequest retransmits a run of previously sent packets. Each request
// is served from the retained window; unknown sequences are skipped.
func (s *MusicStream) HandleRequest(req protocol.RequestFrames) {
	if req.Stream != s.id {
		return
	}

	s.mu.Lock()
	frames := make([]protocol.Synced, 0, req.Count)
	for seq := req.FirstSeq; seq < req.FirstSeq+uint64(req.Count); seq++ {
		if f, ok := s.sent[seq]; ok {
			frames = append(frames, f)
		}
	}
	s.mu.Unlock()

	for _, f := range frames {
		s.send(f)
	}
}
