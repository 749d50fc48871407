// ABOUTME: Synchronized music streams
// ABOUTME: Deadline-scheduled decode chains with retransmission requests
package party

import (
	"errors"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/SuperKenVery/wifi-party-go/internal/clock"
	"github.com/SuperKenVery/wifi-party-go/internal/config"
	"github.com/SuperKenVery/wifi-party-go/internal/pipeline"
	"github.com/SuperKenVery/wifi-party-go/internal/protocol"
	"github.com/SuperKenVery/wifi-party-go/pkg/audio"
	"github.com/SuperKenVery/wifi-party-go/pkg/audio/decode"
)

const (
	syncedStreamTimeout = 30 * time.Second
	maxRequestRun       = 64
)

type syncedKey struct {
	host   protocol.HostID
	stream uint64
}

type playState int

const (
	stateIdle playState = iota
	statePlaying
	statePaused
	stateStopped
)

type readyFrame struct {
	seq     uint64
	playAt  uint64
	samples []float32
}

type pendingPacket struct {
	playAt uint64
	dur    uint32
	data   []byte
}

// syncedChain buffers one (host, stream) music session. Codecs are stateful,
// so compressed packets decode strictly in sequence order; out-of-order
// arrivals wait in pending until their predecessors show up. The pull side
// releases decoded audio once its play_at deadline arrives on the party
// clock.
type syncedChain struct {
	key         syncedKey
	format      audio.Format
	decoder     decode.Decoder
	title       string
	totalFrames uint64
	mixerID     pipeline.InputID
	clk         *clock.Service
	channels    int

	// mu guards everything below. The audio thread only ever TryLocks; on
	// contention it contributes silence for one pull.
	mu            sync.Mutex
	pending       map[uint64]pendingPacket
	nextDecodeSeq uint64
	ready         []readyFrame
	pcm           []float32
	maxSeqSeen    uint64
	state         playState
	attempts      map[uint64]int
	lastActivity  time.Time
}

// Pull serves released music samples to the mixer.
func (c *syncedChain) Pull(frames int) (audio.Buffer, bool) {
	if !c.mu.TryLock() {
		return audio.Buffer{}, false
	}
	defer c.mu.Unlock()

	if c.state != statePlaying {
		return audio.Buffer{}, false
	}

	// Release every decoded frame whose deadline has arrived, in order.
	now := c.clk.Now()
	for len(c.ready) > 0 && c.ready[0].playAt <= now {
		c.pcm = append(c.pcm, c.ready[0].samples...)
		c.ready = c.ready[1:]
	}

	if len(c.pcm) == 0 {
		return audio.Buffer{}, false
	}

	want := frames * c.channels
	out := make([]float32, want)
	n := copy(out, c.pcm)
	c.pcm = c.pcm[:copy(c.pcm, c.pcm[n:])]

	return audio.Buffer{Samples: out, SampleRate: c.format.SampleRate, Channels: c.channels}, true
}

// receive deposits one compressed packet, decoding everything now in order.
func (c *syncedChain) receive(p protocol.Synced) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.lastActivity = time.Now()
	seq := p.Seq

	if seq < c.nextDecodeSeq {
		return
	}
	if _, dup := c.pending[seq]; dup {
		return
	}
	if seq > c.maxSeqSeen {
		c.maxSeqSeen = seq
	}

	if seq != c.nextDecodeSeq {
		c.pending[seq] = pendingPacket{
			playAt: p.PlayAtUs,
			dur:    p.DurUs,
			data:   append([]byte(nil), p.Payload...),
		}
		return
	}

	c.decodeLocked(p.PlayAtUs, p.Payload)
	c.nextDecodeSeq++
	for {
		next, ok := c.pending[c.nextDecodeSeq]
		if !ok {
			break
		}
		delete(c.pending, c.nextDecodeSeq)
		c.decodeLocked(next.playAt, next.data)
		c.nextDecodeSeq++
	}
}

func (c *syncedChain) decodeLocked(playAt uint64, data []byte) {
	pcm, err := c.decoder.Decode(data)
	if err != nil {
		log.Printf("synced: decode failed on stream %d seq %d: %v", c.key.stream, c.nextDecodeSeq, err)
		return
	}
	c.ready = append(c.ready, readyFrame{seq: c.nextDecodeSeq, playAt: playAt, samples: pcm})
}

// flush drops all buffered audio, used for seeks.
func (c *syncedChain) flush() {
	c.pending = make(map[uint64]pendingPacket)
	c.ready = nil
	c.pcm = nil
	c.attempts = make(map[uint64]int)
}

// SyncedStreamInfo is the UI view of one music session.
type SyncedStreamInfo struct {
	Host          protocol.HostID
	Stream        uint64
	Title         string
	Codec         string
	Playing       bool
	FramesDecoded uint64
	TotalFrames   uint64
}

// SyncedManager keys music chains by (host, stream). Chains are created only
// by metadata packets, which carry the wire codec descriptor the decoder is
// bootstrapped from.
type SyncedManager struct {
	cfg   config.Config
	clk   *clock.Service
	mixer *pipeline.Mixer
	send  func(protocol.Packet)
	local protocol.HostID

	mu       sync.Mutex
	chains   map[syncedKey]*syncedChain
	rejected map[syncedKey]bool
}

// NewSyncedManager creates the manager. send is used for retransmission
// requests.
func NewSyncedManager(cfg config.Config, clk *clock.Service, mixer *pipeline.Mixer, local protocol.HostID, send func(protocol.Packet)) *SyncedManager {
	return &SyncedManager{
		cfg:      cfg,
		clk:      clk,
		mixer:    mixer,
		send:     send,
		local:    local,
		chains:   make(map[syncedKey]*syncedChain),
		rejected: make(map[syncedKey]bool),
	}
}

// ReceiveMeta bootstraps or refreshes a chain from the codec descriptor.
func (m *SyncedManager) ReceiveMeta(p protocol.SyncedMeta) {
	key := syncedKey{host: p.Host, stream: p.Stream}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.rejected[key] {
		return
	}
	if c, ok := m.chains[key]; ok {
		c.mu.Lock()
		c.title = p.Title
		c.totalFrames = p.TotalFrames
		c.lastActivity = time.Now()
		c.mu.Unlock()
		return
	}

	dec, err := decode.New(p.Format)
	if err != nil {
		// Unknown tags drop the whole stream; log once.
		if errors.Is(err, decode.ErrUnsupportedCodec) {
			log.Printf("synced: dropping stream %d from %s: %v", p.Stream, p.Host, err)
			m.rejected[key] = true
		} else {
			log.Printf("synced: decoder construction failed for stream %d: %v", p.Stream, err)
		}
		return
	}

	c := &syncedChain{
		key:           key,
		format:        p.Format,
		decoder:       dec,
		title:         p.Title,
		totalFrames:   p.TotalFrames,
		clk:           m.clk,
		channels:      p.Format.Channels,
		pending:       make(map[uint64]pendingPacket),
		nextDecodeSeq: 1,
		attempts:      make(map[uint64]int),
		lastActivity:  time.Now(),
	}
	c.mixerID = m.mixer.AddInput(pipeline.Conform(c, p.Format.SampleRate, p.Format.Channels, m.cfg.SampleRate, m.cfg.Channels))
	m.chains[key] = c

	log.Printf("synced: new stream %d from %s (%s, %q)", p.Stream, p.Host, p.Format.Codec, p.Title)
}

// Receive routes one music packet to its chain. Packets ahead of metadata
// are dropped; the >= 2 Hz meta rebroadcast repairs that quickly.
func (m *SyncedManager) Receive(p protocol.Synced) {
	m.mu.Lock()
	c := m.chains[syncedKey{host: p.Host, stream: p.Stream}]
	m.mu.Unlock()
	if c == nil {
		return
	}
	c.receive(p)
}

// ReceiveControl applies a play/pause/seek/stop transition.
func (m *SyncedManager) ReceiveControl(p protocol.SyncedControl) {
	m.mu.Lock()
	c := m.chains[syncedKey{host: p.Host, stream: p.Stream}]
	m.mu.Unlock()
	if c == nil {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.lastActivity = time.Now()

	switch p.Op {
	case protocol.OpPlay:
		c.state = statePlaying
	case protocol.OpPause:
		c.state = statePaused
	case protocol.OpSeek:
		c.flush()
	case protocol.OpStop:
		c.state = stateStopped
	}
}

// ScanRetransmits finds gaps whose deadline is still reachable and emits
// RequestFrames toward the originator. Each gap is asked for at most
// MaxRetransmitAttempts times; gaps that are hopeless get skipped so decode
// can resume at the next buffered packet.
func (m *SyncedManager) ScanRetransmits() {
	m.mu.Lock()
	chains := make([]*syncedChain, 0, len(m.chains))
	for _, c := range m.chains {
		chains = append(chains, c)
	}
	m.mu.Unlock()

	now := m.clk.Now()
	slackUs := uint64(m.cfg.RetransmitSlack.Microseconds())

	for _, c := range chains {
		c.mu.Lock()
		if c.state != statePlaying || c.maxSeqSeen <= c.nextDecodeSeq {
			c.mu.Unlock()
			continue
		}

		// The earliest buffered packet tells us roughly when the missing
		// run must play.
		pendingSeqs := make([]uint64, 0, len(c.pending))
		for seq := range c.pending {
			pendingSeqs = append(pendingSeqs, seq)
		}
		sort.Slice(pendingSeqs, func(i, j int) bool { return pendingSeqs[i] < pendingSeqs[j] })
		if len(pendingSeqs) == 0 {
			c.mu.Unlock()
			continue
		}

		firstBuffered := pendingSeqs[0]
		deadline := c.pending[firstBuffered].playAt

		if deadline+slackUs < now {
			// Too late to recover: abandon the gap and resume decode at the
			// buffered packet. The decoder rides over the discontinuity.
			log.Printf("synced: abandoning gap %d..%d on stream %d (deadline passed)",
				c.nextDecodeSeq, firstBuffered-1, c.key.stream)
			c.nextDecodeSeq = firstBuffered
			for {
				next, ok := c.pending[c.nextDecodeSeq]
				if !ok {
					break
				}
				delete(c.pending, c.nextDecodeSeq)
				c.decodeLocked(next.playAt, next.data)
				c.nextDecodeSeq++
			}
			c.mu.Unlock()
			continue
		}

		// Request the missing run, bounded and attempt-capped.
		first := c.nextDecodeSeq
		count := firstBuffered - first
		if count > maxRequestRun {
			count = maxRequestRun
		}
		if c.attempts[first] >= m.cfg.MaxRetransmitAttempts {
			c.mu.Unlock()
			continue
		}
		c.attempts[first]++
		host := c.key.host
		stream := c.key.stream
		c.mu.Unlock()

		m.send(protocol.RequestFrames{
			Requester: m.local,
			Target:    host,
			Stream:    stream,
			FirstSeq:  first,
			Count:     uint16(count),
		})
	}
}

// Cleanup tears down stopped and stale chains.
func (m *SyncedManager) Cleanup() {
	m.mu.Lock()
	var removed []*syncedChain
	for key, c := range m.chains {
		c.mu.Lock()
		stale := c.state == stateStopped || time.Since(c.lastActivity) > syncedStreamTimeout
		c.mu.Unlock()
		if stale {
			removed = append(removed, c)
			delete(m.chains, key)
		}
	}
	m.mu.Unlock()

	for _, c := range removed {
		log.Printf("synced: removing stream %d from %s", c.key.stream, c.key.host)
		m.mixer.RemoveInput(c.mixerID)
		c.decoder.Close()
	}
}

// ActiveStreams snapshots every music session for the UI.
func (m *SyncedManager) ActiveStreams() []SyncedStreamInfo {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]SyncedStreamInfo, 0, len(m.chains))
	for key, c := range m.chains {
		c.mu.Lock()
		out = append(out, SyncedStreamInfo{
			Host:          key.host,
			Stream:        key.stream,
			Title:         c.title,
			Codec:         c.format.Codec,
			Playing:       c.state == statePlaying,
			FramesDecoded: c.nextDecodeSeq - 1,
			TotalFrames:   c.totalFrames,
		})
		c.mu.Unlock()
	}
	return out
}

// ChainCount reports live chains, for tests.
func (m *SyncedManager) ChainCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.chains)
}
