// ABOUTME: Realtime receive streams
// ABOUTME: Per-host Opus decode chains feeding the output mixer
package party

import (
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/SuperKenVery/wifi-party-go/internal/config"
	"github.com/SuperKenVery/wifi-party-go/internal/jitter"
	"github.com/SuperKenVery/wifi-party-go/internal/pipeline"
	"github.com/SuperKenVery/wifi-party-go/internal/protocol"
	"github.com/SuperKenVery/wifi-party-go/internal/state"
	"github.com/SuperKenVery/wifi-party-go/pkg/audio"
	"github.com/SuperKenVery/wifi-party-go/pkg/audio/decode"
)

// A chain whose decoder keeps failing is torn down and rebuilt on the next
// packet.
const decodeFailLimit = 10

type chainKey struct {
	host protocol.HostID
	kind protocol.Kind
}

// decodeChain owns one peer stream's decoder and jitter buffer. The network
// thread decodes and pushes; the audio thread pulls through the mixer.
type decodeChain struct {
	key     chainKey
	decoder decode.Decoder
	buffer  *jitter.Buffer
	volume  *state.F32Cell
	enabled *state.BoolCell
	mixerID pipeline.InputID

	frameMs  int
	channels int

	lastSeen    atomic.Int64 // unix nanos, written by the network thread
	decodeFails int          // network thread only

	// Pull-side reassembly of codec frames into device-sized requests.
	// Audio thread only.
	leftover       []float32
	expectedFrames int
}

// Pull assembles the requested frame count from the jitter buffer, healing
// gaps with the decoder's concealment output. Underruns propagate as None
// only when nothing at all was available.
func (c *decodeChain) Pull(frames int) (audio.Buffer, bool) {
	if !c.enabled.Get() {
		return audio.Buffer{}, false
	}

	want := frames * c.channels
	out := make([]float32, 0, want)

	if len(c.leftover) > 0 {
		take := len(c.leftover)
		if take > want {
			take = want
		}
		out = append(out, c.leftover[:take]...)
		c.leftover = c.leftover[:copy(c.leftover, c.leftover[take:])]
	}

	for len(out) < want {
		buf, res := c.buffer.Get()
		switch res {
		case jitter.Hit:
			c.expectedFrames = buf.Frames()
			out = c.appendFrame(out, buf.Samples, want)
		case jitter.Missing:
			out = c.appendFrame(out, c.conceal(), want)
		default: // Underrun or Warming
			if len(out) == 0 {
				return audio.Buffer{}, false
			}
			// Partial fill: pad with silence rather than stall the mixer.
			out = append(out, make([]float32, want-len(out))...)
		}
	}

	vol := c.volume.Get()
	if vol != 1.0 {
		for i, s := range out {
			out[i] = audio.SoftClip(s * vol)
		}
	}

	return audio.Buffer{Samples: out, SampleRate: 48000, Channels: c.channels}, true
}

func (c *decodeChain) appendFrame(out, samples []float32, want int) []float32 {
	room := want - len(out)
	if len(samples) <= room {
		return append(out, samples...)
	}
	out = append(out, samples[:room]...)
	c.leftover = append(c.leftover[:0], samples[room:]...)
	return out
}

// conceal asks the decoder for a PLC frame, falling back to silence.
func (c *decodeChain) conceal() []float32 {
	frames := c.expectedFrames
	if frames == 0 {
		frames = 48000 * c.frameMs / 1000
	}
	if concealer, ok := c.decoder.(decode.Concealer); ok {
		if pcm, err := concealer.Conceal(frames); err == nil {
			return pcm
		}
	}
	return make([]float32, frames*c.channels)
}

// RealtimeManager owns the map of (host, kind) decode chains. Chains appear
// lazily on the first matching packet and register with the output mixer;
// housekeeping deregisters them after the host timeout.
type RealtimeManager struct {
	cfg   config.Config
	state *state.AppState
	mixer *pipeline.Mixer

	mu     sync.Mutex
	chains map[chainKey]*decodeChain
}

// NewRealtimeManager creates the manager over the output mixer.
func NewRealtimeManager(cfg config.Config, st *state.AppState, mixer *pipeline.Mixer) *RealtimeManager {
	return &RealtimeManager{
		cfg:    cfg,
		state:  st,
		mixer:  mixer,
		chains: make(map[chainKey]*decodeChain),
	}
}

// Receive decodes one realtime packet on the network thread and deposits the
// PCM into the owning chain's jitter buffer.
func (m *RealtimeManager) Receive(p protocol.Realtime) {
	chain := m.chain(chainKey{host: p.Host, kind: p.Kind})
	if chain == nil {
		return
	}

	chain.lastSeen.Store(time.Now().UnixNano())
	m.state.Host(p.Host).TouchSeen()

	pcm, err := chain.decoder.Decode(p.Payload)
	if err != nil {
		chain.decodeFails++
		if chain.decodeFails >= decodeFailLimit {
			log.Printf("realtime: decoder for %s/%s failing repeatedly, rebuilding", p.Host, p.Kind)
			m.rebuildDecoder(chain)
		}
		return
	}
	chain.decodeFails = 0

	buf, err := audio.NewBuffer(pcm, 48000, chain.channels)
	if err != nil {
		return
	}
	chain.buffer.Put(p.Seq, buf)
}

func (m *RealtimeManager) chain(key chainKey) *decodeChain {
	m.mu.Lock()
	defer m.mu.Unlock()

	if c, ok := m.chains[key]; ok {
		return c
	}

	dec, err := decode.NewOpus(audio.Format{
		Codec:      audio.CodecOpus,
		SampleRate: 48000,
		Channels:   2,
	})
	if err != nil {
		log.Printf("realtime: failed to create decoder for %s/%s: %v", key.host, key.kind, err)
		return nil
	}

	entry := m.state.Host(key.host)
	c := &decodeChain{
		key:     key,
		decoder: dec,
		buffer: jitter.New(jitter.Config{
			SlotCount:     jitter.DefaultSlotCount,
			InitialTarget: m.cfg.JitterInitial,
			MinTarget:     m.cfg.JitterMin,
			MaxTarget:     m.cfg.JitterMax,
		}),
		volume:   entry.Volume,
		enabled:  entry.Enabled,
		frameMs:  m.cfg.OpusFrameMs,
		channels: 2,
	}
	c.mixerID = m.mixer.AddInput(pipeline.Conform(c, 48000, 2, m.cfg.SampleRate, m.cfg.Channels))
	m.chains[key] = c

	log.Printf("realtime: new stream %s/%s", key.host, key.kind)
	return c
}

func (m *RealtimeManager) rebuildDecoder(chain *decodeChain) {
	chain.decoder.Close()
	dec, err := decode.NewOpus(audio.Format{
		Codec:      audio.CodecOpus,
		SampleRate: 48000,
		Channels:   2,
	})
	if err != nil {
		log.Printf("realtime: decoder rebuild failed: %v", err)
		return
	}
	chain.decoder = dec
	chain.decodeFails = 0
}

// Cleanup tears down chains idle past the host timeout and removes roster
// entries once their last chain is gone.
func (m *RealtimeManager) Cleanup() {
	cutoff := time.Now().Add(-m.cfg.HostTimeout).UnixNano()

	m.mu.Lock()
	var removed []*decodeChain
	for key, c := range m.chains {
		if c.lastSeen.Load() < cutoff {
			removed = append(removed, c)
			delete(m.chains, key)
		}
	}
	remaining := make(map[protocol.HostID]int)
	for key := range m.chains {
		remaining[key.host]++
	}
	m.mu.Unlock()

	for _, c := range removed {
		log.Printf("realtime: removing stale stream %s/%s", c.key.host, c.key.kind)
		m.mixer.RemoveInput(c.mixerID)
		c.decoder.Close()
	}

	// Host-local reset: drop roster entries whose chains are all gone and
	// whose last packet is past the timeout.
	for id, entry := range m.state.Hosts() {
		if remaining[id] == 0 && time.Since(entry.LastSeen()) > m.cfg.HostTimeout {
			m.state.RemoveHost(id)
		}
	}
}

// HostStats summarizes each live chain for the roster snapshot.
func (m *RealtimeManager) HostStats() map[protocol.HostID][]state.StreamStats {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make(map[protocol.HostID][]state.StreamStats)
	for key, c := range m.chains {
		frameMs := uint64(c.frameMs)
		out[key.host] = append(out[key.host], state.StreamStats{
			Kind:            key.kind.String(),
			LossPercent:     c.buffer.LossRate() * 100,
			TargetLatencyMs: c.buffer.TargetLatency() * frameMs,
			DepthMs:         c.buffer.Depth() * frameMs,
		})
	}
	return out
}

// ChainCount reports live chains, for tests and the monitor endpoint.
func (m *RealtimeManager) ChainCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.chains)
}
