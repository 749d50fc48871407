// ABOUTME: Unit tests for the synced stream manager
// ABOUTME: Tests codec bootstrap, deadline release, controls and retransmits
package party

import (
	"encoding/binary"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/SuperKenVery/wifi-party-go/internal/clock"
	"github.com/SuperKenVery/wifi-party-go/internal/config"
	"github.com/SuperKenVery/wifi-party-go/internal/pipeline"
	"github.com/SuperKenVery/wifi-party-go/internal/protocol"
	"github.com/SuperKenVery/wifi-party-go/pkg/audio"
)

type packetLog struct {
	mu      sync.Mutex
	packets []protocol.Packet
}

func (l *packetLog) send(p protocol.Packet) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.packets = append(l.packets, p)
}

func (l *packetLog) requests() []protocol.RequestFrames {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []protocol.RequestFrames
	for _, p := range l.packets {
		if r, ok := p.(protocol.RequestFrames); ok {
			out = append(out, r)
		}
	}
	return out
}

func syncedFixture(t *testing.T) (*SyncedManager, *pipeline.Mixer, *clock.Service, *packetLog) {
	t.Helper()
	cfg := config.Default()
	clk := clock.NewService(func(protocol.Packet) {})
	clk.BecomeFirstHost()
	mixer := pipeline.NewMixer(cfg.SampleRate, cfg.Channels)
	log := &packetLog{}
	local := protocol.HostIDFromIP(net.ParseIP("10.0.0.1"))
	m := NewSyncedManager(cfg, clk, mixer, local, log.send)
	return m, mixer, clk, log
}

func pcmMeta(host protocol.HostID, stream uint64) protocol.SyncedMeta {
	return protocol.SyncedMeta{
		Host:   host,
		Stream: stream,
		Format: audio.Format{Codec: audio.CodecPCM, SampleRate: 48000, Channels: 2},
		Title:  "test.pcm",
	}
}

// pcmPayload builds n int16 stereo frames of constant value.
func pcmPayload(frames int, value int16) []byte {
	out := make([]byte, frames*2*2)
	for i := 0; i < frames*2; i++ {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(value))
	}
	return out
}

func TestMetaBootstrapsChain(t *testing.T) {
	m, mixer, _, _ := syncedFixture(t)
	host := protocol.HostIDFromIP(net.ParseIP("10.0.0.9"))

	m.ReceiveMeta(pcmMeta(host, 7))
	if got := m.ChainCount(); got != 1 {
		t.Fatalf("ChainCount() = %d, want 1", got)
	}
	if got := mixer.InputCount(); got != 1 {
		t.Errorf("mixer inputs = %d, want 1", got)
	}

	// Meta repeats do not duplicate chains.
	m.ReceiveMeta(pcmMeta(host, 7))
	if got := m.ChainCount(); got != 1 {
		t.Errorf("ChainCount() after repeat = %d, want 1", got)
	}
}

func TestUnsupportedCodecDropsStream(t *testing.T) {
	m, _, _, _ := syncedFixture(t)
	host := protocol.HostIDFromIP(net.ParseIP("10.0.0.9"))

	meta := pcmMeta(host, 8)
	meta.Format.Codec = audio.CodecVorbis
	m.ReceiveMeta(meta)
	if got := m.ChainCount(); got != 0 {
		t.Errorf("ChainCount() = %d, want 0 for unsupported codec", got)
	}

	// Packets for the rejected stream are ignored.
	m.Receive(protocol.Synced{Host: host, Stream: 8, Seq: 1, Payload: pcmPayload(10, 1)})
}

func TestDeadlineGatesRelease(t *testing.T) {
	m, _, clk, _ := syncedFixture(t)
	host := protocol.HostIDFromIP(net.ParseIP("10.0.0.9"))

	m.ReceiveMeta(pcmMeta(host, 1))
	m.ReceiveControl(protocol.SyncedControl{Host: host, Stream: 1, Op: protocol.OpPlay})

	chain := m.chains[syncedKey{host: host, stream: 1}]
	if chain == nil {
		t.Fatal("chain not created")
	}

	// One packet scheduled 10 seconds out, one already due.
	m.Receive(protocol.Synced{
		Host: host, Stream: 1, Seq: 1,
		PlayAtUs: clk.Now(), DurUs: 5000,
		Payload: pcmPayload(240, 1000),
	})
	m.Receive(protocol.Synced{
		Host: host, Stream: 1, Seq: 2,
		PlayAtUs: clk.Now() + 10_000_000, DurUs: 5000,
		Payload: pcmPayload(240, 2000),
	})

	buf, ok := chain.Pull(240)
	if !ok {
		t.Fatal("Pull() returned none for a due packet")
	}
	if buf.Samples[0] == 0 {
		t.Error("due packet released silence")
	}

	// The second packet is still in the future: released audio exhausted.
	if _, ok := chain.Pull(240); ok {
		t.Error("Pull() released audio scheduled 10s out")
	}
}

func TestInOrderDecodeAcrossReorder(t *testing.T) {
	m, _, clk, _ := syncedFixture(t)
	host := protocol.HostIDFromIP(net.ParseIP("10.0.0.9"))

	m.ReceiveMeta(pcmMeta(host, 1))
	m.ReceiveControl(protocol.SyncedControl{Host: host, Stream: 1, Op: protocol.OpPlay})
	chain := m.chains[syncedKey{host: host, stream: 1}]

	due := clk.Now()
	// Arrive 2 before 1: decode must wait and then run both in order.
	m.Receive(protocol.Synced{Host: host, Stream: 1, Seq: 2, PlayAtUs: due, Payload: pcmPayload(10, 200)})

	chain.mu.Lock()
	decoded := chain.nextDecodeSeq
	chain.mu.Unlock()
	if decoded != 1 {
		t.Fatalf("nextDecodeSeq = %d before seq 1 arrived, want 1", decoded)
	}

	m.Receive(protocol.Synced{Host: host, Stream: 1, Seq: 1, PlayAtUs: due, Payload: pcmPayload(10, 100)})

	chain.mu.Lock()
	decoded = chain.nextDecodeSeq
	ready := len(chain.ready)
	chain.mu.Unlock()
	if decoded != 3 {
		t.Errorf("nextDecodeSeq = %d after both arrived, want 3", decoded)
	}
	if ready != 2 {
		t.Errorf("ready frames = %d, want 2", ready)
	}
}

func TestControlStateMachine(t *testing.T) {
	m, _, clk, _ := syncedFixture(t)
	host := protocol.HostIDFromIP(net.ParseIP("10.0.0.9"))

	m.ReceiveMeta(pcmMeta(host, 1))
	chain := m.chains[syncedKey{host: host, stream: 1}]

	m.Receive(protocol.Synced{Host: host, Stream: 1, Seq: 1, PlayAtUs: clk.Now(), Payload: pcmPayload(10, 500)})

	// Idle: no output.
	if _, ok := chain.Pull(10); ok {
		t.Error("idle chain released audio")
	}

	m.ReceiveControl(protocol.SyncedControl{Host: host, Stream: 1, Op: protocol.OpPlay})
	if _, ok := chain.Pull(10); !ok {
		t.Error("playing chain released nothing")
	}

	m.ReceiveControl(protocol.SyncedControl{Host: host, Stream: 1, Op: protocol.OpPause})
	if _, ok := chain.Pull(10); ok {
		t.Error("paused chain released audio")
	}

	// Seek flushes buffered audio.
	m.ReceiveControl(protocol.SyncedControl{Host: host, Stream: 1, Op: protocol.OpSeek, PosUs: 1000})
	chain.mu.Lock()
	buffered := len(chain.ready) + len(chain.pcm) + len(chain.pending)
	chain.mu.Unlock()
	if buffered != 0 {
		t.Errorf("seek left %d buffered items", buffered)
	}

	// Stop marks the chain for cleanup.
	m.ReceiveControl(protocol.SyncedControl{Host: host, Stream: 1, Op: protocol.OpStop})
	m.Cleanup()
	if got := m.ChainCount(); got != 0 {
		t.Errorf("ChainCount() after stop+cleanup = %d, want 0", got)
	}
}

func TestGapTriggersRetransmitRequest(t *testing.T) {
	m, _, clk, log := syncedFixture(t)
	host := protocol.HostIDFromIP(net.ParseIP("10.0.0.9"))

	m.ReceiveMeta(pcmMeta(host, 5))
	m.ReceiveControl(protocol.SyncedControl{Host: host, Stream: 5, Op: protocol.OpPlay})

	future := clk.Now() + 5_000_000
	m.Receive(protocol.Synced{Host: host, Stream: 5, Seq: 1, PlayAtUs: future, Payload: pcmPayload(10, 1)})
	// 2 and 3 lost.
	m.Receive(protocol.Synced{Host: host, Stream: 5, Seq: 4, PlayAtUs: future + 15_000, Payload: pcmPayload(10, 4)})

	m.ScanRetransmits()

	reqs := log.requests()
	if len(reqs) != 1 {
		t.Fatalf("got %d retransmit requests, want 1", len(reqs))
	}
	req := reqs[0]
	if req.Target != host || req.Stream != 5 {
		t.Errorf("request aimed at %s/%d, want %s/5", req.Target, req.Stream, host)
	}
	if req.FirstSeq != 2 || req.Count != 2 {
		t.Errorf("request range = %d+%d, want 2+2", req.FirstSeq, req.Count)
	}

	// Attempts are capped.
	for i := 0; i < 10; i++ {
		m.ScanRetransmits()
	}
	if got := len(log.requests()); got > config.Default().MaxRetransmitAttempts {
		t.Errorf("sent %d requests for one gap, cap is %d", got, config.Default().MaxRetransmitAttempts)
	}
}

func TestHopelessGapAbandoned(t *testing.T) {
	m, _, clk, log := syncedFixture(t)
	host := protocol.HostIDFromIP(net.ParseIP("10.0.0.9"))

	m.ReceiveMeta(pcmMeta(host, 5))
	m.ReceiveControl(protocol.SyncedControl{Host: host, Stream: 5, Op: protocol.OpPlay})

	// Seq 1 lost; seq 2's deadline is already long past the slack.
	past := clk.Now()
	if past > 1_000_000 {
		past -= 1_000_000
	} else {
		past = 0
	}
	m.Receive(protocol.Synced{Host: host, Stream: 5, Seq: 2, PlayAtUs: past, Payload: pcmPayload(10, 2)})

	m.ScanRetransmits()

	if got := len(log.requests()); got != 0 {
		t.Errorf("requested a hopeless gap %d times", got)
	}

	chain := m.chains[syncedKey{host: host, stream: 5}]
	chain.mu.Lock()
	decoded := chain.nextDecodeSeq
	chain.mu.Unlock()
	if decoded != 3 {
		t.Errorf("nextDecodeSeq = %d after abandoning gap, want 3", decoded)
	}
}

func TestStaleStreamCleanup(t *testing.T) {
	m, _, _, _ := syncedFixture(t)
	host := protocol.HostIDFromIP(net.ParseIP("10.0.0.9"))

	m.ReceiveMeta(pcmMeta(host, 5))
	chain := m.chains[syncedKey{host: host, stream: 5}]
	chain.mu.Lock()
	chain.lastActivity = time.Now().Add(-syncedStreamTimeout - time.Second)
	chain.mu.Unlock()

	m.Cleanup()
	if got := m.ChainCount(); got != 0 {
		t.Errorf("ChainCount() = %d after staleness, want 0", got)
	}
}
