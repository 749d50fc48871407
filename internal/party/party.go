// ABOUTME: Party orchestrator
// ABOUTME: Builds capture, send, receive, mix and playback pipelines
package party

import (
	"fmt"
	"log"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/SuperKenVery/wifi-party-go/internal/clock"
	"github.com/SuperKenVery/wifi-party-go/internal/config"
	"github.com/SuperKenVery/wifi-party-go/internal/pipeline"
	"github.com/SuperKenVery/wifi-party-go/internal/protocol"
	"github.com/SuperKenVery/wifi-party-go/internal/ring"
	"github.com/SuperKenVery/wifi-party-go/internal/state"
	"github.com/SuperKenVery/wifi-party-go/internal/transport"
	"github.com/SuperKenVery/wifi-party-go/pkg/audio"
	"github.com/SuperKenVery/wifi-party-go/pkg/audio/encode"
	"github.com/SuperKenVery/wifi-party-go/pkg/music"
)

const (
	loopbackRingDepth = 16
	hostSyncInterval  = 200 * time.Millisecond
	cleanupInterval   = time.Second
	retransmitScan    = 50 * time.Millisecond
)

// Party owns the whole audio plane: multicast transport, the party clock,
// per-peer receive chains, the output mixer and the local capture pipelines.
//
// Startup order is transport, clock, output mixer and managers, capture
// pipelines, receive thread, housekeeping; Stop walks the same list in
// reverse.
type Party struct {
	cfg config.Config
	st  *state.AppState

	lock   transport.MulticastLock
	conns  []*transport.Conn
	sender *transport.Sender
	clk    *clock.Service

	mixer    *pipeline.Mixer
	realtime *RealtimeManager
	synced   *SyncedManager
	loopback *ring.SPSC[audio.Buffer]

	micIn    pipeline.Pusher
	systemIn pipeline.Pusher

	MicGain *state.F32Cell

	musicMu sync.Mutex
	music   *MusicStream

	shutdown  atomic.Bool
	stop      chan struct{}
	tasks     errgroup.Group
	recvTasks sync.WaitGroup
}

// New creates an unstarted party.
func New(cfg config.Config, st *state.AppState, lock transport.MulticastLock) *Party {
	return &Party{
		cfg:     cfg,
		st:      st,
		lock:    lock,
		MicGain: state.NewF32Cell(1.0),
		stop:    make(chan struct{}),
	}
}

// Start brings up the audio plane. Setup errors here are fatal and surface
// to the caller; once running, the plane only drops and counts.
func (p *Party) Start() error {
	if err := p.cfg.Validate(); err != nil {
		return err
	}

	// The platform multicast shim must be held before any socket opens.
	if err := p.lock.Acquire(); err != nil {
		return fmt.Errorf("failed to acquire multicast lock: %w", err)
	}

	if ip, err := transport.LocalIP(); err == nil {
		p.st.LocalHost = protocol.HostIDFromIP(ip)
	} else {
		log.Printf("party: could not determine local IP, loopback de-dup disabled: %v", err)
	}

	var ifi *net.Interface
	if p.cfg.Interface != "" {
		found, err := net.InterfaceByName(p.cfg.Interface)
		if err != nil {
			p.lock.Release()
			return fmt.Errorf("unknown interface %q: %w", p.cfg.Interface, err)
		}
		ifi = found
	}

	conn4, err := transport.ListenV4(ifi, p.cfg.GroupV4, p.cfg.Port)
	if err != nil {
		p.lock.Release()
		return err
	}
	p.conns = append(p.conns, conn4)

	if p.cfg.EnableIPv6 {
		conn6, err := transport.ListenV6(ifi, p.cfg.GroupV6, p.cfg.Port)
		if err != nil {
			log.Printf("party: IPv6 group unavailable, continuing v4-only: %v", err)
		} else {
			p.conns = append(p.conns, conn6)
		}
	}

	p.sender = transport.NewSender(p.conns...)
	send := func(pkt protocol.Packet) {
		if err := p.sender.Send(pkt); err != nil {
			log.Printf("party: dropping unsendable packet: %v", err)
		}
	}

	p.clk = clock.NewService(send)

	p.mixer = pipeline.NewMixer(p.cfg.SampleRate, p.cfg.Channels)
	p.realtime = NewRealtimeManager(p.cfg, p.st, p.mixer)
	p.synced = NewSyncedManager(p.cfg, p.clk, p.mixer, p.st.LocalHost, send)

	// Loopback monitor: the mic tee feeds this ring so the local user can
	// hear themself without a network round trip.
	p.loopback = ring.NewSPSC[audio.Buffer](loopbackRingDepth)
	p.mixer.AddInput(pipeline.NewPullSwitch(p.st.LoopbackEnabled, &ringSource{ring: p.loopback}))

	micIn, err := p.buildCapturePipeline(protocol.KindMic, p.st.MicEnabled, p.st.MicLevel, send, true)
	if err != nil {
		p.teardownTransport()
		return err
	}
	p.micIn = micIn

	systemIn, err := p.buildCapturePipeline(protocol.KindSystem, p.st.SystemEnabled, p.st.SystemLevel, send, false)
	if err != nil {
		p.teardownTransport()
		return err
	}
	p.systemIn = systemIn

	// Receive thread.
	dispatcher := NewDispatcher(p.conns[0], p.st, p.realtime, p.synced, p.clk, p.handleRequest, &p.shutdown)
	p.recvTasks.Add(1)
	go func() {
		defer p.recvTasks.Done()
		dispatcher.Run()
	}()
	if len(p.conns) > 1 {
		d6 := NewDispatcher(p.conns[1], p.st, p.realtime, p.synced, p.clk, p.handleRequest, &p.shutdown)
		p.recvTasks.Add(1)
		go func() {
			defer p.recvTasks.Done()
			d6.Run()
		}()
	}

	// Housekeeping: clock exchange, chain cleanup, retransmit scanning and
	// the roster snapshot for the UI. None of these touch the audio path
	// synchronously.
	p.tasks.Go(func() error {
		p.clk.Run(p.stop)
		return nil
	})
	p.tasks.Go(p.cleanupTask)
	p.tasks.Go(p.retransmitTask)
	p.tasks.Go(p.hostSyncTask)

	log.Printf("party: started on %s:%d as %s", p.cfg.GroupV4, p.cfg.Port, p.st.LocalHost)
	return nil
}

// buildCapturePipeline assembles, bottom-up, one capture chain:
// level -> (gain) -> switch -> (tee loopback) -> batcher -> opus -> packer -> sender.
func (p *Party) buildCapturePipeline(kind protocol.Kind, enabled *state.BoolCell,
	level *state.F32Cell, send func(protocol.Packet), withMonitor bool) (pipeline.Pusher, error) {

	enc, err := encode.NewOpus(audio.Format{
		Codec:      audio.CodecOpus,
		SampleRate: p.cfg.SampleRate,
		Channels:   p.cfg.Channels,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create %s encoder: %w", kind, err)
	}

	packer := &framePacker{host: &p.st.LocalHost, kind: kind, encoder: enc, send: send}
	batcher := pipeline.NewBatcher(p.cfg.FrameSize(), p.cfg.SampleRate, p.cfg.Channels, packer)

	var chain pipeline.Pusher = batcher
	if withMonitor {
		loopPush := pipeline.PushFunc(func(buf audio.Buffer) {
			p.loopback.Push(buf)
		})
		chain = pipeline.NewTee(loopPush, batcher)
	}

	chain = pipeline.NewSwitch(enabled, chain)
	if withMonitor {
		chain = pipeline.NewGain(p.MicGain, chain)
	}
	return pipeline.NewLevelMeter(level, chain), nil
}

// PushMic is the mic capture callback entry point.
func (p *Party) PushMic(buf audio.Buffer) {
	p.micIn.Push(buf)
}

// PushSystem is the system-audio capture callback entry point.
func (p *Party) PushSystem(buf audio.Buffer) {
	p.systemIn.Push(buf)
}

// PullPlayback is the playback callback: it fills exactly frames sample
// frames from the output mixer. Never fails; absent inputs mix as silence.
func (p *Party) PullPlayback(frames int) []float32 {
	buf, _ := p.mixer.Pull(frames)
	return buf.Samples
}

// Clock exposes the party clock.
func (p *Party) Clock() *clock.Service { return p.clk }

// Synced exposes the music manager for UI queries.
func (p *Party) Synced() *SyncedManager { return p.synced }

// StartMusic begins streaming a local file to the party, replacing any
// stream this peer is already sending.
func (p *Party) StartMusic(path string) error {
	src, err := music.Open(path)
	if err != nil {
		return err
	}

	p.musicMu.Lock()
	defer p.musicMu.Unlock()
	if p.music != nil && !p.music.Done() {
		p.music.Stop()
	}
	p.music = StartMusicStream(src, p.st.LocalHost, p.clk, func(pkt protocol.Packet) {
		if err := p.sender.Send(pkt); err != nil {
			log.Printf("party: music send failed: %v", err)
		}
	}, p.synced, &p.st.Music)
	return nil
}

// Music returns the active outgoing stream, nil when idle.
func (p *Party) Music() *MusicStream {
	p.musicMu.Lock()
	defer p.musicMu.Unlock()
	return p.music
}

func (p *Party) handleRequest(req protocol.RequestFrames) {
	p.musicMu.Lock()
	stream := p.music
	p.musicMu.Unlock()
	if stream != nil {
		stream.HandleRequest(req)
	}
}

func (p *Party) cleanupTask() error {
	ticker := time.NewTicker(cleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-p.stop:
			return nil
		case <-ticker.C:
			p.realtime.Cleanup()
			p.synced.Cleanup()
		}
	}
}

func (p *Party) retransmitTask() error {
	ticker := time.NewTicker(retransmitScan)
	defer ticker.Stop()
	for {
		select {
		case <-p.stop:
			return nil
		case <-ticker.C:
			p.synced.ScanRetransmits()
		}
	}
}

// hostSyncTask publishes the roster snapshot for the UI at 5 Hz.
func (p *Party) hostSyncTask() error {
	ticker := time.NewTicker(hostSyncInterval)
	defer ticker.Stop()
	for {
		select {
		case <-p.stop:
			return nil
		case <-ticker.C:
			stats := p.realtime.HostStats()
			infos := make([]state.HostInfo, 0, len(stats))
			for id, entry := range p.st.Hosts() {
				infos = append(infos, state.HostInfo{
					ID:       id,
					LastSeen: entry.LastSeen(),
					Volume:   entry.Volume.Get(),
					Enabled:  entry.Enabled.Get(),
					Streams:  stats[id],
				})
			}
			p.st.PublishSnapshot(infos)
		}
	}
}

func (p *Party) teardownTransport() {
	p.sender.Close()
	for _, c := range p.conns {
		c.Close()
	}
	p.conns = nil
	p.lock.Release()
}

// Stop tears the plane down in reverse of Start: stop housekeeping and
// music, stop the receive thread, drain the sender, close sockets, release
// the multicast lock. Capture and playback devices belong to the caller and
// must be stopped first.
func (p *Party) Stop() {
	p.musicMu.Lock()
	if p.music != nil && !p.music.Done() {
		p.music.Stop()
	}
	p.musicMu.Unlock()

	p.shutdown.Store(true)
	close(p.stop)
	p.tasks.Wait()
	p.recvTasks.Wait()

	p.teardownTransport()
	log.Printf("party: stopped")
}

// ringSource adapts the loopback SPSC to the mixer's pull contract.
type ringSource struct {
	ring     *ring.SPSC[audio.Buffer]
	leftover []float32
	shape    audio.Buffer
}

func (r *ringSource) Pull(frames int) (audio.Buffer, bool) {
	for {
		buf, ok := r.ring.Pop()
		if !ok {
			break
		}
		r.shape = buf
		r.leftover = append(r.leftover, buf.Samples...)
	}

	if len(r.leftover) == 0 || r.shape.Channels == 0 {
		return audio.Buffer{}, false
	}

	// Clock drift between capture and playback accumulates here; trim to a
	// bounded monitor latency, keeping the freshest audio.
	if limit := r.shape.SampleRate / 5 * r.shape.Channels; len(r.leftover) > limit {
		r.leftover = r.leftover[:copy(r.leftover, r.leftover[len(r.leftover)-limit:])]
	}

	want := frames * r.shape.Channels
	out := make([]float32, want)
	n := copy(out, r.leftover)
	r.leftover = r.leftover[:copy(r.leftover, r.leftover[n:])]

	return audio.Buffer{Samples: out, SampleRate: r.shape.SampleRate, Channels: r.shape.Channels}, true
}

// framePacker closes the capture chain: encode, stamp the sequence, wrap in
// a wire packet and hand to the sender.
type framePacker struct {
	host    *protocol.HostID
	kind    protocol.Kind
	encoder encode.Encoder
	send    func(protocol.Packet)
	seq     uint64
}

func (f *framePacker) Push(buf audio.Buffer) {
	data, err := f.encoder.Encode(buf.Samples)
	if err != nil {
		log.Printf("party: %s encode failed: %v", f.kind, err)
		return
	}

	f.seq++
	f.send(protocol.Realtime{
		Host:    *f.host,
		Kind:    f.kind,
		Seq:     f.seq,
		Payload: data,
	})
}
