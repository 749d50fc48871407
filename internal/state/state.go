// ABOUTME: Shared application state
// ABOUTME: Host roster, per-source controls and counters read by the UI
package state

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/SuperKenVery/wifi-party-go/internal/protocol"
	"github.com/google/uuid"
)

// StreamStats is one realtime stream's health, published for the UI.
type StreamStats struct {
	Kind            string
	LossPercent     float64
	TargetLatencyMs uint64
	DepthMs         uint64
	Level           float32
}

// HostInfo is an immutable roster snapshot entry.
type HostInfo struct {
	ID       protocol.HostID
	LastSeen time.Time
	Volume   float32
	Enabled  bool
	Streams  []StreamStats
}

// HostEntry is the live roster record for one peer. Volume and Enabled are
// atomic cells written by the UI and read by the audio path; last-seen is
// written by the network thread.
type HostEntry struct {
	Volume  *F32Cell
	Enabled *BoolCell

	mu       sync.Mutex
	lastSeen time.Time
}

// TouchSeen records packet arrival from this host.
func (e *HostEntry) TouchSeen() {
	e.mu.Lock()
	e.lastSeen = time.Now()
	e.mu.Unlock()
}

// LastSeen returns the most recent packet arrival time.
func (e *HostEntry) LastSeen() time.Time {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.lastSeen
}

// MusicProgress tracks the locally originated music stream for the UI.
type MusicProgress struct {
	title       atomic.Pointer[string]
	TotalFrames atomic.Uint64
	SentFrames  atomic.Uint64
	Streaming   atomic.Bool
}

// SetTitle publishes the stream title.
func (p *MusicProgress) SetTitle(title string) {
	p.title.Store(&title)
}

// Title returns the stream title, empty when idle.
func (p *MusicProgress) Title() string {
	if t := p.title.Load(); t != nil {
		return *t
	}
	return ""
}

// AppState is shared between the network threads, the audio threads and the
// UI. Scalar controls are atomic cells; the roster sits behind a short-held
// mutex that is never taken on the audio callback path (the audio path only
// reads the per-host cells it captured at chain creation).
type AppState struct {
	InstanceID uuid.UUID
	LocalHost  protocol.HostID

	MicEnabled      *BoolCell
	SystemEnabled   *BoolCell
	LoopbackEnabled *BoolCell
	RealtimeOut     *BoolCell
	SyncedOut       *BoolCell

	MicLevel    *F32Cell
	SystemLevel *F32Cell

	Music MusicProgress

	// Drop-and-count counters surfaced in the UI.
	PacketsReceived  atomic.Uint64
	MalformedPackets atomic.Uint64
	HostMismatches   atomic.Uint64

	mu       sync.Mutex
	hosts    map[protocol.HostID]*HostEntry
	snapshot atomic.Pointer[[]HostInfo]
}

// New creates application state with default controls.
func New() *AppState {
	s := &AppState{
		InstanceID:      uuid.New(),
		MicEnabled:      NewBoolCell(true),
		SystemEnabled:   NewBoolCell(false),
		LoopbackEnabled: NewBoolCell(false),
		RealtimeOut:     NewBoolCell(true),
		SyncedOut:       NewBoolCell(true),
		MicLevel:        NewF32Cell(0),
		SystemLevel:     NewF32Cell(0),
		hosts:           make(map[protocol.HostID]*HostEntry),
	}
	empty := []HostInfo{}
	s.snapshot.Store(&empty)
	return s
}

// Host returns the roster entry for a peer, creating it on first packet.
func (s *AppState) Host(id protocol.HostID) *HostEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.hosts[id]
	if !ok {
		entry = &HostEntry{
			Volume:   NewF32Cell(1.0),
			Enabled:  NewBoolCell(true),
			lastSeen: time.Now(),
		}
		s.hosts[id] = entry
	}
	return entry
}

// Hosts returns a copy of the live roster.
func (s *AppState) Hosts() map[protocol.HostID]*HostEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[protocol.HostID]*HostEntry, len(s.hosts))
	for id, e := range s.hosts {
		out[id] = e
	}
	return out
}

// RemoveHost drops a peer from the roster. Called by housekeeping once the
// host timed out and its decode chains are gone.
func (s *AppState) RemoveHost(id protocol.HostID) {
	s.mu.Lock()
	delete(s.hosts, id)
	s.mu.Unlock()
}

// PublishSnapshot stores an immutable roster view for the UI.
func (s *AppState) PublishSnapshot(infos []HostInfo) {
	s.snapshot.Store(&infos)
}

// Snapshot returns the latest published roster view.
func (s *AppState) Snapshot() []HostInfo {
	return *s.snapshot.Load()
}
