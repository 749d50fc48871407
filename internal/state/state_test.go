// ABOUTME: Unit tests for shared application state
// ABOUTME: Tests roster lifecycle, cells and snapshot publishing
package state

import (
	"net"
	"testing"

	"github.com/SuperKenVery/wifi-party-go/internal/protocol"
)

func TestHostCreatedOnFirstTouch(t *testing.T) {
	s := New()
	id := protocol.HostIDFromIP(net.ParseIP("192.168.1.20"))

	entry := s.Host(id)
	if entry == nil {
		t.Fatal("Host() returned nil")
	}
	if got := entry.Volume.Get(); got != 1.0 {
		t.Errorf("default volume = %f, want 1.0", got)
	}
	if !entry.Enabled.Get() {
		t.Error("default enabled = false, want true")
	}

	// Same entry on second lookup.
	if s.Host(id) != entry {
		t.Error("Host() created a duplicate entry")
	}
	if len(s.Hosts()) != 1 {
		t.Errorf("roster size = %d, want 1", len(s.Hosts()))
	}
}

func TestRemoveHost(t *testing.T) {
	s := New()
	id := protocol.HostIDFromIP(net.ParseIP("10.1.1.1"))
	s.Host(id)
	s.RemoveHost(id)
	if len(s.Hosts()) != 0 {
		t.Errorf("roster size after remove = %d, want 0", len(s.Hosts()))
	}
}

func TestCells(t *testing.T) {
	b := NewBoolCell(false)
	if b.Get() {
		t.Error("initial bool = true")
	}
	if got := b.Toggle(); !got {
		t.Error("Toggle() = false, want true")
	}
	if !b.Get() {
		t.Error("bool after toggle = false")
	}

	f := NewF32Cell(0.5)
	if got := f.Get(); got != 0.5 {
		t.Errorf("f32 = %f, want 0.5", got)
	}
	f.Set(1.75)
	if got := f.Get(); got != 1.75 {
		t.Errorf("f32 = %f, want 1.75", got)
	}
}

func TestSnapshotPublish(t *testing.T) {
	s := New()
	if got := s.Snapshot(); len(got) != 0 {
		t.Fatalf("initial snapshot has %d entries", len(got))
	}

	id := protocol.HostIDFromIP(net.ParseIP("10.0.0.2"))
	s.PublishSnapshot([]HostInfo{{ID: id, Volume: 1.0, Enabled: true}})

	snap := s.Snapshot()
	if len(snap) != 1 || snap[0].ID != id {
		t.Errorf("snapshot = %#v, want the published entry", snap)
	}
}

func TestMusicProgress(t *testing.T) {
	s := New()
	if got := s.Music.Title(); got != "" {
		t.Errorf("idle title = %q, want empty", got)
	}
	s.Music.SetTitle("track.mp3")
	s.Music.TotalFrames.Store(100)
	s.Music.SentFrames.Store(40)
	if got := s.Music.Title(); got != "track.mp3" {
		t.Errorf("title = %q", got)
	}
}
