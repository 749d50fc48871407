// ABOUTME: Push-side effect nodes
// ABOUTME: Level meter, gain, switch and tee for capture pipelines
package pipeline

import (
	"github.com/SuperKenVery/wifi-party-go/internal/state"
	"github.com/SuperKenVery/wifi-party-go/pkg/audio"
)

// LevelMeter updates a shared atomic level from each frame that passes
// through. It never mutates samples.
type LevelMeter struct {
	level *state.F32Cell
	next  Pusher
}

// NewLevelMeter creates a level meter ahead of next.
func NewLevelMeter(level *state.F32Cell, next Pusher) *LevelMeter {
	return &LevelMeter{level: level, next: next}
}

func (m *LevelMeter) Push(buf audio.Buffer) {
	m.level.Set(audio.RMSLevel(buf.Samples))
	m.next.Push(buf)
}

// Gain multiplies samples by a shared gain factor and soft-clips the result.
type Gain struct {
	gain *state.F32Cell
	next Pusher
}

// NewGain creates a gain stage ahead of next.
func NewGain(gain *state.F32Cell, next Pusher) *Gain {
	return &Gain{gain: gain, next: next}
}

func (g *Gain) Push(buf audio.Buffer) {
	factor := g.gain.Get()
	if factor != 1.0 {
		for i, s := range buf.Samples {
			buf.Samples[i] = audio.SoftClip(s * factor)
		}
	}
	g.next.Push(buf)
}

// Switch passes frames through when enabled and substitutes silence of the
// same shape when disabled, so downstream timing never changes.
type Switch struct {
	enabled *state.BoolCell
	next    Pusher
}

// NewSwitch creates a push switch ahead of next.
func NewSwitch(enabled *state.BoolCell, next Pusher) *Switch {
	return &Switch{enabled: enabled, next: next}
}

func (s *Switch) Push(buf audio.Buffer) {
	if !s.enabled.Get() {
		buf = audio.Silence(buf.Frames(), buf.SampleRate, buf.Channels)
	}
	s.next.Push(buf)
}

// PullSwitch gates a pull source: disabled means None for the pull chain to
// propagate.
type PullSwitch struct {
	enabled *state.BoolCell
	src     Puller
}

// NewPullSwitch wraps src with an enable gate.
func NewPullSwitch(enabled *state.BoolCell, src Puller) *PullSwitch {
	return &PullSwitch{enabled: enabled, src: src}
}

func (s *PullSwitch) Pull(frames int) (audio.Buffer, bool) {
	if !s.enabled.Get() {
		return audio.Buffer{}, false
	}
	return s.src.Pull(frames)
}

// Tee forwards the same frame to each successor, cloning only when there is
// more than one.
type Tee struct {
	sinks []Pusher
}

// NewTee creates a tee over the given successors.
func NewTee(sinks ...Pusher) *Tee {
	return &Tee{sinks: sinks}
}

func (t *Tee) Push(buf audio.Buffer) {
	for i, sink := range t.sinks {
		if i < len(t.sinks)-1 {
			sink.Push(buf.Clone())
		} else {
			sink.Push(buf)
		}
	}
}
