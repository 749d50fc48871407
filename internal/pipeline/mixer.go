// ABOUTME: Pull-side mixer
// ABOUTME: Sums a dynamic set of pull sources into fixed-shape output frames
package pipeline

import (
	"sync"
	"sync/atomic"

	"github.com/SuperKenVery/wifi-party-go/pkg/audio"
)

// InputID identifies a registered mixer input for later removal.
type InputID uint64

type mixerInput struct {
	id  InputID
	src Puller
}

// Mixer pulls one frame from each registered input, sums sample-wise and
// soft-clips. Inputs that return nothing contribute silence, and the output
// always has exactly the requested frame count.
//
// The input set is copy-on-write: the audio thread loads an immutable slice
// through an atomic pointer and never takes a lock. Registration happens on
// the network or UI thread.
type Mixer struct {
	sampleRate int
	channels   int
	inputs     atomic.Pointer[[]mixerInput]
	mu         sync.Mutex // writers only
	nextID     atomic.Uint64
}

// NewMixer creates a mixer with the target output shape.
func NewMixer(sampleRate, channels int) *Mixer {
	m := &Mixer{sampleRate: sampleRate, channels: channels}
	empty := []mixerInput{}
	m.inputs.Store(&empty)
	return m
}

// AddInput registers a pull source. Sources whose shape differs from the
// mixer target must be wrapped with Conform before registration.
func (m *Mixer) AddInput(src Puller) InputID {
	id := InputID(m.nextID.Add(1))

	m.mu.Lock()
	defer m.mu.Unlock()
	old := *m.inputs.Load()
	next := make([]mixerInput, len(old)+1)
	copy(next, old)
	next[len(old)] = mixerInput{id: id, src: src}
	m.inputs.Store(&next)
	return id
}

// RemoveInput deregisters a source. Returns false if the id is unknown.
func (m *Mixer) RemoveInput(id InputID) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	old := *m.inputs.Load()
	next := make([]mixerInput, 0, len(old))
	found := false
	for _, in := range old {
		if in.id == id {
			found = true
			continue
		}
		next = append(next, in)
	}
	if found {
		m.inputs.Store(&next)
	}
	return found
}

// InputCount returns the number of registered inputs.
func (m *Mixer) InputCount() int {
	return len(*m.inputs.Load())
}

// Pull mixes one output frame. The result always has frames*channels
// samples; with every input absent it is pure silence.
func (m *Mixer) Pull(frames int) (audio.Buffer, bool) {
	inputs := *m.inputs.Load()
	mixed := make([]float32, frames*m.channels)

	for _, in := range inputs {
		buf, ok := in.src.Pull(frames)
		if !ok {
			continue
		}
		n := len(buf.Samples)
		if n > len(mixed) {
			n = len(mixed)
		}
		for i := 0; i < n; i++ {
			mixed[i] += buf.Samples[i]
		}
	}

	for i, s := range mixed {
		mixed[i] = audio.SoftClip(s)
	}

	return audio.Buffer{
		Samples:    mixed,
		SampleRate: m.sampleRate,
		Channels:   m.channels,
	}, true
}
