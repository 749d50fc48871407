// ABOUTME: Pipeline graph primitives
// ABOUTME: Push and pull node contracts for the audio processing graph
package pipeline

import "github.com/SuperKenVery/wifi-party-go/pkg/audio"

// Pusher accepts a frame from its upstream producer. Terminals (network
// sender, SPSC push) accept but do not return data.
type Pusher interface {
	Push(buf audio.Buffer)
}

// Puller supplies a frame of the requested length on demand, or reports
// underrun. frames counts sample frames, not interleaved samples.
type Puller interface {
	Pull(frames int) (audio.Buffer, bool)
}

// PushFunc adapts a function to the Pusher interface.
type PushFunc func(audio.Buffer)

func (f PushFunc) Push(buf audio.Buffer) { f(buf) }

// PullFunc adapts a function to the Puller interface.
type PullFunc func(frames int) (audio.Buffer, bool)

func (f PullFunc) Pull(frames int) (audio.Buffer, bool) { return f(frames) }

// Pipelines are built bottom-up: every constructor takes its already-built
// downstream node, so a node can never be pointed back at an ancestor and the
// graph is acyclic by construction. The hot path is a straight chain of
// calls fixed at startup; nothing does per-frame lookups.
