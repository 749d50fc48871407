// ABOUTME: Per-source jitter buffer with adaptive target latency
// ABOUTME: Slot-indexed reorder buffer shared lock-free between two threads
package jitter

import (
	"log"
	"math"
	"sync/atomic"

	"github.com/SuperKenVery/wifi-party-go/pkg/audio"
)

// Defaults chosen for 5 ms frames: 20 ms initial buffering, 10 ms floor,
// 320 ms ceiling, slots well past the ceiling plus headroom.
const (
	DefaultSlotCount     = 128
	DefaultInitialTarget = 4
	DefaultMinTarget     = 2
	DefaultMaxTarget     = 64

	// Loss-rate EMA and the adaptation triggers.
	lossEMAAlpha  = 0.02
	highLossLevel = 0.05
	lowLossLevel  = 0.01

	// A burst of far-late packets means the sender restarted and its
	// sequence space moved backwards.
	resetThresholdDiff  = 100
	resetThresholdCount = 50
)

// Config bounds the buffer's adaptive behavior.
type Config struct {
	SlotCount     int
	InitialTarget uint64
	MinTarget     uint64
	MaxTarget     uint64
}

// DefaultConfig returns the standard realtime-voice configuration.
func DefaultConfig() Config {
	return Config{
		SlotCount:     DefaultSlotCount,
		InitialTarget: DefaultInitialTarget,
		MinTarget:     DefaultMinTarget,
		MaxTarget:     DefaultMaxTarget,
	}
}

// Result classifies a pull.
type Result int

const (
	// Hit delivered the frame for the current read sequence.
	Hit Result = iota
	// Missing means the packet never arrived; the caller should emit the
	// decoder's concealment output (or silence) in its place.
	Missing
	// Underrun means the reader caught up with the writer; nothing was
	// consumed and the read position did not advance.
	Underrun
	// Warming means the initial buffering delay has not elapsed yet.
	Warming
)

// Counters are the drop-and-count statistics surfaced to the UI.
type Counters struct {
	LateDrops    atomic.Uint64
	ForwardDrops atomic.Uint64
	Concealed    atomic.Uint64
	Underruns    atomic.Uint64
	Clamps       atomic.Uint64
	Resets       atomic.Uint64
}

// slot pairs an occupancy word (the stored sequence) with the buffer
// pointer. The reader validates the pair so a torn write is detected and
// treated as a miss instead of delivering the wrong frame.
type slot struct {
	seq  atomic.Uint64
	data atomic.Pointer[audio.Buffer]
}

// Buffer is a ring of slots indexed by sequence mod slot count.
//
// Exactly one writer (the network thread, via Put) and one reader (the audio
// thread, via Get) touch an instance; all shared state is atomic and neither
// side ever blocks. Missing packets are assumed lost, not delayed: on
// overflow the read position is clamped forward so fresh audio wins over old.
type Buffer struct {
	slots    []slot
	capacity uint64
	cfg      Config

	// readSeq is the next sequence to emit, writeSeq the highest deposited.
	// Invariant: readSeq <= writeSeq+1.
	readSeq  atomic.Uint64
	writeSeq atomic.Uint64

	started atomic.Bool
	playing atomic.Bool

	target     atomic.Uint64
	lossBits   atomic.Uint64
	lateStreak atomic.Uint64

	counters Counters
}

// New creates a jitter buffer. Slot count must exceed the max target plus
// headroom; the config defaults guarantee that.
func New(cfg Config) *Buffer {
	if cfg.SlotCount == 0 {
		cfg = DefaultConfig()
	}
	b := &Buffer{
		slots:    make([]slot, cfg.SlotCount),
		capacity: uint64(cfg.SlotCount),
		cfg:      cfg,
	}
	b.target.Store(cfg.InitialTarget)
	// Start the estimate between the triggers, as after a step, so the
	// target only moves once loss has stayed past a trigger for a while.
	b.lossBits.Store(math.Float64bits((highLossLevel + lowLossLevel) / 2))
	return b
}

// Put deposits a frame. Called only by the network thread.
func (b *Buffer) Put(seq uint64, buf audio.Buffer) {
	if !b.started.Load() {
		b.reset(seq)
	}

	read := b.readSeq.Load()
	write := b.writeSeq.Load()

	// While warming the reader has not started, so an out-of-order packet
	// below the anchor re-anchors the window instead of being dropped.
	if seq < read && !b.playing.Load() {
		b.readSeq.Store(seq)
		read = seq
	}

	// Too late: the reader already passed this sequence.
	if seq < read {
		b.counters.LateDrops.Add(1)
		if read-seq > resetThresholdDiff {
			if b.lateStreak.Add(1) >= resetThresholdCount {
				log.Printf("jitter: sender restart detected (seq=%d read=%d), resetting", seq, read)
				b.counters.Resets.Add(1)
				b.reset(seq)
				b.storeSlot(seq, buf)
			}
		}
		return
	}
	b.lateStreak.Store(0)

	// Too far future: would lap the ring.
	if seq > write+b.capacity {
		b.counters.ForwardDrops.Add(1)
		return
	}

	b.storeSlot(seq, buf)

	if seq > write {
		b.writeSeq.Store(seq)
		write = seq
	}

	// Warming ends once the initial buffering delay has accumulated.
	if !b.playing.Load() && write-b.readSeq.Load()+1 >= b.cfg.InitialTarget {
		b.playing.Store(true)
	}

	b.clampReadSeq(write)
}

func (b *Buffer) storeSlot(seq uint64, buf audio.Buffer) {
	s := &b.slots[seq%b.capacity]
	if existing := s.data.Load(); existing != nil && s.seq.Load() > seq {
		// The slot already holds a newer frame; keep it.
		return
	}
	s.seq.Store(seq)
	s.data.Store(&buf)
}

// reset re-anchors the sequence window at seq. Only the writer calls this.
func (b *Buffer) reset(seq uint64) {
	b.readSeq.Store(seq)
	b.writeSeq.Store(seq)
	b.lateStreak.Store(0)
	b.playing.Store(false)
	b.started.Store(true)
}

// clampReadSeq drags the read position forward when the backlog exceeds the
// target latency. Old audio is expendable in favor of freshness.
func (b *Buffer) clampReadSeq(write uint64) {
	target := b.target.Load()
	for {
		read := b.readSeq.Load()
		if write-read <= target || write < target {
			return
		}
		desired := write - target
		if b.readSeq.CompareAndSwap(read, desired) {
			b.counters.Clamps.Add(1)
			return
		}
	}
}

// Get removes the next frame in sequence order. Called only by the audio
// thread. On Missing the read position still advances and the caller
// substitutes concealment output; on Underrun and Warming it does not move.
func (b *Buffer) Get() (audio.Buffer, Result) {
	if !b.playing.Load() {
		return audio.Buffer{}, Warming
	}

	read := b.readSeq.Load()
	write := b.writeSeq.Load()

	if read > write {
		b.counters.Underruns.Add(1)
		b.recordMiss()
		return audio.Buffer{}, Underrun
	}

	s := &b.slots[read%b.capacity]
	data := s.data.Load()
	if data != nil && s.seq.Load() == read {
		// Claim the frame; a failed swap means the writer replaced the slot
		// under us, which we treat as a miss for this sequence.
		if s.data.CompareAndSwap(data, nil) {
			b.advance(read)
			b.recordHit()
			return *data, Hit
		}
	}

	// Slot empty or holding a different sequence: the packet is lost.
	b.advance(read)
	b.recordMiss()
	b.counters.Concealed.Add(1)
	return audio.Buffer{}, Missing
}

func (b *Buffer) advance(read uint64) {
	// A concurrent clamp may have moved readSeq already; that wins.
	b.readSeq.CompareAndSwap(read, read+1)
}

// Depth returns the current backlog in frames.
func (b *Buffer) Depth() uint64 {
	write := b.writeSeq.Load()
	read := b.readSeq.Load()
	if write < read {
		return 0
	}
	return write - read
}

// TargetLatency returns the current adaptive target in frames.
func (b *Buffer) TargetLatency() uint64 {
	return b.target.Load()
}

// LossRate returns the rolling loss estimate in [0, 1].
func (b *Buffer) LossRate() float64 {
	return math.Float64frombits(b.lossBits.Load())
}

// Stats exposes the drop counters.
func (b *Buffer) Stats() *Counters {
	return &b.counters
}

// Playing reports whether the initial warm-up has completed.
func (b *Buffer) Playing() bool {
	return b.playing.Load()
}

func (b *Buffer) recordHit() {
	loss := b.LossRate() * (1 - lossEMAAlpha)
	b.lossBits.Store(math.Float64bits(loss))
	b.adjustTarget(loss)
}

func (b *Buffer) recordMiss() {
	loss := b.LossRate()*(1-lossEMAAlpha) + lossEMAAlpha
	b.lossBits.Store(math.Float64bits(loss))
	b.adjustTarget(loss)
}

// adjustTarget nudges the target latency: sustained loss above 5% buys one
// more frame of delay, sustained loss below 1% gives one back. The change
// takes effect on the next push that clamps.
func (b *Buffer) adjustTarget(loss float64) {
	target := b.target.Load()
	switch {
	case loss > highLossLevel && target < b.cfg.MaxTarget:
		b.target.CompareAndSwap(target, target+1)
		// Reset the estimate so one spike does not ratchet the target up
		// every pull.
		b.lossBits.Store(math.Float64bits(highLossLevel / 2))
	case loss < lowLossLevel && target > b.cfg.MinTarget:
		b.target.CompareAndSwap(target, target-1)
		b.lossBits.Store(math.Float64bits((highLossLevel + lowLossLevel) / 2))
	}
}
