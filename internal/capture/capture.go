// ABOUTME: Audio capture boundary
// ABOUTME: Capture sources deliver PCM frames into a push pipeline
package capture

import (
	"math"
	"sync/atomic"
	"time"

	"github.com/SuperKenVery/wifi-party-go/pkg/audio"
)

// Source is the platform capture boundary: Start begins delivering PCM
// frames to push from a capture thread; Stop ends delivery. Frame sizes are
// hardware-determined.
type Source interface {
	Start(push func(audio.Buffer)) error
	Stop()
}

// ToneSource generates a sine wave in hardware-sized blocks, standing in for
// a real microphone where no platform backend is wired up.
type ToneSource struct {
	Frequency  float64
	SampleRate int
	Channels   int
	BlockSize  int

	sampleIndex uint64
	stopped     atomic.Bool
	done        chan struct{}
}

// NewToneSource creates a 440 Hz stereo test tone at 48 kHz.
func NewToneSource() *ToneSource {
	return &ToneSource{
		Frequency:  440.0, // A4
		SampleRate: 48000,
		Channels:   2,
		BlockSize:  480,
	}
}

// Start delivers blocks at real-time pace from a dedicated thread.
func (s *ToneSource) Start(push func(audio.Buffer)) error {
	s.done = make(chan struct{})
	interval := time.Duration(s.BlockSize) * time.Second / time.Duration(s.SampleRate)

	go func() {
		defer close(s.done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for !s.stopped.Load() {
			<-ticker.C
			push(s.block())
		}
	}()

	return nil
}

func (s *ToneSource) block() audio.Buffer {
	samples := make([]float32, s.BlockSize*s.Channels)
	for i := 0; i < s.BlockSize; i++ {
		t := float64(s.sampleIndex+uint64(i)) / float64(s.SampleRate)
		v := float32(0.5 * math.Sin(2*math.Pi*s.Frequency*t))
		for ch := 0; ch < s.Channels; ch++ {
			samples[i*s.Channels+ch] = v
		}
	}
	s.sampleIndex += uint64(s.BlockSize)

	return audio.Buffer{
		Samples:    samples,
		SampleRate: s.SampleRate,
		Channels:   s.Channels,
	}
}

// Stop ends delivery and waits for the capture thread to exit.
func (s *ToneSource) Stop() {
	if s.stopped.CompareAndSwap(false, true) && s.done != nil {
		<-s.done
	}
}
