// ABOUTME: Unit tests for the Opus decoder
// ABOUTME: Tests encode/decode round trip, tone preservation and PLC
package decode

import (
	"math"
	"testing"

	"github.com/SuperKenVery/wifi-party-go/pkg/audio"
	"github.com/SuperKenVery/wifi-party-go/pkg/audio/encode"
)

func opusFormat() audio.Format {
	return audio.Format{Codec: audio.CodecOpus, SampleRate: 48000, Channels: 2}
}

// goertzel measures the power of one frequency bin in a mono signal.
func goertzel(samples []float64, freq, sampleRate float64) float64 {
	w := 2 * math.Pi * freq / sampleRate
	coeff := 2 * math.Cos(w)
	var s0, s1, s2 float64
	for _, x := range samples {
		s0 = x + coeff*s1 - s2
		s2 = s1
		s1 = s0
	}
	return s1*s1 + s2*s2 - coeff*s1*s2
}

func TestOpusRoundTripPreservesTone(t *testing.T) {
	format := opusFormat()

	enc, err := encode.NewOpus(format)
	if err != nil {
		t.Fatalf("NewOpus encoder failed: %v", err)
	}
	defer enc.Close()

	dec, err := NewOpus(format)
	if err != nil {
		t.Fatalf("NewOpus decoder failed: %v", err)
	}
	defer dec.Close()

	frameSize := enc.FrameSize()
	var decoded []float64
	sampleIndex := 0

	// 100 frames of a 440 Hz sine.
	for f := 0; f < 100; f++ {
		samples := make([]float32, frameSize*2)
		for i := 0; i < frameSize; i++ {
			v := float32(0.5 * math.Sin(2*math.Pi*440*float64(sampleIndex)/48000))
			samples[i*2] = v
			samples[i*2+1] = v
			sampleIndex++
		}

		packet, err := enc.Encode(samples)
		if err != nil {
			t.Fatalf("Encode() failed at frame %d: %v", f, err)
		}
		if len(packet) == 0 || len(packet) > 1200 {
			t.Fatalf("Encode() packet size %d outside (0, 1200]", len(packet))
		}

		pcm, err := dec.Decode(packet)
		if err != nil {
			t.Fatalf("Decode() failed at frame %d: %v", f, err)
		}
		// Left channel only, skipping codec warm-up.
		if f >= 10 {
			for i := 0; i+1 < len(pcm); i += 2 {
				decoded = append(decoded, float64(pcm[i]))
			}
		}
	}

	if len(decoded) == 0 {
		t.Fatal("no decoded samples collected")
	}

	// The 440 Hz bin must dominate its 10 Hz neighbors and two far bins.
	at440 := goertzel(decoded, 440, 48000)
	for _, off := range []float64{430, 450, 880, 220} {
		if other := goertzel(decoded, off, 48000); other >= at440 {
			t.Errorf("bin %f Hz power %g >= 440 Hz power %g", off, other, at440)
		}
	}
}

func TestOpusConcealProducesFrame(t *testing.T) {
	format := opusFormat()

	enc, err := encode.NewOpus(format)
	if err != nil {
		t.Fatalf("NewOpus encoder failed: %v", err)
	}
	defer enc.Close()

	dec, err := NewOpus(format)
	if err != nil {
		t.Fatalf("NewOpus decoder failed: %v", err)
	}
	defer dec.Close()

	// Prime the decoder with a couple of real frames first.
	frameSize := enc.FrameSize()
	for f := 0; f < 4; f++ {
		samples := make([]float32, frameSize*2)
		for i := range samples {
			samples[i] = float32(0.3 * math.Sin(2*math.Pi*330*float64(i)/48000))
		}
		packet, err := enc.Encode(samples)
		if err != nil {
			t.Fatalf("Encode() failed: %v", err)
		}
		if _, err := dec.Decode(packet); err != nil {
			t.Fatalf("Decode() failed: %v", err)
		}
	}

	concealer := dec.(Concealer)
	pcm, err := concealer.Conceal(frameSize)
	if err != nil {
		t.Fatalf("Conceal() failed: %v", err)
	}
	if len(pcm) != frameSize*2 {
		t.Errorf("Conceal() returned %d samples, want %d", len(pcm), frameSize*2)
	}
}

func TestOpusDecodeEmptyFails(t *testing.T) {
	dec, err := NewOpus(opusFormat())
	if err != nil {
		t.Fatalf("NewOpus decoder failed: %v", err)
	}
	defer dec.Close()

	if _, err := dec.Decode(nil); err == nil {
		t.Error("Decode(empty) expected error, got nil")
	}
}
