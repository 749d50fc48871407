// ABOUTME: Unit tests for the linear resampler
// ABOUTME: Tests ratio correctness and phase continuity across chunks
package resample

import (
	"math"
	"testing"
)

func TestResampleRatio(t *testing.T) {
	tests := []struct {
		name      string
		inRate    int
		outRate   int
		channels  int
		inFrames  int
		tolerance int
	}{
		{"44100 to 48000 stereo", 44100, 48000, 2, 4410, 16},
		{"96000 to 48000 stereo", 96000, 48000, 2, 9600, 16},
		{"48000 to 48000 mono", 48000, 48000, 1, 4800, 4},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := New(tt.inRate, tt.outRate, tt.channels)
			input := make([]float32, tt.inFrames*tt.channels)
			output := r.Resample(input)

			wantFrames := tt.inFrames * tt.outRate / tt.inRate
			gotFrames := len(output) / tt.channels
			if diff := gotFrames - wantFrames; diff > tt.tolerance || diff < -tt.tolerance {
				t.Errorf("got %d output frames, want %d±%d", gotFrames, wantFrames, tt.tolerance)
			}
		})
	}
}

func TestResamplePreservesSine(t *testing.T) {
	r := New(44100, 48000, 1)

	input := make([]float32, 4410)
	for i := range input {
		input[i] = float32(math.Sin(2 * math.Pi * 100 * float64(i) / 44100))
	}

	output := r.Resample(input)
	if len(output) == 0 {
		t.Fatal("Resample() returned no output")
	}

	// Linear interpolation of a low-frequency sine stays close to the ideal.
	for i, got := range output {
		tSec := float64(i) / 48000
		want := float32(math.Sin(2 * math.Pi * 100 * tSec))
		if diff := float64(got - want); math.Abs(diff) > 0.05 {
			t.Fatalf("sample %d = %f, want %f", i, got, want)
		}
	}
}

func TestResampleChunkContinuity(t *testing.T) {
	// Feeding one big chunk and two half chunks must agree in length.
	whole := New(44100, 48000, 1)
	split := New(44100, 48000, 1)

	input := make([]float32, 8820)
	wholeOut := whole.Resample(input)
	splitOut := append(split.Resample(input[:4410]), split.Resample(input[4410:])...)

	if diff := len(wholeOut) - len(splitOut); diff > 4 || diff < -4 {
		t.Errorf("whole chunk gave %d samples, split chunks gave %d", len(wholeOut), len(splitOut))
	}
}

func TestResampleEmptyInput(t *testing.T) {
	r := New(44100, 48000, 2)
	if out := r.Resample(nil); len(out) != 0 {
		t.Errorf("Resample(nil) returned %d samples, want 0", len(out))
	}
}
