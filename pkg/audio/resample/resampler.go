// ABOUTME: Simple linear resampler for converting audio sample rates
// ABOUTME: Used to coerce decoder output to the mixer's target rate
package resample

// Resampler performs linear interpolation to convert between sample rates.
// State carries across chunks so consecutive calls stay phase-continuous.
type Resampler struct {
	inputRate  int
	outputRate int
	channels   int
	ratio      float64
	position   float64
}

// New creates a new resampler.
func New(inputRate, outputRate, channels int) *Resampler {
	return &Resampler{
		inputRate:  inputRate,
		outputRate: outputRate,
		channels:   channels,
		ratio:      float64(inputRate) / float64(outputRate),
	}
}

// Resample converts interleaved input samples at the input rate into a new
// interleaved slice at the output rate.
func (r *Resampler) Resample(input []float32) []float32 {
	if len(input) == 0 {
		return nil
	}

	inputFrames := len(input) / r.channels
	outputFrames := int(float64(inputFrames) / r.ratio)
	output := make([]float32, 0, outputFrames*r.channels)

	for {
		inputIdx := int(r.position)
		if inputIdx >= inputFrames-1 {
			break
		}
		frac := float32(r.position - float64(inputIdx))

		for ch := 0; ch < r.channels; ch++ {
			s1 := input[inputIdx*r.channels+ch]
			s2 := input[(inputIdx+1)*r.channels+ch]
			output = append(output, s1*(1.0-frac)+s2*frac)
		}

		r.position += r.ratio
	}

	// Keep only the fractional part for the next chunk.
	r.position -= float64(int(r.position))

	return output
}

// Reset clears interpolation state.
func (r *Resampler) Reset() {
	r.position = 0.0
}
