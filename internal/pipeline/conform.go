// ABOUTME: Shape coercion for mixer inputs
// ABOUTME: Resamples and remaps channels upstream of the mixer
package pipeline

import (
	"github.com/SuperKenVery/wifi-party-go/pkg/audio"
	"github.com/SuperKenVery/wifi-party-go/pkg/audio/resample"
)

// Conform wraps src so its output matches the mixer's (rate, channels)
// target. Same-shape sources are returned unchanged; the wrapper is inserted
// at registration time, keeping the mixer itself shape-agnostic.
func Conform(src Puller, srcRate, srcChannels, dstRate, dstChannels int) Puller {
	if srcRate == dstRate && srcChannels == dstChannels {
		return src
	}
	c := &conformer{
		src:         src,
		srcRate:     srcRate,
		srcChannels: srcChannels,
		dstRate:     dstRate,
		dstChannels: dstChannels,
	}
	if srcRate != dstRate {
		c.resampler = resample.New(srcRate, dstRate, dstChannels)
	}
	return c
}

type conformer struct {
	src         Puller
	srcRate     int
	srcChannels int
	dstRate     int
	dstChannels int
	resampler   *resample.Resampler
	leftover    []float32
}

func (c *conformer) Pull(frames int) (audio.Buffer, bool) {
	want := frames * c.dstChannels

	// Pull source frames until we can fill the request. The source count is
	// scaled by the rate ratio so one upstream pull roughly covers it.
	for len(c.leftover) < want {
		srcFrames := frames * c.srcRate / c.dstRate
		if srcFrames < 1 {
			srcFrames = 1
		}
		buf, ok := c.src.Pull(srcFrames)
		if !ok {
			break
		}

		samples := remapChannels(buf.Samples, c.srcChannels, c.dstChannels)
		if c.resampler != nil {
			samples = c.resampler.Resample(samples)
		}
		if len(samples) == 0 {
			break
		}
		c.leftover = append(c.leftover, samples...)
	}

	if len(c.leftover) == 0 {
		return audio.Buffer{}, false
	}

	out := make([]float32, want)
	n := copy(out, c.leftover)
	c.leftover = c.leftover[:copy(c.leftover, c.leftover[n:])]

	return audio.Buffer{
		Samples:    out,
		SampleRate: c.dstRate,
		Channels:   c.dstChannels,
	}, true
}

// remapChannels converts between mono and stereo interleaving. Stereo to
// mono averages; mono to stereo duplicates.
func remapChannels(samples []float32, from, to int) []float32 {
	if from == to {
		return samples
	}
	switch {
	case from == 1 && to == 2:
		out := make([]float32, len(samples)*2)
		for i, s := range samples {
			out[i*2] = s
			out[i*2+1] = s
		}
		return out
	case from == 2 && to == 1:
		out := make([]float32, len(samples)/2)
		for i := range out {
			out[i] = (samples[i*2] + samples[i*2+1]) / 2
		}
		return out
	default:
		return samples
	}
}
