package audio

import (
	"math"

	"github.com/cwbudde/algo-dsp/dsp/filter/biquad"
	"github.com/cwbudde/algo-dsp/dsp/filter/design"
)

// dcCutoffHz is the corner frequency of the DC blocking filter.
const dcCutoffHz = 20.0

// PeakNormalize scales samples so the peak amplitude reaches 1.0. Silence
// is returned unchanged.
func PeakNormalize(samples []float32) []float32 {
	var peak float64
	for _, s := range samples {
		peak = math.Max(peak, math.Abs(float64(s)))
	}
	if peak == 0 {
		return samples
	}

	gain := 1 / peak
	for i, s := range samples {
		samples[i] = float32(float64(s) * gain)
	}

	return samples
}

// DCBlock removes DC offset from samples with a second-order Butterworth
// high-pass at dcCutoffHz. Rates too low for the cutoff leave samples as
// they are.
func DCBlock(samples []float32, sampleRate int) []float32 {
	if len(samples) == 0 || sampleRate <= 0 {
		return samples
	}

	c := design.Highpass(dcCutoffHz, 1/math.Sqrt2, float64(sampleRate))
	if c == (biquad.Coefficients{}) {
		return samples
	}

	hp := biquad.NewSection(c)
	for i, s := range samples {
		samples[i] = float32(hp.ProcessSample(float64(s)))
	}

	return samples
}

func fadeLength(n, sampleRate int, ms float64) int {
	if sampleRate <= 0 || ms <= 0 {
		return 0
	}

	return min(n, int(ms/1000*float64(sampleRate)))
}

// FadeIn applies a linear fade-in ramp over the given duration in milliseconds.
func FadeIn(samples []float32, sampleRate int, ms float64) []float32 {
	n := fadeLength(len(samples), sampleRate, ms)
	for i := 0; i < n; i++ {
		samples[i] *= float32(i) / float32(n)
	}

	return samples
}

// FadeOut applies a linear fade-out ramp over the given duration in milliseconds.
func FadeOut(samples []float32, sampleRate int, ms float64) []float32 {
	n := fadeLength(len(samples), sampleRate, ms)
	start := len(samples) - n
	for i := 0; i < n; i++ {
		samples[start+i] *= float32(n-1-i) / float32(n)
	}

	return samples
}
