package audio

import (
	"math"

	"github.com/cwbudde/algo-dsp/dsp/filter/biquad"
)

// DCBlockCutoffHz is the corner frequency of DCBlock.
const DCBlockCutoffHz = 20.0

// PeakNormalize scales samples in place so the peak amplitude reaches 1.0.
// Silence is returned unchanged.
func PeakNormalize(samples []float32) []float32 {
	var peak float32
	for _, s := range samples {
		peak = max(peak, float32(math.Abs(float64(s))))
	}

	if peak == 0 {
		return samples
	}

	gain := 1 / peak
	for i := range samples {
		samples[i] *= gain
	}

	return samples
}

// DCBlockCoefficients designs the first-order DC blocker
// H(z) = (1 - z^-1) / (1 - R z^-1) with R = exp(-2*pi*fc/sr).
func DCBlockCoefficients(sampleRate int) biquad.Coefficients {
	r := math.Exp(-2 * math.Pi * DCBlockCutoffHz / float64(sampleRate))

	return biquad.Coefficients{B0: 1, B1: -1, A1: -r}
}

// DCBlock removes DC offset in place with a first-order high-pass filter.
func DCBlock(samples []float32, sampleRate int) []float32 {
	if sampleRate < 1 || len(samples) == 0 {
		return samples
	}

	buf := make([]float64, len(samples))
	for i, s := range samples {
		buf[i] = float64(s)
	}

	biquad.NewSection(DCBlockCoefficients(sampleRate)).ProcessBlock(buf)

	for i, y := range buf {
		samples[i] = float32(y)
	}

	return samples
}

// FadeIn applies a linear fade-in ramp over the given duration in milliseconds.
func FadeIn(samples []float32, sampleRate int, ms float64) []float32 {
	n := min(msToSamples(sampleRate, ms), len(samples))
	for i := range n {
		samples[i] *= float32(i) / float32(n)
	}

	return samples
}

// FadeOut applies a linear fade-out ramp over the given duration in milliseconds.
func FadeOut(samples []float32, sampleRate int, ms float64) []float32 {
	FadeOutSamples(samples, msToSamples(sampleRate, ms))
	return samples
}

// FadeOutSamples multiplies the last n samples in place by a linear ramp
// from 1 down to 0, so the final sample is silent.
func FadeOutSamples(samples []float32, n int) {
	n = min(n, len(samples))
	if n <= 0 {
		return
	}

	if n == 1 {
		samples[len(samples)-1] = 0
		return
	}

	start := len(samples) - n
	for i := range n {
		samples[start+i] *= float32(n-1-i) / float32(n-1)
	}
}

func msToSamples(sampleRate int, ms float64) int {
	if sampleRate < 1 || ms <= 0 {
		return 0
	}

	return int(ms / 1000 * float64(sampleRate))
}
