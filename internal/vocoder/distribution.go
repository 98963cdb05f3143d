package vocoder

import (
	"fmt"
	"math"
	"math/rand"

	"github.com/example/go-wavernn/internal/runtime/tensor"
)

// Distribution is the tagged result of one generator step: either
// *Categorical or *MixtureOfLogistics.
type Distribution interface {
	mode() Mode
}

// Categorical is a probability distribution over RAW quantization levels.
// Probs need not be normalized but must be finite and non-negative.
type Categorical struct {
	Probs []float32
}

func (*Categorical) mode() Mode { return ModeRaw }

// MixtureOfLogistics holds per-component mixture logits, means and log
// scales for MOL mode.
type MixtureOfLogistics struct {
	Logits    []float32
	Means     []float32
	LogScales []float32
}

func (*MixtureOfLogistics) mode() Mode { return ModeMOL }

// logScaleMin is ln(1e-14), the floor applied to MOL log scales.
var logScaleMin = math.Log(1e-14)

// DistributionFromLogits converts a raw output head into a Distribution.
// RAW applies a softmax; MOL splits [logits | means | log_scales].
func DistributionFromLogits(mode Mode, logits []float32, mixtures int) (Distribution, error) {
	switch mode {
	case ModeRaw:
		probs := append([]float32(nil), logits...)
		if err := tensor.SoftmaxInPlace(probs); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrGeneratorFailure, err)
		}

		return &Categorical{Probs: probs}, nil
	case ModeMOL:
		if mixtures < 1 || len(logits) != 3*mixtures {
			return nil, generatorFailuref("MOL head has %d values, want 3x%d", len(logits), mixtures)
		}

		return &MixtureOfLogistics{
			Logits:    logits[:mixtures],
			Means:     logits[mixtures : 2*mixtures],
			LogScales: logits[2*mixtures:],
		}, nil
	default:
		return nil, configErrorf("voc_mode", "unknown mode %q", mode)
	}
}

// sampler turns distributions into samples for one segment. Each segment
// owns its sampler so results do not depend on scheduling.
type sampler struct {
	mode          Mode
	codec         Codec
	rng           *rand.Rand
	deterministic bool
}

func newSampler(cfg Config, segment int) *sampler {
	return &sampler{
		mode:          cfg.Mode,
		codec:         NewCodec(cfg),
		rng:           rand.New(rand.NewSource(segmentSeed(cfg.Seed, segment))),
		deterministic: cfg.Deterministic,
	}
}

func segmentSeed(seed int64, segment int) int64 {
	return int64(uint64(seed) + uint64(segment+1)*0x9E3779B97F4A7C15)
}

// sample returns the output sample and the value fed back into the
// generator at the next step.
func (s *sampler) sample(d Distribution) (out, feedback float32, err error) {
	switch d := d.(type) {
	case *Categorical:
		if s.mode != ModeRaw {
			return 0, 0, generatorFailuref("categorical output in %s mode", s.mode)
		}

		level, err := s.sampleCategorical(d)
		if err != nil {
			return 0, 0, err
		}

		return s.codec.Decode(level), s.codec.Dequantize(level), nil
	case *MixtureOfLogistics:
		if s.mode != ModeMOL {
			return 0, 0, generatorFailuref("mixture output in %s mode", s.mode)
		}

		x, err := s.sampleMixture(d)
		if err != nil {
			return 0, 0, err
		}

		return x, x, nil
	case nil:
		return 0, 0, generatorFailuref("nil distribution")
	default:
		return 0, 0, generatorFailuref("unsupported distribution %T", d)
	}
}

func (s *sampler) sampleCategorical(d *Categorical) (int, error) {
	if len(d.Probs) != s.codec.Levels() {
		return 0, generatorFailuref("categorical has %d levels, want %d", len(d.Probs), s.codec.Levels())
	}

	var sum float64

	best := 0

	for i, p := range d.Probs {
		v := float64(p)
		if math.IsNaN(v) || math.IsInf(v, 0) || v < 0 {
			return 0, generatorFailuref("probability %d is %v", i, p)
		}

		if p > d.Probs[best] {
			best = i
		}

		sum += v
	}

	if sum <= 0 || math.IsInf(sum, 0) {
		return 0, generatorFailuref("probabilities sum to %v", sum)
	}

	if s.deterministic {
		return best, nil
	}

	u := s.rng.Float64() * sum

	var acc float64

	for i, p := range d.Probs {
		acc += float64(p)
		if u < acc {
			return i, nil
		}
	}

	// Rounding left u at the very top; take the last level with mass.
	for i := len(d.Probs) - 1; i >= 0; i-- {
		if d.Probs[i] > 0 {
			return i, nil
		}
	}

	return best, nil
}

func (s *sampler) sampleMixture(d *MixtureOfLogistics) (float32, error) {
	n := len(d.Logits)
	if n == 0 || len(d.Means) != n || len(d.LogScales) != n {
		return 0, generatorFailuref("mixture sizes logits=%d means=%d log_scales=%d",
			len(d.Logits), len(d.Means), len(d.LogScales))
	}

	for i := range n {
		for _, v := range [...]float32{d.Logits[i], d.Means[i], d.LogScales[i]} {
			if math.IsNaN(float64(v)) || math.IsInf(float64(v), 0) {
				return 0, generatorFailuref("mixture component %d is not finite", i)
			}
		}
	}

	var k int

	if s.deterministic {
		for i := 1; i < n; i++ {
			if d.Logits[i] > d.Logits[k] {
				k = i
			}
		}

		return float32(clamp(float64(d.Means[k]), -1, 1)), nil
	}

	// Gumbel-max picks the component.
	bestScore := math.Inf(-1)

	for i := range n {
		u := uniformOpen(s.rng)

		score := float64(d.Logits[i]) - math.Log(-math.Log(u))
		if score > bestScore {
			bestScore, k = score, i
		}
	}

	logScale := math.Max(float64(d.LogScales[k]), logScaleMin)
	u := uniformOpen(s.rng)
	x := float64(d.Means[k]) + math.Exp(logScale)*(math.Log(u)-math.Log1p(-u))

	return float32(clamp(x, -1, 1)), nil
}

// uniformOpen draws from [1e-5, 1-1e-5].
func uniformOpen(rng *rand.Rand) float64 {
	const eps = 1e-5
	return eps + (1-2*eps)*rng.Float64()
}
