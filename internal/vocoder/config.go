package vocoder

import (
	"fmt"
	"strings"
)

// Mode selects the output head of the sample generator.
type Mode string

const (
	// ModeRaw is a categorical distribution over 2^bits quantization levels.
	ModeRaw Mode = "RAW"
	// ModeMOL is a continuous mixture of logistic distributions.
	ModeMOL Mode = "MOL"
)

// ParseMode accepts RAW or MOL in any case.
func ParseMode(raw string) (Mode, error) {
	switch Mode(strings.ToUpper(strings.TrimSpace(raw))) {
	case ModeRaw:
		return ModeRaw, nil
	case ModeMOL:
		return ModeMOL, nil
	default:
		return "", configErrorf("voc_mode", "unknown mode %q (want RAW|MOL)", raw)
	}
}

const maxBits = 16

// Config is the immutable set of hyperparameters threaded through the
// planner, runner and codec for one engine.
type Config struct {
	SampleRate      int
	HopLength       int
	NumMels         int
	UpsampleFactors []int

	Mode     Mode
	Bits     int
	MuLaw    bool
	Mixtures int

	// Batched enables segment splitting. When false the whole input is one
	// segment with no overlap.
	Batched bool
	// Target is the number of new output samples per segment.
	Target int
	// Overlap is the number of samples shared by neighbouring segments.
	Overlap int
	// Pad is the number of context frames on each side of a segment window.
	Pad int
	// BatchWidth bounds how many segments advance concurrently.
	BatchWidth int

	Seed          int64
	Deterministic bool
	// FadeOutHops applies a linear fade over the last FadeOutHops*HopLength
	// samples of the waveform. Zero disables it.
	FadeOutHops int

	// MaxSegments and MaxSamples cap a single run. Zero means unlimited.
	MaxSegments int
	MaxSamples  int
}

// DefaultConfig returns the WaveRNN defaults (22.05 kHz, hop 275, 9-bit
// mu-law RAW, batched 11000/550).
func DefaultConfig() Config {
	return Config{
		SampleRate:      22050,
		HopLength:       275,
		NumMels:         80,
		UpsampleFactors: []int{5, 5, 11},
		Mode:            ModeRaw,
		Bits:            9,
		MuLaw:           true,
		Mixtures:        10,
		Batched:         true,
		Target:          11000,
		Overlap:         550,
		Pad:             2,
		BatchWidth:      4,
		Seed:            1,
		FadeOutHops:     20,
	}
}

// Clone returns a deep copy.
func (c Config) Clone() Config {
	c.UpsampleFactors = append([]int(nil), c.UpsampleFactors...)
	return c
}

// Levels returns the number of quantization levels for RAW mode.
func (c Config) Levels() int {
	return 1 << c.Bits
}

// OutputDims returns the width of the generator's output head.
func (c Config) OutputDims() int {
	if c.Mode == ModeMOL {
		return 3 * c.Mixtures
	}

	return c.Levels()
}

// Validate rejects inconsistent configurations with a *ConfigError.
func (c Config) Validate() error {
	if c.SampleRate < 1 {
		return configErrorf("sample_rate", "must be >= 1, got %d", c.SampleRate)
	}

	if c.HopLength < 1 {
		return configErrorf("hop_length", "must be >= 1, got %d", c.HopLength)
	}

	if c.NumMels < 1 {
		return configErrorf("num_mels", "must be >= 1, got %d", c.NumMels)
	}

	if len(c.UpsampleFactors) == 0 {
		return configErrorf("upsample_factors", "must not be empty")
	}

	product := 1
	for i, f := range c.UpsampleFactors {
		if f < 1 {
			return configErrorf("upsample_factors", "factor %d is %d, must be positive", i, f)
		}

		product *= f
	}

	if product != c.HopLength {
		return configErrorf("upsample_factors", "product %d (%s) does not equal hop_length %d",
			product, formatFactors(c.UpsampleFactors), c.HopLength)
	}

	switch c.Mode {
	case ModeRaw:
		if c.Bits < 1 || c.Bits > maxBits {
			return configErrorf("bits", "must be in [1, %d], got %d", maxBits, c.Bits)
		}
	case ModeMOL:
		if c.Mixtures < 1 {
			return configErrorf("mixtures", "must be >= 1 in MOL mode, got %d", c.Mixtures)
		}
	default:
		return configErrorf("voc_mode", "unknown mode %q (want RAW|MOL)", c.Mode)
	}

	if c.Target < 1 {
		return configErrorf("target", "must be positive, got %d", c.Target)
	}

	if c.Overlap < 0 {
		return configErrorf("overlap", "must not be negative, got %d", c.Overlap)
	}

	if c.Overlap >= c.Target {
		return configErrorf("overlap", "%d must be smaller than target %d", c.Overlap, c.Target)
	}

	if c.Pad < 0 {
		return configErrorf("pad", "must not be negative, got %d", c.Pad)
	}

	if c.BatchWidth < 1 {
		return configErrorf("batch_width", "must be >= 1, got %d", c.BatchWidth)
	}

	if c.FadeOutHops < 0 {
		return configErrorf("fade_out_hops", "must not be negative, got %d", c.FadeOutHops)
	}

	if c.MaxSegments < 0 || c.MaxSamples < 0 {
		return configErrorf("limits", "max_segments/max_samples must not be negative")
	}

	return nil
}

func formatFactors(factors []int) string {
	parts := make([]string, len(factors))
	for i, f := range factors {
		parts[i] = fmt.Sprint(f)
	}

	return strings.Join(parts, "x")
}
