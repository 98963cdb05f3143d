package vocoder

import "math"

// Codec maps samples in [-1, 1] to RAW quantization levels and back.
// In MOL mode it is unused.
type Codec struct {
	levels int
	muLaw  bool
}

// NewCodec builds the codec for cfg's bits and mu-law setting.
func NewCodec(cfg Config) Codec {
	return Codec{levels: cfg.Levels(), muLaw: cfg.MuLaw}
}

// Levels returns 2^bits.
func (c Codec) Levels() int { return c.levels }

// MuLaw reports whether companding is applied.
func (c Codec) MuLaw() bool { return c.muLaw }

func (c Codec) mu() float64 { return float64(c.levels - 1) }

// Encode compands (when enabled) and quantizes x to a level in
// [0, Levels()-1]. Used for training data and round-trip checks only.
func (c Codec) Encode(x float32) int {
	v := clamp(float64(x), -1, 1)
	if c.muLaw {
		v = MuLawCompress(v, c.mu())
	}

	level := int(math.Round((v + 1) / 2 * float64(c.levels-1)))

	return min(max(level, 0), c.levels-1)
}

// Dequantize maps a level back to the companded domain in [-1, 1] without
// mu-law expansion. This is the value fed back to the generator.
func (c Codec) Dequantize(level int) float32 {
	return float32(c.dequantize(level))
}

func (c Codec) dequantize(level int) float64 {
	level = min(max(level, 0), c.levels-1)
	if c.levels == 1 {
		return 0
	}

	return 2*float64(level)/float64(c.levels-1) - 1
}

// Decode maps a level to an output sample: dequantize, then mu-law expand
// when enabled.
func (c Codec) Decode(level int) float32 {
	v := c.dequantize(level)
	if c.muLaw {
		v = MuLawExpand(v, c.mu())
	}

	return float32(v)
}

// MuLawCompress applies sign(x)*ln(1+mu|x|)/ln(1+mu).
func MuLawCompress(x, mu float64) float64 {
	if mu <= 0 {
		return x
	}

	return math.Copysign(math.Log1p(mu*math.Abs(x))/math.Log1p(mu), x)
}

// MuLawExpand is the inverse of MuLawCompress.
func MuLawExpand(y, mu float64) float64 {
	if mu <= 0 {
		return y
	}

	return math.Copysign((math.Pow(1+mu, math.Abs(y))-1)/mu, y)
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}

	if v > hi {
		return hi
	}

	return v
}
