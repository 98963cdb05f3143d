package native

import (
	"fmt"
	"math/rand"

	"github.com/example/go-wavernn/internal/runtime/tensor"
)

// GRU is a single-layer gated recurrent cell with PyTorch gate layout:
// rows [0,H) reset, [H,2H) update, [2H,3H) candidate.
type GRU struct {
	WeightIH *tensor.Tensor // [3H, in]
	WeightHH *tensor.Tensor // [3H, H]
	BiasIH   *tensor.Tensor // [3H]
	BiasHH   *tensor.Tensor // [3H]
	hidden   int
}

func loadGRU(vb *VarBuilder, in int64) (*GRU, error) {
	wih, err := vb.Tensor("weight_ih", -1, in)
	if err != nil {
		return nil, err
	}

	rows := wih.Shape()[0]
	if rows%3 != 0 {
		return nil, fmt.Errorf("native: gru weight_ih has %d rows, want a multiple of 3", rows)
	}

	hidden := rows / 3

	whh, err := vb.Tensor("weight_hh", rows, hidden)
	if err != nil {
		return nil, err
	}

	bih, err := vb.Tensor("bias_ih", rows)
	if err != nil {
		return nil, err
	}

	bhh, err := vb.Tensor("bias_hh", rows)
	if err != nil {
		return nil, err
	}

	return &GRU{WeightIH: wih, WeightHH: whh, BiasIH: bih, BiasHH: bhh, hidden: int(hidden)}, nil
}

func randomGRU(rng *rand.Rand, in, hidden int) *GRU {
	ih := randomLinear(rng, 3*hidden, in)
	hh := randomLinear(rng, 3*hidden, hidden)

	return &GRU{WeightIH: ih.Weight, WeightHH: hh.Weight, BiasIH: ih.Bias, BiasHH: hh.Bias, hidden: hidden}
}

func (g *GRU) Hidden() int { return g.hidden }

// step computes the next hidden state into dst. gi and gh are 3H scratch
// buffers; dst must not alias h.
func (g *GRU) step(dst, x, h, gi, gh []float32) error {
	if err := tensor.MatVec(gi, g.WeightIH, x, g.BiasIH); err != nil {
		return fmt.Errorf("native: gru input: %w", err)
	}

	if err := tensor.MatVec(gh, g.WeightHH, h, g.BiasHH); err != nil {
		return fmt.Errorf("native: gru hidden: %w", err)
	}

	H := g.hidden
	for j := range H {
		r := sigmoid(gi[j] + gh[j])
		z := sigmoid(gi[H+j] + gh[H+j])
		n := tanh32(gi[2*H+j] + r*gh[2*H+j])
		dst[j] = (1-z)*n + z*h[j]
	}

	return nil
}
