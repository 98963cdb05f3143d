package native

import (
	"errors"
	"fmt"
	"math"
	"math/rand"

	"github.com/example/go-wavernn/internal/runtime/tensor"
)

type Linear struct {
	Weight *tensor.Tensor // [out, in]
	Bias   *tensor.Tensor // optional [out]
}

// loadLinear reads name.weight and the optional name.bias. in < 0 accepts
// any input width.
func loadLinear(vb *VarBuilder, name string, in int64) (*Linear, error) {
	w, err := vb.Tensor(name+".weight", -1, in)
	if err != nil {
		return nil, err
	}

	b, _, err := vb.TensorMaybe(name+".bias", w.Shape()[0])
	if err != nil {
		return nil, err
	}

	return &Linear{Weight: w, Bias: b}, nil
}

// randomLinear initialises weights and bias uniformly in
// [-1/sqrt(in), 1/sqrt(in)].
func randomLinear(rng *rand.Rand, out, in int) *Linear {
	bound := 1 / math.Sqrt(float64(in))

	w, _ := tensor.Wrap(uniform(rng, out*in, bound), []int64{int64(out), int64(in)})
	b, _ := tensor.Wrap(uniform(rng, out, bound), []int64{int64(out)})

	return &Linear{Weight: w, Bias: b}
}

func (l *Linear) In() int  { return l.Weight.Dim(1) }
func (l *Linear) Out() int { return l.Weight.Dim(0) }

// ForwardInto writes W·x + b into dst without allocating.
func (l *Linear) ForwardInto(dst, x []float32) error {
	if l == nil || l.Weight == nil {
		return errors.New("native: linear is not initialized")
	}

	if err := tensor.MatVec(dst, l.Weight, x, l.Bias); err != nil {
		return fmt.Errorf("native: linear: %w", err)
	}

	return nil
}

func uniform(rng *rand.Rand, n int, bound float64) []float32 {
	out := make([]float32, n)
	for i := range out {
		out[i] = float32((rng.Float64()*2 - 1) * bound)
	}

	return out
}
