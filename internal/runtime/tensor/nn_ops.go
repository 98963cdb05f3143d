package tensor

import (
	"errors"
	"fmt"
	"math"
)

// SoftmaxInPlace normalizes v to a probability vector.
func SoftmaxInPlace(v []float32) error {
	if len(v) == 0 {
		return nil
	}

	maxV := float32(math.Inf(-1))
	for _, x := range v {
		maxV = max(maxV, x)
	}

	var sum float64

	for i, x := range v {
		e := math.Exp(float64(x - maxV))
		v[i] = float32(e)
		sum += e
	}

	if sum == 0 || math.IsNaN(sum) || math.IsInf(sum, 0) {
		return fmt.Errorf("tensor: softmax normalization sum is %v", sum)
	}

	inv := float32(1.0 / sum)
	for i := range v {
		v[i] *= inv
	}

	return nil
}

// MatVec computes dst = W x + b for a [out, in] weight without allocating.
// bias may be nil.
func MatVec(dst []float32, weight *Tensor, x []float32, bias *Tensor) error {
	if weight == nil {
		return errors.New("tensor: matvec requires a weight")
	}

	if err := checkLinear(weight, bias, len(x)); err != nil {
		return err
	}

	if len(dst) != int(weight.shape[0]) {
		return fmt.Errorf("tensor: matvec dst length %d, want %d", len(dst), weight.shape[0])
	}

	var b []float32
	if bias != nil {
		b = bias.data
	}

	matVec(dst, weight.data, x, b, len(x))

	return nil
}

func checkLinear(weight, bias *Tensor, in int) error {
	if weight.Rank() != 2 {
		return fmt.Errorf("tensor: linear weight must be rank 2, got %d", weight.Rank())
	}

	if int(weight.shape[1]) != in {
		return fmt.Errorf("tensor: linear mismatch: x last dim %d, weight in dim %d", in, weight.shape[1])
	}

	if bias != nil && (bias.Rank() != 1 || bias.shape[0] != weight.shape[0]) {
		return fmt.Errorf("tensor: linear bias shape %v does not match out dim %d", bias.shape, weight.shape[0])
	}

	return nil
}

func matVec(dst, w, x, b []float32, in int) {
	parallelFor(len(dst), Workers(), func(lo, hi int) {
		for o := lo; o < hi; o++ {
			sum := dotF32(x, w[o*in:(o+1)*in])
			if b != nil {
				sum += b[o]
			}

			dst[o] = sum
		}
	})
}
