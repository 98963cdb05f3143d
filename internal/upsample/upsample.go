// Package upsample stretches mel frames to one conditioning vector per
// output sample.
//
// Each stage repeats every frame factor times and smooths the result with
// a length 2*factor+1 kernel, zero padded at the window edges. A stage
// without a learned kernel uses a box filter.
package upsample

import (
	"errors"
	"fmt"

	"github.com/example/go-wavernn/internal/runtime/ops"
	"github.com/example/go-wavernn/internal/runtime/tensor"
)

// Network is an immutable stack of upsampling stages. It is safe for
// concurrent use.
type Network struct {
	factors []int
	kernels [][]float32
	scale   int
}

// New builds a network for factors. kernels may be nil, or hold one entry
// per factor; a nil entry selects the box kernel.
func New(factors []int, kernels [][]float32) (*Network, error) {
	if len(factors) == 0 {
		return nil, errors.New("upsample: at least one factor is required")
	}

	if kernels != nil && len(kernels) != len(factors) {
		return nil, fmt.Errorf("upsample: %d kernels for %d factors", len(kernels), len(factors))
	}

	n := &Network{
		factors: append([]int(nil), factors...),
		kernels: make([][]float32, len(factors)),
		scale:   1,
	}

	for i, f := range factors {
		if f < 1 {
			return nil, fmt.Errorf("upsample: factor %d is %d, must be positive", i, f)
		}

		n.scale *= f

		var k []float32
		if kernels != nil {
			k = kernels[i]
		}

		if k == nil {
			k = BoxKernel(f)
		}

		if len(k) != KernelSize(f) {
			return nil, fmt.Errorf("upsample: kernel %d has %d taps, want %d", i, len(k), KernelSize(f))
		}

		n.kernels[i] = append([]float32(nil), k...)
	}

	return n, nil
}

// KernelSize returns the smoothing kernel length for factor.
func KernelSize(factor int) int { return 2*factor + 1 }

// BoxKernel returns the uniform smoothing kernel for factor.
func BoxKernel(factor int) []float32 {
	k := make([]float32, KernelSize(factor))
	for i := range k {
		k[i] = 1 / float32(len(k))
	}

	return k
}

// Scale returns the product of all factors.
func (n *Network) Scale() int { return n.scale }

// Factors returns a copy of the stage factors.
func (n *Network) Factors() []int { return append([]int(nil), n.factors...) }

// Kernels returns copies of the stage kernels.
func (n *Network) Kernels() [][]float32 {
	out := make([][]float32, len(n.kernels))
	for i, k := range n.kernels {
		out[i] = append([]float32(nil), k...)
	}

	return out
}

// Forward maps window frames of equal width to len(window)*Scale() rows.
func (n *Network) Forward(window [][]float32) ([][]float32, error) {
	if len(window) == 0 {
		return nil, errors.New("upsample: empty window")
	}

	channels := len(window[0])
	if channels == 0 {
		return nil, errors.New("upsample: frames have no channels")
	}

	frames := len(window)

	// Channel-major [1, C, T] layout for the convolution.
	data := make([]float32, channels*frames)
	for t, row := range window {
		if len(row) != channels {
			return nil, fmt.Errorf("upsample: frame %d has %d channels, want %d", t, len(row), channels)
		}

		for c, v := range row {
			data[c*frames+t] = v
		}
	}

	x, err := tensor.Wrap(data, []int64{1, int64(channels), int64(frames)})
	if err != nil {
		return nil, err
	}

	for i, f := range n.factors {
		x, err = n.stage(x, f, n.kernels[i], channels)
		if err != nil {
			return nil, fmt.Errorf("upsample: stage %d: %w", i, err)
		}
	}

	length := frames * n.scale
	flat := x.RawData()
	rows := make([][]float32, length)
	backing := make([]float32, length*channels)

	for s := range rows {
		row := backing[s*channels : (s+1)*channels]
		for c := range row {
			row[c] = flat[c*length+s]
		}

		rows[s] = row
	}

	return rows, nil
}

func (n *Network) stage(x *tensor.Tensor, factor int, kernel []float32, channels int) (*tensor.Tensor, error) {
	stretched, err := ops.Stretch(x, factor)
	if err != nil {
		return nil, err
	}

	taps := len(kernel)
	w := make([]float32, channels*taps)

	for c := range channels {
		copy(w[c*taps:], kernel)
	}

	kt, err := tensor.Wrap(w, []int64{int64(channels), 1, int64(taps)})
	if err != nil {
		return nil, err
	}

	return ops.Conv1D(stretched, kt, nil, 1, int64(factor), 1, int64(channels))
}
