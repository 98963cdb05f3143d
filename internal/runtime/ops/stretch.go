package ops

import (
	"errors"
	"fmt"

	"github.com/example/go-wavernn/internal/runtime/tensor"
)

// Stretch repeats every element along the last dimension factor times
// (nearest-neighbour upsampling). [..., L] becomes [..., L*factor].
func Stretch(x *tensor.Tensor, factor int) (*tensor.Tensor, error) {
	if x == nil {
		return nil, errors.New("ops: stretch input is nil")
	}

	if factor < 1 {
		return nil, fmt.Errorf("ops: stretch factor must be >= 1, got %d", factor)
	}

	shape := x.Shape()
	if len(shape) == 0 {
		return nil, errors.New("ops: stretch requires rank >= 1")
	}

	length := int(shape[len(shape)-1])
	shape[len(shape)-1] *= int64(factor)

	out, err := tensor.Zeros(shape)
	if err != nil {
		return nil, err
	}

	if length == 0 {
		return out, nil
	}

	src := x.RawData()
	dst := out.RawData()

	for r := 0; r*length < len(src); r++ {
		in := src[r*length : (r+1)*length]
		row := dst[r*length*factor : (r+1)*length*factor]

		for i, v := range in {
			seg := row[i*factor : (i+1)*factor]
			for j := range seg {
				seg[j] = v
			}
		}
	}

	return out, nil
}
