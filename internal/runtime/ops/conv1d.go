package ops

import (
	"errors"
	"fmt"

	"github.com/example/go-wavernn/internal/runtime/tensor"
)

// Conv1D performs a deterministic CPU Conv1d.
// input: [batch, in_channels, length]
// kernel: [out_channels, in_channels/groups, kernel_size]
// Positions outside the input are zero padded.
func Conv1D(input, kernel, bias *tensor.Tensor, stride, padding, dilation, groups int64) (*tensor.Tensor, error) {
	p, out, biasData, err := prepareConv1D(input, kernel, bias, stride, padding, dilation, groups)
	if err != nil {
		return nil, err
	}

	if groups == 1 {
		conv1DIm2col(p, input.RawData(), kernel.RawData(), biasData, out.RawData())
		return out, nil
	}

	conv1DGrouped(p, input.RawData(), kernel.RawData(), biasData, out.RawData())

	return out, nil
}

type conv1DParams struct {
	batch       int64
	inChannels  int64
	length      int64
	outChannels int64
	kernelSize  int64
	outLength   int64
	inPerGroup  int64
	outPerGroup int64

	stride, padding, dilation int64
}

func prepareConv1D(
	input, kernel, bias *tensor.Tensor,
	stride, padding, dilation, groups int64,
) (conv1DParams, *tensor.Tensor, []float32, error) {
	if input == nil || kernel == nil {
		return conv1DParams{}, nil, nil, errors.New("ops: conv1d requires non-nil input/kernel")
	}

	if stride <= 0 || dilation <= 0 || groups <= 0 || padding < 0 {
		return conv1DParams{}, nil, nil, errors.New("ops: conv1d stride/dilation/groups must be > 0 and padding >= 0")
	}

	inShape := input.Shape()
	kShape := kernel.Shape()

	if len(inShape) != 3 || len(kShape) != 3 {
		return conv1DParams{}, nil, nil, fmt.Errorf("ops: conv1d expects input/kernel rank 3, got %v and %v", inShape, kShape)
	}

	p := conv1DParams{
		batch:       inShape[0],
		inChannels:  inShape[1],
		length:      inShape[2],
		outChannels: kShape[0],
		kernelSize:  kShape[2],
		stride:      stride,
		padding:     padding,
		dilation:    dilation,
	}

	if p.inChannels%groups != 0 || p.outChannels%groups != 0 {
		return conv1DParams{}, nil, nil, fmt.Errorf("ops: conv1d channels not divisible by groups (%d, %d, groups=%d)", p.inChannels, p.outChannels, groups)
	}

	if kShape[1] != p.inChannels/groups {
		return conv1DParams{}, nil, nil, fmt.Errorf("ops: conv1d kernel in_channels/groups mismatch: got %d want %d", kShape[1], p.inChannels/groups)
	}

	p.inPerGroup = p.inChannels / groups
	p.outPerGroup = p.outChannels / groups

	if bias != nil {
		bShape := bias.Shape()
		if len(bShape) != 1 || bShape[0] != p.outChannels {
			return conv1DParams{}, nil, nil, fmt.Errorf("ops: conv1d bias shape %v does not match out_channels %d", bShape, p.outChannels)
		}
	}

	p.outLength = (p.length+2*padding-dilation*(p.kernelSize-1)-1)/stride + 1
	if p.outLength <= 0 {
		return conv1DParams{}, nil, nil, fmt.Errorf("ops: conv1d produced non-positive output length %d", p.outLength)
	}

	out, err := tensor.Zeros([]int64{p.batch, p.outChannels, p.outLength})
	if err != nil {
		return conv1DParams{}, nil, nil, err
	}

	var biasData []float32
	if bias != nil {
		biasData = bias.RawData()
	}

	return p, out, biasData, nil
}

// conv1DIm2col handles groups=1 by gathering every output position's
// receptive field into a contiguous row, so each output value is a single
// dot product against a kernel row.
func conv1DIm2col(p conv1DParams, inputData, kernelData, biasData, outData []float32) {
	patchLen := int(p.inChannels * p.kernelSize)

	imcol := getScratch(int(p.outLength) * patchLen)
	defer putScratch(imcol)

	outLen := int(p.outLength)
	length := int(p.length)

	for b := range p.batch {
		if b > 0 {
			clear(imcol)
		}

		for ic := range p.inChannels {
			inBase := int(b*p.inChannels+ic) * length
			for kx := range p.kernelSize {
				col := int(ic*p.kernelSize + kx)
				for ox := range p.outLength {
					inPos := ox*p.stride - p.padding + kx*p.dilation
					if inPos >= 0 && inPos < p.length {
						imcol[int(ox)*patchLen+col] = inputData[inBase+int(inPos)]
					}
				}
			}
		}

		outBase := int(b*p.outChannels) * outLen
		parallelFor(int(p.outChannels), getConvWorkers(), func(lo, hi int) {
			for oc := lo; oc < hi; oc++ {
				kernelRow := kernelData[oc*patchLen : (oc+1)*patchLen]

				var biasVal float32
				if biasData != nil {
					biasVal = biasData[oc]
				}

				row := outData[outBase+oc*outLen : outBase+(oc+1)*outLen]
				for ox := range row {
					row[ox] = tensor.DotProduct(kernelRow, imcol[ox*patchLen:(ox+1)*patchLen]) + biasVal
				}
			}
		})
	}
}

// conv1DGrouped is the direct path for groups > 1, including depthwise
// convolution. Output channels are independent and split across workers.
func conv1DGrouped(p conv1DParams, inputData, kernelData, biasData, outData []float32) {
	for b := range p.batch {
		parallelFor(int(p.outChannels), getConvWorkers(), func(lo, hi int) {
			for oc := int64(lo); oc < int64(hi); oc++ {
				inStart := (oc / p.outPerGroup) * p.inPerGroup

				for ox := range p.outLength {
					var sum float32
					if biasData != nil {
						sum = biasData[oc]
					}

					for ic := range p.inPerGroup {
						inBase := (b*p.inChannels + inStart + ic) * p.length
						kBase := (oc*p.inPerGroup + ic) * p.kernelSize

						for kx := range p.kernelSize {
							inPos := ox*p.stride - p.padding + kx*p.dilation
							if inPos < 0 || inPos >= p.length {
								continue
							}

							sum += inputData[inBase+inPos] * kernelData[kBase+kx]
						}
					}

					outData[(b*p.outChannels+oc)*p.outLength+ox] = sum
				}
			}
		})
	}
}
