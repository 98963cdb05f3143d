// Package mel loads mel-spectrogram inputs for the vocoder.
//
// Files are safetensors containers holding a 2-D tensor named "mel" (or a
// single tensor of any name) laid out either [num_mels, T] or [T, num_mels].
package mel

import (
	"errors"
	"fmt"

	"github.com/example/go-wavernn/internal/safetensors"
	"github.com/example/go-wavernn/internal/vocoder"
)

// TensorName is the preferred tensor name inside mel files.
const TensorName = "mel"

// LoadFile reads a mel-spectrogram with numMels bins per frame from a
// safetensors file.
func LoadFile(path string, numMels int) (vocoder.Mel, error) {
	store, err := safetensors.OpenStore(path, safetensors.StoreOptions{})
	if err != nil {
		return vocoder.Mel{}, err
	}
	defer store.Close()

	name := TensorName
	if !store.Has(name) {
		names := store.Names()
		if len(names) != 1 {
			return vocoder.Mel{}, fmt.Errorf("mel: %s has no %q tensor and %d candidates", path, TensorName, len(names))
		}

		name = names[0]
	}

	t, err := store.Tensor(name)
	if err != nil {
		return vocoder.Mel{}, err
	}

	return FromTensor(t.Shape, t.Data, numMels)
}

// FromTensor interprets a 2-D (or leading-batch 3-D) tensor as a mel. The
// layout is chosen by which axis equals numMels; a square tensor is read
// as [num_mels, T].
func FromTensor(shape []int64, data []float32, numMels int) (vocoder.Mel, error) {
	if numMels < 1 {
		return vocoder.Mel{}, fmt.Errorf("%w: num_mels %d", vocoder.ErrInvalidMel, numMels)
	}

	if len(shape) == 3 {
		if shape[0] != 1 {
			return vocoder.Mel{}, fmt.Errorf("%w: batch dimension %d, only 1 is supported", vocoder.ErrInvalidMel, shape[0])
		}

		shape = shape[1:]
	}

	if len(shape) != 2 {
		return vocoder.Mel{}, fmt.Errorf("%w: tensor rank %d, want 2", vocoder.ErrInvalidMel, len(shape))
	}

	rows, cols := int(shape[0]), int(shape[1])
	if rows*cols != len(data) {
		return vocoder.Mel{}, fmt.Errorf("%w: shape %v holds %d values, got %d", vocoder.ErrInvalidMel, shape, rows*cols, len(data))
	}

	switch {
	case rows == numMels:
		return transpose(data, rows, cols), nil
	case cols == numMels:
		return vocoder.Mel{Data: append([]float32(nil), data...), NumMels: numMels}, nil
	default:
		return vocoder.Mel{}, fmt.Errorf("%w: shape %v has no axis of %d mel bins", vocoder.ErrInvalidMel, shape, numMels)
	}
}

// FromFrames builds a mel from T frames of num_mels values each.
func FromFrames(frames [][]float32) (vocoder.Mel, error) {
	return vocoder.NewMel(frames)
}

// Save writes m as a [num_mels, T] tensor named "mel".
func Save(path string, m vocoder.Mel) error {
	if m.NumMels < 1 || m.Frames() == 0 {
		return errors.New("mel: nothing to save")
	}

	frames := m.Frames()
	data := make([]float32, len(m.Data))

	for t := range frames {
		for b := range m.NumMels {
			data[b*frames+t] = m.Data[t*m.NumMels+b]
		}
	}

	return safetensors.WriteFile(path, []safetensors.Tensor{{
		Name:  TensorName,
		Shape: []int64{int64(m.NumMels), int64(frames)},
		Data:  data,
	}}, nil)
}

// transpose converts a [bins, T] buffer into the frame-major Mel layout.
func transpose(data []float32, bins, frames int) vocoder.Mel {
	out := make([]float32, len(data))

	for b := range bins {
		for t := range frames {
			out[t*bins+b] = data[b*frames+t]
		}
	}

	return vocoder.Mel{Data: out, NumMels: bins}
}
