package vocoder

import (
	"fmt"
	"math"
)

// Mel is a read-only mel-spectrogram stored frame-major:
// Data[t*NumMels+m] is mel bin m of frame t.
type Mel struct {
	Data    []float32
	NumMels int
}

// NewMel copies T frames of equal width into a Mel.
func NewMel(frames [][]float32) (Mel, error) {
	if len(frames) == 0 {
		return Mel{}, fmt.Errorf("%w: no frames", ErrInvalidMel)
	}

	width := len(frames[0])
	if width == 0 {
		return Mel{}, fmt.Errorf("%w: frame 0 is empty", ErrInvalidMel)
	}

	data := make([]float32, 0, len(frames)*width)
	for t, f := range frames {
		if len(f) != width {
			return Mel{}, fmt.Errorf("%w: frame %d has %d bins, want %d", ErrInvalidMel, t, len(f), width)
		}

		data = append(data, f...)
	}

	return Mel{Data: data, NumMels: width}, nil
}

// Frames returns T.
func (m Mel) Frames() int {
	if m.NumMels <= 0 {
		return 0
	}

	return len(m.Data) / m.NumMels
}

// Frame returns a view of frame t. Callers must not modify it.
func (m Mel) Frame(t int) []float32 {
	return m.Data[t*m.NumMels : (t+1)*m.NumMels]
}

// Validate checks shape and finiteness against the expected bin count.
func (m Mel) Validate(numMels int) error {
	if m.NumMels != numMels {
		return fmt.Errorf("%w: %d mel bins, engine expects %d", ErrInvalidMel, m.NumMels, numMels)
	}

	if len(m.Data) == 0 || len(m.Data)%m.NumMels != 0 {
		return fmt.Errorf("%w: %d values is not a whole number of %d-bin frames", ErrInvalidMel, len(m.Data), m.NumMels)
	}

	for i, v := range m.Data {
		if math.IsNaN(float64(v)) || math.IsInf(float64(v), 0) {
			return fmt.Errorf("%w: non-finite value at frame %d bin %d", ErrInvalidMel, i/m.NumMels, i%m.NumMels)
		}
	}

	return nil
}
