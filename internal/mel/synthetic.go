package mel

import (
	"math"

	"github.com/example/go-wavernn/internal/vocoder"
)

// Synthetic returns frames × numMels log-mel-like values: a slowly drifting
// spectral envelope in [-4, 0]. Used for benches when no real input is
// available. The output is fully deterministic.
func Synthetic(frames, numMels int) vocoder.Mel {
	data := make([]float32, frames*numMels)

	for t := range frames {
		peak := float64(numMels) * (0.3 + 0.2*math.Sin(float64(t)*0.15))
		row := data[t*numMels : (t+1)*numMels]

		for b := range row {
			d := (float64(b) - peak) / float64(numMels)
			row[b] = float32(-4 + 4*math.Exp(-d*d*20))
		}
	}

	return vocoder.Mel{Data: data, NumMels: numMels}
}
