package tensor

import "testing"

func TestAxpy(t *testing.T) {
	tests := []struct {
		name  string
		dst   []float32
		alpha float32
		src   []float32
		want  []float32
	}{
		{
			name:  "basic",
			dst:   []float32{1, 2, 3},
			alpha: 0.5,
			src:   []float32{4, 5, 6},
			want:  []float32{3, 4.5, 6},
		},
		{
			name:  "empty",
			alpha: 1,
		},
		{
			name:  "length mismatch uses shorter input",
			dst:   []float32{1, 2, 3, 4},
			alpha: 2,
			src:   []float32{10, 20},
			want:  []float32{21, 42, 3, 4},
		},
		{
			name:  "zero alpha no change",
			dst:   []float32{1, 2, 3},
			alpha: 0,
			src:   []float32{9, 9, 9},
			want:  []float32{1, 2, 3},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := append([]float32(nil), tt.dst...)
			Axpy(got, tt.alpha, tt.src)

			if !equalF32(got, tt.want, 1e-6) {
				t.Fatalf("Axpy = %v, want %v", got, tt.want)
			}
		})
	}
}
