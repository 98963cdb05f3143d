package native

import (
	"math"
	"math/rand"
	"testing"

	"github.com/example/go-wavernn/internal/runtime/tensor"
)

func TestLinearForwardInto(t *testing.T) {
	w, err := tensor.New([]float32{
		1.0, -2.0,
		0.5, 0.25,
		-1.5, 3.0,
	}, []int64{3, 2})
	if err != nil {
		t.Fatalf("weight: %v", err)
	}

	bias, err := tensor.New([]float32{0.1, -0.2, 0.3}, []int64{3})
	if err != nil {
		t.Fatalf("bias: %v", err)
	}

	l := &Linear{Weight: w, Bias: bias}
	out := make([]float32, 3)

	if err := l.ForwardInto(out, []float32{1, 2}); err != nil {
		t.Fatalf("ForwardInto: %v", err)
	}

	assertCloseSlice(t, out, []float32{-2.9, 0.8, 4.8}, 1e-5)
}

func TestLinearForwardIntoRejectsWrongOutShape(t *testing.T) {
	w, _ := tensor.New([]float32{1, 2, 3, 4}, []int64{2, 2})
	l := &Linear{Weight: w}

	if err := l.ForwardInto(make([]float32, 3), []float32{1, 1}); err == nil {
		t.Fatal("expected dst length error")
	}

	var nilLinear *Linear
	if err := nilLinear.ForwardInto(nil, nil); err == nil {
		t.Fatal("expected uninitialized error")
	}
}

func TestRandomLinearBounds(t *testing.T) {
	l := randomLinear(rand.New(rand.NewSource(3)), 8, 16)

	if l.Out() != 8 || l.In() != 16 {
		t.Fatalf("dims = %dx%d", l.Out(), l.In())
	}

	bound := 1 / math.Sqrt(16)
	for _, v := range append(l.Weight.Data(), l.Bias.Data()...) {
		if math.Abs(float64(v)) > bound {
			t.Fatalf("value %v outside ±%v", v, bound)
		}
	}
}

func assertCloseSlice(t *testing.T, got, want []float32, tol float64) {
	t.Helper()

	if len(got) != len(want) {
		t.Fatalf("len mismatch: got %d want %d", len(got), len(want))
	}

	for i := range got {
		if math.Abs(float64(got[i]-want[i])) > tol {
			t.Fatalf("index %d: got %v want %v", i, got[i], want[i])
		}
	}
}
