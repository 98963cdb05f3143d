package vocoder

import "context"

// State is a generator's per-segment recurrent state. The runner treats it
// as opaque: it is created by InitState, passed into every Step and
// replaced by the state Step returns.
type State any

// Generator is the autoregressive sample generator. Implementations share
// read-only parameters across segments; all mutable data lives in State so
// that distinct segments may step concurrently.
type Generator interface {
	// InitState returns fresh recurrent state for seg.
	InitState(seg Segment) (State, error)
	// Step consumes one conditioning vector and the previous sample and
	// returns the output distribution for the next sample.
	//
	// Errors wrapping ErrGeneratorFailure are contained to the segment;
	// any other error aborts the run.
	Step(ctx context.Context, cond []float32, prev float32, state State) (Distribution, State, error)
}

// Conditioner upsamples a window of mel frames to one conditioning vector
// per output sample (len(window)*hop rows).
type Conditioner interface {
	Forward(window [][]float32) ([][]float32, error)
}

// ConditionerProvider is implemented by generators that carry their own
// (possibly learned) upsampling network.
type ConditionerProvider interface {
	Conditioner() Conditioner
}
