package vocoder

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math"
	"sync"
	"testing"
)

// testConfig is a small RAW configuration with hop 256.
func testConfig() Config {
	cfg := DefaultConfig()
	cfg.HopLength = 256
	cfg.UpsampleFactors = []int{4, 4, 16}
	cfg.NumMels = 4
	cfg.Bits = 6
	cfg.FadeOutHops = 0

	return cfg
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func syntheticMel(tb testing.TB, frames, numMels int) Mel {
	tb.Helper()

	rows := make([][]float32, frames)
	for t := range rows {
		rows[t] = make([]float32, numMels)
		for m := range rows[t] {
			rows[t][m] = float32(math.Sin(float64(t)*0.3+float64(m))) * 0.5
		}
	}

	mel, err := NewMel(rows)
	if err != nil {
		tb.Fatalf("NewMel: %v", err)
	}

	return mel
}

// fakeState is the explicit per-segment state of fakeGenerator.
type fakeState struct {
	segment int
	step    int
	acc     float32
}

// fakeGenerator produces a peaked categorical or mixture that depends on
// conditioning, the previous sample and the step count. It can inject a
// failure at one (segment, step).
type fakeGenerator struct {
	mode     Mode
	levels   int
	mixtures int

	failSegment int
	failStep    int
	failErr     error
	nanDist     bool

	onStep func(segment, step int)

	mu    sync.Mutex
	calls int
}

func newFakeGenerator(cfg Config) *fakeGenerator {
	return &fakeGenerator{
		mode:        cfg.Mode,
		levels:      cfg.Levels(),
		mixtures:    cfg.Mixtures,
		failSegment: -1,
	}
}

func (g *fakeGenerator) InitState(seg Segment) (State, error) {
	return fakeState{segment: seg.Index}, nil
}

func (g *fakeGenerator) Step(_ context.Context, cond []float32, prev float32, state State) (Distribution, State, error) {
	st, ok := state.(fakeState)
	if !ok {
		return nil, nil, errors.New("fake: unexpected state type")
	}

	g.mu.Lock()
	g.calls++
	g.mu.Unlock()

	if g.onStep != nil {
		g.onStep(st.segment, st.step)
	}

	if st.segment == g.failSegment && st.step == g.failStep {
		if g.failErr != nil {
			return nil, nil, g.failErr
		}

		if g.nanDist {
			return g.nanDistribution(), fakeState{}, nil
		}
	}

	st.acc = 0.9*st.acc + 0.1*cond[0]
	x := float32(math.Tanh(float64(st.acc + 0.5*prev + 0.01*float32(st.step%7))))
	st.step++

	if g.mode == ModeMOL {
		d := &MixtureOfLogistics{
			Logits:    make([]float32, g.mixtures),
			Means:     make([]float32, g.mixtures),
			LogScales: make([]float32, g.mixtures),
		}
		for i := range g.mixtures {
			d.Logits[i] = -float32(i)
			d.Means[i] = x * float32(i+1) / float32(g.mixtures)
			d.LogScales[i] = -4
		}

		return d, st, nil
	}

	center := (x + 1) / 2 * float32(g.levels-1)
	probs := make([]float32, g.levels)

	for i := range probs {
		d := float32(i) - center
		probs[i] = float32(math.Exp(float64(-d * d / 4)))
	}

	return &Categorical{Probs: probs}, st, nil
}

func (g *fakeGenerator) nanDistribution() Distribution {
	if g.mode == ModeMOL {
		return &MixtureOfLogistics{
			Logits:    []float32{float32(math.NaN())},
			Means:     []float32{0},
			LogScales: []float32{0},
		}
	}

	probs := make([]float32, g.levels)
	probs[0] = float32(math.NaN())

	return &Categorical{Probs: probs}
}

func mustEngine(tb testing.TB, cfg Config, gen Generator) *Engine {
	tb.Helper()

	e, err := NewEngine(cfg, gen, WithLogger(discardLogger()))
	if err != nil {
		tb.Fatalf("NewEngine: %v", err)
	}

	return e
}

func equalSamples(a, b []float32) bool {
	if len(a) != len(b) {
		return false
	}

	for i := range a {
		if math.Float32bits(a[i]) != math.Float32bits(b[i]) {
			return false
		}
	}

	return true
}
