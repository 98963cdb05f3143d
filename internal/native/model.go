// Package native implements the WaveRNN sample generator in pure Go.
//
// One step concatenates the previous sample with the conditioning vector,
// projects it to the recurrent width, advances a GRU, adds the GRU output
// back as a residual and runs three fully connected layers to produce the
// RAW or MOL output head.
package native

import (
	"context"
	"fmt"
	"math/rand"
	"strconv"
	"strings"

	"github.com/example/go-wavernn/internal/runtime/tensor"
	"github.com/example/go-wavernn/internal/safetensors"
	"github.com/example/go-wavernn/internal/upsample"
	"github.com/example/go-wavernn/internal/vocoder"
)

// Config describes the network. RNNDims and FCDims may be zero when
// loading, in which case they are read from the weights.
type Config struct {
	Mode            vocoder.Mode
	NumMels         int
	Bits            int
	Mixtures        int
	UpsampleFactors []int
	RNNDims         int
	FCDims          int
}

// ConfigFor derives the network description from engine hyperparameters.
func ConfigFor(vc vocoder.Config, rnnDims, fcDims int) Config {
	return Config{
		Mode:            vc.Mode,
		NumMels:         vc.NumMels,
		Bits:            vc.Bits,
		Mixtures:        vc.Mixtures,
		UpsampleFactors: append([]int(nil), vc.UpsampleFactors...),
		RNNDims:         rnnDims,
		FCDims:          fcDims,
	}
}

// OutputDims is the width of the output head.
func (c Config) OutputDims() int {
	if c.Mode == vocoder.ModeMOL {
		return 3 * c.Mixtures
	}

	return 1 << c.Bits
}

func (c Config) validate() error {
	switch {
	case c.Mode != vocoder.ModeRaw && c.Mode != vocoder.ModeMOL:
		return fmt.Errorf("native: unknown mode %q", c.Mode)
	case c.NumMels < 1:
		return fmt.Errorf("native: num_mels %d", c.NumMels)
	case c.Mode == vocoder.ModeRaw && (c.Bits < 1 || c.Bits > 16):
		return fmt.Errorf("native: bits %d", c.Bits)
	case c.Mode == vocoder.ModeMOL && c.Mixtures < 1:
		return fmt.Errorf("native: mixtures %d", c.Mixtures)
	case c.RNNDims < 0 || c.FCDims < 0:
		return fmt.Errorf("native: negative layer width")
	}

	return nil
}

// Model holds read-only WaveRNN parameters. It is safe for concurrent use
// as long as every segment has its own state.
type Model struct {
	cfg      Config
	input    *Linear
	rnn      *GRU
	fc1      *Linear
	fc2      *Linear
	fc3      *Linear
	upsample *upsample.Network
	learned  bool
}

// Load reads weights from a safetensors file. A "model." or "module."
// prefix on tensor names is ignored.
func Load(path string, cfg Config) (*Model, error) {
	store, err := safetensors.OpenStore(path, safetensors.StoreOptions{
		KeyMapper: safetensors.StripPrefix("model.", "module."),
	})
	if err != nil {
		return nil, err
	}
	defer store.Close()

	return LoadFromStore(store, cfg)
}

func LoadFromStore(store *safetensors.Store, cfg Config) (*Model, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	if err := checkMetadata(store.Metadata(), cfg); err != nil {
		return nil, err
	}

	vb := NewVarBuilder(store)

	input, err := loadLinear(vb, "I", int64(1+cfg.NumMels))
	if err != nil {
		return nil, fmt.Errorf("native: input projection: %w", err)
	}

	rnnDims := input.Out()
	if cfg.RNNDims != 0 && cfg.RNNDims != rnnDims {
		return nil, fmt.Errorf("native: weights have rnn_dims %d, config wants %d", rnnDims, cfg.RNNDims)
	}

	rnn, err := loadGRU(vb.Path("rnn"), int64(rnnDims))
	if err != nil {
		return nil, fmt.Errorf("native: rnn: %w", err)
	}

	if rnn.Hidden() != rnnDims {
		return nil, fmt.Errorf("native: rnn hidden %d does not match input projection %d", rnn.Hidden(), rnnDims)
	}

	fc1, err := loadLinear(vb, "fc1", int64(rnnDims))
	if err != nil {
		return nil, fmt.Errorf("native: fc1: %w", err)
	}

	fcDims := fc1.Out()
	if cfg.FCDims != 0 && cfg.FCDims != fcDims {
		return nil, fmt.Errorf("native: weights have fc_dims %d, config wants %d", fcDims, cfg.FCDims)
	}

	fc2, err := loadLinear(vb, "fc2", int64(fcDims))
	if err != nil {
		return nil, fmt.Errorf("native: fc2: %w", err)
	}

	fc3, err := loadLinear(vb, "fc3", int64(fc2.Out()))
	if err != nil {
		return nil, fmt.Errorf("native: fc3: %w", err)
	}

	if fc3.Out() != cfg.OutputDims() {
		return nil, fmt.Errorf("native: output head has %d values, %s mode needs %d", fc3.Out(), cfg.Mode, cfg.OutputDims())
	}

	kernels, learned, err := loadKernels(vb.Path("upsample", "layers"), cfg.UpsampleFactors)
	if err != nil {
		return nil, err
	}

	net, err := upsample.New(cfg.UpsampleFactors, kernels)
	if err != nil {
		return nil, fmt.Errorf("native: %w", err)
	}

	cfg.RNNDims, cfg.FCDims = rnnDims, fcDims

	return &Model{
		cfg:      cfg,
		input:    input,
		rnn:      rnn,
		fc1:      fc1,
		fc2:      fc2,
		fc3:      fc3,
		upsample: net,
		learned:  learned,
	}, nil
}

// NewRandom builds a model with seeded uniform weights and box upsampling
// kernels. It exists for benchmarks, smoke tests and `model init`.
func NewRandom(cfg Config, seed int64) (*Model, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	if cfg.RNNDims < 1 || cfg.FCDims < 1 {
		return nil, fmt.Errorf("native: random model needs positive rnn_dims and fc_dims")
	}

	net, err := upsample.New(cfg.UpsampleFactors, nil)
	if err != nil {
		return nil, fmt.Errorf("native: %w", err)
	}

	rng := rand.New(rand.NewSource(seed))

	return &Model{
		cfg:      cfg,
		input:    randomLinear(rng, cfg.RNNDims, 1+cfg.NumMels),
		rnn:      randomGRU(rng, cfg.RNNDims, cfg.RNNDims),
		fc1:      randomLinear(rng, cfg.FCDims, cfg.RNNDims),
		fc2:      randomLinear(rng, cfg.FCDims, cfg.FCDims),
		fc3:      randomLinear(rng, cfg.OutputDims(), cfg.FCDims),
		upsample: net,
	}, nil
}

// Config returns the resolved network description.
func (m *Model) Config() Config { return m.cfg }

// Conditioner returns the model's upsampling network.
func (m *Model) Conditioner() vocoder.Conditioner { return m.upsample }

// LearnedUpsampling reports whether any upsampling kernel came from weights.
func (m *Model) LearnedUpsampling() bool { return m.learned }

// stepState is the per-segment recurrent state plus scratch space.
type stepState struct {
	h, next []float32
	in, x   []float32
	gi, gh  []float32
	a, b    []float32
}

func (m *Model) InitState(vocoder.Segment) (vocoder.State, error) {
	H, F := m.cfg.RNNDims, m.cfg.FCDims

	return &stepState{
		h:    make([]float32, H),
		next: make([]float32, H),
		in:   make([]float32, 1+m.cfg.NumMels),
		x:    make([]float32, H),
		gi:   make([]float32, 3*H),
		gh:   make([]float32, 3*H),
		a:    make([]float32, F),
		b:    make([]float32, F),
	}, nil
}

func (m *Model) Step(_ context.Context, cond []float32, prev float32, state vocoder.State) (vocoder.Distribution, vocoder.State, error) {
	st, ok := state.(*stepState)
	if !ok {
		return nil, nil, fmt.Errorf("native: unexpected state type %T", state)
	}

	if len(cond) != m.cfg.NumMels {
		return nil, nil, fmt.Errorf("native: conditioning has %d values, want %d", len(cond), m.cfg.NumMels)
	}

	st.in[0] = prev
	copy(st.in[1:], cond)

	if err := m.input.ForwardInto(st.x, st.in); err != nil {
		return nil, nil, err
	}

	if err := m.rnn.step(st.next, st.x, st.h, st.gi, st.gh); err != nil {
		return nil, nil, err
	}

	st.h, st.next = st.next, st.h

	tensor.Axpy(st.x, 1, st.h)

	if err := m.fc1.ForwardInto(st.a, st.x); err != nil {
		return nil, nil, err
	}

	reluInPlace(st.a)

	if err := m.fc2.ForwardInto(st.b, st.a); err != nil {
		return nil, nil, err
	}

	reluInPlace(st.b)

	logits := make([]float32, m.fc3.Out())
	if err := m.fc3.ForwardInto(logits, st.b); err != nil {
		return nil, nil, err
	}

	if !allFinite(logits) {
		return nil, st, fmt.Errorf("%w: non-finite output head", vocoder.ErrGeneratorFailure)
	}

	dist, err := vocoder.DistributionFromLogits(m.cfg.Mode, logits, m.cfg.Mixtures)
	if err != nil {
		return nil, st, err
	}

	return dist, st, nil
}

// Tensors returns the model parameters under the names Load expects.
func Tensors(m *Model) []safetensors.Tensor {
	var out []safetensors.Tensor
	for _, l := range []struct {
		name string
		*Linear
	}{{"I", m.input}, {"fc1", m.fc1}, {"fc2", m.fc2}, {"fc3", m.fc3}} {
		out = append(out, fromLinear(l.name, l.Linear)...)
	}

	out = append(out,
		safetensors.Tensor{Name: "rnn.weight_ih", Shape: m.rnn.WeightIH.Shape(), Data: m.rnn.WeightIH.Data()},
		safetensors.Tensor{Name: "rnn.weight_hh", Shape: m.rnn.WeightHH.Shape(), Data: m.rnn.WeightHH.Data()},
		safetensors.Tensor{Name: "rnn.bias_ih", Shape: m.rnn.BiasIH.Shape(), Data: m.rnn.BiasIH.Data()},
		safetensors.Tensor{Name: "rnn.bias_hh", Shape: m.rnn.BiasHH.Shape(), Data: m.rnn.BiasHH.Data()},
	)

	for i, k := range m.upsample.Kernels() {
		out = append(out, safetensors.Tensor{
			Name:  fmt.Sprintf("upsample.layers.%d.weight", i),
			Shape: []int64{1, 1, int64(len(k))},
			Data:  k,
		})
	}

	return out
}

// Metadata describes the model for the safetensors header.
func Metadata(m *Model) map[string]string {
	factors := make([]string, len(m.cfg.UpsampleFactors))
	for i, f := range m.cfg.UpsampleFactors {
		factors[i] = strconv.Itoa(f)
	}

	md := map[string]string{
		"voc_mode":         string(m.cfg.Mode),
		"num_mels":         strconv.Itoa(m.cfg.NumMels),
		"rnn_dims":         strconv.Itoa(m.cfg.RNNDims),
		"fc_dims":          strconv.Itoa(m.cfg.FCDims),
		"upsample_factors": strings.Join(factors, ","),
	}

	if m.cfg.Mode == vocoder.ModeMOL {
		md["mixtures"] = strconv.Itoa(m.cfg.Mixtures)
	} else {
		md["bits"] = strconv.Itoa(m.cfg.Bits)
	}

	return md
}

// Save writes the model and its metadata to path.
func Save(path string, m *Model) error {
	return safetensors.WriteFile(path, Tensors(m), Metadata(m))
}

func fromLinear(name string, l *Linear) []safetensors.Tensor {
	out := []safetensors.Tensor{{Name: name + ".weight", Shape: l.Weight.Shape(), Data: l.Weight.Data()}}
	if l.Bias != nil {
		out = append(out, safetensors.Tensor{Name: name + ".bias", Shape: l.Bias.Shape(), Data: l.Bias.Data()})
	}

	return out
}

// checkMetadata rejects weights whose recorded mode or head size disagrees
// with cfg. Files without metadata are accepted.
func checkMetadata(md map[string]string, cfg Config) error {
	if mode, ok := md["voc_mode"]; ok && !strings.EqualFold(mode, string(cfg.Mode)) {
		return fmt.Errorf("native: weights were built for %s mode, config wants %s", mode, cfg.Mode)
	}

	if raw, ok := md["num_mels"]; ok {
		if n, err := strconv.Atoi(raw); err == nil && n != cfg.NumMels {
			return fmt.Errorf("native: weights were built for %d mel bins, config wants %d", n, cfg.NumMels)
		}
	}

	return nil
}

func loadKernels(vb *VarBuilder, factors []int) ([][]float32, bool, error) {
	kernels := make([][]float32, len(factors))
	learned := false

	for i, f := range factors {
		name := fmt.Sprintf("%d.weight", i)

		t, ok, err := vb.TensorMaybe(name)
		if err != nil {
			return nil, false, err
		}

		if !ok {
			continue
		}

		if t.ElemCount() != upsample.KernelSize(f) {
			return nil, false, fmt.Errorf("native: upsample kernel %d has %d taps, factor %d needs %d", i, t.ElemCount(), f, upsample.KernelSize(f))
		}

		kernels[i] = t.Data()
		learned = true
	}

	return kernels, learned, nil
}
