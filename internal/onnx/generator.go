//go:build !windows

package onnx

import (
	"context"
	"errors"
	"fmt"
	"math"

	ort "github.com/shota3506/onnxruntime-purego/onnxruntime"

	"github.com/example/go-wavernn/internal/vocoder"
)

// GeneratorConfig selects the step graph and describes its interface.
type GeneratorConfig struct {
	LibraryPath string
	APIVersion  uint32
	// ModelPath is the step graph. Ignored when ManifestPath is set.
	ModelPath string
	// ManifestPath names a graph manifest containing StepGraphName.
	ManifestPath string

	Mode     vocoder.Mode
	NumMels  int
	Bits     int
	Mixtures int
	// HiddenSize may be zero when the manifest declares a static h shape.
	HiddenSize int

	InputName     string
	HiddenName    string
	LogitsName    string
	HiddenOutName string
}

func (c *GeneratorConfig) applyDefaults() {
	if c.APIVersion == 0 {
		c.APIVersion = 23
	}

	if c.InputName == "" {
		c.InputName = "x"
	}

	if c.HiddenName == "" {
		c.HiddenName = "h"
	}

	if c.LogitsName == "" {
		c.LogitsName = "logits"
	}

	if c.HiddenOutName == "" {
		c.HiddenOutName = "h_out"
	}
}

// resolve fills ModelPath and HiddenSize from the manifest, then checks
// that everything needed to build inputs is known.
func (c *GeneratorConfig) resolve() error {
	c.applyDefaults()

	if c.ManifestPath != "" {
		graphs, err := LoadManifest(c.ManifestPath)
		if err != nil {
			return err
		}

		g, err := FindGraph(graphs, StepGraphName)
		if err != nil {
			return err
		}

		c.ModelPath = g.Path

		if h, ok := g.Input(c.HiddenName); ok && c.HiddenSize == 0 {
			c.HiddenSize = h.Dim(1)
		}
	}

	switch {
	case c.ModelPath == "":
		return errors.New("onnx: step graph path is required")
	case c.NumMels < 1:
		return fmt.Errorf("onnx: num_mels %d", c.NumMels)
	case c.HiddenSize < 1:
		return errors.New("onnx: hidden size unknown; set it or declare a static h shape in the manifest")
	case c.Mode != vocoder.ModeRaw && c.Mode != vocoder.ModeMOL:
		return fmt.Errorf("onnx: unknown mode %q", c.Mode)
	}

	return nil
}

func (c GeneratorConfig) headSize() int {
	if c.Mode == vocoder.ModeMOL {
		return 3 * c.Mixtures
	}

	return 1 << c.Bits
}

// Generator implements vocoder.Generator on an ORT session. ORT sessions
// accept concurrent Run calls, so segments may step in parallel.
type Generator struct {
	cfg     GeneratorConfig
	runtime *ort.Runtime
	env     *ort.Env
	session *ort.Session
}

// NewGenerator loads the runtime library and the step graph.
func NewGenerator(cfg GeneratorConfig) (*Generator, error) {
	if err := cfg.resolve(); err != nil {
		return nil, err
	}

	runtime, err := ort.NewRuntime(cfg.LibraryPath, cfg.APIVersion)
	if err != nil {
		return nil, fmt.Errorf("ort runtime: %w", err)
	}

	env, err := runtime.NewEnv("wavernn-step", ort.LoggingLevelWarning)
	if err != nil {
		_ = runtime.Close()
		return nil, fmt.Errorf("ort env: %w", err)
	}

	session, err := runtime.NewSession(env, cfg.ModelPath, nil)
	if err != nil {
		env.Close()
		_ = runtime.Close()

		return nil, fmt.Errorf("ort session (%s): %w", cfg.ModelPath, err)
	}

	return &Generator{cfg: cfg, runtime: runtime, env: env, session: session}, nil
}

type hiddenState struct {
	h []float32
	x []float32
}

func (g *Generator) InitState(vocoder.Segment) (vocoder.State, error) {
	return &hiddenState{
		h: make([]float32, g.cfg.HiddenSize),
		x: make([]float32, 1+g.cfg.NumMels),
	}, nil
}

func (g *Generator) Step(ctx context.Context, cond []float32, prev float32, state vocoder.State) (vocoder.Distribution, vocoder.State, error) {
	st, ok := state.(*hiddenState)
	if !ok {
		return nil, nil, fmt.Errorf("onnx: unexpected state type %T", state)
	}

	if len(cond) != g.cfg.NumMels {
		return nil, nil, fmt.Errorf("onnx: conditioning has %d values, want %d", len(cond), g.cfg.NumMels)
	}

	st.x[0] = prev
	copy(st.x[1:], cond)

	x, err := ort.NewTensorValue(g.runtime, st.x, []int64{1, int64(len(st.x))})
	if err != nil {
		return nil, nil, fmt.Errorf("onnx: input %q: %w", g.cfg.InputName, err)
	}
	defer x.Close()

	h, err := ort.NewTensorValue(g.runtime, st.h, []int64{1, int64(len(st.h))})
	if err != nil {
		return nil, nil, fmt.Errorf("onnx: input %q: %w", g.cfg.HiddenName, err)
	}
	defer h.Close()

	outputs, err := g.session.Run(ctx, map[string]*ort.Value{
		g.cfg.InputName:  x,
		g.cfg.HiddenName: h,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("onnx: run step: %w", err)
	}
	defer closeValues(outputs)

	logits, err := floatOutput(outputs, g.cfg.LogitsName, g.cfg.headSize())
	if err != nil {
		return nil, nil, err
	}

	hOut, err := floatOutput(outputs, g.cfg.HiddenOutName, g.cfg.HiddenSize)
	if err != nil {
		return nil, nil, err
	}

	if !finite(logits) || !finite(hOut) {
		return nil, st, fmt.Errorf("%w: non-finite step output", vocoder.ErrGeneratorFailure)
	}

	copy(st.h, hOut)

	dist, err := vocoder.DistributionFromLogits(g.cfg.Mode, logits, g.cfg.Mixtures)
	if err != nil {
		return nil, st, err
	}

	return dist, st, nil
}

// Close releases all ORT resources. Safe to call multiple times.
func (g *Generator) Close() {
	if g.session != nil {
		g.session.Close()
		g.session = nil
	}

	if g.env != nil {
		g.env.Close()
		g.env = nil
	}

	if g.runtime != nil {
		_ = g.runtime.Close()
		g.runtime = nil
	}
}

func floatOutput(outputs map[string]*ort.Value, name string, want int) ([]float32, error) {
	v, ok := outputs[name]
	if !ok || v == nil {
		return nil, fmt.Errorf("onnx: missing output %q", name)
	}

	data, _, err := ort.GetTensorData[float32](v)
	if err != nil {
		return nil, fmt.Errorf("onnx: output %q: %w", name, err)
	}

	if len(data) != want {
		return nil, fmt.Errorf("onnx: output %q has %d values, want %d", name, len(data), want)
	}

	return append([]float32(nil), data...), nil
}

func closeValues(vals map[string]*ort.Value) {
	for _, v := range vals {
		if v != nil {
			v.Close()
		}
	}
}

func finite(x []float32) bool {
	for _, v := range x {
		if math.IsNaN(float64(v)) || math.IsInf(float64(v), 0) {
			return false
		}
	}

	return true
}
