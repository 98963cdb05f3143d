//go:build !windows

package onnx

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/example/go-wavernn/internal/testutil"
	"github.com/example/go-wavernn/internal/vocoder"
)

func TestGeneratorConfigResolveFromManifest(t *testing.T) {
	tmp := t.TempDir()
	path := writeManifest(t, tmp, stepManifest, "step.onnx", "upsample.onnx")

	cfg := GeneratorConfig{ManifestPath: path, Mode: vocoder.ModeRaw, NumMels: 80, Bits: 9}
	if err := cfg.resolve(); err != nil {
		t.Fatalf("resolve: %v", err)
	}

	if cfg.ModelPath != filepath.Join(tmp, "step.onnx") || cfg.HiddenSize != 512 {
		t.Fatalf("resolved %+v", cfg)
	}

	if cfg.InputName != "x" || cfg.HiddenOutName != "h_out" || cfg.APIVersion != 23 {
		t.Fatalf("defaults not applied: %+v", cfg)
	}

	if cfg.headSize() != 512 {
		t.Fatalf("head size = %d", cfg.headSize())
	}
}

func TestGeneratorConfigResolveErrors(t *testing.T) {
	tests := []struct {
		name string
		cfg  GeneratorConfig
	}{
		{"no model", GeneratorConfig{Mode: vocoder.ModeRaw, NumMels: 80, HiddenSize: 8}},
		{"no hidden", GeneratorConfig{ModelPath: "step.onnx", Mode: vocoder.ModeRaw, NumMels: 80}},
		{"no mels", GeneratorConfig{ModelPath: "step.onnx", Mode: vocoder.ModeRaw, HiddenSize: 8}},
		{"bad mode", GeneratorConfig{ModelPath: "step.onnx", Mode: "PCM", NumMels: 80, HiddenSize: 8}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.cfg.resolve(); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}

func TestNewGeneratorBadLibrary(t *testing.T) {
	_, err := NewGenerator(GeneratorConfig{
		LibraryPath: filepath.Join(t.TempDir(), "missing.so"),
		ModelPath:   "step.onnx",
		Mode:        vocoder.ModeMOL,
		NumMels:     80,
		Mixtures:    10,
		HiddenSize:  16,
	})
	if err == nil {
		t.Fatal("expected runtime load error")
	}
}

// TestGeneratorStep runs a real step graph when an ONNX Runtime library is
// available and WAVERNN_STEP_MANIFEST names an exported graph.
func TestGeneratorStep(t *testing.T) {
	lib := testutil.RequireONNXRuntime(t)
	manifest := testutil.RequireEnvFile(t, "WAVERNN_STEP_MANIFEST")

	g, err := NewGenerator(GeneratorConfig{
		LibraryPath:  lib,
		ManifestPath: manifest,
		Mode:         vocoder.ModeRaw,
		NumMels:      80,
		Bits:         9,
	})
	if err != nil {
		t.Fatalf("NewGenerator: %v", err)
	}
	defer g.Close()

	st, err := g.InitState(vocoder.Segment{})
	if err != nil {
		t.Fatalf("InitState: %v", err)
	}

	d, _, err := g.Step(context.Background(), make([]float32, 80), 0, st)
	if err != nil {
		t.Fatalf("Step: %v", err)
	}

	if c, ok := d.(*vocoder.Categorical); !ok || len(c.Probs) != 512 {
		t.Fatalf("distribution = %T", d)
	}
}
