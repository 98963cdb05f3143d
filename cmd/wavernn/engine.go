package main

import (
	"fmt"
	"log/slog"

	"github.com/example/go-wavernn/internal/config"
	"github.com/example/go-wavernn/internal/native"
	"github.com/example/go-wavernn/internal/onnx"
	"github.com/example/go-wavernn/internal/runtime/tensor"
	"github.com/example/go-wavernn/internal/vocoder"
)

// newEngine builds a vocoder engine for the configured backend. The
// returned release function frees backend resources.
func newEngine(cfg config.Config) (*vocoder.Engine, func(), error) {
	vc, err := cfg.EngineConfig()
	if err != nil {
		return nil, nil, err
	}

	if cfg.Runtime.Threads > 0 {
		tensor.SetWorkers(cfg.Runtime.Threads)
	}

	var (
		gen     vocoder.Generator
		release = func() {}
	)

	switch cfg.Model.Backend {
	case config.BackendONNX:
		ortLib := cfg.Runtime.ORTLibraryPath
		if ortLib == "" {
			info, err := onnx.DetectRuntime(cfg.Runtime)
			if err != nil {
				return nil, nil, err
			}

			ortLib = info.LibraryPath
		}

		g, err := onnx.NewGenerator(onnx.GeneratorConfig{
			LibraryPath:  ortLib,
			ManifestPath: cfg.Paths.ONNXManifest,
			Mode:         vc.Mode,
			NumMels:      vc.NumMels,
			Bits:         vc.Bits,
			Mixtures:     vc.Mixtures,
			HiddenSize:   cfg.Model.RNNDims,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("onnx generator: %w", err)
		}

		gen = g
		release = g.Close
	default:
		m, err := native.Load(cfg.Paths.WeightsPath, native.ConfigFor(vc, cfg.Model.RNNDims, cfg.Model.FCDims))
		if err != nil {
			return nil, nil, fmt.Errorf("load weights: %w", err)
		}

		gen = m
	}

	engine, err := vocoder.NewEngine(vc, gen, vocoder.WithLogger(slog.Default()))
	if err != nil {
		release()
		return nil, nil, err
	}

	slog.Debug("engine ready",
		"backend", cfg.Model.Backend,
		"voc_mode", string(vc.Mode),
		"batched", vc.Batched,
		"target", vc.Target,
		"overlap", vc.Overlap,
	)

	return engine, release, nil
}
