//go:build windows

package onnx

import (
	"context"
	"errors"

	"github.com/example/go-wavernn/internal/vocoder"
)

// GeneratorConfig mirrors the non-windows configuration.
type GeneratorConfig struct {
	LibraryPath   string
	APIVersion    uint32
	ModelPath     string
	ManifestPath  string
	Mode          vocoder.Mode
	NumMels       int
	Bits          int
	Mixtures      int
	HiddenSize    int
	InputName     string
	HiddenName    string
	LogitsName    string
	HiddenOutName string
}

var errUnavailable = errors.New("onnx: step generator is unavailable on windows")

// Generator is unavailable in windows builds.
type Generator struct{}

// NewGenerator always returns an error in windows builds.
func NewGenerator(GeneratorConfig) (*Generator, error) { return nil, errUnavailable }

func (*Generator) InitState(vocoder.Segment) (vocoder.State, error) { return nil, errUnavailable }

func (*Generator) Step(context.Context, []float32, float32, vocoder.State) (vocoder.Distribution, vocoder.State, error) {
	return nil, nil, errUnavailable
}

// Close is a no-op in windows builds.
func (*Generator) Close() {}
