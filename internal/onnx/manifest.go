// Package onnx runs the WaveRNN sample generator as an exported ONNX
// "step" graph through ONNX Runtime.
//
// The graph takes x [1, 1+num_mels] (previous sample then conditioning) and
// h [1, hidden], and returns logits [1, head] and h_out [1, hidden].
package onnx

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
)

// StepGraphName is the manifest entry holding the single-step generator.
const StepGraphName = "wavernn_step"

type NodeInfo struct {
	Name  string `json:"name"`
	DType string `json:"dtype"`
	Shape []any  `json:"shape"`
}

// Dim returns the static size of axis, or 0 when it is symbolic or absent.
func (n NodeInfo) Dim(axis int) int {
	if axis < 0 || axis >= len(n.Shape) {
		return 0
	}

	if v, ok := n.Shape[axis].(float64); ok && v > 0 {
		return int(v)
	}

	return 0
}

// Graph is one exported ONNX graph with its declared interface.
type Graph struct {
	Name    string
	Path    string
	Inputs  []NodeInfo
	Outputs []NodeInfo
}

// Input looks up a declared input by name.
func (g Graph) Input(name string) (NodeInfo, bool) {
	for _, n := range g.Inputs {
		if n.Name == name {
			return n, true
		}
	}

	return NodeInfo{}, false
}

type onnxManifest struct {
	Graphs []onnxGraph `json:"graphs"`
}

type onnxGraph struct {
	Name     string     `json:"name"`
	Filename string     `json:"filename"`
	Inputs   []NodeInfo `json:"inputs"`
	Outputs  []NodeInfo `json:"outputs"`
}

// LoadManifest reads a graph manifest. Relative filenames resolve against
// the manifest directory and must exist.
func LoadManifest(manifestPath string) ([]Graph, error) {
	if manifestPath == "" {
		return nil, errors.New("manifest path is required")
	}

	data, err := os.ReadFile(manifestPath)
	if err != nil {
		return nil, fmt.Errorf("read ONNX manifest: %w", err)
	}

	var manifest onnxManifest
	if err := json.Unmarshal(data, &manifest); err != nil {
		return nil, fmt.Errorf("decode ONNX manifest: %w", err)
	}

	if len(manifest.Graphs) == 0 {
		return nil, errors.New("ONNX manifest has no graphs")
	}

	baseDir := filepath.Dir(manifestPath)
	seen := make(map[string]bool, len(manifest.Graphs))
	graphs := make([]Graph, 0, len(manifest.Graphs))

	for _, g := range manifest.Graphs {
		if g.Name == "" {
			return nil, errors.New("manifest graph has empty name")
		}

		if g.Filename == "" {
			return nil, fmt.Errorf("manifest graph %q has empty filename", g.Name)
		}

		if seen[g.Name] {
			return nil, fmt.Errorf("duplicate graph name %q in manifest", g.Name)
		}

		seen[g.Name] = true

		path := g.Filename
		if !filepath.IsAbs(path) {
			path = filepath.Join(baseDir, g.Filename)
		}

		path = filepath.Clean(path)
		if _, err := os.Stat(path); err != nil {
			return nil, fmt.Errorf("graph file for %q: %w", g.Name, err)
		}

		graphs = append(graphs, Graph{
			Name:    g.Name,
			Path:    path,
			Inputs:  append([]NodeInfo(nil), g.Inputs...),
			Outputs: append([]NodeInfo(nil), g.Outputs...),
		})

		slog.Debug(
			"found ONNX graph",
			"name", g.Name,
			"path", path,
			"inputs", nodeNames(g.Inputs),
			"outputs", nodeNames(g.Outputs),
		)
	}

	return graphs, nil
}

// FindGraph returns the graph called name.
func FindGraph(graphs []Graph, name string) (Graph, error) {
	for _, g := range graphs {
		if g.Name == name {
			return g, nil
		}
	}

	return Graph{}, fmt.Errorf("graph %q not in manifest (have %s)", name, graphNames(graphs))
}

func graphNames(graphs []Graph) string {
	names := make([]string, len(graphs))
	for i, g := range graphs {
		names[i] = g.Name
	}

	return strings.Join(names, ",")
}

func nodeNames(nodes []NodeInfo) string {
	if len(nodes) == 0 {
		return ""
	}

	names := make([]string, 0, len(nodes))
	for _, n := range nodes {
		names = append(names, n.Name)
	}

	return strings.Join(names, ",")
}
