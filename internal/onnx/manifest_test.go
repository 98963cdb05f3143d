package onnx

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeManifest(t *testing.T, dir, body string, files ...string) string {
	t.Helper()

	for _, name := range files {
		if err := os.WriteFile(filepath.Join(dir, name), []byte("fake"), 0o644); err != nil {
			t.Fatalf("write fake onnx file: %v", err)
		}
	}

	path := filepath.Join(dir, "manifest.json")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write manifest: %v", err)
	}

	return path
}

const stepManifest = `{
  "graphs": [
    {
      "name": "wavernn_step",
      "filename": "step.onnx",
      "inputs": [
        {"name":"x","dtype":"float","shape":[1,81]},
        {"name":"h","dtype":"float","shape":[1,512]}
      ],
      "outputs": [
        {"name":"logits","dtype":"float","shape":[1,512]},
        {"name":"h_out","dtype":"float","shape":[1,512]}
      ]
    },
    {
      "name": "upsample",
      "filename": "upsample.onnx",
      "inputs": [{"name":"mel","dtype":"float","shape":[1,80,"frames"]}],
      "outputs": []
    }
  ]
}`

func TestLoadManifest(t *testing.T) {
	tmp := t.TempDir()
	path := writeManifest(t, tmp, stepManifest, "step.onnx", "upsample.onnx")

	graphs, err := LoadManifest(path)
	if err != nil {
		t.Fatalf("LoadManifest: %v", err)
	}

	if len(graphs) != 2 {
		t.Fatalf("graphs = %d, want 2", len(graphs))
	}

	g, err := FindGraph(graphs, StepGraphName)
	if err != nil {
		t.Fatalf("FindGraph: %v", err)
	}

	if g.Path != filepath.Join(tmp, "step.onnx") {
		t.Fatalf("path = %s", g.Path)
	}

	h, ok := g.Input("h")
	if !ok || h.Dim(1) != 512 {
		t.Fatalf("h input = %+v, %v", h, ok)
	}

	up, _ := FindGraph(graphs, "upsample")
	if in, _ := up.Input("mel"); in.Dim(2) != 0 || in.Dim(7) != 0 {
		t.Fatal("symbolic or missing axes should report 0")
	}
}

func TestLoadManifestErrors(t *testing.T) {
	tests := []struct {
		name  string
		body  string
		files []string
		want  string
	}{
		{"empty", `{"graphs":[]}`, nil, "no graphs"},
		{"bad json", `{`, nil, "decode"},
		{"missing file", `{"graphs":[{"name":"a","filename":"a.onnx"}]}`, nil, "graph file"},
		{"no name", `{"graphs":[{"filename":"a.onnx"}]}`, []string{"a.onnx"}, "empty name"},
		{"duplicate", `{"graphs":[{"name":"a","filename":"a.onnx"},{"name":"a","filename":"a.onnx"}]}`, []string{"a.onnx"}, "duplicate"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeManifest(t, t.TempDir(), tt.body, tt.files...)

			_, err := LoadManifest(path)
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("err = %v, want %q", err, tt.want)
			}
		})
	}
}

func TestFindGraphMissing(t *testing.T) {
	_, err := FindGraph([]Graph{{Name: "a"}, {Name: "b"}}, StepGraphName)
	if err == nil || !strings.Contains(err.Error(), "a,b") {
		t.Fatalf("err = %v", err)
	}
}
