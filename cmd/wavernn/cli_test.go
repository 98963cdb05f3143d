package main

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/example/go-wavernn/internal/mel"
	"github.com/example/go-wavernn/internal/testutil"
	"github.com/example/go-wavernn/internal/vocoder"
)

// tinyModelFlags configure a model small enough to vocode in milliseconds:
// hop 8 = 2×4, 4 mel bins, 8-wide GRU.
var tinyModelFlags = []string{
	"--sample-rate", "8000",
	"--hop-length", "8",
	"--upsample-factors", "2,4",
	"--num-mels", "4",
	"--bits", "8",
	"--rnn-dims", "8",
	"--fc-dims", "8",
	"--target", "40",
	"--overlap", "8",
	"--fade-out-hops", "1",
	"--threads", "1",
	"--log-level", "error",
}

func runCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()

	orig := activeCfg
	t.Cleanup(func() { activeCfg = orig })

	var stdout, stderr bytes.Buffer

	root := NewRootCmd()
	root.SetOut(&stdout)
	root.SetErr(&stderr)
	root.SetArgs(args)

	err := root.Execute()

	return stdout.String(), err
}

func tinyArgs(weights string, cmd ...string) []string {
	args := append([]string(nil), cmd...)
	args = append(args, tinyModelFlags...)

	return append(args, "--weights", weights)
}

// initTinyModel writes random weights and a 12-frame mel into a temp dir.
func initTinyModel(t *testing.T) (weights, melPath string) {
	t.Helper()

	dir := t.TempDir()
	weights = filepath.Join(dir, "w.safetensors")
	melPath = filepath.Join(dir, "mel.safetensors")

	out, err := runCLI(t, tinyArgs(weights, "model", "init", "--init-seed", "3")...)
	if err != nil {
		t.Fatalf("model init: %v", err)
	}

	if strings.TrimSpace(out) != weights {
		t.Fatalf("model init printed %q, want %q", out, weights)
	}

	if err := mel.Save(melPath, mel.Synthetic(12, 4)); err != nil {
		t.Fatalf("mel.Save: %v", err)
	}

	return weights, melPath
}

func TestModelInspect(t *testing.T) {
	weights, _ := initTinyModel(t)

	out, err := runCLI(t, tinyArgs(weights, "model", "inspect")...)
	if err != nil {
		t.Fatalf("model inspect: %v", err)
	}

	for _, want := range []string{"rnn.weight_ih", "fc3.weight", "upsample.layers.1.weight", "voc_mode: RAW", "rnn_dims: 8", "parameters"} {
		if !strings.Contains(out, want) {
			t.Errorf("inspect output missing %q:\n%s", want, out)
		}
	}
}

func TestVocode_WritesWAV(t *testing.T) {
	weights, melPath := initTinyModel(t)
	out := filepath.Join(filepath.Dir(weights), "out.wav")

	if _, err := runCLI(t, tinyArgs(weights, "vocode", "--mel", melPath, "--out", out, "--normalize")...); err != nil {
		t.Fatalf("vocode: %v", err)
	}

	data, err := os.ReadFile(out)
	if err != nil {
		t.Fatalf("read output: %v", err)
	}

	samples := testutil.AssertValidWAV(t, data, 8000)
	if len(samples) != 12*8 {
		t.Fatalf("samples = %d, want 96", len(samples))
	}

	testutil.AssertWAVDurationApprox(t, data, 0.011, 0.013)
}

func TestVocode_PCM16ToStdoutIsDeterministic(t *testing.T) {
	weights, melPath := initTinyModel(t)

	args := tinyArgs(weights, "vocode", "--mel", melPath, "--out", "-", "--format", "pcm16", "--seed", "9")

	first, err := runCLI(t, args...)
	if err != nil {
		t.Fatalf("vocode: %v", err)
	}

	second, err := runCLI(t, args...)
	if err != nil {
		t.Fatalf("vocode again: %v", err)
	}

	if len(first) != 12*8*2 {
		t.Fatalf("stdout length = %d, want 192", len(first))
	}

	if first != second {
		t.Fatal("same seed produced different audio")
	}

	// Trailing fade ends at silence.
	last := int16(binary.LittleEndian.Uint16([]byte(first[len(first)-2:])))
	if last != 0 {
		t.Fatalf("last sample = %d, want 0 after fade-out", last)
	}
}

func TestVocode_ArgumentErrors(t *testing.T) {
	weights, melPath := initTinyModel(t)

	tests := []struct {
		name string
		args []string
		want string
	}{
		{"missing mel", tinyArgs(weights, "vocode"), "--mel is required"},
		{"bad format", tinyArgs(weights, "vocode", "--mel", melPath, "--format", "mp3"), "--format"},
		{"wrong bins", append(tinyArgs(weights, "vocode", "--mel", melPath), "--num-mels", "5"), "mel"},
		{"missing weights", tinyArgs(filepath.Join(t.TempDir(), "none.safetensors"), "vocode", "--mel", melPath), "load weights"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := runCLI(t, tt.args...)
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("err = %v, want containing %q", err, tt.want)
			}
		})
	}
}

func TestBench_JSONReport(t *testing.T) {
	weights, _ := initTinyModel(t)

	out, err := runCLI(t, tinyArgs(weights, "bench", "--frames", "10", "--runs", "2", "--format", "json")...)
	if err != nil {
		t.Fatalf("bench: %v", err)
	}

	var report struct {
		Runs []struct {
			Samples  int `json:"samples"`
			Segments int `json:"segments"`
		} `json:"runs"`
	}

	if err := json.Unmarshal([]byte(out), &report); err != nil {
		t.Fatalf("bench output is not JSON: %v\n%s", err, out)
	}

	if len(report.Runs) != 2 || report.Runs[0].Samples != 80 || report.Runs[0].Segments != 2 {
		t.Fatalf("report = %+v", report)
	}
}

func TestBench_RequiresInput(t *testing.T) {
	weights, _ := initTinyModel(t)

	if _, err := runCLI(t, tinyArgs(weights, "bench")...); err == nil {
		t.Fatal("bench without --mel or --frames should fail")
	}

	if _, err := runCLI(t, tinyArgs(weights, "bench", "--frames", "4", "--format", "xml")...); err == nil {
		t.Fatal("bench with bad --format should fail")
	}
}

func TestDoctor(t *testing.T) {
	weights, _ := initTinyModel(t)

	out, err := runCLI(t, tinyArgs(weights, "doctor")...)
	if err != nil {
		t.Fatalf("doctor: %v\n%s", err, out)
	}

	for _, want := range []string{"backend: native", "tensors, RAW", "onnx runtime: skipped", "vocoder config: valid", "doctor checks passed"} {
		if !strings.Contains(out, want) {
			t.Errorf("doctor output missing %q:\n%s", want, out)
		}
	}

	_, err = runCLI(t, tinyArgs(filepath.Join(t.TempDir(), "none.safetensors"), "doctor")...)
	if err == nil {
		t.Fatal("doctor should fail when weights are missing")
	}
}

func TestHealth_FailsWithoutServer(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}

	addr := ln.Addr().String()
	ln.Close()

	if _, err := runCLI(t, "health", "--addr", addr, "--log-level", "error"); err == nil {
		t.Fatal("health should fail without a server")
	}
}

func TestMapVocodeError(t *testing.T) {
	for _, sentinel := range []error{vocoder.ErrConfig, vocoder.ErrInvalidMel, vocoder.ErrResourceExhausted} {
		err := mapVocodeError(fmt.Errorf("wrapped: %w", sentinel))
		if !errors.Is(err, sentinel) || !strings.HasPrefix(err.Error(), "vocode failed") {
			t.Errorf("mapVocodeError(%v) = %v", sentinel, err)
		}
	}

	plain := errors.New("plain")
	if mapVocodeError(plain) != plain {
		t.Error("unknown errors should pass through")
	}
}

func TestApplyDSP(t *testing.T) {
	in := []float32{0.5, 0.5, 0.5, 0.5}

	if got := applyDSP(append([]float32(nil), in...), 8000, dspOptions{}); got[0] != 0.5 {
		t.Fatalf("no-op DSP changed samples: %v", got)
	}

	got := applyDSP(append([]float32(nil), in...), 8000, dspOptions{Normalize: true})
	if got[0] != 1 {
		t.Fatalf("normalize: %v", got)
	}
}

func TestModelDownload(t *testing.T) {
	weights, _ := initTinyModel(t)

	blob, err := os.ReadFile(weights)
	if err != nil {
		t.Fatalf("read weights: %v", err)
	}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write(blob)
	}))
	defer srv.Close()

	out := filepath.Join(t.TempDir(), "fetched.safetensors")

	stdout, err := runCLI(t, "model", "download", srv.URL+"/w.safetensors", "--out", out, "--log-level", "error")
	if err != nil {
		t.Fatalf("model download: %v", err)
	}

	if !strings.Contains(stdout, "unverified") {
		t.Errorf("stdout = %q", stdout)
	}

	got, err := os.ReadFile(out)
	if err != nil || !bytes.Equal(got, blob) {
		t.Fatalf("downloaded file differs (err=%v)", err)
	}

	bad := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("not a weights file"))
	}))
	defer bad.Close()

	if _, err := runCLI(t, "model", "download", bad.URL+"/x.safetensors", "--out", filepath.Join(t.TempDir(), "x.safetensors")); err == nil {
		t.Fatal("download of a non-safetensors file should fail validation")
	}
}
