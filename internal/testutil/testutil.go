// Package testutil provides shared helpers for integration tests: skip
// helpers for optional prerequisites, synthetic mel input and WAV
// assertions.
//
// Typical usage:
//
//	func TestMyIntegration(t *testing.T) {
//	    lib := testutil.RequireONNXRuntime(t)
//	    manifest := testutil.RequireEnvFile(t, "WAVERNN_STEP_MANIFEST")
//	    ...
//	}
package testutil

import (
	"os"
	"testing"

	"github.com/example/go-wavernn/internal/mel"
)

// ortCandidates are common system locations of the ONNX Runtime library.
var ortCandidates = []string{
	"/usr/lib/libonnxruntime.so",
	"/usr/local/lib/libonnxruntime.so",
	"/usr/lib/x86_64-linux-gnu/libonnxruntime.so",
	"/opt/homebrew/lib/libonnxruntime.dylib",
}

// RequireONNXRuntime skips the test if no ONNX Runtime shared library can be
// located and returns its path otherwise. It checks (in order): the
// WAVERNN_ORT_LIB env var, then ORT_LIBRARY_PATH, then common system paths.
func RequireONNXRuntime(tb testing.TB) string {
	tb.Helper()

	for _, env := range []string{"WAVERNN_ORT_LIB", "ORT_LIBRARY_PATH"} {
		if p := os.Getenv(env); p != "" {
			// #nosec G703 -- Integration tests intentionally accept explicit env-provided local library paths.
			if _, err := os.Stat(p); err == nil {
				return p
			}

			tb.Skipf("ONNX Runtime library not found at %s=%q", env, p)

			return ""
		}
	}

	for _, p := range ortCandidates {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}

	tb.Skipf("ONNX Runtime shared library not found; set WAVERNN_ORT_LIB or ORT_LIBRARY_PATH")

	return ""
}

// RequireEnvFile skips the test unless env names an existing file, and
// returns that path.
func RequireEnvFile(tb testing.TB, env string) string {
	tb.Helper()

	p := os.Getenv(env)
	if p == "" {
		tb.Skipf("%s not set", env)
		return ""
	}

	if _, err := os.Stat(p); err != nil {
		tb.Skipf("%s=%q: %v", env, p, err)
		return ""
	}

	return p
}

// SyntheticMel returns mel.Synthetic as T rows of numMels values, the
// shape HTTP clients send.
func SyntheticMel(frames, numMels int) [][]float32 {
	m := mel.Synthetic(frames, numMels)

	out := make([][]float32, frames)
	for t := range out {
		out[t] = append([]float32(nil), m.Frame(t)...)
	}

	return out
}
