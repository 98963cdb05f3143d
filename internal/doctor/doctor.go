// Package doctor provides environment preflight checks for wavernn.
package doctor

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
)

// PassMark and FailMark are the prefix symbols printed for each check result.
const (
	PassMark = "✓"
	FailMark = "✗"
)

// Oldest ONNX Runtime release whose C API the step generator targets.
const (
	minORTMajor = 1
	minORTMinor = 17
)

// VersionFunc returns a version string or an error if the component is unavailable.
type VersionFunc func() (string, error)

// Config holds injectable dependencies for each doctor check.
type Config struct {
	// WeightsPath is the native safetensors weights file.
	WeightsPath string
	// InspectWeights opens WeightsPath and returns a one-line summary.
	InspectWeights func(path string) (string, error)
	// SkipWeights skips the weights check (onnx backend mode).
	SkipWeights bool
	// ORTVersion returns the detected ONNX Runtime version.
	ORTVersion VersionFunc
	// SkipORT skips the ONNX Runtime check (native backend mode).
	SkipORT bool
	// ManifestPath is the ONNX step graph manifest, checked when non-empty
	// and SkipORT is false.
	ManifestPath string
	// CPUFeatures reports SIMD extensions of the host. Informational only.
	CPUFeatures func() []string
	// Kernel names the tensor kernel in use.
	Kernel string
}

// Result collects the outcome of all checks.
type Result struct {
	failures []string
}

// Failed returns true if any check failed.
func (r *Result) Failed() bool { return len(r.failures) > 0 }

// Failures returns the list of failure messages.
func (r *Result) Failures() []string { return append([]string(nil), r.failures...) }

// AddFailure appends an external failure message to the result.
func (r *Result) AddFailure(msg string) { r.failures = append(r.failures, msg) }

func (r *Result) fail(msg string) { r.failures = append(r.failures, msg) }

// Run executes all configured checks and writes human-readable output to w.
// Each check line is prefixed with PassMark or FailMark.
func Run(cfg Config, w io.Writer) Result {
	var res Result

	// ---- native weights ---------------------------------------------------
	switch {
	case cfg.SkipWeights:
		fmt.Fprintf(w, "%s weights: skipped\n", PassMark)
	case cfg.WeightsPath == "":
		res.fail("weights: no path configured")
		fmt.Fprintf(w, "%s weights: no path configured\n", FailMark)
	default:
		checkWeights(cfg, w, &res)
	}

	// ---- ONNX Runtime -----------------------------------------------------
	if cfg.SkipORT {
		fmt.Fprintf(w, "%s onnx runtime: skipped\n", PassMark)
	} else {
		checkORT(cfg, w, &res)
	}

	// ---- CPU --------------------------------------------------------------
	if cfg.CPUFeatures != nil {
		features := cfg.CPUFeatures()

		list := strings.Join(features, " ")
		if list == "" {
			list = "none detected"
		}

		fmt.Fprintf(w, "%s cpu features: %s\n", PassMark, list)
	}

	if cfg.Kernel != "" {
		fmt.Fprintf(w, "%s tensor kernel: %s\n", PassMark, cfg.Kernel)
	}

	return res
}

func checkWeights(cfg Config, w io.Writer, res *Result) {
	if _, err := os.Stat(cfg.WeightsPath); err != nil {
		res.fail(fmt.Sprintf("weights %q: %v", cfg.WeightsPath, err))
		fmt.Fprintf(w, "%s weights %s: not found\n", FailMark, cfg.WeightsPath)

		return
	}

	if cfg.InspectWeights == nil {
		fmt.Fprintf(w, "%s weights: %s\n", PassMark, cfg.WeightsPath)
		return
	}

	summary, err := cfg.InspectWeights(cfg.WeightsPath)
	if err != nil {
		res.fail(fmt.Sprintf("weights %q: %v", cfg.WeightsPath, err))
		fmt.Fprintf(w, "%s weights %s: %v\n", FailMark, cfg.WeightsPath, err)

		return
	}

	fmt.Fprintf(w, "%s weights: %s (%s)\n", PassMark, cfg.WeightsPath, summary)
}

func checkORT(cfg Config, w io.Writer, res *Result) {
	if cfg.ORTVersion == nil {
		res.fail("onnx runtime: no detector configured")
		fmt.Fprintf(w, "%s onnx runtime: no detector configured\n", FailMark)

		return
	}

	ver, err := cfg.ORTVersion()

	switch {
	case err != nil:
		res.fail(fmt.Sprintf("onnx runtime: %v", err))
		fmt.Fprintf(w, "%s onnx runtime: not found (%v)\n", FailMark, err)
	case ver == "" || ver == "unknown":
		fmt.Fprintf(w, "%s onnx runtime: version unknown\n", PassMark)
	default:
		if verErr := checkORTVersion(ver); verErr != nil {
			res.fail(fmt.Sprintf("onnx runtime: %v", verErr))
			fmt.Fprintf(w, "%s onnx runtime %s: %v\n", FailMark, ver, verErr)
		} else {
			fmt.Fprintf(w, "%s onnx runtime: %s\n", PassMark, ver)
		}
	}

	if cfg.ManifestPath == "" {
		return
	}

	if _, err := os.Stat(cfg.ManifestPath); err != nil {
		res.fail(fmt.Sprintf("onnx manifest %q: %v", cfg.ManifestPath, err))
		fmt.Fprintf(w, "%s onnx manifest %s: not found\n", FailMark, cfg.ManifestPath)
	} else {
		fmt.Fprintf(w, "%s onnx manifest: %s\n", PassMark, cfg.ManifestPath)
	}
}

// checkORTVersion returns an error if ver is older than 1.17.
// ver is expected to be a string like "1.23.0".
func checkORTVersion(ver string) error {
	major, minor, err := parseMajorMinor(ver)
	if err != nil {
		return fmt.Errorf("cannot parse %q: %w", ver, err)
	}

	if major != minORTMajor {
		return fmt.Errorf("requires ONNX Runtime %d.x, got %d", minORTMajor, major)
	}

	if minor < minORTMinor {
		return fmt.Errorf("requires ONNX Runtime >=%d.%d, got %d.%d", minORTMajor, minORTMinor, major, minor)
	}

	return nil
}

func parseMajorMinor(ver string) (major, minor int, err error) {
	parts := strings.SplitN(strings.TrimPrefix(ver, "v"), ".", 3)
	if len(parts) < 2 {
		return 0, 0, fmt.Errorf("unexpected version format %q", ver)
	}

	major, err = strconv.Atoi(parts[0])
	if err != nil {
		return 0, 0, fmt.Errorf("bad major in %q: %w", ver, err)
	}

	minor, err = strconv.Atoi(parts[1])
	if err != nil {
		return 0, 0, fmt.Errorf("bad minor in %q: %w", ver, err)
	}

	return major, minor, nil
}
