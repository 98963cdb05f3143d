// Package bench provides benchmarking primitives for the wavernn bench command.
package bench

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"runtime/pprof"
	"strings"
	"time"

	"github.com/example/go-wavernn/internal/vocoder"
)

// Synthesizer is the part of *vocoder.Engine the bench drives.
type Synthesizer interface {
	Synthesize(ctx context.Context, mel vocoder.Mel) (*vocoder.Result, error)
}

// ---------------------------------------------------------------------------
// Run result and stats
// ---------------------------------------------------------------------------

// RunResult holds the timing and audio metadata for a single synthesis run.
type RunResult struct {
	Index         int
	Cold          bool // true for the first run (cold-start)
	Duration      time.Duration
	AudioDuration time.Duration
	RTF           float64
	Samples       int
	Segments      int
	Degraded      int
}

// SamplesPerSecond returns generation throughput.
func (r RunResult) SamplesPerSecond() float64 {
	if r.Duration <= 0 {
		return 0
	}

	return float64(r.Samples) / r.Duration.Seconds()
}

// Options controls Run.
type Options struct {
	Runs int
	// OnRun is called after each run, for progress output.
	OnRun func(RunResult)
}

// Run synthesizes mel opts.Runs times and records per-run timing. The
// first run is flagged cold. A failed run aborts the bench.
func Run(ctx context.Context, s Synthesizer, mel vocoder.Mel, opts Options) ([]RunResult, error) {
	if opts.Runs < 1 {
		return nil, fmt.Errorf("runs must be >= 1, got %d", opts.Runs)
	}

	results := make([]RunResult, 0, opts.Runs)

	for i := range opts.Runs {
		start := time.Now()

		res, err := s.Synthesize(ctx, mel)
		if err != nil {
			return results, fmt.Errorf("run %d: %w", i+1, err)
		}

		elapsed := time.Since(start)
		audioDur := res.Duration()

		r := RunResult{
			Index:         i,
			Cold:          i == 0,
			Duration:      elapsed,
			AudioDuration: audioDur,
			RTF:           CalcRTF(elapsed, audioDur),
			Samples:       len(res.Samples),
			Segments:      len(res.Segments),
			Degraded:      len(res.Warnings),
		}
		results = append(results, r)

		if opts.OnRun != nil {
			opts.OnRun(r)
		}
	}

	return results, nil
}

// Durations extracts the wall-clock durations of runs, optionally skipping
// the cold run when more than one run is available.
func Durations(runs []RunResult, skipCold bool) []time.Duration {
	out := make([]time.Duration, 0, len(runs))
	for _, r := range runs {
		if skipCold && r.Cold && len(runs) > 1 {
			continue
		}

		out = append(out, r.Duration)
	}

	return out
}

// MeanRTF averages RTF over runs, skipping the cold run when possible.
func MeanRTF(runs []RunResult) float64 {
	var (
		sum float64
		n   int
	)

	for _, r := range runs {
		if r.Cold && len(runs) > 1 {
			continue
		}

		sum += r.RTF
		n++
	}

	if n == 0 {
		return 0
	}

	return sum / float64(n)
}

// Stats holds aggregate timing statistics across all runs.
type Stats struct {
	Min  time.Duration
	Max  time.Duration
	Mean time.Duration
}

// ComputeStats calculates min, max and mean over a slice of durations.
// An empty slice yields zero Stats.
func ComputeStats(durations []time.Duration) Stats {
	if len(durations) == 0 {
		return Stats{}
	}

	mn, mx := durations[0], durations[0]

	var sum time.Duration

	for _, d := range durations {
		mn = min(mn, d)
		mx = max(mx, d)
		sum += d
	}

	return Stats{
		Min:  mn,
		Max:  mx,
		Mean: sum / time.Duration(len(durations)),
	}
}

// ---------------------------------------------------------------------------
// RTF helpers
// ---------------------------------------------------------------------------

// CalcRTF returns synthesis_duration / audio_duration.
// Returns 0 if audioDur is zero to avoid division by zero.
func CalcRTF(synthDur, audioDur time.Duration) float64 {
	if audioDur <= 0 {
		return 0
	}

	return float64(synthDur) / float64(audioDur)
}

// CheckRTFThreshold returns an error if meanRTF > threshold.
// A threshold of 0 disables the gate.
func CheckRTFThreshold(meanRTF, threshold float64) error {
	if threshold <= 0 {
		return nil
	}

	if meanRTF > threshold {
		return fmt.Errorf("mean RTF %.3f exceeds threshold %.3f", meanRTF, threshold)
	}

	return nil
}

// ---------------------------------------------------------------------------
// Profiling
// ---------------------------------------------------------------------------

// StartCPUProfile writes a CPU profile to path until the returned stop
// function is called. An empty path is a no-op.
func StartCPUProfile(path string) (func() error, error) {
	if path == "" {
		return func() error { return nil }, nil
	}

	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create cpu profile: %w", err)
	}

	if err := pprof.StartCPUProfile(f); err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("start cpu profile: %w", err)
	}

	return func() error {
		pprof.StopCPUProfile()
		return f.Close()
	}, nil
}

// ---------------------------------------------------------------------------
// Output formatters
// ---------------------------------------------------------------------------

// FormatTable writes a human-readable ASCII table of bench results to w.
func FormatTable(runs []RunResult, stats Stats, w io.Writer) {
	sb := &strings.Builder{}

	fmt.Fprintf(sb, "%-5s  %-5s  %10s  %12s  %8s  %12s  %4s\n", "Run", "Cold", "MS", "Audio(ms)", "RTF", "Samples/s", "Deg")
	fmt.Fprintln(sb, strings.Repeat("-", 70))

	for _, r := range runs {
		cold := ""
		if r.Cold {
			cold = "yes"
		}

		fmt.Fprintf(sb, "%-5d  %-5s  %10.1f  %12.1f  %8.3f  %12.0f  %4d\n",
			r.Index+1,
			cold,
			float64(r.Duration.Milliseconds()),
			float64(r.AudioDuration.Milliseconds()),
			r.RTF,
			r.SamplesPerSecond(),
			r.Degraded,
		)
	}

	fmt.Fprintln(sb, strings.Repeat("-", 70))
	fmt.Fprintf(sb, "%-5s  %-5s  %10.1f  (min)\n", "", "", float64(stats.Min.Milliseconds()))
	fmt.Fprintf(sb, "%-5s  %-5s  %10.1f  (mean)\n", "", "", float64(stats.Mean.Milliseconds()))
	fmt.Fprintf(sb, "%-5s  %-5s  %10.1f  (max)\n", "", "", float64(stats.Max.Milliseconds()))

	fmt.Fprint(w, sb.String())
}

// jsonReport is the top-level JSON structure emitted by FormatJSON.
type jsonReport struct {
	Runs  []jsonRun `json:"runs"`
	Stats jsonStats `json:"stats"`
}

type jsonRun struct {
	Index         int     `json:"index"`
	Cold          bool    `json:"cold"`
	DurationMS    float64 `json:"duration_ms"`
	AudioMS       float64 `json:"audio_ms"`
	RTF           float64 `json:"rtf"`
	Samples       int     `json:"samples"`
	SamplesPerSec float64 `json:"samples_per_sec"`
	Segments      int     `json:"segments"`
	Degraded      int     `json:"degraded_segments"`
}

type jsonStats struct {
	MinMS   float64 `json:"min_ms"`
	MeanMS  float64 `json:"mean_ms"`
	MaxMS   float64 `json:"max_ms"`
	MeanRTF float64 `json:"mean_rtf"`
}

// FormatJSON writes a JSON report of bench results to w.
func FormatJSON(runs []RunResult, stats Stats, w io.Writer) {
	jr := jsonReport{
		Runs: make([]jsonRun, len(runs)),
		Stats: jsonStats{
			MinMS:   float64(stats.Min.Milliseconds()),
			MeanMS:  float64(stats.Mean.Milliseconds()),
			MaxMS:   float64(stats.Max.Milliseconds()),
			MeanRTF: MeanRTF(runs),
		},
	}

	for i, r := range runs {
		jr.Runs[i] = jsonRun{
			Index:         r.Index,
			Cold:          r.Cold,
			DurationMS:    float64(r.Duration.Milliseconds()),
			AudioMS:       float64(r.AudioDuration.Milliseconds()),
			RTF:           r.RTF,
			Samples:       r.Samples,
			SamplesPerSec: r.SamplesPerSecond(),
			Segments:      r.Segments,
			Degraded:      r.Degraded,
		}
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	_ = enc.Encode(jr)
}
