package vocoder

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/example/go-wavernn/internal/audio"
	"github.com/example/go-wavernn/internal/upsample"
)

// Engine turns mel-spectrograms into waveforms with a Generator. An Engine
// holds no per-call mutable state and may serve concurrent Synthesize calls
// if its Generator and Conditioner allow it.
type Engine struct {
	cfg    Config
	gen    Generator
	cond   Conditioner
	logger *slog.Logger
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the engine logger. Defaults to slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithConditioner overrides the upsampling network.
func WithConditioner(c Conditioner) Option {
	return func(e *Engine) {
		if c != nil {
			e.cond = c
		}
	}
}

// NewEngine validates cfg and binds it to gen. Without WithConditioner the
// generator's own conditioner is used if it provides one, otherwise a
// fixed smoothing upsampler for cfg.UpsampleFactors.
func NewEngine(cfg Config, gen Generator, opts ...Option) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if gen == nil {
		return nil, errors.New("vocoder: generator is required")
	}

	e := &Engine{cfg: cfg.Clone(), gen: gen, logger: slog.Default()}
	for _, opt := range opts {
		opt(e)
	}

	if e.cond == nil {
		if p, ok := gen.(ConditionerProvider); ok {
			e.cond = p.Conditioner()
		}
	}

	if e.cond == nil {
		net, err := upsample.New(cfg.UpsampleFactors, nil)
		if err != nil {
			return nil, fmt.Errorf("build upsampler: %w", err)
		}

		e.cond = net
	}

	return e, nil
}

// Config returns a copy of the engine configuration.
func (e *Engine) Config() Config { return e.cfg.Clone() }

// SegmentInfo describes one planned segment in a Result.
type SegmentInfo struct {
	Segment

	Degraded bool
}

// Result is a complete synthesized waveform plus run metadata.
type Result struct {
	Samples    []float32
	SampleRate int
	Elapsed    time.Duration
	Segments   []SegmentInfo
	Warnings   []SegmentWarning
}

// Degraded reports whether any segment was silenced.
func (r *Result) Degraded() bool { return len(r.Warnings) > 0 }

// DegradedSegments returns the indices of silenced segments in order.
func (r *Result) DegradedSegments() []int {
	out := make([]int, 0, len(r.Warnings))
	for _, w := range r.Warnings {
		out = append(out, w.Segment)
	}

	return out
}

// Duration returns the audio duration.
func (r *Result) Duration() time.Duration {
	if r.SampleRate < 1 {
		return 0
	}

	return time.Duration(float64(len(r.Samples)) / float64(r.SampleRate) * float64(time.Second))
}

// RTF returns elapsed time divided by audio duration.
func (r *Result) RTF() float64 {
	d := r.Duration()
	if d <= 0 {
		return 0
	}

	return r.Elapsed.Seconds() / d.Seconds()
}

// Synthesize generates the waveform for mel. It returns either a
// full-length waveform, possibly with silenced segments listed in
// Result.Warnings, or an error and no waveform.
func (e *Engine) Synthesize(ctx context.Context, mel Mel) (*Result, error) {
	start := time.Now()

	if err := mel.Validate(e.cfg.NumMels); err != nil {
		return nil, err
	}

	frames := mel.Frames()
	total := frames * e.cfg.HopLength

	segs, err := PlanSegments(e.cfg, frames)
	if err != nil {
		return nil, err
	}

	if err := e.checkLimits(segs, total); err != nil {
		return nil, err
	}

	e.logger.Debug("segments planned",
		"frames", frames,
		"samples", total,
		"segments", len(segs),
		"target_frames", e.cfg.Target/e.cfg.HopLength,
		"overlap_frames", e.cfg.Overlap/e.cfg.HopLength,
	)

	runs := make([]*segmentRun, len(segs))

	for i, seg := range segs {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		run, err := e.prepare(seg, mel)
		if err != nil {
			return nil, err
		}

		runs[i] = run
	}

	r := &runner{gen: e.gen, width: e.cfg.BatchWidth, logger: e.logger}

	warnings, err := r.run(ctx, runs)
	if err != nil {
		return nil, err
	}

	buffers := make([][]float32, len(runs))
	for i, run := range runs {
		buffers[i] = run.out
	}

	samples := Stitch(segs, buffers, total)
	audio.FadeOutSamples(samples, e.cfg.FadeOutHops*e.cfg.HopLength)

	res := &Result{
		Samples:    samples,
		SampleRate: e.cfg.SampleRate,
		Elapsed:    time.Since(start),
		Segments:   make([]SegmentInfo, len(segs)),
		Warnings:   warnings,
	}

	for i, seg := range segs {
		res.Segments[i] = SegmentInfo{Segment: seg, Degraded: runs[i].failed}
	}

	e.logger.Info("vocoded",
		"samples", len(samples),
		"segments", len(segs),
		"degraded", len(warnings),
		"elapsed_ms", res.Elapsed.Milliseconds(),
		"rtf", res.RTF(),
	)

	return res, nil
}

func (e *Engine) checkLimits(segs []Segment, total int) error {
	if e.cfg.MaxSegments > 0 && len(segs) > e.cfg.MaxSegments {
		return fmt.Errorf("%w: %d segments exceeds max_segments %d", ErrResourceExhausted, len(segs), e.cfg.MaxSegments)
	}

	if e.cfg.MaxSamples > 0 && total > e.cfg.MaxSamples {
		return fmt.Errorf("%w: %d samples exceeds max_samples %d", ErrResourceExhausted, total, e.cfg.MaxSamples)
	}

	return nil
}

func (e *Engine) prepare(seg Segment, mel Mel) (*segmentRun, error) {
	cond, err := e.cond.Forward(seg.Window(mel))
	if err != nil {
		return nil, fmt.Errorf("condition segment %d: %w", seg.Index, err)
	}

	if want := seg.WindowFrames * e.cfg.HopLength; len(cond) != want {
		return nil, fmt.Errorf("condition segment %d: got %d rows, want %d", seg.Index, len(cond), want)
	}

	state, err := e.gen.InitState(seg)
	if err != nil {
		return nil, fmt.Errorf("init state for segment %d: %w", seg.Index, err)
	}

	return newSegmentRun(e.cfg, seg, cond, state), nil
}
