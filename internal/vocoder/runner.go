package vocoder

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/sourcegraph/conc/pool"
)

// SegmentWarning records a segment whose generation stopped early. Samples
// from Step onward are silence.
type SegmentWarning struct {
	Segment int
	Step    int
	// Start is the global sample index of the first silenced sample.
	Start int
	Err   error
}

func (w SegmentWarning) String() string {
	return fmt.Sprintf("segment %d silenced from step %d (sample %d): %v", w.Segment, w.Step, w.Start, w.Err)
}

// segmentRun is the exclusively owned execution state of one segment.
type segmentRun struct {
	seg     Segment
	cond    [][]float32
	state   State
	sampler *sampler
	prev    float32
	out     []float32

	failed   bool
	failStep int
	failErr  error
}

func newSegmentRun(cfg Config, seg Segment, cond [][]float32, state State) *segmentRun {
	return &segmentRun{
		seg:     seg,
		cond:    cond,
		state:   state,
		sampler: newSampler(cfg, seg.Index),
		out:     make([]float32, seg.Length),
	}
}

func (s *segmentRun) active(step int) bool {
	return !s.failed && step < s.seg.Length
}

// advance produces sample number step. A fatal error is returned; a
// generator failure only marks the segment.
func (s *segmentRun) advance(ctx context.Context, gen Generator, step int) error {
	dist, next, err := gen.Step(ctx, s.cond[s.seg.Offset+step], s.prev, s.state)
	if err != nil {
		if errors.Is(err, ErrGeneratorFailure) {
			s.fail(step, err)
			return nil
		}

		return fmt.Errorf("segment %d step %d: %w", s.seg.Index, step, err)
	}

	out, feedback, err := s.sampler.sample(dist)
	if err != nil {
		s.fail(step, err)
		return nil
	}

	s.out[step] = out
	s.prev = feedback
	s.state = next

	return nil
}

func (s *segmentRun) fail(step int, err error) {
	s.failed = true
	s.failStep = step
	s.failErr = err
	// Drop state so a failed segment holds no generator resources.
	s.state = nil
}

// runner advances all segments in lock-step. At most width segments are
// stepped concurrently; every step ends with a barrier.
type runner struct {
	gen    Generator
	width  int
	logger *slog.Logger
}

func (r *runner) run(ctx context.Context, runs []*segmentRun) ([]SegmentWarning, error) {
	steps := 0
	for _, s := range runs {
		steps = max(steps, s.seg.Length)
	}

	active := make([]*segmentRun, 0, len(runs))

	for step := range steps {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		active = active[:0]

		for _, s := range runs {
			if s.active(step) {
				active = append(active, s)
			}
		}

		if len(active) == 0 {
			break
		}

		if err := r.step(ctx, active, step); err != nil {
			return nil, err
		}
	}

	var warnings []SegmentWarning

	for _, s := range runs {
		if !s.failed {
			continue
		}

		w := SegmentWarning{
			Segment: s.seg.Index,
			Step:    s.failStep,
			Start:   s.seg.Start + s.failStep,
			Err:     s.failErr,
		}
		r.logger.Warn("segment degraded",
			"segment", w.Segment,
			"step", w.Step,
			"sample", w.Start,
			"error", w.Err,
		)

		warnings = append(warnings, w)
	}

	return warnings, nil
}

func (r *runner) step(ctx context.Context, active []*segmentRun, step int) error {
	lanes := min(r.width, len(active))
	if lanes <= 1 {
		for _, s := range active {
			if err := s.advance(ctx, r.gen, step); err != nil {
				return err
			}
		}

		return nil
	}

	p := pool.New().WithMaxGoroutines(lanes).WithErrors().WithFirstError()

	chunk := (len(active) + lanes - 1) / lanes
	for lo := 0; lo < len(active); lo += chunk {
		part := active[lo:min(lo+chunk, len(active))]

		p.Go(func() error {
			for _, s := range part {
				if err := s.advance(ctx, r.gen, step); err != nil {
					return err
				}
			}

			return nil
		})
	}

	return p.Wait()
}
