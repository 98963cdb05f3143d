package vocoder

import "fmt"

// Segment is one independently generated stretch of the output waveform.
//
// The segment produces Length samples starting at global sample Start. Its
// first OverlapHead samples are crossfaded with the previous segment's last
// OverlapTail samples. The conditioning window spans mel frames
// [WindowStart, WindowStart+WindowFrames) including Pad context frames on
// both sides; frames outside the spectrogram are zero.
type Segment struct {
	Index       int
	Start       int
	Length      int
	OverlapHead int
	OverlapTail int

	WindowStart  int
	WindowFrames int
	// Offset is the position of Start within the upsampled window. Samples
	// before it are context and are never generated.
	Offset int
}

// End returns the exclusive end sample.
func (s Segment) End() int { return s.Start + s.Length }

// Window returns the segment's conditioning frames, zero-filled outside
// [0, mel.Frames()). The rows alias mel data for in-range frames.
func (s Segment) Window(mel Mel) [][]float32 {
	frames := mel.Frames()
	zero := make([]float32, mel.NumMels)

	rows := make([][]float32, s.WindowFrames)
	for i := range rows {
		f := s.WindowStart + i
		if f < 0 || f >= frames {
			rows[i] = zero
			continue
		}

		rows[i] = mel.Frame(f)
	}

	return rows
}

// PlanSegments splits frames*HopLength output samples into overlapping
// segments. The result is a pure function of frames and cfg.
func PlanSegments(cfg Config, frames int) ([]Segment, error) {
	if frames < 1 {
		return nil, fmt.Errorf("%w: need at least one frame, got %d", ErrInvalidMel, frames)
	}

	hop := cfg.HopLength
	total := frames * hop

	if !cfg.Batched {
		return []Segment{newSegment(cfg, 0, 0, total, 0, 0)}, nil
	}

	target, overlap := cfg.Target, cfg.Overlap

	var segs []Segment

	for i := 0; ; i++ {
		start := i * target
		if i > 0 && start+overlap >= total {
			break
		}

		length := min(target+overlap, total-start)

		head := 0
		if i > 0 {
			head = overlap
		}

		segs = append(segs, newSegment(cfg, i, start, length, head, 0))
	}

	for i := 0; i+1 < len(segs); i++ {
		segs[i].OverlapTail = overlap
	}

	return segs, nil
}

func newSegment(cfg Config, index, start, length, head, tail int) Segment {
	hop := cfg.HopLength
	first := start / hop
	end := (start + length + hop - 1) / hop
	windowStart := first - cfg.Pad

	return Segment{
		Index:        index,
		Start:        start,
		Length:       length,
		OverlapHead:  head,
		OverlapTail:  tail,
		WindowStart:  windowStart,
		WindowFrames: end - first + 2*cfg.Pad,
		Offset:       start - windowStart*hop,
	}
}
