package vocoder

// CrossfadeWeights returns the weights applied at position k of an overlap
// region of the given length: tail for the earlier segment, head for the
// later one. They are linear and always sum to one.
func CrossfadeWeights(k, overlap int) (tail, head float64) {
	if overlap <= 0 {
		return 0, 1
	}

	head = float64(k) / float64(overlap)
	tail = 1 - head

	return tail, head
}

// Stitch assembles per-segment buffers into one waveform of total samples.
// Samples outside overlap regions are copied; each segment's head overlap
// is blended with what the previous segment wrote there. Segments must be
// in planning order and buffers[i] must hold segments[i].Length samples.
func Stitch(segments []Segment, buffers [][]float32, total int) []float32 {
	out := make([]float32, total)

	for i, seg := range segments {
		buf := buffers[i]

		for k := range seg.Length {
			pos := seg.Start + k
			if pos >= total {
				break
			}

			if k < seg.OverlapHead {
				tail, head := CrossfadeWeights(k, seg.OverlapHead)
				out[pos] = float32(tail*float64(out[pos]) + head*float64(buf[k]))

				continue
			}

			out[pos] = buf[k]
		}
	}

	return out
}
