package audio

// Hook is a post-processing step over a finished waveform.
type Hook func(samples []float32) []float32

// ApplyHooks runs hooks in order.
func ApplyHooks(samples []float32, hooks ...Hook) []float32 {
	out := samples
	for _, hook := range hooks {
		out = hook(out)
	}

	return out
}
