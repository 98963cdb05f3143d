package testutil

import (
	"encoding/binary"
	"testing"

	"github.com/example/go-wavernn/internal/audio"
)

// AssertValidWAV checks that data is a mono 16-bit PCM WAV at sampleRate with
// at least one sample, and returns the decoded samples.
func AssertValidWAV(tb testing.TB, data []byte, sampleRate int) []float32 {
	tb.Helper()

	if len(data) < 44 {
		tb.Fatalf("WAV data too short: %d bytes", len(data))
	}

	if string(data[0:4]) != "RIFF" || string(data[8:12]) != "WAVE" {
		tb.Fatalf("WAV: missing RIFF/WAVE header (got %q)", string(data[0:12]))
	}

	if audioFmt := binary.LittleEndian.Uint16(data[20:22]); audioFmt != 1 {
		tb.Fatalf("WAV: expected PCM format (1), got %d", audioFmt)
	}

	if channels := binary.LittleEndian.Uint16(data[22:24]); channels != 1 {
		tb.Fatalf("WAV: expected mono (1 channel), got %d", channels)
	}

	if bitDepth := binary.LittleEndian.Uint16(data[34:36]); bitDepth != 16 {
		tb.Fatalf("WAV: expected 16-bit depth, got %d", bitDepth)
	}

	samples, rate, err := audio.DecodeWAV(data)
	if err != nil {
		tb.Fatalf("WAV: decode: %v", err)
	}

	if rate != sampleRate {
		tb.Fatalf("WAV: expected sample rate %d, got %d", sampleRate, rate)
	}

	if len(samples) == 0 {
		tb.Fatal("WAV: data chunk contains zero samples")
	}

	return samples
}

// AssertWAVDurationApprox asserts that the WAV audio duration falls within
// [minSec, maxSec].
func AssertWAVDurationApprox(tb testing.TB, data []byte, minSec, maxSec float64) {
	tb.Helper()

	samples, rate, err := audio.DecodeWAV(data)
	if err != nil {
		tb.Fatalf("WAV duration check: %v", err)
	}

	if rate <= 0 {
		tb.Fatalf("WAV duration check: sample rate %d", rate)
	}

	durationSec := float64(len(samples)) / float64(rate)
	if durationSec < minSec || durationSec > maxSec {
		tb.Fatalf("WAV duration %.3fs out of expected range [%.3fs, %.3fs]", durationSec, minSec, maxSec)
	}
}
