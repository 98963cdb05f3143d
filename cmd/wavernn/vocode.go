package main

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/example/go-wavernn/internal/audio"
	"github.com/example/go-wavernn/internal/mel"
	"github.com/example/go-wavernn/internal/vocoder"
)

func newVocodeCmd() *cobra.Command {
	var (
		melPath   string
		out       string
		format    string
		normalize bool
		dcBlock   bool
		fadeInMS  float64
		fadeOutMS float64
	)

	cmd := &cobra.Command{
		Use:   "vocode",
		Short: "Turn a mel-spectrogram file into a waveform",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := requireConfig()
			if err != nil {
				return err
			}

			if melPath == "" {
				return errors.New("--mel is required")
			}

			format = strings.ToLower(format)
			if format != "wav" && format != "pcm16" {
				return fmt.Errorf("--format must be 'wav' or 'pcm16'")
			}

			m, err := mel.LoadFile(melPath, cfg.Vocoder.NumMels)
			if err != nil {
				return err
			}

			engine, release, err := newEngine(cfg)
			if err != nil {
				return err
			}
			defer release()

			res, err := engine.Synthesize(cmd.Context(), m)
			if err != nil {
				return mapVocodeError(err)
			}

			for _, w := range res.Warnings {
				slog.Warn("degraded segment", "detail", w.String())
			}

			samples := applyDSP(res.Samples, res.SampleRate, dspOptions{
				Normalize: normalize,
				DCBlock:   dcBlock,
				FadeInMS:  fadeInMS,
				FadeOutMS: fadeOutMS,
			})

			data, err := encodeOutput(samples, res.SampleRate, format)
			if err != nil {
				return err
			}

			slog.Info("vocoded",
				"frames", m.Frames(),
				"samples", len(samples),
				"segments", len(res.Segments),
				"elapsed", res.Elapsed,
				"rtf", res.RTF(),
			)

			return writeOutput(out, data, cmd.OutOrStdout())
		},
	}

	cmd.Flags().StringVar(&melPath, "mel", "", "Mel-spectrogram safetensors file (required)")
	cmd.Flags().StringVar(&out, "out", "out.wav", "Output path ('-' for stdout)")
	cmd.Flags().StringVar(&format, "format", "wav", "Output format: wav|pcm16")
	cmd.Flags().BoolVar(&normalize, "normalize", false, "Peak-normalize output audio")
	cmd.Flags().BoolVar(&dcBlock, "dc-block", false, "Apply DC-block high-pass filter")
	cmd.Flags().Float64Var(&fadeInMS, "fade-in-ms", 0, "Apply linear fade-in duration in milliseconds")
	cmd.Flags().Float64Var(&fadeOutMS, "fade-out-ms", 0, "Apply linear fade-out duration in milliseconds")

	return cmd
}

type dspOptions struct {
	Normalize bool
	DCBlock   bool
	FadeInMS  float64
	FadeOutMS float64
}

// applyDSP runs the optional post-processing chain: DC block, normalize,
// then fades.
func applyDSP(samples []float32, sampleRate int, opts dspOptions) []float32 {
	var hooks []audio.Hook

	if opts.DCBlock {
		hooks = append(hooks, func(s []float32) []float32 { return audio.DCBlock(s, sampleRate) })
	}

	if opts.Normalize {
		hooks = append(hooks, audio.PeakNormalize)
	}

	if opts.FadeInMS > 0 {
		hooks = append(hooks, func(s []float32) []float32 { return audio.FadeIn(s, sampleRate, opts.FadeInMS) })
	}

	if opts.FadeOutMS > 0 {
		hooks = append(hooks, func(s []float32) []float32 { return audio.FadeOut(s, sampleRate, opts.FadeOutMS) })
	}

	return audio.ApplyHooks(samples, hooks...)
}

func encodeOutput(samples []float32, sampleRate int, format string) ([]byte, error) {
	if format == "pcm16" {
		var buf bytes.Buffer
		if _, err := audio.WritePCM16Samples(&buf, samples); err != nil {
			return nil, fmt.Errorf("encode pcm16: %w", err)
		}

		return buf.Bytes(), nil
	}

	data, err := audio.EncodeWAV(samples, sampleRate)
	if err != nil {
		return nil, fmt.Errorf("encode WAV: %w", err)
	}

	return data, nil
}

func writeOutput(outPath string, data []byte, stdout io.Writer) error {
	if outPath == "-" {
		if stdout == nil {
			return errors.New("stdout writer is nil")
		}

		_, err := stdout.Write(data)

		return err
	}

	return os.WriteFile(outPath, data, 0o644)
}

func mapVocodeError(err error) error {
	switch {
	case errors.Is(err, vocoder.ErrConfig):
		return fmt.Errorf("vocode failed: invalid vocoder configuration: %w", err)
	case errors.Is(err, vocoder.ErrInvalidMel):
		return fmt.Errorf("vocode failed: mel does not match num_mels or contains non-finite values: %w", err)
	case errors.Is(err, vocoder.ErrResourceExhausted):
		return fmt.Errorf("vocode failed: input exceeds max_segments/max_samples: %w", err)
	default:
		return err
	}
}
