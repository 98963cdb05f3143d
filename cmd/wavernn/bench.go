package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/example/go-wavernn/internal/bench"
	"github.com/example/go-wavernn/internal/mel"
	"github.com/example/go-wavernn/internal/vocoder"
)

func newBenchCmd() *cobra.Command {
	var (
		melPath      string
		frames       int
		runs         int
		format       string
		rtfThreshold float64
		cpuProfile   string
	)

	cmd := &cobra.Command{
		Use:   "bench",
		Short: "Benchmark vocoding latency and realtime factor",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := requireConfig()
			if err != nil {
				return err
			}

			if runs < 1 {
				return errors.New("--runs must be at least 1")
			}

			if format != "table" && format != "json" {
				return errors.New("--format must be 'table' or 'json'")
			}

			var m vocoder.Mel

			switch {
			case melPath != "":
				m, err = mel.LoadFile(melPath, cfg.Vocoder.NumMels)
				if err != nil {
					return err
				}
			case frames > 0:
				m = mel.Synthetic(frames, cfg.Vocoder.NumMels)
			default:
				return errors.New("either --mel or --frames is required")
			}

			engine, release, err := newEngine(cfg)
			if err != nil {
				return err
			}
			defer release()

			stop, err := bench.StartCPUProfile(cpuProfile)
			if err != nil {
				return err
			}

			results, err := bench.Run(cmd.Context(), engine, m, bench.Options{Runs: runs})
			if stopErr := stop(); stopErr != nil && err == nil {
				err = stopErr
			}

			if err != nil {
				return mapVocodeError(err)
			}

			stats := bench.ComputeStats(bench.Durations(results, false))

			switch format {
			case "json":
				bench.FormatJSON(results, stats, cmd.OutOrStdout())
			default:
				bench.FormatTable(results, stats, cmd.OutOrStdout())
			}

			if err := bench.CheckRTFThreshold(bench.MeanRTF(results), rtfThreshold); err != nil {
				return fmt.Errorf("bench: %w", err)
			}

			return nil
		},
	}

	cmd.Flags().StringVar(&melPath, "mel", "", "Mel-spectrogram safetensors file to vocode each run")
	cmd.Flags().IntVar(&frames, "frames", 0, "Vocode a synthetic mel of this many frames instead of --mel")
	cmd.Flags().IntVar(&runs, "runs", 5, "Number of vocoding runs")
	cmd.Flags().StringVar(&format, "format", "table", "Output format: table|json")
	cmd.Flags().Float64Var(&rtfThreshold, "rtf-threshold", 0, "Exit non-zero if mean warm RTF exceeds this value (0 = disabled)")
	cmd.Flags().StringVar(&cpuProfile, "cpuprofile", "", "Write a CPU profile of the runs to this file")

	return cmd
}
