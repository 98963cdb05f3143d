package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/example/go-wavernn/internal/config"
	"github.com/example/go-wavernn/internal/doctor"
	"github.com/example/go-wavernn/internal/onnx"
	"github.com/example/go-wavernn/internal/runtime/tensor"
	"github.com/example/go-wavernn/internal/safetensors"
)

func newDoctorCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Run local runtime and model checks",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := requireConfig()
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			onnxMode := cfg.Model.Backend == config.BackendONNX

			_, _ = fmt.Fprintf(out, "backend: %s\n", cfg.Model.Backend)

			dcfg := doctor.Config{
				WeightsPath:    cfg.Paths.WeightsPath,
				InspectWeights: summarizeWeights,
				SkipWeights:    onnxMode,
				ORTVersion: func() (string, error) {
					info, err := onnx.DetectRuntime(cfg.Runtime)
					return info.Version, err
				},
				SkipORT:     !onnxMode,
				CPUFeatures: tensor.CPUFeatures,
				Kernel:      tensor.Kernel(),
			}
			if onnxMode {
				dcfg.ManifestPath = cfg.Paths.ONNXManifest
			}

			result := doctor.Run(dcfg, out)

			if _, err := cfg.EngineConfig(); err != nil {
				result.AddFailure(fmt.Sprintf("vocoder config: %v", err))
				_, _ = fmt.Fprintf(out, "%s vocoder config: %v\n", doctor.FailMark, err)
			} else {
				_, _ = fmt.Fprintf(out, "%s vocoder config: valid\n", doctor.PassMark)
			}

			if result.Failed() {
				for _, f := range result.Failures() {
					// #nosec G705 -- Writes plain diagnostic text to stderr for CLI output, not HTML rendering.
					_, _ = fmt.Fprintf(cmd.ErrOrStderr(), "FAIL: %s\n", f)
				}

				return errors.New("doctor checks failed")
			}

			_, _ = fmt.Fprintln(out, "doctor checks passed")

			return nil
		},
	}

	return cmd
}

// summarizeWeights opens a safetensors file and reports its tensor count
// and recorded hyperparameters.
func summarizeWeights(path string) (string, error) {
	store, err := safetensors.OpenStore(path, safetensors.StoreOptions{})
	if err != nil {
		return "", err
	}
	defer store.Close()

	summary := fmt.Sprintf("%d tensors", len(store.Names()))
	if mode := store.Metadata()["voc_mode"]; mode != "" {
		summary += ", " + mode
	}

	return summary, nil
}
