package main

import (
	"fmt"
	"log/slog"
	"os"
	"slices"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/example/go-wavernn/internal/model"
	"github.com/example/go-wavernn/internal/native"
	"github.com/example/go-wavernn/internal/safetensors"
)

func newModelCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "model",
		Short: "Weight file tooling",
	}

	cmd.AddCommand(newModelInitCmd())
	cmd.AddCommand(newModelInspectCmd())
	cmd.AddCommand(newModelDownloadCmd())

	return cmd
}

func newModelInitCmd() *cobra.Command {
	var (
		out  string
		seed int64
	)

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write randomly initialised native weights for the configured model",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := requireConfig()
			if err != nil {
				return err
			}

			vc, err := cfg.EngineConfig()
			if err != nil {
				return err
			}

			if out == "" {
				out = cfg.Paths.WeightsPath
			}

			m, err := native.NewRandom(native.ConfigFor(vc, cfg.Model.RNNDims, cfg.Model.FCDims), seed)
			if err != nil {
				return err
			}

			if err := native.Save(out, m); err != nil {
				return fmt.Errorf("write weights: %w", err)
			}

			slog.Info("wrote random weights", "path", out, "voc_mode", string(vc.Mode), "rnn_dims", cfg.Model.RNNDims)
			_, err = fmt.Fprintln(cmd.OutOrStdout(), out)

			return err
		},
	}

	cmd.Flags().StringVar(&out, "out", "", "Output safetensors path (defaults to --weights)")
	cmd.Flags().Int64Var(&seed, "init-seed", 1, "Random initialisation seed")

	return cmd
}

func newModelInspectCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "inspect [path]",
		Short: "List tensors, shapes and metadata of a weights file",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := requireConfig()
			if err != nil {
				return err
			}

			path := cfg.Paths.WeightsPath
			if len(args) == 1 {
				path = args[0]
			}

			store, err := safetensors.OpenStore(path, safetensors.StoreOptions{})
			if err != nil {
				return err
			}
			defer store.Close()

			out := cmd.OutOrStdout()

			var total int64

			for _, name := range store.Names() {
				shape, _ := store.Shape(name)

				n := int64(1)
				dims := make([]string, len(shape))

				for i, d := range shape {
					dims[i] = fmt.Sprint(d)
					n *= d
				}

				total += n
				_, _ = fmt.Fprintf(out, "%-40s %-5s [%s]\n", name, store.DType(name), strings.Join(dims, " "))
			}

			_, _ = fmt.Fprintf(out, "%d tensors, %s parameters\n", len(store.Names()), humanize.Comma(total))

			md := store.Metadata()
			keys := make([]string, 0, len(md))

			for k := range md {
				keys = append(keys, k)
			}

			slices.Sort(keys)

			for _, k := range keys {
				_, _ = fmt.Fprintf(out, "%s: %s\n", k, md[k])
			}

			return nil
		},
	}

	return cmd
}

func newModelDownloadCmd() *cobra.Command {
	var (
		sha   string
		out   string
		token string
	)

	cmd := &cobra.Command{
		Use:   "download <url>",
		Short: "Fetch a weights file and verify its SHA-256",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := requireConfig()
			if err != nil {
				return err
			}

			if out == "" {
				out = cfg.Paths.WeightsPath
			}

			if token == "" {
				token = os.Getenv("HF_TOKEN")
			}

			_, err = model.Download(cmd.Context(), model.DownloadOptions{
				URL:      args[0],
				SHA256:   sha,
				OutPath:  out,
				Token:    token,
				Validate: validateSafetensors,
				Stdout:   cmd.OutOrStdout(),
			})

			return err
		},
	}

	cmd.Flags().StringVar(&sha, "sha256", "", "Expected SHA-256 hex digest")
	cmd.Flags().StringVar(&out, "out", "", "Output path (defaults to --weights)")
	cmd.Flags().StringVar(&token, "token", "", "Bearer token for private repositories (default $HF_TOKEN)")

	return cmd
}

// validateSafetensors rejects downloads that do not parse as safetensors.
func validateSafetensors(path string) error {
	_, err := summarizeWeights(path)
	return err
}
