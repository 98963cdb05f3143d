// Package config loads layered settings (defaults, config file, WAVERNN_*
// environment, command-line flags) with viper.
package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/example/go-wavernn/internal/vocoder"
)

type Config struct {
	Paths     PathsConfig   `mapstructure:"paths"`
	Vocoder   VocoderConfig `mapstructure:"vocoder"`
	Model     ModelConfig   `mapstructure:"model"`
	Runtime   RuntimeConfig `mapstructure:"runtime"`
	Server    ServerConfig  `mapstructure:"server"`
	LogLevel  string        `mapstructure:"log_level"`
	LogFormat string        `mapstructure:"log_format"`
}

type PathsConfig struct {
	WeightsPath  string `mapstructure:"weights_path"`
	ONNXManifest string `mapstructure:"onnx_manifest"`
}

type VocoderConfig struct {
	SampleRate      int    `mapstructure:"sample_rate"`
	HopLength       int    `mapstructure:"hop_length"`
	NumMels         int    `mapstructure:"num_mels"`
	UpsampleFactors []int  `mapstructure:"upsample_factors"`
	VocMode         string `mapstructure:"voc_mode"`
	Bits            int    `mapstructure:"bits"`
	MuLaw           bool   `mapstructure:"mu_law"`
	GenBatched      bool   `mapstructure:"gen_batched"`
	Target          int    `mapstructure:"target"`
	Overlap         int    `mapstructure:"overlap"`
	Pad             int    `mapstructure:"pad"`
	BatchWidth      int    `mapstructure:"batch_width"`
	Seed            int64  `mapstructure:"seed"`
	Deterministic   bool   `mapstructure:"deterministic"`
	FadeOutHops     int    `mapstructure:"fade_out_hops"`
	MaxSegments     int    `mapstructure:"max_segments"`
	MaxSamples      int    `mapstructure:"max_samples"`
}

type ModelConfig struct {
	Backend  string `mapstructure:"backend"`
	RNNDims  int    `mapstructure:"rnn_dims"`
	FCDims   int    `mapstructure:"fc_dims"`
	Mixtures int    `mapstructure:"mixtures"`
}

type RuntimeConfig struct {
	Threads        int    `mapstructure:"threads"`
	ORTLibraryPath string `mapstructure:"ort_library_path"`
	ORTVersion     string `mapstructure:"ort_version"`
}

type ServerConfig struct {
	ListenAddr      string  `mapstructure:"listen_addr"`
	Workers         int     `mapstructure:"workers"`
	MaxFrames       int     `mapstructure:"max_frames"`
	RequestTimeout  int     `mapstructure:"request_timeout"`
	ShutdownTimeout int     `mapstructure:"shutdown_timeout"`
	RateLimit       float64 `mapstructure:"rate_limit"`
	RateBurst       int     `mapstructure:"rate_burst"`
}

type LoadOptions struct {
	Cmd        flagBinder
	ConfigFile string
	Defaults   Config
}

type flagBinder interface {
	Flags() *pflag.FlagSet
}

func DefaultConfig() Config {
	vc := vocoder.DefaultConfig()

	return Config{
		Paths: PathsConfig{
			WeightsPath:  "models/wavernn.safetensors",
			ONNXManifest: "models/onnx/manifest.json",
		},
		Vocoder: VocoderConfig{
			SampleRate:      vc.SampleRate,
			HopLength:       vc.HopLength,
			NumMels:         vc.NumMels,
			UpsampleFactors: append([]int(nil), vc.UpsampleFactors...),
			VocMode:         string(vc.Mode),
			Bits:            vc.Bits,
			MuLaw:           vc.MuLaw,
			GenBatched:      vc.Batched,
			Target:          vc.Target,
			Overlap:         vc.Overlap,
			Pad:             vc.Pad,
			BatchWidth:      vc.BatchWidth,
			Seed:            vc.Seed,
			Deterministic:   vc.Deterministic,
			FadeOutHops:     vc.FadeOutHops,
			MaxSegments:     vc.MaxSegments,
			MaxSamples:      vc.MaxSamples,
		},
		Model: ModelConfig{
			Backend:  BackendNative,
			RNNDims:  512,
			FCDims:   512,
			Mixtures: vc.Mixtures,
		},
		Runtime: RuntimeConfig{
			Threads: 4,
		},
		Server: ServerConfig{
			ListenAddr:      ":8080",
			Workers:         2,
			MaxFrames:       4000,
			RequestTimeout:  120,
			ShutdownTimeout: 30,
			RateLimit:       0,
			RateBurst:       4,
		},
		LogLevel:  "info",
		LogFormat: "text",
	}
}

// EngineConfig converts the loaded settings into an engine configuration.
// Range checks happen in vocoder.Config.Validate.
func (c Config) EngineConfig() (vocoder.Config, error) {
	mode, err := vocoder.ParseMode(c.Vocoder.VocMode)
	if err != nil {
		return vocoder.Config{}, err
	}

	v := c.Vocoder

	return vocoder.Config{
		SampleRate:      v.SampleRate,
		HopLength:       v.HopLength,
		NumMels:         v.NumMels,
		UpsampleFactors: append([]int(nil), v.UpsampleFactors...),
		Mode:            mode,
		Bits:            v.Bits,
		MuLaw:           v.MuLaw,
		Mixtures:        c.Model.Mixtures,
		Batched:         v.GenBatched,
		Target:          v.Target,
		Overlap:         v.Overlap,
		Pad:             v.Pad,
		BatchWidth:      v.BatchWidth,
		Seed:            v.Seed,
		Deterministic:   v.Deterministic,
		FadeOutHops:     v.FadeOutHops,
		MaxSegments:     v.MaxSegments,
		MaxSamples:      v.MaxSamples,
	}, nil
}

// flagKeys maps each command-line flag to its config key.
var flagKeys = map[string]string{
	"weights":          "paths.weights_path",
	"onnx-manifest":    "paths.onnx_manifest",
	"sample-rate":      "vocoder.sample_rate",
	"hop-length":       "vocoder.hop_length",
	"num-mels":         "vocoder.num_mels",
	"upsample-factors": "vocoder.upsample_factors",
	"voc-mode":         "vocoder.voc_mode",
	"bits":             "vocoder.bits",
	"mu-law":           "vocoder.mu_law",
	"batched":          "vocoder.gen_batched",
	"target":           "vocoder.target",
	"overlap":          "vocoder.overlap",
	"pad":              "vocoder.pad",
	"batch-width":      "vocoder.batch_width",
	"seed":             "vocoder.seed",
	"deterministic":    "vocoder.deterministic",
	"fade-out-hops":    "vocoder.fade_out_hops",
	"max-segments":     "vocoder.max_segments",
	"max-samples":      "vocoder.max_samples",
	"backend":          "model.backend",
	"rnn-dims":         "model.rnn_dims",
	"fc-dims":          "model.fc_dims",
	"mixtures":         "model.mixtures",
	"threads":          "runtime.threads",
	"ort-lib":          "runtime.ort_library_path",
	"ort-version":      "runtime.ort_version",
	"listen":           "server.listen_addr",
	"workers":          "server.workers",
	"max-frames":       "server.max_frames",
	"request-timeout":  "server.request_timeout",
	"shutdown-timeout": "server.shutdown_timeout",
	"rate-limit":       "server.rate_limit",
	"rate-burst":       "server.rate_burst",
	"log-level":        "log_level",
	"log-format":       "log_format",
}

func RegisterFlags(fs *pflag.FlagSet, defaults Config) {
	fs.String("weights", defaults.Paths.WeightsPath, "Path to native WaveRNN weights (.safetensors)")
	fs.String("onnx-manifest", defaults.Paths.ONNXManifest, "Path to ONNX graph manifest (onnx backend)")

	v := defaults.Vocoder
	fs.Int("sample-rate", v.SampleRate, "Output sample rate in Hz")
	fs.Int("hop-length", v.HopLength, "Output samples per mel frame")
	fs.Int("num-mels", v.NumMels, "Mel bins per frame")
	fs.IntSlice("upsample-factors", v.UpsampleFactors, "Upsampling factors (product must equal hop-length)")
	fs.String("voc-mode", v.VocMode, "Output head: RAW or MOL")
	fs.Int("bits", v.Bits, "RAW quantization bits")
	fs.Bool("mu-law", v.MuLaw, "Mu-law companding for RAW levels")
	fs.Bool("batched", v.GenBatched, "Split input into crossfaded segments generated in lock-step")
	fs.Int("target", v.Target, "New samples per segment")
	fs.Int("overlap", v.Overlap, "Samples shared by neighbouring segments")
	fs.Int("pad", v.Pad, "Context frames on each side of a segment")
	fs.Int("batch-width", v.BatchWidth, "Segments advanced concurrently per step")
	fs.Int64("seed", v.Seed, "Sampling seed")
	fs.Bool("deterministic", v.Deterministic, "Arg-max / mean sampling instead of random draws")
	fs.Int("fade-out-hops", v.FadeOutHops, "Trailing fade length in hops (0 disables)")
	fs.Int("max-segments", v.MaxSegments, "Reject inputs needing more segments (0 = unlimited)")
	fs.Int("max-samples", v.MaxSamples, "Reject inputs producing more samples (0 = unlimited)")

	fs.String("backend", defaults.Model.Backend, "Generator backend: native or onnx")
	fs.Int("rnn-dims", defaults.Model.RNNDims, "GRU width for random model init")
	fs.Int("fc-dims", defaults.Model.FCDims, "Fully connected width for random model init")
	fs.Int("mixtures", defaults.Model.Mixtures, "Logistic mixture components (MOL)")

	fs.Int("threads", defaults.Runtime.Threads, "Worker threads for tensor kernels")
	fs.String("ort-lib", defaults.Runtime.ORTLibraryPath, "Path to ONNX Runtime shared library")
	fs.String("ort-version", defaults.Runtime.ORTVersion, "Expected ONNX Runtime version")

	fs.String("listen", defaults.Server.ListenAddr, "HTTP listen address")
	fs.Int("workers", defaults.Server.Workers, "Concurrent vocode requests")
	fs.Int("max-frames", defaults.Server.MaxFrames, "Largest accepted mel input in frames")
	fs.Int("request-timeout", defaults.Server.RequestTimeout, "Per-request timeout in seconds")
	fs.Int("shutdown-timeout", defaults.Server.ShutdownTimeout, "Graceful shutdown timeout in seconds")
	fs.Float64("rate-limit", defaults.Server.RateLimit, "Vocode requests per second (0 disables)")
	fs.Int("rate-burst", defaults.Server.RateBurst, "Rate limiter burst size")

	fs.String("log-level", defaults.LogLevel, "Log level: debug, info, warn, error")
	fs.String("log-format", defaults.LogFormat, "Log format: text or json")
}

func Load(opts LoadOptions) (Config, error) {
	v := viper.New()

	setDefaults(v, opts.Defaults)

	if opts.Cmd != nil {
		if err := bindFlags(v, opts.Cmd.Flags()); err != nil {
			return Config{}, err
		}
	}

	v.SetEnvPrefix("WAVERNN")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))

	if err := v.BindEnv("runtime.ort_library_path", "WAVERNN_ORT_LIB", "ORT_LIBRARY_PATH"); err != nil {
		return Config{}, fmt.Errorf("bind ort env vars: %w", err)
	}

	v.AutomaticEnv()

	if opts.ConfigFile != "" {
		v.SetConfigFile(opts.ConfigFile)

		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config file: %w", err)
		}
	} else {
		v.SetConfigName("wavernn")
		v.AddConfigPath(".")

		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return Config{}, fmt.Errorf("read config file: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}

	backend, err := NormalizeBackend(cfg.Model.Backend)
	if err != nil {
		return Config{}, err
	}

	cfg.Model.Backend = backend

	return cfg, nil
}

func setDefaults(v *viper.Viper, c Config) {
	v.SetDefault("paths.weights_path", c.Paths.WeightsPath)
	v.SetDefault("paths.onnx_manifest", c.Paths.ONNXManifest)
	v.SetDefault("vocoder.sample_rate", c.Vocoder.SampleRate)
	v.SetDefault("vocoder.hop_length", c.Vocoder.HopLength)
	v.SetDefault("vocoder.num_mels", c.Vocoder.NumMels)
	v.SetDefault("vocoder.upsample_factors", c.Vocoder.UpsampleFactors)
	v.SetDefault("vocoder.voc_mode", c.Vocoder.VocMode)
	v.SetDefault("vocoder.bits", c.Vocoder.Bits)
	v.SetDefault("vocoder.mu_law", c.Vocoder.MuLaw)
	v.SetDefault("vocoder.gen_batched", c.Vocoder.GenBatched)
	v.SetDefault("vocoder.target", c.Vocoder.Target)
	v.SetDefault("vocoder.overlap", c.Vocoder.Overlap)
	v.SetDefault("vocoder.pad", c.Vocoder.Pad)
	v.SetDefault("vocoder.batch_width", c.Vocoder.BatchWidth)
	v.SetDefault("vocoder.seed", c.Vocoder.Seed)
	v.SetDefault("vocoder.deterministic", c.Vocoder.Deterministic)
	v.SetDefault("vocoder.fade_out_hops", c.Vocoder.FadeOutHops)
	v.SetDefault("vocoder.max_segments", c.Vocoder.MaxSegments)
	v.SetDefault("vocoder.max_samples", c.Vocoder.MaxSamples)
	v.SetDefault("model.backend", c.Model.Backend)
	v.SetDefault("model.rnn_dims", c.Model.RNNDims)
	v.SetDefault("model.fc_dims", c.Model.FCDims)
	v.SetDefault("model.mixtures", c.Model.Mixtures)
	v.SetDefault("runtime.threads", c.Runtime.Threads)
	v.SetDefault("runtime.ort_library_path", c.Runtime.ORTLibraryPath)
	v.SetDefault("runtime.ort_version", c.Runtime.ORTVersion)
	v.SetDefault("server.listen_addr", c.Server.ListenAddr)
	v.SetDefault("server.workers", c.Server.Workers)
	v.SetDefault("server.max_frames", c.Server.MaxFrames)
	v.SetDefault("server.request_timeout", c.Server.RequestTimeout)
	v.SetDefault("server.shutdown_timeout", c.Server.ShutdownTimeout)
	v.SetDefault("server.rate_limit", c.Server.RateLimit)
	v.SetDefault("server.rate_burst", c.Server.RateBurst)
	v.SetDefault("log_level", c.LogLevel)
	v.SetDefault("log_format", c.LogFormat)
}

// bindFlags binds every registered flag to its nested key so that config
// file values and flags resolve to the same setting.
func bindFlags(v *viper.Viper, fs *pflag.FlagSet) error {
	for name, key := range flagKeys {
		f := fs.Lookup(name)
		if f == nil {
			continue
		}

		if err := v.BindPFlag(key, f); err != nil {
			return fmt.Errorf("bind flag %q: %w", name, err)
		}
	}

	return nil
}
