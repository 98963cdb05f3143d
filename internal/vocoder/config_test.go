package vocoder

import (
	"errors"
	"strings"
	"testing"
)

func TestDefaultConfigIsValid(t *testing.T) {
	if err := DefaultConfig().Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
}

func TestValidateRejects(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		field  string
	}{
		{"factor product", func(c *Config) { c.UpsampleFactors = []int{5, 5, 10} }, "upsample_factors"},
		{"empty factors", func(c *Config) { c.UpsampleFactors = nil }, "upsample_factors"},
		{"negative factor", func(c *Config) { c.UpsampleFactors = []int{-5, -55} }, "upsample_factors"},
		{"hop", func(c *Config) { c.HopLength = 0 }, "hop_length"},
		{"sample rate", func(c *Config) { c.SampleRate = 0 }, "sample_rate"},
		{"mels", func(c *Config) { c.NumMels = 0 }, "num_mels"},
		{"bits low", func(c *Config) { c.Bits = 0 }, "bits"},
		{"bits high", func(c *Config) { c.Bits = 17 }, "bits"},
		{"mode", func(c *Config) { c.Mode = "WAV" }, "voc_mode"},
		{"mixtures", func(c *Config) { c.Mode = ModeMOL; c.Mixtures = 0 }, "mixtures"},
		{"target", func(c *Config) { c.Target = 0 }, "target"},
		{"overlap negative", func(c *Config) { c.Overlap = -1 }, "overlap"},
		{"overlap too large", func(c *Config) { c.Overlap = c.Target }, "overlap"},
		{"pad", func(c *Config) { c.Pad = -1 }, "pad"},
		{"batch width", func(c *Config) { c.BatchWidth = 0 }, "batch_width"},
		{"fade", func(c *Config) { c.FadeOutHops = -1 }, "fade_out_hops"},
		{"limits", func(c *Config) { c.MaxSamples = -1 }, "limits"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)

			err := cfg.Validate()
			if !errors.Is(err, ErrConfig) {
				t.Fatalf("Validate() = %v, want ErrConfig", err)
			}

			var ce *ConfigError
			if !errors.As(err, &ce) || ce.Field != tt.field {
				t.Fatalf("Validate() = %#v, want field %q", err, tt.field)
			}
		})
	}
}

func TestValidateBitsIgnoredInMOL(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Mode = ModeMOL
	cfg.Bits = 0

	if err := cfg.Validate(); err != nil {
		t.Fatalf("MOL config with bits=0 rejected: %v", err)
	}

	if got := cfg.OutputDims(); got != 3*cfg.Mixtures {
		t.Fatalf("OutputDims = %d, want %d", got, 3*cfg.Mixtures)
	}
}

func TestFactorMismatchMessage(t *testing.T) {
	cfg := DefaultConfig()
	cfg.UpsampleFactors = []int{4, 4, 16}

	err := cfg.Validate()
	if err == nil || !strings.Contains(err.Error(), "product 256 (4x4x16) does not equal hop_length 275") {
		t.Fatalf("Validate() = %v", err)
	}
}

func TestParseMode(t *testing.T) {
	for in, want := range map[string]Mode{"raw": ModeRaw, " MOL ": ModeMOL, "Raw": ModeRaw} {
		got, err := ParseMode(in)
		if err != nil || got != want {
			t.Fatalf("ParseMode(%q) = %q, %v; want %q", in, got, err, want)
		}
	}

	if _, err := ParseMode("bits"); !errors.Is(err, ErrConfig) {
		t.Fatalf("ParseMode(bits) err = %v, want ErrConfig", err)
	}
}

func TestCloneDetachesFactors(t *testing.T) {
	cfg := DefaultConfig()
	dup := cfg.Clone()
	dup.UpsampleFactors[0] = 99

	if cfg.UpsampleFactors[0] == 99 {
		t.Fatal("Clone shares UpsampleFactors")
	}
}

func TestNewEngineRejectsInvalidConfig(t *testing.T) {
	cfg := testConfig()
	cfg.Overlap = cfg.Target + 1

	_, err := NewEngine(cfg, newFakeGenerator(cfg))
	if !errors.Is(err, ErrConfig) {
		t.Fatalf("NewEngine err = %v, want ErrConfig", err)
	}

	if _, err := NewEngine(testConfig(), nil); err == nil {
		t.Fatal("NewEngine accepted nil generator")
	}
}
