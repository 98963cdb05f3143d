package vocoder

import (
	"errors"
	"fmt"
)

// Error classes surfaced by the engine. Callers branch with errors.Is.
var (
	// ErrConfig marks an invalid synthesis configuration. Returned before any
	// generation starts.
	ErrConfig = errors.New("vocoder: invalid configuration")
	// ErrInvalidMel marks a mel-spectrogram that cannot be synthesized.
	ErrInvalidMel = errors.New("vocoder: invalid mel-spectrogram")
	// ErrGeneratorFailure marks a non-finite or out-of-range generator output.
	// It is contained to the offending segment and reported as a warning.
	ErrGeneratorFailure = errors.New("vocoder: generator failure")
	// ErrResourceExhausted marks a run that would exceed the configured
	// segment or sample limits.
	ErrResourceExhausted = errors.New("vocoder: resource limit exceeded")
)

// ConfigError describes a single rejected configuration field.
type ConfigError struct {
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("vocoder: invalid configuration: %s: %s", e.Field, e.Reason)
}

func (e *ConfigError) Unwrap() error { return ErrConfig }

func configErrorf(field, format string, args ...any) error {
	return &ConfigError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// generatorFailuref builds an error wrapping ErrGeneratorFailure.
func generatorFailuref(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrGeneratorFailure, fmt.Sprintf(format, args...))
}
