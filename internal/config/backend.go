package config

import (
	"fmt"
	"strings"
)

const (
	// BackendNative runs the pure-Go generator on safetensors weights.
	BackendNative = "native"
	// BackendONNX runs an exported step graph through ONNX Runtime.
	BackendONNX = "onnx"
)

func NormalizeBackend(raw string) (string, error) {
	backend := strings.ToLower(strings.TrimSpace(raw))
	switch backend {
	case "", BackendNative, "native-safetensors", "safetensors":
		return BackendNative, nil
	case BackendONNX, "native-onnx", "ort":
		return BackendONNX, nil
	default:
		return "", fmt.Errorf("invalid backend %q (expected %s|%s)", raw, BackendNative, BackendONNX)
	}
}
