package tensor

import (
	"runtime"

	"golang.org/x/sys/cpu"
)

// CPUFeatures lists the SIMD extensions relevant to the dot and axpy
// kernels that the host CPU reports.
func CPUFeatures() []string {
	var out []string

	switch runtime.GOARCH {
	case "amd64", "386":
		for _, f := range []struct {
			name string
			has  bool
		}{
			{"sse4.1", cpu.X86.HasSSE41},
			{"avx", cpu.X86.HasAVX},
			{"avx2", cpu.X86.HasAVX2},
			{"fma", cpu.X86.HasFMA},
			{"avx512f", cpu.X86.HasAVX512F},
		} {
			if f.has {
				out = append(out, f.name)
			}
		}
	case "arm64":
		if cpu.ARM64.HasASIMD {
			out = append(out, "asimd")
		}

		if cpu.ARM64.HasFPHP {
			out = append(out, "fphp")
		}
	}

	return out
}

// Kernel names the dot product implementation in use.
func Kernel() string {
	return "go-unrolled4"
}
