package safetensors

import (
	"encoding/binary"
	"fmt"
	"math"
	"strings"
)

const (
	dtypeF32  = "F32"
	dtypeF16  = "F16"
	dtypeBF16 = "BF16"
)

func dtypeBytes(dtype string) (int, error) {
	switch strings.ToUpper(dtype) {
	case dtypeF32:
		return 4, nil
	case dtypeF16, dtypeBF16:
		return 2, nil
	default:
		return 0, fmt.Errorf("unsupported dtype %q", dtype)
	}
}

// decodeTensorData widens F32, F16 and BF16 payloads to float32.
func decodeTensorData(raw []byte, dtype string, shape []int64) ([]float32, error) {
	count, err := shapeElementCount(shape)
	if err != nil {
		return nil, err
	}

	size, err := dtypeBytes(dtype)
	if err != nil {
		return nil, err
	}

	n := int(count)
	if len(raw) < n*size {
		return nil, fmt.Errorf("need %d bytes for %s, got %d", n*size, dtype, len(raw))
	}

	out := make([]float32, n)

	switch strings.ToUpper(dtype) {
	case dtypeF32:
		for i := range out {
			out[i] = math.Float32frombits(binary.LittleEndian.Uint32(raw[i*4:]))
		}
	case dtypeF16:
		for i := range out {
			out[i] = float16ToFloat32(binary.LittleEndian.Uint16(raw[i*2:]))
		}
	case dtypeBF16:
		for i := range out {
			out[i] = math.Float32frombits(uint32(binary.LittleEndian.Uint16(raw[i*2:])) << 16)
		}
	}

	return out, nil
}

func float16ToFloat32(h uint16) float32 {
	sign := uint32(h>>15) & 0x1
	exp := uint32(h>>10) & 0x1f
	frac := uint32(h & 0x03ff)

	var bits uint32

	switch exp {
	case 0:
		if frac == 0 {
			bits = sign << 31
			break
		}

		// Subnormal: shift until the implicit bit appears.
		e := int32(-14)
		for frac&0x0400 == 0 {
			frac <<= 1
			e--
		}

		frac &= 0x03ff
		bits = (sign << 31) | (uint32(e+127) << 23) | (frac << 13)
	case 0x1f:
		bits = (sign << 31) | 0x7f800000 | (frac << 13)
	default:
		bits = (sign << 31) | ((exp + 127 - 15) << 23) | (frac << 13)
	}

	return math.Float32frombits(bits)
}
