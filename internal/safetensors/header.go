package safetensors

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"strings"
)

const metadataKey = "__metadata__"

// maxHeaderBytes bounds the JSON header so a corrupt length prefix cannot
// trigger a huge allocation.
const maxHeaderBytes = 100 << 20

type headerEntry struct {
	DType   string  `json:"dtype"`
	Shape   []int64 `json:"shape"`
	Offsets [2]int  `json:"data_offsets"`
}

type header struct {
	end      int
	entries  map[string]headerEntry
	metadata map[string]string
}

func decodeHeader(data []byte) (header, error) {
	if len(data) < 8 {
		return header{}, fmt.Errorf("safetensors: file too short (%d bytes)", len(data))
	}

	n := binary.LittleEndian.Uint64(data[:8])
	if n > maxHeaderBytes || 8+int(n) > len(data) {
		return header{}, fmt.Errorf("safetensors: header length %d exceeds file size %d", n, len(data))
	}

	end := 8 + int(n)

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data[8:end], &raw); err != nil {
		return header{}, fmt.Errorf("safetensors: parse header: %w", err)
	}

	h := header{end: end, entries: make(map[string]headerEntry, len(raw))}

	for name, msg := range raw {
		if name == metadataKey {
			if err := json.Unmarshal(msg, &h.metadata); err != nil {
				return header{}, fmt.Errorf("safetensors: parse metadata: %w", err)
			}

			continue
		}

		var e headerEntry
		if err := json.Unmarshal(msg, &e); err != nil {
			return header{}, fmt.Errorf("safetensors: decode header entry %q: %w", name, err)
		}

		if err := e.validate(name); err != nil {
			return header{}, err
		}

		h.entries[name] = e
	}

	return h, nil
}

func (e headerEntry) validate(name string) error {
	if _, err := dtypeBytes(e.DType); err != nil {
		return fmt.Errorf("safetensors: tensor %q has unsupported dtype %q", name, e.DType)
	}

	if e.Offsets[0] < 0 || e.Offsets[1] < e.Offsets[0] {
		return fmt.Errorf("safetensors: tensor %q has invalid data offsets %v", name, e.Offsets)
	}

	for _, d := range e.Shape {
		if d < 0 {
			return fmt.Errorf("safetensors: tensor %q has negative shape dimension in %v", name, e.Shape)
		}
	}

	return nil
}

// locate resolves an entry's absolute byte range and checks that it holds
// enough bytes for its shape.
func (h header) locate(name string, fileSize int) (storeEntry, error) {
	e := h.entries[name]

	start := h.end + e.Offsets[0]
	end := h.end + e.Offsets[1]

	if end > fileSize {
		return storeEntry{}, fmt.Errorf("safetensors: tensor %q data [%d:%d] exceeds file size %d", name, start, end, fileSize)
	}

	count, err := shapeElementCount(e.Shape)
	if err != nil {
		return storeEntry{}, fmt.Errorf("safetensors: tensor %q: %w", name, err)
	}

	size, _ := dtypeBytes(e.DType)
	if need := int(count) * size; end-start < need {
		return storeEntry{}, fmt.Errorf("safetensors: tensor %q needs %d bytes but data has %d", name, need, end-start)
	}

	return storeEntry{
		OriginalName: name,
		DType:        strings.ToUpper(e.DType),
		Shape:        append([]int64(nil), e.Shape...),
		Start:        start,
		End:          end,
	}, nil
}

func shapeElementCount(shape []int64) (int64, error) {
	total := int64(1)

	for _, d := range shape {
		if d < 0 {
			return 0, fmt.Errorf("negative dimension %d", d)
		}

		if d == 0 {
			return 0, nil
		}

		if total > math.MaxInt64/d {
			return 0, fmt.Errorf("shape %v overflows element count", shape)
		}

		total *= d
	}

	return total, nil
}
