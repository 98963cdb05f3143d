// Package safetensors reads and writes the safetensors tensor container:
// an 8-byte little-endian header length, a JSON header, then raw tensor
// bytes. It stores model weights and mel-spectrogram inputs.
package safetensors

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
)

// Tensor holds a single decoded tensor.
type Tensor struct {
	Name  string
	Shape []int64
	Data  []float32
}

// KeyMapper renames a tensor while opening a store. Returning keep=false
// drops the tensor.
type KeyMapper func(name string) (mapped string, keep bool)

// RemapMode controls how dropped or colliding names are handled.
type RemapMode string

const (
	RemapLenient RemapMode = "lenient"
	RemapStrict  RemapMode = "strict"
)

type StoreOptions struct {
	KeyMapper KeyMapper
	RemapMode RemapMode
}

// StripPrefix returns a KeyMapper that removes the first matching prefix.
// Names without any of the prefixes are kept unchanged.
func StripPrefix(prefixes ...string) KeyMapper {
	return func(name string) (string, bool) {
		for _, p := range prefixes {
			if rest, ok := strings.CutPrefix(name, p); ok {
				return rest, true
			}
		}

		return name, true
	}
}

// Store is an opened safetensors payload. Tensors are decoded on access.
type Store struct {
	raw      []byte
	entries  map[string]storeEntry
	names    []string
	metadata map[string]string
}

type storeEntry struct {
	OriginalName string
	DType        string
	Shape        []int64
	Start        int
	End          int
}

func OpenStore(path string, opts StoreOptions) (*Store, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("safetensors: read %s: %w", path, err)
	}

	return OpenStoreFromBytes(data, opts)
}

func OpenStoreFromBytes(data []byte, opts StoreOptions) (*Store, error) {
	keyMapper := opts.KeyMapper
	if keyMapper == nil {
		keyMapper = func(name string) (string, bool) { return name, true }
	}

	mode := opts.RemapMode
	if mode == "" {
		mode = RemapLenient
	}

	h, err := decodeHeader(data)
	if err != nil {
		return nil, err
	}

	s := &Store{
		raw:      data,
		entries:  make(map[string]storeEntry, len(h.entries)),
		metadata: h.metadata,
	}

	originals := make([]string, 0, len(h.entries))
	for name := range h.entries {
		originals = append(originals, name)
	}

	sort.Strings(originals)

	for _, original := range originals {
		entry, err := h.locate(original, len(data))
		if err != nil {
			return nil, err
		}

		mapped, keep := keyMapper(original)
		if !keep {
			if mode == RemapStrict {
				return nil, fmt.Errorf("safetensors: strict remap rejected tensor %q", original)
			}

			continue
		}

		mapped = strings.TrimSpace(mapped)
		if mapped == "" {
			return nil, fmt.Errorf("safetensors: remapped tensor name for %q is empty", original)
		}

		if _, exists := s.entries[mapped]; exists {
			if mode == RemapStrict {
				return nil, fmt.Errorf("safetensors: strict remap collision for %q", mapped)
			}

			continue
		}

		s.entries[mapped] = entry
		s.names = append(s.names, mapped)
	}

	if len(s.entries) == 0 {
		return nil, errors.New("safetensors: no tensors found")
	}

	sort.Strings(s.names)

	return s, nil
}

// Names returns the tensor names in sorted order.
func (s *Store) Names() []string {
	return append([]string(nil), s.names...)
}

func (s *Store) Has(name string) bool {
	_, ok := s.entries[name]
	return ok
}

// Shape returns a tensor's shape without decoding its data.
func (s *Store) Shape(name string) ([]int64, bool) {
	e, ok := s.entries[name]
	if !ok {
		return nil, false
	}

	return append([]int64(nil), e.Shape...), true
}

// DType returns a tensor's stored element type.
func (s *Store) DType(name string) string {
	return s.entries[name].DType
}

// Metadata returns the string map stored under __metadata__, if any.
func (s *Store) Metadata() map[string]string {
	out := make(map[string]string, len(s.metadata))
	for k, v := range s.metadata {
		out[k] = v
	}

	return out
}

func (s *Store) Tensor(name string) (*Tensor, error) {
	entry, ok := s.entries[name]
	if !ok {
		return nil, fmt.Errorf("safetensors: tensor %q not found (available: %s)", name, summarizeNames(s.names))
	}

	data, err := decodeTensorData(s.raw[entry.Start:entry.End], entry.DType, entry.Shape)
	if err != nil {
		return nil, fmt.Errorf("safetensors: tensor %q decode: %w", name, err)
	}

	return &Tensor{
		Name:  name,
		Shape: append([]int64(nil), entry.Shape...),
		Data:  data,
	}, nil
}

// TensorWithShape loads name and checks its shape exactly.
func (s *Store) TensorWithShape(name string, wantShape []int64) (*Tensor, error) {
	t, err := s.Tensor(name)
	if err != nil {
		return nil, err
	}

	if !equalShape(t.Shape, wantShape) {
		return nil, fmt.Errorf("safetensors: tensor %q shape %v does not match expected %v", name, t.Shape, wantShape)
	}

	return t, nil
}

// Close drops the payload so it can be collected.
func (s *Store) Close() {
	s.raw = nil
	s.entries = nil
	s.names = nil
}

func equalShape(a, b []int64) bool {
	if len(a) != len(b) {
		return false
	}

	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}

	return true
}

func summarizeNames(names []string) string {
	if len(names) == 0 {
		return "none"
	}

	const maxNames = 8
	if len(names) <= maxNames {
		return strings.Join(names, ", ")
	}

	return strings.Join(names[:maxNames], ", ") + ", ..."
}

// ReadAll decodes every tensor in name order.
func (s *Store) ReadAll() ([]*Tensor, error) {
	out := make([]*Tensor, 0, len(s.names))

	for _, name := range s.names {
		t, err := s.Tensor(name)
		if err != nil {
			return nil, err
		}

		out = append(out, t)
	}

	return out, nil
}
