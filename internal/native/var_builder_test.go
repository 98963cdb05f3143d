package native

import (
	"encoding/binary"
	"encoding/json"
	"math"
	"testing"

	"github.com/example/go-wavernn/internal/safetensors"
)

type tensorMeta struct {
	DType   string  `json:"dtype"`
	Shape   []int64 `json:"shape"`
	Offsets [2]int  `json:"data_offsets"`
}

func buildSafetensors(t *testing.T, tensors map[string]struct {
	dtype string
	shape []int64
	data  []byte
},
) []byte {
	t.Helper()

	head := map[string]tensorMeta{}
	offset := 0

	totalDataLen := 0
	for _, spec := range tensors {
		totalDataLen += len(spec.data)
	}

	blob := make([]byte, 0, totalDataLen)

	for name, spec := range tensors {
		start := offset
		end := start + len(spec.data)
		head[name] = tensorMeta{DType: spec.dtype, Shape: spec.shape, Offsets: [2]int{start, end}}
		offset = end

		blob = append(blob, spec.data...)
	}

	headJSON, err := json.Marshal(head)
	if err != nil {
		t.Fatalf("marshal header: %v", err)
	}

	out := make([]byte, 8+len(headJSON)+len(blob))
	binary.LittleEndian.PutUint64(out[:8], uint64(len(headJSON)))
	copy(out[8:], headJSON)
	copy(out[8+len(headJSON):], blob)

	return out
}

func f32Bytes(vals []float32) []byte {
	out := make([]byte, 4*len(vals))
	for i, v := range vals {
		binary.LittleEndian.PutUint32(out[i*4:], math.Float32bits(v))
	}

	return out
}

func TestVarBuilder_PathTensor(t *testing.T) {
	blob := buildSafetensors(t, map[string]struct {
		dtype string
		shape []int64
		data  []byte
	}{
		"rnn.bias_ih":   {dtype: "F32", shape: []int64{3}, data: f32Bytes([]float32{1, 2, 3})},
		"rnn.weight_hh": {dtype: "F32", shape: []int64{3, 1}, data: f32Bytes([]float32{10, 20, 30})},
		"fc1.weight":    {dtype: "F32", shape: []int64{1, 1}, data: f32Bytes([]float32{1})},
	})

	st, err := safetensors.OpenStoreFromBytes(blob, safetensors.StoreOptions{})
	if err != nil {
		t.Fatalf("open store: %v", err)
	}

	vb := NewVarBuilder(st)
	if !vb.Path("rnn").Has("bias_ih") {
		t.Fatalf("expected rnn.bias_ih to exist")
	}

	b, err := vb.Path("rnn").Tensor("bias_ih", 3)
	if err != nil {
		t.Fatalf("tensor: %v", err)
	}

	if got := b.Data(); len(got) != 3 || got[0] != 1 || got[2] != 3 {
		t.Fatalf("bias_ih data = %v", got)
	}

	if _, err := vb.Path("rnn").Tensor("weight_hh", -1, 1); err != nil {
		t.Fatalf("wildcard shape: %v", err)
	}

	if _, err := vb.Path("rnn").Tensor("weight_hh", 3, 2); err == nil {
		t.Fatal("expected shape mismatch")
	}

	shape, ok := vb.Path("rnn").Shape("weight_hh")
	if !ok || len(shape) != 2 || shape[0] != 3 {
		t.Fatalf("Shape = %v, %v", shape, ok)
	}
}

func TestVarBuilder_TensorMaybe(t *testing.T) {
	blob := buildSafetensors(t, map[string]struct {
		dtype string
		shape []int64
		data  []byte
	}{
		"upsample.layers.0.weight": {dtype: "F32", shape: []int64{1, 1, 3}, data: f32Bytes([]float32{0.25, 0.5, 0.25})},
	})

	st, err := safetensors.OpenStoreFromBytes(blob, safetensors.StoreOptions{})
	if err != nil {
		t.Fatalf("open store: %v", err)
	}

	vb := NewVarBuilder(st).Path("upsample", "layers")

	if _, ok, err := vb.TensorMaybe("1.weight"); ok || err != nil {
		t.Fatalf("missing tensor: ok=%v err=%v", ok, err)
	}

	k, ok, err := vb.TensorMaybe("0.weight")
	if !ok || err != nil {
		t.Fatalf("TensorMaybe: ok=%v err=%v", ok, err)
	}

	if k.ElemCount() != 3 {
		t.Fatalf("kernel taps = %d", k.ElemCount())
	}
}

func TestVarBuilder_Uninitialized(t *testing.T) {
	var vb *VarBuilder
	if vb.Has("x") {
		t.Fatal("nil builder should report no tensors")
	}

	if _, err := vb.Tensor("x"); err == nil {
		t.Fatal("expected error from nil builder")
	}
}
