package audio

import (
	"bytes"
	"encoding/binary"
	"testing"
)

func TestWriteWAVHeaderStreaming(t *testing.T) {
	var buf bytes.Buffer

	n, err := WriteWAVHeaderStreaming(&buf, 22050)
	if err != nil {
		t.Fatalf("WriteWAVHeaderStreaming error: %v", err)
	}

	if n != 44 || buf.Len() != 44 {
		t.Fatalf("wrote %d bytes (buffer %d); want 44", n, buf.Len())
	}

	hdr := buf.Bytes()

	for off, want := range map[int]string{0: "RIFF", 8: "WAVE", 12: "fmt ", 36: "data"} {
		if got := string(hdr[off : off+4]); got != want {
			t.Errorf("marker at %d = %q; want %q", off, got, want)
		}
	}

	if v := binary.LittleEndian.Uint32(hdr[4:8]); v != 0xFFFFFFFF {
		t.Errorf("RIFF size = 0x%08X; want 0xFFFFFFFF", v)
	}

	if v := binary.LittleEndian.Uint32(hdr[40:44]); v != 0xFFFFFFFF {
		t.Errorf("data size = 0x%08X; want 0xFFFFFFFF", v)
	}

	if v := binary.LittleEndian.Uint16(hdr[20:22]); v != 1 {
		t.Errorf("audio format = %d; want 1 (PCM)", v)
	}

	if v := binary.LittleEndian.Uint32(hdr[24:28]); v != 22050 {
		t.Errorf("sample rate = %d; want 22050", v)
	}

	if v := binary.LittleEndian.Uint32(hdr[28:32]); v != 44100 {
		t.Errorf("byte rate = %d; want 44100", v)
	}
}

func TestWritePCM16Samples(t *testing.T) {
	samples := []float32{0.0, 1.0, -1.0, 0.5, -0.5, 2.0, -3.0}

	var buf bytes.Buffer

	n, err := WritePCM16Samples(&buf, samples)
	if err != nil {
		t.Fatalf("WritePCM16Samples error: %v", err)
	}

	if n != len(samples)*2 {
		t.Fatalf("wrote %d bytes; want %d", n, len(samples)*2)
	}

	data := buf.Bytes()
	for i, want := range []int16{0, 32767, -32767, 16383, -16383, 32767, -32767} {
		got := int16(binary.LittleEndian.Uint16(data[i*2 : i*2+2]))
		if d := int(got) - int(want); d < -1 || d > 1 {
			t.Errorf("sample[%d] = %d; want ~%d", i, got, want)
		}
	}
}

func TestWritePCM16SamplesEmpty(t *testing.T) {
	var buf bytes.Buffer

	n, err := WritePCM16Samples(&buf, nil)
	if err != nil || n != 0 {
		t.Fatalf("WritePCM16Samples(nil) = %d, %v; want 0, nil", n, err)
	}
}
