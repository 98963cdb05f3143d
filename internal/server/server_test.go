package server_test

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/example/go-wavernn/internal/server"
	"github.com/example/go-wavernn/internal/vocoder"
)

// stubVocoder implements server.Vocoder for tests. It returns hop samples
// per input frame unless err is set.
type stubVocoder struct {
	cfg      vocoder.Config
	err      error
	degraded []int
	block    bool
	calls    int
}

func newStub() *stubVocoder {
	cfg := vocoder.DefaultConfig()
	cfg.NumMels = 2
	cfg.HopLength = 4
	cfg.UpsampleFactors = []int{2, 2}

	return &stubVocoder{cfg: cfg}
}

func (s *stubVocoder) Config() vocoder.Config { return s.cfg }

func (s *stubVocoder) Synthesize(ctx context.Context, mel vocoder.Mel) (*vocoder.Result, error) {
	s.calls++

	if s.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}

	if s.err != nil {
		return nil, s.err
	}

	if err := mel.Validate(s.cfg.NumMels); err != nil {
		return nil, err
	}

	samples := make([]float32, mel.Frames()*s.cfg.HopLength)
	for i := range samples {
		samples[i] = 0.25
	}

	res := &vocoder.Result{
		Samples:    samples,
		SampleRate: s.cfg.SampleRate,
		Elapsed:    3 * time.Millisecond,
	}
	for _, d := range s.degraded {
		res.Warnings = append(res.Warnings, vocoder.SegmentWarning{Segment: d})
	}

	return res, nil
}

func melBody(frames, bins int, extra string) *bytes.Buffer {
	rows := make([]string, frames)
	for i := range rows {
		vals := make([]string, bins)
		for j := range vals {
			vals[j] = "0.5"
		}

		rows[i] = "[" + strings.Join(vals, ",") + "]"
	}

	return bytes.NewBufferString(fmt.Sprintf(`{"mel":[%s]%s}`, strings.Join(rows, ","), extra))
}

func post(h http.Handler, body *bytes.Buffer) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/vocode", body)
	req.Header.Set("Content-Type", "application/json")
	h.ServeHTTP(rec, req)

	return rec
}

// ---------------------------------------------------------------------------
// GET /health
// ---------------------------------------------------------------------------

func TestHealth_Returns200WithStatusOK(t *testing.T) {
	h := server.NewHandler(newStub())

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("want 200, got %d", rec.Code)
	}

	var body map[string]string
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode body: %v", err)
	}

	if body["status"] != "ok" {
		t.Errorf("want status=ok, got %q", body["status"])
	}

	if _, ok := body["version"]; !ok {
		t.Error("want version field in response")
	}
}

// ---------------------------------------------------------------------------
// GET /config
// ---------------------------------------------------------------------------

func TestConfig_ReportsVocoderSettings(t *testing.T) {
	stub := newStub()
	h := server.NewHandler(stub, server.WithMaxFrames(123))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/config", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("want 200, got %d", rec.Code)
	}

	var body map[string]any
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode body: %v", err)
	}

	if body["voc_mode"] != "RAW" {
		t.Errorf("voc_mode = %v, want RAW", body["voc_mode"])
	}

	if body["hop_length"] != float64(4) || body["num_mels"] != float64(2) {
		t.Errorf("hop/num_mels = %v/%v", body["hop_length"], body["num_mels"])
	}

	if body["max_frames"] != float64(123) {
		t.Errorf("max_frames = %v, want 123", body["max_frames"])
	}

	if _, ok := body["mixtures"]; ok {
		t.Error("RAW config should omit mixtures")
	}
}

// ---------------------------------------------------------------------------
// POST /vocode
// ---------------------------------------------------------------------------

func TestVocode_ReturnsWAV(t *testing.T) {
	stub := newStub()
	h := server.NewHandler(stub)

	rec := post(h, melBody(3, 2, ""))
	if rec.Code != http.StatusOK {
		t.Fatalf("want 200, got %d: %s", rec.Code, rec.Body.String())
	}

	if ct := rec.Header().Get("Content-Type"); ct != "audio/wav" {
		t.Errorf("Content-Type = %q, want audio/wav", ct)
	}

	data := rec.Body.Bytes()
	if len(data) != 44+3*4*2 {
		t.Fatalf("body length = %d, want %d", len(data), 44+3*4*2)
	}

	if string(data[:4]) != "RIFF" || string(data[8:12]) != "WAVE" {
		t.Fatalf("body is not a WAV file: %q", data[:12])
	}

	if rec.Header().Get("X-Generation-Ms") != "3" {
		t.Errorf("X-Generation-Ms = %q, want 3", rec.Header().Get("X-Generation-Ms"))
	}

	if rec.Header().Get("X-Degraded-Segments") != "" {
		t.Errorf("unexpected X-Degraded-Segments header")
	}
}

func TestVocode_PCM16Format(t *testing.T) {
	h := server.NewHandler(newStub())

	rec := post(h, melBody(2, 2, `,"format":"pcm16"`))
	if rec.Code != http.StatusOK {
		t.Fatalf("want 200, got %d: %s", rec.Code, rec.Body.String())
	}

	data := rec.Body.Bytes()
	if len(data) != 2*4*2 {
		t.Fatalf("body length = %d, want 16", len(data))
	}

	if v := int16(binary.LittleEndian.Uint16(data[:2])); v < 8190 || v > 8193 {
		t.Fatalf("first sample = %d, want ~8191", v)
	}
}

func TestVocode_NormalizeScalesToFullRange(t *testing.T) {
	h := server.NewHandler(newStub())

	rec := post(h, melBody(1, 2, `,"format":"pcm16","normalize":true`))
	if rec.Code != http.StatusOK {
		t.Fatalf("want 200, got %d", rec.Code)
	}

	if v := int16(binary.LittleEndian.Uint16(rec.Body.Bytes()[:2])); v != 32767 {
		t.Fatalf("normalized sample = %d, want 32767", v)
	}
}

func TestVocode_DegradedSegmentsHeader(t *testing.T) {
	stub := newStub()
	stub.degraded = []int{1, 3}
	h := server.NewHandler(stub)

	rec := post(h, melBody(2, 2, ""))
	if rec.Code != http.StatusOK {
		t.Fatalf("want 200, got %d", rec.Code)
	}

	if got := rec.Header().Get("X-Degraded-Segments"); got != "1,3" {
		t.Fatalf("X-Degraded-Segments = %q, want 1,3", got)
	}
}

func TestVocode_BadRequests(t *testing.T) {
	tests := []struct {
		name string
		body string
		want int
	}{
		{"invalid json", `{not json`, http.StatusBadRequest},
		{"missing mel", `{"format":"wav"}`, http.StatusBadRequest},
		{"ragged mel", `{"mel":[[1,2],[3]]}`, http.StatusBadRequest},
		{"wrong bins", `{"mel":[[1,2,3]]}`, http.StatusBadRequest},
		{"unknown format", `{"mel":[[1,2]],"format":"mp3"}`, http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			stub := newStub()
			h := server.NewHandler(stub)

			rec := post(h, bytes.NewBufferString(tt.body))
			if rec.Code != tt.want {
				t.Fatalf("want %d, got %d: %s", tt.want, rec.Code, rec.Body.String())
			}

			var body map[string]string
			if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
				t.Fatalf("decode error body: %v", err)
			}

			if body["error"] == "" {
				t.Error("want error field in response")
			}
		})
	}
}

func TestVocode_MethodNotAllowed(t *testing.T) {
	h := server.NewHandler(newStub())

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/vocode", nil))

	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("want 405, got %d", rec.Code)
	}
}

func TestVocode_ErrorMapping(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"invalid mel", fmt.Errorf("%w: bad", vocoder.ErrInvalidMel), http.StatusBadRequest},
		{"config", &vocoder.ConfigError{Field: "target", Reason: "bad"}, http.StatusBadRequest},
		{"exhausted", fmt.Errorf("%w: too long", vocoder.ErrResourceExhausted), http.StatusRequestEntityTooLarge},
		{"deadline", context.DeadlineExceeded, http.StatusGatewayTimeout},
		{"generator", fmt.Errorf("%w: boom", vocoder.ErrGeneratorFailure), http.StatusInternalServerError},
		{"other", errors.New("disk on fire"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			stub := newStub()
			stub.err = tt.err

			rec := post(server.NewHandler(stub), melBody(1, 2, ""))
			if rec.Code != tt.want {
				t.Fatalf("want %d, got %d", tt.want, rec.Code)
			}
		})
	}
}
