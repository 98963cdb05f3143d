// Package server exposes the vocoder over HTTP.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"runtime/debug"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/example/go-wavernn/internal/audio"
	"github.com/example/go-wavernn/internal/config"
	"github.com/example/go-wavernn/internal/vocoder"
)

// ParseLogLevel converts a case-insensitive level string to slog.Level.
// An empty string returns slog.LevelInfo. Unknown strings return an error.
func ParseLogLevel(s string) (slog.Level, error) {
	switch strings.ToLower(s) {
	case "", "info":
		return slog.LevelInfo, nil
	case "debug":
		return slog.LevelDebug, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("unknown log level %q (want debug|info|warn|error)", s)
	}
}

// Vocoder turns a mel-spectrogram into a waveform. *vocoder.Engine
// implements it.
type Vocoder interface {
	Synthesize(ctx context.Context, mel vocoder.Mel) (*vocoder.Result, error)
	Config() vocoder.Config
}

type options struct {
	maxFrames      int
	workers        int
	requestTimeout time.Duration
	limiter        *rate.Limiter
	logger         *slog.Logger
}

func defaultOptions() options {
	return options{
		maxFrames:      4000,
		workers:        2,
		requestTimeout: 120 * time.Second,
		logger:         slog.Default(),
	}
}

// Option configures the HTTP handler.
type Option func(*options)

// WithMaxFrames sets the largest accepted mel input for POST /vocode.
func WithMaxFrames(n int) Option {
	return func(o *options) { o.maxFrames = n }
}

// WithWorkers sets the maximum number of concurrent vocode calls.
// Zero disables throttling.
func WithWorkers(n int) Option {
	return func(o *options) { o.workers = n }
}

// WithRequestTimeout sets the per-request synthesis deadline.
func WithRequestTimeout(d time.Duration) Option {
	return func(o *options) { o.requestTimeout = d }
}

// WithRateLimit admits at most perSecond vocode requests per second with
// the given burst. A non-positive rate disables limiting.
func WithRateLimit(perSecond float64, burst int) Option {
	return func(o *options) {
		if perSecond <= 0 {
			o.limiter = nil
			return
		}

		o.limiter = rate.NewLimiter(rate.Limit(perSecond), max(burst, 1))
	}
}

// WithLogger sets the slog.Logger used for request logging.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

type handler struct {
	voc  Vocoder
	opts options
	sem  chan struct{}
	log  *slog.Logger
}

// NewHandler returns an http.Handler that serves /health, /config and
// POST /vocode.
func NewHandler(voc Vocoder, optFns ...Option) http.Handler {
	opts := defaultOptions()
	for _, fn := range optFns {
		fn(&opts)
	}

	h := &handler{
		voc:  voc,
		opts: opts,
		log:  opts.logger,
	}
	if opts.workers > 0 {
		h.sem = make(chan struct{}, opts.workers)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/health", h.handleHealth)
	mux.HandleFunc("/config", h.handleConfig)
	mux.HandleFunc("/vocode", h.handleVocode)

	return mux
}

func buildVersion() string {
	if info, ok := debug.ReadBuildInfo(); ok && info.Main.Version != "" {
		return info.Main.Version
	}

	return "dev"
}

func (h *handler) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "ok",
		"version": buildVersion(),
	})
}

type configResponse struct {
	SampleRate      int    `json:"sample_rate"`
	HopLength       int    `json:"hop_length"`
	NumMels         int    `json:"num_mels"`
	UpsampleFactors []int  `json:"upsample_factors"`
	Mode            string `json:"voc_mode"`
	Bits            int    `json:"bits,omitempty"`
	Mixtures        int    `json:"mixtures,omitempty"`
	Batched         bool   `json:"gen_batched"`
	Target          int    `json:"target"`
	Overlap         int    `json:"overlap"`
	MaxFrames       int    `json:"max_frames"`
}

func (h *handler) handleConfig(w http.ResponseWriter, _ *http.Request) {
	c := h.voc.Config()

	resp := configResponse{
		SampleRate:      c.SampleRate,
		HopLength:       c.HopLength,
		NumMels:         c.NumMels,
		UpsampleFactors: c.UpsampleFactors,
		Mode:            string(c.Mode),
		Batched:         c.Batched,
		Target:          c.Target,
		Overlap:         c.Overlap,
		MaxFrames:       h.opts.maxFrames,
	}

	if c.Mode == vocoder.ModeMOL {
		resp.Mixtures = c.Mixtures
	} else {
		resp.Bits = c.Bits
	}

	writeJSON(w, http.StatusOK, resp)
}

// vocodeRequest carries T frames of num_mels values each.
type vocodeRequest struct {
	Mel       [][]float32 `json:"mel"`
	Format    string      `json:"format"`
	Normalize bool        `json:"normalize"`
	DCBlock   bool        `json:"dc_block"`
}

// JSON size allowances used to bound /vocode bodies.
const (
	bodyBytesPerValue = 32
	bodyBytesPerFrame = 8
	bodyBytesSlack    = 4096
)

// maxBodyBytes bounds a request carrying maxFrames full frames. Zero means
// unlimited.
func (h *handler) maxBodyBytes() int64 {
	if h.opts.maxFrames <= 0 {
		return 0
	}

	perFrame := int64(max(h.voc.Config().NumMels, 1))*bodyBytesPerValue + bodyBytesPerFrame

	return int64(h.opts.maxFrames)*perFrame + bodyBytesSlack
}

func (h *handler) handleVocode(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	if h.opts.limiter != nil && !h.opts.limiter.Allow() {
		w.Header().Set("Retry-After", "1")
		writeError(w, http.StatusTooManyRequests, "rate limit exceeded")

		return
	}

	if r.Body == nil {
		writeError(w, http.StatusBadRequest, "request body is required")
		return
	}

	if limit := h.maxBodyBytes(); limit > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, limit)
	}

	var req vocodeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge,
				fmt.Sprintf("request body exceeds %d bytes", tooLarge.Limit))

			return
		}

		writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())

		return
	}

	if len(req.Mel) == 0 {
		writeError(w, http.StatusBadRequest, "mel field is required")
		return
	}

	if h.opts.maxFrames > 0 && len(req.Mel) > h.opts.maxFrames {
		writeError(w, http.StatusRequestEntityTooLarge,
			fmt.Sprintf("mel has %d frames, maximum is %d", len(req.Mel), h.opts.maxFrames))

		return
	}

	format := strings.ToLower(req.Format)
	if format == "" {
		format = "wav"
	}

	if format != "wav" && format != "pcm16" {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("unknown format %q (want wav|pcm16)", req.Format))
		return
	}

	mel, err := vocoder.NewMel(req.Mel)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	// Acquire a worker slot, honouring cancellation while waiting.
	if h.sem != nil {
		select {
		case h.sem <- struct{}{}:
		case <-r.Context().Done():
			writeError(w, http.StatusServiceUnavailable, "request cancelled while waiting for worker")
			return
		}
		defer func() { <-h.sem }()
	}

	ctx, cancel := context.WithTimeout(r.Context(), h.opts.requestTimeout)
	defer cancel()

	res, err := h.voc.Synthesize(ctx, mel)
	if err != nil {
		h.writeSynthesisError(w, r, len(req.Mel), err)
		return
	}

	sampleRate := h.voc.Config().SampleRate

	var hooks []audio.Hook
	if req.DCBlock {
		hooks = append(hooks, func(s []float32) []float32 { return audio.DCBlock(s, sampleRate) })
	}

	if req.Normalize {
		hooks = append(hooks, audio.PeakNormalize)
	}

	samples := audio.ApplyHooks(res.Samples, hooks...)

	if degraded := res.DegradedSegments(); len(degraded) > 0 {
		ids := make([]string, len(degraded))
		for i, d := range degraded {
			ids[i] = strconv.Itoa(d)
		}

		w.Header().Set("X-Degraded-Segments", strings.Join(ids, ","))
	}

	w.Header().Set("X-Generation-Ms", strconv.FormatInt(res.Elapsed.Milliseconds(), 10))
	w.Header().Set("X-Sample-Rate", strconv.Itoa(sampleRate))

	var written int

	switch format {
	case "pcm16":
		w.Header().Set("Content-Type", "application/octet-stream")
		w.WriteHeader(http.StatusOK)
		written, _ = audio.WritePCM16Samples(w, samples)
	default:
		wav, err := audio.EncodeWAV(samples, sampleRate)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}

		w.Header().Set("Content-Type", "audio/wav")
		w.WriteHeader(http.StatusOK)
		written, _ = w.Write(wav)
	}

	h.log.InfoContext(r.Context(), "vocode complete",
		slog.Int("frames", len(req.Mel)),
		slog.Int("samples", len(samples)),
		slog.Int64("duration_ms", res.Elapsed.Milliseconds()),
		slog.Float64("rtf", roundRTF(res.RTF())),
		slog.Int("degraded_segments", len(res.Warnings)),
		slog.Int("bytes", written),
	)
}

func (h *handler) writeSynthesisError(w http.ResponseWriter, r *http.Request, frames int, err error) {
	status := statusFor(err)

	level := slog.LevelError
	if status < http.StatusInternalServerError {
		level = slog.LevelWarn
	}

	h.log.Log(r.Context(), level, "vocode failed",
		slog.Int("frames", frames),
		slog.Int("status", status),
		slog.String("error", err.Error()),
	)

	msg := err.Error()
	if status == http.StatusGatewayTimeout {
		msg = "synthesis timed out"
	}

	writeError(w, status, msg)
}

// statusFor maps engine errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return http.StatusGatewayTimeout
	case errors.Is(err, vocoder.ErrResourceExhausted):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, vocoder.ErrConfig), errors.Is(err, vocoder.ErrInvalidMel):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func roundRTF(v float64) float64 {
	if math.IsInf(v, 0) || math.IsNaN(v) {
		return 0
	}

	return math.Round(v*1000) / 1000
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// Server wires the HTTP handler into a net/http.Server with graceful shutdown.
type Server struct {
	cfg             config.Config
	voc             Vocoder
	logger          *slog.Logger
	shutdownTimeout time.Duration
}

func New(cfg config.Config, voc Vocoder) *Server {
	timeout := 30 * time.Second
	if cfg.Server.ShutdownTimeout > 0 {
		timeout = time.Duration(cfg.Server.ShutdownTimeout) * time.Second
	}

	return &Server{
		cfg:             cfg,
		voc:             voc,
		logger:          slog.Default(),
		shutdownTimeout: timeout,
	}
}

// WithShutdownTimeout overrides the graceful-shutdown drain period.
func (s *Server) WithShutdownTimeout(d time.Duration) *Server {
	s.shutdownTimeout = d
	return s
}

// WithLogger sets the request logger.
func (s *Server) WithLogger(l *slog.Logger) *Server {
	s.logger = l
	return s
}

// HandlerOptions derives handler options from the server config.
func HandlerOptions(c config.ServerConfig) []Option {
	return []Option{
		WithWorkers(c.Workers),
		WithMaxFrames(c.MaxFrames),
		WithRequestTimeout(time.Duration(c.RequestTimeout) * time.Second),
		WithRateLimit(c.RateLimit, c.RateBurst),
	}
}

func (s *Server) Start(ctx context.Context) error {
	if s.voc == nil {
		return errors.New("server: no vocoder configured")
	}

	opts := append(HandlerOptions(s.cfg.Server), WithLogger(s.logger))

	httpServer := &http.Server{
		Addr:              s.cfg.Server.ListenAddr,
		Handler:           NewHandler(s.voc, opts...),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- httpServer.ListenAndServe()
	}()

	s.logger.Info("listening", "addr", s.cfg.Server.ListenAddr)

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
		defer cancel()

		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("http shutdown: %w", err)
		}

		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}

		return fmt.Errorf("http listen: %w", err)
	}
}

// ProbeHTTP checks that a server at addr answers /health with 200.
func ProbeHTTP(addr string) error {
	client := &http.Client{Timeout: 5 * time.Second}

	resp, err := client.Get("http://" + addr + "/health") //nolint:noctx
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected health status: %s", resp.Status)
	}

	return nil
}
