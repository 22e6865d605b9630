package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"runtime/debug"
	"strconv"
	"strings"
	"time"

	"github.com/example/go-unitsel/internal/config"
	"github.com/example/go-unitsel/internal/selection"
	"github.com/example/go-unitsel/internal/tts"
	"github.com/example/go-unitsel/internal/voice"
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

// Synthesizer produces WAV bytes for an utterance.
type Synthesizer interface {
	SynthesizeWAV(ctx context.Context, u *tts.Utterance) ([]byte, *tts.Result, error)
}

// VoiceLister returns the list of available voices.
type VoiceLister interface {
	Voices() []voice.Entry
}

// ---------------------------------------------------------------------------
// Functional options
// ---------------------------------------------------------------------------

type options struct {
	maxBodyBytes   int
	workers        int
	requestTimeout time.Duration
	logger         *slog.Logger
}

func defaultOptions() options {
	return options{
		maxBodyBytes:   1 << 20,
		workers:        2,
		requestTimeout: 60 * time.Second,
		logger:         slog.Default(),
	}
}

// Option configures the HTTP handler.
type Option func(*options)

// WithMaxBodyBytes sets the maximum request body size for POST /synthesize.
func WithMaxBodyBytes(n int) Option {
	return func(o *options) { o.maxBodyBytes = n }
}

// WithWorkers sets the maximum number of concurrent synthesis calls. Zero
// disables throttling.
func WithWorkers(n int) Option {
	return func(o *options) { o.workers = n }
}

// WithRequestTimeout sets the per-request synthesis deadline.
func WithRequestTimeout(d time.Duration) Option {
	return func(o *options) { o.requestTimeout = d }
}

// WithLogger sets the slog.Logger used for request logging.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// ---------------------------------------------------------------------------
// handler
// ---------------------------------------------------------------------------

// handler holds the dependencies needed to serve HTTP requests.
type handler struct {
	synth  Synthesizer
	voices VoiceLister
	opts   options
	sem    chan struct{} // semaphore for worker pool
	log    *slog.Logger
}

// NewHandler returns an http.Handler that serves /health, /voices, and
// POST /synthesize.
func NewHandler(synth Synthesizer, voices VoiceLister, optFns ...Option) http.Handler {
	opts := defaultOptions()
	for _, fn := range optFns {
		fn(&opts)
	}

	h := &handler{
		synth:  synth,
		voices: voices,
		opts:   opts,
		log:    opts.logger,
	}
	if opts.workers > 0 {
		h.sem = make(chan struct{}, opts.workers)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/health", h.handleHealth)
	mux.HandleFunc("/voices", h.handleVoices)
	mux.HandleFunc("/synthesize", h.handleSynthesize)
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

func (h *handler) handleVoices(w http.ResponseWriter, _ *http.Request) {
	voices := h.voices.Voices()
	if voices == nil {
		voices = []voice.Entry{}
	}
	writeJSON(w, http.StatusOK, voices)
}

func (h *handler) handleSynthesize(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	if r.Body == nil || r.Body == http.NoBody {
		writeError(w, http.StatusBadRequest, "request body is required")
		return
	}

	body := http.MaxBytesReader(w, r.Body, int64(h.opts.maxBodyBytes))
	req, err := tts.DecodeUtterance(body, "json")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge,
				fmt.Sprintf("request body exceeds maximum size of %d bytes", h.opts.maxBodyBytes))
			return
		}
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if len(req.Targets) == 0 {
		writeError(w, http.StatusBadRequest, "targets field is required")
		return
	}

	// Acquire a worker slot, honouring context cancellation while waiting.
	if h.sem != nil {
		select {
		case h.sem <- struct{}{}:
			// slot acquired
		case <-r.Context().Done():
			writeError(w, http.StatusServiceUnavailable, "request cancelled while waiting for worker")
			return
		}
		defer func() { <-h.sem }()
	}

	// Apply per-request timeout.
	ctx, cancel := context.WithTimeout(r.Context(), h.opts.requestTimeout)
	defer cancel()

	start := time.Now()
	wav, res, err := h.synth.SynthesizeWAV(ctx, req)
	durationMS := time.Since(start).Milliseconds()

	if err != nil {
		status := statusFor(err)
		attrs := []any{
			slog.String("voice", req.Voice),
			slog.Int("targets", len(req.Targets)),
			slog.Int64("duration_ms", durationMS),
			slog.Int("status", status),
			slog.String("error", err.Error()),
		}
		if status >= http.StatusInternalServerError {
			h.log.ErrorContext(r.Context(), "synthesis failed", attrs...)
		} else {
			h.log.WarnContext(r.Context(), "synthesis rejected", attrs...)
		}
		msg := err.Error()
		if status == http.StatusGatewayTimeout {
			msg = "synthesis timed out"
		}
		writeError(w, status, msg)
		return
	}

	h.log.InfoContext(r.Context(), "synthesis complete",
		slog.String("request_id", res.ID),
		slog.String("voice", res.Voice),
		slog.Int("targets", len(req.Targets)),
		slog.Int64("duration_ms", durationMS),
		slog.Int("wav_bytes", len(wav)),
	)

	w.Header().Set("Content-Type", "audio/wav")
	w.Header().Set("X-Request-Id", res.ID)
	w.Header().Set("X-Voice", res.Voice)
	if res.Selection != nil {
		w.Header().Set("X-Selection-Cost", strconv.FormatFloat(res.Selection.Cost, 'g', 6, 64))
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(wav)
}

// statusFor maps synthesis errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return http.StatusGatewayTimeout
	case errors.Is(err, selection.ErrMalformedTarget):
		return http.StatusBadRequest
	case errors.Is(err, voice.ErrUnknownVoice):
		return http.StatusNotFound
	case errors.Is(err, selection.ErrNoPath):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// ---------------------------------------------------------------------------
// Server wires handler into net/http.Server with graceful shutdown
// ---------------------------------------------------------------------------

// Server wires the HTTP handler into a net/http.Server with graceful shutdown.
type Server struct {
	cfg             config.Config
	tts             *tts.Service
	logger          *slog.Logger
	shutdownTimeout time.Duration
}

func New(cfg config.Config, svc *tts.Service) *Server {
	shutdown := time.Duration(cfg.Server.ShutdownTimeout) * time.Second
	if shutdown <= 0 {
		shutdown = 30 * time.Second
	}
	return &Server{
		cfg:             cfg,
		tts:             svc,
		logger:          slog.Default(),
		shutdownTimeout: shutdown,
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

func (s *Server) Start(ctx context.Context) error {
	if s.tts == nil {
		return errors.New("server: synthesis service is required")
	}

	h := NewHandler(s.tts, s.tts,
		WithWorkers(s.cfg.Server.Workers),
		WithMaxBodyBytes(s.cfg.Server.MaxBodyBytes),
		WithRequestTimeout(time.Duration(s.cfg.Server.RequestTimeout)*time.Second),
		WithLogger(s.logger),
	)

	httpServer := &http.Server{
		Addr:              s.cfg.Server.ListenAddr,
		Handler:           h,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- httpServer.ListenAndServe()
	}()

	s.logger.Info("listening", "addr", s.cfg.Server.ListenAddr, "workers", s.cfg.Server.Workers)

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

func ProbeHTTP(addr string) error {
	resp, err := http.Get("http://" + addr + "/health") //nolint:noctx
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected health status: %s", resp.Status)
	}
	return nil
}
