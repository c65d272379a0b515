package api

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/JakeFAU/sitecrawler/internal/crawler"
	"github.com/JakeFAU/sitecrawler/internal/metrics"
	"github.com/JakeFAU/sitecrawler/internal/orchestrator"
	"github.com/JakeFAU/sitecrawler/internal/store"
)

// CrawlRunner runs one crawl batch. orchestrator.Orchestrator satisfies it.
type CrawlRunner interface {
	RunCrawl(
		ctx context.Context,
		owner crawler.Owner,
		targets []string,
		opts ...orchestrator.RunOption,
	) ([]crawler.SiteRecord, crawler.CrawlSummary, error)
}

// Options carries the optional collaborators of a Server.
type Options struct {
	// Gatherer backs GET /metrics. The route is not mounted when nil.
	Gatherer prometheus.Gatherer
	// HTTPMetrics instruments every route when set.
	HTTPMetrics *metrics.HTTP
	// Progress backs the crawl history routes.
	Progress store.ProgressRepository
	// Ready reports downstream readiness for GET /readyz.
	Ready func(ctx context.Context) error
	// ReadTimeout bounds the history routes. Crawl submissions are bounded
	// by the crawler's own timeouts instead.
	ReadTimeout time.Duration
	// MaxBodyBytes caps a crawl submission body. Defaults to
	// DefaultMaxBodyBytes.
	MaxBodyBytes int64
}

// DefaultMaxBodyBytes is the crawl submission body limit when none is set.
const DefaultMaxBodyBytes = 1 << 20

// Server wires HTTP handlers to the crawl pipeline and the progress store.
type Server struct {
	router  chi.Router
	runner  CrawlRunner
	ready   func(ctx context.Context) error
	logger  *zap.Logger
	maxBody int64
}

// NewServer constructs a Server with middleware and routes.
func NewServer(runner CrawlRunner, logger *zap.Logger, opts Options) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		runner:  runner,
		ready:   opts.Ready,
		logger:  logger,
		maxBody: opts.MaxBodyBytes,
	}
	if s.maxBody <= 0 {
		s.maxBody = DefaultMaxBodyBytes
	}
	readTimeout := opts.ReadTimeout
	if readTimeout <= 0 {
		readTimeout = 60 * time.Second
	}

	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(logger))
	r.Use(recoverMiddleware(logger))
	if opts.HTTPMetrics != nil {
		r.Use(opts.HTTPMetrics.Middleware)
	}

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	if opts.Gatherer != nil {
		r.Method(http.MethodGet, "/metrics", metrics.Handler(opts.Gatherer))
	}

	progress := NewProgressHandler(opts.Progress, logger)
	r.Route("/v1/crawls", func(r chi.Router) {
		r.Post("/", s.submitCrawl)
		r.Group(func(r chi.Router) {
			r.Use(timeoutMiddleware(readTimeout))
			r.Get("/", progress.ListCrawls)
			r.Get("/{crawl_id}", progress.GetCrawl)
			r.Get("/{crawl_id}/hosts", progress.ListCrawlHosts)
		})
	})

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
	if s.ready != nil {
		if err := s.ready(r.Context()); err != nil {
			s.logger.Warn("readiness check failed", zap.Error(err))
			writeError(w, http.StatusServiceUnavailable, "not ready")
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

type crawlRequest struct {
	Owner crawler.Owner `json:"owner"`
	URLs  []string      `json:"urls"`
}

type crawlResponse struct {
	Records []crawler.SiteRecord `json:"records"`
	Summary crawler.CrawlSummary `json:"summary"`
	Notices []crawler.Notice     `json:"notices"`
}

// submitCrawl handles POST /v1/crawls and blocks until the batch finishes.
func (s *Server) submitCrawl(w http.ResponseWriter, r *http.Request) {
	if s.runner == nil {
		writeError(w, http.StatusServiceUnavailable, "crawler unavailable")
		return
	}
	var req crawlRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, s.maxBody)).Decode(&req); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
			return
		}
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if len(crawler.NormalizeTargets(req.URLs)) == 0 {
		writeError(w, http.StatusBadRequest, "urls required")
		return
	}
	if strings.TrimSpace(req.Owner.Username) == "" {
		writeError(w, http.StatusBadRequest, "owner.username required")
		return
	}

	notices := &orchestrator.CollectingNotifier{}
	records, summary, err := s.runner.RunCrawl(r.Context(), req.Owner, req.URLs, orchestrator.NotifyTo(notices))
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			status = http.StatusServiceUnavailable
		}
		s.logger.Warn("crawl request failed", zap.Error(err), zap.Int("status", status))
		writeError(w, status, err.Error())
		return
	}
	if records == nil {
		records = []crawler.SiteRecord{}
	}
	resp := crawlResponse{Records: records, Summary: summary, Notices: notices.Notices()}
	if resp.Notices == nil {
		resp.Notices = []crawler.Notice{}
	}
	writeJSON(w, http.StatusOK, resp)
}

type requestIDKey struct{}

// RequestID returns the id assigned to the request, if any.
func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := r.Header.Get("X-Request-ID")
		if reqID == "" {
			reqID = uuid.NewString()
		}
		ctx := context.WithValue(r.Context(), requestIDKey{}, reqID)
		w.Header().Set("X-Request-ID", reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func loggingMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := &responseWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(ww, r)
			logger.Info("request completed",
				zap.String("request_id", RequestID(r.Context())),
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.status),
				zap.Int64("duration_ms", time.Since(start).Milliseconds()),
			)
		})
	}
}

func recoverMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					logger.Error("panic recovered",
						zap.Any("error", rec),
						zap.String("request_id", RequestID(r.Context())),
					)
					writeError(w, http.StatusInternalServerError, "internal server error")
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

func timeoutMiddleware(d time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.TimeoutHandler(next, d, "request timed out")
	}
}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	if err != nil {
		return n, fmt.Errorf("write response: %w", err)
	}
	return n, nil
}

func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (rw *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if h, ok := rw.ResponseWriter.(http.Hijacker); ok {
		conn, buf, err := h.Hijack()
		if err != nil {
			return nil, nil, fmt.Errorf("hijack connection: %w", err)
		}
		return conn, buf, nil
	}
	return nil, nil, errors.New("hijacker not supported")
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
