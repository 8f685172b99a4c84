// Package http implements the ranking REST API: public read endpoints for
// rankings, history and breakdowns, an admin surface for recalculation,
// backfill and settings, plus health and metrics endpoints for operators.
package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"runtime/debug"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/gravityseries/ranking-hub/internal/application/command"
	"github.com/gravityseries/ranking-hub/internal/application/query"
	"github.com/gravityseries/ranking-hub/internal/domain/ranking"
	"github.com/gravityseries/ranking-hub/internal/interface/http/handlers"
	"github.com/gravityseries/ranking-hub/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// SERVER CONFIGURATION
// ══════════════════════════════════════════════════════════════════════════════

// Config contains HTTP server configuration.
type Config struct {
	// Host - address to bind (default: "0.0.0.0").
	Host string

	// Port - port to listen on (default: 8080).
	Port int

	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration

	// MaxHeaderBytes - maximum size of request headers.
	MaxHeaderBytes int

	// AllowedOrigins - allowed origins for CORS on public endpoints.
	AllowedOrigins []string

	// EnableMetrics exposes GET /metrics when a Gatherer is configured.
	EnableMetrics bool

	// APIKeyHeader - header carrying the admin API key.
	APIKeyHeader string

	// AdminAPIKeys - accepted admin keys. Empty disables the admin routes.
	AdminAPIKeys []string

	// ServiceName names the server spans.
	ServiceName string

	// Version is reported in response metadata and health checks.
	Version string
}

// DefaultConfig returns default server configuration.
func DefaultConfig() Config {
	return Config{
		Host:           "0.0.0.0",
		Port:           8080,
		ReadTimeout:    15 * time.Second,
		WriteTimeout:   60 * time.Second,
		IdleTimeout:    60 * time.Second,
		MaxHeaderBytes: 1 << 20, // 1 MB
		AllowedOrigins: []string{"*"},
		EnableMetrics:  true,
		APIKeyHeader:   "X-API-Key",
		ServiceName:    "ranking-hub",
		Version:        "v1",
	}
}

// Address returns the server address string.
func (c Config) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// ══════════════════════════════════════════════════════════════════════════════
// DEPENDENCIES
// ══════════════════════════════════════════════════════════════════════════════

// RankingReader reads a page of the current ranking.
type RankingReader interface {
	Handle(ctx context.Context, q query.GetRankingQuery) (*query.GetRankingResult, error)
}

// HistoryReader reads the snapshot history of one rider or club.
type HistoryReader interface {
	Handle(ctx context.Context, q query.GetHistoryQuery) (*query.GetHistoryResult, error)
}

// BreakdownReader explains the points of one rider.
type BreakdownReader interface {
	Handle(ctx context.Context, q query.GetBreakdownQuery) (*query.GetBreakdownResult, error)
}

// LastCalculationReader reads the last full recalculation.
type LastCalculationReader interface {
	Handle(ctx context.Context) (*query.GetLastCalculationResult, error)
}

// Recalculator runs a full recalculation.
type Recalculator interface {
	Handle(ctx context.Context, cmd command.RecalculateRankingsCommand) (*ranking.RunReport, error)
}

// Backfiller fills missing monthly history of one discipline.
type Backfiller interface {
	Handle(ctx context.Context, cmd command.BackfillHistoryCommand) (*command.BackfillHistoryResult, error)
}

// SettingsUpdater replaces multiplier tables.
type SettingsUpdater interface {
	Handle(ctx context.Context, cmd command.UpdateSettingsCommand) (*command.UpdateSettingsResult, error)
}

// SettingsReader returns the multiplier tables a run would use now.
type SettingsReader interface {
	Snapshot(ctx context.Context) ranking.Settings
}

// Dependencies contains all dependencies required by HTTP handlers.
// nil handlers answer 501.
type Dependencies struct {
	// Query Handlers (CQRS Read Side)
	Rankings        RankingReader
	History         HistoryReader
	Breakdown       BreakdownReader
	LastCalculation LastCalculationReader

	// Command Handlers (admin)
	Recalculator    Recalculator
	Backfiller      Backfiller
	SettingsUpdater SettingsUpdater
	SettingsReader  SettingsReader

	// Health Check Dependencies
	HealthChecker handlers.HealthChecker

	// Gatherer backs GET /metrics.
	Gatherer prometheus.Gatherer

	Logger *slog.Logger
}

// ══════════════════════════════════════════════════════════════════════════════
// SERVER
// ══════════════════════════════════════════════════════════════════════════════

// Server represents the HTTP server.
type Server struct {
	config     Config
	deps       Dependencies
	httpServer *http.Server
	router     chi.Router
	log        *slog.Logger

	// baseCtx outlives requests; background admin runs use it and stop on Shutdown.
	baseCtx    context.Context
	cancelBase context.CancelFunc
	background sync.WaitGroup

	// Server state
	mu        sync.RWMutex
	running   bool
	startedAt time.Time
}

// NewServer creates a new HTTP server with the given configuration and dependencies.
func NewServer(config Config, deps Dependencies) *Server {
	if config.APIKeyHeader == "" {
		config.APIKeyHeader = "X-API-Key"
	}
	if config.ServiceName == "" {
		config.ServiceName = "ranking-hub"
	}

	baseCtx, cancel := context.WithCancel(context.Background())
	s := &Server{
		config:     config,
		deps:       deps,
		router:     chi.NewRouter(),
		log:        logger.OrDefault(deps.Logger).With(logger.Component("http")),
		baseCtx:    baseCtx,
		cancelBase: cancel,
	}

	s.setupRoutes()

	s.httpServer = &http.Server{
		Addr:           config.Address(),
		Handler:        s.Handler(),
		ReadTimeout:    config.ReadTimeout,
		WriteTimeout:   config.WriteTimeout,
		IdleTimeout:    config.IdleTimeout,
		MaxHeaderBytes: config.MaxHeaderBytes,
	}

	return s
}

// Handler returns the root handler with tracing applied.
func (s *Server) Handler() http.Handler {
	return otelhttp.NewHandler(s.router, s.config.ServiceName,
		otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
			return r.Method + " " + r.URL.Path
		}),
	)
}

// ══════════════════════════════════════════════════════════════════════════════
// ROUTING
// ══════════════════════════════════════════════════════════════════════════════

func (s *Server) setupRoutes() {
	r := s.router
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)

	// ─────────────────────────────────────────────────────────────────────────
	// Health & Metrics
	// ─────────────────────────────────────────────────────────────────────────
	r.Get("/healthz", s.handleHealth)
	r.Get("/readyz", s.handleReady)
	r.Get("/livez", s.handleLive)
	if s.config.EnableMetrics && s.deps.Gatherer != nil {
		r.Handle("/metrics", metricsHandler(s.deps.Gatherer))
	}

	// ─────────────────────────────────────────────────────────────────────────
	// API v1 - Public Endpoints
	// ─────────────────────────────────────────────────────────────────────────
	r.Route("/api/v1", func(r chi.Router) {
		r.Use(s.corsMiddleware)
		r.Get("/rankings/{discipline}/{kind}", s.handleGetRanking)
		r.Get("/rankings/{discipline}/{kind}/{id}/history", s.handleGetHistory)
		r.Get("/rankings/{discipline}/riders/{id}/breakdown", s.handleGetBreakdown)
		r.Get("/calculations/last", s.handleGetLastCalculation)
	})

	// ─────────────────────────────────────────────────────────────────────────
	// Admin
	// ─────────────────────────────────────────────────────────────────────────
	if len(s.config.AdminAPIKeys) > 0 {
		r.Route("/admin", func(r chi.Router) {
			r.Use(s.apiKeyMiddleware)
			r.Post("/recalculate", s.handleRecalculate)
			r.Post("/backfill", s.handleBackfill)
			r.Get("/settings", s.handleGetSettings)
			r.Put("/settings", s.handleUpdateSettings)
		})
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// MIDDLEWARE
// ══════════════════════════════════════════════════════════════════════════════

// loggingMiddleware logs all HTTP requests.
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		ww.Header().Set(middleware.RequestIDHeader, middleware.GetReqID(r.Context()))

		ctx := logger.WithContext(r.Context(), s.log.With(logger.RequestID(middleware.GetReqID(r.Context()))))
		next.ServeHTTP(ww, r.WithContext(ctx))

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		level := slog.LevelInfo
		if status >= http.StatusInternalServerError {
			level = slog.LevelWarn
		}
		s.log.Log(r.Context(), level, "http request",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Int("status", status),
			slog.Int("bytes", ww.BytesWritten()),
			logger.Latency(time.Since(start)),
			slog.String("ip", r.RemoteAddr),
			logger.RequestID(middleware.GetReqID(r.Context())),
		)
	})
}

// recoveryMiddleware recovers from panics and returns 500.
func (s *Server) recoveryMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				if rec == http.ErrAbortHandler {
					panic(rec)
				}
				s.log.Error("panic recovered",
					slog.Any("panic", rec),
					slog.String("stack", string(debug.Stack())),
					slog.String("path", r.URL.Path),
					logger.RequestID(middleware.GetReqID(r.Context())),
				)
				writeJSONError(w, r, http.StatusInternalServerError, "internal_server_error", "An unexpected error occurred")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// corsMiddleware adds CORS headers for read-only public endpoints.
func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin != "" && s.originAllowed(origin) {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, X-Request-ID")
			w.Header().Set("Access-Control-Max-Age", "86400")
			w.Header().Add("Vary", "Origin")
		}
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) originAllowed(origin string) bool {
	for _, o := range s.config.AllowedOrigins {
		if o == "*" || o == origin {
			return true
		}
	}
	return false
}

// apiKeyMiddleware rejects admin requests without a valid key.
func (s *Server) apiKeyMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !validAPIKey(r.Header.Get(s.config.APIKeyHeader), s.config.AdminAPIKeys) {
			writeJSONError(w, r, http.StatusUnauthorized, "unauthorized", "Missing or invalid API key")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// ══════════════════════════════════════════════════════════════════════════════
// SERVER LIFECYCLE
// ══════════════════════════════════════════════════════════════════════════════

// Start starts the HTTP server and blocks until it stops.
func (s *Server) Start() error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return fmt.Errorf("server already running")
	}
	s.running = true
	s.startedAt = time.Now()
	s.mu.Unlock()

	s.log.Info("starting HTTP server", slog.String("address", s.config.Address()))

	err := s.httpServer.ListenAndServe()
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server error: %w", err)
	}
	return nil
}

// StartAsync starts the server in a goroutine.
func (s *Server) StartAsync() <-chan error {
	errCh := make(chan error, 1)
	go func() {
		if err := s.Start(); err != nil {
			errCh <- err
		}
		close(errCh)
	}()
	return errCh
}

// Shutdown stops accepting requests and waits for background admin runs.
// Runs still going when ctx expires are cancelled.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	wasRunning := s.running
	s.running = false
	s.mu.Unlock()
	defer s.cancelBase()

	var err error
	if wasRunning {
		s.log.Info("shutting down HTTP server")
		err = s.httpServer.Shutdown(ctx)
	}

	done := make(chan struct{})
	go func() {
		s.background.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		s.log.Warn("background admin runs cancelled by shutdown")
		return errors.Join(err, ctx.Err())
	}
	return err
}

// IsRunning returns true if the server is running.
func (s *Server) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.running
}

// Uptime returns the server uptime.
func (s *Server) Uptime() time.Duration {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.running {
		return 0
	}
	return time.Since(s.startedAt)
}

// Address returns the server address.
func (s *Server) Address() string {
	return s.config.Address()
}

// goBackground runs fn detached from the request. fn gets the server base
// context with the request logger.
func (s *Server) goBackground(r *http.Request, fn func(ctx context.Context)) {
	ctx := logger.WithContext(s.baseCtx, logger.FromContext(r.Context()))
	s.background.Add(1)
	go func() {
		defer s.background.Done()
		fn(ctx)
	}()
}

// ══════════════════════════════════════════════════════════════════════════════
// RESPONSE HELPERS
// ══════════════════════════════════════════════════════════════════════════════

// JSONResponse represents a standard JSON response.
type JSONResponse struct {
	Success   bool          `json:"success"`
	Data      any           `json:"data,omitempty"`
	Error     *APIError     `json:"error,omitempty"`
	Meta      *ResponseMeta `json:"meta,omitempty"`
	RequestID string        `json:"request_id,omitempty"`
}

// APIError represents an API error.
type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
}

// ResponseMeta contains response metadata.
type ResponseMeta struct {
	Timestamp  time.Time `json:"timestamp"`
	Version    string    `json:"version,omitempty"`
	TotalCount int       `json:"total_count,omitempty"`
	Page       int       `json:"page,omitempty"`
	PageSize   int       `json:"page_size,omitempty"`
	HasMore    bool      `json:"has_more,omitempty"`
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, r *http.Request, status int, data any) {
	writeJSONWithMeta(w, r, status, data, nil)
}

// writeJSONWithMeta writes a JSON response with custom metadata.
func writeJSONWithMeta(w http.ResponseWriter, r *http.Request, status int, data any, meta *ResponseMeta) {
	if meta == nil {
		meta = &ResponseMeta{}
	}
	meta.Timestamp = time.Now().UTC()
	meta.Version = "v1"

	encode(w, status, JSONResponse{
		Success:   status >= 200 && status < 300,
		Data:      data,
		Meta:      meta,
		RequestID: middleware.GetReqID(r.Context()),
	})
}

// writeJSONError writes an error JSON response.
func writeJSONError(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	writeJSONErrorWithDetails(w, r, status, code, message, "")
}

// writeJSONErrorWithDetails writes an error JSON response with details.
func writeJSONErrorWithDetails(w http.ResponseWriter, r *http.Request, status int, code, message, details string) {
	encode(w, status, JSONResponse{
		Success: false,
		Error: &APIError{
			Code:    code,
			Message: message,
			Details: details,
		},
		Meta:      &ResponseMeta{Timestamp: time.Now().UTC()},
		RequestID: middleware.GetReqID(r.Context()),
	})
}

func encode(w http.ResponseWriter, status int, response JSONResponse) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(response)
}
