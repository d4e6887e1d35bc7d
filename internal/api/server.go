package api

import (
	"context"
	"crypto/tls"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"repo-sentinel/internal/config"
	"repo-sentinel/internal/monitor"
	"repo-sentinel/internal/pipeline"
	"repo-sentinel/internal/sandbox"
	"repo-sentinel/internal/store"
)

// healthChecker is implemented by stores that can report connectivity.
type healthChecker interface {
	Healthy(ctx context.Context) bool
}

// Server is the main HTTP server for the analysis API.
type Server struct {
	httpServer *http.Server
	handlers   *Handlers
	cfg        *config.Config
	startTime  time.Time
}

// NewServer creates and configures the HTTP server with all routes and middleware.
func NewServer(cfg *config.Config, ctrl *pipeline.Controller, sb sandbox.Manager, st store.Store, metrics *monitor.Metrics) *Server {
	handlers := NewHandlers(ctrl)

	s := &Server{
		handlers:  handlers,
		cfg:       cfg,
		startTime: time.Now(),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /analyses", handlers.HandleAnalyze)
	mux.HandleFunc("GET /analyses", handlers.HandleList)
	mux.HandleFunc("GET /analyses/{id}", handlers.HandleStatus)
	mux.HandleFunc("GET /analyses/{id}/details", handlers.HandleDetails)
	mux.HandleFunc("GET /analyses/{id}/events", handlers.HandleEvents)
	mux.HandleFunc("GET /health", s.handleHealth(sb, st))
	if cfg.Metrics.Enabled {
		mux.Handle("GET "+cfg.Metrics.Path, promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{}))
	}

	// Middleware chain, outermost first.
	var handler http.Handler = mux
	handler = MetricsMiddleware(metrics)(handler)
	handler = RateLimitMiddleware(cfg.Security.RateLimitRPS, cfg.Security.RateLimitBurst)(handler)
	handler = MaxBodyMiddleware(cfg.Server.MaxRequestBody)(handler)
	handler = LoggingMiddleware(handler)
	handler = RequestIDMiddleware(handler)
	handler = RecoveryMiddleware(handler)

	s.httpServer = &http.Server{
		Addr:        cfg.Address(),
		Handler:     handler,
		ReadTimeout: cfg.Server.ReadTimeout,
		// WriteTimeout stays off the event stream's back: SSE connections
		// are long-lived, so only header reads are bounded here.
		WriteTimeout: 0,
		IdleTimeout:  120 * time.Second,
	}

	return s
}

// Start begins listening for requests. Uses TLS if configured.
func (s *Server) Start() error {
	if s.cfg.TLS.Enabled {
		log.Info().
			Str("addr", s.httpServer.Addr).
			Str("cert", s.cfg.TLS.CertFile).
			Msg("starting HTTPS server with TLS")

		s.httpServer.TLSConfig = &tls.Config{
			MinVersion: tls.VersionTLS12,
		}
		return s.httpServer.ListenAndServeTLS(s.cfg.TLS.CertFile, s.cfg.TLS.KeyFile)
	}

	log.Warn().Msg("TLS not enabled — running plain HTTP (not recommended for production)")
	log.Info().
		Str("addr", s.httpServer.Addr).
		Msg("starting HTTP server")
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	log.Info().Msg("shutting down HTTP server")
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleHealth(sb sandbox.Manager, st store.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		dbOK := true
		if hc, ok := st.(healthChecker); ok {
			dbOK = hc.Healthy(r.Context())
		}

		resp := HealthResponse{
			Status:   "ok",
			Database: dbOK,
			Sandbox:  sb != nil,
			Uptime:   time.Since(s.startTime).Round(time.Second).String(),
		}
		if sb != nil {
			resp.ActiveSandboxes = sb.ActiveCount()
		}
		if !dbOK || sb == nil {
			resp.Status = "degraded"
		}

		status := http.StatusOK
		if resp.Status != "ok" {
			status = http.StatusServiceUnavailable
		}

		writeJSON(w, status, resp)
	}
}
