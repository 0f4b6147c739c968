package server

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/windfall/voicecoach_service/internal/config"
	httphandler "github.com/windfall/voicecoach_service/internal/handler/http"
	wshandler "github.com/windfall/voicecoach_service/internal/handler/ws"
	"github.com/windfall/voicecoach_service/internal/metrics"
	"github.com/windfall/voicecoach_service/internal/middleware"
)

// HTTPServer represents the HTTP server.
type HTTPServer struct {
	server *http.Server
	log    zerolog.Logger
}

// Handlers groups the route handlers mounted by the server.
type Handlers struct {
	Health   *httphandler.HealthHandler
	Analysis *httphandler.AnalysisHandler
	History  *httphandler.HistoryHandler
	Rephrase *httphandler.RephraseHandler
	Journal  *httphandler.JournalHandler
	Hub      *WebSocketHub
	Record   *wshandler.RecordHandler
}

// NewHTTPServer creates a new HTTP server.
func NewHTTPServer(cfg *config.Config, log zerolog.Logger, m *metrics.Metrics, h Handlers) *HTTPServer {
	return &HTTPServer{
		server: &http.Server{
			Addr:         cfg.HTTPAddress(),
			Handler:      NewRouter(cfg, log, m, h),
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
			IdleTimeout:  cfg.IdleTimeout,
		},
		log: log,
	}
}

// NewRouter builds the route tree.
func NewRouter(cfg *config.Config, log zerolog.Logger, m *metrics.Metrics, h Handlers) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.Logger(log))
	r.Use(middleware.Recovery(log, m))
	r.Use(middleware.Metrics(m))

	// CORS
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.CORSAllowedOrigins,
		AllowedMethods:   cfg.CORSAllowedMethods,
		AllowedHeaders:   cfg.CORSAllowedHeaders,
		ExposedHeaders:   []string{"Location", "X-Segment-Start", "X-Segment-End"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// Health endpoints (public)
	r.Get("/health", h.Health.Health)
	r.Get("/ready", h.Health.Ready)
	r.Get("/live", h.Health.Live)
	r.Handle("/metrics", promhttp.Handler())

	// WebSocket endpoints stay outside the compressed group
	r.Get("/ws/history", h.Hub.HandleWebSocket)
	r.Get("/ws/record", HandleRecord(log, h.Record))

	// API routes
	r.Route("/api/v1", func(r chi.Router) {
		r.Use(chimiddleware.Compress(5, "application/json"))

		// Upload and correlation
		r.Post("/analyses", h.Analysis.Submit)
		r.Get("/analyses", h.Analysis.List)
		r.Get("/analyses/{id}", h.Analysis.Get)
		r.Get("/analyses/{id}/wait", h.Analysis.Wait)

		// History
		r.Get("/history", h.History.List)
		r.Get("/history/{id}", h.History.Get)
		r.Get("/history/{id}/audio", h.History.Audio)
		r.Get("/history/{id}/charts/{chart}", h.History.Chart)

		// Journal
		r.Get("/journal", h.Journal.List)
		r.Get("/journal/{id}", h.Journal.Get)

		// Rephrasal
		r.Post("/rephrase", h.Rephrase.Rephrase)
	})

	return r
}

// Start starts the HTTP server.
func (s *HTTPServer) Start() error {
	s.log.Info().Str("addr", s.server.Addr).Msg("Starting HTTP server")
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown gracefully shuts down the HTTP server.
func (s *HTTPServer) Shutdown(ctx context.Context) error {
	s.log.Info().Msg("Shutting down HTTP server")
	return s.server.Shutdown(ctx)
}
