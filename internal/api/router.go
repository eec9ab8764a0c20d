package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/voiceforge/voiceforge/internal/api/handlers"
	"github.com/voiceforge/voiceforge/internal/api/middleware"
)

// NewRouter creates the HTTP router with all API routes.
func NewRouter(h *handlers.Handlers, gatherer prometheus.Gatherer) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(chimw.Compress(5))
	r.Use(middleware.Logger)
	r.Use(middleware.Telemetry)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-Id"},
		ExposedHeaders:   []string{"X-Request-Id", "X-Session-Id", "X-Recognized-Text", "X-Reply-Text", "X-Warnings"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// Status & info
	r.Get("/", h.Status)
	r.Get("/health", h.Health)
	r.Get("/version", h.Version)
	r.Get("/plugins", h.Plugins)
	r.Get("/backends", h.Backends)
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	// Speech & chat
	r.Get("/voices", h.Voices)
	r.Post("/asr", h.Recognize)
	r.Post("/tts", h.Synthesize)
	r.Post("/chat", h.Chat)
	r.Post("/complete", h.Complete)

	// Sessions
	r.Route("/sessions", func(r chi.Router) {
		r.Get("/", h.ListSessions)
		r.Post("/", h.CreateSession)
		r.Route("/{sessionId}", func(r chi.Router) {
			r.Get("/", h.GetSession)
			r.Delete("/", h.DeleteSession)
			r.Post("/clear", h.ClearSession)
		})
	})

	// Pipeline stats
	r.Route("/pipeline/stats", func(r chi.Router) {
		r.Get("/", h.PipelineStats)
		r.Post("/reset", h.ResetPipelineStats)
	})

	return r
}
