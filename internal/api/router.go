package api

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/idvault/idvault/internal/api/handlers"
	"github.com/idvault/idvault/internal/api/middleware"
	"github.com/idvault/idvault/internal/config"
)

// NewRouter creates the HTTP router with all API routes.
func NewRouter(cfg *config.Config, h *handlers.Handlers) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(chimw.Compress(5))
	r.Use(middleware.Logger)
	r.Use(middleware.Telemetry)
	r.Use(middleware.NewTokenAuth(cfg.APITokens).Middleware)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type", "X-Request-Id"},
		ExposedHeaders: []string{"X-Request-Id"},
		MaxAge:         300,
	}))

	// Health & info
	r.Get("/health", healthHandler)
	r.Get("/version", versionHandler(cfg))

	// API v1
	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/identity", func(r chi.Router) {
			r.Post("/", h.GenerateIdentity)
			r.Get("/", h.GetIdentity)
			r.Get("/export", h.ExportIdentity)
			r.Post("/import", h.ImportIdentity)
		})

		r.Route("/profile", func(r chi.Router) {
			r.Put("/", h.SaveProfile)
			r.Get("/", h.GetProfile)
		})

		r.Get("/resolve/{did}", h.Resolve)

		r.Route("/agents", func(r chi.Router) {
			r.Get("/", h.ListAgents)
			r.Post("/", h.RegisterAgent)
			r.Post("/{did}/chat", h.AgentChat)
		})

		r.Route("/handshakes", func(r chi.Router) {
			r.Post("/", h.InitiateHandshake)
			r.Get("/pending", h.PendingHandshakes)
			r.Get("/accepted", h.AcceptedHandshakes)
			r.Post("/{id}/accept", h.AcceptHandshake)
			r.Post("/{id}/reject", h.RejectHandshake)
		})

		r.Route("/ai", func(r chi.Router) {
			r.Post("/avatar", h.GenerateAvatar)
			r.Post("/capabilities", h.SuggestCapabilities)
		})
	})

	return r
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{
		"status":  "healthy",
		"service": "idvault",
	})
}

func versionHandler(cfg *config.Config) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{
			"version": cfg.Version,
			"service": "idvault",
		})
	}
}
