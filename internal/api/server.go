// SPDX-License-Identifier: MIT

package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mindloop/affirmd/internal/pipeline"
	"github.com/mindloop/affirmd/internal/prefs"
	"github.com/mindloop/affirmd/internal/ratelimit"
	"github.com/mindloop/affirmd/internal/session"
	"github.com/mindloop/affirmd/internal/subscription"
)

// Server bundles the HTTP dependencies.
type Server struct {
	orch    *pipeline.Orchestrator
	asm     *session.Assembler
	gate    *subscription.Gate
	prefs   *prefs.Store
	limiter *ratelimit.Limiter
	auth    Authenticator

	// AudioDir, when set, serves synthesized files under /audio/.
	audioDir string
	// Ready reports backend readiness; nil means always ready.
	ready func(ctx context.Context) error
}

// Config wires a Server.
type Config struct {
	Orchestrator *pipeline.Orchestrator
	Assembler    *session.Assembler
	Gate         *subscription.Gate
	Prefs        *prefs.Store
	Limiter      *ratelimit.Limiter
	Auth         Authenticator
	AudioDir     string
	Ready        func(ctx context.Context) error
}

// NewServer creates the HTTP server wiring.
func NewServer(cfg Config) *Server {
	return &Server{
		orch:     cfg.Orchestrator,
		asm:      cfg.Assembler,
		gate:     cfg.Gate,
		prefs:    cfg.Prefs,
		limiter:  cfg.Limiter,
		auth:     cfg.Auth,
		audioDir: cfg.AudioDir,
		ready:    cfg.Ready,
	}
}

// Router assembles the middleware stack and all routes.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(requestLogger)
	r.Use(chimw.Recoverer)
	// Coarse per-IP burst protection in front of the application limiter.
	r.Use(httprate.LimitByIP(300, time.Minute))
	r.Use(identity(s.auth))

	r.Get("/healthz", s.handleHealth)
	r.Get("/readyz", s.handleReady)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	if s.audioDir != "" {
		fs := http.StripPrefix("/audio/", http.FileServer(http.Dir(s.audioDir)))
		r.Get("/audio/*", fs.ServeHTTP)
	}

	r.Route("/api", func(r chi.Router) {
		r.Use(apiRateLimit(s.limiter))

		r.Route("/sessions", func(r chi.Router) {
			r.Post("/generate", s.handleGenerate)
			r.Post("/create", requireAuth(s.handleCreateCustom))
			r.Get("/", s.handleListSessions)
			r.Get("/{id}/playlist", s.handlePlaylist)
			r.Patch("/{id}/favorite", requireAuth(s.handleFavorite))
			r.Patch("/{id}", requireAuth(s.handleUpdateSession))
			r.Delete("/{id}", requireAuth(s.handleDeleteSession))
			r.Post("/{id}/feedback", requireAuth(s.handleFeedback))
		})

		r.Get("/preferences", requireAuth(s.handleGetPreferences))
		r.Patch("/preferences", requireAuth(s.handlePatchPreferences))

		r.Route("/subscription", func(r chi.Router) {
			r.Get("/", requireAuth(s.handleGetSubscription))
			r.Post("/verify-purchase", requireAuth(s.handleVerifyPurchase))
			r.Post("/cancel", requireAuth(s.handleCancelSubscription))
		})
	})

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if s.ready != nil {
		if err := s.ready(r.Context()); err != nil {
			writeError(w, http.StatusServiceUnavailable, CodeUpstream, "backend not ready", nil)
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}
