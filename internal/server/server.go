// Package server wires the HTTP surface: the operator API, the frame
// websocket, the load/save helpers and static task documents.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/cors"
	"github.com/rs/zerolog/log"

	"github.com/gosuda/taskbridge/internal/api/medal"
	"github.com/gosuda/taskbridge/internal/api/ws"
	"github.com/gosuda/taskbridge/internal/config"
	"github.com/gosuda/taskbridge/internal/frame"
	"github.com/gosuda/taskbridge/internal/metrics"
	"github.com/gosuda/taskbridge/internal/remote"
	"github.com/gosuda/taskbridge/internal/server/middleware"
	"github.com/gosuda/taskbridge/internal/store/postgres"
	"github.com/gosuda/taskbridge/internal/taskproxy"
)

// Deps are the components the routes serve. Store and Remote are optional.
type Deps struct {
	Frames  *frame.Directory
	Proxies *taskproxy.Registry
	Metrics *metrics.Metrics
	Store   *postgres.Store // nil when no database is configured
	Remote  *remote.Frames  // nil when Redis is not configured
}

// Server is the HTTP server that wires all application routes and middleware.
type Server struct {
	router     chi.Router
	httpServer *http.Server
	deps       Deps
}

// New creates a Server with all routes wired. ctx bounds the background
// sweeps of the rate limiters.
func New(ctx context.Context, cfg *config.Config, deps Deps) *Server {
	router := chi.NewRouter()

	// Global middleware stack.
	router.Use(chimw.RequestID)
	router.Use(chimw.RealIP)
	router.Use(middleware.RequestLogger)
	router.Use(chimw.Recoverer)
	if deps.Metrics != nil {
		router.Use(deps.Metrics.Middleware)
	}
	router.Use(cors.New(cors.Options{
		AllowedOrigins:   cfg.Server.CORSOrigins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-API-Key", "X-Request-ID"},
		ExposedHeaders:   []string{"X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           300,
	}).Handler)

	s := &Server{
		router: router,
		deps:   deps,
		httpServer: &http.Server{
			Addr:         cfg.Server.Addr,
			Handler:      router,
			ReadTimeout:  cfg.Server.ReadTimeout,
			WriteTimeout: cfg.Server.WriteTimeout,
		},
	}

	publicLimit := middleware.RateLimitByIP(ctx, cfg.RateLimit.RequestsPerSecond, cfg.RateLimit.Burst)

	// Operator API.
	router.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.OperatorAuth(cfg.JWT.Secret, cfg.JWT.APIKeyHashes))
		r.Use(middleware.RateLimitByOperator(ctx, cfg.RateLimit.RequestsPerSecond, cfg.RateLimit.Burst))

		apiConfig := huma.DefaultConfig("Taskbridge API", "1.0.0")
		apiConfig.Servers = []*huma.Server{
			{URL: "/api/v1"},
		}
		api := humachi.New(r, apiConfig)
		registerAPIRoutes(api, cfg, deps)
	})

	// Embedded task documents attach here; they authenticate with their sToken.
	hub := ws.NewHub(deps.Frames, deps.Proxies, cfg.JWT.Secret, cfg.Server.WSOrigins)
	router.Route("/ws", func(r chi.Router) {
		r.Use(publicLimit)
		registerWSRoutes(r, hub)
	})

	// Load/save helpers: 501 when there is nowhere to store submissions.
	router.Group(func(r chi.Router) {
		r.Use(publicLimit)
		if deps.Store != nil {
			registerMedalRoutes(r, medal.NewHandler(deps.Store.Submissions(), cfg.JWT.Secret, cfg.Platform.File))
			return
		}
		notImplemented := func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusNotImplemented)
		}
		r.Get("/load/{taskID}", notImplemented)
		r.Post("/save/{taskID}", notImplemented)
		r.Get("/grade/{taskID}", notImplemented)
	})

	if deps.Metrics != nil {
		router.Handle("/metrics", deps.Metrics.Handler())
	}

	// Health check (unauthenticated).
	router.Get("/healthz", s.healthz)

	if cfg.Server.TasksDir != "" {
		router.Handle("/tasks/*", http.StripPrefix("/tasks", taskFileServer(os.DirFS(cfg.Server.TasksDir))))
		log.Info().Str("dir", cfg.Server.TasksDir).Msg("serving task documents under /tasks/")
	}

	return s
}

type healthResponse struct {
	Status  string `json:"status"`
	Frames  int    `json:"frames"`
	Proxies int    `json:"proxies"`
	Remote  int    `json:"remote_frames"`
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	resp := healthResponse{
		Status:  "ok",
		Frames:  s.deps.Frames.Len(),
		Proxies: s.deps.Proxies.Len(),
	}
	if s.deps.Remote != nil {
		resp.Remote = s.deps.Remote.Len()
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(resp)
}

// Handler returns the root handler, for tests and embedding.
func (s *Server) Handler() http.Handler { return s.router }

// Start begins listening for HTTP requests.
func (s *Server) Start(_ context.Context) error {
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server.Start: %w", err)
	}
	return nil
}

// Shutdown gracefully stops the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server.Shutdown: %w", err)
	}
	return nil
}
