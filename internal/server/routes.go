package server

import (
	"github.com/danielgtaylor/huma/v2"
	"github.com/go-chi/chi/v5"

	"github.com/gosuda/taskbridge/internal/api/medal"
	v1 "github.com/gosuda/taskbridge/internal/api/v1"
	"github.com/gosuda/taskbridge/internal/api/ws"
	"github.com/gosuda/taskbridge/internal/config"
)

func registerAPIRoutes(api huma.API, cfg *config.Config, deps Deps) {
	v1.RegisterSessionRoutes(api, v1.SessionConfig{
		Secret: cfg.JWT.Secret,
		TTL:    cfg.JWT.SessionTTL,
	})
	v1.RegisterFrameRoutes(api, deps.Frames, deps.Proxies, cfg.Platform.File.Params)
	if deps.Remote != nil {
		v1.RegisterRemoteRoutes(api, deps.Remote)
	}
}

func registerWSRoutes(r chi.Router, hub *ws.Hub) {
	r.Get("/frames/{frameID}", hub.ServeFrame)
}

func registerMedalRoutes(r chi.Router, h *medal.Handler) {
	h.Routes(r)
}
