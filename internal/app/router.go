package app

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/warden-authz/warden/internal/engine"
	"github.com/warden-authz/warden/internal/groups"
	"github.com/warden-authz/warden/internal/observability"
	"github.com/warden-authz/warden/internal/principals"
	"github.com/warden-authz/warden/internal/resources"
	"github.com/warden-authz/warden/internal/roles"
	"github.com/warden-authz/warden/jobs"
)

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger            *slog.Logger
	Config            *Config
	ResolveHandler    *engine.Handler
	ResourcesHandler  *resources.Handler
	RolesHandler      *roles.Handler
	GroupsHandler     *groups.Handler
	PrincipalsHandler *principals.Handler
	JobsHandler       *jobs.Handler
	Metrics           *observability.Metrics
}

// NewRouter constructs the chi.Router with Warden defaults.
func NewRouter(params RouterParams) http.Handler {
	r := chi.NewRouter()

	for _, mw := range MiddlewareStack(MiddlewareConfig{
		Logger:  params.Logger,
		Config:  params.Config,
		Metrics: params.Metrics,
	}) {
		r.Use(mw)
	}

	r.Use(chimw.Logger)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	r.Route("/v1", func(r chi.Router) {
		if params.ResolveHandler != nil {
			r.Route("/resolve", params.ResolveHandler.MountRoutes)
		}
		if params.ResourcesHandler != nil {
			params.ResourcesHandler.MountRoutes(r)
		}
		if params.RolesHandler != nil {
			r.Route("/roles", params.RolesHandler.MountRoutes)
			r.Route("/permissions", params.RolesHandler.MountPermissionRoutes)
		}
		if params.GroupsHandler != nil {
			r.Route("/groups", params.GroupsHandler.MountRoutes)
		}
		if params.PrincipalsHandler != nil {
			r.Route("/users", params.PrincipalsHandler.MountUserRoutes)
			r.Route("/clients", params.PrincipalsHandler.MountClientRoutes)
		}
	})

	if params.JobsHandler != nil {
		r.Route("/jobs", params.JobsHandler.MountRoutes)
	}

	if params.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", params.Metrics.Handler())
	}

	return r
}
