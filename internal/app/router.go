package app

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/memberdesk/memberdesk/internal/observability"
	"github.com/memberdesk/memberdesk/internal/platform/httpx"
	"github.com/memberdesk/memberdesk/internal/rbac"
	"github.com/memberdesk/memberdesk/internal/roles"
	"github.com/memberdesk/memberdesk/jobs"
)

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger         *slog.Logger
	Config         *Config
	RBACHandler    *rbac.Handler
	RBACMiddleware rbac.Middleware
	JobHandler     *jobs.Handler
	Metrics        *observability.Metrics
}

// NewRouter constructs the chi.Router with memberdesk defaults.
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
		httpx.JSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Method(http.MethodGet, "/metrics", params.Metrics.Handler())

	r.Route("/api", func(r chi.Router) {
		if params.RBACHandler != nil {
			params.RBACHandler.MountRoutes(r)
		}
		// Every tab gets a landing endpoint guarded by the access table.
		for _, item := range rbac.NavigationFor(roles.Admin) {
			r.With(params.RBACMiddleware.RequireTab(item.Tab)).Get("/tabs/"+string(item.Tab), func(w http.ResponseWriter, r *http.Request) {
				httpx.JSON(w, http.StatusOK, item)
			})
		}
	})

	if params.JobHandler != nil {
		r.Route("/jobs", params.JobHandler.MountRoutes)
	}

	return r
}
