// Package router arma el árbol de rutas chi de permgate.
package router

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	ctrl "github.com/dropDatabas3/permgate/internal/http/controllers"
	httperrors "github.com/dropDatabas3/permgate/internal/http/errors"
	mw "github.com/dropDatabas3/permgate/internal/http/middlewares"
	"github.com/dropDatabas3/permgate/internal/rate"
)

// Deps dependencias del router.
type Deps struct {
	Health      *ctrl.HealthController
	Permissions *ctrl.PermissionsController
	Proxy       *ctrl.ProxyController // nil desactiva /v1/app
	Metrics     http.Handler          // nil desactiva /metrics
	Verifier    mw.TokenVerifier
	Limiter     rate.Limiter // nil desactiva el rate limit del proxy
}

// New construye el handler raíz.
func New(d Deps) http.Handler {
	r := chi.NewRouter()
	r.Use(mw.WithRecover(), mw.WithRequestID())

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		httperrors.WriteError(w, httperrors.ErrNotFound)
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		httperrors.WriteError(w, httperrors.ErrMethodNotAllowed)
	})

	// infra: sin auth ni access log (muy frecuentes)
	r.Get("/healthz", d.Health.Healthz)
	r.Get("/readyz", d.Health.Readyz)
	if d.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", d.Metrics)
	}

	r.Route("/v1", func(r chi.Router) {
		r.Use(mw.WithLogging(), mw.RequireAuth(d.Verifier), mw.WithNoStore())

		p := d.Permissions
		r.Get("/permissions/me", p.Me)
		r.Get("/authorize", p.Authorize)
		r.Get("/resolve", p.Resolve)
		r.Get("/gate", p.Gate)
		r.Post("/catalog/invalidate", p.InvalidateCatalog)
		r.Delete("/session", p.Logout)

		if d.Proxy != nil {
			r.Group(func(r chi.Router) {
				if d.Limiter != nil {
					r.Use(mw.WithRateLimit(d.Limiter))
				}
				r.HandleFunc("/app/*", d.Proxy.Serve)
			})
		}
	})
	return r
}
