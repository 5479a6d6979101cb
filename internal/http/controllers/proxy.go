package controllers

import (
	"net/http"
	"net/http/httputil"
	"net/url"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	httperrors "github.com/dropDatabas3/permgate/internal/http/errors"
	mw "github.com/dropDatabas3/permgate/internal/http/middlewares"
	"github.com/dropDatabas3/permgate/internal/observability/logger"
	"github.com/dropDatabas3/permgate/internal/permission"
	"github.com/dropDatabas3/permgate/internal/policy"
)

// ActionForRequest deriva la acción del método HTTP. POST sobre un path que
// termina en /finalizar o /finalize es finalize.
func ActionForRequest(method, path string) (permission.Action, bool) {
	switch method {
	case http.MethodGet, http.MethodHead:
		return permission.ActionView, true
	case http.MethodPost:
		last := strings.ToLower(strings.TrimRight(path, "/"))
		if i := strings.LastIndex(last, "/"); i >= 0 {
			last = last[i+1:]
		}
		if last == "finalizar" || last == "finalize" {
			return permission.ActionFinalize, true
		}
		return permission.ActionCreate, true
	case http.MethodPut, http.MethodPatch:
		return permission.ActionEdit, true
	case http.MethodDelete:
		return permission.ActionDelete, true
	}
	return "", false
}

// ProxyController reenvía /v1/app/* al backend gateway si la ruta está en el
// catálogo (exacta o prefijo por segmento) y el usuario puede realizar la
// acción sobre esa opción. Rutas sin mapear se deniegan.
type ProxyController struct {
	perms *PermissionsController
	proxy *httputil.ReverseProxy
}

// NewProxyController: target es la base del backend (ej. http://gw/api).
func NewProxyController(perms *PermissionsController, target *url.URL) *ProxyController {
	rp := &httputil.ReverseProxy{
		Rewrite: func(pr *httputil.ProxyRequest) {
			pr.SetURL(target)
			pr.SetXForwarded()
			if p, ok := mw.GetPrincipal(pr.In.Context()); ok {
				pr.Out.Header.Set("X-User-ID", strconv.FormatInt(p.UserID, 10))
			}
		},
		ErrorHandler: func(w http.ResponseWriter, r *http.Request, err error) {
			logger.From(r.Context()).Warn("upstream request failed", logger.Err(err))
			httperrors.WriteError(w, httperrors.ErrBadGateway.WithCause(err))
		},
	}
	return &ProxyController{perms: perms, proxy: rp}
}

// Serve /v1/app/*
func (c *ProxyController) Serve(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	route := "/" + strings.TrimLeft(chi.URLParam(r, "*"), "/")

	action, ok := ActionForRequest(r.Method, route)
	if !ok {
		httperrors.WriteError(w, httperrors.ErrMethodNotAllowed)
		return
	}

	sc, err := c.perms.current(r)
	if err != nil {
		httperrors.WriteError(w, err)
		return
	}
	if !settle(ctx, sc, true, c.perms.opts.MaxWait) {
		httperrors.WriteError(w, httperrors.ErrPermissionsPending)
		return
	}

	// requests reales: solo rutas del catálogo, sin adivinar la opción
	res := sc.Resolver().Route(route)
	d := policy.Decision{Rule: res.Rule}
	if res.OK {
		d = sc.Decide(policy.Query{ResourceID: res.ResourceID, Action: action})
		d.Rule = res.Rule
	}
	log := logger.From(ctx).With(
		logger.Component("proxy"),
		logger.Path(route),
		logger.Action(string(action)),
		logger.ResourceID(d.ResourceID),
		logger.Rule(string(d.Rule)),
	)
	c.perms.audit(r, "proxy", route, action, d, true)
	if !d.Allowed {
		log.Debug("proxy request denied")
		httperrors.WriteError(w, httperrors.ErrForbidden.WithDetail(string(action)+" on "+route))
		return
	}

	out := r.Clone(ctx)
	out.URL.Path = route
	out.URL.RawPath = ""
	c.proxy.ServeHTTP(w, out)
}
