package controllers

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/dropDatabas3/permgate/internal/audit"
	"github.com/dropDatabas3/permgate/internal/catalog"
	"github.com/dropDatabas3/permgate/internal/gate"
	httperrors "github.com/dropDatabas3/permgate/internal/http/errors"
	mw "github.com/dropDatabas3/permgate/internal/http/middlewares"
	"github.com/dropDatabas3/permgate/internal/observability/logger"
	"github.com/dropDatabas3/permgate/internal/permission"
	"github.com/dropDatabas3/permgate/internal/policy"
	"github.com/dropDatabas3/permgate/internal/session"
)

// Sessions lo que los controllers necesitan del session.Manager.
type Sessions interface {
	Get(ctx context.Context, sessionKey string, userID int64) *session.Context
	Drop(sessionKey string)
}

// GateOptions tiempos del gate para /v1/gate y el proxy.
type GateOptions struct {
	DenyDelay time.Duration
	MaxWait   time.Duration
}

// PermissionsController maneja /v1/permissions, /v1/authorize, /v1/resolve,
// /v1/gate y /v1/catalog.
type PermissionsController struct {
	sessions Sessions
	resolver *catalog.Resolver
	opts     GateOptions
}

// NewPermissionsController crea el controller.
func NewPermissionsController(sessions Sessions, resolver *catalog.Resolver, opts GateOptions) *PermissionsController {
	if opts.MaxWait <= 0 {
		opts.MaxWait = 5 * time.Second
	}
	if opts.DenyDelay < 0 {
		opts.DenyDelay = gate.DefaultDenyDelay
	}
	return &PermissionsController{sessions: sessions, resolver: resolver, opts: opts}
}

// current retorna la sesión del principal autenticado.
func (c *PermissionsController) current(r *http.Request) (*session.Context, error) {
	p, ok := mw.GetPrincipal(r.Context())
	if !ok {
		return nil, httperrors.ErrTokenMissing
	}
	return c.sessions.Get(r.Context(), p.Session, p.UserID), nil
}

// settle espera (acotado por MaxWait) a que el store tenga el mapa del
// usuario y, si infer, a que el catálogo haya intentado cargar. Retorna
// false si venció el tiempo.
func settle(ctx context.Context, sc *session.Context, infer bool, maxWait time.Duration) bool {
	ctx, cancel := context.WithTimeout(ctx, maxWait)
	defer cancel()

	if infer {
		// un catálogo caído no bloquea: la resolución queda indeterminada
		_ = sc.Resolver().Load(ctx)
	}
	store := sc.Store()
	for {
		ch := store.Changed()
		if store.Ready() {
			return true
		}
		select {
		case <-ch:
		case <-ctx.Done():
			return false
		}
	}
}

type grantsResponse struct {
	UserID  int64              `json:"userId"`
	Ready   bool               `json:"ready"`
	Loading bool               `json:"loading"`
	Error   string             `json:"error,omitempty"`
	Grants  []permission.Grant `json:"grants"`
}

// Me GET /v1/permissions/me[?wait=true]
func (c *PermissionsController) Me(w http.ResponseWriter, r *http.Request) {
	sc, err := c.current(r)
	if err != nil {
		httperrors.WriteError(w, err)
		return
	}
	if strings.EqualFold(r.URL.Query().Get("wait"), "true") {
		settle(r.Context(), sc, false, c.opts.MaxWait)
	}

	st := sc.Store()
	snap := st.Snapshot()
	resp := grantsResponse{
		UserID:  st.UserID(),
		Ready:   st.Ready(),
		Loading: st.Loading(),
		Grants:  make([]permission.Grant, 0, len(snap)),
	}
	if err := st.Err(); err != nil {
		resp.Error = err.Error()
	}
	for _, id := range snap.IDs() {
		resp.Grants = append(resp.Grants, snap[id])
	}
	writeJSON(w, http.StatusOK, resp)
}

type decisionResponse struct {
	Allowed    bool              `json:"allowed"`
	ResourceID int64             `json:"resourceId"`
	Rule       catalog.Rule      `json:"rule"`
	Action     permission.Action `json:"action"`
	Ready      bool              `json:"ready"`
}

// Authorize GET /v1/authorize?resource=&action=&path=
func (c *PermissionsController) Authorize(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := logger.From(ctx).With(logger.Component("controller"), logger.Op("PermissionsController.Authorize"))

	id, err := queryResource(r, "resource")
	if err != nil {
		httperrors.WriteError(w, err)
		return
	}
	action, err := queryAction(r)
	if err != nil {
		httperrors.WriteError(w, err)
		return
	}
	path := r.URL.Query().Get("path")

	sc, err := c.current(r)
	if err != nil {
		httperrors.WriteError(w, err)
		return
	}

	ready := settle(ctx, sc, id == 0, c.opts.MaxWait)
	d := sc.Decide(policy.Query{ResourceID: id, Path: path, Action: action})
	log.Debug("authorize",
		logger.ResourceID(d.ResourceID),
		logger.Action(string(action)),
		logger.Rule(string(d.Rule)),
		logger.Bool("allowed", d.Allowed),
	)
	c.audit(r, "authorize", path, action, d, ready)
	writeJSON(w, http.StatusOK, decisionResponse{
		Allowed:    d.Allowed,
		ResourceID: d.ResourceID,
		Rule:       d.Rule,
		Action:     action,
		Ready:      ready,
	})
}

type resolveResponse struct {
	ResourceID int64        `json:"resourceId"`
	Rule       catalog.Rule `json:"rule"`
	OK         bool         `json:"ok"`
}

// Resolve GET /v1/resolve?path=
func (c *PermissionsController) Resolve(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Query().Get("path")
	if strings.TrimSpace(path) == "" {
		httperrors.WriteError(w, httperrors.ErrInvalidParameter.WithDetail("path is required"))
		return
	}
	sc, err := c.current(r)
	if err != nil {
		httperrors.WriteError(w, err)
		return
	}

	ready := settle(r.Context(), sc, true, c.opts.MaxWait)
	var perms permission.Map
	if ready {
		perms = sc.Store().View().Perms
	}
	res := c.resolver.Resolve(path, perms)
	writeJSON(w, http.StatusOK, resolveResponse{ResourceID: res.ResourceID, Rule: res.Rule, OK: res.OK})
}

type gateResponse struct {
	State     string         `json:"state"`
	Directive gate.Directive `json:"directive"`
}

// Gate GET /v1/gate?required=&path=&action=
//
// Evalúa el guard hasta que quede en un estado final o venza MaxWait; en
// ese caso responde el último estado (directive=loading).
func (c *PermissionsController) Gate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	required, err := queryResource(r, "required")
	if err != nil {
		httperrors.WriteError(w, err)
		return
	}
	action, err := queryAction(r)
	if err != nil {
		httperrors.WriteError(w, err)
		return
	}
	path := r.URL.Query().Get("path")
	infer := required == 0 && strings.TrimSpace(path) != ""

	sc, err := c.current(r)
	if err != nil {
		httperrors.WriteError(w, err)
		return
	}

	gctx, cancel := context.WithTimeout(ctx, c.opts.MaxWait)
	defer cancel()
	if infer {
		_ = c.resolver.Load(gctx)
	}

	src := sc.GateSource(session.Guard{Required: required, Path: path, Action: action, Infer: infer})
	st, err := gate.Settle(gctx, src, gate.WithDenyDelay(c.opts.DenyDelay))
	if err != nil {
		logger.From(ctx).Debug("gate did not settle", logger.String("state", st.String()), logger.Err(err))
	}
	writeJSON(w, http.StatusOK, gateResponse{State: st.String(), Directive: st.Directive()})
}

// InvalidateCatalog POST /v1/catalog/invalidate
func (c *PermissionsController) InvalidateCatalog(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if err := c.resolver.Invalidate(ctx); err != nil {
		logger.From(ctx).Warn("catalog snapshot delete failed", logger.Err(err))
	}
	logger.From(ctx).Info("catalog invalidated", logger.Component("controller"))
	w.WriteHeader(http.StatusNoContent)
}

// Logout DELETE /v1/session: descarta el contexto de permisos de la sesión.
func (c *PermissionsController) Logout(w http.ResponseWriter, r *http.Request) {
	p, ok := mw.GetPrincipal(r.Context())
	if !ok {
		httperrors.WriteError(w, httperrors.ErrTokenMissing)
		return
	}
	c.sessions.Drop(p.Session)
	audit.Log(r.Context(), audit.EventLogout,
		logger.RequestID(mw.GetRequestID(r.Context())),
		logger.UserID(p.UserID),
		logger.Session(p.Session),
	)
	w.WriteHeader(http.StatusNoContent)
}

func (c *PermissionsController) audit(r *http.Request, via, path string, action permission.Action, d policy.Decision, ready bool) {
	p, _ := mw.GetPrincipal(r.Context())
	audit.LogDecision(r.Context(), audit.Decision{
		RequestID:  mw.GetRequestID(r.Context()),
		UserID:     p.UserID,
		Session:    p.Session,
		Via:        via,
		Path:       path,
		ResourceID: d.ResourceID,
		Action:     string(action),
		Rule:       string(d.Rule),
		Allowed:    d.Allowed,
		Ready:      ready,
	})
}
