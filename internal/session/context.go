// Package session reemplaza el contexto global de permisos por un objeto
// explícito por sesión: un Store atado a un usuario, el Resolver compartido
// del proceso y la Policy que los combina.
package session

import (
	"context"
	"sync"

	"github.com/dropDatabas3/permgate/internal/catalog"
	"github.com/dropDatabas3/permgate/internal/gate"
	"github.com/dropDatabas3/permgate/internal/observability/logger"
	"github.com/dropDatabas3/permgate/internal/permission"
	"github.com/dropDatabas3/permgate/internal/policy"
)

// Context es el handle de permisos de una sesión.
type Context struct {
	key      string
	store    *permission.Store
	resolver *catalog.Resolver
	policy   *policy.Policy

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu     sync.Mutex
	userID int64
}

func newContext(parent context.Context, key string, store *permission.Store, resolver *catalog.Resolver) *Context {
	ctx, cancel := context.WithCancel(parent)
	return &Context{
		key:      key,
		store:    store,
		resolver: resolver,
		policy:   policy.New(store, resolver),
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Key identificador de la sesión.
func (c *Context) Key() string { return c.key }

// Store expone el store (solo lectura para callers: consultas booleanas).
func (c *Context) Store() *permission.Store { return c.store }

// Resolver compartido del proceso.
func (c *Context) Resolver() *catalog.Resolver { return c.resolver }

// SetUser dispara la carga de grants si el usuario cambió. El mapa anterior
// se limpia antes de que SetUser retorne.
func (c *Context) SetUser(userID int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ctx.Err() != nil {
		return
	}
	if userID == c.userID && (c.store.Ready() || c.store.Loading()) {
		return
	}
	c.userID = userID
	c.startLoadLocked(userID)
}

// Reload fuerza una recarga del usuario actual.
func (c *Context) Reload() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ctx.Err() != nil {
		return
	}
	c.startLoadLocked(c.userID)
}

// startLoadLocked: el Load limpia sincrónicamente en su primer paso, por eso
// se espera a que arranque (started) antes de soltar el lock.
func (c *Context) startLoadLocked(userID int64) {
	started := c.store.Changed()
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		ctx := logger.ToContext(c.ctx, logger.From(c.ctx).With(logger.Session(c.key)))
		_ = c.store.Load(ctx, userID)
	}()
	<-started
}

// loadCatalog carga el catálogo compartido atado a la vida de la sesión
// (singleflight evita fetches duplicados).
func (c *Context) loadCatalog() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ctx.Err() != nil {
		return
	}
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		_ = c.resolver.Load(c.ctx)
	}()
}

// Authorize atajo a la policy de la sesión.
func (c *Context) Authorize(q policy.Query) bool {
	return c.policy.Authorize(q)
}

// Decide igual que Authorize pero con el detalle de resolución.
func (c *Context) Decide(q policy.Query) policy.Decision {
	return c.policy.Decide(q)
}

// Guard describe la protección de una vista: opción explícita o inferida.
type Guard struct {
	Required int64
	Path     string
	Action   permission.Action
	Infer    bool
}

// GateSource adapta la sesión a gate.Source para un guard dado.
func (c *Context) GateSource(g Guard) gate.Source {
	return gateSource{c: c, g: g}
}

type gateSource struct {
	c *Context
	g Guard
}

func (s gateSource) infer() bool { return s.g.Infer && s.g.Required <= 0 }

// Changed: con inferencia también cuenta el catálogo (carga o Invalidate);
// si no está cargado se dispara la carga en background.
func (s gateSource) Changed() <-chan struct{} {
	storeCh := s.c.store.Changed()
	if !s.infer() {
		return storeCh
	}
	catCh := s.c.resolver.Changed()
	if !s.c.resolver.Loaded() && s.c.resolver.Err() == nil {
		s.c.loadCatalog()
	}

	// sesión cerrada: out no se cierra nunca (no hay más cambios)
	out := make(chan struct{})
	go func() {
		select {
		case <-storeCh:
		case <-catCh:
		case <-s.c.ctx.Done():
			return
		}
		close(out)
	}()
	return out
}

func (s gateSource) Inputs() gate.Inputs {
	st := s.c.store.View()
	action := s.g.Action
	if action == "" {
		action = permission.ActionView
	}

	in := gate.Inputs{
		UserID:           st.UserID,
		Required:         s.g.Required,
		InferFromRoute:   s.infer(),
		PermissionsReady: st.Ready,
	}
	if in.InferFromRoute {
		// catálogo caído = listo para denegar (fail closed)
		in.PermissionsReady = st.Ready && (s.c.resolver.Loaded() || s.c.resolver.Err() != nil)
	}
	if in.PermissionsReady {
		in.Decision = s.c.policy.Authorize(policy.Query{ResourceID: s.g.Required, Path: s.g.Path, Action: action})
	}
	return in
}

// Close cancela cargas en vuelo y espera a que terminen.
func (c *Context) Close() {
	c.mu.Lock()
	c.cancel()
	c.mu.Unlock()
	c.wg.Wait()
}
