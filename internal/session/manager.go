package session

import (
	"context"
	"sync"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"github.com/dropDatabas3/permgate/internal/catalog"
	"github.com/dropDatabas3/permgate/internal/metrics"
	"github.com/dropDatabas3/permgate/internal/observability/logger"
	"github.com/dropDatabas3/permgate/internal/permission"
)

const component = "session.manager"

// Options del Manager.
type Options struct {
	IdleTTL time.Duration
	Store   permission.Options
}

// Manager mantiene un Context por sesión. Las sesiones inactivas expiran y
// se cierran solas.
type Manager struct {
	src      permission.Source
	resolver *catalog.Resolver
	opts     Options

	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex // serializa Get para no crear dos contexts por key
	entries *gocache.Cache
	wg      sync.WaitGroup
}

// NewManager crea el manager. ctx acota la vida de todas las cargas.
func NewManager(ctx context.Context, src permission.Source, resolver *catalog.Resolver, opts Options) *Manager {
	if opts.IdleTTL <= 0 {
		opts.IdleTTL = 30 * time.Minute
	}
	cctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	m := &Manager{
		src:      src,
		resolver: resolver,
		opts:     opts,
		ctx:      cctx,
		cancel:   cancel,
		entries:  gocache.New(opts.IdleTTL, opts.IdleTTL/2),
	}
	m.entries.OnEvicted(func(key string, v interface{}) {
		metrics.ActiveSessions.Dec()
		if c, ok := v.(*Context); ok {
			// Close espera cargas en vuelo: no bloquear al janitor
			m.wg.Add(1)
			go func() {
				defer m.wg.Done()
				c.Close()
			}()
		}
	})
	return m
}

// Get retorna el Context de sessionKey atado a userID, creándolo si hace
// falta. La carga de grants (y del catálogo) corre en background; un cambio
// de usuario sobre la misma key limpia y recarga.
func (m *Manager) Get(ctx context.Context, sessionKey string, userID int64) *Context {
	m.mu.Lock()
	defer m.mu.Unlock()

	var c *Context
	if v, ok := m.entries.Get(sessionKey); ok {
		c = v.(*Context)
	} else {
		// un item vencido que el janitor aún no barrió se cierra acá
		m.entries.Delete(sessionKey)
		store := permission.NewStore(m.src, m.opts.Store)
		c = newContext(m.ctx, sessionKey, store, m.resolver)
		metrics.ActiveSessions.Inc()
		logger.From(ctx).Debug("session created",
			logger.Component(component), logger.Session(sessionKey), logger.UserID(userID))
	}
	// renueva el TTL de inactividad
	m.entries.SetDefault(sessionKey, c)

	c.SetUser(userID)
	m.warmCatalog()
	return c
}

// Lookup retorna la sesión sin crearla ni renovarla.
func (m *Manager) Lookup(sessionKey string) (*Context, bool) {
	v, ok := m.entries.Get(sessionKey)
	if !ok {
		return nil, false
	}
	return v.(*Context), true
}

// Drop cierra la sesión (logout).
func (m *Manager) Drop(sessionKey string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries.Delete(sessionKey)
}

// Len sesiones vivas.
func (m *Manager) Len() int { return m.entries.ItemCount() }

func (m *Manager) warmCatalog() {
	if m.resolver == nil || m.resolver.Loaded() || m.ctx.Err() != nil {
		return
	}
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		_ = m.resolver.Load(m.ctx)
	}()
}

// Close cierra todas las sesiones y espera sus cargas.
func (m *Manager) Close() {
	m.mu.Lock()
	m.cancel()
	for k := range m.entries.Items() {
		m.entries.Delete(k)
	}
	m.mu.Unlock()
	m.wg.Wait()
}
