// Package policy combina el store de permisos y el resolver de rutas en una
// única decisión de autorización.
package policy

import (
	"sync"

	"github.com/dropDatabas3/permgate/internal/catalog"
	"github.com/dropDatabas3/permgate/internal/metrics"
	"github.com/dropDatabas3/permgate/internal/permission"
)

// Query: ResourceID 0 significa "inferir de Path".
type Query struct {
	ResourceID int64
	Path       string
	Action     permission.Action
}

// Decision es el resultado completo; Allowed es lo único que importa para gatear.
type Decision struct {
	Allowed    bool
	ResourceID int64
	Rule       catalog.Rule
	Resolved   bool
}

// PermissionView es lo que la policy necesita del store.
type PermissionView interface {
	View() permission.State
}

// RouteResolver es lo que la policy necesita del catálogo.
type RouteResolver interface {
	Resolve(currentPath string, perms permission.Map) catalog.Resolution
	Generation() uint64
}

type memoKey struct {
	resourceID int64
	path       string
	action     permission.Action
}

// Policy memoiza decisiones por (generación del store, generación del
// catálogo); cualquier cambio de generación invalida el memo completo.
type Policy struct {
	perms  PermissionView
	routes RouteResolver

	mu       sync.Mutex
	permGen  uint64
	routeGen uint64
	memo     map[memoKey]Decision
}

// New crea la policy para un store y un resolver.
func New(perms PermissionView, routes RouteResolver) *Policy {
	return &Policy{perms: perms, routes: routes, memo: map[memoKey]Decision{}}
}

// Authorize responde si la acción está permitida. Falla cerrado.
func (p *Policy) Authorize(q Query) bool {
	return p.Decide(q).Allowed
}

// Decide es Authorize con el detalle de la resolución.
func (p *Policy) Decide(q Query) Decision {
	st := p.perms.View()
	routeGen := p.routes.Generation()

	key := memoKey{resourceID: q.ResourceID, action: q.Action}
	if q.ResourceID <= 0 {
		key.path = catalog.NormalizePath(q.Path)
	}

	p.mu.Lock()
	if st.Generation != p.permGen || routeGen != p.routeGen {
		p.memo = map[memoKey]Decision{}
		p.permGen, p.routeGen = st.Generation, routeGen
	}
	if d, ok := p.memo[key]; ok {
		p.mu.Unlock()
		observe(q.Action, d)
		return d
	}
	p.mu.Unlock()

	d := decide(q, st, p.routes)

	p.mu.Lock()
	if st.Generation == p.permGen && routeGen == p.routeGen {
		p.memo[key] = d
	}
	p.mu.Unlock()

	observe(q.Action, d)
	return d
}

func decide(q Query, st permission.State, routes RouteResolver) Decision {
	d := Decision{ResourceID: q.ResourceID, Resolved: q.ResourceID > 0}
	if q.ResourceID <= 0 {
		var perms permission.Map
		if st.Ready {
			perms = st.Perms
		}
		res := routes.Resolve(q.Path, perms)
		d.Rule = res.Rule
		if !res.OK {
			return d
		}
		d.ResourceID = res.ResourceID
		d.Resolved = true
	}

	d.Allowed = st.CanPerform(d.ResourceID, q.Action)
	return d
}

func observe(a permission.Action, d Decision) {
	switch {
	case !d.Resolved:
		metrics.ObserveAuthorize(string(a), "undetermined")
	case d.Allowed:
		metrics.ObserveAuthorize(string(a), "allowed")
	default:
		metrics.ObserveAuthorize(string(a), "denied")
	}
}
