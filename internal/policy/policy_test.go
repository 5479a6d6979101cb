package policy

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dropDatabas3/permgate/internal/catalog"
	"github.com/dropDatabas3/permgate/internal/pager"
	"github.com/dropDatabas3/permgate/internal/permission"
)

func newStore(t *testing.T, userID int64, rows ...permission.GrantRow) *permission.Store {
	t.Helper()
	src := permission.SourceFunc(func(context.Context, int64, int, int) (pager.Page[permission.GrantRow], error) {
		return pager.Page[permission.GrantRow]{Data: append([]permission.GrantRow{}, rows...), Meta: pager.Meta{Pages: 1}}, nil
	})
	s := permission.NewStore(src, permission.Options{})
	if userID > 0 {
		require.NoError(t, s.Load(context.Background(), userID))
	}
	return s
}

func newResolver(t *testing.T, load bool, entries ...catalog.Entry) *catalog.Resolver {
	t.Helper()
	src := catalog.SourceFunc(func(context.Context, int, int) (pager.Page[catalog.Entry], error) {
		return pager.Page[catalog.Entry]{Data: append([]catalog.Entry{}, entries...), Meta: pager.Meta{Pages: 1}}, nil
	})
	r := catalog.NewResolver(src, catalog.Options{})
	if load {
		require.NoError(t, r.Load(context.Background()))
	}
	return r
}

// countingResolver cuenta resoluciones para verificar el memo.
type countingResolver struct {
	*catalog.Resolver
	n int
}

func (c *countingResolver) Resolve(p string, m permission.Map) catalog.Resolution {
	c.n++
	return c.Resolver.Resolve(p, m)
}

func TestAuthorize_FailClosedWithoutResource(t *testing.T) {
	p := New(newStore(t, 0), newResolver(t, true))
	assert.False(t, p.Authorize(Query{Action: permission.ActionEdit}))
}

func TestAuthorize_ExplicitResourceSkipsResolution(t *testing.T) {
	store := newStore(t, 1, permission.GrantRow{ResourceID: 3, CanEdit: true})
	res := &countingResolver{Resolver: newResolver(t, false)}
	p := New(store, res)

	assert.True(t, p.Authorize(Query{ResourceID: 3, Action: permission.ActionEdit}))
	assert.True(t, p.Authorize(Query{ResourceID: 3, Action: permission.ActionFinalize}))
	assert.False(t, p.Authorize(Query{ResourceID: 3, Action: permission.ActionDelete}))
	assert.False(t, p.Authorize(Query{ResourceID: 4, Action: permission.ActionView}))
	assert.Zero(t, res.n)
}

func TestAuthorize_InfersFromRoute(t *testing.T) {
	store := newStore(t, 1,
		permission.GrantRow{ResourceID: 3, CanView: true, CanCreate: true},
		permission.GrantRow{ResourceID: 9, CanView: true},
	)
	p := New(store, newResolver(t, true,
		catalog.Entry{ResourceID: 3, RoutePath: "/cajas"},
		catalog.Entry{ResourceID: 9, RoutePath: "/caja"},
	))

	d := p.Decide(Query{Path: "/cajas", Action: permission.ActionCreate})
	assert.True(t, d.Allowed)
	assert.Equal(t, int64(3), d.ResourceID)
	assert.Equal(t, catalog.RuleExact, d.Rule)

	assert.False(t, p.Authorize(Query{Path: "/caja/movimientos", Action: permission.ActionCreate}))
	assert.True(t, p.Authorize(Query{Path: "/caja/movimientos", Action: permission.ActionView}))
}

func TestAuthorize_UndeterminedWhileCatalogLoading(t *testing.T) {
	store := newStore(t, 1,
		permission.GrantRow{ResourceID: 3, CanView: true},
		permission.GrantRow{ResourceID: 4, CanView: true},
	)
	p := New(store, newResolver(t, false, catalog.Entry{ResourceID: 3, RoutePath: "/cajas"}))

	d := p.Decide(Query{Path: "/cajas", Action: permission.ActionView})
	assert.False(t, d.Allowed)
	assert.False(t, d.Resolved)
	assert.Equal(t, catalog.RuleUndetermined, d.Rule)
}

func TestDecide_MemoizedPerGeneration(t *testing.T) {
	store := newStore(t, 1,
		permission.GrantRow{ResourceID: 3, CanView: true},
		permission.GrantRow{ResourceID: 4, CanView: true},
	)
	res := &countingResolver{Resolver: newResolver(t, true, catalog.Entry{ResourceID: 3, RoutePath: "/cajas"})}
	p := New(store, res)

	q := Query{Path: "/cajas", Action: permission.ActionView}
	require.True(t, p.Authorize(q))
	require.True(t, p.Authorize(q))
	assert.Equal(t, 1, res.n)

	// nueva carga => nueva generación => se recalcula
	require.NoError(t, store.Load(context.Background(), 1))
	require.True(t, p.Authorize(q))
	assert.Equal(t, 2, res.n)

	require.NoError(t, res.Invalidate(context.Background()))
	assert.False(t, p.Authorize(q), "catalog gone: undetermined")
	assert.Equal(t, 3, res.n)
}
