package session

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dropDatabas3/permgate/internal/catalog"
	"github.com/dropDatabas3/permgate/internal/gate"
	"github.com/dropDatabas3/permgate/internal/pager"
	"github.com/dropDatabas3/permgate/internal/permission"
	"github.com/dropDatabas3/permgate/internal/policy"
)

// grantsByUser responde según el usuario; hold frena las cargas hasta cerrarse.
type grantsByUser struct {
	mu    sync.Mutex
	rows  map[int64][]permission.GrantRow
	hold  chan struct{}
	calls atomic.Int32
}

func (g *grantsByUser) GetGrantsForUser(ctx context.Context, userID int64, _, _ int) (pager.Page[permission.GrantRow], error) {
	g.calls.Add(1)
	if g.hold != nil {
		select {
		case <-g.hold:
		case <-ctx.Done():
			return pager.Page[permission.GrantRow]{}, ctx.Err()
		}
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	return pager.Page[permission.GrantRow]{Data: append([]permission.GrantRow{}, g.rows[userID]...), Meta: pager.Meta{Pages: 1}}, nil
}

func catalogOf(entries ...catalog.Entry) *catalog.Resolver {
	return catalog.NewResolver(catalog.SourceFunc(func(context.Context, int, int) (pager.Page[catalog.Entry], error) {
		return pager.Page[catalog.Entry]{Data: entries, Meta: pager.Meta{Pages: 1}}, nil
	}), catalog.Options{})
}

func waitReady(t *testing.T, s *permission.Store) {
	t.Helper()
	require.Eventually(t, s.Ready, time.Second, 5*time.Millisecond)
}

func TestManager_GetLoadsInBackground(t *testing.T) {
	src := &grantsByUser{rows: map[int64][]permission.GrantRow{
		7: {{ResourceID: 3, CanView: true, CanEdit: true}},
	}}
	m := NewManager(context.Background(), src, catalogOf(catalog.Entry{ResourceID: 3, RoutePath: "/cajas"}), Options{})
	defer m.Close()

	c := m.Get(context.Background(), "s1", 7)
	waitReady(t, c.Store())
	require.Eventually(t, c.Resolver().Loaded, time.Second, 5*time.Millisecond)

	assert.True(t, c.Authorize(policy.Query{ResourceID: 3, Action: permission.ActionEdit}))
	assert.True(t, c.Authorize(policy.Query{Path: "/cajas", Action: permission.ActionView}))
	assert.False(t, c.Authorize(policy.Query{ResourceID: 3, Action: permission.ActionDelete}))

	// misma sesión, mismo usuario: no recarga
	again := m.Get(context.Background(), "s1", 7)
	assert.Same(t, c, again)
	assert.EqualValues(t, 1, src.calls.Load())
	assert.Equal(t, 1, m.Len())
}

func TestManager_UserSwitchClearsBeforeReload(t *testing.T) {
	src := &grantsByUser{rows: map[int64][]permission.GrantRow{
		1: {{ResourceID: 3, CanView: true}},
		2: {{ResourceID: 4, CanView: true}},
	}}
	m := NewManager(context.Background(), src, catalogOf(), Options{})
	defer m.Close()

	c := m.Get(context.Background(), "s1", 1)
	waitReady(t, c.Store())
	require.True(t, c.Store().CanPerform(3, permission.ActionView))

	src.hold = make(chan struct{})
	c = m.Get(context.Background(), "s1", 2)

	// antes de que responda el backend ya no queda nada del usuario 1
	assert.False(t, c.Store().CanPerform(3, permission.ActionView))
	assert.Equal(t, int64(2), c.Store().UserID())
	assert.True(t, c.Store().Loading())

	close(src.hold)
	waitReady(t, c.Store())
	assert.True(t, c.Store().CanPerform(4, permission.ActionView))
	assert.False(t, c.Store().CanPerform(3, permission.ActionView))
}

func TestManager_DropClosesSession(t *testing.T) {
	src := &grantsByUser{hold: make(chan struct{})}
	m := NewManager(context.Background(), src, catalogOf(), Options{})
	defer m.Close()

	c := m.Get(context.Background(), "s1", 1)
	m.Drop("s1")

	_, ok := m.Lookup("s1")
	assert.False(t, ok)

	// la carga en vuelo se cancela con la sesión
	require.Eventually(t, func() bool { return c.Store().Ready() }, time.Second, 5*time.Millisecond)
	assert.Error(t, c.Store().Err())
}

func TestManager_IdleSessionsExpire(t *testing.T) {
	src := &grantsByUser{}
	m := NewManager(context.Background(), src, catalogOf(), Options{IdleTTL: 40 * time.Millisecond})
	defer m.Close()

	m.Get(context.Background(), "s1", 1)
	require.Eventually(t, func() bool {
		_, ok := m.Lookup("s1")
		return !ok
	}, time.Second, 10*time.Millisecond)
}

func TestGateSource_ExplicitResource(t *testing.T) {
	src := &grantsByUser{hold: make(chan struct{}), rows: map[int64][]permission.GrantRow{
		1: {{ResourceID: 3, CanView: true}},
	}}
	m := NewManager(context.Background(), src, catalogOf(), Options{})
	defer m.Close()
	c := m.Get(context.Background(), "s1", 1)

	gs := c.GateSource(Guard{Required: 3})
	in := gs.Inputs()
	assert.False(t, in.PermissionsReady)

	close(src.hold)
	st, err := gate.Settle(context.Background(), gs, gate.WithDenyDelay(10*time.Millisecond))
	require.NoError(t, err)
	assert.Equal(t, gate.StateAllowed, st)

	st, err = gate.Settle(context.Background(), c.GateSource(Guard{Required: 3, Action: permission.ActionDelete}), gate.WithDenyDelay(10*time.Millisecond))
	require.NoError(t, err)
	assert.Equal(t, gate.StateDenied, st)
}

func TestGateSource_InferredWaitsForCatalog(t *testing.T) {
	src := &grantsByUser{rows: map[int64][]permission.GrantRow{
		1: {{ResourceID: 3, CanView: true}, {ResourceID: 9, CanView: false}},
	}}
	res := catalogOf(catalog.Entry{ResourceID: 3, RoutePath: "/cajas"}, catalog.Entry{ResourceID: 9, RoutePath: "/ventas"})
	c := newContext(context.Background(), "s1", permission.NewStore(src, permission.Options{}), res)
	defer c.Close()
	c.SetUser(1)
	waitReady(t, c.Store())

	gs := c.GateSource(Guard{Path: "/ventas", Infer: true})
	assert.False(t, gs.Inputs().PermissionsReady, "catálogo sin cargar")

	require.NoError(t, res.Load(context.Background()))
	in := gs.Inputs()
	assert.True(t, in.PermissionsReady)
	assert.False(t, in.Decision)

	in = c.GateSource(Guard{Path: "/cajas", Infer: true}).Inputs()
	assert.True(t, in.Decision)
}

func TestGateSource_InferredSettlesWhenCatalogLoadsLate(t *testing.T) {
	src := &grantsByUser{rows: map[int64][]permission.GrantRow{
		1: {{ResourceID: 3, CanView: true}, {ResourceID: 9, CanView: false}},
	}}
	hold := make(chan struct{})
	var fetches atomic.Int32
	res := catalog.NewResolver(catalog.SourceFunc(func(ctx context.Context, _, _ int) (pager.Page[catalog.Entry], error) {
		fetches.Add(1)
		select {
		case <-hold:
		case <-ctx.Done():
			return pager.Page[catalog.Entry]{}, ctx.Err()
		}
		return pager.Page[catalog.Entry]{
			Data: []catalog.Entry{{ResourceID: 3, RoutePath: "/cajas"}, {ResourceID: 9, RoutePath: "/ventas"}},
			Meta: pager.Meta{Pages: 1},
		}, nil
	}), catalog.Options{})

	c := newContext(context.Background(), "s1", permission.NewStore(src, permission.Options{}), res)
	defer c.Close()
	c.SetUser(1)
	waitReady(t, c.Store())

	go func() {
		time.Sleep(50 * time.Millisecond)
		close(hold)
	}()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	st, err := gate.Settle(ctx, c.GateSource(Guard{Path: "/cajas", Infer: true}), gate.WithDenyDelay(10*time.Millisecond))
	require.NoError(t, err)
	assert.Equal(t, gate.StateAllowed, st)

	// tras Invalidate el gate vuelve a cargar el catálogo por su cuenta
	require.NoError(t, res.Invalidate(context.Background()))
	require.False(t, res.Loaded())
	ctx2, cancel2 := context.WithTimeout(context.Background(), time.Second)
	defer cancel2()
	st, err = gate.Settle(ctx2, c.GateSource(Guard{Path: "/ventas", Infer: true}), gate.WithDenyDelay(10*time.Millisecond))
	require.NoError(t, err)
	assert.Equal(t, gate.StateDenied, st)
	assert.Equal(t, int32(2), fetches.Load())
}

func TestContext_CloseWaitsForLoads(t *testing.T) {
	src := &grantsByUser{hold: make(chan struct{})}
	c := newContext(context.Background(), "s1", permission.NewStore(src, permission.Options{}), catalogOf())
	c.SetUser(1)
	c.Close()
	// después de Close nada nuevo arranca
	c.SetUser(2)
	assert.Equal(t, int64(1), c.Store().UserID())
}
