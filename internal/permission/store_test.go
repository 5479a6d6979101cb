package permission

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dropDatabas3/permgate/internal/pager"
)

// fakeSource devuelve filas fijas por usuario; si hay gate para el usuario,
// bloquea hasta que el test lo libere.
type fakeSource struct {
	mu     sync.Mutex
	rows   map[int64][]GrantRow
	errs   map[int64]error
	gates  map[int64]chan struct{}
	called chan int64
}

func newFakeSource() *fakeSource {
	return &fakeSource{
		rows:   map[int64][]GrantRow{},
		errs:   map[int64]error{},
		gates:  map[int64]chan struct{}{},
		called: make(chan int64, 16),
	}
}

func (f *fakeSource) hold(userID int64) chan struct{} {
	f.mu.Lock()
	defer f.mu.Unlock()
	ch := make(chan struct{})
	f.gates[userID] = ch
	return ch
}

func (f *fakeSource) GetGrantsForUser(ctx context.Context, userID int64, page, pageSize int) (pager.Page[GrantRow], error) {
	f.mu.Lock()
	gate := f.gates[userID]
	rows := f.rows[userID]
	err := f.errs[userID]
	f.mu.Unlock()

	f.called <- userID
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return pager.Page[GrantRow]{}, ctx.Err()
		}
	}
	if err != nil {
		return pager.Page[GrantRow]{}, err
	}
	if rows == nil {
		rows = []GrantRow{}
	}
	return pager.Page[GrantRow]{Data: rows, Meta: pager.Meta{Pages: 1}}, nil
}

func TestStore_LoadAndCanPerform(t *testing.T) {
	src := newFakeSource()
	src.rows[1] = []GrantRow{
		{ResourceID: 3, CanView: true, CanEdit: true},
		{ResourceID: 4, CanView: true},
	}
	s := NewStore(src, Options{})

	require.NoError(t, s.Load(context.Background(), 1))
	assert.True(t, s.Ready())
	assert.False(t, s.Loading())
	assert.Equal(t, 2, s.Len())

	assert.True(t, s.CanPerform(3, ActionEdit))
	assert.True(t, s.CanPerform(3, ActionFinalize))
	assert.False(t, s.CanPerform(4, ActionEdit))
	assert.False(t, s.CanPerform(99, ActionView), "absence is no access")
	assert.False(t, s.CanPerform(0, ActionView))
	assert.False(t, s.CanPerform(-1, ActionView))
}

func TestStore_ClearsOnUserSwitchBeforeFetchResolves(t *testing.T) {
	src := newFakeSource()
	src.rows[1] = []GrantRow{{ResourceID: 3, CanView: true}}
	src.rows[2] = []GrantRow{{ResourceID: 8, CanView: true}}
	s := NewStore(src, Options{})

	require.NoError(t, s.Load(context.Background(), 1))
	<-src.called
	require.Equal(t, 1, s.Len())

	release := src.hold(2)
	done := make(chan error, 1)
	go func() { done <- s.Load(context.Background(), 2) }()

	require.Equal(t, int64(2), <-src.called)
	assert.Equal(t, 0, s.Len(), "previous user's grants must not be visible")
	assert.True(t, s.Loading())
	assert.False(t, s.CanPerform(3, ActionView))

	close(release)
	require.NoError(t, <-done)
	assert.True(t, s.CanPerform(8, ActionView))
}

func TestStore_StaleResponseDiscarded(t *testing.T) {
	src := newFakeSource()
	src.rows[1] = []GrantRow{{ResourceID: 3, CanView: true}}
	src.rows[2] = []GrantRow{{ResourceID: 8, CanView: true}}
	s := NewStore(src, Options{})

	releaseA := src.hold(1)
	doneA := make(chan error, 1)
	go func() { doneA <- s.Load(context.Background(), 1) }()
	<-src.called

	require.NoError(t, s.Load(context.Background(), 2))
	<-src.called
	require.True(t, s.CanPerform(8, ActionView))

	close(releaseA)
	require.NoError(t, <-doneA)

	assert.Equal(t, int64(2), s.UserID())
	assert.True(t, s.CanPerform(8, ActionView))
	assert.False(t, s.CanPerform(3, ActionView), "late response for A must be discarded")
}

func TestStore_FetchFailureDegradesToEmpty(t *testing.T) {
	src := newFakeSource()
	src.errs[1] = errors.New("503 from gateway")
	s := NewStore(src, Options{})

	err := s.Load(context.Background(), 1)
	require.ErrorIs(t, err, ErrFetchFailure)
	assert.ErrorIs(t, s.Err(), ErrFetchFailure)
	assert.True(t, s.Ready())
	assert.False(t, s.Loading())
	assert.Equal(t, 0, s.Len())
}

func TestStore_MalformedPage(t *testing.T) {
	src := SourceFunc(func(context.Context, int64, int, int) (pager.Page[GrantRow], error) {
		return pager.Page[GrantRow]{}, nil
	})
	s := NewStore(src, Options{})
	err := s.Load(context.Background(), 1)
	require.ErrorIs(t, err, ErrMalformedResponse)
	require.Equal(t, 0, s.Len())
}

func TestStore_NoUserClearsWithoutFetch(t *testing.T) {
	src := newFakeSource()
	src.rows[1] = []GrantRow{{ResourceID: 3, CanView: true}}
	s := NewStore(src, Options{})
	require.NoError(t, s.Load(context.Background(), 1))
	<-src.called

	require.NoError(t, s.Load(context.Background(), 0))
	assert.Equal(t, 0, s.Len())
	assert.False(t, s.Loading())
	select {
	case <-src.called:
		t.Fatal("no fetch expected without user")
	default:
	}
}

func TestStore_ChangedSignalsTransitions(t *testing.T) {
	src := newFakeSource()
	src.rows[1] = []GrantRow{{ResourceID: 3, CanView: true}}
	s := NewStore(src, Options{})

	ch := s.Changed()
	gen := s.Generation()
	go func() { _ = s.Load(context.Background(), 1) }()

	select {
	case <-ch:
	case <-time.After(time.Second):
		t.Fatal("expected change notification")
	}
	require.Eventually(t, func() bool { return s.Ready() && s.Len() == 1 }, time.Second, 5*time.Millisecond)
	require.Greater(t, s.Generation(), gen)
}
