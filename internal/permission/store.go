package permission

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/dropDatabas3/permgate/internal/metrics"
	"github.com/dropDatabas3/permgate/internal/observability/logger"
	"github.com/dropDatabas3/permgate/internal/pager"
)

const component = "permission.store"

// Options configura la paginación de la carga.
type Options struct {
	PageSize    int
	MaxParallel int
	SourceName  string // etiqueta para métricas/logs
}

// Store mantiene el mapa de permisos del usuario activo.
//
// Load limpia el mapa antes de cualquier I/O y solo aplica el resultado
// si sigue siendo la última carga iniciada; el resto se descarta.
type Store struct {
	src  Source
	opts Options

	mu      sync.RWMutex
	userID  int64
	seq     uint64 // id de la última carga iniciada
	gen     uint64 // cambia con cada transición de estado
	perms   Map
	ready   bool
	loading bool
	err     error
	changed chan struct{}
}

// NewStore crea un Store vacío, sin usuario.
func NewStore(src Source, opts Options) *Store {
	if opts.PageSize <= 0 {
		opts.PageSize = 100
	}
	if opts.SourceName == "" {
		opts.SourceName = "grants"
	}
	return &Store{
		src:     src,
		opts:    opts,
		perms:   Map{},
		changed: make(chan struct{}),
	}
}

// bump marca un cambio de estado y despierta a los watchers. Requiere mu.
func (s *Store) bump() {
	s.gen++
	close(s.changed)
	s.changed = make(chan struct{})
}

// Load carga los grants de userID. userID <= 0 limpia sin consultar.
// Los errores quedan en Err(); el valor retornado es informativo.
func (s *Store) Load(ctx context.Context, userID int64) error {
	s.mu.Lock()
	s.seq++
	seq := s.seq
	s.userID = userID
	s.perms = Map{}
	s.err = nil
	s.ready = userID <= 0
	s.loading = userID > 0
	s.bump()
	s.mu.Unlock()

	if userID <= 0 {
		return nil
	}

	log := logger.From(ctx).With(
		logger.Component(component),
		logger.Op("Load"),
		logger.UserID(userID),
	)

	rows, err := pager.FetchAll(ctx, s.opts.PageSize, s.opts.MaxParallel,
		func(ctx context.Context, page, size int) (pager.Page[GrantRow], error) {
			return s.src.GetGrantsForUser(ctx, userID, page, size)
		})
	if err != nil && !errors.Is(err, ErrMalformedResponse) {
		err = fmt.Errorf("%w: %v", ErrFetchFailure, err)
	}

	var m Map
	if err == nil {
		var dropped int
		m, dropped = FromRows(rows)
		if dropped > 0 {
			log.Warn("grant rows without resource id dropped", logger.Count(dropped))
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if seq != s.seq || userID != s.userID {
		metrics.ObserveStale("grants")
		log.Debug("stale grant response discarded")
		return nil
	}

	s.loading = false
	s.ready = true
	if err != nil {
		metrics.ObserveFetch(s.opts.SourceName, "grants", "error")
		log.Error("grant load failed", logger.Err(err))
		s.err = err
		s.bump()
		return err
	}

	metrics.ObserveFetch(s.opts.SourceName, "grants", "ok")
	log.Debug("grants loaded", logger.Count(len(m)))
	s.perms = m
	s.bump()
	return nil
}

// CanPerform es puro: nunca dispara una carga.
func (s *Store) CanPerform(resourceID int64, a Action) bool {
	return s.View().CanPerform(resourceID, a)
}

// Snapshot retorna una copia del mapa actual.
func (s *Store) Snapshot() Map {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.perms.clone()
}

// Len cantidad de grants cargados.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.perms)
}

// Loading indica si hay una carga en vuelo para el usuario actual.
func (s *Store) Loading() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.loading
}

// Ready indica que el mapa del usuario actual está completo (aunque sea vacío por error).
func (s *Store) Ready() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.ready
}

// Err retorna el error de la última carga aplicada.
func (s *Store) Err() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.err
}

// UserID retorna el usuario dueño del mapa.
func (s *Store) UserID() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.userID
}

// Generation cambia con cada transición (clear, load ok, load error).
func (s *Store) Generation() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.gen
}

// Changed retorna un canal que se cierra en la próxima transición.
func (s *Store) Changed() <-chan struct{} {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.changed
}

// State es una vista consistente del store para decidir en un solo paso.
type State struct {
	UserID     int64
	Generation uint64
	Ready      bool
	Perms      Map
}

// View retorna el estado actual sin copiar el mapa. El store nunca muta un
// mapa publicado (lo reemplaza), así que la vista es estable pero de solo lectura.
func (s *Store) View() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return State{UserID: s.userID, Generation: s.gen, Ready: s.ready, Perms: s.perms}
}

// CanPerform: id <= 0 o sin grant es "sin acceso", no error.
func (st State) CanPerform(resourceID int64, a Action) bool {
	if resourceID <= 0 {
		return false
	}
	g, ok := st.Perms[resourceID]
	return ok && g.Allows(a)
}
