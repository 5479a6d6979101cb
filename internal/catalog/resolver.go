package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/dropDatabas3/permgate/internal/cache"
	"github.com/dropDatabas3/permgate/internal/metrics"
	"github.com/dropDatabas3/permgate/internal/observability/logger"
	"github.com/dropDatabas3/permgate/internal/pager"
	"github.com/dropDatabas3/permgate/internal/permission"
)

const component = "catalog.resolver"

// ErrFetchFailure: no se pudo traer el catálogo.
var ErrFetchFailure = errors.New("catalog: fetch failure")

// Source es el colaborador externo que lista el catálogo de opciones.
type Source interface {
	GetResourceCatalog(ctx context.Context, page, pageSize int) (pager.Page[Entry], error)
}

// SourceFunc adapta una función a Source.
type SourceFunc func(ctx context.Context, page, pageSize int) (pager.Page[Entry], error)

func (f SourceFunc) GetResourceCatalog(ctx context.Context, page, pageSize int) (pager.Page[Entry], error) {
	return f(ctx, page, pageSize)
}

// Options configura el Resolver.
type Options struct {
	PageSize    int
	MaxParallel int
	SourceName  string

	// Snapshot opcional compartido (memory/redis).
	Cache    cache.Client
	CacheKey string
	CacheTTL time.Duration
}

// Resolver carga el catálogo una vez por proceso (o por Invalidate) y
// resuelve la opción de la ruta actual.
type Resolver struct {
	src  Source
	opts Options
	sf   singleflight.Group

	mu      sync.RWMutex
	epoch   uint64
	loaded  bool
	entries []Entry
	idx     *Index
	err     error
	changed chan struct{}
}

// NewResolver crea un Resolver sin cargar.
func NewResolver(src Source, opts Options) *Resolver {
	if opts.PageSize <= 0 {
		opts.PageSize = 100
	}
	if opts.SourceName == "" {
		opts.SourceName = "catalog"
	}
	if opts.CacheKey == "" {
		opts.CacheKey = "catalog:v1"
	}
	return &Resolver{src: src, opts: opts, changed: make(chan struct{})}
}

// Changed retorna un canal que se cierra en el próximo cambio de estado
// (carga, error de carga o Invalidate).
func (r *Resolver) Changed() <-chan struct{} {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.changed
}

// bumpLocked notifica un cambio. Requiere mu.
func (r *Resolver) bumpLocked() {
	close(r.changed)
	r.changed = make(chan struct{})
}

// Load asegura el catálogo cargado. Los llamados concurrentes durante la
// carga inicial esperan el mismo fetch. Cancelar ctx libera solo al caller.
func (r *Resolver) Load(ctx context.Context) error {
	r.mu.RLock()
	if r.loaded {
		r.mu.RUnlock()
		return nil
	}
	epoch := r.epoch
	r.mu.RUnlock()

	key := "catalog:" + strconv.FormatUint(epoch, 10)
	ch := r.sf.DoChan(key, func() (any, error) {
		return nil, r.fetch(context.WithoutCancel(ctx), epoch)
	})

	select {
	case res := <-ch:
		return res.Err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *Resolver) fetch(ctx context.Context, epoch uint64) error {
	log := logger.From(ctx).With(logger.Component(component), logger.Op("Load"))

	entries, fromCache := r.readSnapshot(ctx)
	var err error
	if !fromCache {
		entries, err = pager.FetchAll(ctx, r.opts.PageSize, r.opts.MaxParallel, r.src.GetResourceCatalog)
		if err != nil && !errors.Is(err, pager.ErrMalformedResponse) {
			err = fmt.Errorf("%w: %v", ErrFetchFailure, err)
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if epoch != r.epoch {
		metrics.ObserveStale("catalog")
		log.Debug("stale catalog response discarded")
		return nil
	}
	if err != nil {
		metrics.ObserveFetch(r.opts.SourceName, "catalog", "error")
		log.Error("catalog load failed", logger.Err(err))
		r.err = err
		r.bumpLocked()
		return err
	}

	r.entries = entries
	r.idx = BuildIndex(entries)
	r.loaded = true
	r.err = nil
	r.bumpLocked()
	if !fromCache {
		metrics.ObserveFetch(r.opts.SourceName, "catalog", "ok")
		r.writeSnapshot(ctx, entries)
	}
	log.Info("catalog loaded",
		logger.Count(len(entries)),
		logger.Int("indexed", r.idx.Len()),
		logger.Bool("from_cache", fromCache),
	)
	return nil
}

func (r *Resolver) readSnapshot(ctx context.Context) ([]Entry, bool) {
	if r.opts.Cache == nil {
		return nil, false
	}
	b, err := r.opts.Cache.Get(ctx, r.opts.CacheKey)
	if err != nil {
		if !cache.IsNotFound(err) {
			logger.From(ctx).Warn("catalog snapshot read failed", logger.Component(component), logger.Err(err))
		}
		return nil, false
	}
	var entries []Entry
	if err := json.Unmarshal(b, &entries); err != nil || entries == nil {
		return nil, false
	}
	return entries, true
}

// writeSnapshot requiere r.mu (solo para serializar con Invalidate).
func (r *Resolver) writeSnapshot(ctx context.Context, entries []Entry) {
	if r.opts.Cache == nil {
		return
	}
	b, err := json.Marshal(entries)
	if err != nil {
		return
	}
	if err := r.opts.Cache.Set(ctx, r.opts.CacheKey, b, r.opts.CacheTTL); err != nil {
		logger.From(ctx).Warn("catalog snapshot write failed", logger.Component(component), logger.Err(err))
	}
}

// Invalidate descarta el catálogo (y el snapshot). La próxima Load vuelve a
// pedirlo; una carga en vuelo iniciada antes se descarta al terminar.
func (r *Resolver) Invalidate(ctx context.Context) error {
	r.mu.Lock()
	r.epoch++
	r.loaded = false
	r.entries = nil
	r.idx = nil
	r.err = nil
	r.bumpLocked()
	r.mu.Unlock()

	if r.opts.Cache != nil {
		return r.opts.Cache.Delete(ctx, r.opts.CacheKey)
	}
	return nil
}

// Loaded indica si el índice está disponible.
func (r *Resolver) Loaded() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.loaded
}

// Err último error de carga (nil si cargó o no se intentó).
func (r *Resolver) Err() error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.err
}

// Generation cambia con cada Invalidate/carga exitosa.
func (r *Resolver) Generation() uint64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	g := r.epoch * 2
	if r.loaded {
		g++
	}
	return g
}

// Entries copia del catálogo cargado.
func (r *Resolver) Entries() []Entry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]Entry(nil), r.entries...)
}

// Resolve decide la opción para currentPath. perms nil = permisos aún no
// disponibles; el resultado es indeterminado igual que sin catálogo.
func (r *Resolver) Resolve(currentPath string, perms permission.Map) Resolution {
	r.mu.RLock()
	loaded, idx := r.loaded, r.idx
	r.mu.RUnlock()

	var res Resolution
	if !loaded || perms == nil {
		res = Resolution{Rule: RuleUndetermined}
	} else {
		res = resolve(input{path: NormalizePath(currentPath), perms: perms, idx: idx})
	}
	metrics.ObserveResolve(string(res.Rule))
	return res
}

// Route resuelve una ruta de backend sin la escalera heurística: solo
// coincidencia exacta o prefijo por segmento. Una ruta fuera del catálogo
// queda sin opción (el caller debe denegar).
func (r *Resolver) Route(path string) Resolution {
	r.mu.RLock()
	loaded, idx := r.loaded, r.idx
	r.mu.RUnlock()

	var res Resolution
	if !loaded {
		res = Resolution{Rule: RuleUndetermined}
	} else {
		id, rule, ok := idx.MatchRoute(NormalizePath(path))
		res = Resolution{ResourceID: id, Rule: rule, OK: ok}
	}
	metrics.ObserveResolve(string(res.Rule))
	return res
}
