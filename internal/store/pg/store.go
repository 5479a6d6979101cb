// Package pg implementa las fuentes de grants y catálogo sobre Postgres
// (tablas app_option y option_grant), con la misma paginación que el gateway.
package pg

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dropDatabas3/permgate/internal/catalog"
	"github.com/dropDatabas3/permgate/internal/observability/logger"
	"github.com/dropDatabas3/permgate/internal/pager"
	"github.com/dropDatabas3/permgate/internal/permission"
)

// Store implementa permission.Source y catalog.Source.
type Store struct{ pool *pgxpool.Pool }

// PoolConfig ajustes opcionales del pool.
type PoolConfig struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// New abre el pool. Un ping fallido se loguea pero no impide arrancar.
func New(ctx context.Context, dsn string, cfg PoolConfig) (*Store, error) {
	pcfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("pg: parse dsn: %w", err)
	}
	if cfg.MaxOpenConns > 0 {
		pcfg.MaxConns = int32(cfg.MaxOpenConns)
	}
	// MaxIdleConns → MinConns (pgxpool)
	if cfg.MaxIdleConns > 0 {
		pcfg.MinConns = int32(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		pcfg.MaxConnLifetime = cfg.ConnMaxLifetime
		pcfg.MaxConnIdleTime = cfg.ConnMaxLifetime
	}
	if pcfg.MaxConns == 0 {
		pcfg.MaxConns = 5
	}

	pool, err := pgxpool.NewWithConfig(ctx, pcfg)
	if err != nil {
		return nil, err
	}

	log := logger.From(ctx).With(logger.Component("store.pg"))
	if err := pool.Ping(ctx); err != nil {
		log.Warn("pg pool startup ping failed", logger.Err(err))
	} else {
		log.Info("pg pool ready", logger.Int("max_conns", int(pcfg.MaxConns)))
	}
	return &Store{pool: pool}, nil
}

// Pool expone el pool interno (migraciones, seed).
func (s *Store) Pool() *pgxpool.Pool {
	if s == nil {
		return nil
	}
	return s.pool
}

// Ping chequea la conexión.
func (s *Store) Ping(ctx context.Context) error { return s.pool.Ping(ctx) }

// Close cierra el pool (idempotente).
func (s *Store) Close() {
	if s != nil && s.pool != nil {
		s.pool.Close()
	}
}

const (
	countGrants = `SELECT count(*) FROM option_grant WHERE user_id = $1`
	pageGrants  = `
SELECT option_id, can_view, can_create, can_edit, can_delete, can_finalize
  FROM option_grant
 WHERE user_id = $1
 ORDER BY option_id
 LIMIT $2 OFFSET $3`

	countOptions = `SELECT count(*) FROM app_option`
	pageOptions  = `
SELECT id, route_path
  FROM app_option
 ORDER BY id
 LIMIT $1 OFFSET $2`
)

// GetGrantsForUser página de grants del usuario.
func (s *Store) GetGrantsForUser(ctx context.Context, userID int64, page, pageSize int) (pager.Page[permission.GrantRow], error) {
	out := pager.Page[permission.GrantRow]{Data: []permission.GrantRow{}}
	limit, offset := window(page, pageSize)

	var total int
	if err := s.pool.QueryRow(ctx, countGrants, userID).Scan(&total); err != nil {
		return out, fmt.Errorf("pg: count grants: %w", err)
	}
	out.Meta.Pages = pages(total, limit)

	rows, err := s.pool.Query(ctx, pageGrants, userID, limit, offset)
	if err != nil {
		return out, fmt.Errorf("pg: grants: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var r permission.GrantRow
		if err := rows.Scan(&r.ResourceID, &r.CanView, &r.CanCreate, &r.CanEdit, &r.CanDelete, &r.CanFinalize); err != nil {
			return out, fmt.Errorf("pg: scan grant: %w", err)
		}
		out.Data = append(out.Data, r)
	}
	return out, rows.Err()
}

// GetResourceCatalog página del catálogo de opciones.
func (s *Store) GetResourceCatalog(ctx context.Context, page, pageSize int) (pager.Page[catalog.Entry], error) {
	out := pager.Page[catalog.Entry]{Data: []catalog.Entry{}}
	limit, offset := window(page, pageSize)

	var total int
	if err := s.pool.QueryRow(ctx, countOptions).Scan(&total); err != nil {
		return out, fmt.Errorf("pg: count options: %w", err)
	}
	out.Meta.Pages = pages(total, limit)

	rows, err := s.pool.Query(ctx, pageOptions, limit, offset)
	if err != nil {
		return out, fmt.Errorf("pg: options: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			e     catalog.Entry
			route *string
		)
		if err := rows.Scan(&e.ResourceID, &route); err != nil {
			return out, fmt.Errorf("pg: scan option: %w", err)
		}
		if route != nil {
			e.RoutePath = *route
		}
		out.Data = append(out.Data, e)
	}
	return out, rows.Err()
}

func window(page, pageSize int) (limit, offset int) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = 100
	}
	return pageSize, (page - 1) * pageSize
}

// pages: una tabla vacía igual reporta una página (vacía).
func pages(total, size int) int {
	if total <= 0 {
		return 1
	}
	return (total + size - 1) / size
}
