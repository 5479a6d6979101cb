package pg

import (
	"context"
	"fmt"
	"io"

	"github.com/jackc/pgx/v5"
	"gopkg.in/yaml.v3"
)

// SeedFile formato YAML del seed:
//
//	options:
//	  - {id: 3, name: Cajas, route: /cajas}
//	grants:
//	  - {user: 1, option: 3, view: true, edit: true}
type SeedFile struct {
	Options []SeedOption `yaml:"options"`
	Grants  []SeedGrant  `yaml:"grants"`
}

type SeedOption struct {
	ID    int64  `yaml:"id"`
	Name  string `yaml:"name"`
	Route string `yaml:"route"`
}

type SeedGrant struct {
	User     int64 `yaml:"user"`
	Option   int64 `yaml:"option"`
	View     bool  `yaml:"view"`
	Create   bool  `yaml:"create"`
	Edit     bool  `yaml:"edit"`
	Delete   bool  `yaml:"delete"`
	Finalize *bool `yaml:"finalize"`
}

// ParseSeed decodifica y valida un seed.
func ParseSeed(r io.Reader) (SeedFile, error) {
	var sf SeedFile
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&sf); err != nil && err != io.EOF {
		return SeedFile{}, fmt.Errorf("seed: %w", err)
	}

	known := make(map[int64]bool, len(sf.Options))
	for _, o := range sf.Options {
		if o.ID <= 0 {
			return SeedFile{}, fmt.Errorf("seed: option id must be > 0 (got %d)", o.ID)
		}
		known[o.ID] = true
	}
	for _, g := range sf.Grants {
		if g.User <= 0 {
			return SeedFile{}, fmt.Errorf("seed: grant user must be > 0 (option %d)", g.Option)
		}
		if !known[g.Option] {
			return SeedFile{}, fmt.Errorf("seed: grant references unknown option %d", g.Option)
		}
	}
	return sf, nil
}

const (
	upsertOption = `
INSERT INTO app_option (id, name, route_path) VALUES ($1, $2, NULLIF($3, ''))
ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name, route_path = EXCLUDED.route_path`

	upsertGrant = `
INSERT INTO option_grant (user_id, option_id, can_view, can_create, can_edit, can_delete, can_finalize)
VALUES ($1, $2, $3, $4, $5, $6, $7)
ON CONFLICT (user_id, option_id) DO UPDATE SET
  can_view = EXCLUDED.can_view, can_create = EXCLUDED.can_create,
  can_edit = EXCLUDED.can_edit, can_delete = EXCLUDED.can_delete,
  can_finalize = EXCLUDED.can_finalize, updated_at = now()`
)

// Seed aplica el seed en una sola transacción (upsert).
func (s *Store) Seed(ctx context.Context, sf SeedFile) error {
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		b := &pgx.Batch{}
		for _, o := range sf.Options {
			b.Queue(upsertOption, o.ID, o.Name, o.Route)
		}
		for _, g := range sf.Grants {
			b.Queue(upsertGrant, g.User, g.Option, g.View, g.Create, g.Edit, g.Delete, g.Finalize)
		}
		return tx.SendBatch(ctx, b).Close()
	})
}
