package pg

import (
	"context"
	"fmt"
	"io/fs"
	"sort"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dropDatabas3/permgate/internal/observability/logger"
)

// Direction de una migración.
type Direction string

const (
	Up   Direction = "up"
	Down Direction = "down"
)

// ListMigrations retorna los archivos *_up.sql o *_down.sql de fsys en el
// orden en que se aplican (down en reversa). steps > 0 limita la cantidad.
func ListMigrations(fsys fs.FS, dir Direction, steps int) ([]string, error) {
	entries, err := fs.ReadDir(fsys, ".")
	if err != nil {
		return nil, err
	}
	suffix := "_" + string(dir) + ".sql"
	var out []string
	for _, e := range entries {
		if e.Type().IsRegular() && strings.HasSuffix(strings.ToLower(e.Name()), suffix) {
			out = append(out, e.Name())
		}
	}
	sort.Strings(out)
	if dir == Down {
		for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
			out[i], out[j] = out[j], out[i]
		}
	}
	if steps > 0 && steps < len(out) {
		out = out[:steps]
	}
	return out, nil
}

// Migrate aplica las migraciones de fsys en la dirección pedida. Retorna
// los archivos ejecutados.
func Migrate(ctx context.Context, pool *pgxpool.Pool, fsys fs.FS, dir Direction, steps int) ([]string, error) {
	files, err := ListMigrations(fsys, dir, steps)
	if err != nil {
		return nil, err
	}
	log := logger.From(ctx).With(logger.Component("store.pg"), logger.Op("Migrate"))

	applied := make([]string, 0, len(files))
	for _, f := range files {
		b, err := fs.ReadFile(fsys, f)
		if err != nil {
			return applied, err
		}
		sql := strings.TrimSpace(string(b))
		if sql == "" {
			continue
		}
		if _, err := pool.Exec(ctx, sql); err != nil {
			return applied, fmt.Errorf("exec %s: %w", f, err)
		}
		log.Info("migration applied", logger.String("file", f))
		applied = append(applied, f)
	}
	return applied, nil
}
