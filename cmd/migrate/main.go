package main

import (
	"context"
	"flag"
	"log"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"

	"github.com/dropDatabas3/permgate/internal/config"
	"github.com/dropDatabas3/permgate/internal/store/pg"
	migrations "github.com/dropDatabas3/permgate/migrations/postgres"
)

func main() {
	var (
		configPath = flag.String("config", "configs/config.yaml", "Path to YAML config")
		dsn        = flag.String("dsn", "", "Postgres DSN (pisa storage.dsn)")
	)
	flag.Parse()
	_ = godotenv.Load()

	// Positional args: [up|down] [steps]
	dir := pg.Up
	steps := 0
	args := flag.Args()
	if len(args) >= 1 && args[0] != "" {
		dir = pg.Direction(strings.ToLower(args[0]))
	}
	if len(args) >= 2 {
		if n, err := strconv.Atoi(args[1]); err == nil && n > 0 {
			steps = n
		}
	}
	if dir != pg.Up && dir != pg.Down {
		log.Fatalf("unknown action %q. Use: up | down [steps]", dir)
	}

	target := *dsn
	if target == "" {
		target = os.Getenv("STORAGE_DSN")
	}
	if target == "" {
		cfg, err := config.Load(*configPath)
		if err != nil {
			log.Fatalf("config load: %v", err)
		}
		target = cfg.Storage.DSN
	}
	if target == "" {
		log.Fatal("storage.dsn vacío (usar --dsn o STORAGE_DSN)")
	}

	ctx := context.Background()
	st, err := pg.New(ctx, target, pg.PoolConfig{MaxOpenConns: 2})
	if err != nil {
		log.Fatalf("pg: %v", err)
	}
	defer st.Close()

	applied, err := pg.Migrate(ctx, st.Pool(), migrations.FS, dir, steps)
	if err != nil {
		log.Fatalf("migrate %s: %v (applied: %v)", dir, err, applied)
	}
	if len(applied) == 0 {
		log.Printf("No %s migrations found. Nothing to do.", dir)
		return
	}
	log.Printf("%s migrations completed: %s", dir, strings.Join(applied, ", "))
}
