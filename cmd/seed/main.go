package main

import (
	"context"
	"flag"
	"log"
	"os"

	"github.com/joho/godotenv"

	"github.com/dropDatabas3/permgate/internal/config"
	"github.com/dropDatabas3/permgate/internal/store/pg"
)

func main() {
	var (
		configPath = flag.String("config", "configs/config.yaml", "Path to YAML config")
		file       = flag.String("file", "configs/seed.example.yaml", "Seed YAML (options + grants)")
		dsn        = flag.String("dsn", "", "Postgres DSN (pisa storage.dsn)")
	)
	flag.Parse()
	_ = godotenv.Load()

	f, err := os.Open(*file)
	if err != nil {
		log.Fatalf("seed file: %v", err)
	}
	defer f.Close()

	sf, err := pg.ParseSeed(f)
	if err != nil {
		log.Fatal(err)
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

	ctx := context.Background()
	st, err := pg.New(ctx, target, pg.PoolConfig{MaxOpenConns: 2})
	if err != nil {
		log.Fatalf("pg: %v", err)
	}
	defer st.Close()

	if err := st.Seed(ctx, sf); err != nil {
		log.Fatalf("seed: %v", err)
	}
	log.Printf("seed ok: %d options, %d grants", len(sf.Options), len(sf.Grants))
}
