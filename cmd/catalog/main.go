package main

import (
	"context"
	"flag"
	"log"
	"os/signal"
	"syscall"

	"busfleet/internal/config"
	"busfleet/internal/db"
)

func main() {
	migrateFlag := flag.Bool("migrate", true, "apply schema migrations before seeding")
	seedPath := flag.String("seed", "", "YAML file of stops to upsert")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}
	if err := cfg.RequireDatabase(); err != nil {
		log.Fatalf("config error: %v", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	sqlDB, err := db.Open(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("db open error: %v", err)
	}
	defer sqlDB.Close()
	if err := db.Ping(ctx, sqlDB); err != nil {
		log.Fatalf("db ping error: %v", err)
	}
	log.Printf("connected to %s", db.Redact(cfg.DatabaseURL))

	if *migrateFlag {
		if err := db.Migrate(sqlDB); err != nil {
			log.Fatalf("migrate error: %v", err)
		}
	}

	if *seedPath != "" {
		stops, err := db.LoadSeedFile(*seedPath)
		if err != nil {
			log.Fatalf("seed file %s: %v", *seedPath, err)
		}
		n, err := db.SeedStops(ctx, sqlDB, stops)
		if err != nil {
			log.Fatalf("seed error: %v", err)
		}
		log.Printf("upserted %d stops from %s", n, *seedPath)
	}

	catalog, err := db.ListStops(ctx, sqlDB)
	if err != nil {
		log.Fatalf("list stops error: %v", err)
	}
	log.Printf("catalog has %d stops", len(catalog))
}
