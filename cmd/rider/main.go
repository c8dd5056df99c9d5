package main

import (
	"context"
	"log"
	"net/http"

	"github.com/nats-io/nats.go/jetstream"

	"busfleet/internal/api"
	"busfleet/internal/config"
	"busfleet/internal/db"
	"busfleet/internal/eta"
	"busfleet/internal/metrics"
	"busfleet/internal/publisher"
	"busfleet/internal/search"
	"busfleet/internal/store"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}
	if err := cfg.RequireDatabase(); err != nil {
		log.Fatalf("config error: %v", err)
	}
	ctx := context.Background()

	mcol := metrics.NewCollector(cfg.PublishInterval, cfg.GeofenceRadius)

	sqlDB, err := db.Open(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("db open error: %v", err)
	}
	defer sqlDB.Close()
	if err := db.Ping(ctx, sqlDB); err != nil {
		log.Fatalf("db ping error (%s): %v", db.Redact(cfg.DatabaseURL), err)
	}
	catalog, err := db.ListStops(ctx, sqlDB)
	if err != nil {
		log.Fatalf("list stops error: %v", err)
	}
	log.Printf("loaded %d stops", len(catalog))

	var st store.Store
	if cfg.StoreBackend == "memory" {
		st = store.NewMemory()
		log.Printf("using in-memory vehicle store; no drivers will be visible")
	} else {
		nc, err := publisher.Connect(cfg.NATSURL, "busfleet-rider", mcol.Publisher())
		if err != nil {
			log.Fatalf("nats error: %v", err)
		}
		defer nc.Drain()
		js, err := jetstream.New(nc)
		if err != nil {
			log.Fatalf("jetstream error: %v", err)
		}
		if st, err = store.NewKV(ctx, js, cfg.KVBucket); err != nil {
			log.Fatalf("kv error: %v", err)
		}
	}

	oracle, err := eta.NewGoogleOracle(cfg.GoogleMapsAPIKey)
	if err != nil {
		log.Fatalf("directions client error: %v", err)
	}
	svc := search.NewService(catalog, st, eta.NewEstimator(oracle, mcol), mcol)

	// metrics share the api listener unless a separate address is set
	var metricsHandler http.Handler = mcol.Handler()
	if cfg.MetricsAddr != "" {
		mcol.Serve(cfg.MetricsAddr)
		metricsHandler = nil
	}

	srv := api.NewServer(api.ServerConfig{
		Addr:           cfg.HTTPAddr,
		AllowedOrigins: cfg.AllowedOrigins,
		Metrics:        metricsHandler,
	}, api.NewHandlers(svc, st))
	if err := api.ListenAndServe(ctx, srv); err != nil && err != http.ErrServerClosed {
		log.Fatalf("server error: %v", err)
	}
	log.Println("shutdown complete")
}
