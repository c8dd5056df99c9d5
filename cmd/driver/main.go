package main

import (
	"context"
	"errors"
	"log"
	"os/signal"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"busfleet/internal/config"
	"busfleet/internal/db"
	"busfleet/internal/device"
	"busfleet/internal/metrics"
	"busfleet/internal/publisher"
	"busfleet/internal/savedroutes"
	"busfleet/internal/store"
	"busfleet/internal/tracker"
	"busfleet/internal/transit"
)

func main() {
	// Load configuration from .env and environment
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}
	if cfg.VehicleID == "" {
		log.Fatalf("config error: VEHICLE_ID must be set")
	}
	if err := store.CheckID(cfg.VehicleID); err != nil {
		log.Fatalf("config error: %v", err)
	}
	if err := cfg.RequireDatabase(); err != nil {
		log.Fatalf("config error: %v", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var mcol *metrics.Collector
	if cfg.MetricsAddr != "" {
		mcol = metrics.NewCollector(cfg.PublishInterval, cfg.GeofenceRadius)
		srv := mcol.Serve(cfg.MetricsAddr)
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	// Stop catalog
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

	// Vehicle store and event fan-out
	var (
		st     store.Store
		events tracker.Events
	)
	switch cfg.StoreBackend {
	case "memory":
		st = store.NewMemory()
		log.Printf("using in-memory vehicle store; riders in other processes will not see this vehicle")
	default:
		nc, err := publisher.Connect(cfg.NATSURL, "busfleet-driver-"+cfg.VehicleID, mcol.Publisher())
		if err != nil {
			log.Fatalf("nats error: %v", err)
		}
		defer nc.Drain()
		st = openKV(ctx, nc, cfg.KVBucket)
		events = publisher.NewNATSPublisher(nc, cfg.EventSubjectPrefix, cfg.LogNATSSubjects, mcol.Publisher())
	}

	route, err := resolveRoute(ctx, cfg, catalog)
	if err != nil {
		log.Fatalf("route error: %v", err)
	}

	if err := st.Register(ctx, cfg.VehicleID); err != nil {
		log.Fatalf("register vehicle %s: %v", cfg.VehicleID, err)
	}

	dev, err := device.NewSimulated(startPoint(route), route, cfg.SimSpeedMps)
	if err != nil {
		log.Fatalf("device error: %v", err)
	}
	log.Printf("simulated path is %.0f m at %.1f m/s", dev.Length(), cfg.SimSpeedMps)

	pub := tracker.New(st, dev, events, mcol, cfg.PublishInterval, cfg.GeofenceRadius)
	session := tracker.NewSession(st, pub, cfg.DriverID, mcol)
	if err := session.Claim(ctx, cfg.VehicleID); err != nil {
		log.Fatalf("claim vehicle %s: %v", cfg.VehicleID, err)
	}
	if err := session.StartTrip(ctx, route); err != nil {
		log.Printf("start trip error: %v", err)
		release(session)
		return
	}

	// Block until a signal arrives
	<-ctx.Done()
	release(session)
	log.Println("shutdown complete")
}

// release ends the trip and drops the claim on a fresh context, since the
// root one is already cancelled at shutdown.
func release(session *tracker.Session) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := session.Release(ctx); err != nil {
		log.Printf("release vehicle %s: %v", session.Vehicle(), err)
	}
}

func openKV(ctx context.Context, nc *nats.Conn, bucket string) store.Store {
	js, err := jetstream.New(nc)
	if err != nil {
		log.Fatalf("jetstream error: %v", err)
	}
	kv, err := store.NewKV(ctx, js, bucket)
	if err != nil {
		log.Fatalf("kv error: %v", err)
	}
	return kv
}

// resolveRoute builds the trip from DESTINATION/WAYPOINTS or, when only
// SAVED_ROUTE is given, from the driver's saved route of that name. With
// both present the built route is saved under the name.
func resolveRoute(ctx context.Context, cfg *config.Config, catalog transit.Catalog) (transit.Route, error) {
	if cfg.SavedRoute == "" {
		return catalog.BuildRoute(cfg.Destination, cfg.Waypoints)
	}
	if cfg.DriverID == "" {
		return nil, errors.New("SAVED_ROUTE needs a stable DRIVER_ID")
	}

	rdb, err := savedroutes.Connect(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	if err != nil {
		return nil, err
	}
	defer rdb.Close()
	saved := savedroutes.New(rdb, savedroutes.DefaultPrefix)

	if cfg.Destination != "" {
		route, err := catalog.BuildRoute(cfg.Destination, cfg.Waypoints)
		if err != nil {
			return nil, err
		}
		if err := saved.Save(ctx, cfg.DriverID, cfg.SavedRoute, route); err != nil {
			return nil, err
		}
		log.Printf("saved route %q", cfg.SavedRoute)
		return route, nil
	}

	stored, err := saved.Load(ctx, cfg.DriverID, cfg.SavedRoute)
	if err != nil {
		return nil, err
	}
	// rebuild so stops renamed or moved in the catalog are picked up
	dest, waypoints, err := stored.Prefill()
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(waypoints))
	for _, w := range waypoints {
		names = append(names, w.ID)
	}
	log.Printf("prefilled route %q: %d waypoints to %s", cfg.SavedRoute, len(names), dest.Name)
	return catalog.BuildRoute(dest.ID, names)
}

// startPoint places the simulated bus a short way south of the first stop
// it has to visit, so the first arrival is observed.
func startPoint(route transit.Route) transit.LatLng {
	order := route.VisitOrder()
	first := order[0].LatLng()
	return transit.LatLng{Lat: first.Lat - 0.005, Lng: first.Lng}
}
