// Package api exposes rider queries, the vehicle lock display and a
// GTFS-RT feed over HTTP.
package api

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
)

type ServerConfig struct {
	Addr           string
	AllowedOrigins []string
	// Metrics, when set, is mounted at /metrics.
	Metrics http.Handler
}

// NewRouter wires the routes behind the access log and CORS handling.
func NewRouter(h *Handlers, cfg ServerConfig) http.Handler {
	router := mux.NewRouter()
	router.Use(securityHeaders)

	v1 := router.PathPrefix("/api/v1").Subrouter()
	v1.HandleFunc("/health", h.HandleHealth).Methods("GET")
	v1.HandleFunc("/stops", h.HandleStops).Methods("GET")
	v1.HandleFunc("/search", h.HandleSearch).Methods("GET")
	v1.HandleFunc("/vehicles", h.HandleVehicles).Methods("GET")
	v1.HandleFunc("/vehicles/{id}", h.HandleVehicle).Methods("GET")
	v1.HandleFunc("/vehicles/{id}/stream", h.HandleVehicleStream).Methods("GET")
	v1.HandleFunc("/gtfs-rt/vehicle-positions", h.HandleVehiclePositions).Methods("GET")

	if cfg.Metrics != nil {
		router.Handle("/metrics", cfg.Metrics).Methods("GET")
	}
	router.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, "not_found", "")
	})

	origins := cfg.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	cors := handlers.CORS(
		handlers.AllowedOrigins(origins),
		handlers.AllowedMethods([]string{"GET", "OPTIONS"}),
		handlers.AllowedHeaders([]string{"Content-Type", "Authorization"}),
	)
	recovery := handlers.RecoveryHandler(handlers.PrintRecoveryStack(true))
	return handlers.LoggingHandler(os.Stdout, recovery(cors(router)))
}

func securityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Cache-Control", "no-store")
		next.ServeHTTP(w, r)
	})
}

// NewServer sets no write timeout since vehicle streams stay open.
func NewServer(cfg ServerConfig, h *Handlers) *http.Server {
	return &http.Server{
		Addr:              cfg.Addr,
		Handler:           NewRouter(h, cfg),
		ReadHeaderTimeout: 5 * time.Second,
	}
}

// ListenAndServe starts the server and blocks until ctx is done or a
// shutdown signal arrives.
func ListenAndServe(ctx context.Context, srv *http.Server) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		log.Printf("rider api listening on %s", srv.Addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		log.Printf("shutting down rider api")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}
