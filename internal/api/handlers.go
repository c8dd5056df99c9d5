package api

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"busfleet/internal/search"
	"busfleet/internal/store"
	"busfleet/internal/transit"
)

const searchTimeout = 10 * time.Second

// Handlers serves the rider-facing API.
type Handlers struct {
	search *search.Service
	store  store.Store
	now    func() time.Time
}

func NewHandlers(svc *search.Service, st store.Store) *Handlers {
	return &Handlers{search: svc, store: st, now: time.Now}
}

// HandleHealth handles GET /api/v1/health.
func (h *Handlers) HandleHealth(w http.ResponseWriter, r *http.Request) {
	vehicles, err := h.store.List(r.Context())
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, HealthResponse{Status: "ok", Stops: len(h.search.Catalog()), Vehicles: len(vehicles)})
}

// HandleStops handles GET /api/v1/stops.
func (h *Handlers) HandleStops(w http.ResponseWriter, r *http.Request) {
	stops := h.search.Catalog()
	if stops == nil {
		stops = transit.Catalog{}
	}
	writeJSON(w, http.StatusOK, StopsResponse{Stops: stops})
}

// HandleSearch handles GET /api/v1/search?source=&destination=.
func (h *Handlers) HandleSearch(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	destination := strings.TrimSpace(q.Get("destination"))
	if destination == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "destination")
		return
	}
	source := strings.TrimSpace(q.Get("source"))

	ctx, cancel := context.WithTimeout(r.Context(), searchTimeout)
	defer cancel()
	res, err := h.search.Search(ctx, source, destination)
	if err != nil {
		if errors.Is(err, search.ErrUnknownStop) {
			field := "destination"
			if source != "" {
				if _, ok := h.search.Catalog().Find(source); !ok {
					field = "source"
				}
			}
			writeError(w, http.StatusNotFound, "unknown_stop", field)
			return
		}
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// HandleVehicles handles GET /api/v1/vehicles.
func (h *Handlers) HandleVehicles(w http.ResponseWriter, r *http.Request) {
	vehicles, err := h.store.List(r.Context())
	if err != nil {
		writeStoreError(w, err)
		return
	}
	resp := VehiclesResponse{Vehicles: make([]VehicleSummary, 0, len(vehicles))}
	for _, v := range vehicles {
		resp.Vehicles = append(resp.Vehicles, summarize(v))
	}
	writeJSON(w, http.StatusOK, resp)
}

// HandleVehicle handles GET /api/v1/vehicles/{id}.
func (h *Handlers) HandleVehicle(w http.ResponseWriter, r *http.Request) {
	v, err := h.store.Get(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, detail(v))
}

func writeStoreError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, "vehicle_not_found", "")
	case errors.Is(err, store.ErrInvalidID):
		writeError(w, http.StatusBadRequest, "invalid_vehicle_id", "")
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		writeError(w, http.StatusServiceUnavailable, "request_timeout", "")
	case errors.Is(err, store.ErrTransport):
		log.Printf("store error: %v", err)
		writeError(w, http.StatusServiceUnavailable, "store_unavailable", "")
	default:
		log.Printf("internal error: %v", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "")
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, field string) {
	writeJSON(w, status, ErrorResponse{Error: code, Field: field})
}
