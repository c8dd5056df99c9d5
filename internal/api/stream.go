package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
)

// keepAlive is how often an idle stream gets a comment line.
const keepAlive = 15 * time.Second

// HandleVehicleStream handles GET /api/v1/vehicles/{id}/stream as
// server-sent events: one "vehicle" event per state change, starting with
// the current state.
func (h *Handlers) HandleVehicleStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming_unsupported", "")
		return
	}
	updates, err := h.store.Watch(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeStoreError(w, err)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ticker := time.NewTicker(keepAlive)
	defer ticker.Stop()
	for {
		select {
		case <-r.Context().Done():
			return
		case <-ticker.C:
			fmt.Fprint(w, ": keep-alive\n\n")
			flusher.Flush()
		case v, ok := <-updates:
			if !ok {
				return
			}
			b, err := json.Marshal(detail(v))
			if err != nil {
				return
			}
			fmt.Fprintf(w, "event: vehicle\ndata: %s\n\n", b)
			flusher.Flush()
		}
	}
}
