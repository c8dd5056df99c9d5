package api

import (
	"net/http"

	gtfsrtpb "github.com/MobilityData/gtfs-realtime-bindings/golang/gtfs"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/proto"

	"busfleet/internal/transit"
)

// VehiclePositionsFeed renders vehicles with a known position as a GTFS-RT
// full dataset. A vehicle inside a stop's geofence is STOPPED_AT that stop.
func VehiclePositionsFeed(vehicles []transit.VehicleState, catalog transit.Catalog, timestamp uint64) *gtfsrtpb.FeedMessage {
	fm := &gtfsrtpb.FeedMessage{
		Header: &gtfsrtpb.FeedHeader{
			GtfsRealtimeVersion: proto.String("2.0"),
			Incrementality:      gtfsrtpb.FeedHeader_FULL_DATASET.Enum(),
			Timestamp:           proto.Uint64(timestamp),
		},
	}
	for _, v := range vehicles {
		if v.Coordinates == nil {
			continue
		}
		vp := &gtfsrtpb.VehiclePosition{
			Vehicle: &gtfsrtpb.VehicleDescriptor{
				Id:    proto.String(v.VehicleID),
				Label: proto.String(v.VehicleID),
			},
			Position: &gtfsrtpb.Position{
				Latitude:  proto.Float32(float32(v.Coordinates.Latitude)),
				Longitude: proto.Float32(float32(v.Coordinates.Longitude)),
			},
		}
		if !v.Coordinates.Timestamp.IsZero() {
			vp.Timestamp = proto.Uint64(uint64(v.Coordinates.Timestamp.Unix()))
		}
		if v.LocationName != "" {
			stopID := v.LocationName
			if e, ok := v.Route[v.LocationName]; ok && e.StopID != "" {
				stopID = e.StopID
			} else if s, ok := catalog.Find(v.LocationName); ok {
				stopID = s.ID
			}
			vp.StopId = proto.String(stopID)
			vp.CurrentStatus = gtfsrtpb.VehiclePosition_STOPPED_AT.Enum()
		} else if v.Active() {
			vp.CurrentStatus = gtfsrtpb.VehiclePosition_IN_TRANSIT_TO.Enum()
		}
		fm.Entity = append(fm.Entity, &gtfsrtpb.FeedEntity{
			Id:      proto.String(v.VehicleID),
			Vehicle: vp,
		})
	}
	return fm
}

// HandleVehiclePositions handles GET /api/v1/gtfs-rt/vehicle-positions.
// The body is protobuf unless ?format=json is given.
func (h *Handlers) HandleVehiclePositions(w http.ResponseWriter, r *http.Request) {
	vehicles, err := h.store.List(r.Context())
	if err != nil {
		writeStoreError(w, err)
		return
	}
	fm := VehiclePositionsFeed(vehicles, h.search.Catalog(), uint64(h.now().Unix()))

	if r.URL.Query().Get("format") == "json" {
		b, err := protojson.Marshal(fm)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "internal_error", "")
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write(b)
		return
	}
	b, err := proto.Marshal(fm)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal_error", "")
		return
	}
	w.Header().Set("Content-Type", "application/x-protobuf")
	_, _ = w.Write(b)
}
