package api

import "busfleet/internal/transit"

type ErrorResponse struct {
	Error string `json:"error"`
	Field string `json:"field,omitempty"`
}

type HealthResponse struct {
	Status   string `json:"status"`
	Stops    int    `json:"stops"`
	Vehicles int    `json:"vehicles"`
}

type StopsResponse struct {
	Stops []transit.Stop `json:"stops"`
}

// VehicleSummary is one row of the lock display.
type VehicleSummary struct {
	VehicleID    string               `json:"vehicleId"`
	Locked       bool                 `json:"locked"`
	Active       bool                 `json:"active"`
	LocationName string               `json:"locationName,omitempty"`
	Coordinates  *transit.Coordinates `json:"coordinates,omitempty"`
}

type VehiclesResponse struct {
	Vehicles []VehicleSummary `json:"vehicles"`
}

// VehicleResponse is the full view of one vehicle; DriverID is withheld.
type VehicleResponse struct {
	VehicleSummary
	Stops []string `json:"stops"`
}

func summarize(v transit.VehicleState) VehicleSummary {
	return VehicleSummary{
		VehicleID:    v.VehicleID,
		Locked:       v.Claimed(),
		Active:       v.Active(),
		LocationName: v.LocationName,
		Coordinates:  v.Coordinates,
	}
}

func detail(v transit.VehicleState) VehicleResponse {
	resp := VehicleResponse{VehicleSummary: summarize(v), Stops: []string{}}
	for _, e := range v.Route.VisitOrder() {
		resp.Stops = append(resp.Stops, e.Name)
	}
	return resp
}
