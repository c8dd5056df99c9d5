package transit

import "time"

// Stop is a catalog entry riders board or alight at.
type Stop struct {
	ID        string  `json:"id" yaml:"id"`
	Name      string  `json:"name" yaml:"name"`
	Latitude  float64 `json:"latitude" yaml:"latitude"`
	Longitude float64 `json:"longitude" yaml:"longitude"`
}

func (s Stop) LatLng() LatLng { return LatLng{Lat: s.Latitude, Lng: s.Longitude} }

type LatLng struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// Coordinates is one device fix as published to the vehicle state.
type Coordinates struct {
	Latitude  float64   `json:"latitude"`
	Longitude float64   `json:"longitude"`
	Timestamp time.Time `json:"timestamp"`
}

func (c Coordinates) LatLng() LatLng { return LatLng{Lat: c.Latitude, Lng: c.Longitude} }

// VehicleState is the shared record for one bus. DriverID doubles as the
// claim lock: non-empty means some driver session holds the vehicle.
type VehicleState struct {
	VehicleID   string       `json:"vehicleId"`
	DriverID    string       `json:"driverId,omitempty"`
	Coordinates *Coordinates `json:"coordinates,omitempty"`
	Route       Route        `json:"route,omitempty"`
	// LocationName is the stop the vehicle was last seen inside, if any.
	LocationName string `json:"locationName,omitempty"`
}

func (v VehicleState) Claimed() bool { return v.DriverID != "" }

// Active reports whether the vehicle currently has a published route.
func (v VehicleState) Active() bool { return len(v.Route) > 0 }

// Clone returns a deep copy so callers can mutate without touching shared state.
func (v VehicleState) Clone() VehicleState {
	out := v
	if v.Coordinates != nil {
		c := *v.Coordinates
		out.Coordinates = &c
	}
	out.Route = v.Route.Clone()
	return out
}
