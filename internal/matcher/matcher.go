// Package matcher filters active vehicles against a rider's source and
// destination using the stop indices of each vehicle's route.
package matcher

import "busfleet/internal/transit"

// Result holds two independent views over the same snapshot. Every
// vehicle in ThroughBuses is also in DestinationOnlyBuses.
type Result struct {
	ThroughBuses         []string `json:"throughBuses"`
	DestinationOnlyBuses []string `json:"destinationOnlyBuses"`
}

// Match keeps the snapshot's vehicle order. A vehicle is a through-bus when
// it visits source strictly before destination; source may be nil.
func Match(vehicles []transit.VehicleState, source *transit.Stop, destination transit.Stop) Result {
	res := Result{ThroughBuses: []string{}, DestinationOnlyBuses: []string{}}
	for _, v := range vehicles {
		if !v.Active() {
			continue
		}
		dst, ok := v.Route[destination.Name]
		if !ok {
			continue
		}
		res.DestinationOnlyBuses = append(res.DestinationOnlyBuses, v.VehicleID)

		if source == nil {
			continue
		}
		src, ok := v.Route[source.Name]
		if ok && src.Index > dst.Index {
			res.ThroughBuses = append(res.ThroughBuses, v.VehicleID)
		}
	}
	return res
}

// Through reports whether the route visits source before destination.
func Through(r transit.Route, source, destination string) bool {
	src, ok := r[source]
	if !ok {
		return false
	}
	dst, ok := r[destination]
	return ok && src.Index > dst.Index
}
