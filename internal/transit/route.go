package transit

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// ErrInvalidRoute is returned when a route cannot be built or fails validation.
var ErrInvalidRoute = errors.New("invalid route")

// RouteEntry is one stop on a vehicle's route. Index 0 is the final
// destination; larger indices are visited earlier.
type RouteEntry struct {
	StopID    string  `json:"stopId"`
	Index     uint32  `json:"index"`
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

func (e RouteEntry) LatLng() LatLng { return LatLng{Lat: e.Latitude, Lng: e.Longitude} }

// Route maps stop name to its entry.
type Route map[string]RouteEntry

// NamedEntry pairs a route entry with the stop name it is keyed by.
type NamedEntry struct {
	Name string
	RouteEntry
}

// BuildRoute assigns the destination index 0 and each waypoint its
// position in the sequence plus one.
func BuildRoute(destination Stop, waypoints []Stop) (Route, error) {
	if strings.TrimSpace(destination.Name) == "" {
		return nil, fmt.Errorf("%w: destination has no name", ErrInvalidRoute)
	}
	r := make(Route, len(waypoints)+1)
	r[destination.Name] = RouteEntry{
		StopID:    destination.ID,
		Index:     0,
		Latitude:  destination.Latitude,
		Longitude: destination.Longitude,
	}
	ids := map[string]bool{}
	if destination.ID != "" {
		ids[destination.ID] = true
	}
	for i, wp := range waypoints {
		if strings.TrimSpace(wp.Name) == "" {
			return nil, fmt.Errorf("%w: waypoint %d has no name", ErrInvalidRoute, i)
		}
		if _, dup := r[wp.Name]; dup || (wp.ID != "" && ids[wp.ID]) {
			if wp.Name == destination.Name || (wp.ID != "" && wp.ID == destination.ID) {
				return nil, fmt.Errorf("%w: waypoint %q duplicates the destination", ErrInvalidRoute, wp.Name)
			}
			return nil, fmt.Errorf("%w: waypoint %q listed twice", ErrInvalidRoute, wp.Name)
		}
		if wp.ID != "" {
			ids[wp.ID] = true
		}
		r[wp.Name] = RouteEntry{
			StopID:    wp.ID,
			Index:     uint32(i + 1),
			Latitude:  wp.Latitude,
			Longitude: wp.Longitude,
		}
	}
	return r, nil
}

// Validate checks that indices are unique and exactly one entry has index 0.
func (r Route) Validate() error {
	if len(r) == 0 {
		return fmt.Errorf("%w: empty", ErrInvalidRoute)
	}
	seen := make(map[uint32]string, len(r))
	for name, e := range r {
		if other, ok := seen[e.Index]; ok {
			return fmt.Errorf("%w: %q and %q share index %d", ErrInvalidRoute, name, other, e.Index)
		}
		seen[e.Index] = name
	}
	if _, ok := seen[0]; !ok {
		return fmt.Errorf("%w: no destination (index 0)", ErrInvalidRoute)
	}
	return nil
}

// Destination returns the index 0 entry.
func (r Route) Destination() (NamedEntry, bool) {
	for name, e := range r {
		if e.Index == 0 {
			return NamedEntry{Name: name, RouteEntry: e}, true
		}
	}
	return NamedEntry{}, false
}

// VisitOrder returns the entries in the order the vehicle visits them:
// descending index, destination last.
func (r Route) VisitOrder() []NamedEntry {
	out := make([]NamedEntry, 0, len(r))
	for name, e := range r {
		out = append(out, NamedEntry{Name: name, RouteEntry: e})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Index > out[j].Index })
	return out
}

// Through returns the visit-ordered entries up to and including stop. It
// returns nil when stop is not on the route.
func (r Route) Through(stop string) []NamedEntry {
	target, ok := r[stop]
	if !ok {
		return nil
	}
	var out []NamedEntry
	for _, e := range r.VisitOrder() {
		if e.Index < target.Index {
			break
		}
		out = append(out, e)
	}
	return out
}

// Without returns a copy of the route with the named waypoint dropped.
// The destination is never removed and the remaining indices are kept.
func (r Route) Without(name string) Route {
	out := r.Clone()
	if e, ok := out[name]; ok && e.Index != 0 {
		delete(out, name)
	}
	return out
}

// Waypoints returns the names of all non-destination entries in visit order.
func (r Route) Waypoints() []string {
	var names []string
	for _, e := range r.VisitOrder() {
		if e.Index != 0 {
			names = append(names, e.Name)
		}
	}
	return names
}

// Prefill decomposes a route into the destination and waypoint stops in
// ascending index, so BuildRoute on the result reproduces the route when
// its indices are contiguous.
func (r Route) Prefill() (Stop, []Stop, error) {
	dest, ok := r.Destination()
	if !ok {
		return Stop{}, nil, fmt.Errorf("%w: no destination (index 0)", ErrInvalidRoute)
	}
	order := r.VisitOrder()
	waypoints := make([]Stop, 0, len(order)-1)
	for i := len(order) - 1; i >= 0; i-- {
		e := order[i]
		if e.Index == 0 {
			continue
		}
		waypoints = append(waypoints, e.Stop())
	}
	return dest.Stop(), waypoints, nil
}

func (e NamedEntry) Stop() Stop {
	return Stop{ID: e.StopID, Name: e.Name, Latitude: e.Latitude, Longitude: e.Longitude}
}

func (r Route) Clone() Route {
	if r == nil {
		return nil
	}
	out := make(Route, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}
