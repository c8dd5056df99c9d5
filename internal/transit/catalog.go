package transit

import "fmt"

// Catalog is the stop list read once per session from the stop catalog.
type Catalog []Stop

// Find looks a stop up by name, falling back to id.
func (c Catalog) Find(key string) (Stop, bool) {
	for _, s := range c {
		if s.Name == key {
			return s, true
		}
	}
	for _, s := range c {
		if s.ID == key {
			return s, true
		}
	}
	return Stop{}, false
}

// BuildRoute resolves stop names against the catalog and builds a route.
func (c Catalog) BuildRoute(destination string, waypoints []string) (Route, error) {
	dest, ok := c.Find(destination)
	if !ok {
		return nil, fmt.Errorf("%w: unknown destination %q", ErrInvalidRoute, destination)
	}
	wps := make([]Stop, 0, len(waypoints))
	for _, name := range waypoints {
		s, ok := c.Find(name)
		if !ok {
			return nil, fmt.Errorf("%w: unknown waypoint %q", ErrInvalidRoute, name)
		}
		wps = append(wps, s)
	}
	return BuildRoute(dest, wps)
}
