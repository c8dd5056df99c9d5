package device

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"busfleet/internal/geofence"
	"busfleet/internal/transit"
)

// Simulated drives a virtual bus from a start point through the route's
// stops in visit order at a constant speed, then parks at the destination.
type Simulated struct {
	mu       sync.Mutex
	pts      []transit.LatLng
	cum      []float64
	speedMps float64
	started  time.Time
	now      func() time.Time
}

func NewSimulated(start transit.LatLng, route transit.Route, speedMps float64) (*Simulated, error) {
	if speedMps <= 0 {
		return nil, fmt.Errorf("invalid simulated speed %f", speedMps)
	}
	pts := []transit.LatLng{start}
	for _, e := range route.VisitOrder() {
		pts = append(pts, e.LatLng())
	}
	s := &Simulated{pts: pts, cum: cumDistances(pts), speedMps: speedMps, now: time.Now}
	return s, nil
}

// Length is the total path length in meters.
func (s *Simulated) Length() float64 { return s.cum[len(s.cum)-1] }

func (s *Simulated) CurrentPosition(ctx context.Context) (transit.Coordinates, error) {
	if err := ctx.Err(); err != nil {
		return transit.Coordinates{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	if s.started.IsZero() {
		s.started = now
	}
	dist := now.Sub(s.started).Seconds() * s.speedMps
	p := interpolate(s.pts, s.cum, dist)
	if math.IsNaN(p.Lat) || math.IsNaN(p.Lng) {
		return transit.Coordinates{}, ErrNoFix
	}
	return transit.Coordinates{Latitude: p.Lat, Longitude: p.Lng, Timestamp: now}, nil
}

func cumDistances(pts []transit.LatLng) []float64 {
	cum := make([]float64, len(pts))
	for i := 1; i < len(pts); i++ {
		cum[i] = cum[i-1] + geofence.Haversine(pts[i-1].Lat, pts[i-1].Lng, pts[i].Lat, pts[i].Lng)
	}
	return cum
}

// interpolate walks the polyline to dist meters, clamping at both ends.
func interpolate(pts []transit.LatLng, cum []float64, dist float64) transit.LatLng {
	n := len(pts)
	if dist <= 0 || n == 1 {
		return pts[0]
	}
	if dist >= cum[n-1] {
		return pts[n-1]
	}
	i := 1
	for i < n && cum[i] < dist {
		i++
	}
	d0, d1 := cum[i-1], cum[i]
	p0, p1 := pts[i-1], pts[i]
	if d1 == d0 {
		return p0
	}
	frac := (dist - d0) / (d1 - d0)
	return transit.LatLng{
		Lat: p0.Lat + (p1.Lat-p0.Lat)*frac,
		Lng: p0.Lng + (p1.Lng-p0.Lng)*frac,
	}
}
