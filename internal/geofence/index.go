package geofence

import (
	"math"
	"sort"

	"github.com/mmcloughlin/geohash"

	"busfleet/internal/transit"
)

// cell dimensions in degrees (lat height, lon width) per geohash precision
var cellDegrees = map[uint][2]float64{
	4: {0.17578125, 0.3515625},
	5: {0.0439453125, 0.0439453125},
	6: {0.0054931640625, 0.010986328125},
}

// Index buckets stops by geohash so a tick only tests the stops in the
// vehicle's cell and its neighbours. Results match Locate over the same
// stops: the first match in catalog order wins.
type Index struct {
	stops     []transit.Stop
	radius    float64
	precision uint
	buckets   map[string][]int
}

// NewIndex builds an index for the given radius. Stops failing CheckStop
// are left out.
func NewIndex(stops []transit.Stop, radiusMeters float64) *Index {
	idx := &Index{
		stops:   append([]transit.Stop(nil), stops...),
		radius:  radiusMeters,
		buckets: map[string][]int{},
	}
	for _, p := range []uint{6, 5, 4} {
		d := cellDegrees[p]
		if d[0]*degToMeters >= radiusMeters {
			idx.precision = p
			break
		}
	}
	if idx.precision == 0 {
		return idx
	}
	for i, s := range idx.stops {
		if CheckStop(s) != nil {
			continue
		}
		h := geohash.EncodeWithPrecision(s.Latitude, s.Longitude, idx.precision)
		idx.buckets[h] = append(idx.buckets[h], i)
	}
	return idx
}

const degToMeters = math.Pi / 180 * earthRadiusMeters

func (idx *Index) Len() int { return len(idx.stops) }

// Locate returns the first stop in catalog order whose radius contains current.
func (idx *Index) Locate(current transit.LatLng) (string, bool) {
	if !idx.covers(current.Lat) {
		return Locate(current, idx.stops, idx.radius)
	}
	h := geohash.EncodeWithPrecision(current.Lat, current.Lng, idx.precision)
	var cand []int
	cand = append(cand, idx.buckets[h]...)
	for _, n := range geohash.Neighbors(h) {
		cand = append(cand, idx.buckets[n]...)
	}
	sort.Ints(cand)
	for _, i := range cand {
		s := idx.stops[i]
		if Haversine(current.Lat, current.Lng, s.Latitude, s.Longitude) <= idx.radius {
			return s.Name, true
		}
	}
	return "", false
}

// covers reports whether one ring of neighbour cells spans the radius at lat.
func (idx *Index) covers(lat float64) bool {
	if idx.precision == 0 {
		return false
	}
	d := cellDegrees[idx.precision]
	width := d[1] * degToMeters * math.Cos(lat*math.Pi/180)
	return d[0]*degToMeters >= idx.radius && width >= idx.radius
}
