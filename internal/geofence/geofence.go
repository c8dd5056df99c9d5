package geofence

import (
	"errors"
	"fmt"
	"math"

	"busfleet/internal/transit"
)

// DefaultRadiusMeters is the arrival radius around a stop.
const DefaultRadiusMeters = 200

// ErrInvalidStop marks a stop whose coordinates cannot be geofenced.
var ErrInvalidStop = errors.New("invalid stop coordinates")

// CheckStop reports whether a stop has usable coordinates. A stop at
// exactly 0,0 is treated as missing data.
func CheckStop(s transit.Stop) error {
	lat, lng := s.Latitude, s.Longitude
	switch {
	case math.IsNaN(lat) || math.IsNaN(lng) || math.IsInf(lat, 0) || math.IsInf(lng, 0):
		return fmt.Errorf("%w: %q is not finite", ErrInvalidStop, s.Name)
	case lat < -90 || lat > 90 || lng < -180 || lng > 180:
		return fmt.Errorf("%w: %q out of range (%f,%f)", ErrInvalidStop, s.Name, lat, lng)
	case lat == 0 && lng == 0:
		return fmt.Errorf("%w: %q has no coordinates", ErrInvalidStop, s.Name)
	}
	return nil
}

// Locate returns the name of the first stop, in the order given, whose
// radius contains current. Stops failing CheckStop are skipped. The second
// return value is false when the vehicle is between stops.
func Locate(current transit.LatLng, stops []transit.Stop, radiusMeters float64) (string, bool) {
	for _, s := range stops {
		if CheckStop(s) != nil {
			continue
		}
		if Haversine(current.Lat, current.Lng, s.Latitude, s.Longitude) <= radiusMeters {
			return s.Name, true
		}
	}
	return "", false
}

// InvalidStops returns one error per stop Locate would skip.
func InvalidStops(stops []transit.Stop) []error {
	var errs []error
	for _, s := range stops {
		if err := CheckStop(s); err != nil {
			errs = append(errs, err)
		}
	}
	return errs
}
