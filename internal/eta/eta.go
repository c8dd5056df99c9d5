// Package eta turns routing-oracle answers into arrival estimates for riders.
package eta

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	mmetrics "busfleet/internal/metrics"
	"busfleet/internal/transit"
)

var (
	// ErrUnavailable means the oracle found no route or returned no legs.
	ErrUnavailable = errors.New("eta not available")
	// ErrTransport means the oracle could not be reached or its answer parsed.
	ErrTransport = errors.New("eta transport error")
)

// Placeholders shown in place of an estimate.
const (
	UnavailableText = "ETA not available"
	ErrorText       = "Error fetching ETA"
)

// Leg is one origin-to-waypoint segment of an oracle route.
type Leg struct {
	Duration time.Duration
}

// Oracle is an external routing service. It returns the legs of its best
// route from origin to destination passing through waypoints in order,
// or no legs when it has no route.
type Oracle interface {
	Directions(ctx context.Context, origin, destination transit.LatLng, waypoints []transit.LatLng) ([]Leg, error)
}

type Estimator struct {
	oracle  Oracle
	metrics *mmetrics.Collector
}

func NewEstimator(oracle Oracle, metrics *mmetrics.Collector) *Estimator {
	return &Estimator{oracle: oracle, metrics: metrics}
}

// Estimate returns the travel time from origin to target through the
// vehicle's remaining stops. orderedStops ends with target's stop; every
// stop before it is passed to the oracle as a waypoint.
func (e *Estimator) Estimate(ctx context.Context, origin transit.LatLng, orderedStops []transit.LatLng, target transit.LatLng) (time.Duration, error) {
	var waypoints []transit.LatLng
	if len(orderedStops) > 1 {
		waypoints = orderedStops[:len(orderedStops)-1]
	}

	start := time.Now()
	legs, err := e.oracle.Directions(ctx, origin, target, waypoints)
	if e.metrics != nil {
		e.metrics.OracleDuration.Observe(time.Since(start).Seconds())
	}
	if err != nil {
		if errors.Is(err, ErrUnavailable) {
			e.count("unavailable")
			return 0, err
		}
		e.count("transport")
		return 0, fmt.Errorf("%w: %v", ErrTransport, err)
	}
	if len(legs) == 0 {
		e.count("unavailable")
		return 0, ErrUnavailable
	}

	var total time.Duration
	for _, l := range legs {
		total += l.Duration
	}
	e.count("ok")
	return total, nil
}

func (e *Estimator) count(result string) {
	if e.metrics != nil {
		e.metrics.EtaRequests.WithLabelValues(result).Inc()
	}
}

// Minutes rounds d to whole minutes.
func Minutes(d time.Duration) int {
	return int(math.Round(d.Minutes()))
}

// Display renders an estimate or the placeholder for its error.
func Display(d time.Duration, err error) string {
	switch {
	case err == nil:
		return fmt.Sprintf("%d mins", Minutes(d))
	case errors.Is(err, ErrUnavailable):
		return UnavailableText
	default:
		return ErrorText
	}
}

// Stops lists the coordinates of route entries in visit order.
func Stops(entries []transit.NamedEntry) []transit.LatLng {
	out := make([]transit.LatLng, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.LatLng())
	}
	return out
}
