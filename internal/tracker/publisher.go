// Package tracker runs the driver side: claiming a vehicle and the
// periodic loop that publishes its position and prunes visited waypoints.
package tracker

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"busfleet/internal/device"
	"busfleet/internal/geofence"
	mmetrics "busfleet/internal/metrics"
	"busfleet/internal/publisher"
	"busfleet/internal/store"
	"busfleet/internal/transit"
)

// ErrPrecondition is returned when an operation is attempted in the wrong state.
var ErrPrecondition = errors.New("precondition failed")

// DefaultInterval is the tick period used when none is configured.
const DefaultInterval = 2 * time.Second

// escalateAfter is the failure streak that produces a single loud log line.
const escalateAfter = 5

type State int

const (
	Idle State = iota
	Tracking
)

func (s State) String() string {
	if s == Tracking {
		return "tracking"
	}
	return "idle"
}

// Events receives position and arrival events. It may be nil.
type Events interface {
	PublishPosition(msg publisher.PositionMessage) error
	PublishArrival(msg publisher.ArrivalMessage) error
}

// Publisher is the location-publishing loop for one driver session.
type Publisher struct {
	store    store.Store
	device   device.Provider
	events   Events
	metrics  *mmetrics.Collector
	interval time.Duration
	radius   float64

	busy atomic.Bool
	// writes serializes store writes from ticks, Start, ReplaceRoute and
	// EndTrip. mu is only ever taken inside it.
	writes sync.Mutex

	mu           sync.Mutex
	state        State
	vehicleID    string
	driverID     string
	route        transit.Route
	fence        *geofence.Index // every stop of the trip, pruned or not
	routeDirty   bool
	locationName string
	failures     int
	cancel       context.CancelFunc
	done         chan struct{}
}

func New(st store.Store, dev device.Provider, events Events, metrics *mmetrics.Collector, interval time.Duration, radiusMeters float64) *Publisher {
	if interval <= 0 {
		interval = DefaultInterval
	}
	if radiusMeters <= 0 {
		radiusMeters = geofence.DefaultRadiusMeters
	}
	return &Publisher{
		store:    st,
		device:   dev,
		events:   events,
		metrics:  metrics,
		interval: interval,
		radius:   radiusMeters,
	}
}

// Start publishes the route and begins ticking. The vehicle must already be
// claimed by driverID. The loop runs until Stop, EndTrip or ctx is done.
func (p *Publisher) Start(ctx context.Context, vehicleID, driverID string, route transit.Route) error {
	if len(route) == 0 {
		return fmt.Errorf("%w: no route set", ErrPrecondition)
	}
	if err := route.Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrPrecondition, err)
	}

	p.writes.Lock()
	defer p.writes.Unlock()
	if err := p.checkIdle(); err != nil {
		return err
	}
	v, err := p.store.Get(ctx, vehicleID)
	if err != nil {
		return err
	}
	if driverID == "" || v.DriverID != driverID {
		return fmt.Errorf("%w: vehicle %s is not claimed by this session", ErrPrecondition, vehicleID)
	}
	if err := p.store.SetRoute(ctx, vehicleID, driverID, route); err != nil {
		return err
	}

	stops := routeStops(route)
	for _, err := range geofence.InvalidStops(stops) {
		log.Printf("vehicle %s: skipping stop in geofence: %v", vehicleID, err)
	}
	fence := geofence.NewIndex(stops, p.radius)

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state == Tracking {
		return fmt.Errorf("%w: already tracking %s", ErrPrecondition, p.vehicleID)
	}
	p.vehicleID, p.driverID = vehicleID, driverID
	p.route = route.Clone()
	p.fence = fence
	p.routeDirty = false
	p.locationName = ""
	p.failures = 0
	p.state = Tracking

	loopCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.done = make(chan struct{})
	if p.metrics != nil {
		p.metrics.TrackingActive.Set(1)
		p.metrics.TickFailuresConsecutive.Set(0)
	}

	log.Printf("tracking vehicle %s with %d stops every %s", vehicleID, len(route), p.interval)
	go p.run(loopCtx, p.done)
	return nil
}

func (p *Publisher) checkIdle() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state == Tracking {
		return fmt.Errorf("%w: already tracking %s", ErrPrecondition, p.vehicleID)
	}
	return nil
}

// ReplaceRoute publishes route as the vehicle's whole route in one write.
// While tracking it must name the tracked vehicle, and the running trip
// continues on the new route. While idle it only publishes, so a route can
// go out before the trip starts; EndTrip clears it.
func (p *Publisher) ReplaceRoute(ctx context.Context, vehicleID, driverID string, route transit.Route) error {
	if len(route) == 0 {
		return fmt.Errorf("%w: no route set", ErrPrecondition)
	}
	if err := route.Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrPrecondition, err)
	}

	p.writes.Lock()
	defer p.writes.Unlock()

	p.mu.Lock()
	tracking := p.state == Tracking
	current := p.vehicleID
	p.mu.Unlock()
	if tracking && current != vehicleID {
		return fmt.Errorf("%w: tracking %s, not %s", ErrPrecondition, current, vehicleID)
	}

	if err := p.store.SetRoute(ctx, vehicleID, driverID, route); err != nil {
		return err
	}
	stops := routeStops(route)
	for _, err := range geofence.InvalidStops(stops) {
		log.Printf("vehicle %s: skipping stop in geofence: %v", vehicleID, err)
	}

	p.mu.Lock()
	p.vehicleID, p.driverID = vehicleID, driverID
	p.route = route.Clone()
	p.fence = geofence.NewIndex(stops, p.radius)
	p.routeDirty = false
	p.mu.Unlock()
	log.Printf("vehicle %s: route replaced, %d stops", vehicleID, len(route))
	return nil
}

func (p *Publisher) run(ctx context.Context, done chan struct{}) {
	defer close(done)
	defer func() {
		p.mu.Lock()
		p.state = Idle
		p.cancel = nil
		p.mu.Unlock()
		if p.metrics != nil {
			p.metrics.TrackingActive.Set(0)
		}
	}()

	tick := time.NewTicker(p.interval)
	defer tick.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-tick.C:
			p.Tick(ctx)
			// a tick that came due while we were busy is dropped, not queued
			select {
			case <-tick.C:
				p.skipped()
			default:
			}
		}
	}
}

// Stop cancels the loop and waits for the in-flight tick to finish.
// Calling it while idle does nothing.
func (p *Publisher) Stop() {
	p.mu.Lock()
	cancel, done := p.cancel, p.done
	p.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
	log.Printf("stopped tracking vehicle %s", p.VehicleID())
}

// EndTrip stops the loop and clears the vehicle's published route. The
// removal is best effort: a failure is logged and counted, not returned.
func (p *Publisher) EndTrip(ctx context.Context) {
	p.Stop()

	p.writes.Lock()
	defer p.writes.Unlock()

	p.mu.Lock()
	vehicleID, driverID := p.vehicleID, p.driverID
	hadRoute := p.route != nil
	p.route = nil
	p.fence = nil
	p.routeDirty = false
	p.locationName = ""
	p.mu.Unlock()
	if vehicleID == "" || !hadRoute {
		return
	}

	if err := p.store.RemoveRoute(ctx, vehicleID, driverID); err != nil {
		log.Printf("vehicle %s: clearing route failed: %v", vehicleID, err)
		if p.metrics != nil {
			p.metrics.CleanupErrors.Inc()
		}
		return
	}
	log.Printf("vehicle %s: trip ended, route cleared", vehicleID)
}

// Tick runs one sample, publish and geofence pass. It returns false without
// doing anything when another tick is still in flight.
func (p *Publisher) Tick(ctx context.Context) bool {
	if !p.busy.CompareAndSwap(false, true) {
		p.skipped()
		return false
	}
	defer p.busy.Store(false)
	p.writes.Lock()
	defer p.writes.Unlock()

	start := time.Now()
	ok := p.tick(ctx)
	if p.metrics != nil {
		p.metrics.Ticks.Inc()
		p.metrics.TickDuration.Observe(time.Since(start).Seconds())
	}
	p.recordOutcome(ok)
	return true
}

func (p *Publisher) tick(ctx context.Context) bool {
	p.mu.Lock()
	vehicleID, driverID := p.vehicleID, p.driverID
	route, fence, dirty := p.route, p.fence, p.routeDirty
	tracking := p.state == Tracking
	p.mu.Unlock()
	if !tracking || route == nil {
		return true
	}

	fix, err := p.device.CurrentPosition(ctx)
	if err != nil {
		log.Printf("vehicle %s: no position fix: %v", vehicleID, err)
		p.stageFailed("fix")
		return false
	}

	name, inside := fence.Locate(fix.LatLng())
	ok := true

	if err := p.store.SetCoordinates(ctx, vehicleID, driverID, fix, name); err != nil {
		log.Printf("vehicle %s: publish coordinates: %v", vehicleID, err)
		p.stageFailed("coordinates")
		ok = false
	}
	if p.events != nil {
		err := p.events.PublishPosition(publisher.PositionMessage{
			VehicleID:    vehicleID,
			DriverID:     driverID,
			Timestamp:    fix.Timestamp,
			Lat:          fix.Latitude,
			Lon:          fix.Longitude,
			LocationName: name,
		})
		if err != nil {
			log.Printf("vehicle %s: position event: %v", vehicleID, err)
		}
	}

	p.mu.Lock()
	previous := p.locationName
	p.locationName = name
	p.mu.Unlock()

	e, pending := route[name]
	if inside && pending && name != previous {
		p.arrived(vehicleID, name, e, fix.Timestamp)
	}

	if inside && pending && e.Index != 0 {
		route = route.Without(name)
		p.mu.Lock()
		p.route = route
		p.routeDirty = true
		p.mu.Unlock()
		dirty = true
		log.Printf("vehicle %s: waypoint %s visited, %d stops left", vehicleID, name, len(route))
		if p.metrics != nil {
			p.metrics.WaypointsDone.Inc()
		}
	}

	if dirty {
		if err := p.store.SetRoute(ctx, vehicleID, driverID, route); err != nil {
			log.Printf("vehicle %s: republish route: %v", vehicleID, err)
			p.stageFailed("route")
			return false
		}
		p.mu.Lock()
		// only clear when no newer prune landed meanwhile
		if len(p.route) == len(route) {
			p.routeDirty = false
		}
		p.mu.Unlock()
	}
	return ok
}

func (p *Publisher) arrived(vehicleID, name string, e transit.RouteEntry, at time.Time) {
	final := e.Index == 0
	if final {
		log.Printf("vehicle %s: arrived at destination %s", vehicleID, name)
	} else {
		log.Printf("vehicle %s: arrived at %s", vehicleID, name)
	}
	if p.metrics != nil {
		p.metrics.Arrivals.Inc()
	}
	if p.events == nil {
		return
	}
	err := p.events.PublishArrival(publisher.ArrivalMessage{
		VehicleID: vehicleID,
		Stop:      name,
		Index:     e.Index,
		Final:     final,
		Timestamp: at,
	})
	if err != nil {
		log.Printf("vehicle %s: arrival event: %v", vehicleID, err)
	}
}

func (p *Publisher) recordOutcome(ok bool) {
	p.mu.Lock()
	if ok {
		p.failures = 0
	} else {
		p.failures++
	}
	n := p.failures
	vehicleID := p.vehicleID
	p.mu.Unlock()

	if p.metrics != nil {
		p.metrics.TickFailuresConsecutive.Set(float64(n))
	}
	if n == escalateAfter {
		log.Printf("ALERT vehicle %s: %d consecutive ticks failed, positions are not reaching riders", vehicleID, n)
	}
}

func (p *Publisher) stageFailed(stage string) {
	if p.metrics != nil {
		p.metrics.TickErrors.WithLabelValues(stage).Inc()
	}
}

func (p *Publisher) skipped() {
	if p.metrics != nil {
		p.metrics.TicksSkipped.Inc()
	}
}

func (p *Publisher) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

func (p *Publisher) VehicleID() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.vehicleID
}

// CurrentLocation is the stop the last tick found the vehicle inside, or "".
func (p *Publisher) CurrentLocation() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.locationName
}

// Route returns the pending route, or nil when no trip is running.
func (p *Publisher) Route() transit.Route {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.route.Clone()
}

// Failures is the current streak of failed ticks.
func (p *Publisher) Failures() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.failures
}

// routeStops lists the route's stops in visit order, which is the order
// the geofence resolves overlaps in.
func routeStops(r transit.Route) []transit.Stop {
	order := r.VisitOrder()
	stops := make([]transit.Stop, 0, len(order))
	for _, e := range order {
		stops = append(stops, e.Stop())
	}
	return stops
}
