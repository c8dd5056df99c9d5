package tracker

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"

	"github.com/google/uuid"

	mmetrics "busfleet/internal/metrics"
	"busfleet/internal/store"
	"busfleet/internal/transit"
)

// Session is one driver's hold on at most one vehicle.
type Session struct {
	store   store.Store
	tracker *Publisher
	metrics *mmetrics.Collector

	driverID string

	mu        sync.Mutex
	vehicleID string
}

// NewSession binds a driver to the store. An empty driverID gets a fresh uuid.
func NewSession(st store.Store, tracker *Publisher, driverID string, metrics *mmetrics.Collector) *Session {
	if driverID == "" {
		driverID = uuid.NewString()
	}
	return &Session{store: st, tracker: tracker, metrics: metrics, driverID: driverID}
}

func (s *Session) DriverID() string { return s.driverID }

// Vehicle returns the claimed vehicle id, or "" when none is held.
func (s *Session) Vehicle() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.vehicleID
}

// Claim takes the vehicle's lock. A vehicle already held by this session
// is released first when a different one is claimed. Re-claiming the held
// vehicle checks the store, so a claim lost elsewhere is noticed.
func (s *Session) Claim(ctx context.Context, vehicleID string) error {
	s.mu.Lock()
	current := s.vehicleID
	s.mu.Unlock()

	v, err := s.store.Get(ctx, vehicleID)
	if err != nil {
		return err
	}
	if current == vehicleID {
		if v.DriverID == s.driverID {
			return nil
		}
		log.Printf("driver %s: claim on vehicle %s was lost", s.driverID, vehicleID)
		s.tracker.Stop()
		s.mu.Lock()
		s.vehicleID = ""
		s.mu.Unlock()
		current = ""
	}
	if v.Claimed() && v.DriverID != s.driverID {
		s.conflict(vehicleID)
		return fmt.Errorf("%w: %s", store.ErrClaimConflict, vehicleID)
	}

	if current != "" {
		if err := s.Release(ctx); err != nil {
			return fmt.Errorf("release %s before claiming %s: %w", current, vehicleID, err)
		}
	}

	if err := s.store.Claim(ctx, vehicleID, s.driverID); err != nil {
		if errors.Is(err, store.ErrClaimConflict) {
			s.conflict(vehicleID)
		}
		return err
	}
	s.mu.Lock()
	s.vehicleID = vehicleID
	s.mu.Unlock()
	log.Printf("driver %s claimed vehicle %s", s.driverID, vehicleID)
	return nil
}

// PublishRoute replaces the claimed vehicle's route in one write, before
// or during a trip. Riders never see the vehicle without a route.
func (s *Session) PublishRoute(ctx context.Context, route transit.Route) error {
	vehicleID := s.Vehicle()
	if vehicleID == "" {
		return fmt.Errorf("%w: no vehicle claimed", ErrPrecondition)
	}
	return s.tracker.ReplaceRoute(ctx, vehicleID, s.driverID, route)
}

// StartTrip publishes the route for the claimed vehicle and starts tracking.
func (s *Session) StartTrip(ctx context.Context, route transit.Route) error {
	vehicleID := s.Vehicle()
	if vehicleID == "" {
		return fmt.Errorf("%w: no vehicle claimed", ErrPrecondition)
	}
	return s.tracker.Start(ctx, vehicleID, s.driverID, route)
}

// EndTrip stops tracking and clears the published route; the claim is kept.
func (s *Session) EndTrip(ctx context.Context) {
	s.tracker.EndTrip(ctx)
}

// Release ends any running trip and then drops the claim, clearing
// coordinates and route with it.
func (s *Session) Release(ctx context.Context) error {
	vehicleID := s.Vehicle()
	if vehicleID == "" {
		return nil
	}
	s.tracker.EndTrip(ctx)
	if err := s.store.Release(ctx, vehicleID, s.driverID); err != nil {
		return err
	}
	s.mu.Lock()
	s.vehicleID = ""
	s.mu.Unlock()
	log.Printf("driver %s released vehicle %s", s.driverID, vehicleID)
	return nil
}

func (s *Session) conflict(vehicleID string) {
	log.Printf("driver %s: vehicle %s is locked by another driver", s.driverID, vehicleID)
	if s.metrics != nil {
		s.metrics.ClaimConflicts.Inc()
	}
}
