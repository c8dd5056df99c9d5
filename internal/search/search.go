// Package search answers rider queries: which active buses serve a stop
// pair and when each one gets there.
package search

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	"busfleet/internal/eta"
	"busfleet/internal/matcher"
	mmetrics "busfleet/internal/metrics"
	"busfleet/internal/store"
	"busfleet/internal/transit"
)

// ErrUnknownStop is returned when a query names a stop missing from the catalog.
var ErrUnknownStop = errors.New("unknown stop")

// maxOracleCalls bounds concurrent oracle requests per query.
const maxOracleCalls = 8

// Estimate is an ETA as shown to riders.
type Estimate struct {
	Available bool          `json:"available"`
	Minutes   int           `json:"minutes"`
	Text      string        `json:"text"`
	Duration  time.Duration `json:"-"`
}

func newEstimate(d time.Duration, err error) Estimate {
	return Estimate{
		Available: err == nil,
		Minutes:   eta.Minutes(d),
		Text:      eta.Display(d, err),
		Duration:  d,
	}
}

// Candidate is one bus in a result list.
type Candidate struct {
	VehicleID    string               `json:"vehicleId"`
	LocationName string               `json:"locationName,omitempty"`
	Coordinates  *transit.Coordinates `json:"coordinates,omitempty"`
	// Stops are the remaining route entries up to the rider's destination.
	Stops            []string  `json:"stops"`
	Through          bool      `json:"through"`
	EtaToSource      *Estimate `json:"etaToSource,omitempty"`
	EtaToDestination Estimate  `json:"etaToDestination"`
}

type Results struct {
	Source      string `json:"source,omitempty"`
	Destination string `json:"destination"`
	// Through lists buses that reach the source before the destination,
	// soonest at the source first.
	Through []Candidate `json:"through"`
	// DestinationOnly lists every bus whose route includes the destination,
	// soonest at the destination first.
	DestinationOnly []Candidate `json:"destinationOnly"`
}

type Service struct {
	catalog transit.Catalog
	store   store.Store
	est     *eta.Estimator
	metrics *mmetrics.Collector
}

func NewService(catalog transit.Catalog, st store.Store, est *eta.Estimator, metrics *mmetrics.Collector) *Service {
	return &Service{catalog: catalog, store: st, est: est, metrics: metrics}
}

func (s *Service) Catalog() transit.Catalog { return s.catalog }

// Search reads a snapshot of the fleet, matches it against the stop pair
// and estimates arrival times. A failed estimate affects only its own
// candidate. source may be empty.
func (s *Service) Search(ctx context.Context, source, destination string) (Results, error) {
	dst, ok := s.catalog.Find(destination)
	if !ok {
		return Results{}, fmt.Errorf("%w: %q", ErrUnknownStop, destination)
	}
	var src *transit.Stop
	if source != "" {
		st, ok := s.catalog.Find(source)
		if !ok {
			return Results{}, fmt.Errorf("%w: %q", ErrUnknownStop, source)
		}
		src = &st
	}
	if s.metrics != nil {
		s.metrics.Searches.Inc()
	}

	vehicles, err := s.store.List(ctx)
	if err != nil {
		return Results{}, err
	}
	byID := make(map[string]transit.VehicleState, len(vehicles))
	for _, v := range vehicles {
		byID[v.VehicleID] = v
	}
	m := matcher.Match(vehicles, src, dst)

	through := make(map[string]bool, len(m.ThroughBuses))
	for _, id := range m.ThroughBuses {
		through[id] = true
	}

	candidates := make([]Candidate, len(m.DestinationOnlyBuses))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxOracleCalls)
	for i, id := range m.DestinationOnlyBuses {
		i, v := i, byID[id]
		g.Go(func() error {
			candidates[i] = s.candidate(gctx, v, src, dst, through[v.VehicleID])
			return nil
		})
	}
	_ = g.Wait()

	res := Results{Destination: dst.Name, Through: []Candidate{}, DestinationOnly: candidates}
	if src != nil {
		res.Source = src.Name
	}
	for _, c := range candidates {
		if c.Through {
			res.Through = append(res.Through, c)
		}
	}
	sort.SliceStable(res.Through, func(i, j int) bool {
		return less(*res.Through[i].EtaToSource, *res.Through[j].EtaToSource, res.Through[i], res.Through[j])
	})
	sort.SliceStable(res.DestinationOnly, func(i, j int) bool {
		return less(res.DestinationOnly[i].EtaToDestination, res.DestinationOnly[j].EtaToDestination, res.DestinationOnly[i], res.DestinationOnly[j])
	})
	return res, nil
}

func (s *Service) candidate(ctx context.Context, v transit.VehicleState, src *transit.Stop, dst transit.Stop, isThrough bool) Candidate {
	remaining := v.Route.Through(dst.Name)
	c := Candidate{
		VehicleID:    v.VehicleID,
		LocationName: v.LocationName,
		Coordinates:  v.Coordinates,
		Through:      isThrough,
		Stops:        make([]string, 0, len(remaining)),
	}
	for _, e := range remaining {
		c.Stops = append(c.Stops, e.Name)
	}

	if v.Coordinates == nil {
		none := newEstimate(0, eta.ErrUnavailable)
		c.EtaToDestination = none
		if isThrough {
			c.EtaToSource = &none
		}
		return c
	}
	origin := v.Coordinates.LatLng()

	if isThrough {
		d, err := s.est.Estimate(ctx, origin, nil, src.LatLng())
		if err != nil {
			log.Printf("eta to %s for %s: %v", src.Name, v.VehicleID, err)
		}
		e := newEstimate(d, err)
		c.EtaToSource = &e
	}

	target := v.Route[dst.Name].LatLng()
	d, err := s.est.Estimate(ctx, origin, eta.Stops(remaining), target)
	if err != nil {
		log.Printf("eta to %s for %s: %v", dst.Name, v.VehicleID, err)
	}
	c.EtaToDestination = newEstimate(d, err)
	return c
}

// less orders by available estimate first, then shorter estimate, then fewer
// stops ahead, then id.
func less(a, b Estimate, ca, cb Candidate) bool {
	if a.Available != b.Available {
		return a.Available
	}
	if a.Available && a.Duration != b.Duration {
		return a.Duration < b.Duration
	}
	if len(ca.Stops) != len(cb.Stops) {
		return len(ca.Stops) < len(cb.Stops)
	}
	return ca.VehicleID < cb.VehicleID
}
