package tracker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"busfleet/internal/device"
	"busfleet/internal/publisher"
	"busfleet/internal/store"
	"busfleet/internal/transit"
)

var (
	terminus = transit.Stop{ID: "t", Name: "Terminus", Latitude: 12.9716, Longitude: 77.5946}
	market   = transit.Stop{ID: "m", Name: "Market", Latitude: 12.9800, Longitude: 77.6000}
	school   = transit.Stop{ID: "s", Name: "School", Latitude: 12.9900, Longitude: 77.6100}
	nowhere  = transit.LatLng{Lat: 13.2, Lng: 77.9}
)

// scripted replays fixes in order and repeats the last one.
type scripted struct {
	mu   sync.Mutex
	pts  []transit.LatLng
	errs []error
	n    int
}

func (s *scripted) CurrentPosition(ctx context.Context) (transit.Coordinates, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.n
	s.n++
	if i < len(s.errs) && s.errs[i] != nil {
		return transit.Coordinates{}, s.errs[i]
	}
	if i >= len(s.pts) {
		i = len(s.pts) - 1
	}
	p := s.pts[i]
	return transit.Coordinates{Latitude: p.Lat, Longitude: p.Lng, Timestamp: time.Unix(int64(1700000000+i), 0).UTC()}, nil
}

type recorder struct {
	mu        sync.Mutex
	positions []publisher.PositionMessage
	arrivals  []publisher.ArrivalMessage
}

func (r *recorder) PublishPosition(m publisher.PositionMessage) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.positions = append(r.positions, m)
	return nil
}

func (r *recorder) PublishArrival(m publisher.ArrivalMessage) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.arrivals = append(r.arrivals, m)
	return nil
}

func setup(t *testing.T, dev device.Provider, events Events) (*store.Memory, *Publisher, transit.Route) {
	t.Helper()
	st := store.NewMemory()
	ctx := context.Background()
	require.NoError(t, st.Register(ctx, "bus-1"))
	require.NoError(t, st.Claim(ctx, "bus-1", "driver-1"))
	route, err := transit.BuildRoute(terminus, []transit.Stop{market, school})
	require.NoError(t, err)
	// long interval: tests drive ticks by hand
	p := New(st, dev, events, nil, time.Hour, 200)
	return st, p, route
}

func TestStart_Preconditions(t *testing.T) {
	st, p, route := setup(t, &scripted{pts: []transit.LatLng{nowhere}}, nil)
	ctx := context.Background()

	assert.ErrorIs(t, p.Start(ctx, "bus-1", "driver-1", nil), ErrPrecondition)
	assert.ErrorIs(t, p.Start(ctx, "bus-1", "driver-1", transit.Route{"X": {Index: 2}}), ErrPrecondition)
	assert.ErrorIs(t, p.Start(ctx, "bus-1", "driver-2", route), ErrPrecondition)

	require.NoError(t, st.Register(ctx, "bus-2"))
	assert.ErrorIs(t, p.Start(ctx, "bus-2", "driver-1", route), ErrPrecondition, "unclaimed vehicle")
	assert.ErrorIs(t, p.Start(ctx, "bus-9", "driver-1", route), store.ErrNotFound)
	assert.Equal(t, Idle, p.State())

	require.NoError(t, p.Start(ctx, "bus-1", "driver-1", route))
	defer p.Stop()
	assert.Equal(t, Tracking, p.State())
	assert.ErrorIs(t, p.Start(ctx, "bus-1", "driver-1", route), ErrPrecondition, "already tracking")

	v, err := st.Get(ctx, "bus-1")
	require.NoError(t, err)
	assert.Equal(t, route, v.Route, "route is published on start")
}

func TestTick_PublishesAndPrunes(t *testing.T) {
	dev := &scripted{pts: []transit.LatLng{nowhere, school.LatLng(), school.LatLng(), market.LatLng(), terminus.LatLng()}}
	events := &recorder{}
	st, p, route := setup(t, dev, events)
	ctx := context.Background()
	require.NoError(t, p.Start(ctx, "bus-1", "driver-1", route))
	defer p.Stop()

	require.True(t, p.Tick(ctx))
	v, _ := st.Get(ctx, "bus-1")
	require.NotNil(t, v.Coordinates)
	assert.Equal(t, nowhere.Lat, v.Coordinates.Latitude)
	assert.Empty(t, v.LocationName)
	assert.Equal(t, "", p.CurrentLocation())

	p.Tick(ctx)
	v, _ = st.Get(ctx, "bus-1")
	assert.Equal(t, "School", v.LocationName)
	assert.NotContains(t, v.Route, "School", "visited waypoint is pruned")
	assert.Equal(t, uint32(1), v.Route["Market"].Index, "indices are kept")
	assert.Equal(t, "School", p.CurrentLocation())

	p.Tick(ctx) // still at School: no second arrival
	assert.Equal(t, "School", p.CurrentLocation(), "pruned stops still name the location")
	p.Tick(ctx)
	p.Tick(ctx)
	v, _ = st.Get(ctx, "bus-1")
	assert.Equal(t, "Terminus", v.LocationName)
	require.Len(t, v.Route, 1)
	assert.Contains(t, v.Route, "Terminus", "destination is never pruned")
	assert.Equal(t, v.Route, p.Route())

	events.mu.Lock()
	defer events.mu.Unlock()
	require.Len(t, events.arrivals, 3)
	assert.Equal(t, "School", events.arrivals[0].Stop)
	assert.Equal(t, "Market", events.arrivals[1].Stop)
	assert.True(t, events.arrivals[2].Final)
	assert.Len(t, events.positions, 5)
}

func TestTick_FailuresAreNonFatal(t *testing.T) {
	noFix := device.ErrNoFix
	dev := &scripted{
		pts:  []transit.LatLng{nowhere},
		errs: []error{noFix, noFix, noFix, noFix, noFix, noFix},
	}
	st, p, route := setup(t, dev, nil)
	ctx := context.Background()
	require.NoError(t, p.Start(ctx, "bus-1", "driver-1", route))
	defer p.Stop()

	for i := 0; i < 6; i++ {
		p.Tick(ctx)
	}
	assert.Equal(t, 6, p.Failures())
	assert.Equal(t, Tracking, p.State())

	st.FailWrites(func(string) error { return errors.New("network down") })
	p.Tick(ctx)
	assert.Equal(t, 7, p.Failures())

	st.FailWrites(nil)
	p.Tick(ctx)
	assert.Equal(t, 0, p.Failures())
	v, _ := st.Get(ctx, "bus-1")
	assert.NotNil(t, v.Coordinates, "next tick publishes after the outage")
}

func TestTick_RepublishesPruneAfterOutage(t *testing.T) {
	dev := &scripted{pts: []transit.LatLng{school.LatLng(), nowhere}}
	st, p, route := setup(t, dev, nil)
	ctx := context.Background()
	require.NoError(t, p.Start(ctx, "bus-1", "driver-1", route))
	defer p.Stop()

	st.FailWrites(func(string) error { return errors.New("network down") })
	p.Tick(ctx)
	assert.NotContains(t, p.Route(), "School")

	st.FailWrites(nil)
	p.Tick(ctx)
	v, _ := st.Get(ctx, "bus-1")
	assert.NotContains(t, v.Route, "School")
}

func TestTick_SkipsWhileBusy(t *testing.T) {
	entered := make(chan struct{})
	unblock := make(chan struct{})
	dev := device.ProviderFunc(func(ctx context.Context) (transit.Coordinates, error) {
		entered <- struct{}{}
		<-unblock
		return transit.Coordinates{Latitude: nowhere.Lat, Longitude: nowhere.Lng}, nil
	})
	_, p, route := setup(t, dev, nil)
	ctx := context.Background()
	require.NoError(t, p.Start(ctx, "bus-1", "driver-1", route))
	defer p.Stop()

	first := make(chan bool)
	go func() { first <- p.Tick(ctx) }()
	<-entered
	assert.False(t, p.Tick(ctx), "overlapping tick is skipped")
	close(unblock)
	assert.True(t, <-first)
}

func TestLoop_TicksOnInterval(t *testing.T) {
	st := store.NewMemory()
	ctx := context.Background()
	require.NoError(t, st.Register(ctx, "bus-1"))
	require.NoError(t, st.Claim(ctx, "bus-1", "driver-1"))
	route, err := transit.BuildRoute(terminus, nil)
	require.NoError(t, err)

	p := New(st, &scripted{pts: []transit.LatLng{terminus.LatLng()}}, nil, nil, 10*time.Millisecond, 200)
	require.NoError(t, p.Start(ctx, "bus-1", "driver-1", route))

	assert.Eventually(t, func() bool {
		v, _ := st.Get(ctx, "bus-1")
		return v.LocationName == "Terminus"
	}, 2*time.Second, 10*time.Millisecond)

	p.Stop()
	p.Stop()
	assert.Equal(t, Idle, p.State())
}

func TestLoop_StopsWithContext(t *testing.T) {
	_, p, route := setup(t, &scripted{pts: []transit.LatLng{nowhere}}, nil)
	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, p.Start(ctx, "bus-1", "driver-1", route))
	cancel()
	assert.Eventually(t, func() bool { return p.State() == Idle }, time.Second, 5*time.Millisecond)
	p.Stop()
}

func TestEndTrip_ClearsRoute(t *testing.T) {
	st, p, route := setup(t, &scripted{pts: []transit.LatLng{nowhere}}, nil)
	ctx := context.Background()
	require.NoError(t, p.Start(ctx, "bus-1", "driver-1", route))
	p.Tick(ctx)

	p.EndTrip(ctx)
	assert.Equal(t, Idle, p.State())
	assert.Nil(t, p.Route())
	v, _ := st.Get(ctx, "bus-1")
	assert.False(t, v.Active())
	assert.Equal(t, "driver-1", v.DriverID, "ending a trip keeps the claim")

	p.EndTrip(ctx)
}

func TestEndTrip_CleanupFailureIsSwallowed(t *testing.T) {
	st, p, route := setup(t, &scripted{pts: []transit.LatLng{nowhere}}, nil)
	ctx := context.Background()
	require.NoError(t, p.Start(ctx, "bus-1", "driver-1", route))

	st.FailWrites(func(string) error { return errors.New("network down") })
	p.EndTrip(ctx)
	assert.Equal(t, Idle, p.State())

	st.FailWrites(nil)
	v, _ := st.Get(ctx, "bus-1")
	assert.True(t, v.Active(), "stale route stays until the claim is released")
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "idle", Idle.String())
	assert.Equal(t, "tracking", Tracking.String())
}

func TestReplaceRoute_MidTripNeverLeavesVehicleRouteless(t *testing.T) {
	dev := &scripted{pts: []transit.LatLng{nowhere, school.LatLng(), market.LatLng()}}
	events := &recorder{}
	st, p, route := setup(t, dev, events)
	ctx := context.Background()
	require.NoError(t, p.Start(ctx, "bus-1", "driver-1", route))
	defer p.Stop()

	watchCtx, cancelWatch := context.WithCancel(ctx)
	updates, err := st.Watch(watchCtx, "bus-1")
	require.NoError(t, err)

	p.Tick(ctx)
	replacement, err := transit.BuildRoute(market, []transit.Stop{school})
	require.NoError(t, err)
	require.NoError(t, p.ReplaceRoute(ctx, "bus-1", "driver-1", replacement))
	assert.Equal(t, Tracking, p.State(), "trip keeps running")
	assert.Equal(t, replacement, p.Route())

	p.Tick(ctx) // at School, now a waypoint of the new route
	p.Tick(ctx) // at Market, the new destination
	v, _ := st.Get(ctx, "bus-1")
	assert.Equal(t, transit.Route{"Market": replacement["Market"]}, v.Route)
	assert.Equal(t, "Market", v.LocationName)

	cancelWatch()
	seen := 0
	for state := range updates {
		seen++
		assert.NotEmpty(t, state.Route, "update %d dropped the route", seen)
	}
	assert.Greater(t, seen, 3)

	events.mu.Lock()
	defer events.mu.Unlock()
	require.Len(t, events.arrivals, 2)
	assert.True(t, events.arrivals[1].Final, "Market is the destination after the replacement")
}

func TestReplaceRoute_WhileIdle(t *testing.T) {
	st, p, route := setup(t, &scripted{pts: []transit.LatLng{nowhere}}, nil)
	ctx := context.Background()

	require.NoError(t, p.ReplaceRoute(ctx, "bus-1", "driver-1", route))
	assert.Equal(t, Idle, p.State())
	v, _ := st.Get(ctx, "bus-1")
	assert.Equal(t, route, v.Route)

	assert.ErrorIs(t, p.ReplaceRoute(ctx, "bus-1", "driver-2", route), store.ErrNotClaimed)
	assert.ErrorIs(t, p.ReplaceRoute(ctx, "bus-1", "driver-1", nil), ErrPrecondition)

	p.EndTrip(ctx)
	v, _ = st.Get(ctx, "bus-1")
	assert.False(t, v.Active(), "ending clears a route published before the trip")
}

func TestReplaceRoute_OtherVehicleWhileTracking(t *testing.T) {
	st, p, route := setup(t, &scripted{pts: []transit.LatLng{nowhere}}, nil)
	ctx := context.Background()
	require.NoError(t, st.Register(ctx, "bus-2"))
	require.NoError(t, st.Claim(ctx, "bus-2", "driver-1"))
	require.NoError(t, p.Start(ctx, "bus-1", "driver-1", route))
	defer p.Stop()

	assert.ErrorIs(t, p.ReplaceRoute(ctx, "bus-2", "driver-1", route), ErrPrecondition)
	v, _ := st.Get(ctx, "bus-2")
	assert.False(t, v.Active())
}

// slowStore blocks Get until release is closed.
type slowStore struct {
	*store.Memory
	entered chan struct{}
	release chan struct{}
}

func (s *slowStore) Get(ctx context.Context, vehicleID string) (transit.VehicleState, error) {
	s.entered <- struct{}{}
	<-s.release
	return s.Memory.Get(ctx, vehicleID)
}

func TestStart_StoreCallsDoNotBlockReaders(t *testing.T) {
	mem := store.NewMemory()
	ctx := context.Background()
	require.NoError(t, mem.Register(ctx, "bus-1"))
	require.NoError(t, mem.Claim(ctx, "bus-1", "driver-1"))
	route, err := transit.BuildRoute(terminus, []transit.Stop{market})
	require.NoError(t, err)

	st := &slowStore{Memory: mem, entered: make(chan struct{}), release: make(chan struct{})}
	p := New(st, &scripted{pts: []transit.LatLng{nowhere}}, nil, nil, time.Hour, 200)

	started := make(chan error)
	go func() { started <- p.Start(ctx, "bus-1", "driver-1", route) }()
	<-st.entered

	read := make(chan State)
	go func() {
		p.Stop()
		read <- p.State()
	}()
	select {
	case s := <-read:
		assert.Equal(t, Idle, s)
	case <-time.After(time.Second):
		t.Fatal("State blocked behind a store call")
	}

	close(st.release)
	require.NoError(t, <-started)
	assert.Equal(t, Tracking, p.State())
	p.Stop()
}
