package transit

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	stopA = Stop{ID: "a", Name: "A", Latitude: 12.9716, Longitude: 77.5946}
	stopB = Stop{ID: "b", Name: "B", Latitude: 12.9750, Longitude: 77.6000}
	stopC = Stop{ID: "c", Name: "C", Latitude: 12.9800, Longitude: 77.6100}
)

func TestBuildRoute_AssignsIndices(t *testing.T) {
	r, err := BuildRoute(stopA, []Stop{stopB, stopC})
	require.NoError(t, err)
	require.Len(t, r, 3)

	assert.Equal(t, uint32(0), r["A"].Index)
	assert.Equal(t, uint32(1), r["B"].Index)
	assert.Equal(t, uint32(2), r["C"].Index)
	assert.Equal(t, "b", r["B"].StopID)
	assert.Equal(t, stopC.Latitude, r["C"].Latitude)
	assert.NoError(t, r.Validate())
}

func TestBuildRoute_NoWaypoints(t *testing.T) {
	r, err := BuildRoute(stopA, nil)
	require.NoError(t, err)
	require.Len(t, r, 1)
	assert.Equal(t, uint32(0), r["A"].Index)
}

func TestBuildRoute_Duplicates(t *testing.T) {
	tests := []struct {
		name      string
		waypoints []Stop
	}{
		{"waypoint equals destination", []Stop{stopB, stopA}},
		{"waypoint shares destination id", []Stop{{ID: "a", Name: "A-north"}}},
		{"waypoint repeated", []Stop{stopB, stopC, stopB}},
		{"waypoint without name", []Stop{{ID: "x"}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := BuildRoute(stopA, tt.waypoints)
			assert.ErrorIs(t, err, ErrInvalidRoute)
		})
	}
}

func TestRoute_ExactlyOneDestination(t *testing.T) {
	for n := 0; n < 6; n++ {
		var wps []Stop
		for i := 0; i < n; i++ {
			wps = append(wps, Stop{Name: string(rune('P' + i))})
		}
		r, err := BuildRoute(stopA, wps)
		require.NoError(t, err)

		zeros := 0
		for _, e := range r {
			if e.Index == 0 {
				zeros++
			}
		}
		assert.Equal(t, 1, zeros, "waypoints=%d", n)
	}
}

func TestRoute_Validate(t *testing.T) {
	assert.ErrorIs(t, Route{}.Validate(), ErrInvalidRoute)
	assert.ErrorIs(t, Route{"A": {Index: 1}}.Validate(), ErrInvalidRoute)
	assert.ErrorIs(t, Route{"A": {Index: 0}, "B": {Index: 0}}.Validate(), ErrInvalidRoute)
	assert.NoError(t, Route{"A": {Index: 0}, "C": {Index: 5}}.Validate())
}

func TestRoute_VisitOrderAndThrough(t *testing.T) {
	r, err := BuildRoute(stopA, []Stop{stopB, stopC})
	require.NoError(t, err)

	var names []string
	for _, e := range r.VisitOrder() {
		names = append(names, e.Name)
	}
	assert.Equal(t, []string{"C", "B", "A"}, names)

	names = names[:0]
	for _, e := range r.Through("B") {
		names = append(names, e.Name)
	}
	assert.Equal(t, []string{"C", "B"}, names)

	assert.Nil(t, r.Through("Z"))
	assert.Equal(t, []string{"C", "B"}, r.Waypoints())
}

func TestRoute_WithoutKeepsDestination(t *testing.T) {
	r, err := BuildRoute(stopA, []Stop{stopB, stopC})
	require.NoError(t, err)

	pruned := r.Without("B")
	assert.Len(t, pruned, 2)
	assert.Equal(t, uint32(2), pruned["C"].Index)
	assert.Len(t, r, 3, "receiver must not be mutated")

	assert.Len(t, pruned.Without("A"), 2)
	assert.NoError(t, pruned.Validate())
}

func TestRoute_PrefillRoundTrip(t *testing.T) {
	r, err := BuildRoute(stopA, []Stop{stopC, stopB})
	require.NoError(t, err)

	dest, wps, err := r.Prefill()
	require.NoError(t, err)
	assert.Equal(t, stopA, dest)
	assert.Equal(t, []Stop{stopC, stopB}, wps)

	again, err := BuildRoute(dest, wps)
	require.NoError(t, err)
	assert.Equal(t, r, again)

	_, _, err = Route{"B": {Index: 3}}.Prefill()
	assert.ErrorIs(t, err, ErrInvalidRoute)
}

func TestVehicleState_Clone(t *testing.T) {
	r, _ := BuildRoute(stopA, []Stop{stopB})
	v := VehicleState{VehicleID: "bus-1", Route: r, Coordinates: &Coordinates{Latitude: 1}}
	c := v.Clone()
	c.Coordinates.Latitude = 2
	delete(c.Route, "B")

	assert.Equal(t, 1.0, v.Coordinates.Latitude)
	assert.Len(t, v.Route, 2)
	assert.True(t, v.Active())
	assert.False(t, v.Claimed())
}
