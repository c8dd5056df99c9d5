package geofence

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"busfleet/internal/transit"
)

// metersNorth offsets a latitude by roughly m meters.
func metersNorth(lat, m float64) float64 { return lat + m/degToMeters }

func TestHaversine(t *testing.T) {
	tests := []struct {
		name       string
		lat1, lon1 float64
		lat2, lon2 float64
		want       float64
		tolerance  float64
	}{
		{"same point", 12.9716, 77.5946, 12.9716, 77.5946, 0, 0},
		{"London to Paris", 51.5074, -0.1278, 48.8566, 2.3522, 343_500, 0.01},
		{"short hop", 1.3521, 103.8198, 1.3530, 103.8198, 100, 0.05},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Haversine(tt.lat1, tt.lon1, tt.lat2, tt.lon2)
			if tt.want == 0 {
				assert.Zero(t, got)
				return
			}
			assert.InEpsilon(t, tt.want, got, tt.tolerance)
		})
	}
}

func TestLocate_PicksStopInsideRadius(t *testing.T) {
	here := transit.LatLng{Lat: 12.9716, Lng: 77.5946}
	stops := []transit.Stop{
		{Name: "Gate-1", Latitude: metersNorth(here.Lat, 500), Longitude: here.Lng},
		{Name: "Gate-3", Latitude: metersNorth(here.Lat, 50), Longitude: here.Lng},
	}
	name, ok := Locate(here, stops, DefaultRadiusMeters)
	require.True(t, ok)
	assert.Equal(t, "Gate-3", name)
}

func TestLocate_None(t *testing.T) {
	here := transit.LatLng{Lat: 12.9716, Lng: 77.5946}

	_, ok := Locate(here, nil, DefaultRadiusMeters)
	assert.False(t, ok, "empty stop set")

	far := []transit.Stop{
		{Name: "Far", Latitude: metersNorth(here.Lat, 250), Longitude: here.Lng},
		{Name: "Farther", Latitude: metersNorth(here.Lat, 5000), Longitude: here.Lng},
	}
	_, ok = Locate(here, far, DefaultRadiusMeters)
	assert.False(t, ok, "all stops outside the radius")
}

func TestLocate_FirstMatchInOrder(t *testing.T) {
	here := transit.LatLng{Lat: 12.9716, Lng: 77.5946}
	stops := []transit.Stop{
		{Name: "Outer", Latitude: metersNorth(here.Lat, 150), Longitude: here.Lng},
		{Name: "Inner", Latitude: metersNorth(here.Lat, 10), Longitude: here.Lng},
	}
	name, ok := Locate(here, stops, DefaultRadiusMeters)
	require.True(t, ok)
	assert.Equal(t, "Outer", name, "tie-break is supplied order, not nearest")
}

func TestLocate_SkipsInvalidStops(t *testing.T) {
	here := transit.LatLng{Lat: 12.9716, Lng: 77.5946}
	stops := []transit.Stop{
		{Name: "Blank"},
		{Name: "NaN", Latitude: math.NaN(), Longitude: here.Lng},
		{Name: "Valid", Latitude: metersNorth(here.Lat, 20), Longitude: here.Lng},
	}
	name, ok := Locate(here, stops, DefaultRadiusMeters)
	require.True(t, ok)
	assert.Equal(t, "Valid", name)

	errs := InvalidStops(stops)
	require.Len(t, errs, 2)
	for _, err := range errs {
		assert.ErrorIs(t, err, ErrInvalidStop)
	}
}

func TestCheckStop(t *testing.T) {
	assert.NoError(t, CheckStop(transit.Stop{Name: "ok", Latitude: 1, Longitude: 1}))
	assert.ErrorIs(t, CheckStop(transit.Stop{Name: "lat", Latitude: 91, Longitude: 1}), ErrInvalidStop)
	assert.ErrorIs(t, CheckStop(transit.Stop{Name: "inf", Latitude: 1, Longitude: math.Inf(1)}), ErrInvalidStop)
	assert.ErrorIs(t, CheckStop(transit.Stop{Name: "unset"}), ErrInvalidStop)
	// one zero coordinate is a real place: the equator or the prime meridian
	assert.NoError(t, CheckStop(transit.Stop{Name: "equator", Latitude: 0, Longitude: 32.58}))
	assert.NoError(t, CheckStop(transit.Stop{Name: "greenwich", Latitude: 51.48, Longitude: 0}))
}

func TestIndex_MatchesLinearScan(t *testing.T) {
	base := transit.LatLng{Lat: 12.9716, Lng: 77.5946}
	var stops []transit.Stop
	for i := 0; i < 40; i++ {
		stops = append(stops, transit.Stop{
			Name:      string(rune('a'+i%26)) + string(rune('0'+i/26)),
			Latitude:  metersNorth(base.Lat, float64(i)*90),
			Longitude: base.Lng + float64(i%3)*0.001,
		})
	}
	idx := NewIndex(stops, DefaultRadiusMeters)
	assert.Equal(t, 40, idx.Len())

	for m := -300.0; m < 4000; m += 37 {
		p := transit.LatLng{Lat: metersNorth(base.Lat, m), Lng: base.Lng + 0.0004}
		wantName, wantOK := Locate(p, stops, DefaultRadiusMeters)
		gotName, gotOK := idx.Locate(p)
		assert.Equal(t, wantOK, gotOK, "offset %.0fm", m)
		assert.Equal(t, wantName, gotName, "offset %.0fm", m)
	}
}

func TestIndex_LargeRadiusFallsBack(t *testing.T) {
	here := transit.LatLng{Lat: 12.9716, Lng: 77.5946}
	stops := []transit.Stop{{Name: "Depot", Latitude: metersNorth(here.Lat, 30_000), Longitude: here.Lng}}
	idx := NewIndex(stops, 50_000)
	name, ok := idx.Locate(here)
	require.True(t, ok)
	assert.Equal(t, "Depot", name)
}
