package eta

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"googlemaps.github.io/maps"

	"busfleet/internal/transit"
)

func directionsServer(t *testing.T, body string, seen *url.Values) *GoogleOracle {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if seen != nil {
			*seen = r.URL.Query()
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)

	client, err := maps.NewClient(maps.WithAPIKey("test-key"), maps.WithBaseURL(srv.URL))
	require.NoError(t, err)
	return NewGoogleOracleWithClient(client)
}

func TestGoogleOracle_SumsFirstRoute(t *testing.T) {
	var q url.Values
	g := directionsServer(t, `{"status":"OK","routes":[{"summary":"x","legs":[{"duration":{"value":300,"text":"5 mins"}},{"duration":{"value":120,"text":"2 mins"}}]}]}`, &q)

	legs, err := g.Directions(context.Background(), bus, p3, []transit.LatLng{p1, p2})
	require.NoError(t, err)
	require.Len(t, legs, 2)
	assert.Equal(t, 5*time.Minute, legs[0].Duration)

	assert.Equal(t, "driving", q.Get("mode"))
	assert.Equal(t, "via:12.960000,77.590000|via:12.970000,77.600000", q.Get("waypoints"))
	assert.Equal(t, "12.950000,77.580000", q.Get("origin"))
}

func TestGoogleOracle_ZeroResults(t *testing.T) {
	g := directionsServer(t, `{"status":"ZERO_RESULTS","routes":[]}`, nil)
	d, err := NewEstimator(g, nil).Estimate(context.Background(), bus, nil, p3)
	assert.ErrorIs(t, err, ErrUnavailable)
	assert.Equal(t, UnavailableText, Display(d, err))
}
