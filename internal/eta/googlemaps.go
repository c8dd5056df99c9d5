package eta

import (
	"context"
	"fmt"
	"strings"

	"googlemaps.github.io/maps"

	"busfleet/internal/transit"
)

// GoogleOracle asks the Google Directions API for driving routes.
type GoogleOracle struct {
	client *maps.Client
}

func NewGoogleOracle(apiKey string) (*GoogleOracle, error) {
	client, err := maps.NewClient(maps.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("maps.NewClient: %w", err)
	}
	return &GoogleOracle{client: client}, nil
}

// NewGoogleOracleWithClient wraps an existing client, e.g. one pointed at a
// test server with maps.WithBaseURL.
func NewGoogleOracleWithClient(client *maps.Client) *GoogleOracle {
	return &GoogleOracle{client: client}
}

func (g *GoogleOracle) Directions(ctx context.Context, origin, destination transit.LatLng, waypoints []transit.LatLng) ([]Leg, error) {
	dr := &maps.DirectionsRequest{
		Origin:      latLng(origin),
		Destination: latLng(destination),
		Mode:        maps.TravelModeDriving,
	}
	for _, w := range waypoints {
		// via: points shape the path without splitting it into stopovers
		dr.Waypoints = append(dr.Waypoints, "via:"+latLng(w))
	}

	routes, _, err := g.client.Directions(ctx, dr)
	if err != nil {
		if noRoute(err) {
			return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
		return nil, err
	}
	if len(routes) == 0 {
		return nil, nil
	}
	legs := make([]Leg, 0, len(routes[0].Legs))
	for _, l := range routes[0].Legs {
		legs = append(legs, Leg{Duration: l.Duration})
	}
	return legs, nil
}

func latLng(p transit.LatLng) string {
	return fmt.Sprintf("%f,%f", p.Lat, p.Lng)
}

func noRoute(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "ZERO_RESULTS") || strings.Contains(msg, "NOT_FOUND")
}
