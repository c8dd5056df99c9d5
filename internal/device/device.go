// Package device supplies position fixes to the driver loop.
package device

import (
	"context"
	"errors"

	"busfleet/internal/transit"
)

// ErrNoFix is returned when the provider cannot produce a position.
var ErrNoFix = errors.New("no location fix")

// Provider is the device location source.
type Provider interface {
	CurrentPosition(ctx context.Context) (transit.Coordinates, error)
}

// ProviderFunc adapts a function to Provider.
type ProviderFunc func(ctx context.Context) (transit.Coordinates, error)

func (f ProviderFunc) CurrentPosition(ctx context.Context) (transit.Coordinates, error) {
	return f(ctx)
}
