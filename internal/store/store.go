// Package store holds the shared vehicle state: one record per vehicle,
// written only by the driver session holding the vehicle's claim.
package store

import (
	"context"
	"errors"
	"fmt"
	"regexp"

	"busfleet/internal/transit"
)

var (
	ErrNotFound      = errors.New("vehicle not found")
	ErrClaimConflict = errors.New("vehicle is locked by another driver")
	ErrNotClaimed    = errors.New("vehicle is not claimed by this driver")
	ErrTransport     = errors.New("vehicle store unavailable")
	ErrInvalidID     = errors.New("invalid vehicle id")
)

// Store is the vehicle-state store shared by driver and rider sessions.
// Writes to one vehicle are applied in the order they are issued.
type Store interface {
	// Register creates an unclaimed record for the vehicle if none exists.
	Register(ctx context.Context, vehicleID string) error
	Get(ctx context.Context, vehicleID string) (transit.VehicleState, error)
	// List returns a snapshot of every vehicle ordered by id.
	List(ctx context.Context) ([]transit.VehicleState, error)

	// Claim succeeds only if the vehicle has no driver or already belongs to driverID.
	Claim(ctx context.Context, vehicleID, driverID string) error
	// Release clears route, coordinates and the claim in a single write.
	Release(ctx context.Context, vehicleID, driverID string) error

	SetCoordinates(ctx context.Context, vehicleID, driverID string, c transit.Coordinates, locationName string) error
	SetRoute(ctx context.Context, vehicleID, driverID string, r transit.Route) error
	RemoveRoute(ctx context.Context, vehicleID, driverID string) error

	// Watch streams the vehicle's state, starting with the current value,
	// until ctx is cancelled.
	Watch(ctx context.Context, vehicleID string) (<-chan transit.VehicleState, error)
}

// mutation edits a vehicle record in place. Returning errUnchanged skips the write.
type mutation func(v *transit.VehicleState) error

var errUnchanged = errors.New("unchanged")

var validID = regexp.MustCompile(`^[-_=a-zA-Z0-9]+$`)

// CheckID validates a vehicle id for use as a store key.
func CheckID(id string) error {
	if !validID.MatchString(id) {
		return fmt.Errorf("%w: %q", ErrInvalidID, id)
	}
	return nil
}

func claim(driverID string) mutation {
	return func(v *transit.VehicleState) error {
		if driverID == "" {
			return fmt.Errorf("%w: empty driver id", ErrNotClaimed)
		}
		switch v.DriverID {
		case driverID:
			return errUnchanged
		case "":
			v.DriverID = driverID
			return nil
		default:
			return fmt.Errorf("%w: %s", ErrClaimConflict, v.VehicleID)
		}
	}
}

func release(driverID string) mutation {
	return func(v *transit.VehicleState) error {
		if v.DriverID == "" {
			return errUnchanged
		}
		if v.DriverID != driverID {
			return fmt.Errorf("%w: %s", ErrNotClaimed, v.VehicleID)
		}
		v.Route = nil
		v.Coordinates = nil
		v.LocationName = ""
		v.DriverID = ""
		return nil
	}
}

// owned wraps fn so it only runs for the claim holder.
func owned(driverID string, fn func(v *transit.VehicleState)) mutation {
	return func(v *transit.VehicleState) error {
		if driverID == "" || v.DriverID != driverID {
			return fmt.Errorf("%w: %s", ErrNotClaimed, v.VehicleID)
		}
		fn(v)
		return nil
	}
}

func setCoordinates(driverID string, c transit.Coordinates, name string) mutation {
	return owned(driverID, func(v *transit.VehicleState) {
		v.Coordinates = &c
		v.LocationName = name
	})
}

func setRoute(driverID string, r transit.Route) mutation {
	r = r.Clone()
	return owned(driverID, func(v *transit.VehicleState) { v.Route = r })
}

func removeRoute(driverID string) mutation {
	return owned(driverID, func(v *transit.VehicleState) { v.Route = nil })
}
