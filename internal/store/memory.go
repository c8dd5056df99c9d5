package store

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"busfleet/internal/transit"
)

// Memory is an in-process Store. It backs tests and single-process demos.
type Memory struct {
	mu       sync.Mutex
	vehicles map[string]transit.VehicleState
	watchers map[string]map[chan transit.VehicleState]struct{}
	// hook, when set, is called before every write; a non-nil error fails the write.
	hook func(vehicleID string) error
}

func NewMemory() *Memory {
	return &Memory{
		vehicles: make(map[string]transit.VehicleState),
		watchers: make(map[string]map[chan transit.VehicleState]struct{}),
	}
}

// FailWrites makes subsequent writes return fn's error. Pass nil to restore.
func (m *Memory) FailWrites(fn func(vehicleID string) error) {
	m.mu.Lock()
	m.hook = fn
	m.mu.Unlock()
}

func (m *Memory) Register(ctx context.Context, vehicleID string) error {
	if err := CheckID(vehicleID); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.vehicles[vehicleID]; !ok {
		m.vehicles[vehicleID] = transit.VehicleState{VehicleID: vehicleID}
		m.notifyLocked(vehicleID)
	}
	return nil
}

func (m *Memory) Get(ctx context.Context, vehicleID string) (transit.VehicleState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.vehicles[vehicleID]
	if !ok {
		return transit.VehicleState{}, fmt.Errorf("%w: %s", ErrNotFound, vehicleID)
	}
	return v.Clone(), nil
}

func (m *Memory) List(ctx context.Context) ([]transit.VehicleState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]transit.VehicleState, 0, len(m.vehicles))
	for _, v := range m.vehicles {
		out = append(out, v.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].VehicleID < out[j].VehicleID })
	return out, nil
}

func (m *Memory) Claim(ctx context.Context, vehicleID, driverID string) error {
	return m.mutate(vehicleID, claim(driverID))
}

func (m *Memory) Release(ctx context.Context, vehicleID, driverID string) error {
	return m.mutate(vehicleID, release(driverID))
}

func (m *Memory) SetCoordinates(ctx context.Context, vehicleID, driverID string, c transit.Coordinates, locationName string) error {
	return m.mutate(vehicleID, setCoordinates(driverID, c, locationName))
}

func (m *Memory) SetRoute(ctx context.Context, vehicleID, driverID string, r transit.Route) error {
	if err := r.Validate(); err != nil {
		return err
	}
	return m.mutate(vehicleID, setRoute(driverID, r))
}

func (m *Memory) RemoveRoute(ctx context.Context, vehicleID, driverID string) error {
	return m.mutate(vehicleID, removeRoute(driverID))
}

func (m *Memory) Watch(ctx context.Context, vehicleID string) (<-chan transit.VehicleState, error) {
	m.mu.Lock()
	v, ok := m.vehicles[vehicleID]
	if !ok {
		m.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrNotFound, vehicleID)
	}
	ch := make(chan transit.VehicleState, 16)
	ch <- v.Clone()
	if m.watchers[vehicleID] == nil {
		m.watchers[vehicleID] = make(map[chan transit.VehicleState]struct{})
	}
	m.watchers[vehicleID][ch] = struct{}{}
	m.mu.Unlock()

	go func() {
		<-ctx.Done()
		m.mu.Lock()
		delete(m.watchers[vehicleID], ch)
		close(ch)
		m.mu.Unlock()
	}()
	return ch, nil
}

func (m *Memory) mutate(vehicleID string, fn mutation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.vehicles[vehicleID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, vehicleID)
	}
	v = v.Clone()
	if err := fn(&v); err != nil {
		if errors.Is(err, errUnchanged) {
			return nil
		}
		return err
	}
	if m.hook != nil {
		if err := m.hook(vehicleID); err != nil {
			return fmt.Errorf("%w: %v", ErrTransport, err)
		}
	}
	m.vehicles[vehicleID] = v
	m.notifyLocked(vehicleID)
	return nil
}

// notifyLocked fans the current record out to watchers. Slow watchers miss
// intermediate states rather than block writers.
func (m *Memory) notifyLocked(vehicleID string) {
	v := m.vehicles[vehicleID]
	for ch := range m.watchers[vehicleID] {
		select {
		case ch <- v.Clone():
		default:
		}
	}
}
