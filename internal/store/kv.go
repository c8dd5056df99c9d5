package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sort"

	"github.com/nats-io/nats.go/jetstream"

	"busfleet/internal/transit"
)

// KV is a Store on a NATS JetStream key-value bucket, one key per vehicle.
// Every write is a read-modify-write guarded by the key's last revision,
// so concurrent claims resolve to exactly one winner.
type KV struct {
	kv         jetstream.KeyValue
	maxRetries int
}

// NewKV opens (or creates) the bucket.
func NewKV(ctx context.Context, js jetstream.JetStream, bucket string) (*KV, error) {
	kv, err := js.CreateOrUpdateKeyValue(ctx, jetstream.KeyValueConfig{
		Bucket:      bucket,
		Description: "live vehicle state",
		History:     1,
	})
	if err != nil {
		return nil, fmt.Errorf("open kv bucket %s: %w", bucket, err)
	}
	return &KV{kv: kv, maxRetries: 5}, nil
}

func (s *KV) Register(ctx context.Context, vehicleID string) error {
	if err := CheckID(vehicleID); err != nil {
		return err
	}
	b, err := json.Marshal(transit.VehicleState{VehicleID: vehicleID})
	if err != nil {
		return err
	}
	_, err = s.kv.Create(ctx, vehicleID, b)
	if err != nil && !errors.Is(err, jetstream.ErrKeyExists) {
		return fmt.Errorf("%w: register %s: %v", ErrTransport, vehicleID, err)
	}
	return nil
}

func (s *KV) Get(ctx context.Context, vehicleID string) (transit.VehicleState, error) {
	v, _, err := s.get(ctx, vehicleID)
	return v, err
}

func (s *KV) get(ctx context.Context, vehicleID string) (transit.VehicleState, uint64, error) {
	if err := CheckID(vehicleID); err != nil {
		return transit.VehicleState{}, 0, err
	}
	entry, err := s.kv.Get(ctx, vehicleID)
	if err != nil {
		if errors.Is(err, jetstream.ErrKeyNotFound) || errors.Is(err, jetstream.ErrKeyDeleted) {
			return transit.VehicleState{}, 0, fmt.Errorf("%w: %s", ErrNotFound, vehicleID)
		}
		return transit.VehicleState{}, 0, fmt.Errorf("%w: get %s: %v", ErrTransport, vehicleID, err)
	}
	v, err := decode(vehicleID, entry.Value())
	return v, entry.Revision(), err
}

func (s *KV) List(ctx context.Context) ([]transit.VehicleState, error) {
	lister, err := s.kv.ListKeys(ctx)
	if err != nil {
		if errors.Is(err, jetstream.ErrNoKeysFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: list keys: %v", ErrTransport, err)
	}
	defer lister.Stop()
	var keys []string
	for k := range lister.Keys() {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make([]transit.VehicleState, 0, len(keys))
	for _, k := range keys {
		v, err := s.Get(ctx, k)
		if errors.Is(err, ErrNotFound) {
			continue // deleted between list and get
		}
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

func (s *KV) Claim(ctx context.Context, vehicleID, driverID string) error {
	return s.mutate(ctx, vehicleID, claim(driverID))
}

func (s *KV) Release(ctx context.Context, vehicleID, driverID string) error {
	return s.mutate(ctx, vehicleID, release(driverID))
}

func (s *KV) SetCoordinates(ctx context.Context, vehicleID, driverID string, c transit.Coordinates, locationName string) error {
	return s.mutate(ctx, vehicleID, setCoordinates(driverID, c, locationName))
}

func (s *KV) SetRoute(ctx context.Context, vehicleID, driverID string, r transit.Route) error {
	if err := r.Validate(); err != nil {
		return err
	}
	return s.mutate(ctx, vehicleID, setRoute(driverID, r))
}

func (s *KV) RemoveRoute(ctx context.Context, vehicleID, driverID string) error {
	return s.mutate(ctx, vehicleID, removeRoute(driverID))
}

func (s *KV) Watch(ctx context.Context, vehicleID string) (<-chan transit.VehicleState, error) {
	if err := CheckID(vehicleID); err != nil {
		return nil, err
	}
	w, err := s.kv.Watch(ctx, vehicleID)
	if err != nil {
		return nil, fmt.Errorf("%w: watch %s: %v", ErrTransport, vehicleID, err)
	}
	out := make(chan transit.VehicleState, 16)
	go func() {
		defer close(out)
		defer w.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case entry, ok := <-w.Updates():
				if !ok {
					return
				}
				if entry == nil {
					continue // end of initial values
				}
				v := transit.VehicleState{VehicleID: vehicleID}
				if entry.Operation() == jetstream.KeyValuePut {
					decoded, err := decode(vehicleID, entry.Value())
					if err != nil {
						log.Printf("watch %s: %v", vehicleID, err)
						continue
					}
					v = decoded
				}
				select {
				case out <- v:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

func (s *KV) mutate(ctx context.Context, vehicleID string, fn mutation) error {
	for attempt := 0; attempt < s.maxRetries; attempt++ {
		v, rev, err := s.get(ctx, vehicleID)
		if err != nil {
			return err
		}
		if err := fn(&v); err != nil {
			if errors.Is(err, errUnchanged) {
				return nil
			}
			return err
		}
		b, err := json.Marshal(v)
		if err != nil {
			return err
		}
		_, err = s.kv.Update(ctx, vehicleID, b, rev)
		if err == nil {
			return nil
		}
		if !isRevisionConflict(err) {
			return fmt.Errorf("%w: update %s: %v", ErrTransport, vehicleID, err)
		}
	}
	return fmt.Errorf("%w: %s kept changing after %d attempts", ErrTransport, vehicleID, s.maxRetries)
}

func isRevisionConflict(err error) bool {
	if errors.Is(err, jetstream.ErrKeyExists) {
		return true
	}
	var apiErr *jetstream.APIError
	return errors.As(err, &apiErr) && apiErr.ErrorCode == jetstream.JSErrCodeStreamWrongLastSequence
}

func decode(vehicleID string, b []byte) (transit.VehicleState, error) {
	var v transit.VehicleState
	if err := json.Unmarshal(b, &v); err != nil {
		return transit.VehicleState{}, fmt.Errorf("decode %s: %w", vehicleID, err)
	}
	v.VehicleID = vehicleID
	return v, nil
}
