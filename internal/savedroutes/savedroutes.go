// Package savedroutes keeps named routes per driver in a Redis hash so a
// trip can be prefilled from a previous one.
package savedroutes

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/go-redis/redis/v8"

	"busfleet/internal/transit"
)

var ErrNotFound = errors.New("saved route not found")

const DefaultPrefix = "busfleet:routes"

type Redis struct {
	rdb    *redis.Client
	prefix string
}

func New(rdb *redis.Client, prefix string) *Redis {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return &Redis{rdb: rdb, prefix: prefix}
}

// Connect creates a client and checks the connection.
func Connect(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{Addr: addr, Password: password, DB: db})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	return rdb, nil
}

func (s *Redis) key(owner string) string { return s.prefix + ":" + owner }

func (s *Redis) Save(ctx context.Context, owner, name string, r transit.Route) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return errors.New("saved route needs a name")
	}
	b, err := encode(r)
	if err != nil {
		return err
	}
	return s.rdb.HSet(ctx, s.key(owner), name, b).Err()
}

func (s *Redis) Load(ctx context.Context, owner, name string) (transit.Route, error) {
	b, err := s.rdb.HGet(ctx, s.key(owner), name).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("%w: %q", ErrNotFound, name)
	}
	if err != nil {
		return nil, err
	}
	return decode(b)
}

// List returns the owner's saved route names in order.
func (s *Redis) List(ctx context.Context, owner string) ([]string, error) {
	names, err := s.rdb.HKeys(ctx, s.key(owner)).Result()
	if err != nil {
		return nil, err
	}
	sort.Strings(names)
	return names, nil
}

func (s *Redis) Delete(ctx context.Context, owner, name string) error {
	n, err := s.rdb.HDel(ctx, s.key(owner), name).Result()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: %q", ErrNotFound, name)
	}
	return nil
}

func encode(r transit.Route) ([]byte, error) {
	if err := r.Validate(); err != nil {
		return nil, err
	}
	return json.Marshal(r)
}

func decode(b []byte) (transit.Route, error) {
	var r transit.Route
	if err := json.Unmarshal(b, &r); err != nil {
		return nil, fmt.Errorf("decode saved route: %w", err)
	}
	if err := r.Validate(); err != nil {
		return nil, err
	}
	return r, nil
}
