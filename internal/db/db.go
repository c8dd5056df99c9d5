// Package db reads and maintains the stop catalog in Postgres.
package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"busfleet/internal/geofence"
	"busfleet/internal/transit"
)

func Open(dsn string) (*sql.DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(30 * time.Minute)
	return db, nil
}

func Ping(ctx context.Context, db *sql.DB) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return db.PingContext(ctx)
}

// ListStops returns the whole catalog ordered by name.
func ListStops(ctx context.Context, db *sql.DB) (transit.Catalog, error) {
	q := `SELECT stop_id, name, latitude, longitude FROM stops ORDER BY name, stop_id`
	rows, err := db.QueryContext(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("query stops: %w", err)
	}
	defer rows.Close()

	var stops transit.Catalog
	for rows.Next() {
		var s transit.Stop
		if err := rows.Scan(&s.ID, &s.Name, &s.Latitude, &s.Longitude); err != nil {
			return nil, err
		}
		stops = append(stops, s)
	}
	return stops, rows.Err()
}

// SeedStops upserts stops by id in one transaction. Stops with unusable
// coordinates are rejected before anything is written.
func SeedStops(ctx context.Context, db *sql.DB, stops []transit.Stop) (int, error) {
	if errs := geofence.InvalidStops(stops); len(errs) > 0 {
		return 0, fmt.Errorf("seed rejected: %w", errs[0])
	}
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback() }()

	q := `
INSERT INTO stops (stop_id, name, latitude, longitude)
VALUES ($1, $2, $3, $4)
ON CONFLICT (stop_id) DO UPDATE
SET name = EXCLUDED.name, latitude = EXCLUDED.latitude, longitude = EXCLUDED.longitude, updated_at = now()`
	stmt, err := tx.PrepareContext(ctx, q)
	if err != nil {
		return 0, fmt.Errorf("prepare upsert: %w", err)
	}
	defer stmt.Close()

	for _, s := range stops {
		if _, err := stmt.ExecContext(ctx, s.ID, s.Name, s.Latitude, s.Longitude); err != nil {
			return 0, fmt.Errorf("upsert stop %s: %w", s.ID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return len(stops), nil
}
