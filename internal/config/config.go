package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"

	"busfleet/internal/db"
)

type Config struct {
	NATSURL            string `validate:"required"`
	KVBucket           string `validate:"required,excludesall=.*>"`
	EventSubjectPrefix string `validate:"required"`
	LogNATSSubjects    bool
	StoreBackend       string `validate:"oneof=nats memory"`

	DatabaseURL string

	RedisAddr     string
	RedisPassword string
	RedisDB       int `validate:"gte=0"`

	GoogleMapsAPIKey string

	PublishInterval time.Duration `validate:"gt=0"`
	GeofenceRadius  float64       `validate:"gt=0"`
	SimSpeedMps     float64       `validate:"gt=0"`

	HTTPAddr       string `validate:"required"`
	MetricsAddr    string
	AllowedOrigins []string

	// Driver client identity and trip.
	VehicleID   string
	DriverID    string
	Destination string
	Waypoints   []string
	SavedRoute  string
}

func Load() (*Config, error) {
	// Load .env into environment (ignore if missing)
	_ = godotenv.Load()

	cfg := &Config{
		NATSURL:            getenvDefault("NATS_URL", "nats://127.0.0.1:4222"),
		KVBucket:           getenvDefault("KV_BUCKET", "VEHICLES"),
		EventSubjectPrefix: getenvDefault("EVENT_SUBJECT_PREFIX", "fleet"),
		LogNATSSubjects:    parseBool(os.Getenv("LOG_NATS_SUBJECTS")),
		StoreBackend:       strings.ToLower(getenvDefault("STORE_BACKEND", "nats")),
		RedisAddr:          getenvDefault("REDIS_ADDR", "127.0.0.1:6379"),
		RedisPassword:      os.Getenv("REDIS_PASSWORD"),
		GoogleMapsAPIKey:   os.Getenv("GOOGLE_MAPS_API_KEY"),
		HTTPAddr:           getenvDefault("HTTP_ADDR", ":8080"),
		// Metrics listen address (e.g., ":9102"). Empty disables the metrics server.
		MetricsAddr:    os.Getenv("METRICS_ADDR"),
		AllowedOrigins: splitList(os.Getenv("ALLOWED_ORIGINS")),
		VehicleID:      strings.TrimSpace(os.Getenv("VEHICLE_ID")),
		DriverID:       strings.TrimSpace(os.Getenv("DRIVER_ID")),
		Destination:    strings.TrimSpace(os.Getenv("DESTINATION")),
		Waypoints:      splitList(os.Getenv("WAYPOINTS")),
		SavedRoute:     strings.TrimSpace(os.Getenv("SAVED_ROUTE")),
	}

	// Database URL: prefer DATABASE_URL / PG_DSN, else build from PG* vars
	cfg.DatabaseURL = firstNonEmpty(os.Getenv("DATABASE_URL"), os.Getenv("PG_DSN"))
	if cfg.DatabaseURL == "" && os.Getenv("PGDATABASE") != "" {
		cfg.DatabaseURL = db.BuildDSN(
			getenvDefault("PGHOST", "127.0.0.1"),
			getenvDefault("PGPORT", "5432"),
			getenvDefault("PGUSER", "postgres"),
			os.Getenv("PGPASSWORD"),
			os.Getenv("PGDATABASE"),
			getenvDefault("PGSSLMODE", "disable"),
		)
	}

	var err error
	if cfg.RedisDB, err = intEnv("REDIS_DB", 0); err != nil {
		return nil, err
	}
	ms, err := intEnv("PUBLISH_INTERVAL_MS", 2000)
	if err != nil {
		return nil, err
	}
	cfg.PublishInterval = time.Duration(ms) * time.Millisecond
	if cfg.GeofenceRadius, err = floatEnv("GEOFENCE_RADIUS_M", 200); err != nil {
		return nil, err
	}
	if cfg.SimSpeedMps, err = floatEnv("SIM_SPEED_MPS", 8); err != nil {
		return nil, err
	}

	if err := validator.New().Struct(cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// RequireDatabase reports a missing catalog DSN for binaries that need one.
func (c *Config) RequireDatabase() error {
	if c.DatabaseURL == "" {
		return fmt.Errorf("PGDATABASE or DATABASE_URL must be set")
	}
	return nil
}

func getenvDefault(k, def string) string {
	if v := strings.TrimSpace(os.Getenv(k)); v != "" {
		return v
	}
	return def
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

func parseBool(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "t", "yes", "y", "on":
		return true
	}
	return false
}

func intEnv(k string, def int) (int, error) {
	v := strings.TrimSpace(os.Getenv(k))
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %q", k, v)
	}
	return n, nil
}

func floatEnv(k string, def float64) (float64, error) {
	v := strings.TrimSpace(os.Getenv(k))
	if v == "" {
		return def, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %q", k, v)
	}
	return f, nil
}

// splitList parses a comma separated list, dropping blanks.
func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
