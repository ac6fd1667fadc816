package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds everything read from the environment at startup.
type Config struct {
	Addr   string
	DBPath string

	// VenueTZ is the venue's local calendar; every YYYY-MM-DD date in the
	// store is interpreted in this zone, never UTC-shifted.
	VenueTZ string

	RecurringEnabled  bool
	RecurringInterval time.Duration
}

// Load reads .env (if present) and the process environment.
func Load() Config {
	_ = godotenv.Load()

	return Config{
		Addr:              getEnv("ADDR", ":8080"),
		DBPath:            getEnv("DB_PATH", "academy.db"),
		VenueTZ:           getEnv("VENUE_TZ", "America/Toronto"),
		RecurringEnabled:  getEnv("RECURRING_ENABLED", "1") == "1",
		RecurringInterval: getDuration("RECURRING_INTERVAL", 24*time.Hour),
	}
}

// Location resolves VenueTZ, falling back to UTC if tzdata is missing.
func (c Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.VenueTZ)
	if err != nil {
		return time.UTC
	}
	return loc
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getDuration(key string, def time.Duration) time.Duration {
	raw := os.Getenv(key)
	if raw == "" {
		return def
	}
	if d, err := time.ParseDuration(raw); err == nil && d > 0 {
		return d
	}
	if hrs, err := strconv.Atoi(raw); err == nil && hrs > 0 {
		return time.Duration(hrs) * time.Hour
	}
	return def
}
