// Package config loads runtime configuration from the environment.
package config

import (
	"log"
	"os"
	"strconv"
	"time"
)

// Config holds runtime configuration for the collector service.
type Config struct {
	Environment        string
	Addr               string
	DatabaseURL        string
	MigrationsDir      string
	SimulatorEnabled   bool
	SimulatorInterval  time.Duration
	RateLimitRedisAddr string
	RateLimitRedisPass string
	RateLimitRedisDB   int
	APIBaseURL         string
	WebSocketURL       string
	PollInterval       time.Duration
	ReconnectDelay     time.Duration
}

// Load constructs a Config from environment variables.
func Load() Config {
	return Config{
		Environment:        GetString("APP_ENV", "development"),
		Addr:               GetString("API_ADDR", ":5000"),
		DatabaseURL:        GetString("DATABASE_URL", "postgres://apm:apm@db:5432/apm?sslmode=disable"),
		MigrationsDir:      GetString("DB_MIGRATIONS_DIR", "db/migrations"),
		SimulatorEnabled:   GetBool("SIMULATOR_ENABLED", true),
		SimulatorInterval:  time.Duration(GetInt("SIMULATOR_INTERVAL_SECONDS", 10)) * time.Second,
		RateLimitRedisAddr: GetString("RATE_LIMIT_REDIS_ADDR", ""),
		RateLimitRedisPass: GetString("RATE_LIMIT_REDIS_PASSWORD", ""),
		RateLimitRedisDB:   GetInt("RATE_LIMIT_REDIS_DB", 0),
		APIBaseURL:         GetString("API_BASE_URL", "http://localhost:5000"),
		WebSocketURL:       GetString("WS_URL", "ws://localhost:5000/ws"),
		PollInterval:       time.Duration(GetInt("POLL_INTERVAL_SECONDS", 30)) * time.Second,
		ReconnectDelay:     time.Duration(GetInt("RECONNECT_DELAY_SECONDS", 3)) * time.Second,
	}
}

// GetString retrieves an environment variable or returns a fallback when unset.
func GetString(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

// GetInt retrieves an environment variable as integer or returns fallback.
func GetInt(key string, fallback int) int {
	if value, ok := os.LookupEnv(key); ok {
		parsed, err := strconv.Atoi(value)
		if err != nil {
			log.Printf("invalid value for %s: %v", key, err)
			return fallback
		}
		return parsed
	}
	return fallback
}

// GetBool retrieves an environment variable as bool or returns fallback.
func GetBool(key string, fallback bool) bool {
	if value, ok := os.LookupEnv(key); ok {
		parsed, err := strconv.ParseBool(value)
		if err != nil {
			log.Printf("invalid value for %s: %v", key, err)
			return fallback
		}
		return parsed
	}
	return fallback
}
