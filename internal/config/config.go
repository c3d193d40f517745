// Package config handles loading and validation of application configuration
// from environment variables. Supports .env files via godotenv.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const defaultJWTSecret = "dev-secret-change-in-production"

// Config holds the API server configuration
type Config struct {
	// Server settings
	Port        int
	Environment string // "development" | "staging" | "production"

	// Security
	JWTSecret      string
	SessionTTL     time.Duration
	AllowedOrigins []string
	RateLimitRPM   int
	OTPCode        string

	// Behaviour
	SimulatedLatency time.Duration
	NearbyRadiusKm   float64

	// Photo uploads
	UploadDir   string
	MaxUploadMB int

	// State persistence
	StateDriver     string // "memory" | "sqlite" | "redis" | "postgres"
	StateSQLitePath string
	DatabaseURL     string
	RedisURL        string
}

// ClientConfig holds settings for the civicpulse command line client.
type ClientConfig struct {
	APIURL        string
	StatePath     string
	ProbeInterval time.Duration
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	// Load .env file if it exists (development)
	_ = godotenv.Load()

	cfg := &Config{
		Port:        getEnvInt("PORT", 5000),
		Environment: getEnv("ENVIRONMENT", "development"),

		JWTSecret:      getEnv("JWT_SECRET", defaultJWTSecret),
		SessionTTL:     getEnvDuration("SESSION_TTL", 24*time.Hour),
		AllowedOrigins: splitList(getEnv("ALLOWED_ORIGINS", "http://localhost:3000,http://localhost:5173")),
		RateLimitRPM:   getEnvInt("RATE_LIMIT_RPM", 120),
		OTPCode:        getEnv("OTP_CODE", "123456"),

		SimulatedLatency: getEnvDuration("SIMULATED_LATENCY", 0),
		NearbyRadiusKm:   getEnvFloat("NEARBY_RADIUS_KM", 5),

		UploadDir:   getEnv("UPLOAD_DIR", "uploads"),
		MaxUploadMB: getEnvInt("MAX_UPLOAD_MB", 10),

		StateDriver:     strings.ToLower(getEnv("STATE_DRIVER", "memory")),
		StateSQLitePath: getEnv("STATE_SQLITE_PATH", "civicpulse.db"),
		DatabaseURL:     getEnv("DATABASE_URL", ""),
		RedisURL:        getEnv("REDIS_URL", "redis://localhost:6379"),
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	switch c.StateDriver {
	case "memory", "sqlite", "redis", "postgres":
	default:
		return fmt.Errorf("unknown STATE_DRIVER %q", c.StateDriver)
	}
	if c.StateDriver == "postgres" && c.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL is required for the postgres state driver")
	}
	if c.NearbyRadiusKm <= 0 {
		return fmt.Errorf("NEARBY_RADIUS_KM must be positive")
	}
	if c.MaxUploadMB <= 0 {
		return fmt.Errorf("MAX_UPLOAD_MB must be positive")
	}
	if c.SessionTTL <= 0 {
		return fmt.Errorf("SESSION_TTL must be positive")
	}

	// Validate required fields in production
	if c.Environment == "production" {
		if c.JWTSecret == defaultJWTSecret {
			return fmt.Errorf("JWT_SECRET must be set in production")
		}
	}
	return nil
}

// LoadClient reads the client configuration.
func LoadClient() (*ClientConfig, error) {
	_ = godotenv.Load()

	statePath := getEnv("CIVIC_STATE_PATH", "")
	if statePath == "" {
		dir, err := os.UserConfigDir()
		if err != nil {
			return nil, fmt.Errorf("locate config dir: %w", err)
		}
		statePath = filepath.Join(dir, "civicpulse", "state.db")
	}

	cfg := &ClientConfig{
		APIURL:        strings.TrimRight(getEnv("CIVIC_API_URL", "http://localhost:5000/api"), "/"),
		StatePath:     statePath,
		ProbeInterval: getEnvDuration("CIVIC_PROBE_INTERVAL", 15*time.Second),
	}
	if cfg.ProbeInterval <= 0 {
		return nil, fmt.Errorf("CIVIC_PROBE_INTERVAL must be positive")
	}
	return cfg, nil
}

func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvFloat(key string, fallback float64) float64 {
	if val := os.Getenv(key); val != "" {
		if f, err := strconv.ParseFloat(val, 64); err == nil {
			return f
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			return d
		}
	}
	return fallback
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
