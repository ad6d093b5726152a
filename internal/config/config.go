package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Store backends
const (
	StoreMemory   = "memory"
	StoreRedis    = "redis"
	StorePostgres = "postgres"
)

// Config holds all configuration values for the application
type Config struct {
	Port           string
	AllowedOrigins []string
	LogLevel       string
	LogFormat      string
	Environment    string

	StoreBackend string
	RedisURL     string
	DatabaseURL  string

	VoterCap      int
	StaleAfter    time.Duration
	SweepInterval time.Duration
	StoreTimeout  time.Duration
	LockTTL       time.Duration
	RoomTTL       time.Duration

	VotePolicy string
	MaxDays    float64
	MaxWeeks   float64

	TokenSecret string
	TokenTTL    time.Duration

	RateLimitRPS   float64
	RateLimitBurst int
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	// Load .env file if it exists
	_ = godotenv.Load()

	p := &parser{}
	cfg := &Config{
		Port:           getEnv("PORT", "8080"),
		AllowedOrigins: parseOrigins(getEnv("ALLOWED_ORIGINS", "http://localhost:5173,http://localhost:5174")),
		LogLevel:       getEnv("LOG_LEVEL", "info"),
		LogFormat:      getEnv("LOG_FORMAT", "json"),
		Environment:    getEnv("ENVIRONMENT", "production"),

		StoreBackend: strings.ToLower(getEnv("STORE_BACKEND", StoreMemory)),
		RedisURL:     getEnv("REDIS_URL", ""),
		DatabaseURL:  getEnv("DATABASE_URL", ""),

		VoterCap:      p.int("VOTER_CAP", 7),
		StaleAfter:    p.duration("STALE_AFTER", 30*time.Second),
		SweepInterval: p.duration("SWEEP_INTERVAL", 15*time.Second),
		StoreTimeout:  p.duration("STORE_TIMEOUT", 3*time.Second),
		LockTTL:       p.duration("LOCK_TTL", 5*time.Second),
		RoomTTL:       p.duration("ROOM_TTL", 24*time.Hour),

		VotePolicy: strings.ToLower(getEnv("VOTE_POLICY", "integer")),
		MaxDays:    p.float("MAX_DAYS", 60),
		MaxWeeks:   p.float("MAX_WEEKS", 12),

		TokenSecret: getEnv("TOKEN_SECRET", ""),
		TokenTTL:    p.duration("TOKEN_TTL", 24*time.Hour),

		RateLimitRPS:   p.float("RATE_LIMIT_RPS", 20),
		RateLimitBurst: p.int("RATE_LIMIT_BURST", 40),
	}

	if len(p.errs) > 0 {
		return nil, errors.Join(p.errs...)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects settings that cannot work together
func (c *Config) Validate() error {
	var errs []error

	switch c.StoreBackend {
	case StoreMemory:
	case StoreRedis:
		if c.RedisURL == "" {
			errs = append(errs, errors.New("REDIS_URL is required when STORE_BACKEND=redis"))
		}
	case StorePostgres:
		if c.DatabaseURL == "" {
			errs = append(errs, errors.New("DATABASE_URL is required when STORE_BACKEND=postgres"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown STORE_BACKEND %q", c.StoreBackend))
	}

	if c.VoterCap <= 0 {
		errs = append(errs, errors.New("VOTER_CAP must be positive"))
	}
	if c.StaleAfter <= 0 {
		errs = append(errs, errors.New("STALE_AFTER must be positive"))
	}
	if c.SweepInterval < 0 {
		errs = append(errs, errors.New("SWEEP_INTERVAL must not be negative"))
	}
	if c.StoreTimeout <= 0 {
		errs = append(errs, errors.New("STORE_TIMEOUT must be positive"))
	}
	if c.LockTTL <= 0 {
		errs = append(errs, errors.New("LOCK_TTL must be positive"))
	}
	if c.LockTTL > 0 && c.StoreTimeout > c.LockTTL {
		errs = append(errs, errors.New("STORE_TIMEOUT must not exceed LOCK_TTL"))
	}
	if c.RoomTTL <= 0 {
		errs = append(errs, errors.New("ROOM_TTL must be positive"))
	}
	if c.VotePolicy != "integer" && c.VotePolicy != "quantized" {
		errs = append(errs, fmt.Errorf("unknown VOTE_POLICY %q", c.VotePolicy))
	}
	if c.MaxDays <= 0 || c.MaxWeeks <= 0 {
		errs = append(errs, errors.New("MAX_DAYS and MAX_WEEKS must be positive"))
	}
	if c.RateLimitRPS > 0 && c.RateLimitBurst <= 0 {
		errs = append(errs, errors.New("RATE_LIMIT_BURST must be positive when rate limiting is on"))
	}

	return errors.Join(errs...)
}

// getEnv gets an environment variable with a fallback value
func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

// parseOrigins parses comma-separated origins into a slice
func parseOrigins(origins string) []string {
	if origins == "" {
		return []string{}
	}

	parts := strings.Split(origins, ",")
	result := make([]string, 0, len(parts))

	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			result = append(result, trimmed)
		}
	}

	return result
}

// parser collects every malformed variable instead of stopping at the first
type parser struct {
	errs []error
}

func (p *parser) int(key string, fallback int) int {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		p.errs = append(p.errs, fmt.Errorf("%s: %w", key, err))
		return fallback
	}
	return parsed
}

func (p *parser) float(key string, fallback float64) float64 {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		p.errs = append(p.errs, fmt.Errorf("%s: %w", key, err))
		return fallback
	}
	return parsed
}

func (p *parser) duration(key string, fallback time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		p.errs = append(p.errs, fmt.Errorf("%s: %w", key, err))
		return fallback
	}
	return parsed
}
