// Package config handles application configuration from environment variables
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration
type Config struct {
	// Server settings
	Port     string
	Env      string // "development", "staging", "production"
	LogLevel string

	// Database
	DatabaseURL string // PostgreSQL connection string (optional, uses in-memory if not set)

	// Redis profile cache
	RedisURL        string // Optional, cache disabled if not set
	ProfileCacheTTL time.Duration

	// Kafka event intake
	KafkaBrokers     []string // Optional, stream consumer disabled if not set
	KafkaEventsTopic string
	KafkaAuditTopic  string
	KafkaGroupID     string

	// Scoring
	ModelPath       string // Path to a model artifact JSON (optional, built-in model if not set)
	LatencyBudgetMS int64  // Per-assessment latency budget in milliseconds
	TopFactors      int    // Number of top contributing factors per assessment

	// Audit
	AuditQueueSize int
}

// Defaults tuned for local development.
const (
	DefaultPort            = "8080"
	DefaultEnv             = "development"
	DefaultLogLevel        = "info"
	DefaultLatencyBudgetMS = 100
	DefaultTopFactors      = 5
	DefaultProfileCacheTTL = 5 * time.Minute
	DefaultEventsTopic     = "atlas.transactions"
	DefaultAuditTopic      = "atlas.audit"
	DefaultGroupID         = "atlas-scoring"
	DefaultAuditQueueSize  = 4096
)

// Load reads configuration from environment variables
// It loads .env file if present (for local development)
func Load() (*Config, error) {
	// Load .env file if it exists (ignore error if not present)
	_ = godotenv.Load()

	cfg := &Config{
		Port:             getEnv("PORT", DefaultPort),
		Env:              getEnv("ENV", DefaultEnv),
		LogLevel:         getEnv("LOG_LEVEL", DefaultLogLevel),
		DatabaseURL:      os.Getenv("DATABASE_URL"), // Optional, uses in-memory if not set
		RedisURL:         os.Getenv("REDIS_URL"),    // Optional, cache disabled if not set
		ProfileCacheTTL:  time.Duration(getEnvInt64("PROFILE_CACHE_TTL_SECONDS", int64(DefaultProfileCacheTTL/time.Second))) * time.Second,
		KafkaBrokers:     splitList(os.Getenv("KAFKA_BROKERS")),
		KafkaEventsTopic: getEnv("KAFKA_EVENTS_TOPIC", DefaultEventsTopic),
		KafkaAuditTopic:  getEnv("KAFKA_AUDIT_TOPIC", DefaultAuditTopic),
		KafkaGroupID:     getEnv("KAFKA_GROUP_ID", DefaultGroupID),
		ModelPath:        os.Getenv("MODEL_PATH"), // Optional, built-in model if not set
		LatencyBudgetMS:  getEnvInt64("LATENCY_BUDGET_MS", DefaultLatencyBudgetMS),
		TopFactors:       int(getEnvInt64("TOP_FACTORS", DefaultTopFactors)),
		AuditQueueSize:   int(getEnvInt64("AUDIT_QUEUE_SIZE", DefaultAuditQueueSize)),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks that the configuration is internally consistent
func (c *Config) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("PORT must not be empty")
	}

	if c.LatencyBudgetMS <= 0 {
		return fmt.Errorf("LATENCY_BUDGET_MS must be positive, got %d", c.LatencyBudgetMS)
	}

	if c.TopFactors < 1 {
		return fmt.Errorf("TOP_FACTORS must be at least 1, got %d", c.TopFactors)
	}

	if c.AuditQueueSize < 1 {
		return fmt.Errorf("AUDIT_QUEUE_SIZE must be at least 1, got %d", c.AuditQueueSize)
	}

	if c.ProfileCacheTTL <= 0 {
		return fmt.Errorf("PROFILE_CACHE_TTL_SECONDS must be positive")
	}

	return nil
}

// LatencyBudget returns the per-assessment budget as a duration.
func (c *Config) LatencyBudget() time.Duration {
	return time.Duration(c.LatencyBudgetMS) * time.Millisecond
}

// IsDevelopment returns true if running in development mode
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

// IsProduction returns true if running in production mode
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// Helper functions

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.ParseInt(value, 10, 64); err == nil {
			return i
		}
	}
	return defaultValue
}

// splitList parses a comma-separated env value into trimmed entries.
func splitList(value string) []string {
	if value == "" {
		return nil
	}
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
