// Package config loads server configuration from the environment.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"adventure.app/engine/core/db"
)

// Config holds all application configuration.
type Config struct {
	// Env is the environment name (development, staging, production)
	Env string

	// Port is the HTTP server port
	Port string

	// DB holds database configuration
	DB db.Config

	// RedisURL and RedisStream back the TelemetrySink
	RedisURL    string
	RedisStream string

	// Adventure holds the session-engine options from spec.md §6
	Adventure AdventureConfig

	// OTel holds OpenTelemetry exporter configuration
	OTel OTelConfig
}

// AdventureConfig holds the SessionEngine/TaskScheduler tunables from spec.md §6.
type AdventureConfig struct {
	StoryLengthDefault   int
	WordDelay            time.Duration
	ParagraphDelay       time.Duration
	MaxReconnectAttempts int
	ReconnectBackoffBase time.Duration
	ReconnectBackoffCap  time.Duration
	TextProvider         string // "openai" | "anthropic"
	TextModel            string
	ImageModel           string
}

// OTelConfig holds OpenTelemetry exporter configuration.
type OTelConfig struct {
	Endpoint       string
	Headers        string
	ServiceName    string
	ServiceVersion string
}

// Enabled reports whether an OTel collector endpoint has been configured.
func (c OTelConfig) Enabled() bool {
	return c.Endpoint != ""
}

// Load loads configuration from environment variables.
// It provides sensible defaults for development.
func Load() Config {
	return Config{
		Env:  getEnv("ADVENTURE_ENV", "development"),
		Port: getEnv("PORT", "8080"),
		DB: db.Config{
			DSN:      buildDSN(),
			MaxConns: int32(getEnvInt("DB_MAX_CONNS", 10)),
			MinConns: int32(getEnvInt("DB_MIN_CONNS", 2)),
		},
		RedisURL:    getEnv("REDIS_URL", "redis://localhost:6379/0"),
		RedisStream: getEnv("TELEMETRY_STREAM", "adventure_events"),
		Adventure: AdventureConfig{
			StoryLengthDefault:   getEnvInt("STORY_LENGTH_DEFAULT", 10),
			WordDelay:            getEnvMillis("WORD_DELAY_MS", 15),
			ParagraphDelay:       getEnvMillis("PARAGRAPH_DELAY_MS", 50),
			MaxReconnectAttempts: getEnvInt("MAX_RECONNECT_ATTEMPTS", 5),
			ReconnectBackoffBase: getEnvMillis("RECONNECT_BACKOFF_BASE_MS", 1000),
			ReconnectBackoffCap:  getEnvMillis("RECONNECT_BACKOFF_CAP_MS", 30000),
			TextProvider:         getEnv("TEXT_PROVIDER", "openai"),
			TextModel:            getEnv("TEXT_MODEL", "gpt-4o-mini"),
			ImageModel:           getEnv("IMAGE_MODEL", "dall-e-3"),
		},
		OTel: OTelConfig{
			Endpoint:       getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
			Headers:        getEnv("OTEL_EXPORTER_OTLP_HEADERS", ""),
			ServiceName:    getEnv("OTEL_SERVICE_NAME", "adventure-engine"),
			ServiceVersion: getEnv("OTEL_SERVICE_VERSION", "dev"),
		},
	}
}

// buildDSN constructs the database connection string from individual env vars.
func buildDSN() string {
	host := getEnv("DATABASE_HOST", "localhost")
	port := getEnv("DATABASE_PORT", "5432")
	user := getEnv("DATABASE_USER", "postgres")
	password := getEnv("DATABASE_PASSWORD", "postgres")
	name := getEnv("DATABASE_NAME", "adventure")
	sslMode := getEnv("DATABASE_SSLMODE", "disable")

	return fmt.Sprintf(
		"postgres://%s:%s@%s:%s/%s?sslmode=%s",
		user, password, host, port, name, sslMode,
	)
}

// IsProduction returns true if running in production environment.
func (c Config) IsProduction() bool {
	return c.Env == "production"
}

// IsDevelopment returns true if running in development environment.
func (c Config) IsDevelopment() bool {
	return c.Env == "development"
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if value, ok := os.LookupEnv(key); ok {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvMillis(key string, fallbackMs int) time.Duration {
	return time.Duration(getEnvInt(key, fallbackMs)) * time.Millisecond
}
