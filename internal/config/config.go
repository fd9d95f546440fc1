// Package config provides environment configuration for the Memory Hub client.
package config

import (
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// ErrMissingBaseURL is returned when no backend base URL is configured.
var ErrMissingBaseURL = errors.New("MEMHUB_API_BASE_URL is not set")

// Config holds all configuration for the application.
type Config struct {
	// Backend settings
	APIBaseURL string

	// Identity overrides; empty values fall back to the stored credentials.
	TenantID string
	UserID   string
	Token    string
	AuthFile string

	// Bridge settings
	BridgeAddr         string
	BridgeToken        string
	BridgeReadTimeout  time.Duration
	BridgeWriteTimeout time.Duration

	// Rate limiting
	RateLimitRequests int
	RateLimitWindow   time.Duration

	// NATS settings
	NATSURL      string
	NATSCAFile   string
	NATSCertFile string
	NATSKeyFile  string
	NATSToken    string

	// Logging
	LogLevel string
	LogFile  string

	// Tracing
	TracingEndpoint string
	TracingEnabled  bool
}

// Load reads configuration from a .env file, if present, and the environment.
func Load() *Config {
	// A missing .env is normal outside development.
	_ = godotenv.Load()

	return &Config{
		// Backend
		APIBaseURL: strings.TrimSuffix(getEnv("MEMHUB_API_BASE_URL", ""), "/"),

		// Identity
		TenantID: getEnv("MEMHUB_TENANT_ID", ""),
		UserID:   getEnv("MEMHUB_USER_ID", ""),
		Token:    getEnv("MEMHUB_TOKEN", ""),
		AuthFile: getEnv("MEMHUB_AUTH_FILE", defaultAuthFile()),

		// Bridge
		BridgeAddr:        getEnv("BRIDGE_ADDR", "127.0.0.1:8787"),
		BridgeToken:       getEnv("BRIDGE_TOKEN", ""),
		BridgeReadTimeout: getDurationEnv("BRIDGE_READ_TIMEOUT", 30*time.Second),
		// Zero leaves SSE connections open indefinitely.
		BridgeWriteTimeout: getDurationEnv("BRIDGE_WRITE_TIMEOUT", 0),

		// Rate limiting
		RateLimitRequests: getIntEnv("RATE_LIMIT_REQUESTS", 120),
		RateLimitWindow:   getDurationEnv("RATE_LIMIT_WINDOW", time.Minute),

		// NATS
		NATSURL:      getEnv("NATS_URL", ""),
		NATSCAFile:   getEnv("NATS_CA_FILE", ""),
		NATSCertFile: getEnv("NATS_CERT_FILE", ""),
		NATSKeyFile:  getEnv("NATS_KEY_FILE", ""),
		NATSToken:    getEnv("NATS_TOKEN", ""),

		// Logging
		LogLevel: getEnv("LOG_LEVEL", "info"),
		LogFile:  getEnv("MEMHUB_LOG_FILE", ""),

		// Tracing
		TracingEndpoint: getEnv("TRACING_ENDPOINT", "localhost:4318"),
		TracingEnabled:  getBoolEnv("TRACING_ENABLED", false),
	}
}

// Validate checks the settings every network command needs.
func (c *Config) Validate() error {
	if c.APIBaseURL == "" {
		return ErrMissingBaseURL
	}
	return nil
}

// JournalEnabled reports whether activity events go to NATS.
func (c *Config) JournalEnabled() bool {
	return c.NATSURL != ""
}

func defaultAuthFile() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		dir = "."
	}
	return filepath.Join(dir, "memhub", "auth.yaml")
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getBoolEnv(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
