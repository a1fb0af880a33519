// Package config provides application configuration.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/ashureev/whiteboard-tutor/internal/client"
)

// Config holds all server configuration.
type Config struct {
	Port           string
	FrontendURL    string
	DBPath         string
	UploadDir      string
	SessionTTL     time.Duration
	PlannerAddr    string
	PlannerTimeout time.Duration
	MaxUploadBytes int64
	InboundRate    float64
	InboundBurst   int
	Dev            bool
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	frontend := getEnv("FRONTEND_URL", "")
	cfg := &Config{
		Port:           getEnv("PORT", "8000"),
		FrontendURL:    frontend,
		DBPath:         getEnv("DB_PATH", "./data/tutor.db"),
		UploadDir:      getEnv("UPLOAD_DIR", "./data/uploads"),
		SessionTTL:     getEnvDuration("SESSION_TTL", 60*time.Minute),
		PlannerAddr:    getEnv("PLANNER_ADDR", ""),
		PlannerTimeout: getEnvDuration("PLANNER_TIMEOUT", 10*time.Second),
		MaxUploadBytes: int64(getEnvInt("MAX_UPLOAD_BYTES", 10<<20)),
		InboundRate:    getEnvFloat("INBOUND_RATE", 50),
		InboundBurst:   getEnvInt("INBOUND_BURST", 100),
		Dev:            isDevelopment(frontend),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks that all required configuration fields are set.
func (c *Config) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("PORT cannot be empty")
	}
	if c.DBPath == "" {
		return fmt.Errorf("DB_PATH cannot be empty")
	}
	if c.UploadDir == "" {
		return fmt.Errorf("UPLOAD_DIR cannot be empty")
	}
	if c.SessionTTL <= 0 {
		return fmt.Errorf("SESSION_TTL must be > 0")
	}
	if c.PlannerTimeout <= 0 {
		return fmt.Errorf("PLANNER_TIMEOUT must be > 0")
	}
	if c.MaxUploadBytes <= 0 {
		return fmt.Errorf("MAX_UPLOAD_BYTES must be > 0")
	}
	if c.InboundRate < 0 {
		return fmt.Errorf("INBOUND_RATE must be >= 0")
	}
	return nil
}

// AllowedOrigin is the origin browsers may connect from.
func (c *Config) AllowedOrigin() string {
	if c.FrontendURL == "" {
		return "*"
	}
	return strings.TrimRight(c.FrontendURL, "/")
}

// LoadClient reads the client connection settings, starting from
// client.DefaultConfig.
func LoadClient() (client.Config, error) {
	cfg := client.DefaultConfig()
	cfg.BaseURL = getEnv("TUTOR_URL", cfg.BaseURL)
	cfg.DevHost = getEnv("TUTOR_DEV_HOST", cfg.DevHost)
	cfg.Dev = getEnvBool("TUTOR_DEV", cfg.Dev)
	cfg.MaxReconnectAttempts = getEnvInt("RECONNECT_MAX_ATTEMPTS", cfg.MaxReconnectAttempts)
	cfg.BaseDelay = getEnvDuration("RECONNECT_BASE_DELAY", cfg.BaseDelay)
	cfg.HeartbeatInterval = getEnvDuration("HEARTBEAT_INTERVAL", cfg.HeartbeatInterval)

	if err := cfg.Validate(); err != nil {
		return client.Config{}, fmt.Errorf("invalid client configuration: %w", err)
	}
	return cfg, nil
}

// isDevelopment honours APP_ENV and otherwise guesses from the frontend URL.
func isDevelopment(frontendURL string) bool {
	if env := os.Getenv("APP_ENV"); env != "" {
		return env == "development"
	}
	return frontendURL == "" ||
		strings.Contains(frontendURL, "localhost") ||
		strings.Contains(frontendURL, "127.0.0.1")
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}

func getEnvInt(key string, fallback int) int {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return n
}

func getEnvFloat(key string, fallback float64) float64 {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
	if err != nil {
		return fallback
	}
	return f
}

// getEnvDuration accepts Go durations ("90s") or a bare number of seconds.
func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	value = strings.TrimSpace(value)
	if d, err := time.ParseDuration(value); err == nil {
		return d
	}
	if n, err := strconv.Atoi(value); err == nil {
		return time.Duration(n) * time.Second
	}
	return fallback
}
