package client

import (
	"errors"
	"fmt"
	"time"
)

// Config holds connection manager settings.
type Config struct {
	// BaseURL is the page the client was served from. Its scheme decides
	// between ws and wss and its host is used outside dev mode.
	BaseURL string
	// DevHost replaces the page host when Dev is set, e.g. "localhost:8000".
	DevHost string
	Dev     bool

	MaxReconnectAttempts int
	BaseDelay            time.Duration
	HeartbeatInterval    time.Duration

	DialTimeout  time.Duration
	WriteTimeout time.Duration
	// ReadLimit caps inbound frame size in bytes. Zero keeps the library default.
	ReadLimit int64
}

// DefaultConfig returns the default connection settings.
func DefaultConfig() Config {
	return Config{
		BaseURL:              "http://localhost:8000",
		DevHost:              "localhost:8000",
		MaxReconnectAttempts: 5,
		BaseDelay:            time.Second,
		HeartbeatInterval:    25 * time.Second,
		DialTimeout:          10 * time.Second,
		WriteTimeout:         5 * time.Second,
		ReadLimit:            1 << 20,
	}
}

// Validate checks that the settings are usable.
func (c Config) Validate() error {
	if c.BaseURL == "" && !(c.Dev && c.DevHost != "") {
		return errors.New("base URL is required outside dev mode")
	}
	if c.MaxReconnectAttempts < 0 {
		return fmt.Errorf("max reconnect attempts must not be negative, got %d", c.MaxReconnectAttempts)
	}
	if c.BaseDelay <= 0 {
		return fmt.Errorf("base delay must be positive, got %s", c.BaseDelay)
	}
	if c.HeartbeatInterval <= 0 {
		return fmt.Errorf("heartbeat interval must be positive, got %s", c.HeartbeatInterval)
	}
	return nil
}

// withDefaults replaces unusable timing values with the defaults so a
// partially filled Config still drives a working manager.
func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.MaxReconnectAttempts < 0 {
		c.MaxReconnectAttempts = 0
	}
	if c.BaseDelay <= 0 {
		c.BaseDelay = d.BaseDelay
	}
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = d.HeartbeatInterval
	}
	return c
}
