// Package config provides configuration loading for the lab client.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all configuration values for the lab client and the
// bundled development server.
type Config struct {
	// Platform endpoints
	ServerURL string // REST base, e.g. http://localhost:8080
	WSBaseURL string // WebSocket base, derived from ServerURL when unset

	// Identity passed to the lab-session endpoint. There is no
	// authentication on the platform; this is a plain user id.
	UserID int

	// HTTP client settings
	HTTPTimeout time.Duration

	// Terminal session settings
	ReconnectMaxAttempts int
	ReconnectBaseDelay   time.Duration
	ReconnectMaxDelay    time.Duration

	// WebSocket settings
	WSReadBufferSize   int
	WSWriteBufferSize  int
	WSHandshakeTimeout time.Duration

	// Development server settings
	DevPort       int
	DevHost       string
	DevShell      string
	DevDBPath     string
	DevLabMinutes int
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	serverURL := strings.TrimRight(getEnv("LAB_SERVER_URL", "http://localhost:8080"), "/")

	cfg := &Config{
		ServerURL: serverURL,
		WSBaseURL: strings.TrimRight(getEnv("LAB_WS_URL", ""), "/"),

		UserID: getEnvInt("LAB_USER_ID", 1),

		HTTPTimeout: getEnvDuration("LAB_HTTP_TIMEOUT", 15*time.Second),

		ReconnectMaxAttempts: getEnvInt("LAB_RECONNECT_MAX_ATTEMPTS", 3),
		ReconnectBaseDelay:   getEnvDuration("LAB_RECONNECT_BASE_DELAY", time.Second),
		ReconnectMaxDelay:    getEnvDuration("LAB_RECONNECT_MAX_DELAY", 10*time.Second),

		WSReadBufferSize:   getEnvInt("LAB_WS_READ_BUFFER_SIZE", 1024),
		WSWriteBufferSize:  getEnvInt("LAB_WS_WRITE_BUFFER_SIZE", 1024),
		WSHandshakeTimeout: getEnvDuration("LAB_WS_HANDSHAKE_TIMEOUT", 10*time.Second),

		DevPort:       getEnvInt("LAB_DEV_PORT", 8080),
		DevHost:       getEnv("LAB_DEV_HOST", "127.0.0.1"),
		DevShell:      getEnv("LAB_DEV_SHELL", "/bin/bash"),
		DevDBPath:     getEnv("LAB_DEV_DB_PATH", "labdev.db"),
		DevLabMinutes: getEnvInt("LAB_DEV_LAB_MINUTES", 60),
	}

	if cfg.ServerURL == "" {
		return nil, fmt.Errorf("LAB_SERVER_URL is required")
	}

	// Derive the WebSocket base from the REST base when not set explicitly.
	if cfg.WSBaseURL == "" {
		cfg.WSBaseURL = deriveWSBase(cfg.ServerURL)
	}

	if cfg.ReconnectMaxAttempts < 0 {
		return nil, fmt.Errorf("LAB_RECONNECT_MAX_ATTEMPTS must not be negative")
	}

	return cfg, nil
}

// deriveWSBase converts an http(s) base URL to its ws(s) counterpart.
func deriveWSBase(serverURL string) string {
	switch {
	case strings.HasPrefix(serverURL, "https://"):
		return "wss://" + strings.TrimPrefix(serverURL, "https://")
	case strings.HasPrefix(serverURL, "http://"):
		return "ws://" + strings.TrimPrefix(serverURL, "http://")
	default:
		return "ws://" + serverURL
	}
}

// getEnv returns the value of an environment variable or a default.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt returns an integer environment variable or a default.
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

// getEnvDuration returns a duration environment variable or a default.
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
