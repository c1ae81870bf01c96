// Package server provides configuration helpers that define runtime defaults
// and validation for the relay service.
package server

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds the server configuration settings.
type Config struct {
	Port              string
	AllowedOrigins    []string
	MaxMessageSize    int64
	HeartbeatInterval time.Duration
}

func defaultConfig() Config {
	return Config{
		Port:              ":3001",
		AllowedOrigins:    []string{"*"},
		MaxMessageSize:    4096,
		HeartbeatInterval: 30 * time.Second,
	}
}

// NewConfig creates a Config instance populated with default values for all settings.
func NewConfig() *Config {
	cfg := defaultConfig()
	return &cfg
}

// NewConfigFromEnv creates a Config instance from environment variables.
// Falls back to default values if environment variables are not set.
func NewConfigFromEnv() *Config {
	cfg := defaultConfig()

	if port := os.Getenv("PORT"); port != "" {
		cfg.Port = normalizePort(port)
	}

	if origins := os.Getenv("ALLOWED_ORIGINS"); origins != "" {
		cfg.AllowedOrigins = parseOrigins(origins)
	}

	if maxSize := os.Getenv("MAX_MESSAGE_SIZE"); maxSize != "" {
		cfg.MaxMessageSize = parseMaxMessageSize(maxSize, cfg.MaxMessageSize)
	}

	if interval := os.Getenv("HEARTBEAT_INTERVAL"); interval != "" {
		cfg.HeartbeatInterval = parseSeconds(interval, cfg.HeartbeatInterval)
	}

	return &cfg
}

// normalizePort accepts both ":3001" and bare "3001" forms, as hosting
// platforms typically inject the latter.
func normalizePort(port string) string {
	if strings.HasPrefix(port, ":") {
		return port
	}
	return ":" + port
}

func parseOrigins(origins string) []string {
	parts := strings.Split(origins, ",")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	return parts
}

func parseMaxMessageSize(value string, defaultValue int64) int64 {
	if size, err := strconv.ParseInt(value, 10, 64); err == nil && size > 0 {
		return size
	}
	return defaultValue
}

func parseSeconds(value string, defaultValue time.Duration) time.Duration {
	if seconds, err := strconv.Atoi(value); err == nil && seconds > 0 {
		return time.Duration(seconds) * time.Second
	}
	return defaultValue
}
