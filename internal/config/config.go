// Package config provides environment-driven configuration loading for the
// Triggr node, grouped by concern the way this codebase's config layer has
// always done it.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joeshaw/envdecode"
	"github.com/joho/godotenv"
)

// ServerConfig controls the HTTP + WebSocket gateway (C9).
type ServerConfig struct {
	Host            string        `env:"SERVER_HOST"`
	Port            int           `env:"SERVER_PORT"`
	RequestTimeout  time.Duration `env:"SERVER_REQUEST_TIMEOUT"`
	WSWriteTimeout  time.Duration `env:"SERVER_WS_WRITE_TIMEOUT"`
	WSPingInterval  time.Duration `env:"SERVER_WS_PING_INTERVAL"`
	WSPongTimeout   time.Duration `env:"SERVER_WS_PONG_TIMEOUT"`
}

// StorageConfig controls the embedded KV engine (C1).
type StorageConfig struct {
	DataDir string `env:"STORAGE_DATA_DIR"`
}

// ChainConfig controls the chain ingester (C6). Endpoint is the default
// Substrate-style RPC endpoint the node subscribes to for every project's
// contract address; spec.md §4.6 allows distinct (endpoint, address)
// subscriptions per project, but a single node-wide default endpoint is
// the right scope for this deployment. Every project's subscription uses
// this one endpoint; there is no per-project endpoint override.
type ChainConfig struct {
	Endpoint         string        `env:"CHAIN_ENDPOINT"`
	ReconnectInitial time.Duration `env:"CHAIN_RECONNECT_INITIAL"`
	ReconnectMax     time.Duration `env:"CHAIN_RECONNECT_MAX"`
	IntakeQueueSize  int           `env:"CHAIN_INTAKE_QUEUE_SIZE"`
	TriggerBudget    time.Duration `env:"CHAIN_TRIGGER_BUDGET"`
}

// LoggingConfig controls structured logging.
type LoggingConfig struct {
	Level  string `env:"LOG_LEVEL"`
	Format string `env:"LOG_FORMAT"`
	Output string `env:"LOG_OUTPUT"`
}

// AuthConfig controls console bearer auth and API-key handling.
type AuthConfig struct {
	JWTSecret string        `env:"AUTH_JWT_SECRET"`
	JWTExpiry time.Duration `env:"AUTH_JWT_EXPIRY"`
}

// RateLimitConfig controls the per-key token bucket (§7 RateLimited).
type RateLimitConfig struct {
	RequestsPerSecond float64 `env:"RATE_LIMIT_RPS"`
	Burst             int     `env:"RATE_LIMIT_BURST"`
}

// Config is the node's top-level configuration.
type Config struct {
	Server    ServerConfig
	Storage   StorageConfig
	Chain     ChainConfig
	Logging   LoggingConfig
	Auth      AuthConfig
	RateLimit RateLimitConfig
}

// New returns a Config populated with defaults.
func New() *Config {
	return &Config{
		Server: ServerConfig{
			Host:           "0.0.0.0",
			Port:           8080,
			RequestTimeout: 30 * time.Second,
			WSWriteTimeout: 5 * time.Second,
			WSPingInterval: 30 * time.Second,
			WSPongTimeout:  60 * time.Second,
		},
		Storage: StorageConfig{
			DataDir: "./data",
		},
		Chain: ChainConfig{
			Endpoint:         "ws://127.0.0.1:9944",
			ReconnectInitial: time.Second,
			ReconnectMax:     30 * time.Second,
			IntakeQueueSize:  1024,
			TriggerBudget:    2 * time.Second,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
			Output: "stdout",
		},
		Auth: AuthConfig{
			JWTExpiry: 24 * time.Hour,
		},
		RateLimit: RateLimitConfig{
			RequestsPerSecond: 50,
			Burst:             100,
		},
	}
}

// Load loads an optional .env file, then applies environment overrides on
// top of the defaults.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := New()
	if err := envdecode.Decode(cfg); err != nil {
		if !strings.Contains(err.Error(), "none of the target fields were set") {
			return nil, fmt.Errorf("config: decode env: %w", err)
		}
	}
	if cfg.Server.Port <= 0 {
		return nil, fmt.Errorf("config: invalid server port %d", cfg.Server.Port)
	}
	return cfg, nil
}
