// Package config loads the chat backend settings from the environment.
package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

const (
	HandshakeFrame = "frame"
	HandshakeQuery = "query"

	StorePostgres = "postgres"
	StoreBadger   = "badger"
	StoreMemory   = "memory"
)

var ErrInvalidConfig = errors.New("invalid config")

// Config holds every runtime setting. Field defaults mirror the production deployment.
type Config struct {
	Addr            string        `env:"CHAT_ADDR" envDefault:":8080"`
	LogLevel        string        `env:"LOG_LEVEL" envDefault:"INFO"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"10s"`

	JWTSecret string        `env:"JWT_SECRET"`
	JWTIssuer string        `env:"JWT_ISSUER" envDefault:"pairchat"`
	TokenTTL  time.Duration `env:"TOKEN_TTL" envDefault:"72h"`

	// Handshake selects how a websocket proves its identity: "frame" expects a
	// first {"type":"auth"} frame, "query" reads ?token= at connect time.
	Handshake      string   `env:"CHAT_HANDSHAKE" envDefault:"frame"`
	AllowedOrigins []string `env:"CHAT_ALLOWED_ORIGINS" envSeparator:","`
	MaxMessageSize int64    `env:"CHAT_MAX_MESSAGE_SIZE" envDefault:"65536"`
	SendBuffer     int      `env:"CHAT_SEND_BUFFER" envDefault:"256"`

	RateBurst    int           `env:"CHAT_RATE_BURST" envDefault:"20"`
	RateInterval time.Duration `env:"CHAT_RATE_INTERVAL" envDefault:"1s"`

	Store       string `env:"CHAT_STORE" envDefault:"postgres"`
	DatabaseDSN string `env:"DATABASE_DSN"`
	BadgerPath  string `env:"BADGER_PATH" envDefault:"./data/chat"`
	StaticPairs string `env:"CHAT_STATIC_PAIRS"`

	RedisAddr       string        `env:"REDIS_ADDR"`
	RedisPassword   string        `env:"REDIS_PASSWORD"`
	RedisDB         int           `env:"REDIS_DB" envDefault:"0"`
	RelayChannel    string        `env:"CHAT_RELAY_CHANNEL" envDefault:"chat:fanout"`
	PartnerCacheTTL time.Duration `env:"PARTNER_CACHE_TTL" envDefault:"5m"`

	HistoryDefaultSize int `env:"HISTORY_DEFAULT_SIZE" envDefault:"20"`
	HistoryMaxSize     int `env:"HISTORY_MAX_SIZE" envDefault:"100"`
}

// Load reads the settings and rejects any the server cannot start with.
func Load() (Config, error) {
	cfg, err := Parse()
	if err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Parse reads an optional .env file, then the process environment, without
// validating. Tools that need only part of the settings check what they use.
func Parse() (Config, error) {
	// A missing .env is normal outside local development.
	_ = godotenv.Load()

	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	return cfg, nil
}

// Validate rejects combinations the server cannot start with.
func (c Config) Validate() error {
	switch c.Handshake {
	case HandshakeFrame, HandshakeQuery:
	default:
		return fmt.Errorf("%w: CHAT_HANDSHAKE must be %q or %q, got %q", ErrInvalidConfig, HandshakeFrame, HandshakeQuery, c.Handshake)
	}

	switch c.Store {
	case StorePostgres:
		if c.DatabaseDSN == "" {
			return fmt.Errorf("%w: DATABASE_DSN is required for the postgres store", ErrInvalidConfig)
		}
	case StoreBadger, StoreMemory:
	default:
		return fmt.Errorf("%w: unknown CHAT_STORE %q", ErrInvalidConfig, c.Store)
	}

	if c.JWTSecret == "" {
		return fmt.Errorf("%w: JWT_SECRET is empty", ErrInvalidConfig)
	}
	if c.MaxMessageSize <= 0 || c.SendBuffer <= 0 {
		return fmt.Errorf("%w: message size and send buffer must be positive", ErrInvalidConfig)
	}
	if c.HistoryDefaultSize <= 0 || c.HistoryMaxSize < c.HistoryDefaultSize {
		return fmt.Errorf("%w: history sizes must satisfy 0 < default <= max", ErrInvalidConfig)
	}
	return nil
}
