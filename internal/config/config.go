// Package config loads server configuration from the environment.
// An optional .env file in the working directory is read first; variables
// already set in the environment win.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"

	"github.com/galadrimteam/groupchat/internal/chat"
)

// Config holds all server configuration.
type Config struct {
	Port      string `env:"PORT" envDefault:"3000"`
	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"json"`

	DefaultTopic string        `env:"CHAT_DEFAULT_TOPIC" envDefault:"group"`
	QueueSize    int           `env:"CHAT_QUEUE_SIZE" envDefault:"16"`
	DrainTimeout time.Duration `env:"CHAT_DRAIN_TIMEOUT" envDefault:"5s"`
	PingInterval time.Duration `env:"CHAT_PING_INTERVAL" envDefault:"30s"`
	PongTimeout  time.Duration `env:"CHAT_PONG_TIMEOUT" envDefault:"90s"`
	WriteTimeout time.Duration `env:"CHAT_WRITE_TIMEOUT" envDefault:"10s"`

	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"10s"`

	// RedisURL enables the cross-instance relay when set.
	RedisURL           string `env:"REDIS_URL"`
	RedisChannelPrefix string `env:"REDIS_CHANNEL_PREFIX" envDefault:"chat:"`
}

// Load reads .env (if present) and parses the environment into a Config.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}
	return Parse()
}

// Parse parses the current environment without touching .env files.
func Parse() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks values env tags cannot express.
func (c Config) Validate() error {
	if c.QueueSize < 1 {
		return fmt.Errorf("CHAT_QUEUE_SIZE must be at least 1, got %d", c.QueueSize)
	}
	if c.PingInterval <= 0 {
		return fmt.Errorf("CHAT_PING_INTERVAL must be positive, got %s", c.PingInterval)
	}
	if c.PongTimeout <= c.PingInterval {
		return fmt.Errorf("CHAT_PONG_TIMEOUT (%s) must exceed CHAT_PING_INTERVAL (%s)", c.PongTimeout, c.PingInterval)
	}
	if err := chat.ValidateTopic(c.DefaultTopic); err != nil {
		return fmt.Errorf("CHAT_DEFAULT_TOPIC %q: %w", c.DefaultTopic, err)
	}
	return nil
}

// Addr returns the listen address.
func (c Config) Addr() string {
	return ":" + c.Port
}
