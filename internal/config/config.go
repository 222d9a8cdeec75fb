package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"

	"levra.org/internal/auth"
)

const Production = "production"

// Config is the portal server configuration, read from the environment.
type Config struct {
	Environment string `env:"PORTAL_ENV" envDefault:"development"`
	HTTPAddr    string `env:"PORTAL_HTTP_ADDR" envDefault:":8080"`
	GRPCAddr    string `env:"PORTAL_GRPC_ADDR" envDefault:":9090"`
	LogLevel    string `env:"PORTAL_LOG_LEVEL" envDefault:"info"`

	// DatabaseURL selects the Postgres store; empty runs on the in-memory store.
	DatabaseURL string `env:"PORTAL_DATABASE_URL"`
	// AdminIDs seeds the static role resolver used with the in-memory store.
	AdminIDs []string `env:"PORTAL_ADMIN_IDS" envSeparator:","`

	RedisURL     string `env:"PORTAL_REDIS_URL"`
	RedisChannel string `env:"PORTAL_REDIS_CHANNEL" envDefault:"levra:changes"`
	StreamBuffer int    `env:"PORTAL_STREAM_BUFFER" envDefault:"64"`

	CatalogPath string `env:"PORTAL_CATALOG_PATH"`

	CORSOrigins    []string      `env:"PORTAL_CORS_ORIGINS" envSeparator:"," envDefault:"*"`
	RateLimitBurst int           `env:"PORTAL_RATE_LIMIT_BURST" envDefault:"40"`
	RateLimitRPS   int           `env:"PORTAL_RATE_LIMIT_RPS" envDefault:"20"`
	DevTokens      bool          `env:"PORTAL_DEV_TOKENS" envDefault:"false"`
	TokenTTL       time.Duration `env:"PORTAL_TOKEN_TTL" envDefault:"12h"`

	SettlementLatency time.Duration `env:"PORTAL_SETTLEMENT_LATENCY" envDefault:"0s"`
	ShutdownTimeout   time.Duration `env:"PORTAL_SHUTDOWN_TIMEOUT" envDefault:"10s"`
}

// LoadEnv loads the env files that exist and returns how many were read.
// Variables already set in the process win.
func LoadEnv(files ...string) (int, error) {
	existing := make([]string, 0, len(files))
	for _, file := range files {
		if _, err := os.Stat(file); err == nil {
			existing = append(existing, file)
		}
	}
	if len(existing) == 0 {
		return 0, nil
	}
	return len(existing), godotenv.Load(existing...)
}

// Load reads .env files, parses the environment and validates the result.
func Load(files ...string) (*Config, error) {
	if len(files) == 0 {
		files = []string{".env", ".env.local"}
	}
	if _, err := LoadEnv(files...); err != nil {
		return nil, fmt.Errorf("load env files: %w", err)
	}
	var c Config
	if err := env.Parse(&c); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

func (c *Config) Validate() error {
	c.Environment = strings.ToLower(strings.TrimSpace(c.Environment))
	if strings.TrimSpace(c.HTTPAddr) == "" {
		return errors.New("PORTAL_HTTP_ADDR is required")
	}
	if c.RateLimitBurst < 0 || c.RateLimitRPS < 0 {
		return fmt.Errorf("rate limit must be non-negative, got burst=%d rps=%d", c.RateLimitBurst, c.RateLimitRPS)
	}
	if c.StreamBuffer <= 0 {
		return fmt.Errorf("PORTAL_STREAM_BUFFER must be positive, got %d", c.StreamBuffer)
	}
	if c.TokenTTL <= 0 || c.TokenTTL > auth.MaxTTL {
		return fmt.Errorf("PORTAL_TOKEN_TTL must be in (0, %s], got %s", auth.MaxTTL, c.TokenTTL)
	}
	if c.Environment == Production && c.DevTokens {
		return errors.New("PORTAL_DEV_TOKENS cannot be enabled in production")
	}
	if c.Environment == Production && c.DatabaseURL == "" {
		return errors.New("PORTAL_DATABASE_URL is required in production")
	}
	admins := c.AdminIDs[:0]
	for _, id := range c.AdminIDs {
		if id = strings.TrimSpace(id); id != "" {
			admins = append(admins, id)
		}
	}
	c.AdminIDs = admins
	return nil
}

// UsesPostgres reports whether a database is configured.
func (c *Config) UsesPostgres() bool {
	return strings.TrimSpace(c.DatabaseURL) != ""
}
