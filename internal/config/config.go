// Package config loads storefront configuration from the environment.
package config

import (
	"fmt"
	"time"

	"github.com/nerochristian/robloxkeys/pkg/database"

	pkgconfig "github.com/nerochristian/robloxkeys/pkg/config"
)

// Config holds all configuration for the storefront service.
type Config struct {
	Environment string `env:"ENVIRONMENT" envDefault:"development"`
	LogLevel    string `env:"LOG_LEVEL" envDefault:"info"`

	// HTTP server
	HTTPPort int `env:"STOREFRONT_HTTP_PORT" envDefault:"8010"`

	// Commerce gateway
	GatewayBaseURL    string        `env:"GATEWAY_BASE_URL,required"`
	GatewayAPIKey     string        `env:"GATEWAY_API_KEY"`
	GatewayAuthHeader string        `env:"GATEWAY_AUTH_HEADER" envDefault:"x-api-key"`
	GatewayAuthScheme string        `env:"GATEWAY_AUTH_SCHEME" envDefault:""`
	GatewayTimeout    time.Duration `env:"GATEWAY_TIMEOUT" envDefault:"10s"`

	// Provider return URLs. The provider appends the return query parameters.
	CheckoutSuccessURL string `env:"CHECKOUT_SUCCESS_URL,required"`
	CheckoutCancelURL  string `env:"CHECKOUT_CANCEL_URL,required"`

	// Crypto confirmation polling
	CryptoPollDelay       time.Duration `env:"CRYPTO_POLL_DELAY" envDefault:"5s"`
	CryptoPollMaxAttempts int           `env:"CRYPTO_POLL_MAX_ATTEMPTS" envDefault:"24"`

	// Vault presentation phases
	VaultLaunchDuration  time.Duration `env:"VAULT_LAUNCH_DURATION" envDefault:"2s"`
	VaultRoutingDuration time.Duration `env:"VAULT_ROUTING_DURATION" envDefault:"1s"`

	// TTLs for Redis-held state
	CartTTL    time.Duration `env:"CART_TTL" envDefault:"168h"`
	SessionTTL time.Duration `env:"SESSION_TTL" envDefault:"24h"`
	CatalogTTL time.Duration `env:"CATALOG_TTL" envDefault:"10m"`

	Postgres database.PostgresConfig
	Redis    database.RedisConfig

	// Kafka
	KafkaBrokers []string `env:"KAFKA_BROKERS" envDefault:"localhost:9092" envSeparator:","`

	// CORS
	CORSAllowedOrigins []string `env:"CORS_ALLOWED_ORIGINS" envDefault:"*" envSeparator:","`

	// Tracing
	TracingEnabled  bool    `env:"TRACING_ENABLED" envDefault:"false"`
	TracingEndpoint string  `env:"TRACING_ENDPOINT" envDefault:"localhost:4318"`
	TracingSample   float64 `env:"TRACING_SAMPLE_RATIO" envDefault:"1.0"`
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := pkgconfig.Load(cfg); err != nil {
		return nil, fmt.Errorf("load storefront config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// validate checks configuration invariants.
func (c *Config) validate() error {
	if c.HTTPPort < 1 || c.HTTPPort > 65535 {
		return fmt.Errorf("invalid HTTP port: %d", c.HTTPPort)
	}
	if c.CryptoPollDelay <= 0 {
		return fmt.Errorf("crypto poll delay must be positive")
	}
	if c.CryptoPollMaxAttempts < 1 {
		return fmt.Errorf("crypto poll max attempts must be at least 1")
	}
	return nil
}
