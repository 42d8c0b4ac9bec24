// Package config loads service configuration from defaults, an optional YAML
// file, a .env file and the process environment, in that order.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joeshaw/envdecode"
	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/R3E-Network/tip_settlement/internal/logging"
)

// Config is the root configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	Redis     RedisConfig     `yaml:"redis"`
	Kafka     KafkaConfig     `yaml:"kafka"`
	Auth      AuthConfig      `yaml:"auth"`
	Stripe    StripeConfig    `yaml:"stripe"`
	Tips      TipsConfig      `yaml:"tips"`
	Fees      FeesConfig      `yaml:"fees"`
	Fraud     FraudConfig     `yaml:"fraud"`
	Sweeper   SweeperConfig   `yaml:"sweeper"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	Logging   logging.Config  `yaml:"logging"`
}

type ServerConfig struct {
	Host            string        `yaml:"host" env:"SERVER_HOST"`
	Port            int           `yaml:"port" env:"PORT"`
	ReadTimeout     time.Duration `yaml:"read_timeout" env:"SERVER_READ_TIMEOUT"`
	WriteTimeout    time.Duration `yaml:"write_timeout" env:"SERVER_WRITE_TIMEOUT"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"SERVER_SHUTDOWN_TIMEOUT"`
	AllowedOrigins  []string      `yaml:"allowed_origins" env:"CORS_ALLOWED_ORIGINS"`

	// PublicURL is the externally reachable base used in onboarding links.
	PublicURL string `yaml:"public_url" env:"PUBLIC_BASE_URL"`
}

// DatabaseConfig selects persistence. An empty DSN means in-memory stores.
type DatabaseConfig struct {
	Driver          string `yaml:"driver" env:"DATABASE_DRIVER"`
	DSN             string `yaml:"dsn" env:"DATABASE_URL"`
	MaxOpenConns    int    `yaml:"max_open_conns" env:"DATABASE_MAX_OPEN_CONNS"`
	MaxIdleConns    int    `yaml:"max_idle_conns" env:"DATABASE_MAX_IDLE_CONNS"`
	ConnMaxLifetime int    `yaml:"conn_max_lifetime" env:"DATABASE_CONN_MAX_LIFETIME"`
	MigrateOnStart  bool   `yaml:"migrate_on_start" env:"DATABASE_MIGRATE_ON_START"`
}

// RedisConfig enables cross-instance notification fan-out when Addr is set.
type RedisConfig struct {
	Addr     string `yaml:"addr" env:"REDIS_ADDR"`
	Password string `yaml:"password" env:"REDIS_PASSWORD"`
	DB       int    `yaml:"db" env:"REDIS_DB"`
}

// KafkaConfig enables lifecycle event publishing when Brokers is non-empty.
// KAFKA_BROKERS is semicolon separated.
type KafkaConfig struct {
	Brokers []string `yaml:"brokers" env:"KAFKA_BROKERS"`
	Topic   string   `yaml:"topic" env:"KAFKA_TIP_TOPIC"`
}

type AuthConfig struct {
	JWTSecret string `yaml:"jwt_secret" env:"JWT_SECRET"`
	Issuer    string `yaml:"issuer" env:"JWT_ISSUER"`
}

// StripeConfig configures the payment processor. Mode "mock" uses an
// in-process processor.
type StripeConfig struct {
	Mode          string        `yaml:"mode" env:"STRIPE_MODE"`
	SecretKey     string        `yaml:"secret_key" env:"STRIPE_SECRET_KEY"`
	WebhookSecret string        `yaml:"webhook_secret" env:"STRIPE_WEBHOOK_SECRET"`
	Currency      string        `yaml:"currency" env:"STRIPE_CURRENCY"`
	Timeout       time.Duration `yaml:"timeout" env:"STRIPE_TIMEOUT"`
	MaxRetries    int64         `yaml:"max_retries" env:"STRIPE_MAX_RETRIES"`
}

type TipsConfig struct {
	MaxAmount         string        `yaml:"max_amount" env:"TIP_MAX_AMOUNT"`
	ClockSkew         time.Duration `yaml:"clock_skew" env:"TIP_CLOCK_SKEW"`
	ActiveDevicesOnly bool          `yaml:"active_devices_only" env:"TIP_ACTIVE_DEVICES_ONLY"`
	NotifyTimeout     time.Duration `yaml:"notify_timeout" env:"TIP_NOTIFY_TIMEOUT"`
	DefaultTimezone   string        `yaml:"default_timezone" env:"TIP_DEFAULT_TIMEZONE"`
}

// FeesConfig holds percentages as decimal strings and fixed fees in minor units.
type FeesConfig struct {
	ProcessorPercent string `yaml:"processor_percent" env:"FEE_PROCESSOR_PERCENT"`
	ProcessorFixed   int64  `yaml:"processor_fixed" env:"FEE_PROCESSOR_FIXED"`
	PlatformPercent  string `yaml:"platform_percent" env:"FEE_PLATFORM_PERCENT"`
	PlatformFixed    int64  `yaml:"platform_fixed" env:"FEE_PLATFORM_FIXED"`
	MinimumCharge    int64  `yaml:"minimum_charge" env:"FEE_MINIMUM_CHARGE"`
}

type FraudConfig struct {
	MaxDisputes     int    `yaml:"max_disputes" env:"FRAUD_MAX_DISPUTES"`
	MaxDisputeRatio string `yaml:"max_dispute_ratio" env:"FRAUD_MAX_DISPUTE_RATIO"`
}

type SweeperConfig struct {
	Enabled  bool          `yaml:"enabled" env:"SWEEPER_ENABLED"`
	Schedule string        `yaml:"schedule" env:"SWEEPER_SCHEDULE"`
	MinAge   time.Duration `yaml:"min_age" env:"SWEEPER_MIN_AGE"`
	Batch    int           `yaml:"batch" env:"SWEEPER_BATCH"`
}

type RateLimitConfig struct {
	RequestsPerSecond int `yaml:"requests_per_second" env:"RATE_LIMIT_RPS"`
	Burst             int `yaml:"burst" env:"RATE_LIMIT_BURST"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            8080,
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    15 * time.Second,
			ShutdownTimeout: 10 * time.Second,
			PublicURL:       "http://localhost:8080",
		},
		Database: DatabaseConfig{
			Driver:          "postgres",
			MaxOpenConns:    20,
			MaxIdleConns:    5,
			ConnMaxLifetime: 300,
		},
		Kafka: KafkaConfig{Topic: "tips.lifecycle"},
		Auth:  AuthConfig{Issuer: "tip-settlement"},
		Stripe: StripeConfig{
			Mode:       "live",
			Currency:   "usd",
			Timeout:    10 * time.Second,
			MaxRetries: 2,
		},
		Tips: TipsConfig{
			MaxAmount:       "500",
			ClockSkew:       120 * time.Second,
			NotifyTimeout:   5 * time.Second,
			DefaultTimezone: "UTC",
		},
		Fees: FeesConfig{
			ProcessorPercent: "2.9",
			ProcessorFixed:   30,
			PlatformPercent:  "0",
			PlatformFixed:    0,
			MinimumCharge:    50,
		},
		Fraud: FraudConfig{
			MaxDisputes:     3,
			MaxDisputeRatio: "0.2",
		},
		Sweeper: SweeperConfig{
			Enabled:  true,
			Schedule: "@every 5m",
			MinAge:   15 * time.Minute,
			Batch:    100,
		},
		RateLimit: RateLimitConfig{RequestsPerSecond: 10, Burst: 20},
		Logging:   logging.Config{Level: "info", Format: "json"},
	}
}

// Load builds the configuration. CONFIG_FILE names an optional YAML file and
// ENV_FILE an optional dotenv file (default ".env").
func Load() (*Config, error) {
	cfg := Default()

	if path := strings.TrimSpace(os.Getenv("CONFIG_FILE")); path != "" {
		if err := loadYAML(path, cfg); err != nil {
			return nil, err
		}
	}

	envFile := os.Getenv("ENV_FILE")
	if envFile == "" {
		envFile = ".env"
	}
	if err := godotenv.Load(envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load %s: %w", envFile, err)
	}

	if err := envdecode.Decode(cfg); err != nil && !errors.Is(err, envdecode.ErrNoTargetFieldsAreSet) {
		return nil, fmt.Errorf("decode environment: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func loadYAML(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse config file: %w", err)
	}
	return nil
}

// Validate checks values that would otherwise fail deep inside a request.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server port %d out of range", c.Server.Port)
	}

	maxAmount, err := decimal.NewFromString(c.Tips.MaxAmount)
	if err != nil {
		return fmt.Errorf("tips.max_amount: %w", err)
	}
	if !maxAmount.IsPositive() {
		return fmt.Errorf("tips.max_amount must be positive")
	}
	if c.Tips.ClockSkew <= 0 {
		return fmt.Errorf("tips.clock_skew must be positive")
	}

	for name, raw := range map[string]string{
		"fees.processor_percent":  c.Fees.ProcessorPercent,
		"fees.platform_percent":   c.Fees.PlatformPercent,
		"fraud.max_dispute_ratio": c.Fraud.MaxDisputeRatio,
	} {
		v, err := decimal.NewFromString(raw)
		if err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
		if v.IsNegative() {
			return fmt.Errorf("%s must not be negative", name)
		}
	}
	if c.Fees.ProcessorFixed < 0 || c.Fees.PlatformFixed < 0 {
		return fmt.Errorf("fixed fees must not be negative")
	}
	if c.Fees.MinimumCharge <= 0 {
		return fmt.Errorf("fees.minimum_charge must be positive")
	}
	if c.Fraud.MaxDisputes <= 0 {
		return fmt.Errorf("fraud.max_disputes must be positive")
	}

	switch strings.ToLower(c.Stripe.Mode) {
	case "live":
		if c.Stripe.SecretKey == "" {
			return fmt.Errorf("STRIPE_SECRET_KEY is required unless STRIPE_MODE=mock")
		}
	case "mock":
	default:
		return fmt.Errorf("unknown stripe mode %q", c.Stripe.Mode)
	}
	return nil
}

// MockProcessor reports whether the in-process processor is selected.
func (c *Config) MockProcessor() bool {
	return strings.EqualFold(c.Stripe.Mode, "mock")
}
