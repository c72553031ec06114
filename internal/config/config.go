package config

import (
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
)

// COB modes for coordination of benefits across a patient's enrollments.
const (
	COBResidual   = "residual"
	COBFirstPayer = "first-payer"
)

type Config struct {
	Port          string   `mapstructure:"PORT"`
	Env           string   `mapstructure:"ENV"`
	DatabaseURL   string   `mapstructure:"DATABASE_URL"`
	DBMaxConns    int32    `mapstructure:"DB_MAX_CONNS"`
	DBMinConns    int32    `mapstructure:"DB_MIN_CONNS"`
	DefaultTenant string   `mapstructure:"DEFAULT_TENANT"`
	CORSOrigins   []string `mapstructure:"CORS_ORIGINS"`

	AuthIssuer        string `mapstructure:"AUTH_ISSUER"`
	AuthAudience      string `mapstructure:"AUTH_AUDIENCE"`
	AuthPublicKeyFile string `mapstructure:"AUTH_PUBLIC_KEY_FILE"`
	AuthSigningKey    string `mapstructure:"AUTH_SIGNING_KEY"`

	RateLimitRPS   float64 `mapstructure:"RATE_LIMIT_RPS"`
	RateLimitBurst int     `mapstructure:"RATE_LIMIT_BURST"`

	// Pricing and adjudication policy.
	MarkupRate             float64 `mapstructure:"MARKUP_RATE"`
	DispensingFee          float64 `mapstructure:"DISPENSING_FEE"`
	ProvincialCoverageRate float64 `mapstructure:"PROVINCIAL_COVERAGE_RATE"`
	PrivateCoverageRate    float64 `mapstructure:"PRIVATE_COVERAGE_RATE"`
	COBMode                string  `mapstructure:"COB_MODE"`
	InvoiceGraceDays       int     `mapstructure:"INVOICE_GRACE_DAYS"`

	RedisURL string        `mapstructure:"REDIS_URL"`
	LockTTL  time.Duration `mapstructure:"LOCK_TTL"`
	LockWait time.Duration `mapstructure:"LOCK_WAIT"`

	AMQPURL      string `mapstructure:"AMQP_URL"`
	AMQPExchange string `mapstructure:"AMQP_EXCHANGE"`
}

var keys = []string{
	"PORT", "ENV", "DATABASE_URL", "DB_MAX_CONNS", "DB_MIN_CONNS", "DEFAULT_TENANT", "CORS_ORIGINS",
	"AUTH_ISSUER", "AUTH_AUDIENCE", "AUTH_PUBLIC_KEY_FILE", "AUTH_SIGNING_KEY",
	"RATE_LIMIT_RPS", "RATE_LIMIT_BURST",
	"MARKUP_RATE", "DISPENSING_FEE", "PROVINCIAL_COVERAGE_RATE", "PRIVATE_COVERAGE_RATE",
	"COB_MODE", "INVOICE_GRACE_DAYS",
	"REDIS_URL", "LOCK_TTL", "LOCK_WAIT",
	"AMQP_URL", "AMQP_EXCHANGE",
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.AutomaticEnv()

	v.SetDefault("PORT", "8000")
	v.SetDefault("ENV", "development")
	v.SetDefault("DB_MAX_CONNS", 20)
	v.SetDefault("DB_MIN_CONNS", 5)
	v.SetDefault("DEFAULT_TENANT", "default")
	v.SetDefault("CORS_ORIGINS", "http://localhost:3000")
	v.SetDefault("RATE_LIMIT_RPS", 100)
	v.SetDefault("RATE_LIMIT_BURST", 200)
	v.SetDefault("MARKUP_RATE", 0.10)
	v.SetDefault("DISPENSING_FEE", 12.00)
	v.SetDefault("PROVINCIAL_COVERAGE_RATE", 0.75)
	v.SetDefault("PRIVATE_COVERAGE_RATE", 0.80)
	v.SetDefault("COB_MODE", COBResidual)
	v.SetDefault("INVOICE_GRACE_DAYS", 30)
	v.SetDefault("LOCK_TTL", "30s")
	v.SetDefault("LOCK_WAIT", "10s")
	v.SetDefault("AMQP_EXCHANGE", "rxledger.events")

	// Bind env vars explicitly so Unmarshal picks them up
	for _, k := range keys {
		v.BindEnv(k)
	}

	// Try reading .env file, but don't fail if missing
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if cfg.CORSOrigins == nil {
		origins := v.GetString("CORS_ORIGINS")
		if origins != "" {
			cfg.CORSOrigins = strings.Split(origins, ",")
		}
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	if cfg.IsDev() {
		log.Println("WARNING: running in DEVELOPMENT mode (ENV=development); requests are not authenticated.")
	}

	return cfg, nil
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// Validate rejects settings the engine cannot run with.
func (c *Config) Validate() error {
	if !c.IsDev() && c.AuthSigningKey == "" && c.AuthPublicKeyFile == "" {
		return fmt.Errorf("AUTH_PUBLIC_KEY_FILE or AUTH_SIGNING_KEY must be set outside development (ENV=%q)", c.Env)
	}

	rates := map[string]float64{
		"MARKUP_RATE":              c.MarkupRate,
		"PROVINCIAL_COVERAGE_RATE": c.ProvincialCoverageRate,
		"PRIVATE_COVERAGE_RATE":    c.PrivateCoverageRate,
	}
	for name, r := range rates {
		if r < 0 || r > 1 {
			return fmt.Errorf("%s must be between 0 and 1, got %v", name, r)
		}
	}
	if c.DispensingFee < 0 {
		return fmt.Errorf("DISPENSING_FEE must not be negative, got %v", c.DispensingFee)
	}
	if c.InvoiceGraceDays < 0 {
		return fmt.Errorf("INVOICE_GRACE_DAYS must not be negative, got %d", c.InvoiceGraceDays)
	}
	if c.COBMode != COBResidual && c.COBMode != COBFirstPayer {
		return fmt.Errorf("COB_MODE must be %q or %q, got %q", COBResidual, COBFirstPayer, c.COBMode)
	}
	if c.LockTTL <= 0 || c.LockWait < 0 {
		return fmt.Errorf("LOCK_TTL must be positive and LOCK_WAIT non-negative")
	}
	return nil
}

// Decimal converts a configured rate or amount into an exact decimal.
func Decimal(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}
