package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	Auth      AuthConfig
	Log       LogConfig
	Billing   BillingConfig
	Scheduler SchedulerConfig
}

type ServerConfig struct {
	Port            string
	BodyLimitBytes  int
	AllowedOrigins  string
	RateLimitMax    int
	RateLimitWindow time.Duration
}

type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Name     string
	SSLMode  string
	TimeZone string
}

// DSN renders the key=value form understood by the pgx driver.
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%d sslmode=%s TimeZone=%s",
		d.Host, d.User, d.Password, d.Name, d.Port, d.SSLMode, d.TimeZone)
}

type AuthConfig struct {
	JWTSecret string
	TokenTTL  time.Duration
}

type LogConfig struct {
	Mode string // development, production
}

type BillingConfig struct {
	// PricingMode is "margin" or "list_price".
	PricingMode     string
	SequenceCode    string
	SequencePrefix  string
	DefaultCurrency string
}

type SchedulerConfig struct {
	Enabled     bool
	Cron        string
	Concurrency int
}

var pricingModes = map[string]bool{"margin": true, "list_price": true}

// Load reads an optional .env file and then the process environment.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	bodyLimit := envInt("BODY_LIMIT_BYTES", 0)
	if bodyLimit <= 0 {
		bodyLimit = envInt("BODY_LIMIT_MB", 4) * 1024 * 1024
	}

	secret := envString("JWT_SECRET_KEY", "")
	if secret == "" {
		secret = envString("JWT_SECRET", "")
	}

	cfg := &Config{
		Server: ServerConfig{
			Port:            envString("PORT", "8080"),
			BodyLimitBytes:  bodyLimit,
			AllowedOrigins:  envString("ALLOWED_ORIGINS", "*"),
			RateLimitMax:    envInt("RATE_LIMIT_MAX", 60),
			RateLimitWindow: time.Duration(envInt("RATE_LIMIT_WINDOW_SECONDS", 60)) * time.Second,
		},
		Database: DatabaseConfig{
			Host:     envString("DB_HOST", "db"),
			Port:     envInt("DB_PORT", 5432),
			User:     envString("DB_USER", ""),
			Password: envString("DB_PASSWORD", ""),
			Name:     envString("DB_NAME", ""),
			SSLMode:  envString("DB_SSLMODE", "disable"),
			TimeZone: envString("DB_TIMEZONE", "UTC"),
		},
		Auth: AuthConfig{
			JWTSecret: secret,
			TokenTTL:  time.Duration(envInt("TOKEN_TTL_HOURS", 24)) * time.Hour,
		},
		Log: LogConfig{
			Mode: envString("LOG_MODE", "development"),
		},
		Billing: BillingConfig{
			PricingMode:     strings.ToLower(envString("PRICING_MODE", "margin")),
			SequenceCode:    envString("CONTRACT_SEQUENCE_CODE", "subscription_contracts"),
			SequencePrefix:  envString("CONTRACT_SEQUENCE_PREFIX", "SUB/"),
			DefaultCurrency: strings.ToUpper(envString("DEFAULT_CURRENCY", "EUR")),
		},
		Scheduler: SchedulerConfig{
			Enabled:     envBool("SCHEDULER_ENABLED", true),
			Cron:        envString("SCHEDULER_CRON", "@daily"),
			Concurrency: envInt("SCHEDULER_CONCURRENCY", 4),
		},
	}

	if !pricingModes[cfg.Billing.PricingMode] {
		return nil, fmt.Errorf("invalid PRICING_MODE %q (want margin or list_price)", cfg.Billing.PricingMode)
	}
	if cfg.Scheduler.Concurrency < 1 {
		cfg.Scheduler.Concurrency = 1
	}
	return cfg, nil
}

func envString(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

// envInt reads an int env var with a default fallback.
func envInt(key string, def int) int {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func envBool(key string, def bool) bool {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}
