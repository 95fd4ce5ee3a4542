// Package config содержит логику чтения конфигурации сервиса.
package config

import (
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"strings"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

const (
	defaultRunAddress   = "localhost:8080"
	defaultStripeAPIURL = "https://api.stripe.com"
	defaultCatalogPath  = "catalog.yaml"
)

// Config содержит параметры конфигурации сервиса.
type Config struct {
	RunAddress          string   `env:"RUN_ADDRESS"`
	DatabaseURI         string   `env:"DATABASE_URI"`
	RedisURL            string   `env:"REDIS_URL"`
	NATSURL             string   `env:"NATS_URL"`
	CatalogPath         string   `env:"CATALOG_PATH"`
	StripeSecretKey     string   `env:"STRIPE_SECRET_KEY"`
	StripeWebhookSecret string   `env:"STRIPE_WEBHOOK_SECRET"`
	StripeAPIURL        string   `env:"STRIPE_API_URL"`
	CheckoutSuccessURL  string   `env:"CHECKOUT_SUCCESS_URL"`
	CheckoutCancelURL   string   `env:"CHECKOUT_CANCEL_URL"`
	AllowedOrigins      []string `env:"CORS_ALLOWED_ORIGINS" envSeparator:","`
	AppEnv              string   `env:"APP_ENV"`
}

// IsProduction сообщает, запущен ли сервис в боевом окружении.
func (c *Config) IsProduction() bool {
	return strings.EqualFold(strings.TrimSpace(c.AppEnv), "production")
}

// Parse считывает конфигурацию из файла .env, переменных окружения и флагов командной строки.
// Переменные окружения имеют приоритет над флагами.
func Parse() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	cfg := &Config{}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	envRunAddress := cfg.RunAddress
	envDatabaseURI := cfg.DatabaseURI
	envRedisURL := cfg.RedisURL
	envNATSURL := cfg.NATSURL
	envCatalogPath := cfg.CatalogPath

	flag.StringVar(&cfg.RunAddress, "a", defaultRunAddress, "address and port for HTTP server")
	flag.StringVar(&cfg.DatabaseURI, "d", "", "database URI")
	flag.StringVar(&cfg.RedisURL, "r", "", "redis URL")
	flag.StringVar(&cfg.NATSURL, "n", "", "NATS server URL")
	flag.StringVar(&cfg.CatalogPath, "c", defaultCatalogPath, "path to the photo catalog")

	flag.Parse()

	if envRunAddress != "" {
		cfg.RunAddress = envRunAddress
	}
	if envDatabaseURI != "" {
		cfg.DatabaseURI = envDatabaseURI
	}
	if envRedisURL != "" {
		cfg.RedisURL = envRedisURL
	}
	if envNATSURL != "" {
		cfg.NATSURL = envNATSURL
	}
	if envCatalogPath != "" {
		cfg.CatalogPath = envCatalogPath
	}

	if cfg.RunAddress == "" {
		cfg.RunAddress = defaultRunAddress
	}
	if cfg.StripeAPIURL == "" {
		cfg.StripeAPIURL = defaultStripeAPIURL
	}

	if cfg.IsProduction() && cfg.StripeWebhookSecret == "" {
		return nil, errors.New("STRIPE_WEBHOOK_SECRET is required in production")
	}

	return cfg, nil
}
