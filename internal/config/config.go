// Package config содержит логику чтения конфигурации витрины.
package config

import (
	"flag"
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

const (
	defaultRunAddress     = "localhost:8080"
	defaultBackendAddress = "localhost:8000"
	defaultBackendTimeout = 10 * time.Second
	defaultCartTTL        = 72 * time.Hour
)

// Config содержит параметры конфигурации витрины.
type Config struct {
	RunAddress     string        `env:"RUN_ADDRESS"`
	BackendAddress string        `env:"BACKEND_ADDRESS"`
	DatabaseURI    string        `env:"DATABASE_URI"`
	RedisAddress   string        `env:"REDIS_ADDRESS"`
	CookieSecret   string        `env:"COOKIE_SECRET"`
	BackendTimeout time.Duration `env:"BACKEND_TIMEOUT"`
	CartTTL        time.Duration `env:"CART_TTL"`
	LogLevel       string        `env:"LOG_LEVEL"`
}

// Parse считывает конфигурацию из флагов командной строки и переменных окружения.
// Переменные окружения имеют приоритет над флагами.
func Parse() (*Config, error) {
	envCfg := Config{}
	if err := env.Parse(&envCfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	cfg := &Config{}
	flag.StringVar(&cfg.RunAddress, "a", defaultRunAddress, "address and port for HTTP server")
	flag.StringVar(&cfg.BackendAddress, "b", defaultBackendAddress, "marketplace REST API address")
	flag.StringVar(&cfg.DatabaseURI, "d", "", "database URI for cart snapshots")
	flag.StringVar(&cfg.RedisAddress, "r", "", "redis address for cart cache")
	flag.StringVar(&cfg.CookieSecret, "s", "", "secret for signing role cookies")
	flag.DurationVar(&cfg.BackendTimeout, "t", defaultBackendTimeout, "timeout for a single backend call")
	flag.DurationVar(&cfg.CartTTL, "cart-ttl", defaultCartTTL, "cart snapshot lifetime without changes")
	flag.StringVar(&cfg.LogLevel, "l", "info", "log level")

	flag.Parse()

	if envCfg.RunAddress != "" {
		cfg.RunAddress = envCfg.RunAddress
	}
	if envCfg.BackendAddress != "" {
		cfg.BackendAddress = envCfg.BackendAddress
	}
	if envCfg.DatabaseURI != "" {
		cfg.DatabaseURI = envCfg.DatabaseURI
	}
	if envCfg.RedisAddress != "" {
		cfg.RedisAddress = envCfg.RedisAddress
	}
	if envCfg.CookieSecret != "" {
		cfg.CookieSecret = envCfg.CookieSecret
	}
	if envCfg.BackendTimeout > 0 {
		cfg.BackendTimeout = envCfg.BackendTimeout
	}
	if envCfg.CartTTL > 0 {
		cfg.CartTTL = envCfg.CartTTL
	}
	if envCfg.LogLevel != "" {
		cfg.LogLevel = envCfg.LogLevel
	}

	if cfg.RunAddress == "" {
		cfg.RunAddress = defaultRunAddress
	}
	if cfg.BackendAddress == "" {
		cfg.BackendAddress = defaultBackendAddress
	}
	if cfg.BackendTimeout <= 0 {
		cfg.BackendTimeout = defaultBackendTimeout
	}
	if cfg.CartTTL <= 0 {
		cfg.CartTTL = defaultCartTTL
	}

	return cfg, nil
}
