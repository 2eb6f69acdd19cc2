// Package config содержит логику чтения конфигурации магазина игровой валюты.
package config

import (
	"flag"
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config содержит параметры конфигурации магазина игровой валюты.
type Config struct {
	RunAddress          string        `env:"RUN_ADDRESS"`
	DatabaseURI         string        `env:"DATABASE_URI"`
	RedisAddress        string        `env:"REDIS_ADDRESS"`
	OrderServiceAddress string        `env:"ORDER_SERVICE_ADDRESS"`
	SessionSecret       string        `env:"SESSION_SECRET"`
	AdminToken          string        `env:"ADMIN_TOKEN"`
	AdLockTTL           time.Duration `env:"AD_LOCK_TTL"`
	PurchaseLimit       int64         `env:"PURCHASE_LIMIT"`
}

// Parse считывает конфигурацию из флагов командной строки и переменных окружения.
func Parse() (*Config, error) {
	cfg := &Config{}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	envRunAddress := cfg.RunAddress
	envDatabaseURI := cfg.DatabaseURI
	envRedisAddress := cfg.RedisAddress
	envOrderAddress := cfg.OrderServiceAddress
	envSessionSecret := cfg.SessionSecret
	envAdminToken := cfg.AdminToken
	envAdLockTTL := cfg.AdLockTTL
	envPurchaseLimit := cfg.PurchaseLimit

	flag.StringVar(&cfg.RunAddress, "a", "localhost:8080", "address and port for HTTP server")
	flag.StringVar(&cfg.DatabaseURI, "d", "", "database URI")
	flag.StringVar(&cfg.RedisAddress, "c", "", "redis address for the ad lock cache")
	flag.StringVar(&cfg.OrderServiceAddress, "r", "", "order fulfillment service address")
	flag.StringVar(&cfg.SessionSecret, "s", "", "secret key for session cookies")
	flag.StringVar(&cfg.AdminToken, "t", "", "operator token for the admin API")
	flag.DurationVar(&cfg.AdLockTTL, "l", 10*time.Second, "ad lock TTL")
	flag.Int64Var(&cfg.PurchaseLimit, "p", 0, "max orders per account per product, 0 for unlimited")

	flag.Parse()

	if envRunAddress != "" {
		cfg.RunAddress = envRunAddress
	}
	if envDatabaseURI != "" {
		cfg.DatabaseURI = envDatabaseURI
	}
	if envRedisAddress != "" {
		cfg.RedisAddress = envRedisAddress
	}
	if envOrderAddress != "" {
		cfg.OrderServiceAddress = envOrderAddress
	}
	if envSessionSecret != "" {
		cfg.SessionSecret = envSessionSecret
	}
	if envAdminToken != "" {
		cfg.AdminToken = envAdminToken
	}
	if envAdLockTTL != 0 {
		cfg.AdLockTTL = envAdLockTTL
	}
	if envPurchaseLimit != 0 {
		cfg.PurchaseLimit = envPurchaseLimit
	}

	if cfg.RunAddress == "" {
		cfg.RunAddress = "localhost:8080"
	}

	return cfg, nil
}
