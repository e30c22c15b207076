// Package config содержит логику чтения конфигурации сервиса стейкинга.
package config

import (
	"flag"
	"fmt"

	"github.com/caarlos0/env/v11"
)

// Config содержит параметры конфигурации сервиса стейкинга.
type Config struct {
	RunAddress              string `env:"RUN_ADDRESS"`
	DatabaseURI             string `env:"DATABASE_URI"`
	AuthSecret              string `env:"AUTH_SECRET"`
	SettlementSystemAddress string `env:"SETTLEMENT_SYSTEM_ADDRESS"`
	EnableMetrics           bool   `env:"ENABLE_METRICS"`
}

// Parse считывает конфигурацию из флагов командной строки и переменных окружения.
func Parse() (*Config, error) {
	cfg := &Config{}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	envRunAddress := cfg.RunAddress
	envDatabaseURI := cfg.DatabaseURI
	envAuthSecret := cfg.AuthSecret
	envSettlementAddress := cfg.SettlementSystemAddress
	envEnableMetrics := cfg.EnableMetrics

	flag.StringVar(&cfg.RunAddress, "a", "localhost:8080", "address and port for HTTP server")
	flag.StringVar(&cfg.DatabaseURI, "d", "", "database URI")
	flag.StringVar(&cfg.AuthSecret, "s", "staking-secret", "secret key for bearer token verification")
	flag.StringVar(&cfg.SettlementSystemAddress, "r", "", "settlement system address")
	flag.BoolVar(&cfg.EnableMetrics, "m", false, "enable prometheus metrics endpoint")

	flag.Parse()

	if envRunAddress != "" {
		cfg.RunAddress = envRunAddress
	}
	if envDatabaseURI != "" {
		cfg.DatabaseURI = envDatabaseURI
	}
	if envAuthSecret != "" {
		cfg.AuthSecret = envAuthSecret
	}
	if envSettlementAddress != "" {
		cfg.SettlementSystemAddress = envSettlementAddress
	}
	if envEnableMetrics {
		cfg.EnableMetrics = true
	}

	if cfg.RunAddress == "" {
		cfg.RunAddress = "localhost:8080"
	}

	return cfg, nil
}
