// Package config loads server configuration from the environment via viper.
// Every value has a sensible default so a bare `toil-server` starts up for
// local development.
package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Port           int
	DBPath         string
	JWTSecret      string
	AccrualWorkers int
	ExpiryInterval time.Duration
	LogLevel       string
	Pretty         bool // console-format logs instead of JSON
}

// Load reads configuration from the environment (and a .env file when
// present). Environment variables override file values.
func Load() (Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.SetConfigType("env")
	v.AutomaticEnv()
	_ = v.ReadInConfig() // .env is optional

	v.SetDefault("PORT", 8080)
	v.SetDefault("DB_PATH", "toil.db")
	v.SetDefault("JWT_SECRET", "")
	v.SetDefault("ACCRUAL_WORKERS", 4)
	v.SetDefault("EXPIRY_INTERVAL", "24h")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_PRETTY", false)

	interval, err := time.ParseDuration(v.GetString("EXPIRY_INTERVAL"))
	if err != nil {
		return Config{}, fmt.Errorf("invalid EXPIRY_INTERVAL: %w", err)
	}

	cfg := Config{
		Port:           v.GetInt("PORT"),
		DBPath:         v.GetString("DB_PATH"),
		JWTSecret:      v.GetString("JWT_SECRET"),
		AccrualWorkers: v.GetInt("ACCRUAL_WORKERS"),
		ExpiryInterval: interval,
		LogLevel:       v.GetString("LOG_LEVEL"),
		Pretty:         v.GetBool("LOG_PRETTY"),
	}
	if cfg.JWTSecret == "" {
		return Config{}, fmt.Errorf("JWT_SECRET is required")
	}
	return cfg, nil
}
