// Package config loads commerce layer configuration from the environment,
// with an optional yaml file for the pricing curve.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/joeshaw/envdecode"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config is the process configuration.
type Config struct {
	Server struct {
		Host string `env:"SERVER_HOST,default=0.0.0.0"`
		Port int    `env:"SERVER_PORT,default=8080"`
	}
	Database struct {
		URL string `env:"DATABASE_URL"`
	}
	Redis struct {
		Addr     string `env:"REDIS_ADDR"`
		Password string `env:"REDIS_PASSWORD,default="`
		DB       int    `env:"REDIS_DB,default=0"`
	}
	Ledger struct {
		RPCURL    string        `env:"LEDGER_RPC_URL"`
		NetworkID uint32        `env:"LEDGER_NETWORK_ID,default=0"`
		Timeout   time.Duration `env:"LEDGER_TIMEOUT,default=30s"`
	}
	Signer struct {
		Address string `env:"SIGNER_ADDRESS,default="`
		KeyHex  string `env:"SIGNER_KEY,default="`
	}
	Gateway struct {
		BaseURL string        `env:"PAYMENT_GATEWAY_URL"`
		APIKey  string        `env:"PAYMENT_GATEWAY_API_KEY,default="`
		Timeout time.Duration `env:"PAYMENT_GATEWAY_TIMEOUT,default=30s"`
	}
	Watchdog struct {
		Schedule  string        `env:"WATCHDOG_SCHEDULE,default=@every 1m"`
		Threshold time.Duration `env:"WATCHDOG_THRESHOLD,default=5m"`
	}
	Logging struct {
		Level  string `env:"LOG_LEVEL,default=info"`
		Format string `env:"LOG_FORMAT,default=text"`
		Output string `env:"LOG_OUTPUT,default=stdout"`
	}
	PricingFile string `env:"PRICING_CONFIG,default=config/pricing.yaml"`
}

// Load reads .env when present, then decodes the environment.
func Load() (*Config, error) {
	_ = godotenv.Load()

	var cfg Config
	if err := envdecode.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("decode environment: %w", err)
	}
	return &cfg, nil
}

// PricingConfig mirrors the pricing yaml file.
type PricingConfig struct {
	BasePrice        int64 `yaml:"base_price"`
	Multiplier       int64 `yaml:"multiplier"`
	DecayStartBatch  int64 `yaml:"decay_start_batch"`
	DecayEndBatch    int64 `yaml:"decay_end_batch"`
	DecayNumerator   int64 `yaml:"decay_numerator"`
	DecayDenominator int64 `yaml:"decay_denominator"`
}

// LoadPricing loads the pricing curve parameters from a yaml file.
func LoadPricing(path string) (*PricingConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read pricing config: %w", err)
	}

	var cfg PricingConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse pricing config: %w", err)
	}
	return &cfg, nil
}

// DefaultPricing returns the curve used when no pricing file exists.
func DefaultPricing() *PricingConfig {
	return &PricingConfig{
		BasePrice:        1000, // $10.00
		Multiplier:       2,
		DecayStartBatch:  10,
		DecayEndBatch:    50,
		DecayNumerator:   1,
		DecayDenominator: 20, // 5% per batch
	}
}

// LoadPricingOrDefault loads the pricing file or falls back to defaults.
func LoadPricingOrDefault(path string) *PricingConfig {
	cfg, err := LoadPricing(path)
	if err != nil {
		return DefaultPricing()
	}
	return cfg
}
