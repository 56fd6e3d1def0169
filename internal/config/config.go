// Package config provides application configuration.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration.
type Config struct {
	Port       string
	DBPath     string
	SessionTTL time.Duration
	Score      ScoreConfig
	Loan       LoanConfig
	Market     MarketConfig
	WhatsApp   WhatsAppConfig
}

// ScoreConfig bounds the FinGro Score range.
type ScoreConfig struct {
	Min float64
	Max float64
}

// LoanConfig holds the offer engine limits and defaults.
type LoanConfig struct {
	MinAmount  float64
	MaxAmount  float64
	TermMonths int
	AnnualRate float64
}

// MarketConfig controls the MAGA price client and its bounded cache.
type MarketConfig struct {
	BaseURL        string
	CacheTTL       time.Duration
	MaxRetries     int
	AttemptTimeout time.Duration
	MaxCacheSize   int
	RateLimitRPS   float64
}

// WhatsAppConfig holds WhatsApp Cloud API credentials.
type WhatsAppConfig struct {
	Token       string
	PhoneID     string
	VerifyToken string
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{
		Port:       getEnv("PORT", "8080"),
		DBPath:     getEnv("DB_PATH", "./data/fingro.db"),
		SessionTTL: getEnvDuration("SESSION_TTL", 24*time.Hour),
		Score: ScoreConfig{
			Min: getEnvFloat("MIN_FINGRO_SCORE", 0),
			Max: getEnvFloat("MAX_FINGRO_SCORE", 100),
		},
		Loan: LoanConfig{
			MinAmount:  getEnvFloat("MIN_LOAN_AMOUNT", 1000),
			MaxAmount:  getEnvFloat("MAX_LOAN_AMOUNT", 100000),
			TermMonths: getEnvInt("DEFAULT_LOAN_TERM", 9),
			AnnualRate: getEnvFloat("DEFAULT_INTEREST_RATE", 0.12),
		},
		Market: MarketConfig{
			BaseURL:        getEnv("MAGA_BASE_URL", "https://precios.maga.gob.gt"),
			CacheTTL:       getEnvDuration("MAGA_CACHE_TTL", 6*time.Hour),
			MaxRetries:     getEnvInt("MAGA_MAX_RETRIES", 3),
			AttemptTimeout: getEnvDuration("MAGA_ATTEMPT_TIMEOUT", 10*time.Second),
			MaxCacheSize:   getEnvInt("MAX_CACHE_SIZE", 256),
			RateLimitRPS:   getEnvFloat("MAGA_RATE_LIMIT_RPS", 2),
		},
		WhatsApp: WhatsAppConfig{
			Token:       getEnv("WHATSAPP_TOKEN", ""),
			PhoneID:     getEnv("WHATSAPP_PHONE_ID", ""),
			VerifyToken: getEnv("WHATSAPP_VERIFY_TOKEN", ""),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks that all required configuration fields are consistent.
func (c *Config) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("PORT cannot be empty")
	}
	if c.DBPath == "" {
		return fmt.Errorf("DB_PATH cannot be empty")
	}
	if c.Score.Max <= c.Score.Min {
		return fmt.Errorf("MAX_FINGRO_SCORE must be greater than MIN_FINGRO_SCORE")
	}
	if c.Loan.MinAmount <= 0 {
		return fmt.Errorf("MIN_LOAN_AMOUNT must be > 0")
	}
	if c.Loan.MaxAmount <= c.Loan.MinAmount {
		return fmt.Errorf("MAX_LOAN_AMOUNT must be greater than MIN_LOAN_AMOUNT")
	}
	if c.Loan.TermMonths <= 0 {
		return fmt.Errorf("DEFAULT_LOAN_TERM must be > 0")
	}
	if c.Loan.AnnualRate < 0 {
		return fmt.Errorf("DEFAULT_INTEREST_RATE cannot be negative")
	}
	if c.Market.BaseURL == "" {
		return fmt.Errorf("MAGA_BASE_URL cannot be empty")
	}
	if c.Market.MaxRetries <= 0 {
		return fmt.Errorf("MAGA_MAX_RETRIES must be > 0")
	}
	if c.Market.MaxCacheSize <= 0 {
		return fmt.Errorf("MAX_CACHE_SIZE must be > 0")
	}
	if c.Market.CacheTTL <= 0 {
		return fmt.Errorf("MAGA_CACHE_TTL must be > 0")
	}
	return nil
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return n
}

func getEnvFloat(key string, fallback float64) float64 {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
	if err != nil {
		return fallback
	}
	return f
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	d, err := time.ParseDuration(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return d
}
