package internal

import (
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

type Config struct {
	Env         string
	Port        int
	LogLevel    string
	DatabaseUrl string

	// Admin API authentication
	// A bcrypt hash of the admin bearer token. If empty, the admin API is
	// unprotected (development only).
	AdminTokenHash string

	// Stripe Billing Configuration
	// These are required when quota-pack purchases are enabled in
	// production. In development, the webhook handler functions as a stub
	// if these are empty.
	StripeSecretKey     string // Stripe API secret key (sk_test_... or sk_live_...)
	StripeWebhookSecret string // Stripe webhook signing secret (whsec_...)

	// Stripe Price IDs for bonus quota packs
	StripePack100PriceID  string
	StripePack500PriceID  string
	StripePack1000PriceID string

	// Metrics endpoint authentication
	// If both are empty, the /metrics endpoint will be unprotected (not recommended)
	MetricsUsername string
	MetricsPassword string
}

func NewConfig() (*Config, error) {
	// Load .env file if it exists (ignored in production)
	_ = godotenv.Load()

	cfg := &Config{
		Env:      getEnv("ENV", "development"),
		Port:     getEnvInt("PORT", 8080),
		LogLevel: getEnv("LOG_LEVEL", "debug"),

		// Admin API token (optional in development)
		AdminTokenHash: getEnv("ADMIN_TOKEN_HASH", ""),

		// Stripe billing (optional, the webhook stub works without these)
		StripeSecretKey:     getEnv("STRIPE_SECRET_KEY", ""),
		StripeWebhookSecret: getEnv("STRIPE_WEBHOOK_SECRET", ""),

		// Stripe price IDs (required when billing is enabled)
		StripePack100PriceID:  getEnv("STRIPE_PACK_100_PRICE_ID", ""),
		StripePack500PriceID:  getEnv("STRIPE_PACK_500_PRICE_ID", ""),
		StripePack1000PriceID: getEnv("STRIPE_PACK_1000_PRICE_ID", ""),

		// Metrics authentication
		MetricsUsername: getEnv("METRICS_USERNAME", ""),
		MetricsPassword: getEnv("METRICS_PASSWORD", ""),
	}

	// Required
	cfg.DatabaseUrl = os.Getenv("DATABASE_URL")
	if cfg.DatabaseUrl == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	if cfg.Env != "development" && cfg.AdminTokenHash == "" {
		return nil, fmt.Errorf("ADMIN_TOKEN_HASH is required outside development")
	}

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return fallback
}
