package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/rs/zerolog/log"
)

var knownWeakSecrets = []string{
	"change-me", "dev-secret-change-me", "secret", "admin", "password",
}

type Config struct {
	Port        int    `env:"PORT" envDefault:"8080"`
	DatabaseURL string `env:"DATABASE_URL,required"`
	RedisURL    string `env:"REDIS_URL,required"`

	// PaymentSignatureSecret is the shared secret the payment processor signs
	// extension payment proofs with (HMAC-SHA256 over "orderId|paymentId").
	PaymentSignatureSecret string `env:"PAYMENT_SIGNATURE_SECRET"`

	// ParticipantTokens maps bearer tokens to opaque participant references.
	// Stand-in for the external identity store; format "token:ref,token:ref".
	ParticipantTokens map[string]string `env:"PARTICIPANT_TOKENS" envSeparator:"," envKeyValSeparator:":"`

	RequestTTLSeconds        int `env:"REQUEST_TTL_SECONDS" envDefault:"60"`
	PresenceFreshnessSeconds int `env:"PRESENCE_FRESHNESS_SECONDS" envDefault:"45"`

	// Billing terms applied to every session, fixed at session creation.
	RatePerMinuteMinor int64  `env:"RATE_PER_MINUTE_MINOR" envDefault:"1000"`
	Currency           string `env:"CURRENCY" envDefault:"INR"`
	FreeMinutes        int    `env:"FREE_MINUTES" envDefault:"15"`

	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`
}

func (c *Config) RequestTTL() time.Duration {
	return time.Duration(c.RequestTTLSeconds) * time.Second
}

func (c *Config) PresenceFreshness() time.Duration {
	return time.Duration(c.PresenceFreshnessSeconds) * time.Second
}

func (c *Config) Addr() string {
	return fmt.Sprintf(":%d", c.Port)
}

func (c *Config) Validate(isProduction bool) error {
	if c.RatePerMinuteMinor < 0 {
		return fmt.Errorf("RATE_PER_MINUTE_MINOR must not be negative")
	}
	if c.FreeMinutes < 0 {
		return fmt.Errorf("FREE_MINUTES must not be negative")
	}
	if c.RequestTTLSeconds <= 0 {
		return fmt.Errorf("REQUEST_TTL_SECONDS must be positive")
	}
	if c.PresenceFreshnessSeconds <= 0 {
		return fmt.Errorf("PRESENCE_FRESHNESS_SECONDS must be positive")
	}

	if isProduction {
		if err := validateSecret("PAYMENT_SIGNATURE_SECRET", c.PaymentSignatureSecret); err != nil {
			return err
		}
		if strings.HasPrefix(c.RedisURL, "redis://") {
			log.Warn().Msg("REDIS_URL uses redis:// (not TLS) in production: consider using rediss://")
		}
	} else if c.PaymentSignatureSecret == "" {
		log.Warn().Msg("PAYMENT_SIGNATURE_SECRET is empty: extension payments cannot be confirmed")
	}

	return nil
}

func validateSecret(name, value string) error {
	if len(value) < 32 {
		return fmt.Errorf("%s must be at least 32 characters in production (generate with: openssl rand -base64 32)", name)
	}
	for _, weak := range knownWeakSecrets {
		if value == weak {
			return fmt.Errorf("%s is a known weak default; set a strong secret in production", name)
		}
	}
	return nil
}

func Load() (*Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return &cfg, nil
}
