package config

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfigMethods(t *testing.T) {
	t.Run("Addr returns formatted port", func(t *testing.T) {
		cfg := &Config{Port: 3000}
		assert.Equal(t, ":3000", cfg.Addr())
	})

	t.Run("RequestTTL converts seconds to duration", func(t *testing.T) {
		cfg := &Config{RequestTTLSeconds: 60}
		assert.Equal(t, 60*time.Second, cfg.RequestTTL())
	})

	t.Run("PresenceFreshness converts seconds to duration", func(t *testing.T) {
		cfg := &Config{PresenceFreshnessSeconds: 45}
		assert.Equal(t, 45*time.Second, cfg.PresenceFreshness())
	})
}

func TestLoad(t *testing.T) {
	originalEnv := map[string]string{
		"PORT":                       os.Getenv("PORT"),
		"DATABASE_URL":               os.Getenv("DATABASE_URL"),
		"REDIS_URL":                  os.Getenv("REDIS_URL"),
		"PAYMENT_SIGNATURE_SECRET":   os.Getenv("PAYMENT_SIGNATURE_SECRET"),
		"PARTICIPANT_TOKENS":         os.Getenv("PARTICIPANT_TOKENS"),
		"REQUEST_TTL_SECONDS":        os.Getenv("REQUEST_TTL_SECONDS"),
		"PRESENCE_FRESHNESS_SECONDS": os.Getenv("PRESENCE_FRESHNESS_SECONDS"),
		"RATE_PER_MINUTE_MINOR":      os.Getenv("RATE_PER_MINUTE_MINOR"),
		"FREE_MINUTES":               os.Getenv("FREE_MINUTES"),
		"LOG_LEVEL":                  os.Getenv("LOG_LEVEL"),
	}

	defer func() {
		for k, v := range originalEnv {
			if v == "" {
				os.Unsetenv(k)
			} else {
				os.Setenv(k, v)
			}
		}
	}()

	t.Run("loads config with defaults", func(t *testing.T) {
		os.Setenv("DATABASE_URL", "postgres://localhost/test")
		os.Setenv("REDIS_URL", "redis://localhost:6379")
		os.Unsetenv("PORT")
		os.Unsetenv("REQUEST_TTL_SECONDS")
		os.Unsetenv("PRESENCE_FRESHNESS_SECONDS")
		os.Unsetenv("RATE_PER_MINUTE_MINOR")
		os.Unsetenv("FREE_MINUTES")
		os.Unsetenv("LOG_LEVEL")

		cfg, err := Load()
		require.NoError(t, err)

		assert.Equal(t, 8080, cfg.Port)
		assert.Equal(t, "postgres://localhost/test", cfg.DatabaseURL)
		assert.Equal(t, "redis://localhost:6379", cfg.RedisURL)
		assert.Equal(t, 60, cfg.RequestTTLSeconds)
		assert.Equal(t, 45, cfg.PresenceFreshnessSeconds)
		assert.Equal(t, int64(1000), cfg.RatePerMinuteMinor)
		assert.Equal(t, 15, cfg.FreeMinutes)
		assert.Equal(t, "info", cfg.LogLevel)
	})

	t.Run("loads custom values", func(t *testing.T) {
		os.Setenv("DATABASE_URL", "postgres://localhost/test")
		os.Setenv("REDIS_URL", "redis://localhost:6379")
		os.Setenv("PORT", "3000")
		os.Setenv("REQUEST_TTL_SECONDS", "90")
		os.Setenv("RATE_PER_MINUTE_MINOR", "2500")
		os.Setenv("LOG_LEVEL", "debug")

		cfg, err := Load()
		require.NoError(t, err)

		assert.Equal(t, 3000, cfg.Port)
		assert.Equal(t, 90, cfg.RequestTTLSeconds)
		assert.Equal(t, int64(2500), cfg.RatePerMinuteMinor)
		assert.Equal(t, "debug", cfg.LogLevel)
	})

	t.Run("parses participant tokens map", func(t *testing.T) {
		os.Setenv("DATABASE_URL", "postgres://localhost/test")
		os.Setenv("REDIS_URL", "redis://localhost:6379")
		os.Setenv("PARTICIPANT_TOKENS", "tok-a:user-1,tok-b:provider-1")

		cfg, err := Load()
		require.NoError(t, err)

		assert.Equal(t, "user-1", cfg.ParticipantTokens["tok-a"])
		assert.Equal(t, "provider-1", cfg.ParticipantTokens["tok-b"])
	})
}

func TestValidate(t *testing.T) {
	base := func() *Config {
		return &Config{
			RedisURL:                 "rediss://localhost:6380",
			RequestTTLSeconds:        60,
			PresenceFreshnessSeconds: 45,
			RatePerMinuteMinor:       1000,
			FreeMinutes:              15,
		}
	}

	t.Run("accepts sane non-production config", func(t *testing.T) {
		cfg := base()
		assert.NoError(t, cfg.Validate(false))
	})

	t.Run("rejects negative rate", func(t *testing.T) {
		cfg := base()
		cfg.RatePerMinuteMinor = -1
		assert.Error(t, cfg.Validate(false))
	})

	t.Run("rejects zero request TTL", func(t *testing.T) {
		cfg := base()
		cfg.RequestTTLSeconds = 0
		assert.Error(t, cfg.Validate(false))
	})

	t.Run("rejects short payment secret in production", func(t *testing.T) {
		cfg := base()
		cfg.PaymentSignatureSecret = "short"
		assert.Error(t, cfg.Validate(true))
	})

	t.Run("rejects known weak payment secret in production", func(t *testing.T) {
		cfg := base()
		cfg.PaymentSignatureSecret = "change-me"
		assert.Error(t, cfg.Validate(true))
	})

	t.Run("accepts strong payment secret in production", func(t *testing.T) {
		cfg := base()
		cfg.PaymentSignatureSecret = "0123456789abcdef0123456789abcdef"
		assert.NoError(t, cfg.Validate(true))
	})
}
