package config

import "time"

// Database connection pool settings
const (
	DBMaxOpenConns    = 25
	DBMaxIdleConns    = 5
	DBConnMaxLifetime = 5 * time.Minute
)

// HTTP server timeouts
const (
	ServerRequestTimeout  = 60 * time.Second
	ServerReadTimeout     = 15 * time.Second
	ServerIdleTimeout     = 120 * time.Second
	ServerShutdownTimeout = 30 * time.Second
)

// Database ping timeout for health checks
const DBPingTimeout = 5 * time.Second

// Session timing
const (
	// TimerTickInterval drives elapsed-time and cost accrual on live sessions.
	TimerTickInterval = 1 * time.Second

	// MediaConnectTimeout bounds channel establishment; exceeding it fails the session.
	MediaConnectTimeout = 15 * time.Second
)

// Finalized-record persistence retry policy
const (
	PersistMaxAttempts = 5
	PersistBaseBackoff = 500 * time.Millisecond
	PersistMaxBackoff  = 30 * time.Second
	PersistTimeout     = 10 * time.Second
)

// Background job intervals
const SweepJobInterval = 15 * time.Second

// Default rate limiting
const DefaultRateLimitPerMin = 60
