package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Retry policies for the transfer executor. "all" re-sends the full
// recipient list on every tick (periodic reward semantics); "failed" skips
// recipients whose latest attempt for the schedule is confirmed.
const (
	RetryPolicyAll    = "all"
	RetryPolicyFailed = "failed"
)

type Config struct {
	Port        int
	DatabaseURL string

	// SecretKey must match the x-secret-key header on every API request.
	SecretKey string

	// SignerPrivateKey is the hex-encoded private key used to sign reward
	// transfers on every configured chain. Empty disables submission.
	SignerPrivateKey string

	QueuePollInterval   time.Duration
	QueueLeaseTimeout   time.Duration
	QueueConcurrency    int
	ConfirmationTimeout time.Duration

	RetryPolicy string
}

// Load reads configuration from the environment, applying defaults for
// everything except the secret key, which is required.
func Load() (*Config, error) {
	cfg := &Config{
		Port:                envInt("PORT", 7500),
		DatabaseURL:         envString("DATABASE_URL", "sidekick.db"),
		SecretKey:           os.Getenv("SECRET_KEY"),
		SignerPrivateKey:    os.Getenv("EVM_PRIVATE_KEY"),
		QueuePollInterval:   envDuration("QUEUE_POLL_INTERVAL", time.Second),
		QueueLeaseTimeout:   envDuration("QUEUE_LEASE_TIMEOUT", 10*time.Minute),
		QueueConcurrency:    envInt("QUEUE_CONCURRENCY", 8),
		ConfirmationTimeout: envDuration("TX_CONFIRMATION_TIMEOUT", 2*time.Minute),
		RetryPolicy:         envString("REWARD_RETRY_POLICY", RetryPolicyAll),
	}

	if cfg.SecretKey == "" {
		return nil, fmt.Errorf("SECRET_KEY is required")
	}
	if cfg.RetryPolicy != RetryPolicyAll && cfg.RetryPolicy != RetryPolicyFailed {
		return nil, fmt.Errorf("REWARD_RETRY_POLICY must be %q or %q, got %q", RetryPolicyAll, RetryPolicyFailed, cfg.RetryPolicy)
	}
	return cfg, nil
}

func envString(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
