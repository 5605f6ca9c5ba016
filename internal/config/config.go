package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/Netflix/go-env"
	"github.com/kursadbilgin/webhook-dispatcher/internal/domain"
)

const (
	StateBackendPostgres = "postgres"
	StateBackendRedis    = "redis"
)

type Config struct {
	StateBackend string `env:"STATE_BACKEND,default=postgres"`
	DatabaseDSN  string `env:"DATABASE_DSN"`
	RedisURL     string `env:"REDIS_URL,required=true"`
	RabbitMQURL  string `env:"RABBITMQ_URL"`

	SigningKey      string `env:"SIGNING_KEY,required=true"`
	TokenIssuer     string `env:"TOKEN_ISSUER,default=webhookdispatcher"`
	TokenTTLSeconds int    `env:"TOKEN_TTL_SECONDS,default=30"`

	BackoffBase      int `env:"BACKOFF_BASE,default=10"`
	MaxAttempts      int `env:"MAX_ATTEMPTS,default=5"`
	AttemptTimeoutMS int `env:"ATTEMPT_TIMEOUT_MS,default=10000"`
	RetentionHours   int `env:"RETENTION_HOURS,default=720"`

	AlarmPollIntervalMS int `env:"ALARM_POLL_INTERVAL_MS,default=100"`
	AlarmBatchSize      int `env:"ALARM_BATCH_SIZE,default=100"`
	AlarmClaimLeaseMS   int `env:"ALARM_CLAIM_LEASE_MS,default=60000"`
	InfraRetryDelayMS   int `env:"INFRA_RETRY_DELAY_MS,default=5000"`
	LockTTLMS           int `env:"LOCK_TTL_MS,default=30000"`

	DeliveryRateLimitPerSec int    `env:"DELIVERY_RATE_LIMIT_PER_SEC,default=0"`
	RateLimitMaxWaitMS      int    `env:"RATE_LIMIT_MAX_WAIT_MS,default=5000"`
	WorkerConcurrency       int    `env:"WORKER_CONCURRENCY,default=16"`
	APIPort                 int    `env:"API_PORT,default=8080"`
	LogLevel                string `env:"LOG_LEVEL,default=info"`
}

func Load() (*Config, error) {
	var cfg Config
	_, err := env.UnmarshalFromEnviron(&cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	c.StateBackend = strings.ToLower(strings.TrimSpace(c.StateBackend))

	switch c.StateBackend {
	case StateBackendPostgres:
		if strings.TrimSpace(c.DatabaseDSN) == "" {
			return fmt.Errorf("DATABASE_DSN is required when STATE_BACKEND=postgres")
		}
	case StateBackendRedis:
	default:
		return fmt.Errorf("unsupported STATE_BACKEND %q", c.StateBackend)
	}

	if strings.TrimSpace(c.RedisURL) == "" {
		return fmt.Errorf("REDIS_URL is required")
	}
	if strings.TrimSpace(c.SigningKey) == "" {
		return fmt.Errorf("SIGNING_KEY is required")
	}
	if err := c.RetryPolicy().Validate(); err != nil {
		return err
	}
	if c.AttemptTimeoutMS <= 0 {
		return fmt.Errorf("ATTEMPT_TIMEOUT_MS must be > 0")
	}
	if c.DeliveryRateLimitPerSec < 0 {
		return fmt.Errorf("DELIVERY_RATE_LIMIT_PER_SEC must be >= 0")
	}
	if c.RateLimitMaxWaitMS <= 0 {
		return fmt.Errorf("RATE_LIMIT_MAX_WAIT_MS must be > 0")
	}
	// A firing holds the lock across the rate limit wait and the attempt.
	if c.LockTTL() <= c.AttemptTimeout()+c.RateLimitMaxWait() {
		return fmt.Errorf("LOCK_TTL_MS must be greater than ATTEMPT_TIMEOUT_MS plus RATE_LIMIT_MAX_WAIT_MS")
	}
	if c.AlarmClaimLease() <= c.LockTTL() {
		return fmt.Errorf("ALARM_CLAIM_LEASE_MS must be greater than LOCK_TTL_MS")
	}
	return nil
}

func (c *Config) RetryPolicy() domain.RetryPolicy {
	return domain.RetryPolicy{
		BackoffBase: c.BackoffBase,
		MaxAttempts: c.MaxAttempts,
		Retention:   time.Duration(c.RetentionHours) * time.Hour,
	}
}

func (c *Config) AttemptTimeout() time.Duration {
	return time.Duration(c.AttemptTimeoutMS) * time.Millisecond
}

func (c *Config) TokenTTL() time.Duration {
	return time.Duration(c.TokenTTLSeconds) * time.Second
}

func (c *Config) AlarmPollInterval() time.Duration {
	return time.Duration(c.AlarmPollIntervalMS) * time.Millisecond
}

func (c *Config) AlarmClaimLease() time.Duration {
	return time.Duration(c.AlarmClaimLeaseMS) * time.Millisecond
}

func (c *Config) RateLimitMaxWait() time.Duration {
	return time.Duration(c.RateLimitMaxWaitMS) * time.Millisecond
}

func (c *Config) InfraRetryDelay() time.Duration {
	return time.Duration(c.InfraRetryDelayMS) * time.Millisecond
}

func (c *Config) LockTTL() time.Duration {
	return time.Duration(c.LockTTLMS) * time.Millisecond
}

// UsesRabbitMQ reports whether alarms travel through a broker or an in-process queue.
func (c *Config) UsesRabbitMQ() bool {
	return strings.TrimSpace(c.RabbitMQURL) != ""
}
