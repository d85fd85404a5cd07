package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

type Config struct {
	AppEnv      string `env:"APP_ENV" envDefault:"local"`
	PostgresDSN string `env:"POSTGRES_DSN,required"`
	HealthPort  int    `env:"HEALTH_PORT" envDefault:"8080"`

	// LLM provider
	LLMAPIKey          string        `env:"LLM_API_KEY,required"`
	LLMModel           string        `env:"LLM_MODEL" envDefault:"gpt-4o-mini"`
	LLMFilterModel     string        `env:"LLM_FILTER_MODEL"`
	LLMTemperature     float32       `env:"LLM_TEMPERATURE" envDefault:"0.7"`
	LLMMaxTokens       int           `env:"LLM_MAX_TOKENS" envDefault:"2000"`
	LLMCallTimeout     time.Duration `env:"LLM_CALL_TIMEOUT" envDefault:"90s"`
	RateLimitRPS       int           `env:"RATE_LIMIT_RPS" envDefault:"1"`
	LLMDailyTokenLimit int64         `env:"LLM_DAILY_TOKEN_LIMIT" envDefault:"0"`

	// Stage retry policy (ModelUnavailable only)
	RetryMaxAttempts  int           `env:"RETRY_MAX_ATTEMPTS" envDefault:"3"`
	RetryInitialDelay time.Duration `env:"RETRY_INITIAL_DELAY" envDefault:"500ms"`

	// Scoring weights
	ScoreWeightViews     float64 `env:"SCORE_WEIGHT_VIEWS" envDefault:"0.35"`
	ScoreWeightReactions float64 `env:"SCORE_WEIGHT_REACTIONS" envDefault:"0.30"`
	ScoreWeightReplies   float64 `env:"SCORE_WEIGHT_REPLIES" envDefault:"0.15"`
	ScoreWeightForwards  float64 `env:"SCORE_WEIGHT_FORWARDS" envDefault:"0.20"`

	// Candidate selection
	MinScore          float32 `env:"MIN_SCORE" envDefault:"0.1"`
	ChannelDailyQuota int     `env:"CHANNEL_DAILY_QUOTA" envDefault:"5"`

	// Worker
	WorkerBatchSize     int           `env:"WORKER_BATCH_SIZE" envDefault:"10"`
	WorkerPoolSize      int           `env:"WORKER_POOL_SIZE" envDefault:"4"`
	WorkerPollInterval  time.Duration `env:"WORKER_POLL_INTERVAL" envDefault:"10s"`
	StaleClaimThreshold time.Duration `env:"STALE_CLAIM_THRESHOLD" envDefault:"15m"`

	// Notifications
	NotifyBotToken     string        `env:"NOTIFY_BOT_TOKEN"`
	NotifyStalePending time.Duration `env:"NOTIFY_STALE_PENDING" envDefault:"10m"`
	NotifySweepWindow  time.Duration `env:"NOTIFY_SWEEP_WINDOW" envDefault:"24h"`

	// Database pool
	DBMaxConnections    int32         `env:"DB_MAX_CONNECTIONS" envDefault:"10"`
	DBMinConnections    int32         `env:"DB_MIN_CONNECTIONS" envDefault:"2"`
	DBMaxConnIdleTime   time.Duration `env:"DB_MAX_CONN_IDLE_TIME" envDefault:"30m"`
	DBMaxConnLifetime   time.Duration `env:"DB_MAX_CONN_LIFETIME" envDefault:"1h"`
	DBHealthCheckPeriod time.Duration `env:"DB_HEALTH_CHECK_PERIOD" envDefault:"1m"`
}

func Load() (*Config, error) {
	_ = godotenv.Load() //nolint:errcheck // .env file is optional, error is expected when not present

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parsing environment config: %w", err)
	}

	return cfg, nil
}

// FilterModel returns the model used for the cheap filter stage,
// falling back to the main model when not set.
func (c *Config) FilterModel() string {
	if c.LLMFilterModel != "" {
		return c.LLMFilterModel
	}

	return c.LLMModel
}
