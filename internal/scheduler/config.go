package scheduler

import (
	"time"

	"github.com/smallbiznis/stayledger/internal/config"
)

// Config controls the sweeper schedule, batch size and deadlines.
type Config struct {
	Enabled        bool
	Schedule       string
	BatchSize      int
	ReleaseTimeout time.Duration
	JobTimeout     time.Duration
}

func DefaultConfig() Config {
	return Config{
		Enabled:        true,
		Schedule:       "@every 15m",
		BatchSize:      100,
		ReleaseTimeout: 10 * time.Second,
		JobTimeout:     5 * time.Minute,
	}
}

func ProvideConfig(cfg config.Config) Config {
	return Config{
		Enabled:        cfg.Sweeper.Enabled,
		Schedule:       cfg.Sweeper.Schedule,
		BatchSize:      cfg.Sweeper.BatchSize,
		ReleaseTimeout: cfg.Sweeper.ReleaseTimeout,
		JobTimeout:     cfg.Sweeper.JobTimeout,
	}
}

func (c Config) withDefaults() Config {
	defaults := DefaultConfig()
	if c.Schedule == "" {
		c.Schedule = defaults.Schedule
	}
	if c.BatchSize <= 0 {
		c.BatchSize = defaults.BatchSize
	}
	if c.ReleaseTimeout <= 0 {
		c.ReleaseTimeout = defaults.ReleaseTimeout
	}
	if c.JobTimeout <= 0 {
		c.JobTimeout = defaults.JobTimeout
	}
	return c
}
