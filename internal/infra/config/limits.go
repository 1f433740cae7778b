package config

import "time"

// LimitsConfig bounds request rates and provider call budgets.
type LimitsConfig struct {
	// Rate is the per-caller sustained request rate in calls per second.
	Rate float64 `mapstructure:"rate" validate:"min=0"`

	// Burst is the per-caller burst allowance.
	Burst int `mapstructure:"burst" validate:"min=0"`

	// AdapterTimeout caps a single provider call.
	AdapterTimeout time.Duration `mapstructure:"adapter_timeout"`

	Retry RetryConfig `mapstructure:"retry"`
}

// RetryConfig bounds retries of transient provider failures.
type RetryConfig struct {
	MaxAttempts    int           `mapstructure:"max_attempts" validate:"min=1"`
	InitialBackoff time.Duration `mapstructure:"initial_backoff"`
	MaxBackoff     time.Duration `mapstructure:"max_backoff"`
	MaxElapsed     time.Duration `mapstructure:"max_elapsed"`
}
