package config

import "time"

// GuardrailsConfig controls confirmation token issuance and storage.
type GuardrailsConfig struct {
	// TokenTTL is how long an issued confirmation token stays valid.
	TokenTTL time.Duration `mapstructure:"token_ttl"`

	// SweepInterval is how often expired tokens are reaped from the store.
	SweepInterval time.Duration `mapstructure:"sweep_interval"`

	// Store selects the token store backend.
	Store string `mapstructure:"store" validate:"oneof=memory redis"`

	Redis RedisConfig `mapstructure:"redis"`
}

// RedisConfig connects the redis-backed token store.
type RedisConfig struct {
	Addr      string `mapstructure:"addr"`
	Password  string `mapstructure:"password"`
	DB        int    `mapstructure:"db"`
	KeyPrefix string `mapstructure:"key_prefix"`
}
