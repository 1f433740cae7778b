package config

import "time"

// ProvidersConfig controls which provider adapters are wired in.
type ProvidersConfig struct {
	// Mode selects real cloud adapters or the in-memory fake.
	Mode string `mapstructure:"mode" validate:"oneof=aws fake"`

	AWS AWSConfig `mapstructure:"aws"`

	// StatusCacheTTL bounds how long read-only status snapshots are reused.
	StatusCacheTTL time.Duration `mapstructure:"status_cache_ttl"`
}

// AWSConfig holds region and endpoint settings for the AWS adapter family.
type AWSConfig struct {
	// Region is optional; when empty the SDK's own resolution chain applies.
	Region string `mapstructure:"region" validate:"omitempty,aws_region"`

	// EndpointURL overrides the AWS endpoint, for localstack-style testing.
	EndpointURL string `mapstructure:"endpoint_url"`
}
