package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"

	customvalidator "github.com/opsforge/opsplane/pkg/validator"
)

// Config is the root configuration for the control plane process.
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Catalog    CatalogConfig    `mapstructure:"catalog"    validate:"required"`
	Guardrails GuardrailsConfig `mapstructure:"guardrails"`
	Audit      AuditConfig      `mapstructure:"audit"`
	Providers  ProvidersConfig  `mapstructure:"providers"`
	Limits     LimitsConfig     `mapstructure:"limits"`

	ServiceVersion string
	BuildCommit    string
}

// Load reads the YAML config at path (or the default search locations) and
// applies OPSPLANE_* environment overrides.
func Load(path string) (*Config, error) {
	vip := viper.New()
	if path != "" {
		vip.SetConfigFile(path)
	} else {
		vip.SetConfigName("opsplane")
		vip.AddConfigPath("./configs")
		vip.AddConfigPath(".")
	}

	vip.SetConfigType("yaml")
	vip.SetEnvPrefix("OPSPLANE")
	vip.AutomaticEnv()
	vip.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults(vip)

	if err := vip.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := vip.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	validate := validator.New()
	if err := customvalidator.RegisterCustomValidators(validate); err != nil {
		return nil, fmt.Errorf("failed to register custom validators: %w", err)
	}
	if err := validate.Struct(&cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	cfg.ServiceVersion = getenv("OPSPLANE_SERVICE_VERSION", "dev")
	cfg.BuildCommit = getenv("OPSPLANE_BUILD_COMMIT", "unknown")

	// Keeps the DSN out of config files on disk.
	if cfg.Audit.PostgresDSN == "" {
		cfg.Audit.PostgresDSN = os.Getenv("OPSPLANE_AUDIT_POSTGRES_DSN")
	}

	return &cfg, nil
}

func setDefaults(vip *viper.Viper) {
	vip.SetDefault("server.transport", "stdio")
	vip.SetDefault("server.listen_addr", ":8700")
	vip.SetDefault("server.shutdown_timeout", "10s")
	vip.SetDefault("server.log_level", "info")

	vip.SetDefault("catalog.domains_path", "configs/domains.yml")
	vip.SetDefault("catalog.providers_path", "configs/providers.yml")
	vip.SetDefault("catalog.policies_path", "configs/policies.yml")
	vip.SetDefault("catalog.watch", false)

	vip.SetDefault("guardrails.token_ttl", "5m")
	vip.SetDefault("guardrails.sweep_interval", "30s")
	vip.SetDefault("guardrails.store", "memory")
	vip.SetDefault("guardrails.redis.addr", "localhost:6379")
	vip.SetDefault("guardrails.redis.key_prefix", "opsplane:confirm:")

	vip.SetDefault("audit.sink", "jsonl")
	vip.SetDefault("audit.jsonl_path", "logs/audit.jsonl")
	vip.SetDefault("audit.sqlite_path", "opsplane-audit.db")
	vip.SetDefault("audit.async.enabled", true)
	vip.SetDefault("audit.async.buffer_size", 1024)
	vip.SetDefault("audit.async.batch_size", 32)
	vip.SetDefault("audit.async.flush_interval", "2s")
	vip.SetDefault("audit.breaker.max_failures", 5)
	vip.SetDefault("audit.breaker.reset_timeout", "30s")

	vip.SetDefault("providers.mode", "aws")
	vip.SetDefault("providers.status_cache_ttl", "15s")

	vip.SetDefault("limits.rate", 10.0)
	vip.SetDefault("limits.burst", 20)
	vip.SetDefault("limits.adapter_timeout", "30s")
	vip.SetDefault("limits.retry.max_attempts", 3)
	vip.SetDefault("limits.retry.initial_backoff", "250ms")
	vip.SetDefault("limits.retry.max_backoff", "5s")
	vip.SetDefault("limits.retry.max_elapsed", "45s")
}

// getenv returns an environment variable or a default value.
func getenv(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}
