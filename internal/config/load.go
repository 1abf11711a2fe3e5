package config

import (
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// Load reads configuration from environment variables (prefix LOOMGEN_,
// nested keys joined with underscores, e.g. LOOMGEN_PROVIDERS_OPENAI_API_KEY)
// and an optional loomgen.yaml in the working directory. Environment
// variables take precedence. Returns a validated Config or an error
// describing what is missing.
func Load() (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetConfigName("loomgen")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	if err := v.ReadInConfig(); err != nil {
		// A missing config file is fine; env vars and defaults suffice.
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	v.SetEnvPrefix("LOOMGEN")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// AutomaticEnv does not surface env-only keys through Unmarshal
	// unless the key is known, so bind everything that has a default or
	// appears in the struct.
	for _, key := range envKeys {
		if err := v.BindEnv(key); err != nil {
			return nil, fmt.Errorf("failed to bind env key %s: %w", key, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse configuration: %w", err)
	}

	if err := validator.New().Struct(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// envKeys lists config keys without defaults that must still be reachable
// from the environment.
var envKeys = []string{
	"providers.openai.api_key",
	"providers.openai.base_url",
	"providers.anthropic.api_key",
	"providers.anthropic.base_url",
	"providers.gemini.api_key",
	"database.url",
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 0)
	v.SetDefault("server.log_level", "info")

	v.SetDefault("paths.cache_dir", "cache/responses")
	v.SetDefault("paths.ledger_dir", "cache/ledger")
	v.SetDefault("paths.output_dir", "checkpoints")

	v.SetDefault("dispatch.max_retries", 3)
	v.SetDefault("dispatch.initial_backoff_seconds", 1)
	v.SetDefault("dispatch.max_backoff_seconds", 16)
	v.SetDefault("dispatch.use_cache", true)

	v.SetDefault("scheduler.concurrency", 5)

	v.SetDefault("providers.generation_provider", "openai")
	v.SetDefault("providers.generation_model", "gpt-4-turbo")
	v.SetDefault("providers.format_provider", "openai")
	v.SetDefault("providers.format_model", "gpt-3.5-turbo")
}
