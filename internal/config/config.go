// Package config handles configuration loading, parsing, and validation.
package config

// Config holds all application configuration, grouped by concern.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"    validate:"required"`
	Paths     PathsConfig     `mapstructure:"paths"     validate:"required"`
	Dispatch  DispatchConfig  `mapstructure:"dispatch"  validate:"required"`
	Scheduler SchedulerConfig `mapstructure:"scheduler" validate:"required"`
	Providers ProvidersConfig `mapstructure:"providers" validate:"required"`
	Database  DatabaseConfig  `mapstructure:"database"`
}

// ServerConfig contains settings for logging and the optional status
// endpoint.
type ServerConfig struct {
	// Port serves the status API; 0 keeps it off.
	Port     int    `mapstructure:"port"      validate:"gte=0,lt=65536"`
	LogLevel string `mapstructure:"log_level" validate:"required,oneof=debug info warn error"`
}

// PathsConfig contains the local state directories.
type PathsConfig struct {
	CacheDir  string `mapstructure:"cache_dir"  validate:"required"`
	LedgerDir string `mapstructure:"ledger_dir" validate:"required"`
	OutputDir string `mapstructure:"output_dir" validate:"required"`
}

// DispatchConfig tunes retry behavior for provider calls.
type DispatchConfig struct {
	MaxRetries            int  `mapstructure:"max_retries"             validate:"gte=0,lte=10"`
	InitialBackoffSeconds int  `mapstructure:"initial_backoff_seconds" validate:"gte=1"`
	MaxBackoffSeconds     int  `mapstructure:"max_backoff_seconds"     validate:"gte=1"`
	UseCache              bool `mapstructure:"use_cache"`
}

// SchedulerConfig tunes the worker pool.
type SchedulerConfig struct {
	Concurrency int `mapstructure:"concurrency" validate:"gte=1,lte=64"`
}

// ProvidersConfig carries per-backend credentials and the provider/model
// pairs the pipeline stages use. Credentials are only required for the
// backends actually selected, so they validate as optional here and are
// checked at client construction.
type ProvidersConfig struct {
	OpenAI    OpenAIConfig    `mapstructure:"openai"`
	Anthropic AnthropicConfig `mapstructure:"anthropic"`
	Gemini    GeminiConfig    `mapstructure:"gemini"`

	// Generation* select the backend for the expensive generation
	// calls; Format* select the (usually cheaper) backend for
	// reformatting passes.
	GenerationProvider string `mapstructure:"generation_provider" validate:"required"`
	GenerationModel    string `mapstructure:"generation_model"    validate:"required"`
	FormatProvider     string `mapstructure:"format_provider"     validate:"required"`
	FormatModel        string `mapstructure:"format_model"        validate:"required"`
}

// OpenAIConfig contains OpenAI-compatible backend settings.
type OpenAIConfig struct {
	APIKey  string `mapstructure:"api_key"`
	BaseURL string `mapstructure:"base_url"`
}

// AnthropicConfig contains Anthropic backend settings.
type AnthropicConfig struct {
	APIKey  string `mapstructure:"api_key"`
	BaseURL string `mapstructure:"base_url"`
}

// GeminiConfig contains Gemini backend settings.
type GeminiConfig struct {
	APIKey string `mapstructure:"api_key"`
}

// DatabaseConfig selects the optional shared Postgres ledger. When URL is
// empty the file-backed ledger is used.
type DatabaseConfig struct {
	URL string `mapstructure:"url" validate:"omitempty,url"`
}
