package config

// Config holds all application configuration.
// It organizes settings into logical groups for better maintainability.
type Config struct {
	Server    ServerConfig              `mapstructure:"server" validate:"required"`
	Database  DatabaseConfig            `mapstructure:"database" validate:"required"`
	Gemini    GeminiConfig              `mapstructure:"gemini" validate:"required"`
	Scheduler SchedulerConfig           `mapstructure:"scheduler" validate:"required"`
	Providers map[string]ProviderConfig `mapstructure:"providers" validate:"dive"`
	Storage   StorageConfig             `mapstructure:"storage"`
}

// ServerConfig contains all server-related configuration settings.
type ServerConfig struct {
	Port     int    `mapstructure:"port" validate:"required,gt=0,lt=65536"`
	LogLevel string `mapstructure:"log_level" validate:"required,oneof=debug info warn error"`
}

// DatabaseConfig contains all database-related configuration settings.
type DatabaseConfig struct {
	URL string `mapstructure:"url" validate:"required,url"`
}

// GeminiConfig configures the LLM used for prompt expansion.
type GeminiConfig struct {
	APIKey            string `mapstructure:"api_key" validate:"required"`
	ModelName         string `mapstructure:"model_name" validate:"required"`
	MaxRetries        int    `mapstructure:"max_retries" validate:"gte=0"`
	RetryDelaySeconds int    `mapstructure:"retry_delay_seconds" validate:"gte=0"`
}

// SchedulerConfig sizes the background job pipeline.
type SchedulerConfig struct {
	WorkerCount       int `mapstructure:"worker_count" validate:"required,gt=0"`
	QueueSize         int `mapstructure:"queue_size" validate:"required,gt=0"`
	PollIntervalMS    int `mapstructure:"poll_interval_ms" validate:"required,gt=0"`
	StuckAfterMinutes int `mapstructure:"stuck_after_minutes" validate:"gt=0"`
}

// ProviderConfig configures one image-generation provider adapter. The map key
// in Config.Providers is the provider name used by the rate limiter
// ("gemini", "dashscope", "modelscope").
type ProviderConfig struct {
	APIKey    string          `mapstructure:"api_key"`
	BaseURL   string          `mapstructure:"base_url"`
	Model     string          `mapstructure:"model"`
	Enabled   bool            `mapstructure:"enabled"`
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
}

// RateLimitConfig overrides one provider's sliding-window limit.
// Zero values fall back to the limiter's built-in defaults.
type RateLimitConfig struct {
	MaxRequests int `mapstructure:"max_requests" validate:"gte=0"`
	WindowMS    int `mapstructure:"window_ms" validate:"gte=0"`
	MinDelayMS  int `mapstructure:"min_delay_ms" validate:"gte=0"`
}

// StorageConfig configures the object-storage artifact mirror. When Enabled is
// false generated images keep their provider-hosted URLs (or fall back to data
// URIs for byte-only results).
type StorageConfig struct {
	Enabled       bool   `mapstructure:"enabled"`
	Endpoint      string `mapstructure:"endpoint"`
	AccessKey     string `mapstructure:"access_key"`
	SecretKey     string `mapstructure:"secret_key"`
	Bucket        string `mapstructure:"bucket"`
	UseSSL        bool   `mapstructure:"use_ssl"`
	PublicBaseURL string `mapstructure:"public_base_url"`
}
