package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// Load reads configuration from environment variables and an optional
// config.yaml in the working directory. Environment variables take precedence
// over file values, which take precedence over defaults. Environment variables
// use the EASEL_ prefix with dots replaced by underscores, so server.port is
// EASEL_SERVER_PORT and providers.dashscope.api_key is
// EASEL_PROVIDERS_DASHSCOPE_API_KEY.
// Returns a populated Config struct or an error if loading/validation fails.
func Load() (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	if err := v.ReadInConfig(); err != nil {
		// A missing file is fine; environment variables cover everything.
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	v.SetEnvPrefix("EASEL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := validateConfig(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// setDefaults registers a default for every known key. Required keys default
// to the empty string so environment-only deployments still unmarshal; the
// validator rejects them when they stay empty.
func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.log_level", "info")

	v.SetDefault("database.url", "")

	v.SetDefault("gemini.api_key", "")
	v.SetDefault("gemini.model_name", "gemini-2.5-flash")
	v.SetDefault("gemini.max_retries", 3)
	v.SetDefault("gemini.retry_delay_seconds", 2)

	v.SetDefault("scheduler.worker_count", 4)
	v.SetDefault("scheduler.queue_size", 100)
	v.SetDefault("scheduler.poll_interval_ms", 2000)
	v.SetDefault("scheduler.stuck_after_minutes", 30)

	setProviderDefaults(v, "gemini", "gemini-2.5-flash-image", 10, 60_000, 100)
	setProviderDefaults(v, "dashscope", "qwen-image", 5, 60_000, 200)
	setProviderDefaults(v, "modelscope", "z-image", 15, 60_000, 100)

	v.SetDefault("storage.enabled", false)
	v.SetDefault("storage.endpoint", "")
	v.SetDefault("storage.access_key", "")
	v.SetDefault("storage.secret_key", "")
	v.SetDefault("storage.bucket", "easel-artifacts")
	v.SetDefault("storage.use_ssl", false)
	v.SetDefault("storage.public_base_url", "")
}

// setProviderDefaults registers one provider's keys so its environment
// variables are picked up without a config file.
func setProviderDefaults(v *viper.Viper, name, model string, maxRequests, windowMS, minDelayMS int) {
	prefix := "providers." + name + "."
	v.SetDefault(prefix+"api_key", "")
	v.SetDefault(prefix+"base_url", "")
	v.SetDefault(prefix+"model", model)
	v.SetDefault(prefix+"enabled", true)
	v.SetDefault(prefix+"rate_limit.max_requests", maxRequests)
	v.SetDefault(prefix+"rate_limit.window_ms", windowMS)
	v.SetDefault(prefix+"rate_limit.min_delay_ms", minDelayMS)
}

// validateConfig checks the loaded configuration against the struct's
// validate tags.
func validateConfig(cfg *Config) error {
	validate := validator.New()
	if err := validate.Struct(cfg); err != nil {
		return fmt.Errorf("config validation failed: %w", err)
	}
	return nil
}
