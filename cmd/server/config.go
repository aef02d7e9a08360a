package main

import (
	"fmt"
	"log/slog"

	"github.com/easelhq/easel-api/internal/config"
)

// loadAppConfig loads the application configuration from environment variables
// or config file. Returns the loaded config and any loading error.
func loadAppConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	// Log basic configuration details after successful loading
	slog.Info("Server configuration loaded",
		"port", cfg.Server.Port,
		"log_level", cfg.Server.LogLevel)

	// Log additional configuration details at debug level if available
	if cfg.Database.URL != "" {
		slog.Debug("Database configuration", "url_present", true)
	}
	if cfg.Gemini.APIKey != "" {
		slog.Debug("Gemini configuration",
			"api_key_present", true,
			"model_name", cfg.Gemini.ModelName)
	}
	slog.Debug("Provider configuration",
		"configured", len(cfg.Providers),
		"enabled", countEnabledProviders(cfg))
	slog.Debug("Storage configuration", "enabled", cfg.Storage.Enabled)

	return cfg, nil
}

// countEnabledProviders returns how many configured providers are enabled.
func countEnabledProviders(cfg *config.Config) int {
	enabled := 0
	for _, pcfg := range cfg.Providers {
		if pcfg.Enabled {
			enabled++
		}
	}
	return enabled
}
