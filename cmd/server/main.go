// Package main implements the entry point for the Easel API server,
// which fans creative image requests out across multiple generation
// providers and tracks them through an async job pipeline.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"

	"github.com/easelhq/easel-api/internal/config"

	// Blank import registers the pgx database/sql driver.
	_ "github.com/jackc/pgx/v5/stdlib"
)

// main parses command-line flags and dispatches either to the migration
// runner or to the long-running API server.
func main() {
	migrateCmd := flag.String(
		"migrate",
		"",
		"Run database migrations (up, down, reset, status, version, create)",
	)
	migrationName := flag.String(
		"migration-name",
		"",
		"Name for a new migration (used with -migrate create)",
	)
	verbose := flag.Bool("verbose", false, "Enable verbose migration logging")
	verifyMigrationsFlag := flag.Bool(
		"verify-migrations",
		false,
		"Verify migration setup without applying changes",
	)
	validateMigrationsFlag := flag.Bool(
		"validate-migrations",
		false,
		"Validate that all migrations have been applied",
	)
	flag.Parse()

	cfg, appLogger, err := initializeApp()
	if err != nil {
		slog.Error("Failed to initialize application", "error", err)
		os.Exit(1)
	}

	// Migration-related flags run the requested operation and exit instead
	// of starting the server.
	if *migrateCmd != "" || *verifyMigrationsFlag || *validateMigrationsFlag {
		err := handleMigrations(
			cfg,
			*migrateCmd,
			*migrationName,
			*verbose,
			*verifyMigrationsFlag,
			*validateMigrationsFlag,
		)
		if err != nil {
			slog.Error("Migration operation failed", "error", err)
			os.Exit(1)
		}
		return
	}

	if err := runServer(cfg, appLogger); err != nil {
		appLogger.Error("Server exited with error", "error", err)
		os.Exit(1)
	}
}

// initializeApp loads configuration and sets up structured logging.
// Returns the loaded config, the application logger, and any
// initialization error.
func initializeApp() (*config.Config, *slog.Logger, error) {
	cfg, err := loadAppConfig()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	appLogger, err := setupAppLogger(cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to set up logger: %w", err)
	}

	return cfg, appLogger, nil
}

// runServer wires the application together and runs it until shutdown.
func runServer(cfg *config.Config, appLogger *slog.Logger) error {
	ctx := context.Background()

	db, err := setupAppDatabase(cfg, appLogger)
	if err != nil {
		return fmt.Errorf("failed to set up database: %w", err)
	}

	app, err := newApplication(ctx, cfg, appLogger, db)
	if err != nil {
		// The application never took ownership of the connection, so close
		// it here before bailing out.
		if closeErr := db.Close(); closeErr != nil {
			appLogger.Error("Error closing database connection", "error", closeErr)
		}
		return fmt.Errorf("failed to initialize application: %w", err)
	}

	return app.Run(ctx)
}
