package main

import (
	"fmt"
	"os"
	"path/filepath"
)

// MigrationTableName is the name of the table used by goose to track migrations.
const MigrationTableName = "schema_migrations"

// FindMigrationsDir attempts to locate the migrations directory relative to the project root.
func FindMigrationsDir() (string, error) {
	projectRoot, err := FindProjectRoot()
	if err != nil {
		return "", fmt.Errorf("failed to find project root: %w", err)
	}

	migrationsPath := filepath.Join(projectRoot, "internal", "platform", "postgres", "migrations")

	// Verify the migrations directory exists
	if _, err := os.Stat(migrationsPath); os.IsNotExist(err) {
		return "", fmt.Errorf("migrations directory not found at %s", migrationsPath)
	}

	return migrationsPath, nil
}

// FindProjectRoot locates the project root directory by looking for marker files.
func FindProjectRoot() (string, error) {
	// Check CI environment variables first
	if ci := os.Getenv("CI"); ci == "true" {
		if githubWorkspace := os.Getenv("GITHUB_WORKSPACE"); githubWorkspace != "" {
			return filepath.Clean(githubWorkspace), nil
		}
		if ciProjectDir := os.Getenv("CI_PROJECT_DIR"); ciProjectDir != "" {
			return filepath.Clean(ciProjectDir), nil
		}
	}

	// Start from current working directory
	currentDir, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("failed to get current directory: %w", err)
	}

	// Walk up the directory tree looking for project root markers
	dir := currentDir
	for {
		// Check for go.mod (Go projects)
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir, nil
		}

		// Check if we've reached the root directory
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}

	return "", fmt.Errorf("project root not found (no go.mod found in directory tree)")
}
