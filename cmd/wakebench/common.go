package main

import (
	"os"
	"path/filepath"
)

// getDBPath returns the path to the results database file
func getDBPath() string {
	// Check environment variable first
	if dbPath := os.Getenv("WAKEBENCH_DB_PATH"); dbPath != "" {
		return dbPath
	}

	// Default to user's home directory
	homeDir, err := os.UserHomeDir()
	if err != nil {
		// Fallback to current directory
		return "wakebench.db"
	}

	// Create .wakebench directory if it doesn't exist
	dir := filepath.Join(homeDir, ".wakebench")
	if err := os.MkdirAll(dir, 0o755); err == nil {
		return filepath.Join(dir, "wakebench.db")
	}

	// Fallback to current directory
	return "wakebench.db"
}
