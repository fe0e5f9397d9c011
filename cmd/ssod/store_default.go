//go:build !sqlite && !postgres

package main

import (
	"os"

	"doorpasses/internal/audit"
	"doorpasses/internal/observability"
	"doorpasses/internal/storage"
)

// selectStore returns the in-memory store when built without a storage
// tag. If a database is configured in the environment, log a hint to
// rebuild with the matching tag.
func selectStore(logger observability.Logger) storage.Store {
	if logger == nil {
		logger = observability.NewLogger(observability.DefaultConfig())
	}
	if os.Getenv("DATABASE_URL") != "" {
		logger.Warn("DATABASE_URL set, but binary not built with -tags postgres; using in-memory store")
	}
	if os.Getenv("SQLITE_DSN") != "" {
		logger.Warn("SQLITE_DSN set, but binary not built with -tags sqlite; using in-memory store")
	}
	return storage.NewMemoryStore()
}

func selectAuditLogger(logger observability.Logger) audit.Logger {
	return audit.NewMemoryLogger()
}

func sqliteDSN() string { return "" }

func sqliteStatus(_ string) string { return "" }

func postgresStatus() string { return "" }
