//go:build sqlite && !postgres

package main

import (
	"os"

	"doorpasses/internal/audit"
	"doorpasses/internal/observability"
	"doorpasses/internal/storage"
	sqlitestore "doorpasses/internal/storage/sqlite"
)

func sqliteDSN() string {
	dsn := os.Getenv("SQLITE_DSN")
	if dsn == "" {
		dsn = "file:doorpasses.db?cache=shared&_fk=1"
	}
	return dsn
}

// selectStore returns a SQLite-backed store when built with the 'sqlite'
// tag. Configure with SQLITE_DSN.
func selectStore(logger observability.Logger) storage.Store {
	if logger == nil {
		logger = observability.NewLogger(observability.DefaultConfig())
	}
	dsn := sqliteDSN()
	st, err := sqlitestore.New(dsn)
	if err != nil {
		logger.Error("sqlite init failed; falling back to memory store", "error", err)
		return storage.NewMemoryStore()
	}
	logger.Info("using sqlite store", "dsn", dsn)
	return st
}

func selectAuditLogger(logger observability.Logger) audit.Logger {
	if logger == nil {
		logger = observability.NewLogger(observability.DefaultConfig())
	}
	al, err := audit.NewSQLiteLogger(sqliteDSN())
	if err != nil {
		logger.Error("sqlite audit logger init failed; falling back to memory", "error", err)
		return audit.NewMemoryLogger()
	}
	logger.Info("using sqlite audit logger")
	return al
}

func sqliteStatus(dsn string) string {
	s, err := sqlitestore.Status(dsn)
	if err != nil {
		return ""
	}
	return s
}

func postgresStatus() string { return "" }
