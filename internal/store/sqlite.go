// SPDX-License-Identifier: MIT

// Package store provides the shared SQLite connection helper.
package store

import (
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite" // Pure Go driver

	"github.com/mindloop/affirmd/internal/log"
)

// Config defines standard SQLite operational parameters.
type Config struct {
	BusyTimeout  time.Duration
	MaxOpenConns int
}

// DefaultConfig returns the recommended configuration for a read-heavy workload.
func DefaultConfig() Config {
	return Config{
		BusyTimeout:  5 * time.Second,
		MaxOpenConns: 25,
	}
}

// Open initializes a SQLite connection pool with mandatory PRAGMAs.
// It enforces WAL mode and busy_timeout so concurrent readers never block on
// the single writer. Connect failures retry up to 3 times.
func Open(dbPath string, cfg Config) (*sql.DB, error) {
	// Mandatory PRAGMAs go through the DSN so they apply to every pooled connection.
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(%d)&_pragma=synchronous(NORMAL)&_pragma=foreign_keys(ON)",
		dbPath, cfg.BusyTimeout.Milliseconds())

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open failed: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxOpenConns)
	db.SetConnMaxLifetime(1 * time.Hour)

	logger := log.WithComponent("store")
	var pingErr error
	for attempt := 1; attempt <= 3; attempt++ {
		if pingErr = db.Ping(); pingErr == nil {
			return db, nil
		}
		logger.Warn().Err(pingErr).Int("attempt", attempt).Msg("sqlite ping failed, retrying")
		time.Sleep(time.Duration(attempt) * 200 * time.Millisecond)
	}
	_ = db.Close()
	return nil, fmt.Errorf("sqlite: ping failed: %w", pingErr)
}

// OpenMemory opens an isolated in-memory database, used by tests.
func OpenMemory() (*sql.DB, error) {
	db, err := sql.Open("sqlite", "file::memory:?_pragma=foreign_keys(ON)")
	if err != nil {
		return nil, fmt.Errorf("sqlite: open memory failed: %w", err)
	}
	// A single connection keeps the in-memory database alive and shared.
	db.SetMaxOpenConns(1)
	return db, nil
}
