// Package db provides the database connection and schema for voltalisd.
package db

import (
	"database/sql"
	"fmt"
	"strings"

	_ "github.com/mattn/go-sqlite3"
)

// MemoryPath is an in-memory database shared by all connections of the process.
const MemoryPath = "file:voltalisd?mode=memory&cache=shared"

// DB wraps the SQLite database connection
type DB struct {
	*sql.DB
}

// Open opens the database and initializes the schema
func Open(dbPath string) (*DB, error) {
	if dbPath == "" {
		dbPath = MemoryPath
	}

	sep := "?"
	if strings.Contains(dbPath, "?") {
		sep = "&"
	}

	db, err := sql.Open("sqlite3", dbPath+sep+"_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// A single connection keeps a shared in-memory database alive and
	// serializes writers.
	db.SetMaxOpenConns(1)

	if err := initSchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return &DB{db}, nil
}

// initSchema creates all required tables
func initSchema(db *sql.DB) error {
	// Event ledger - append-only history of user commands and session events.
	// Several rows may share an idempotency key (received, completed, failed).
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS event_ledger (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			event_type TEXT NOT NULL,
			timestamp INTEGER NOT NULL,
			payload TEXT,
			source TEXT,
			idempotency_key TEXT,
			entity_id TEXT
		);
		CREATE INDEX IF NOT EXISTS idx_ledger_type_ts ON event_ledger(event_type, timestamp);
		CREATE INDEX IF NOT EXISTS idx_ledger_idempotency ON event_ledger(idempotency_key, event_type);
	`)
	if err != nil {
		return fmt.Errorf("failed to create event_ledger table: %w", err)
	}

	// Only one command_completed per idempotency key: first writer wins.
	_, err = db.Exec(`
		CREATE UNIQUE INDEX IF NOT EXISTS idx_ledger_idempotency_completed
		ON event_ledger(idempotency_key)
		WHERE idempotency_key IS NOT NULL AND idempotency_key != '' AND event_type = 'command_completed';
	`)
	if err != nil {
		return fmt.Errorf("failed to create idx_ledger_idempotency_completed index: %w", err)
	}

	_, err = db.Exec(`
		CREATE INDEX IF NOT EXISTS idx_ledger_entity
		ON event_ledger(entity_id, timestamp)
		WHERE entity_id IS NOT NULL AND entity_id != '';
	`)
	if err != nil {
		return fmt.Errorf("failed to create idx_ledger_entity index: %w", err)
	}

	return nil
}

// Close closes the database connection
func (db *DB) Close() error {
	return db.DB.Close()
}
