// Package ledger provides an append-only history of user commands and
// session events. It supports command deduplication and auditing.
//
// Tokens and credentials are never written to the ledger.
package ledger

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// EventType represents the type of event in the ledger
type EventType string

const (
	EventCommandCompleted EventType = "command_completed"
	EventCommandFailed    EventType = "command_failed"
	EventLogin            EventType = "login"
	EventLoginFailed      EventType = "login_failed"
	EventLogout           EventType = "logout"
	EventAuthFailed       EventType = "auth_failed"
)

// Entry represents a single event in the ledger
type Entry struct {
	ID             int64          `json:"id"`
	EventType      EventType      `json:"event_type"`
	Timestamp      time.Time      `json:"timestamp"`
	Payload        map[string]any `json:"payload,omitempty"`
	Source         string         `json:"source,omitempty"`
	IdempotencyKey string         `json:"command_id,omitempty"`
	EntityID       string         `json:"entity_id,omitempty"` // For command events only
}

// Ledger provides append-only event logging with deduplication
type Ledger struct {
	db  *sql.DB
	now func() time.Time
}

// New creates a new Ledger using the provided database connection
func New(db *sql.DB) *Ledger {
	return &Ledger{db: db, now: time.Now}
}

// AppendWithSource adds a new event with source and entity id.
// command_completed uses INSERT OR IGNORE so the first completion of a
// command id wins.
func (l *Ledger) AppendWithSource(eventType EventType, idempotencyKey, source, entityID string, payload map[string]any) error {
	var payloadJSON []byte
	var err error

	if payload != nil {
		payloadJSON, err = json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("failed to marshal payload: %w", err)
		}
	}

	now := l.now().UTC().Unix()

	insertSQL := `INSERT INTO event_ledger (event_type, timestamp, payload, source, idempotency_key, entity_id) VALUES (?, ?, ?, ?, ?, ?)`
	if eventType == EventCommandCompleted && idempotencyKey != "" {
		insertSQL = `INSERT OR IGNORE INTO event_ledger (event_type, timestamp, payload, source, idempotency_key, entity_id) VALUES (?, ?, ?, ?, ?, ?)`
	}

	_, err = l.db.Exec(insertSQL, string(eventType), now, string(payloadJSON), source, idempotencyKey, entityID)

	return err
}

// HasCompleted checks if a command with the given id has completed successfully
func (l *Ledger) HasCompleted(idempotencyKey string) bool {
	if idempotencyKey == "" {
		return false // Empty key = no dedupe
	}

	var exists int
	err := l.db.QueryRow(`
		SELECT 1 FROM event_ledger
		WHERE idempotency_key = ? AND event_type = ?
		LIMIT 1
	`, idempotencyKey, string(EventCommandCompleted)).Scan(&exists)

	return err == nil && exists == 1
}

// GetByType returns entries filtered by event type, newest first
func (l *Ledger) GetByType(eventType EventType, limit int) ([]*Entry, error) {
	rows, err := l.db.Query(`
		SELECT id, event_type, timestamp, payload, source, idempotency_key, entity_id
		FROM event_ledger
		WHERE event_type = ?
		ORDER BY timestamp DESC, id DESC
		LIMIT ?
	`, string(eventType), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return l.scanEntries(rows)
}

// GetByEntity returns the command history of one entity, newest first
func (l *Ledger) GetByEntity(entityID string, limit int) ([]*Entry, error) {
	rows, err := l.db.Query(`
		SELECT id, event_type, timestamp, payload, source, idempotency_key, entity_id
		FROM event_ledger
		WHERE entity_id = ?
		ORDER BY timestamp DESC, id DESC
		LIMIT ?
	`, entityID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return l.scanEntries(rows)
}

// GetByTimeRange returns entries within a time range
func (l *Ledger) GetByTimeRange(start, end time.Time, limit int) ([]*Entry, error) {
	rows, err := l.db.Query(`
		SELECT id, event_type, timestamp, payload, source, idempotency_key, entity_id
		FROM event_ledger
		WHERE timestamp >= ? AND timestamp <= ?
		ORDER BY timestamp DESC, id DESC
		LIMIT ?
	`, start.Unix(), end.Unix(), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return l.scanEntries(rows)
}

// DeleteOlderThan removes entries older than the specified duration (retention policy)
func (l *Ledger) DeleteOlderThan(retention time.Duration) (int64, error) {
	cutoff := l.now().Add(-retention).Unix()
	result, err := l.db.Exec(`
		DELETE FROM event_ledger WHERE timestamp < ?
	`, cutoff)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

func (l *Ledger) scanEntries(rows *sql.Rows) ([]*Entry, error) {
	var entries []*Entry
	for rows.Next() {
		var entry Entry
		var payloadStr sql.NullString
		var source, entityID, idempotencyKey sql.NullString
		var timestamp int64

		err := rows.Scan(
			&entry.ID, &entry.EventType, &timestamp, &payloadStr, &source, &idempotencyKey, &entityID,
		)
		if err != nil {
			return nil, err
		}

		entry.Timestamp = time.Unix(timestamp, 0).UTC()
		entry.Source = source.String
		entry.EntityID = entityID.String
		entry.IdempotencyKey = idempotencyKey.String

		if payloadStr.Valid && payloadStr.String != "" {
			entry.Payload = make(map[string]any)
			if err := json.Unmarshal([]byte(payloadStr.String), &entry.Payload); err != nil {
				return nil, fmt.Errorf("failed to unmarshal payload: %w", err)
			}
		}

		entries = append(entries, &entry)
	}

	return entries, rows.Err()
}
