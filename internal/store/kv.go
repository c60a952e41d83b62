package store

import (
	"database/sql"
	"fmt"
	"time"
)

// PutSessionValue stores a flat key/value pair in the session data area.
func (db *DB) PutSessionValue(key, value string) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`
		INSERT INTO session_data (key, value, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, value, now)
	return err
}

// GetSessionValue retrieves a session value. Absent keys return "".
func (db *DB) GetSessionValue(key string) (string, error) {
	var value string
	err := db.QueryRow(`SELECT value FROM session_data WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return value, nil
}

// ClearOfflineData wipes the entire offline cache in one transaction:
// messages, conversations, the pending queue, and session data.
func (db *DB) ClearOfflineData() error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, table := range []string{"messages", "conversations", "pending_messages", "session_data"} {
		if _, err := tx.Exec(`DELETE FROM ` + table); err != nil {
			return fmt.Errorf("clear %s: %w", table, err)
		}
	}
	return tx.Commit()
}
