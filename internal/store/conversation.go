package store

import (
	"database/sql"
	"time"
)

const conversationColumns = `id, patient_id, counselor_id, topic, urgency, status, created_at, cached_at`

// UpsertConversation inserts or refreshes a cached conversation snapshot.
func (db *DB) UpsertConversation(c *Conversation) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`
		INSERT INTO conversations (id, patient_id, counselor_id, topic, urgency, status, created_at, cached_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			counselor_id = excluded.counselor_id,
			topic = excluded.topic,
			urgency = excluded.urgency,
			status = excluded.status,
			cached_at = excluded.cached_at`,
		c.ID, c.PatientID, c.CounselorID, c.Topic, c.Urgency, c.Status, c.CreatedAt, now)
	return err
}

// GetConversation returns a cached conversation by id, or nil if absent.
func (db *DB) GetConversation(id string) (*Conversation, error) {
	var c Conversation
	err := db.QueryRow(`SELECT `+conversationColumns+` FROM conversations WHERE id = ?`, id).
		Scan(&c.ID, &c.PatientID, &c.CounselorID, &c.Topic, &c.Urgency, &c.Status, &c.CreatedAt, &c.CachedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// ListConversationsByParticipant returns cached conversations where the
// given user participates, newest first. Role selects the index column.
func (db *DB) ListConversationsByParticipant(userID, role string) ([]Conversation, error) {
	column := "patient_id"
	if role == "counselor" {
		column = "counselor_id"
	}
	rows, err := db.Query(`
		SELECT `+conversationColumns+`
		FROM conversations
		WHERE `+column+` = ?
		ORDER BY created_at DESC`, userID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var convs []Conversation
	for rows.Next() {
		var c Conversation
		if err := rows.Scan(&c.ID, &c.PatientID, &c.CounselorID, &c.Topic, &c.Urgency, &c.Status, &c.CreatedAt, &c.CachedAt); err != nil {
			return nil, err
		}
		convs = append(convs, c)
	}
	return convs, rows.Err()
}
