package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/mansaraysaheedalpha/safespace-salone/internal/status"
)

const messageColumns = `id, conversation_id, sender_id, kind, content, duration, reply_to_id, read_at, status, created_at`

// UpsertMessage inserts or overwrites a message by id (idempotent).
func (db *DB) UpsertMessage(m *Message) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`
		INSERT INTO messages (id, conversation_id, sender_id, kind, content, duration, reply_to_id, read_at, status, created_at, cached_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			content = excluded.content,
			duration = excluded.duration,
			reply_to_id = excluded.reply_to_id,
			read_at = excluded.read_at,
			status = excluded.status,
			cached_at = excluded.cached_at`,
		m.ID, m.ConversationID, m.SenderID, m.Kind, m.Content, m.Duration, m.ReplyToID, m.ReadAt, m.Status, m.CreatedAt, now)
	return err
}

// GetMessage returns a single message by id, or nil if absent.
func (db *DB) GetMessage(id string) (*Message, error) {
	var m Message
	err := db.QueryRow(`SELECT `+messageColumns+` FROM messages WHERE id = ?`, id).
		Scan(&m.ID, &m.ConversationID, &m.SenderID, &m.Kind, &m.Content, &m.Duration, &m.ReplyToID, &m.ReadAt, &m.Status, &m.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &m, nil
}

// ListMessages returns all messages for a conversation in creation-time
// order. Insert order is irrelevant; display order is always created_at.
func (db *DB) ListMessages(conversationID string, limit int) ([]Message, error) {
	if limit <= 0 {
		limit = 500
	}
	rows, err := db.Query(`
		SELECT `+messageColumns+`
		FROM messages
		WHERE conversation_id = ?
		ORDER BY created_at ASC
		LIMIT ?`, conversationID, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var msgs []Message
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.ID, &m.ConversationID, &m.SenderID, &m.Kind, &m.Content, &m.Duration, &m.ReplyToID, &m.ReadAt, &m.Status, &m.CreatedAt); err != nil {
			return nil, err
		}
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

// DeleteMessage removes a message by id. Deleting an absent id is a no-op.
func (db *DB) DeleteMessage(id string) error {
	_, err := db.Exec(`DELETE FROM messages WHERE id = ?`, id)
	return err
}

// DeleteConversationMessages removes all cached messages of a conversation.
func (db *DB) DeleteConversationMessages(conversationID string) error {
	_, err := db.Exec(`DELETE FROM messages WHERE conversation_id = ?`, conversationID)
	return err
}

// ReplaceMessage atomically collapses a temporary message into its
// server-confirmed record: the temp row is removed and the durable row
// upserted in one transaction, so both can never be visible together.
// Removing an already-collapsed temp id is a no-op, which makes the
// replacement safe under the send-response/realtime-push race.
func (db *DB) ReplaceMessage(tempID string, m *Message) error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec(`DELETE FROM messages WHERE id = ?`, tempID); err != nil {
		return fmt.Errorf("delete temp message: %w", err)
	}

	now := time.Now().UnixMilli()
	if _, err := tx.Exec(`
		INSERT INTO messages (id, conversation_id, sender_id, kind, content, duration, reply_to_id, read_at, status, created_at, cached_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			content = excluded.content,
			duration = excluded.duration,
			reply_to_id = excluded.reply_to_id,
			read_at = excluded.read_at,
			status = excluded.status,
			cached_at = excluded.cached_at`,
		m.ID, m.ConversationID, m.SenderID, m.Kind, m.Content, m.Duration, m.ReplyToID, m.ReadAt, m.Status, m.CreatedAt, now); err != nil {
		return fmt.Errorf("upsert durable message: %w", err)
	}

	return tx.Commit()
}

// FindPendingByContent returns the oldest still-unconfirmed temporary
// message matching (conversation, sender, kind, content), or nil. This
// is the content-match fallback for collapsing a realtime-pushed durable
// record with its local placeholder when the ids differ.
func (db *DB) FindPendingByContent(conversationID, senderID, kind, content string) (*Message, error) {
	var m Message
	err := db.QueryRow(`
		SELECT `+messageColumns+`
		FROM messages
		WHERE conversation_id = ? AND sender_id = ? AND kind = ? AND content = ?
			AND id LIKE ? AND status IN ('sending', 'pending')
		ORDER BY created_at ASC
		LIMIT 1`, conversationID, senderID, kind, content, TempIDPrefix+"%").
		Scan(&m.ID, &m.ConversationID, &m.SenderID, &m.Kind, &m.Content, &m.Duration, &m.ReplyToID, &m.ReadAt, &m.Status, &m.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &m, nil
}

// ListStuckOutbound returns temporary messages left in 'sending' status,
// e.g. after the process died mid-request. They are re-queued at startup.
func (db *DB) ListStuckOutbound() ([]Message, error) {
	rows, err := db.Query(`
		SELECT `+messageColumns+`
		FROM messages
		WHERE id LIKE ? AND status = 'sending'
		ORDER BY created_at ASC`, TempIDPrefix+"%")
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var msgs []Message
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.ID, &m.ConversationID, &m.SenderID, &m.Kind, &m.Content, &m.Duration, &m.ReplyToID, &m.ReadAt, &m.Status, &m.CreatedAt); err != nil {
			return nil, err
		}
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

// SetMessageStatus updates the status of a message, enforcing the
// outbound status machine. A missing row or a same-status write is a
// no-op so racing callers converge instead of erroring.
func (db *DB) SetMessageStatus(id, messageStatus string) error {
	to := status.Status(messageStatus)
	if !status.Valid(to) {
		return fmt.Errorf("unknown message status %q", messageStatus)
	}
	m, err := db.GetMessage(id)
	if err != nil {
		return err
	}
	if m == nil || m.Status == messageStatus {
		return nil
	}
	if err := status.Transition(status.Status(m.Status), to); err != nil {
		return err
	}
	_, err = db.Exec(`UPDATE messages SET status = ? WHERE id = ?`, messageStatus, id)
	return err
}

// MarkMessageRead records the read timestamp of a single message.
func (db *DB) MarkMessageRead(id string, readAt int64) error {
	_, err := db.Exec(`UPDATE messages SET read_at = ? WHERE id = ? AND read_at = 0`, readAt, id)
	return err
}

// MarkConversationRead records a read timestamp on every unread message
// in the conversation that the reader did not send.
func (db *DB) MarkConversationRead(conversationID, readerID string, readAt int64) error {
	_, err := db.Exec(`
		UPDATE messages SET read_at = ?
		WHERE conversation_id = ? AND sender_id != ? AND read_at = 0`,
		readAt, conversationID, readerID)
	return err
}
