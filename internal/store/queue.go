package store

const pendingColumns = `id, conversation_id, sender_id, kind, content, duration, reply_to_id, created_at, retry_count`

// EnqueuePending adds an entry to the pending-outbound queue. Enqueuing
// an id that is already queued is a no-op, so startup recovery can
// re-enqueue without duplicating entries.
func (db *DB) EnqueuePending(p *PendingMessage) error {
	_, err := db.Exec(`
		INSERT INTO pending_messages (id, conversation_id, sender_id, kind, content, duration, reply_to_id, created_at, retry_count)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING`,
		p.ID, p.ConversationID, p.SenderID, p.Kind, p.Content, p.Duration, p.ReplyToID, p.CreatedAt, p.RetryCount)
	return err
}

// PendingQueue returns all queued entries in creation-time order.
func (db *DB) PendingQueue() ([]PendingMessage, error) {
	rows, err := db.Query(`
		SELECT ` + pendingColumns + `
		FROM pending_messages
		ORDER BY created_at ASC`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var entries []PendingMessage
	for rows.Next() {
		var p PendingMessage
		if err := rows.Scan(&p.ID, &p.ConversationID, &p.SenderID, &p.Kind, &p.Content, &p.Duration, &p.ReplyToID, &p.CreatedAt, &p.RetryCount); err != nil {
			return nil, err
		}
		entries = append(entries, p)
	}
	return entries, rows.Err()
}

// IncrementRetry bumps the retry counter of a queued entry.
func (db *DB) IncrementRetry(id string) error {
	_, err := db.Exec(`UPDATE pending_messages SET retry_count = retry_count + 1 WHERE id = ?`, id)
	return err
}

// RemovePending deletes a queue entry. Removing an absent id is a no-op.
func (db *DB) RemovePending(id string) error {
	_, err := db.Exec(`DELETE FROM pending_messages WHERE id = ?`, id)
	return err
}

// PendingCount returns the number of queued entries, used for badges.
func (db *DB) PendingCount() (int, error) {
	var n int
	err := db.QueryRow(`SELECT COUNT(*) FROM pending_messages`).Scan(&n)
	return n, err
}

// PendingCountByConversation returns the queued count for one conversation.
func (db *DB) PendingCountByConversation(conversationID string) (int, error) {
	var n int
	err := db.QueryRow(`SELECT COUNT(*) FROM pending_messages WHERE conversation_id = ?`, conversationID).Scan(&n)
	return n, err
}
