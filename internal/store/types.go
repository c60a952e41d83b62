package store

import "strings"

// TempIDPrefix marks client-generated message ids that have not yet been
// replaced by a server-assigned durable id.
const TempIDPrefix = "temp-"

// IsTempID reports whether id is a client-generated temporary id.
func IsTempID(id string) bool {
	return strings.HasPrefix(id, TempIDPrefix)
}

// Message represents a cached message. The id is either a durable
// server-assigned id or a temporary client id (see TempIDPrefix).
type Message struct {
	ID             string `json:"id"`
	ConversationID string `json:"conversation_id"`
	SenderID       string `json:"sender_id"`
	Kind           string `json:"type"`               // "text" or "voice"
	Content        string `json:"content"`            // text body, or voice asset URL
	Duration       int    `json:"duration,omitempty"` // seconds, voice only
	ReplyToID      string `json:"reply_to_id,omitempty"`
	ReadAt         int64  `json:"read_at,omitempty"` // unix ms, 0 = unread
	Status         string `json:"status"`
	CreatedAt      int64  `json:"created_at"` // unix ms
}

// Conversation represents a cached conversation snapshot. It is an
// offline display fallback only and carries no write-path invariants.
type Conversation struct {
	ID          string `json:"id"`
	PatientID   string `json:"patient_id"`
	CounselorID string `json:"counselor_id,omitempty"`
	Topic       string `json:"topic"`
	Urgency     string `json:"urgency"` // low, normal, high
	Status      string `json:"status"`  // active, closed
	CreatedAt   int64  `json:"created_at"`
	CachedAt    int64  `json:"cached_at"`
}

// PendingMessage is a durable pending-outbound queue entry. Its id
// matches the temporary id of the message it mirrors.
type PendingMessage struct {
	ID             string `json:"id"`
	ConversationID string `json:"conversation_id"`
	SenderID       string `json:"sender_id"`
	Kind           string `json:"type"`
	Content        string `json:"content"`
	Duration       int    `json:"duration,omitempty"`
	ReplyToID      string `json:"reply_to_id,omitempty"`
	CreatedAt      int64  `json:"created_at"`
	RetryCount     int    `json:"retry_count"`
}
