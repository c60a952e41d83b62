package transport

import (
	"time"

	"github.com/mansaraysaheedalpha/safespace-salone/internal/store"
)

// WireMessage is the server's JSON representation of a message.
type WireMessage struct {
	ID             string  `json:"id"`
	ConversationID string  `json:"conversation_id"`
	SenderID       string  `json:"sender_id"`
	Kind           string  `json:"type"`
	Content        string  `json:"content"`
	Duration       *int    `json:"duration"`
	ReplyToID      *string `json:"reply_to_id"`
	ReadAt         *string `json:"read_at"`
	CreatedAt      string  `json:"created_at"`
	// ClientMsgID echoes the idempotency key the client sent with the
	// create request, when the server supports it. It allows exact
	// placeholder matching without the content heuristic.
	ClientMsgID string `json:"client_msg_id,omitempty"`
}

// WireConversation is the server's JSON representation of a conversation.
type WireConversation struct {
	ID          string  `json:"id"`
	PatientID   string  `json:"patient_id"`
	CounselorID *string `json:"counselor_id"`
	Topic       string  `json:"topic"`
	Urgency     string  `json:"urgency"`
	Status      string  `json:"status"`
	CreatedAt   string  `json:"created_at"`
}

// ToStoreMessage converts a wire message into a cache record.
// The delivery status is left empty for the caller to decide.
func (w *WireMessage) ToStoreMessage() *store.Message {
	m := &store.Message{
		ID:             w.ID,
		ConversationID: w.ConversationID,
		SenderID:       w.SenderID,
		Kind:           w.Kind,
		Content:        w.Content,
		CreatedAt:      parseTimestamp(w.CreatedAt),
	}
	if w.Duration != nil {
		m.Duration = *w.Duration
	}
	if w.ReplyToID != nil {
		m.ReplyToID = *w.ReplyToID
	}
	if w.ReadAt != nil && *w.ReadAt != "" {
		m.ReadAt = parseTimestamp(*w.ReadAt)
	}
	return m
}

// ToStoreConversation converts a wire conversation into a cache record.
func (w *WireConversation) ToStoreConversation() *store.Conversation {
	c := &store.Conversation{
		ID:        w.ID,
		PatientID: w.PatientID,
		Topic:     w.Topic,
		Urgency:   w.Urgency,
		Status:    w.Status,
		CreatedAt: parseTimestamp(w.CreatedAt),
	}
	if w.CounselorID != nil {
		c.CounselorID = *w.CounselorID
	}
	return c
}

func parseTimestamp(s string) int64 {
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t.UnixMilli()
	}
	return time.Now().UnixMilli()
}
