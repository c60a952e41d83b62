package realtime

import (
	"encoding/json"

	"github.com/mansaraysaheedalpha/safespace-salone/internal/transport"
)

// Event types carried on the realtime channel.
const (
	TypeInsert = "INSERT"
	TypeUpdate = "UPDATE"
	TypeDelete = "DELETE"
	TypeSync   = "SYNC_MESSAGES"
)

// Envelope is a single frame from the realtime channel.
type Envelope struct {
	Type    string                 `json:"type"`
	Table   string                 `json:"table,omitempty"`
	Message *transport.WireMessage `json:"record,omitempty"`
	// OldID carries the row id on DELETE frames, where the server
	// sends only the key of the removed record.
	OldID string `json:"old_id,omitempty"`
}

// DecodeEnvelope parses a raw frame. Unknown types are returned as-is
// for the caller to ignore.
func DecodeEnvelope(data []byte) (*Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, err
	}
	return &env, nil
}
