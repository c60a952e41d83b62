// Package swbridge relays background-sync signals from an external
// process (a browser service worker or a platform scheduler) onto the
// event bus.
package swbridge

import (
	"encoding/json"

	"go.uber.org/zap"

	"github.com/mansaraysaheedalpha/safespace-salone/internal/bus"
)

// TagSyncRequested is the message tag that requests a queue drain.
const TagSyncRequested = "SYNC_MESSAGES"

// Bridge normalizes external sync signals into sw.* bus events.
type Bridge struct {
	bus    *bus.Bus
	logger *zap.Logger
}

// New creates a bridge.
func New(b *bus.Bus, logger *zap.Logger) *Bridge {
	return &Bridge{bus: b, logger: logger.Named("swbridge")}
}

// Relay parses a raw signal payload and publishes the matching bus
// event. Unrecognized payloads are logged and dropped; the caller never
// fails because an external process sent something unexpected.
func (br *Bridge) Relay(payload []byte) {
	var msg struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(payload, &msg); err != nil {
		br.logger.Warn("dropping unparseable sync signal", zap.Error(err))
		return
	}
	switch msg.Type {
	case TagSyncRequested:
		br.bus.PublishKind("sw.sync_requested", nil)
	default:
		br.logger.Debug("ignoring sync signal", zap.String("type", msg.Type))
	}
}
