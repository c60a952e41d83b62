package bus

import "time"

// Event represents a domain event published on the bus.
//
// Kinds are namespaced by prefix:
//
//	message.* — local message lifecycle (upserted, confirmed, send_failed, deleted)
//	queue.*   — pending-outbound queue changes (enqueued, removed)
//	connectivity.* — online/offline edges
//	rt.*      — realtime channel events (message_inserted, message_updated, message_deleted)
//	sw.*      — service-worker signals relayed from outside (sync_requested)
//	sync.*    — coordinator drain results (completed)
type Event struct {
	Kind      string
	Timestamp time.Time
	Payload   any
}
