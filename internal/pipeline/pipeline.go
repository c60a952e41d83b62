// Package pipeline implements the outbound send path and the realtime
// reconciliation that keeps the local cache converged with the server.
package pipeline

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mansaraysaheedalpha/safespace-salone/internal/bus"
	"github.com/mansaraysaheedalpha/safespace-salone/internal/metrics"
	"github.com/mansaraysaheedalpha/safespace-salone/internal/realtime"
	"github.com/mansaraysaheedalpha/safespace-salone/internal/status"
	"github.com/mansaraysaheedalpha/safespace-salone/internal/store"
	"github.com/mansaraysaheedalpha/safespace-salone/internal/transport"
)

// Sender is the subset of the server client used by the pipeline.
type Sender interface {
	CreateMessage(ctx context.Context, req transport.CreateMessageRequest) (*store.Message, error)
	DeleteMessage(ctx context.Context, messageID, requesterID string) error
	MarkRead(ctx context.Context, conversationID, readerID string) error
}

// Connectivity reports the daemon's current online belief.
type Connectivity interface {
	Online() bool
}

// Draft is an outbound message as composed by the user.
type Draft struct {
	ConversationID string
	Kind           string
	Content        string
	Duration       int
	ReplyToID      string
}

// Pipeline owns the optimistic send path. Every send inserts a
// placeholder row first so the message is visible immediately; the
// placeholder is later collapsed into the durable server record by
// whichever of the send response or the realtime push arrives first.
type Pipeline struct {
	db          *store.DB
	sender      Sender
	conn        Connectivity
	bus         *bus.Bus
	metrics     *metrics.Metrics
	selfID      string
	sendTimeout time.Duration
	logger      *zap.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// New creates a pipeline.
func New(db *store.DB, sender Sender, conn Connectivity, b *bus.Bus, m *metrics.Metrics, selfID string, sendTimeout time.Duration, logger *zap.Logger) *Pipeline {
	return &Pipeline{
		db:          db,
		sender:      sender,
		conn:        conn,
		bus:         b,
		metrics:     m,
		selfID:      selfID,
		sendTimeout: sendTimeout,
		logger:      logger.Named("pipeline"),
	}
}

// NewTempID generates a temporary message id. The wall-clock prefix
// keeps temp ids roughly ordered in debug output; uniqueness comes from
// the uuid suffix.
func NewTempID() string {
	return fmt.Sprintf("%s%d-%s", store.TempIDPrefix, time.Now().UnixMilli(), uuid.NewString()[:8])
}

// Send performs an optimistic send. The returned message is the local
// placeholder; its final state arrives via bus events.
func (p *Pipeline) Send(ctx context.Context, d Draft) (*store.Message, error) {
	if d.ConversationID == "" {
		return nil, fmt.Errorf("draft missing conversation id")
	}
	if d.Kind == "" {
		d.Kind = "text"
	}

	online := p.conn.Online()
	initial := status.Sending
	if !online {
		initial = status.Pending
	}
	now := time.Now().UnixMilli()
	placeholder := &store.Message{
		ID:             NewTempID(),
		ConversationID: d.ConversationID,
		SenderID:       p.selfID,
		Kind:           d.Kind,
		Content:        d.Content,
		Duration:       d.Duration,
		ReplyToID:      d.ReplyToID,
		Status:         string(initial),
		CreatedAt:      now,
	}
	if err := p.db.UpsertMessage(placeholder); err != nil {
		return nil, fmt.Errorf("insert placeholder: %w", err)
	}
	p.publish("message.upserted", placeholder)

	if !online {
		if err := p.park(placeholder); err != nil {
			return nil, err
		}
		return placeholder, nil
	}

	// The placeholder has escaped to the caller and to bus
	// subscribers; the send goroutine works on its own copy.
	attempt := *placeholder
	go p.attempt(&attempt)
	return placeholder, nil
}

// attempt performs one network send for a placeholder already in the
// cache with status sending.
func (p *Pipeline) attempt(placeholder *store.Message) {
	ctx, cancel := context.WithTimeout(context.Background(), p.sendTimeout)
	defer cancel()

	durable, err := p.sender.CreateMessage(ctx, transport.CreateMessageRequest{
		ConversationID: placeholder.ConversationID,
		SenderID:       placeholder.SenderID,
		Kind:           placeholder.Kind,
		Content:        placeholder.Content,
		Duration:       placeholder.Duration,
		ReplyToID:      placeholder.ReplyToID,
		ClientMsgID:    placeholder.ID,
	})
	switch {
	case err == nil:
		durable.Status = string(status.Sent)
		if rerr := p.db.ReplaceMessage(placeholder.ID, durable); rerr != nil {
			p.logger.Error("replace after send failed", zap.Error(rerr), zap.String("temp_id", placeholder.ID))
			return
		}
		if rerr := p.db.RemovePending(placeholder.ID); rerr != nil {
			p.logger.Error("dequeue after send failed", zap.Error(rerr), zap.String("temp_id", placeholder.ID))
		}
		p.metrics.RecordSend("sent")
		p.publish("message.confirmed", durable)

	case transport.IsRejected(err):
		p.logger.Warn("send rejected by server",
			zap.String("temp_id", placeholder.ID), zap.Error(err))
		if serr := p.db.SetMessageStatus(placeholder.ID, string(status.Error)); serr != nil {
			p.logger.Error("status update after rejection failed", zap.Error(serr), zap.String("temp_id", placeholder.ID))
		}
		if rerr := p.db.RemovePending(placeholder.ID); rerr != nil {
			p.logger.Error("dequeue after rejection failed", zap.Error(rerr), zap.String("temp_id", placeholder.ID))
		}
		p.metrics.RecordSend("rejected")
		p.publishFailed(placeholder.ID, err)

	default:
		p.logger.Info("send failed, parking for retry",
			zap.String("temp_id", placeholder.ID), zap.Error(err))
		if perr := p.park(placeholder); perr != nil {
			p.logger.Error("park failed", zap.Error(perr), zap.String("temp_id", placeholder.ID))
		}
	}
}

// park demotes a placeholder to pending and records it in the durable
// queue for the sync coordinator.
func (p *Pipeline) park(m *store.Message) error {
	if err := p.db.EnqueuePending(&store.PendingMessage{
		ID:             m.ID,
		ConversationID: m.ConversationID,
		SenderID:       m.SenderID,
		Kind:           m.Kind,
		Content:        m.Content,
		Duration:       m.Duration,
		ReplyToID:      m.ReplyToID,
		CreatedAt:      m.CreatedAt,
	}); err != nil {
		return fmt.Errorf("enqueue pending: %w", err)
	}
	if err := p.db.SetMessageStatus(m.ID, string(status.Pending)); err != nil {
		return err
	}
	m.Status = string(status.Pending)
	p.metrics.RecordSend("queued")
	p.updateQueueDepth()
	p.publish("queue.enqueued", m)
	return nil
}

// Retry re-enters the send path for a message in error state. The
// failed record keeps its id so the conversation view does not jump.
func (p *Pipeline) Retry(ctx context.Context, messageID string) error {
	m, err := p.db.GetMessage(messageID)
	if err != nil {
		return err
	}
	if m == nil {
		return fmt.Errorf("message %s not found", messageID)
	}
	if m.Status != string(status.Error) {
		return fmt.Errorf("message %s is %s, only failed messages can be retried", messageID, m.Status)
	}

	if !p.conn.Online() {
		return p.park(m)
	}
	if err := p.db.SetMessageStatus(m.ID, string(status.Sending)); err != nil {
		return err
	}
	m.Status = string(status.Sending)
	p.publish("message.upserted", m)
	attempt := *m
	go p.attempt(&attempt)
	return nil
}

// Delete removes a message locally first, then server-side when the
// record is durable and the daemon is online.
func (p *Pipeline) Delete(ctx context.Context, messageID string) error {
	if err := p.db.DeleteMessage(messageID); err != nil {
		return err
	}
	if rerr := p.db.RemovePending(messageID); rerr != nil {
		p.logger.Error("dequeue on delete failed", zap.Error(rerr), zap.String("message_id", messageID))
	}
	p.updateQueueDepth()
	p.publish("message.deleted", &store.Message{ID: messageID})

	if store.IsTempID(messageID) || !p.conn.Online() {
		return nil
	}
	if err := p.sender.DeleteMessage(ctx, messageID, p.selfID); err != nil {
		if transport.IsRejected(err) {
			return err
		}
		p.logger.Warn("server delete failed, local copy already removed",
			zap.String("message_id", messageID), zap.Error(err))
	}
	return nil
}

// MarkConversationRead marks the counterpart's messages read locally
// and notifies the server on a best-effort basis.
func (p *Pipeline) MarkConversationRead(ctx context.Context, conversationID string) error {
	now := time.Now().UnixMilli()
	if err := p.db.MarkConversationRead(conversationID, p.selfID, now); err != nil {
		return err
	}
	if p.conn.Online() {
		if err := p.sender.MarkRead(ctx, conversationID, p.selfID); err != nil {
			p.logger.Warn("read receipt not delivered", zap.Error(err))
		}
	}
	return nil
}

// RecoverStuck demotes placeholders left in sending state by a previous
// daemon crash. Called once during startup, before the coordinator
// begins draining.
func (p *Pipeline) RecoverStuck() error {
	stuck, err := p.db.ListStuckOutbound()
	if err != nil {
		return err
	}
	for i := range stuck {
		m := &stuck[i]
		p.logger.Info("recovering interrupted send", zap.String("temp_id", m.ID))
		if err := p.park(m); err != nil {
			return err
		}
	}
	return nil
}

// Start subscribes to realtime events and applies them until Stop.
func (p *Pipeline) Start() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel
	p.done = make(chan struct{})

	events, unsub := p.bus.Subscribe("rt.", 64)
	go func() {
		defer close(p.done)
		defer unsub()
		for {
			select {
			case <-ctx.Done():
				return
			case evt := <-events:
				p.apply(evt)
			}
		}
	}()
}

// Stop halts realtime event processing.
func (p *Pipeline) Stop() {
	p.mu.Lock()
	cancel, done := p.cancel, p.done
	p.cancel, p.done = nil, nil
	p.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}

func (p *Pipeline) apply(evt bus.Event) {
	switch evt.Kind {
	case "rt.message_inserted":
		if payload, ok := evt.Payload.(realtime.InsertPayload); ok {
			if err := p.ApplyRealtimeInsert(payload); err != nil {
				p.logger.Error("apply realtime insert", zap.Error(err))
			}
		}
	case "rt.message_updated":
		if payload, ok := evt.Payload.(realtime.InsertPayload); ok {
			if err := p.ApplyRealtimeUpdate(payload); err != nil {
				p.logger.Error("apply realtime update", zap.Error(err))
			}
		}
	case "rt.message_deleted":
		if payload, ok := evt.Payload.(realtime.DeletePayload); ok {
			if err := p.ApplyRealtimeDelete(payload.MessageID); err != nil {
				p.logger.Error("apply realtime delete", zap.Error(err))
			}
		}
	}
}

// ApplyRealtimeInsert reconciles a pushed message with the local cache.
// Order of precedence: already-known durable id, idempotency-key echo,
// content match against an outstanding placeholder, plain append.
func (p *Pipeline) ApplyRealtimeInsert(payload realtime.InsertPayload) error {
	m := payload.Message

	existing, err := p.db.GetMessage(m.ID)
	if err != nil {
		return err
	}
	if existing != nil {
		// Already collapsed by the send response. Keep the richer
		// local status.
		p.metrics.RecordReconciliation("duplicate")
		return nil
	}

	if payload.ClientMsgID != "" && store.IsTempID(payload.ClientMsgID) {
		if ph, err := p.db.GetMessage(payload.ClientMsgID); err != nil {
			return err
		} else if ph != nil {
			return p.collapse(payload.ClientMsgID, m, "id_match")
		}
	}

	if m.SenderID == p.selfID {
		ph, err := p.db.FindPendingByContent(m.ConversationID, m.SenderID, m.Kind, m.Content)
		if err != nil {
			return err
		}
		if ph != nil {
			return p.collapse(ph.ID, m, "content_match")
		}
		m.Status = string(status.Sent)
	} else {
		m.Status = string(status.Received)
	}

	if err := p.db.UpsertMessage(m); err != nil {
		return err
	}
	p.metrics.RecordReconciliation("appended")
	p.publish("message.upserted", m)
	return nil
}

func (p *Pipeline) collapse(tempID string, durable *store.Message, outcome string) error {
	durable.Status = string(status.Sent)
	if err := p.db.ReplaceMessage(tempID, durable); err != nil {
		return err
	}
	if rerr := p.db.RemovePending(tempID); rerr != nil {
		p.logger.Error("dequeue on collapse failed", zap.Error(rerr), zap.String("temp_id", tempID))
	}
	p.updateQueueDepth()
	p.metrics.RecordReconciliation(outcome)
	p.publish("message.confirmed", durable)
	return nil
}

// ApplyRealtimeUpdate refreshes a cached message in place. Updates to
// unknown messages are appended; the common case is a read receipt.
func (p *Pipeline) ApplyRealtimeUpdate(payload realtime.InsertPayload) error {
	m := payload.Message
	existing, err := p.db.GetMessage(m.ID)
	if err != nil {
		return err
	}
	if existing != nil {
		// Server pushes carry no delivery status; preserve ours.
		m.Status = existing.Status
	} else if m.SenderID == p.selfID {
		m.Status = string(status.Sent)
	} else {
		m.Status = string(status.Received)
	}
	if err := p.db.UpsertMessage(m); err != nil {
		return err
	}
	p.publish("message.upserted", m)
	return nil
}

// ApplyRealtimeDelete drops a message removed on another device.
func (p *Pipeline) ApplyRealtimeDelete(messageID string) error {
	if err := p.db.DeleteMessage(messageID); err != nil {
		return err
	}
	p.publish("message.deleted", &store.Message{ID: messageID})
	return nil
}

func (p *Pipeline) updateQueueDepth() {
	if n, err := p.db.PendingCount(); err == nil {
		p.metrics.SetQueueDepth(n)
	}
}

func (p *Pipeline) publish(kind string, m *store.Message) {
	p.bus.PublishKind(kind, m)
}

func (p *Pipeline) publishFailed(messageID string, err error) {
	p.bus.PublishKind("message.send_failed",
		map[string]string{"message_id": messageID, "reason": err.Error()})
}
