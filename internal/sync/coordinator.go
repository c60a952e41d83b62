// Package sync drains the durable pending-outbound queue when
// connectivity returns or a sync is requested explicitly.
package sync

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/mansaraysaheedalpha/safespace-salone/internal/bus"
	"github.com/mansaraysaheedalpha/safespace-salone/internal/metrics"
	"github.com/mansaraysaheedalpha/safespace-salone/internal/status"
	"github.com/mansaraysaheedalpha/safespace-salone/internal/store"
	"github.com/mansaraysaheedalpha/safespace-salone/internal/transport"
)

// Sender is the subset of the server client used by the coordinator.
type Sender interface {
	CreateMessage(ctx context.Context, req transport.CreateMessageRequest) (*store.Message, error)
}

// Result summarizes one drain pass.
type Result struct {
	Synced  int  `json:"synced"`  // delivered and collapsed
	Failed  int  `json:"failed"`  // removed after rejection or retry ceiling
	Pending int  `json:"pending"` // still queued after the pass
	Skipped bool `json:"skipped"` // another drain was already running
}

// Coordinator drains the queue one entry at a time, in creation order.
// Drains are non-reentrant: a drain requested while one is running is
// skipped, since the running pass already covers the queued work.
type Coordinator struct {
	db           *store.DB
	sender       Sender
	bus          *bus.Bus
	metrics      *metrics.Metrics
	retryCeiling int
	sendTimeout  time.Duration
	logger       *zap.Logger

	draining sync.Mutex

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// New creates a coordinator.
func New(db *store.DB, sender Sender, b *bus.Bus, m *metrics.Metrics, retryCeiling int, sendTimeout time.Duration, logger *zap.Logger) *Coordinator {
	return &Coordinator{
		db:           db,
		sender:       sender,
		bus:          b,
		metrics:      m,
		retryCeiling: retryCeiling,
		sendTimeout:  sendTimeout,
		logger:       logger.Named("sync"),
	}
}

// Drain sends every queued entry, oldest first. It returns immediately
// with Skipped set when another drain holds the lock.
func (c *Coordinator) Drain(ctx context.Context, trigger string) (*Result, error) {
	if !c.draining.TryLock() {
		c.logger.Debug("drain already in progress, skipping", zap.String("trigger", trigger))
		return &Result{Skipped: true}, nil
	}
	defer c.draining.Unlock()

	c.metrics.RecordDrain(trigger)

	queue, err := c.db.PendingQueue()
	if err != nil {
		return nil, err
	}
	res := &Result{}
	for i := range queue {
		if ctx.Err() != nil {
			break
		}
		c.drainOne(ctx, &queue[i], res)
	}

	if n, err := c.db.PendingCount(); err == nil {
		res.Pending = n
		c.metrics.SetQueueDepth(n)
	}
	c.logger.Info("drain finished",
		zap.String("trigger", trigger),
		zap.Int("synced", res.Synced),
		zap.Int("failed", res.Failed),
		zap.Int("pending", res.Pending))
	c.bus.PublishKind("sync.completed", *res)
	return res, nil
}

func (c *Coordinator) drainOne(ctx context.Context, entry *store.PendingMessage, res *Result) {
	if entry.RetryCount >= c.retryCeiling {
		c.logger.Warn("dropping queued message at retry ceiling",
			zap.String("id", entry.ID), zap.Int("retries", entry.RetryCount))
		c.removePending(entry.ID)
		c.setStatus(entry.ID, status.Error)
		c.publishFailed(entry.ID, "retry limit reached")
		res.Failed++
		return
	}

	sendCtx, cancel := context.WithTimeout(ctx, c.sendTimeout)
	durable, err := c.sender.CreateMessage(sendCtx, transport.CreateMessageRequest{
		ConversationID: entry.ConversationID,
		SenderID:       entry.SenderID,
		Kind:           entry.Kind,
		Content:        entry.Content,
		Duration:       entry.Duration,
		ReplyToID:      entry.ReplyToID,
		ClientMsgID:    entry.ID,
	})
	cancel()

	switch {
	case err == nil:
		durable.Status = string(status.Sent)
		if rerr := c.db.ReplaceMessage(entry.ID, durable); rerr != nil {
			c.logger.Error("collapse after drained send failed",
				zap.Error(rerr), zap.String("id", entry.ID))
			return
		}
		c.removePending(entry.ID)
		c.metrics.RecordSend("sent")
		c.bus.PublishKind("message.confirmed", durable)
		res.Synced++

	case transport.IsRejected(err):
		c.logger.Warn("queued message rejected by server",
			zap.String("id", entry.ID), zap.Error(err))
		c.removePending(entry.ID)
		c.setStatus(entry.ID, status.Error)
		c.metrics.RecordSend("rejected")
		c.publishFailed(entry.ID, err.Error())
		res.Failed++

	default:
		c.logger.Info("queued message still undeliverable",
			zap.String("id", entry.ID), zap.Int("retries", entry.RetryCount+1), zap.Error(err))
		if ierr := c.db.IncrementRetry(entry.ID); ierr != nil {
			c.logger.Error("retry counter not recorded, entry will be retried again",
				zap.Error(ierr), zap.String("id", entry.ID))
		}
		c.metrics.RecordRetry()
	}
}

func (c *Coordinator) removePending(id string) {
	if err := c.db.RemovePending(id); err != nil {
		c.logger.Error("queue entry not removed", zap.Error(err), zap.String("id", id))
	}
}

func (c *Coordinator) setStatus(id string, to status.Status) {
	if err := c.db.SetMessageStatus(id, string(to)); err != nil {
		c.logger.Error("message status not updated",
			zap.Error(err), zap.String("id", id), zap.String("to", string(to)))
	}
}

func (c *Coordinator) publishFailed(messageID, reason string) {
	c.bus.PublishKind("message.send_failed",
		map[string]string{"message_id": messageID, "reason": reason})
}

// drainLogged runs a triggered drain and reports its failure, since
// trigger goroutines have no caller to return the error to.
func (c *Coordinator) drainLogged(ctx context.Context, trigger string) {
	if _, err := c.Drain(ctx, trigger); err != nil {
		c.logger.Error("drain failed", zap.Error(err), zap.String("trigger", trigger))
	}
}

// Start subscribes to the events that trigger a drain.
func (c *Coordinator) Start() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	c.done = make(chan struct{})

	online, unsubOnline := c.bus.Subscribe("connectivity.online", 4)
	requested, unsubSW := c.bus.Subscribe("sw.sync_requested", 4)
	go func() {
		defer close(c.done)
		defer unsubOnline()
		defer unsubSW()
		for {
			select {
			case <-ctx.Done():
				return
			case <-online:
				go c.drainLogged(ctx, "online")
			case <-requested:
				go c.drainLogged(ctx, "sw")
			}
		}
	}()
}

// Stop halts trigger processing. A drain already running finishes on
// its own.
func (c *Coordinator) Stop() {
	c.mu.Lock()
	cancel, done := c.cancel, c.done
	c.cancel, c.done = nil, nil
	c.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}
