// Package realtime maintains the websocket subscription that delivers
// server-side message changes while the daemon is online.
package realtime

import (
	"context"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/mansaraysaheedalpha/safespace-salone/internal/bus"
	"github.com/mansaraysaheedalpha/safespace-salone/internal/store"
)

// InsertPayload is published on rt.message_inserted and rt.message_updated.
type InsertPayload struct {
	Message     *store.Message
	ClientMsgID string
}

// DeletePayload is published on rt.message_deleted.
type DeletePayload struct {
	MessageID string
}

// Subscriber connects to the realtime endpoint and republishes frames
// onto the event bus. It reconnects with exponential backoff until
// stopped; a connection is only attempted while the daemon believes it
// is online, since the probe loop will trigger a fresh Start edge.
type Subscriber struct {
	url    string
	userID string
	bus    *bus.Bus
	logger *zap.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewSubscriber creates a subscriber for the given realtime endpoint.
func NewSubscriber(url, userID string, b *bus.Bus, logger *zap.Logger) *Subscriber {
	return &Subscriber{
		url:    url,
		userID: userID,
		bus:    b,
		logger: logger.Named("realtime"),
	}
}

// Start launches the subscription loop. Calling Start while running is
// a no-op.
func (s *Subscriber) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.done = make(chan struct{})
	go s.run(ctx, s.done)
}

// Stop tears down the connection and waits for the loop to exit.
func (s *Subscriber) Stop() {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel, s.done = nil, nil
	s.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}

func (s *Subscriber) run(ctx context.Context, done chan struct{}) {
	defer close(done)

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = time.Second
	policy.MaxInterval = 30 * time.Second
	policy.MaxElapsedTime = 0

	for {
		if ctx.Err() != nil {
			return
		}
		err := s.connectOnce(ctx)
		if ctx.Err() != nil {
			return
		}
		wait := policy.NextBackOff()
		s.logger.Warn("realtime connection lost, reconnecting",
			zap.Error(err),
			zap.Duration("backoff", wait))
		select {
		case <-ctx.Done():
			return
		case <-time.After(wait):
		}
	}
}

// connectOnce dials the endpoint and pumps frames until the connection
// fails or the context is cancelled.
func (s *Subscriber) connectOnce(ctx context.Context) error {
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, s.url+"?user_id="+s.userID, nil)
	if err != nil {
		return err
	}
	defer conn.Close()
	s.logger.Info("realtime channel connected", zap.String("url", s.url))

	go func() {
		<-ctx.Done()
		conn.Close()
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		s.dispatch(data)
	}
}

func (s *Subscriber) dispatch(data []byte) {
	env, err := DecodeEnvelope(data)
	if err != nil {
		s.logger.Warn("dropping malformed realtime frame", zap.Error(err))
		return
	}

	switch env.Type {
	case TypeInsert:
		if env.Message == nil {
			return
		}
		s.bus.PublishKind("rt.message_inserted", InsertPayload{
			Message:     env.Message.ToStoreMessage(),
			ClientMsgID: env.Message.ClientMsgID,
		})
	case TypeUpdate:
		if env.Message == nil {
			return
		}
		s.bus.PublishKind("rt.message_updated", InsertPayload{
			Message:     env.Message.ToStoreMessage(),
			ClientMsgID: env.Message.ClientMsgID,
		})
	case TypeDelete:
		id := env.OldID
		if id == "" && env.Message != nil {
			id = env.Message.ID
		}
		if id == "" {
			return
		}
		s.bus.PublishKind("rt.message_deleted", DeletePayload{MessageID: id})
	case TypeSync:
		s.bus.PublishKind("sw.sync_requested", nil)
	default:
		s.logger.Debug("ignoring realtime frame", zap.String("type", env.Type))
	}
}
