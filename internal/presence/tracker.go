// Package presence maintains the user's own online heartbeat and a
// short-lived cache of other users' presence.
package presence

import (
	"context"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"go.uber.org/zap"

	"github.com/mansaraysaheedalpha/safespace-salone/internal/transport"
)

// Client is the subset of the server client used by the tracker.
type Client interface {
	Heartbeat(ctx context.Context, userID string, online bool) error
	FetchPresence(ctx context.Context, userID string) (*transport.PresenceInfo, error)
}

// Info is a cached presence snapshot.
type Info struct {
	UserID   string `json:"user_id"`
	IsOnline bool   `json:"is_online"`
	LastSeen string `json:"last_seen,omitempty"`
}

// Tracker sends periodic heartbeats for the local user and serves
// presence lookups from a TTL cache so rapid re-renders of the same
// conversation do not hammer the server.
type Tracker struct {
	client   Client
	selfID   string
	interval time.Duration
	debounce time.Duration
	logger   *zap.Logger
	cache    *expirable.LRU[string, Info]

	mu       sync.Mutex
	lastBeat time.Time
	cancel   context.CancelFunc
	done     chan struct{}
}

// New creates a tracker. ttl bounds cache staleness, interval spaces
// the periodic heartbeats, debounce suppresses activity-driven beats
// that arrive too close together.
func New(client Client, selfID string, ttl, interval, debounce time.Duration, logger *zap.Logger) *Tracker {
	return &Tracker{
		client:   client,
		selfID:   selfID,
		interval: interval,
		debounce: debounce,
		logger:   logger.Named("presence"),
		cache:    expirable.NewLRU[string, Info](256, nil, ttl),
	}
}

// Lookup returns presence for a user, consulting the server only on a
// cache miss.
func (t *Tracker) Lookup(ctx context.Context, userID string) (Info, error) {
	if info, ok := t.cache.Get(userID); ok {
		return info, nil
	}
	remote, err := t.client.FetchPresence(ctx, userID)
	if err != nil {
		return Info{UserID: userID}, err
	}
	info := Info{UserID: remote.UserID, IsOnline: remote.IsOnline, LastSeen: remote.LastSeen}
	if info.UserID == "" {
		info.UserID = userID
	}
	t.cache.Add(userID, info)
	return info, nil
}

// Beat sends an activity-driven heartbeat, debounced so bursts of user
// activity produce at most one beat per debounce window.
func (t *Tracker) Beat(ctx context.Context) {
	t.mu.Lock()
	if time.Since(t.lastBeat) < t.debounce {
		t.mu.Unlock()
		return
	}
	t.lastBeat = time.Now()
	t.mu.Unlock()

	if err := t.client.Heartbeat(ctx, t.selfID, true); err != nil {
		t.logger.Debug("heartbeat not delivered", zap.Error(err))
	}
}

// Start launches the periodic heartbeat loop.
func (t *Tracker) Start() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.cancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	t.cancel = cancel
	t.done = make(chan struct{})
	go t.loop(ctx, t.done)
}

// Stop halts the loop and sends a final offline beat on a best-effort
// basis so the counterpart sees the user go away promptly.
func (t *Tracker) Stop() {
	t.mu.Lock()
	cancel, done := t.cancel, t.done
	t.cancel, t.done = nil, nil
	t.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done

	ctx, cancelBeat := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancelBeat()
	if err := t.client.Heartbeat(ctx, t.selfID, false); err != nil {
		t.logger.Debug("offline beat not delivered", zap.Error(err))
	}
}

func (t *Tracker) loop(ctx context.Context, done chan struct{}) {
	defer close(done)

	t.Beat(ctx)
	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			t.Beat(ctx)
		}
	}
}
