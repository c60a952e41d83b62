// Package connectivity tracks online/offline state and fires callbacks
// on transition edges only. The monitor never decides reachability
// itself beyond the injected probe; a false "online" is resolved by the
// sync coordinator's own failure path.
package connectivity

import (
	"context"
	"sync"
	"time"

	"github.com/mansaraysaheedalpha/safespace-salone/internal/bus"
	"go.uber.org/zap"
)

// Probe reports the platform's connectivity signal.
type Probe func(ctx context.Context) bool

// Monitor observes connectivity and invokes registered callbacks when
// the state flips. Redundant reports of the same state are debounced.
type Monitor struct {
	mu        sync.Mutex
	online    bool
	onOnline  []func()
	onOffline []func()

	probe    Probe
	interval time.Duration
	bus      *bus.Bus
	logger   *zap.Logger
	cancel   context.CancelFunc
}

// NewMonitor creates a monitor. The initial state is online, matching
// the optimistic default of the platform signal.
func NewMonitor(probe Probe, interval time.Duration, b *bus.Bus, logger *zap.Logger) *Monitor {
	return &Monitor{
		online:   true,
		probe:    probe,
		interval: interval,
		bus:      b,
		logger:   logger,
	}
}

// Online returns the current observed state.
func (m *Monitor) Online() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.online
}

// OnTransition registers edge callbacks. Either may be nil.
func (m *Monitor) OnTransition(toOnline, toOffline func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if toOnline != nil {
		m.onOnline = append(m.onOnline, toOnline)
	}
	if toOffline != nil {
		m.onOffline = append(m.onOffline, toOffline)
	}
}

// SetOnline records an observed state. Callbacks fire only when the
// state actually changes; repeated reports of the same state are no-ops.
func (m *Monitor) SetOnline(online bool) {
	m.mu.Lock()
	if m.online == online {
		m.mu.Unlock()
		return
	}
	m.online = online
	var callbacks []func()
	if online {
		callbacks = append(callbacks, m.onOnline...)
	} else {
		callbacks = append(callbacks, m.onOffline...)
	}
	m.mu.Unlock()

	kind := "connectivity.offline"
	if online {
		kind = "connectivity.online"
	}
	if m.logger != nil {
		m.logger.Info("connectivity changed", zap.Bool("online", online))
	}
	if m.bus != nil {
		m.bus.PublishKind(kind, nil)
	}
	for _, cb := range callbacks {
		cb()
	}
}

// Start begins polling the probe. A nil probe makes Start a no-op; the
// monitor then relies entirely on externally relayed SetOnline calls.
func (m *Monitor) Start(ctx context.Context) {
	if m.probe == nil {
		return
	}
	ctx, m.cancel = context.WithCancel(ctx)
	go m.loop(ctx)
}

// Stop stops the probe loop.
func (m *Monitor) Stop() {
	if m.cancel != nil {
		m.cancel()
	}
}

func (m *Monitor) loop(ctx context.Context) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.SetOnline(m.probe(ctx))
		case <-ctx.Done():
			return
		}
	}
}
