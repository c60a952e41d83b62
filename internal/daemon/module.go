package daemon

import (
	"context"
	"errors"
	"time"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/mansaraysaheedalpha/safespace-salone/internal/api"
	"github.com/mansaraysaheedalpha/safespace-salone/internal/bus"
	"github.com/mansaraysaheedalpha/safespace-salone/internal/config"
	"github.com/mansaraysaheedalpha/safespace-salone/internal/connectivity"
	"github.com/mansaraysaheedalpha/safespace-salone/internal/lock"
	"github.com/mansaraysaheedalpha/safespace-salone/internal/logging"
	"github.com/mansaraysaheedalpha/safespace-salone/internal/metrics"
	"github.com/mansaraysaheedalpha/safespace-salone/internal/pipeline"
	"github.com/mansaraysaheedalpha/safespace-salone/internal/presence"
	"github.com/mansaraysaheedalpha/safespace-salone/internal/realtime"
	"github.com/mansaraysaheedalpha/safespace-salone/internal/session"
	"github.com/mansaraysaheedalpha/safespace-salone/internal/store"
	"github.com/mansaraysaheedalpha/safespace-salone/internal/swbridge"
	intsync "github.com/mansaraysaheedalpha/safespace-salone/internal/sync"
	"github.com/mansaraysaheedalpha/safespace-salone/internal/transport"
)

// Params holds the resolved session configuration passed to the fx module.
type Params struct {
	SessionName string
	SocketPath  string // optional override for testing; empty = use default
}

// Module returns the fx module for the daemon, composing all providers and lifecycle hooks.
func Module(p Params) fx.Option {
	return fx.Module("daemon",
		fx.Supply(p),
		fx.Provide(
			provideLogger,
			provideBus,
			provideLock,
			provideSessionConfig,
			provideStore,
			provideMetrics,
			provideClient,
			provideMonitor,
			provideSubscriber,
			providePipeline,
			provideCoordinator,
			provideTracker,
			provideBridge,
			provideHandlers,
			NewServer,
		),
		fx.Invoke(registerLifecycle),
	)
}

func provideLogger(p Params) (*zap.Logger, error) {
	return logging.New(session.LogPath(p.SessionName), p.SessionName)
}

func provideBus() *bus.Bus {
	return bus.New()
}

func provideLock(p Params, logger *zap.Logger) (*lock.Lock, error) {
	if err := session.EnsureDir(p.SessionName); err != nil {
		return nil, err
	}
	logger.Info("acquiring session lock", zap.String("session", p.SessionName))
	l, err := lock.Acquire(session.Dir(p.SessionName))
	if err != nil {
		return nil, err
	}
	logger.Info("session lock acquired")
	return l, nil
}

func provideSessionConfig(p Params) (*config.SessionConfig, error) {
	return config.LoadSession(session.SessionConfigPath(p.SessionName))
}

// provideStore opens the on-disk cache and falls back to an in-memory
// store when the disk is unusable, so the daemon still serves online
// traffic on a broken filesystem.
func provideStore(p Params, logger *zap.Logger) (*store.DB, error) {
	dbPath := session.CacheDBPath(p.SessionName)
	db, err := store.Open(dbPath)
	if errors.Is(err, store.ErrUnavailable) {
		logger.Warn("local cache unavailable, running without offline support",
			zap.String("path", dbPath), zap.Error(err))
		db, err = store.OpenEphemeral()
	}
	if err != nil {
		return nil, err
	}
	result, err := db.Migrate()
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	if result.Changed {
		logger.Info("migrations applied", zap.Uint("version", result.Version))
	} else {
		logger.Info("migrations up to date", zap.Uint("version", result.Version))
	}
	logger.Info("store initialized",
		zap.String("path", dbPath), zap.Bool("ephemeral", db.Ephemeral))
	return db, nil
}

func provideMetrics() *metrics.Metrics {
	return metrics.New()
}

func provideClient(cfg *config.SessionConfig, logger *zap.Logger) *transport.Client {
	return transport.New(cfg.ServerURL, cfg.SendTimeout(), logger)
}

func provideMonitor(cfg *config.SessionConfig, client *transport.Client, b *bus.Bus, logger *zap.Logger) *connectivity.Monitor {
	return connectivity.NewMonitor(client.Ping, cfg.ProbeInterval(), b, logger)
}

func provideSubscriber(cfg *config.SessionConfig, b *bus.Bus, logger *zap.Logger) *realtime.Subscriber {
	return realtime.NewSubscriber(cfg.RealtimeURL, cfg.UserID, b, logger)
}

func providePipeline(db *store.DB, client *transport.Client, monitor *connectivity.Monitor, b *bus.Bus, m *metrics.Metrics, cfg *config.SessionConfig, logger *zap.Logger) *pipeline.Pipeline {
	return pipeline.New(db, client, monitor, b, m, cfg.UserID, cfg.SendTimeout(), logger)
}

func provideCoordinator(db *store.DB, client *transport.Client, b *bus.Bus, m *metrics.Metrics, cfg *config.SessionConfig, logger *zap.Logger) *intsync.Coordinator {
	return intsync.New(db, client, b, m, cfg.RetryCeiling, cfg.SendTimeout(), logger)
}

func provideTracker(client *transport.Client, cfg *config.SessionConfig, logger *zap.Logger) *presence.Tracker {
	return presence.New(client, cfg.UserID, cfg.PresenceTTL(), cfg.HeartbeatInterval(), 5*time.Second, logger)
}

func provideBridge(b *bus.Bus, logger *zap.Logger) *swbridge.Bridge {
	return swbridge.New(b, logger)
}

func provideHandlers(
	p Params,
	db *store.DB,
	pipe *pipeline.Pipeline,
	coord *intsync.Coordinator,
	monitor *connectivity.Monitor,
	client *transport.Client,
	tracker *presence.Tracker,
	bridge *swbridge.Bridge,
	m *metrics.Metrics,
	cfg *config.SessionConfig,
	logger *zap.Logger,
) *api.Handlers {
	return &api.Handlers{
		Session:  p.SessionName,
		SelfID:   cfg.UserID,
		Role:     cfg.Role,
		DB:       db,
		Pipe:     pipe,
		Drainer:  coord,
		Conn:     monitor,
		Fetcher:  client,
		Presence: tracker,
		Bridge:   bridge,
		Registry: m.Registry,
		Logger:   logger,
	}
}

func registerLifecycle(
	lc fx.Lifecycle,
	srv *Server,
	lk *lock.Lock,
	db *store.DB,
	monitor *connectivity.Monitor,
	subscriber *realtime.Subscriber,
	pipe *pipeline.Pipeline,
	coord *intsync.Coordinator,
	tracker *presence.Tracker,
	logger *zap.Logger,
) {
	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			// Re-queue sends interrupted by a previous crash before
			// anything can drain.
			if err := pipe.RecoverStuck(); err != nil {
				return err
			}

			coord.Start()
			pipe.Start()
			subscriber.Start()
			tracker.Start()
			monitor.Start(context.Background())

			go func() {
				if err := srv.Start(); err != nil {
					logger.Error("api server error", zap.Error(err))
				}
			}()

			// Catch up on anything queued while the daemon was down.
			if monitor.Online() {
				go func() {
					if _, err := coord.Drain(context.Background(), "online"); err != nil {
						logger.Error("startup drain failed", zap.Error(err))
					}
				}()
			}
			return nil
		},
		OnStop: func(ctx context.Context) error {
			srv.Stop(ctx)
			monitor.Stop()
			tracker.Stop()
			subscriber.Stop()
			pipe.Stop()
			coord.Stop()
			if err := db.Close(); err != nil {
				logger.Warn("error closing store", zap.Error(err))
			}
			if err := lk.Release(); err != nil {
				logger.Warn("error releasing lock", zap.Error(err))
			}
			logger.Info("daemon stopped")
			return nil
		},
	})
}
