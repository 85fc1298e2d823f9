// Package app composes the sync engine: the conversation directory,
// message store, composer, polling scheduler, push ingestor and chat
// head manager, wired through the in-process bus.
package app

import (
	"context"
	"net/http"
	"os"
	"time"

	"github.com/mvalente/tablechat/internal/api"
	"github.com/mvalente/tablechat/internal/bus"
	"github.com/mvalente/tablechat/internal/cache"
	"github.com/mvalente/tablechat/internal/composer"
	"github.com/mvalente/tablechat/internal/config"
	"github.com/mvalente/tablechat/internal/directory"
	"github.com/mvalente/tablechat/internal/heads"
	"github.com/mvalente/tablechat/internal/lock"
	"github.com/mvalente/tablechat/internal/logging"
	"github.com/mvalente/tablechat/internal/metrics"
	"github.com/mvalente/tablechat/internal/msgstore"
	"github.com/mvalente/tablechat/internal/poll"
	"github.com/mvalente/tablechat/internal/push"
	"github.com/mvalente/tablechat/internal/session"
	"github.com/mvalente/tablechat/internal/status"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Params holds the resolved session configuration passed to the fx module.
type Params struct {
	SessionName string
}

// Module returns the fx module for the engine daemon, composing all
// providers and lifecycle hooks.
func Module(p Params) fx.Option {
	return fx.Module("engine",
		fx.Supply(p),
		fx.Provide(
			provideConfig,
			provideLogger,
			provideBus,
			provideStateMachine,
			provideLock,
			provideCache,
			provideClient,
			provideStore,
			provideComposer,
			provideDirectory,
			provideScheduler,
			provideHeads,
			provideIngestor,
			providePushTransport,
			provideCacheWriter,
			provideStatusDriver,
		),
		fx.Invoke(registerLifecycle),
	)
}

func provideConfig(p Params) (*config.Config, error) {
	cfg, err := config.Load(session.ConfigPath())
	if os.IsNotExist(err) {
		cfg = config.Default()
		if saveErr := config.Save(session.ConfigPath(), cfg); saveErr != nil {
			return nil, saveErr
		}
		return cfg, nil
	}
	return cfg, err
}

func provideLogger(p Params) (*zap.Logger, error) {
	return logging.New(session.LogPath(p.SessionName), p.SessionName)
}

func provideBus() *bus.Bus {
	return bus.New()
}

func provideStateMachine(b *bus.Bus) *status.Machine {
	return status.NewMachine(b)
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

func provideCache(p Params, logger *zap.Logger) (*cache.DB, error) {
	dbPath := session.CacheDBPath(p.SessionName)
	db, err := cache.Open(dbPath)
	if err != nil {
		return nil, err
	}
	result, err := db.Migrate()
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	if result.Changed {
		logger.Info("cache migrations applied", zap.Uint("version", result.Version))
	} else {
		logger.Info("cache migrations up to date", zap.Uint("version", result.Version))
	}
	logger.Info("cache initialized", zap.String("path", dbPath))
	return db, nil
}

func provideClient(cfg *config.Config) *api.Client {
	return api.New(cfg.ServerURL)
}

func provideStore(client *api.Client, b *bus.Bus, logger *zap.Logger) *msgstore.Store {
	return msgstore.New(client, b, logger)
}

func provideComposer(cfg *config.Config, store *msgstore.Store, client *api.Client, b *bus.Bus, logger *zap.Logger) *composer.Composer {
	return composer.New(cfg.User.ID, cfg.Enabled, store, client, b, logger)
}

func provideDirectory(cfg *config.Config, client *api.Client, store *msgstore.Store, b *bus.Bus, logger *zap.Logger) *directory.Directory {
	return directory.New(cfg.User.ID, cfg.Enabled, client, store, b, logger)
}

func provideScheduler(cfg *config.Config, dir *directory.Directory, store *msgstore.Store, logger *zap.Logger) *poll.Scheduler {
	iv := poll.Intervals{
		ListActive:   cfg.Poll.ListActiveInterval(),
		ListIdle:     cfg.Poll.ListIdleInterval(),
		Conversation: cfg.Poll.ConversationInterval(),
	}
	return poll.New(iv, cfg.Enabled, dir, store, logger)
}

func provideHeads(cfg *config.Config, dir *directory.Directory, store *msgstore.Store, sched *poll.Scheduler, b *bus.Bus, logger *zap.Logger) *heads.Manager {
	return heads.New(cfg.Enabled, dir, store, sched, b, logger)
}

func provideIngestor(cfg *config.Config, store *msgstore.Store, dir *directory.Directory, mgr *heads.Manager, b *bus.Bus, logger *zap.Logger) *push.Ingestor {
	return push.New(cfg.User.ID, cfg.Enabled, store, dir, mgr, b, logger)
}

func providePushTransport(cfg *config.Config, ingestor *push.Ingestor, logger *zap.Logger) push.Transport {
	if !cfg.Enabled {
		return nil
	}
	switch cfg.Push.Transport {
	case "nats":
		return push.NewNATSTransport(cfg.Push.NATSURL, cfg.User.ID, ingestor, logger)
	case "ws":
		return push.NewWSTransport(cfg.Push.WSURL, ingestor, logger)
	default:
		return nil
	}
}

func provideCacheWriter(db *cache.DB, store *msgstore.Store, b *bus.Bus, logger *zap.Logger) *cache.Writer {
	return cache.NewWriter(db, store, b, logger)
}

func provideStatusDriver(machine *status.Machine, b *bus.Bus, logger *zap.Logger) *status.Driver {
	return status.NewDriver(machine, b, logger)
}

// warmStart seeds the directory and message store from the offline
// cache so the UI renders before the first poll completes.
func warmStart(db *cache.DB, dir *directory.Directory, store *msgstore.Store, logger *zap.Logger) {
	convs, err := db.ListConversations()
	if err != nil {
		logger.Warn("warm start conversations failed", zap.Error(err))
		return
	}
	dir.Seed(convs)

	ids, err := db.ConversationIDs()
	if err != nil {
		logger.Warn("warm start message ids failed", zap.Error(err))
		return
	}
	for _, id := range ids {
		msgs, err := db.ListMessages(id)
		if err != nil {
			logger.Warn("warm start messages failed",
				zap.Int64("conversation_id", id), zap.Error(err))
			continue
		}
		store.Seed(id, msgs)
	}
	logger.Info("warm start complete",
		zap.Int("conversations", len(convs)), zap.Int("histories", len(ids)))
}

func registerLifecycle(
	lc fx.Lifecycle,
	cfg *config.Config,
	lk *lock.Lock,
	db *cache.DB,
	dir *directory.Directory,
	store *msgstore.Store,
	sched *poll.Scheduler,
	mgr *heads.Manager,
	transport push.Transport,
	writer *cache.Writer,
	driver *status.Driver,
	machine *status.Machine,
	logger *zap.Logger,
) {
	var metricsSrv *http.Server

	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			if !cfg.Enabled {
				logger.Info("engine disabled by config")
				_ = machine.Transition(status.Disabled)
				return nil
			}

			warmStart(db, dir, store, logger)

			writer.Start(context.Background())
			driver.Start(context.Background())
			mgr.Start(context.Background())
			dir.Start(context.Background())
			sched.Start(context.Background())

			if transport != nil {
				if err := transport.Start(context.Background()); err != nil {
					logger.Warn("push transport unavailable, polling only", zap.Error(err))
				} else {
					driver.SetPushConnected(true)
				}
			}

			if cfg.Metrics.Listen != "" {
				metricsSrv = &http.Server{Addr: cfg.Metrics.Listen, Handler: metrics.Handler()}
				go func() {
					logger.Info("metrics listener started", zap.String("addr", cfg.Metrics.Listen))
					if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
						logger.Error("metrics listener error", zap.Error(err))
					}
				}()
			}
			return nil
		},
		OnStop: func(ctx context.Context) error {
			if metricsSrv != nil {
				shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
				defer cancel()
				_ = metricsSrv.Shutdown(shutdownCtx)
			}
			if transport != nil {
				transport.Stop()
			}
			sched.Stop()
			dir.Stop()
			mgr.Stop()
			driver.Stop()
			writer.Stop()
			if err := db.Close(); err != nil {
				logger.Warn("error closing cache", zap.Error(err))
			}
			if err := lk.Release(); err != nil {
				logger.Warn("error releasing lock", zap.Error(err))
			}
			logger.Info("engine stopped")
			return nil
		},
	})
}
