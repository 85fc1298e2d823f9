package app

import (
	"context"

	"github.com/mvalente/tablechat/internal/api"
	"github.com/mvalente/tablechat/internal/bus"
	"github.com/mvalente/tablechat/internal/cache"
	"github.com/mvalente/tablechat/internal/composer"
	"github.com/mvalente/tablechat/internal/config"
	"github.com/mvalente/tablechat/internal/directory"
	"github.com/mvalente/tablechat/internal/heads"
	"github.com/mvalente/tablechat/internal/lock"
	"github.com/mvalente/tablechat/internal/msgstore"
	"github.com/mvalente/tablechat/internal/poll"
	"github.com/mvalente/tablechat/internal/push"
	"github.com/mvalente/tablechat/internal/session"
	"github.com/mvalente/tablechat/internal/status"
	"go.uber.org/zap"
)

// Engine bundles every sync component behind one Start/Stop pair, for
// programs that cannot hand their lifecycle to fx, like the TUI which
// owns the terminal and the main goroutine.
type Engine struct {
	Config    *config.Config
	Bus       *bus.Bus
	Machine   *status.Machine
	Directory *directory.Directory
	Store     *msgstore.Store
	Composer  *composer.Composer
	Heads     *heads.Manager
	Scheduler *poll.Scheduler

	lock      *lock.Lock
	cache     *cache.DB
	writer    *cache.Writer
	driver    *status.Driver
	transport push.Transport
	logger    *zap.Logger
}

// NewEngine constructs a full engine for the given session. The caller
// owns Start and Stop.
func NewEngine(sessionName string, cfg *config.Config, logger *zap.Logger) (*Engine, error) {
	if err := session.EnsureDir(sessionName); err != nil {
		return nil, err
	}
	lk, err := lock.Acquire(session.Dir(sessionName))
	if err != nil {
		return nil, err
	}

	db, err := cache.Open(session.CacheDBPath(sessionName))
	if err != nil {
		lk.Release()
		return nil, err
	}
	if _, err := db.Migrate(); err != nil {
		db.Close()
		lk.Release()
		return nil, err
	}

	b := bus.New()
	machine := status.NewMachine(b)
	client := api.New(cfg.ServerURL)
	store := msgstore.New(client, b, logger)
	comp := composer.New(cfg.User.ID, cfg.Enabled, store, client, b, logger)
	dir := directory.New(cfg.User.ID, cfg.Enabled, client, store, b, logger)
	sched := poll.New(poll.Intervals{
		ListActive:   cfg.Poll.ListActiveInterval(),
		ListIdle:     cfg.Poll.ListIdleInterval(),
		Conversation: cfg.Poll.ConversationInterval(),
	}, cfg.Enabled, dir, store, logger)
	mgr := heads.New(cfg.Enabled, dir, store, sched, b, logger)
	ingestor := push.New(cfg.User.ID, cfg.Enabled, store, dir, mgr, b, logger)

	var transport push.Transport
	if cfg.Enabled {
		switch cfg.Push.Transport {
		case "nats":
			transport = push.NewNATSTransport(cfg.Push.NATSURL, cfg.User.ID, ingestor, logger)
		case "ws":
			transport = push.NewWSTransport(cfg.Push.WSURL, ingestor, logger)
		}
	}

	return &Engine{
		Config:    cfg,
		Bus:       b,
		Machine:   machine,
		Directory: dir,
		Store:     store,
		Composer:  comp,
		Heads:     mgr,
		Scheduler: sched,
		lock:      lk,
		cache:     db,
		writer:    cache.NewWriter(db, store, b, logger),
		driver:    status.NewDriver(machine, b, logger),
		transport: transport,
		logger:    logger,
	}, nil
}

// Start seeds state from the cache and brings every component up.
func (e *Engine) Start(ctx context.Context) error {
	if !e.Config.Enabled {
		e.logger.Info("engine disabled by config")
		return e.Machine.Transition(status.Disabled)
	}

	warmStart(e.cache, e.Directory, e.Store, e.logger)

	e.writer.Start(ctx)
	e.driver.Start(ctx)
	e.Heads.Start(ctx)
	e.Directory.Start(ctx)
	e.Scheduler.Start(ctx)

	if e.transport != nil {
		if err := e.transport.Start(ctx); err != nil {
			e.logger.Warn("push transport unavailable, polling only", zap.Error(err))
		} else {
			e.driver.SetPushConnected(true)
		}
	}
	return nil
}

// Stop brings every component down and releases the session lock.
func (e *Engine) Stop() {
	if e.transport != nil {
		e.transport.Stop()
	}
	e.Scheduler.Stop()
	e.Directory.Stop()
	e.Heads.Stop()
	e.driver.Stop()
	e.writer.Stop()
	if err := e.cache.Close(); err != nil {
		e.logger.Warn("error closing cache", zap.Error(err))
	}
	if err := e.lock.Release(); err != nil {
		e.logger.Warn("error releasing lock", zap.Error(err))
	}
}
