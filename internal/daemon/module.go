package daemon

import (
	"context"
	"time"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/gfreire/msgdb/internal/bus"
	"github.com/gfreire/msgdb/internal/config"
	"github.com/gfreire/msgdb/internal/expire"
	"github.com/gfreire/msgdb/internal/lock"
	"github.com/gfreire/msgdb/internal/logging"
	"github.com/gfreire/msgdb/internal/receipt"
	"github.com/gfreire/msgdb/internal/session"
	"github.com/gfreire/msgdb/internal/store"
	"github.com/gfreire/msgdb/internal/trim"
)

// Params holds the resolved profile configuration passed to the fx module.
type Params struct {
	ProfileName string
}

// Module returns the fx module for the daemon, composing all providers and lifecycle hooks.
func Module(p Params) fx.Option {
	return fx.Module("daemon",
		fx.Supply(p),
		fx.Provide(
			provideLogger,
			provideConfig,
			provideBus,
			provideLock,
			provideDB,
			provideEarlyReceiptCache,
			provideStore,
			provideExpirationManager,
			provideTrimScheduler,
		),
		fx.Invoke(registerLifecycle),
	)
}

func provideLogger(p Params) (*zap.Logger, error) {
	return logging.New(session.LogPath(p.ProfileName), p.ProfileName)
}

func provideConfig(logger *zap.Logger) *config.Config {
	cfg, err := config.Load(session.ConfigPath())
	if err != nil {
		logger.Info("no config file, using defaults")
		return config.Default()
	}
	return cfg
}

func provideBus() *bus.Bus {
	return bus.New()
}

func provideLock(p Params, logger *zap.Logger) (*lock.Lock, error) {
	if err := session.EnsureDir(p.ProfileName); err != nil {
		return nil, err
	}
	logger.Info("acquiring profile lock", zap.String("profile", p.ProfileName))
	l, err := lock.Acquire(session.Dir(p.ProfileName))
	if err != nil {
		return nil, err
	}
	logger.Info("profile lock acquired")
	return l, nil
}

func provideDB(p Params, logger *zap.Logger) (*store.DB, error) {
	dbPath := session.DBPath(p.ProfileName)
	db, err := store.Open(dbPath)
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
	logger.Info("store initialized", zap.String("path", dbPath))
	return db, nil
}

func provideEarlyReceiptCache(cfg *config.Config) *receipt.Cache {
	ttl := time.Duration(cfg.EarlyReceipt.TTLMinutes) * time.Minute
	if ttl <= 0 {
		ttl = time.Hour
	}
	maxSize := cfg.EarlyReceipt.MaxSize
	if maxSize <= 0 {
		maxSize = 1000
	}
	return receipt.New(ttl, maxSize)
}

func provideStore(db *store.DB, b *bus.Bus, early *receipt.Cache, logger *zap.Logger) *store.Store {
	return store.New(db, b, early, logger)
}

func provideExpirationManager(s *store.Store, logger *zap.Logger) *expire.Manager {
	return expire.NewManager(s, logger)
}

func provideTrimScheduler(s *store.Store, b *bus.Bus, cfg *config.Config, logger *zap.Logger) *trim.Scheduler {
	return trim.NewScheduler(s, b, cfg.Trim, logger)
}

func registerLifecycle(lc fx.Lifecycle, db *store.DB, lk *lock.Lock, early *receipt.Cache, expirer *expire.Manager, trimmer *trim.Scheduler, logger *zap.Logger) {
	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			expirer.Start(context.Background())
			trimmer.Start(context.Background())
			logger.Info("daemon started")
			return nil
		},
		OnStop: func(_ context.Context) error {
			trimmer.Stop()
			expirer.Stop()
			early.Close()
			if err := db.Close(); err != nil {
				logger.Warn("error closing database", zap.Error(err))
			}
			if err := lk.Release(); err != nil {
				logger.Warn("error releasing lock", zap.Error(err))
			}
			logger.Info("daemon stopped")
			return nil
		},
	})
}
