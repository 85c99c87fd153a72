package app

import (
	"context"
	"time"

	"github.com/dmoroz/marketchat/internal/bus"
	"github.com/dmoroz/marketchat/internal/cache"
	"github.com/dmoroz/marketchat/internal/channel"
	"github.com/dmoroz/marketchat/internal/chatlist"
	"github.com/dmoroz/marketchat/internal/config"
	"github.com/dmoroz/marketchat/internal/lock"
	"github.com/dmoroz/marketchat/internal/logging"
	"github.com/dmoroz/marketchat/internal/profile"
	"github.com/dmoroz/marketchat/internal/rest"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Params holds the resolved startup configuration passed to the fx module.
type Params struct {
	ConfigPath string
	// FollowChatID, when set, opens that thread session on startup and
	// logs its updates. Used by the headless daemon.
	FollowChatID int64
}

// Module returns the fx module for the client, composing all providers
// and lifecycle hooks.
func Module(p Params) fx.Option {
	return fx.Module("marketchat",
		fx.Supply(p),
		fx.Provide(
			provideConfig,
			provideProfileKey,
			provideLogger,
			provideBus,
			provideLock,
			provideCache,
			provideRESTClient,
			provideChannelManager,
			provideChatList,
			NewFactory,
		),
		fx.Invoke(registerLifecycle),
	)
}

func provideConfig(p Params) (*config.Config, error) {
	return config.Load(p.ConfigPath)
}

func provideProfileKey(cfg *config.Config) profile.Key {
	return profile.Key{ServerURL: cfg.ServerURL, UserID: cfg.UserID}
}

func provideLogger(key profile.Key) (*zap.Logger, error) {
	if err := profile.EnsureDir(key); err != nil {
		return nil, err
	}
	return logging.New(profile.LogPath(key), key.Name())
}

func provideBus() *bus.Bus {
	return bus.New()
}

func provideLock(key profile.Key, logger *zap.Logger) (*lock.Lock, error) {
	logger.Info("acquiring profile lock", zap.String("profile", key.Name()))
	l, err := lock.Acquire(profile.Dir(key))
	if err != nil {
		return nil, err
	}
	logger.Info("profile lock acquired")
	return l, nil
}

func provideCache(key profile.Key, logger *zap.Logger) (*cache.DB, error) {
	dbPath := profile.CacheDBPath(key)
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
		logger.Info("migrations applied", zap.Uint("version", result.Version))
	} else {
		logger.Info("migrations up to date", zap.Uint("version", result.Version))
	}
	logger.Info("cache initialized", zap.String("path", dbPath))
	return db, nil
}

func provideRESTClient(cfg *config.Config, logger *zap.Logger) *rest.Client {
	return rest.NewClient(cfg.ServerURL, cfg.UserID, logger)
}

func provideChannelManager(cfg *config.Config, b *bus.Bus, logger *zap.Logger) *channel.Manager {
	return channel.NewManager(channel.Options{
		BackoffMin: time.Duration(cfg.ReconnectMinMs) * time.Millisecond,
		BackoffMax: time.Duration(cfg.ReconnectMaxMs) * time.Millisecond,
	}, b, logger)
}

func provideChatList(cfg *config.Config, api *rest.Client, channels *channel.Manager, db *cache.DB, b *bus.Bus, logger *zap.Logger) (*chatlist.List, error) {
	ch, release, err := channels.Acquire(cfg.ServerURL, cfg.UserID)
	if err != nil {
		return nil, err
	}
	return chatlist.NewList(cfg.UserID, api, ch, release, db, b, logger), nil
}

func registerLifecycle(lc fx.Lifecycle, p Params, list *chatlist.List, factory *Factory, channels *channel.Manager, db *cache.DB, lk *lock.Lock, b *bus.Bus, logger *zap.Logger) {
	var followed *Thread

	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			list.Open(context.Background())
			logger.Info("chat list session started")

			if p.FollowChatID > 0 {
				t, err := factory.Open(context.Background(), p.FollowChatID)
				if err != nil {
					return err
				}
				followed = t
				logger.Info("following thread", zap.Int64("chat_id", p.FollowChatID))
			}

			go logBusActivity(b, logger)
			return nil
		},
		OnStop: func(_ context.Context) error {
			if followed != nil {
				followed.Close()
			}
			list.Close()
			channels.CloseAll()
			if err := db.Close(); err != nil {
				logger.Warn("cache close failed", zap.Error(err))
			}
			if err := lk.Release(); err != nil {
				logger.Warn("error releasing lock", zap.Error(err))
			}
			logger.Info("client stopped")
			return nil
		},
	})
}

// logBusActivity mirrors domain events into the log so a headless run
// is observable.
func logBusActivity(b *bus.Bus, logger *zap.Logger) {
	ch, unsub := b.Subscribe("", 256)
	defer unsub()
	for evt := range ch {
		logger.Info("event", zap.String("kind", evt.Kind))
	}
}
