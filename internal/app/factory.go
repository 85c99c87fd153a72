package app

import (
	"context"
	"time"

	"github.com/dmoroz/marketchat/internal/bus"
	"github.com/dmoroz/marketchat/internal/cache"
	"github.com/dmoroz/marketchat/internal/channel"
	"github.com/dmoroz/marketchat/internal/config"
	"github.com/dmoroz/marketchat/internal/outbox"
	"github.com/dmoroz/marketchat/internal/rest"
	"github.com/dmoroz/marketchat/internal/thread"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Thread bundles an open thread session with its send coordinator.
type Thread struct {
	*thread.Session
	Sender *outbox.Coordinator
}

// Factory opens thread sessions wired to the shared channel, cache and
// bus. One factory serves the whole process; sessions come and go as
// the user enters and leaves threads.
type Factory struct {
	cfg      *config.Config
	api      *rest.Client
	channels *channel.Manager
	db       *cache.DB
	bus      *bus.Bus
	logger   *zap.Logger
}

// FactoryParams collects the factory's dependencies for fx injection.
type FactoryParams struct {
	fx.In

	Config   *config.Config
	API      *rest.Client
	Channels *channel.Manager
	DB       *cache.DB
	Bus      *bus.Bus
	Logger   *zap.Logger
}

// NewFactory creates a thread session factory.
func NewFactory(p FactoryParams) *Factory {
	return &Factory{
		cfg:      p.Config,
		api:      p.API,
		channels: p.Channels,
		db:       p.DB,
		bus:      p.Bus,
		logger:   p.Logger,
	}
}

// Open acquires the shared channel and starts a session for chatID.
// The returned Thread owns its channel reference; Close releases it.
func (f *Factory) Open(ctx context.Context, chatID int64) (*Thread, error) {
	ch, release, err := f.channels.Acquire(f.cfg.ServerURL, f.cfg.UserID)
	if err != nil {
		return nil, err
	}

	params := thread.SessionParams{
		ChatID:       chatID,
		SelfID:       f.cfg.UserID,
		PageSize:     f.cfg.PageSize,
		PollInterval: time.Duration(f.cfg.PollIntervalMs) * time.Millisecond,
		TypingIdle:   time.Duration(f.cfg.TypingIdleMs) * time.Millisecond,
		TypingExpiry: time.Duration(f.cfg.TypingExpiryMs) * time.Millisecond,
	}
	sess := thread.NewSession(params, f.api, ch, release, f.db, f.bus, f.logger)
	sender := outbox.NewCoordinator(chatID, f.cfg.UserID, f.api, sess.Store(), sess.Reconciler(), f.bus, f.logger)
	sess.Open(ctx)

	return &Thread{Session: sess, Sender: sender}, nil
}
