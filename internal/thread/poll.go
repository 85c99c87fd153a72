package thread

import (
	"context"
	"sync"
	"time"

	"github.com/dmoroz/marketchat/internal/channel"
	"github.com/dmoroz/marketchat/internal/timer"
	"go.uber.org/zap"
)

// Poller bounds staleness while the push channel is down: on a fixed
// interval it re-invokes the same refresh path the initial load uses.
// It runs only while the channel status is not Connected.
type Poller struct {
	refresh  func(context.Context)
	interval time.Duration
	logger   *zap.Logger

	tick timer.Timer

	mu     sync.Mutex
	active bool
}

// NewPoller creates a poller around the given refresh function.
func NewPoller(interval time.Duration, refresh func(context.Context), logger *zap.Logger) *Poller {
	return &Poller{
		refresh:  refresh,
		interval: interval,
		logger:   logger,
	}
}

// HandleStatus reacts to channel status transitions: the fallback
// activates on anything but Connected and deactivates on Connected.
func (p *Poller) HandleStatus(change channel.StatusChange) {
	if change.To == channel.Connected {
		p.Stop()
		return
	}
	p.Start()
}

// Start activates the poll loop. Idempotent.
func (p *Poller) Start() {
	p.mu.Lock()
	if p.active {
		p.mu.Unlock()
		return
	}
	p.active = true
	p.mu.Unlock()

	p.logger.Info("poll fallback active", zap.Duration("interval", p.interval))
	p.schedule()
}

// Stop deactivates the poll loop. Idempotent.
func (p *Poller) Stop() {
	p.mu.Lock()
	wasActive := p.active
	p.active = false
	p.mu.Unlock()

	p.tick.Stop()
	if wasActive {
		p.logger.Info("poll fallback stopped")
	}
}

// Active reports whether the fallback is currently running.
func (p *Poller) Active() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.active
}

func (p *Poller) schedule() {
	p.tick.Schedule(p.interval, func() {
		p.mu.Lock()
		active := p.active
		p.mu.Unlock()
		if !active {
			return
		}

		ctx, cancel := context.WithTimeout(context.Background(), p.interval)
		p.refresh(ctx)
		cancel()

		p.schedule()
	})
}
