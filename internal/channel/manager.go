package channel

import (
	"fmt"
	"sync"

	"github.com/dmoroz/marketchat/internal/bus"
	"go.uber.org/zap"
)

// Manager hands out one shared channel per (server, user) identity,
// reference-counted by subscribers: opened on first acquire, torn down
// when the last holder releases.
type Manager struct {
	opts   Options
	bus    *bus.Bus
	logger *zap.Logger

	mu      sync.Mutex
	entries map[string]*entry
}

type entry struct {
	ch   *Channel
	refs int
}

// NewManager creates an empty channel manager.
func NewManager(opts Options, b *bus.Bus, logger *zap.Logger) *Manager {
	return &Manager{
		opts:    opts,
		bus:     b,
		logger:  logger,
		entries: make(map[string]*entry),
	}
}

// Acquire returns the shared channel for the identity, opening it if
// this is the first holder. The returned release function is idempotent.
func (m *Manager) Acquire(serverURL string, userID int64) (*Channel, func(), error) {
	key := fmt.Sprintf("%s|%d", serverURL, userID)

	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.entries[key]
	if !ok {
		ch, err := New(serverURL, userID, m.opts, m.bus, m.logger)
		if err != nil {
			return nil, nil, err
		}
		e = &entry{ch: ch}
		m.entries[key] = e
		ch.Open()
	}
	e.refs++

	var once sync.Once
	release := func() {
		once.Do(func() { m.release(key) })
	}
	return e.ch, release, nil
}

func (m *Manager) release(key string) {
	m.mu.Lock()
	e, ok := m.entries[key]
	if !ok {
		m.mu.Unlock()
		return
	}
	e.refs--
	last := e.refs <= 0
	if last {
		delete(m.entries, key)
	}
	m.mu.Unlock()

	if last {
		e.ch.Close()
	}
}

// CloseAll tears down every open channel. Used on shutdown.
func (m *Manager) CloseAll() {
	m.mu.Lock()
	entries := m.entries
	m.entries = make(map[string]*entry)
	m.mu.Unlock()

	for _, e := range entries {
		e.ch.Close()
	}
}
