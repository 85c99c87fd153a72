package thread

import (
	"context"
	"sync"

	"github.com/dmoroz/marketchat/internal/model"
	"go.uber.org/zap"
)

// Fetcher is the slice of the REST client the loader needs.
type Fetcher interface {
	ListMessages(ctx context.Context, chatID, beforeID int64, limit int) ([]model.Message, error)
}

// load directions. Each keeps its own in-flight slot so a backward
// pagination request never interferes with the tail's refresh fetch.
type direction int

const (
	dirInitial direction = iota
	dirOlder
	dirCount
)

// PageResult reports what a load did to the snapshot.
type PageResult struct {
	// Added is how many entries the merge inserted. For an older page
	// this is the prepend count the UI needs to restore its scroll
	// anchor after layout.
	Added int
	// HasMore is false once a short page proved the history exhausted.
	HasMore bool
	// Suppressed is true when a duplicate call found the slot busy and
	// did nothing.
	Suppressed bool
	// Stale is true when the response lost the race against a newer
	// request for the same direction and was discarded.
	Stale bool
}

type slot struct {
	seq      uint64
	inflight bool
	beforeID int64
	cancel   context.CancelFunc
}

// Loader fetches thread history pages and feeds them through the
// reconciler. Every request carries a per-direction sequence number; a
// completion is applied only while its number is still the latest
// issued, which makes rapid re-entrant loads safe.
type Loader struct {
	fetch    Fetcher
	rec      *Reconciler
	store    *Store
	chatID   int64
	pageSize int
	logger   *zap.Logger

	mu      sync.Mutex
	slots   [dirCount]slot
	hasMore bool
}

// NewLoader creates a loader for one thread.
func NewLoader(chatID int64, pageSize int, fetch Fetcher, rec *Reconciler, store *Store, logger *zap.Logger) *Loader {
	return &Loader{
		fetch:    fetch,
		rec:      rec,
		store:    store,
		chatID:   chatID,
		pageSize: pageSize,
		logger:   logger,
		hasMore:  true,
	}
}

// HasMore reports whether older history may remain.
func (l *Loader) HasMore() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.hasMore
}

// LoadInitial fetches the most recent page, superseding any initial load
// still in flight. The poll fallback re-enters through here, so the
// fallback path cannot diverge from the initial-load path.
func (l *Loader) LoadInitial(ctx context.Context) (*PageResult, error) {
	return l.load(ctx, dirInitial, 0)
}

// LoadOlder fetches the page preceding beforeID. A duplicate call for
// the same cursor while one is in flight is suppressed; a call for a
// different cursor supersedes the one in flight.
func (l *Loader) LoadOlder(ctx context.Context, beforeID int64) (*PageResult, error) {
	l.mu.Lock()
	if !l.hasMore {
		l.mu.Unlock()
		return &PageResult{HasMore: false}, nil
	}
	if l.slots[dirOlder].inflight && l.slots[dirOlder].beforeID == beforeID {
		l.mu.Unlock()
		return &PageResult{HasMore: true, Suppressed: true}, nil
	}
	l.mu.Unlock()
	return l.load(ctx, dirOlder, beforeID)
}

func (l *Loader) load(ctx context.Context, dir direction, beforeID int64) (*PageResult, error) {
	l.mu.Lock()
	s := &l.slots[dir]
	if s.cancel != nil {
		// Abort the superseded predecessor before issuing a new one.
		s.cancel()
	}
	s.seq++
	seq := s.seq
	s.inflight = true
	s.beforeID = beforeID
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	l.mu.Unlock()

	msgs, err := l.fetch.ListMessages(ctx, l.chatID, beforeID, l.pageSize)

	l.mu.Lock()
	defer l.mu.Unlock()
	s = &l.slots[dir]
	if s.seq != seq {
		// A newer request owns this slot; this completion must not
		// touch the store.
		return &PageResult{HasMore: l.hasMore, Stale: true}, nil
	}
	s.inflight = false
	s.cancel = nil

	if err != nil {
		return nil, err
	}

	if dir == dirOlder && len(msgs) < l.pageSize {
		l.hasMore = false
	}

	// Merge outside the pager lock is not needed: store has its own.
	added := l.rec.Merge(msgs)
	l.logger.Debug("page merged",
		zap.Int64("chat_id", l.chatID),
		zap.Int64("before_id", beforeID),
		zap.Int("fetched", len(msgs)),
		zap.Int("added", added))

	return &PageResult{Added: added, HasMore: l.hasMore}, nil
}
