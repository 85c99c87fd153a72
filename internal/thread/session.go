package thread

import (
	"context"
	"sync"
	"time"

	"github.com/dmoroz/marketchat/internal/bus"
	"github.com/dmoroz/marketchat/internal/cache"
	"github.com/dmoroz/marketchat/internal/channel"
	"github.com/dmoroz/marketchat/internal/model"
	"go.uber.org/zap"
)

// API is the REST surface a thread session consumes.
type API interface {
	GetChat(ctx context.Context, chatID int64) (*model.ChatDetail, error)
	ListMessages(ctx context.Context, chatID, beforeID int64, limit int) ([]model.Message, error)
	MarkRead(ctx context.Context, chatID, messageID int64) error
}

// SessionParams configures one thread session.
type SessionParams struct {
	ChatID       int64
	SelfID       int64
	PageSize     int
	PollInterval time.Duration
	TypingIdle   time.Duration
	TypingExpiry time.Duration
}

// Session owns the live state of one open conversation: the message
// snapshot, pagination, read receipts, typing state and the poll
// fallback. Push events, poll refetches and send confirmations all land
// in the same store through the same reconciler.
type Session struct {
	params SessionParams
	api    API
	ch     *channel.Channel
	relCh  func()
	db     *cache.DB
	bus    *bus.Bus
	logger *zap.Logger

	store    *Store
	rec      *Reconciler
	loader   *Loader
	receipts *ReceiptTracker
	typing   *TypingCoordinator
	poller   *Poller

	unsubEvents func()
	unsubStatus func()

	mu           sync.Mutex
	detail       *model.ChatDetail
	detailSeq    uint64
	detailCancel context.CancelFunc
	closed       bool
}

// NewSession wires a session around a shared channel. releaseChannel is
// called exactly once on Close.
func NewSession(p SessionParams, api API, ch *channel.Channel, releaseChannel func(), db *cache.DB, b *bus.Bus, logger *zap.Logger) *Session {
	s := &Session{
		params: p,
		api:    api,
		ch:     ch,
		relCh:  releaseChannel,
		db:     db,
		bus:    b,
		logger: logger,
	}
	s.store = NewStore()
	s.rec = NewReconciler(p.ChatID, s.store, b, logger)
	s.loader = NewLoader(p.ChatID, p.PageSize, api, s.rec, s.store, logger)
	s.receipts = NewReceiptTracker(p.ChatID, p.SelfID, api, s.store, logger)
	s.typing = NewTypingCoordinator(p.ChatID, p.SelfID, p.TypingIdle, p.TypingExpiry, ch, b)
	s.poller = NewPoller(p.PollInterval, s.Refresh, logger)
	return s
}

// Open paints the cached snapshot, subscribes to the channel and kicks
// the authoritative refresh in the background.
func (s *Session) Open(ctx context.Context) {
	s.paintFromCache()

	s.unsubEvents = s.ch.Subscribe(s.handleEvent)
	s.unsubStatus = s.ch.SubscribeStatus(s.poller.HandleStatus)
	if s.ch.Status() != channel.Connected {
		s.poller.Start()
	}

	go s.Refresh(ctx)
}

// Close tears the session down and releases its hold on the channel.
func (s *Session) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	cancel := s.detailCancel
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if s.unsubEvents != nil {
		s.unsubEvents()
	}
	if s.unsubStatus != nil {
		s.unsubStatus()
	}
	s.poller.Stop()
	if s.relCh != nil {
		s.relCh()
	}
}

// Messages returns the current ordered snapshot.
func (s *Session) Messages() []model.Message {
	return s.store.Snapshot()
}

// Store exposes the snapshot store for the send coordinator.
func (s *Session) Store() *Store {
	return s.store
}

// Reconciler exposes the merge path for the send coordinator.
func (s *Session) Reconciler() *Reconciler {
	return s.rec
}

// Detail returns the last known thread header, or nil before any load.
func (s *Session) Detail() *model.ChatDetail {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.detail == nil {
		return nil
	}
	d := *s.detail
	return &d
}

// RemoteTyping reports whether the counterpart is typing.
func (s *Session) RemoteTyping() bool {
	return s.typing.RemoteTyping()
}

// HasMore reports whether older history may remain.
func (s *Session) HasMore() bool {
	return s.loader.HasMore()
}

// LoadOlder fetches the page preceding the oldest confirmed message.
func (s *Session) LoadOlder(ctx context.Context) (*PageResult, error) {
	return s.loader.LoadOlder(ctx, s.store.OldestID())
}

// ObserveViewport forwards a viewport observation to the read tracker.
func (s *Session) ObserveViewport(nearBottom bool, lastVisibleIncomingID int64) {
	s.receipts.ObserveViewport(context.Background(), nearBottom, lastVisibleIncomingID)
}

// ComposerChanged forwards a composer edit to the typing coordinator.
func (s *Session) ComposerChanged(text string) {
	s.typing.ComposerChanged(text)
}

// MessageSent clears local typing state after a send.
func (s *Session) MessageSent() {
	s.typing.MessageSent()
}

// Refresh re-fetches the thread header and the latest message page
// through the same paths the initial load uses. The poll fallback
// re-enters here, so both paths produce identical data shapes.
func (s *Session) Refresh(ctx context.Context) {
	s.refreshDetail(ctx)

	if _, err := s.loader.LoadInitial(ctx); err != nil {
		s.logger.Warn("thread refresh failed", zap.Int64("chat_id", s.params.ChatID), zap.Error(err))
		return
	}

	s.saveSnapshot()
}

func (s *Session) refreshDetail(ctx context.Context) {
	s.mu.Lock()
	if s.detailCancel != nil {
		s.detailCancel()
	}
	s.detailSeq++
	seq := s.detailSeq
	ctx, cancel := context.WithCancel(ctx)
	s.detailCancel = cancel
	s.mu.Unlock()

	detail, err := s.api.GetChat(ctx, s.params.ChatID)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.detailSeq != seq || s.closed {
		return
	}
	s.detailCancel = nil
	if err != nil {
		s.logger.Warn("detail fetch failed", zap.Int64("chat_id", s.params.ChatID), zap.Error(err))
		return
	}
	// The counterpart read watermark only moves forward; a stale poll
	// must not regress what a push event already advanced.
	if s.detail != nil && s.detail.CounterpartLastReadID > detail.CounterpartLastReadID {
		detail.CounterpartLastReadID = s.detail.CounterpartLastReadID
	}
	s.detail = detail
}

func (s *Session) handleEvent(evt model.Event) {
	switch evt := evt.(type) {
	case model.MessageNew:
		if evt.Message.ChatID == s.params.ChatID {
			s.rec.Merge([]model.Message{evt.Message})
		}
	case model.ChatRead:
		if evt.ChatID == s.params.ChatID && evt.UserID != s.params.SelfID {
			s.advanceCounterpartRead(evt.MessageID)
		}
	case model.Typing:
		s.typing.HandleRemote(evt)
	}
}

func (s *Session) advanceCounterpartRead(messageID int64) {
	s.mu.Lock()
	if s.detail == nil || messageID <= s.detail.CounterpartLastReadID {
		s.mu.Unlock()
		return
	}
	s.detail.CounterpartLastReadID = messageID
	s.mu.Unlock()

	if s.bus != nil {
		s.bus.Publish(bus.Event{
			Kind:      bus.KindThreadUpdated,
			Timestamp: time.Now(),
			Payload:   s.params.ChatID,
		})
	}
}

func (s *Session) paintFromCache() {
	if s.db == nil {
		return
	}
	snap, err := s.db.LoadThread(s.params.ChatID)
	if err != nil || snap == nil {
		return
	}
	s.mu.Lock()
	detail := snap.Detail
	s.detail = &detail
	s.mu.Unlock()
	s.rec.Merge(snap.Messages)
}

func (s *Session) saveSnapshot() {
	if s.db == nil {
		return
	}
	s.mu.Lock()
	detail := s.detail
	closed := s.closed
	s.mu.Unlock()
	if detail == nil || closed {
		return
	}

	// Cache only the tail page: enough to paint the next open instantly.
	msgs := s.store.Snapshot()
	confirmed := msgs[:0:0]
	for _, m := range msgs {
		if m.ID > 0 {
			confirmed = append(confirmed, m)
		}
	}
	if len(confirmed) > s.params.PageSize {
		confirmed = confirmed[len(confirmed)-s.params.PageSize:]
	}
	if err := s.db.SaveThread(s.params.ChatID, detail, confirmed); err != nil {
		s.logger.Warn("snapshot cache write failed", zap.Int64("chat_id", s.params.ChatID), zap.Error(err))
	}
}
