package chatlist

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/dmoroz/marketchat/internal/bus"
	"github.com/dmoroz/marketchat/internal/cache"
	"github.com/dmoroz/marketchat/internal/channel"
	"github.com/dmoroz/marketchat/internal/model"
	"go.uber.org/zap"
)

// API is the REST surface the chat list consumes.
type API interface {
	ListChats(ctx context.Context) ([]model.ChatSummary, error)
}

// List holds the conversation overview, ordered by recency. It shares
// the push channel with any open thread sessions and keeps previews and
// unread counts current from the same events.
type List struct {
	selfID int64
	api    API
	ch     *channel.Channel
	relCh  func()
	db     *cache.DB
	bus    *bus.Bus
	logger *zap.Logger

	unsubEvents func()

	mu    sync.Mutex
	chats []model.ChatSummary
}

// NewList creates a chat list bound to a shared channel. releaseChannel
// is called once on Close.
func NewList(selfID int64, api API, ch *channel.Channel, releaseChannel func(), db *cache.DB, b *bus.Bus, logger *zap.Logger) *List {
	return &List{
		selfID: selfID,
		api:    api,
		ch:     ch,
		relCh:  releaseChannel,
		db:     db,
		bus:    b,
		logger: logger,
	}
}

// Open paints the cached list, subscribes to push events and kicks the
// authoritative fetch in the background.
func (l *List) Open(ctx context.Context) {
	if l.db != nil {
		if cached, err := l.db.LoadChatList(); err == nil && cached != nil {
			l.mu.Lock()
			l.chats = cached
			l.mu.Unlock()
		}
	}
	l.unsubEvents = l.ch.Subscribe(l.handleEvent)
	go l.Refresh(ctx)
}

// Close unsubscribes and releases the channel.
func (l *List) Close() {
	if l.unsubEvents != nil {
		l.unsubEvents()
	}
	if l.relCh != nil {
		l.relCh()
	}
}

// Chats returns a copy of the current list, most recent first.
func (l *List) Chats() []model.ChatSummary {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]model.ChatSummary, len(l.chats))
	copy(out, l.chats)
	return out
}

// Refresh replaces the list with the server's view.
func (l *List) Refresh(ctx context.Context) {
	chats, err := l.api.ListChats(ctx)
	if err != nil {
		l.logger.Warn("chat list fetch failed", zap.Error(err))
		return
	}

	l.mu.Lock()
	l.chats = chats
	l.sortLocked()
	l.mu.Unlock()

	l.publish()
	l.save()
}

// MarkRead zeroes the unread count for a chat, e.g. after the thread
// session issued a read mark.
func (l *List) MarkRead(chatID int64) {
	l.mu.Lock()
	changed := false
	for i := range l.chats {
		if l.chats[i].ID == chatID && l.chats[i].UnreadCount != 0 {
			l.chats[i].UnreadCount = 0
			changed = true
		}
	}
	l.mu.Unlock()
	if changed {
		l.publish()
	}
}

func (l *List) handleEvent(evt model.Event) {
	switch evt := evt.(type) {
	case model.MessageNew:
		l.applyMessage(evt.Message)
	case model.ChatCreated:
		l.applyCreated(evt.Chat)
	case model.ChatRead:
		// Our own read on another device clears the local badge.
		if evt.UserID == l.selfID {
			l.MarkRead(evt.ChatID)
		}
	}
}

func (l *List) applyMessage(msg model.Message) {
	l.mu.Lock()
	found := false
	for i := range l.chats {
		if l.chats[i].ID != msg.ChatID {
			continue
		}
		found = true
		if l.chats[i].LastMessage == nil || l.chats[i].LastMessage.CreatedAt <= msg.CreatedAt {
			m := msg
			l.chats[i].LastMessage = &m
		}
		if msg.SenderID != l.selfID {
			l.chats[i].UnreadCount++
		}
	}
	if found {
		l.sortLocked()
	}
	l.mu.Unlock()

	if found {
		l.publish()
		return
	}
	// Unknown chat: the chat:created event may have been lost. Fall
	// back to a full refetch.
	go l.Refresh(context.Background())
}

func (l *List) applyCreated(chat model.ChatSummary) {
	l.mu.Lock()
	for i := range l.chats {
		if l.chats[i].ID == chat.ID {
			l.mu.Unlock()
			return
		}
	}
	l.chats = append(l.chats, chat)
	l.sortLocked()
	l.mu.Unlock()

	l.publish()
}

// sortLocked orders by last activity, newest first. Caller holds mu.
func (l *List) sortLocked() {
	sort.SliceStable(l.chats, func(i, j int) bool {
		return l.lastActivity(i) > l.lastActivity(j)
	})
}

func (l *List) lastActivity(i int) int64 {
	if l.chats[i].LastMessage != nil {
		return l.chats[i].LastMessage.CreatedAt
	}
	return l.chats[i].CreatedAt
}

func (l *List) publish() {
	if l.bus == nil {
		return
	}
	l.bus.Publish(bus.Event{
		Kind:      bus.KindChatListUpdate,
		Timestamp: time.Now(),
	})
}

func (l *List) save() {
	if l.db == nil {
		return
	}
	if err := l.db.SaveChatList(l.Chats()); err != nil {
		l.logger.Warn("chat list cache write failed", zap.Error(err))
	}
}
