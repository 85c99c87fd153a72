package thread

import (
	"context"
	"sync"

	"go.uber.org/zap"
)

// Marker issues read-mark calls against the server.
type Marker interface {
	MarkRead(ctx context.Context, chatID, messageID int64) error
}

// ReceiptTracker turns viewport observations into at most one read-mark
// call per newly visible incoming message. The watermark is monotonic:
// an id at or below one already marked is never marked again.
type ReceiptTracker struct {
	marker Marker
	store  *Store
	chatID int64
	selfID int64
	logger *zap.Logger

	mu        sync.Mutex
	watermark int64
}

// NewReceiptTracker creates a tracker for one thread.
func NewReceiptTracker(chatID, selfID int64, marker Marker, store *Store, logger *zap.Logger) *ReceiptTracker {
	return &ReceiptTracker{
		marker: marker,
		store:  store,
		chatID: chatID,
		selfID: selfID,
		logger: logger,
	}
}

// Watermark returns the highest id marked so far.
func (t *ReceiptTracker) Watermark() int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.watermark
}

// ObserveViewport is invoked on every scroll or snapshot update. When
// the viewport sits near the bottom it marks the most recent visible
// incoming message as read, once.
func (t *ReceiptTracker) ObserveViewport(ctx context.Context, nearBottom bool, lastVisibleIncomingID int64) {
	if !nearBottom || lastVisibleIncomingID <= 0 {
		return
	}
	// Own messages never get a read mark.
	if msg, ok := t.store.Get(lastVisibleIncomingID); ok && msg.SenderID == t.selfID {
		return
	}

	t.mu.Lock()
	if lastVisibleIncomingID <= t.watermark {
		t.mu.Unlock()
		return
	}
	prev := t.watermark
	t.watermark = lastVisibleIncomingID
	t.mu.Unlock()

	go func() {
		if err := t.marker.MarkRead(ctx, t.chatID, lastVisibleIncomingID); err != nil {
			t.logger.Warn("read mark failed",
				zap.Int64("chat_id", t.chatID),
				zap.Int64("message_id", lastVisibleIncomingID),
				zap.Error(err))
			// Roll back so the next observation retries, unless a
			// later mark already advanced past us.
			t.mu.Lock()
			if t.watermark == lastVisibleIncomingID {
				t.watermark = prev
			}
			t.mu.Unlock()
		}
	}()
}
