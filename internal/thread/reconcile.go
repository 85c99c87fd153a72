package thread

import (
	"time"

	"github.com/dmoroz/marketchat/internal/bus"
	"github.com/dmoroz/marketchat/internal/model"
	"go.uber.org/zap"
)

// Reconciler folds confirmed server state into the optimistic snapshot.
// All three mutation sources (push events, poll refetches, send
// confirmations) go through the same Merge, so they cannot produce
// divergent data shapes.
type Reconciler struct {
	chatID int64
	store  *Store
	bus    *bus.Bus
	logger *zap.Logger
}

// NewReconciler creates a reconciler for one thread's store.
func NewReconciler(chatID int64, store *Store, b *bus.Bus, logger *zap.Logger) *Reconciler {
	return &Reconciler{chatID: chatID, store: store, bus: b, logger: logger}
}

// Merge integrates a batch of server-confirmed messages. It never fails:
// entries for other threads or without a server id are dropped.
// Returns the number of snapshot entries added or replaced.
func (r *Reconciler) Merge(incoming []model.Message) int {
	batch := incoming[:0:0]
	for _, m := range incoming {
		if m.ID <= 0 {
			r.logger.Debug("dropping message without id", zap.Int64("chat_id", m.ChatID))
			continue
		}
		if m.ChatID != r.chatID {
			continue
		}
		batch = append(batch, m)
	}
	if len(batch) == 0 {
		return 0
	}

	changed := r.store.Merge(batch)
	if changed > 0 && r.bus != nil {
		r.bus.Publish(bus.Event{
			Kind:      bus.KindThreadUpdated,
			Timestamp: time.Now(),
			Payload:   r.chatID,
		})
	}
	return changed
}
