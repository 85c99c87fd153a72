package outbox

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/dmoroz/marketchat/internal/bus"
	"github.com/dmoroz/marketchat/internal/model"
	"github.com/dmoroz/marketchat/internal/rest"
	"github.com/dmoroz/marketchat/internal/thread"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ErrUnknownMessage is returned by Retry for a correlation id with no
// pending entry (already confirmed, or never sent from this session).
var ErrUnknownMessage = errors.New("outbox: no pending send for message")

// ErrAttachmentGone is returned by Retry when the locally cached
// attachment payload was evicted before the retry; the caller must
// re-prompt the user for the file.
var ErrAttachmentGone = errors.New("outbox: attachment payload no longer available")

// API is the REST surface the coordinator needs.
type API interface {
	SendMessage(ctx context.Context, chatID int64, req rest.SendRequest) (*model.Message, error)
	UploadAttachment(ctx context.Context, chatID int64, dataURL string) (*rest.Attachment, error)
}

// SendPayload describes one user send action.
type SendPayload struct {
	Type model.MessageType
	Body string
	// AttachmentDataURL is the raw local payload for image sends. It is
	// kept in memory so a retry can re-upload without re-prompting.
	AttachmentDataURL string
	Meta              map[string]any
}

type pendingSend struct {
	syntheticID    int64
	payload        SendPayload
	attachmentPath string // durable path once uploaded; reused on retry
	attachmentURL  string
	inflight       bool
}

// Coordinator creates optimistic placeholders synchronously and settles
// them against server confirmations. Failed sends stay in the snapshot
// as retryable entries keyed by their clientMessageId.
type Coordinator struct {
	chatID int64
	selfID int64
	api    API
	store  *thread.Store
	rec    *thread.Reconciler
	bus    *bus.Bus
	logger *zap.Logger

	mu      sync.Mutex
	nextID  int64
	pending map[string]*pendingSend
}

// NewCoordinator creates a send coordinator for one thread.
func NewCoordinator(chatID, selfID int64, api API, store *thread.Store, rec *thread.Reconciler, b *bus.Bus, logger *zap.Logger) *Coordinator {
	return &Coordinator{
		chatID:  chatID,
		selfID:  selfID,
		api:     api,
		store:   store,
		rec:     rec,
		bus:     b,
		logger:  logger,
		pending: make(map[string]*pendingSend),
	}
}

// Send inserts a placeholder into the snapshot immediately and issues
// the network send in the background. Returns the placeholder.
func (c *Coordinator) Send(ctx context.Context, payload SendPayload) model.Message {
	cid := uuid.New().String()

	c.mu.Lock()
	c.nextID--
	id := c.nextID
	entry := &pendingSend{syntheticID: id, payload: payload, inflight: true}
	c.pending[cid] = entry
	c.mu.Unlock()

	meta := make(map[string]any, len(payload.Meta)+1)
	for k, v := range payload.Meta {
		meta[k] = v
	}
	meta[model.MetaClientMessageID] = cid

	placeholder := model.Message{
		ID:       id,
		ChatID:   c.chatID,
		SenderID: c.selfID,
		Type:     payload.Type,
		Body:     payload.Body,
		// Local preview until the durable URL is confirmed.
		AttachmentURL: payload.AttachmentDataURL,
		Meta:          meta,
		CreatedAt:     time.Now().UnixMilli(),
		State:         model.StateSending,
	}
	c.store.InsertPending(placeholder)

	go c.transmit(ctx, cid)
	return placeholder
}

// Retry re-submits a failed send, reusing the same clientMessageId and,
// for attachments, the previously captured payload or uploaded path.
func (c *Coordinator) Retry(ctx context.Context, clientMessageID string) error {
	c.mu.Lock()
	entry, ok := c.pending[clientMessageID]
	if !ok {
		c.mu.Unlock()
		return ErrUnknownMessage
	}
	if entry.inflight {
		c.mu.Unlock()
		return nil
	}
	needsAttachment := entry.payload.Type == model.TypeImage && entry.attachmentPath == ""
	if needsAttachment && entry.payload.AttachmentDataURL == "" {
		c.mu.Unlock()
		return ErrAttachmentGone
	}
	entry.inflight = true
	syntheticID := entry.syntheticID
	c.mu.Unlock()

	c.store.MarkState(syntheticID, model.StateSending)
	go c.transmit(ctx, clientMessageID)
	return nil
}

// EvictAttachmentData drops the in-memory attachment payload for a
// pending send. A later Retry fails with ErrAttachmentGone unless the
// upload already produced a durable path.
func (c *Coordinator) EvictAttachmentData(clientMessageID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if entry, ok := c.pending[clientMessageID]; ok {
		entry.payload.AttachmentDataURL = ""
	}
}

// PendingCount returns the number of unsettled sends.
func (c *Coordinator) PendingCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

func (c *Coordinator) transmit(ctx context.Context, cid string) {
	c.mu.Lock()
	entry, ok := c.pending[cid]
	if !ok {
		c.mu.Unlock()
		return
	}
	payload := entry.payload
	attachmentPath := entry.attachmentPath
	c.mu.Unlock()

	// Two-phase attachment send: upload raw bytes first, then send the
	// structured message referencing the durable path.
	if payload.Type == model.TypeImage && attachmentPath == "" {
		att, err := c.api.UploadAttachment(ctx, c.chatID, payload.AttachmentDataURL)
		if err != nil {
			c.fail(cid, err)
			return
		}
		c.mu.Lock()
		entry.attachmentPath = att.Path
		entry.attachmentURL = att.URL
		attachmentPath = att.Path
		c.mu.Unlock()
	}

	meta := make(map[string]any, len(payload.Meta)+1)
	for k, v := range payload.Meta {
		meta[k] = v
	}
	meta[model.MetaClientMessageID] = cid

	confirmed, err := c.api.SendMessage(ctx, c.chatID, rest.SendRequest{
		Type:           payload.Type,
		Body:           payload.Body,
		Meta:           meta,
		AttachmentPath: attachmentPath,
	})
	if err != nil {
		c.fail(cid, err)
		return
	}

	// The confirmation carries our clientMessageId, so the merge
	// retires the placeholder in place.
	c.rec.Merge([]model.Message{*confirmed})

	c.mu.Lock()
	delete(c.pending, cid)
	c.mu.Unlock()

	c.logger.Info("message sent",
		zap.String("client_msg_id", cid),
		zap.Int64("server_msg_id", confirmed.ID))
	c.bus.Publish(bus.Event{
		Kind:      bus.KindSendAck,
		Timestamp: time.Now(),
		Payload: map[string]string{
			"client_msg_id": cid,
		},
	})
}

func (c *Coordinator) fail(cid string, err error) {
	c.mu.Lock()
	entry, ok := c.pending[cid]
	if !ok {
		c.mu.Unlock()
		return
	}
	entry.inflight = false
	syntheticID := entry.syntheticID
	c.mu.Unlock()

	c.logger.Error("send failed", zap.String("client_msg_id", cid), zap.Error(err))
	c.store.MarkState(syntheticID, model.StateFailed)
	c.bus.Publish(bus.Event{
		Kind:      bus.KindSendFailed,
		Timestamp: time.Now(),
		Payload: map[string]string{
			"client_msg_id": cid,
			"error":         err.Error(),
		},
	})
}
