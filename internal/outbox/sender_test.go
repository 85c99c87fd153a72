package outbox

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/dmoroz/marketchat/internal/bus"
	"github.com/dmoroz/marketchat/internal/model"
	"github.com/dmoroz/marketchat/internal/rest"
	"github.com/dmoroz/marketchat/internal/thread"
	"go.uber.org/zap"
)

// mockAPI confirms or fails sends on demand and echoes the request meta
// back the way the server does.
type mockAPI struct {
	mu          sync.Mutex
	failSends   bool
	failUploads bool
	nextID      int64
	sent        []rest.SendRequest
	uploads     int
}

func (m *mockAPI) SendMessage(ctx context.Context, chatID int64, req rest.SendRequest) (*model.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failSends {
		return nil, errors.New("network down")
	}
	m.sent = append(m.sent, req)
	m.nextID++
	return &model.Message{
		ID:            m.nextID,
		ChatID:        chatID,
		SenderID:      9,
		Type:          req.Type,
		Body:          req.Body,
		AttachmentURL: req.AttachmentPath,
		Meta:          req.Meta,
		CreatedAt:     time.Now().UnixMilli(),
	}, nil
}

func (m *mockAPI) UploadAttachment(ctx context.Context, chatID int64, dataURL string) (*rest.Attachment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failUploads {
		return nil, errors.New("upload refused")
	}
	m.uploads++
	return &rest.Attachment{URL: "https://cdn.example/att/1.jpg", Path: "att/1.jpg"}, nil
}

func (m *mockAPI) setFailSends(v bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failSends = v
}

func (m *mockAPI) sentRequests() []rest.SendRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]rest.SendRequest, len(m.sent))
	copy(out, m.sent)
	return out
}

func (m *mockAPI) uploadCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.uploads
}

func fixture(api API) (*Coordinator, *thread.Store, *bus.Bus) {
	store := thread.NewStore()
	rec := thread.NewReconciler(1, store, nil, zap.NewNop())
	b := bus.New()
	return NewCoordinator(1, 9, api, store, rec, b, zap.NewNop()), store, b
}

func waitEvent(t *testing.T, ch <-chan bus.Event, kind string) bus.Event {
	t.Helper()
	select {
	case evt := <-ch:
		if evt.Kind != kind {
			t.Fatalf("event kind = %q, want %q", evt.Kind, kind)
		}
		return evt
	case <-time.After(2 * time.Second):
		t.Fatalf("timeout waiting for %s", kind)
		return bus.Event{}
	}
}

func TestSendFailsOfflineThenRetrySucceeds(t *testing.T) {
	api := &mockAPI{failSends: true}
	c, store, b := fixture(api)
	events, unsub := b.Subscribe("message.", 10)
	defer unsub()

	placeholder := c.Send(context.Background(), SendPayload{Type: model.TypeText, Body: "hi"})
	cid := placeholder.ClientMessageID()
	if cid == "" {
		t.Fatal("placeholder missing correlation id")
	}
	if placeholder.ID >= 0 || placeholder.State != model.StateSending {
		t.Fatalf("placeholder = %+v", placeholder)
	}
	if msg, ok := store.Get(placeholder.ID); !ok || msg.Body != "hi" {
		t.Fatal("placeholder not in snapshot")
	}

	waitEvent(t, events, bus.KindSendFailed)
	if msg, _ := store.Get(placeholder.ID); msg.State != model.StateFailed {
		t.Fatalf("state after failure = %v, want failed", msg.State)
	}
	if c.PendingCount() != 1 {
		t.Fatalf("pending = %d, want 1", c.PendingCount())
	}

	// Back online: the retry reuses the same correlation id, so the
	// confirmation retires the original placeholder.
	api.setFailSends(false)
	if err := c.Retry(context.Background(), cid); err != nil {
		t.Fatal(err)
	}
	waitEvent(t, events, bus.KindSendAck)

	if store.Len() != 1 {
		t.Fatalf("snapshot len = %d, want 1", store.Len())
	}
	if _, ok := store.Get(placeholder.ID); ok {
		t.Error("placeholder still present after confirmation")
	}
	final := store.Snapshot()[0]
	if final.ID <= 0 || final.State != model.StateSent || final.ClientMessageID() != cid {
		t.Errorf("confirmed message = %+v", final)
	}
	if c.PendingCount() != 0 {
		t.Errorf("pending = %d, want 0", c.PendingCount())
	}
	if reqs := api.sentRequests(); len(reqs) != 1 || reqs[0].Meta[model.MetaClientMessageID] != cid {
		t.Errorf("server saw %+v", reqs)
	}
}

func TestRetryUnknownCorrelationID(t *testing.T) {
	c, _, _ := fixture(&mockAPI{})
	if err := c.Retry(context.Background(), "nope"); !errors.Is(err, ErrUnknownMessage) {
		t.Errorf("err = %v, want ErrUnknownMessage", err)
	}
}

func TestImageSendUploadsThenSends(t *testing.T) {
	api := &mockAPI{}
	c, store, b := fixture(api)
	events, unsub := b.Subscribe(bus.KindSendAck, 10)
	defer unsub()

	placeholder := c.Send(context.Background(), SendPayload{
		Type:              model.TypeImage,
		AttachmentDataURL: "data:image/jpeg;base64,xxxx",
	})
	// Until confirmation the local payload doubles as the preview.
	if placeholder.AttachmentURL != "data:image/jpeg;base64,xxxx" {
		t.Errorf("placeholder preview = %q", placeholder.AttachmentURL)
	}

	waitEvent(t, events, bus.KindSendAck)
	if api.uploadCount() != 1 {
		t.Errorf("uploads = %d, want 1", api.uploadCount())
	}
	reqs := api.sentRequests()
	if len(reqs) != 1 || reqs[0].AttachmentPath != "att/1.jpg" {
		t.Fatalf("send requests = %+v", reqs)
	}
	if store.Len() != 1 {
		t.Errorf("snapshot len = %d, want 1", store.Len())
	}
}

func TestRetryAfterEvictionFailsWhenNothingUploaded(t *testing.T) {
	api := &mockAPI{failUploads: true}
	c, _, b := fixture(api)
	events, unsub := b.Subscribe(bus.KindSendFailed, 10)
	defer unsub()

	placeholder := c.Send(context.Background(), SendPayload{
		Type:              model.TypeImage,
		AttachmentDataURL: "data:image/jpeg;base64,xxxx",
	})
	waitEvent(t, events, bus.KindSendFailed)

	cid := placeholder.ClientMessageID()
	c.EvictAttachmentData(cid)
	if err := c.Retry(context.Background(), cid); !errors.Is(err, ErrAttachmentGone) {
		t.Errorf("err = %v, want ErrAttachmentGone", err)
	}
}

func TestRetryReusesUploadedAttachmentPath(t *testing.T) {
	// Upload succeeds, the message send fails: the durable path is
	// already known, so a retry after eviction still works and the
	// payload is not uploaded twice.
	api := &mockAPI{failSends: true}
	c, store, b := fixture(api)
	events, unsub := b.Subscribe("message.", 10)
	defer unsub()

	placeholder := c.Send(context.Background(), SendPayload{
		Type:              model.TypeImage,
		AttachmentDataURL: "data:image/jpeg;base64,xxxx",
	})
	waitEvent(t, events, bus.KindSendFailed)

	cid := placeholder.ClientMessageID()
	c.EvictAttachmentData(cid)
	api.setFailSends(false)
	if err := c.Retry(context.Background(), cid); err != nil {
		t.Fatal(err)
	}
	waitEvent(t, events, bus.KindSendAck)

	if api.uploadCount() != 1 {
		t.Errorf("uploads = %d, want 1", api.uploadCount())
	}
	if store.Len() != 1 {
		t.Errorf("snapshot len = %d, want 1", store.Len())
	}
}
