package rest

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/dmoroz/marketchat/internal/model"
	"go.uber.org/zap"
)

func testClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewClient(srv.URL, 42, zap.NewNop())
}

func TestListMessagesQuery(t *testing.T) {
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chats/7/messages" {
			t.Errorf("path = %q", r.URL.Path)
		}
		q := r.URL.Query()
		if q.Get("userId") != "42" || q.Get("limit") != "30" || q.Get("beforeId") != "100" {
			t.Errorf("query = %v", q)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"items": []model.Message{{ID: 99, ChatID: 7, Body: "hi", CreatedAt: 1000}},
		})
	})

	msgs, err := c.ListMessages(context.Background(), 7, 100, 30)
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 1 || msgs[0].ID != 99 {
		t.Errorf("got %+v, want one message id=99", msgs)
	}
}

func TestListMessagesOmitsZeroBeforeID(t *testing.T) {
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Has("beforeId") {
			t.Error("beforeId should be absent for the latest page")
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"items": []model.Message{}})
	})
	if _, err := c.ListMessages(context.Background(), 7, 0, 30); err != nil {
		t.Fatal(err)
	}
}

func TestSendMessageEmbedsUserAndMeta(t *testing.T) {
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		var req SendRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatal(err)
		}
		if req.UserID != 42 {
			t.Errorf("userId = %d, want 42", req.UserID)
		}
		if req.Meta[model.MetaClientMessageID] != "cid-1" {
			t.Errorf("meta = %v, want clientMessageId", req.Meta)
		}
		_ = json.NewEncoder(w).Encode(model.Message{
			ID: 500, ChatID: 7, SenderID: 42, Body: req.Body,
			Meta: req.Meta, CreatedAt: 2000,
		})
	})

	created, err := c.SendMessage(context.Background(), 7, SendRequest{
		Type: model.TypeText,
		Body: "hello",
		Meta: map[string]any{model.MetaClientMessageID: "cid-1"},
	})
	if err != nil {
		t.Fatal(err)
	}
	if created.ID != 500 || created.ClientMessageID() != "cid-1" {
		t.Errorf("created = %+v", created)
	}
}

func TestMarkRead(t *testing.T) {
	var got map[string]int64
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chats/7/read" {
			t.Errorf("path = %q", r.URL.Path)
		}
		_ = json.NewDecoder(r.Body).Decode(&got)
		w.WriteHeader(http.StatusOK)
	})

	if err := c.MarkRead(context.Background(), 7, 123); err != nil {
		t.Fatal(err)
	}
	if got["userId"] != 42 || got["messageId"] != 123 {
		t.Errorf("body = %v", got)
	}
}

func TestUploadAttachment(t *testing.T) {
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(Attachment{URL: "https://cdn/x.jpg", Path: "up/x.jpg"})
	})

	att, err := c.UploadAttachment(context.Background(), 7, "data:image/jpeg;base64,xxx")
	if err != nil {
		t.Fatal(err)
	}
	if att.Path != "up/x.jpg" {
		t.Errorf("attachment = %+v", att)
	}
}

func TestNon2xxIsError(t *testing.T) {
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	})
	if _, err := c.ListChats(context.Background()); err == nil {
		t.Fatal("expected error on 500")
	}
}

func TestContextCancellation(t *testing.T) {
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := c.ListChats(ctx); err == nil {
		t.Fatal("expected error from cancelled context")
	}
}
