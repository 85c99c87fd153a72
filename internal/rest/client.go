package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/dmoroz/marketchat/internal/model"
	"go.uber.org/zap"
)

// Client is a typed client for the chat REST API. Every call carries the
// acting user's id as a query or body parameter, per the server contract.
type Client struct {
	base   string
	userID int64
	http   *http.Client
	logger *zap.Logger
}

// SendRequest is the body of a message create call. Meta always carries
// the client correlation id so the server echoes it back.
type SendRequest struct {
	UserID         int64             `json:"userId"`
	Type           model.MessageType `json:"type"`
	Body           string            `json:"body"`
	Meta           map[string]any    `json:"meta,omitempty"`
	AttachmentPath string            `json:"attachmentPath,omitempty"`
}

// Attachment is the durable result of an upload.
type Attachment struct {
	URL  string `json:"url"`
	Path string `json:"path"`
}

// NewClient creates a REST client for the given server base URL and user.
func NewClient(baseURL string, userID int64, logger *zap.Logger) *Client {
	return &Client{
		base:   baseURL,
		userID: userID,
		http:   &http.Client{Timeout: 30 * time.Second},
		logger: logger,
	}
}

// ListChats returns the user's conversations, most recent first.
func (c *Client) ListChats(ctx context.Context) ([]model.ChatSummary, error) {
	var chats []model.ChatSummary
	if err := c.get(ctx, "/chats", nil, &chats); err != nil {
		return nil, fmt.Errorf("list chats: %w", err)
	}
	return chats, nil
}

// GetChat returns the thread header for one conversation.
func (c *Client) GetChat(ctx context.Context, chatID int64) (*model.ChatDetail, error) {
	var detail model.ChatDetail
	if err := c.get(ctx, fmt.Sprintf("/chats/%d", chatID), nil, &detail); err != nil {
		return nil, fmt.Errorf("get chat %d: %w", chatID, err)
	}
	return &detail, nil
}

// ListMessages returns a page of messages older than beforeID. A zero
// beforeID loads the most recent page.
func (c *Client) ListMessages(ctx context.Context, chatID, beforeID int64, limit int) ([]model.Message, error) {
	q := url.Values{}
	q.Set("limit", strconv.Itoa(limit))
	if beforeID > 0 {
		q.Set("beforeId", strconv.FormatInt(beforeID, 10))
	}
	var page struct {
		Items []model.Message `json:"items"`
	}
	if err := c.get(ctx, fmt.Sprintf("/chats/%d/messages", chatID), q, &page); err != nil {
		return nil, fmt.Errorf("list messages chat=%d: %w", chatID, err)
	}
	return page.Items, nil
}

// SendMessage creates a message and returns the server-confirmed entry.
func (c *Client) SendMessage(ctx context.Context, chatID int64, req SendRequest) (*model.Message, error) {
	req.UserID = c.userID
	var created model.Message
	if err := c.post(ctx, fmt.Sprintf("/chats/%d/messages", chatID), req, &created); err != nil {
		return nil, fmt.Errorf("send message chat=%d: %w", chatID, err)
	}
	return &created, nil
}

// MarkRead acknowledges messages up to messageID as read by this user.
func (c *Client) MarkRead(ctx context.Context, chatID, messageID int64) error {
	body := map[string]int64{"userId": c.userID, "messageId": messageID}
	if err := c.post(ctx, fmt.Sprintf("/chats/%d/read", chatID), body, nil); err != nil {
		return fmt.Errorf("mark read chat=%d msg=%d: %w", chatID, messageID, err)
	}
	return nil
}

// UploadAttachment uploads raw attachment bytes (as a data URL) and
// returns the durable url/path pair referenced by the follow-up send.
func (c *Client) UploadAttachment(ctx context.Context, chatID int64, dataURL string) (*Attachment, error) {
	body := map[string]any{"userId": c.userID, "dataUrl": dataURL}
	var att Attachment
	if err := c.post(ctx, fmt.Sprintf("/chats/%d/attachments", chatID), body, &att); err != nil {
		return nil, fmt.Errorf("upload attachment chat=%d: %w", chatID, err)
	}
	return &att, nil
}

func (c *Client) get(ctx context.Context, path string, query url.Values, out any) error {
	if query == nil {
		query = url.Values{}
	}
	query.Set("userId", strconv.FormatInt(c.userID, 10))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+path+"?"+query.Encode(), nil)
	if err != nil {
		return err
	}
	return c.do(req, out)
}

func (c *Client) post(ctx context.Context, path string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+path, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, out)
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		// Drain so the connection can be reused.
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("%s %s: status %d", req.Method, req.URL.Path, resp.StatusCode)
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s %s: %w", req.Method, req.URL.Path, err)
	}
	return nil
}
