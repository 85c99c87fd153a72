package channel

import (
	"encoding/json"
	"fmt"

	"github.com/dmoroz/marketchat/internal/model"
)

// Wire event type tags. Entity-carrying events nest their payload under
// a named field; flat events sit next to the "type" discriminator.
const (
	wireMessageNew  = "message:new"
	wireChatRead    = "chat:read"
	wireChatCreated = "chat:created"
	wireTyping      = "typing"
)

// DecodeEvent parses one inbound wire frame into a typed event. Unknown
// or malformed frames return an error; the caller drops them.
func DecodeEvent(data []byte) (model.Event, error) {
	var head struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return nil, fmt.Errorf("decode event envelope: %w", err)
	}

	switch head.Type {
	case wireMessageNew:
		// The message is nested: its own "type" field (text, image, ...)
		// would otherwise collide with the envelope discriminator.
		var evt struct {
			Message model.Message `json:"message"`
		}
		if err := json.Unmarshal(data, &evt); err != nil {
			return nil, fmt.Errorf("decode message:new: %w", err)
		}
		if evt.Message.ID <= 0 {
			return nil, fmt.Errorf("message:new without id")
		}
		return model.MessageNew{Message: evt.Message}, nil

	case wireChatRead:
		var evt struct {
			ChatID    int64 `json:"chatId"`
			UserID    int64 `json:"userId"`
			MessageID int64 `json:"messageId"`
		}
		if err := json.Unmarshal(data, &evt); err != nil {
			return nil, fmt.Errorf("decode chat:read: %w", err)
		}
		return model.ChatRead{ChatID: evt.ChatID, UserID: evt.UserID, MessageID: evt.MessageID}, nil

	case wireChatCreated:
		var evt struct {
			Chat model.ChatSummary `json:"chat"`
		}
		if err := json.Unmarshal(data, &evt); err != nil {
			return nil, fmt.Errorf("decode chat:created: %w", err)
		}
		if evt.Chat.ID <= 0 {
			return nil, fmt.Errorf("chat:created without id")
		}
		return model.ChatCreated{Chat: evt.Chat}, nil

	case wireTyping:
		var evt struct {
			ChatID   int64 `json:"chatId"`
			UserID   int64 `json:"userId"`
			IsTyping bool  `json:"isTyping"`
		}
		if err := json.Unmarshal(data, &evt); err != nil {
			return nil, fmt.Errorf("decode typing: %w", err)
		}
		return model.Typing{ChatID: evt.ChatID, UserID: evt.UserID, IsTyping: evt.IsTyping}, nil
	}

	return nil, fmt.Errorf("unknown event type %q", head.Type)
}

// EncodeTyping builds the outbound typing frame.
func EncodeTyping(evt model.Typing) ([]byte, error) {
	return json.Marshal(map[string]any{
		"type":     wireTyping,
		"chatId":   evt.ChatID,
		"userId":   evt.UserID,
		"isTyping": evt.IsTyping,
	})
}
