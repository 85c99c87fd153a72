package model

// MessageType identifies the kind of chat entry.
type MessageType string

const (
	TypeText          MessageType = "text"
	TypeImage         MessageType = "image"
	TypeSystem        MessageType = "system"
	TypeOfferPrice    MessageType = "offer_price"
	TypeOfferTime     MessageType = "offer_time"
	TypeOfferLocation MessageType = "offer_location"
)

// SendState is the local delivery state of a message. The zero value is
// Sent so that remote-origin messages need no explicit state.
type SendState uint8

const (
	StateSent SendState = iota
	StateSending
	StateFailed
)

func (s SendState) String() string {
	switch s {
	case StateSending:
		return "sending"
	case StateFailed:
		return "failed"
	default:
		return "sent"
	}
}

// MetaClientMessageID is the meta key carrying the client-generated
// correlation id embedded in every outgoing message.
const MetaClientMessageID = "clientMessageId"

// Message is one chat entry. Server-confirmed messages carry a positive
// ID; optimistic placeholders carry a negative synthetic ID until the
// matching server message arrives.
type Message struct {
	ID            int64          `json:"id"`
	ChatID        int64          `json:"chatId"`
	SenderID      int64          `json:"senderId"`
	Type          MessageType    `json:"type"`
	Body          string         `json:"body"`
	AttachmentURL string         `json:"attachmentUrl,omitempty"`
	Meta          map[string]any `json:"meta,omitempty"`
	CreatedAt     int64          `json:"createdAt"` // unix millis
	State         SendState      `json:"-"`
}

// ClientMessageID returns the correlation id from meta, or "" if absent.
func (m *Message) ClientMessageID() string {
	if m.Meta == nil {
		return ""
	}
	id, _ := m.Meta[MetaClientMessageID].(string)
	return id
}

// Pending reports whether the message is an unconfirmed local placeholder.
func (m *Message) Pending() bool {
	return m.ID < 0
}

// Before reports whether m sorts before other in presentation order.
// The sort key is logical time, not arrival order: (createdAt, id).
func (m *Message) Before(other *Message) bool {
	if m.CreatedAt != other.CreatedAt {
		return m.CreatedAt < other.CreatedAt
	}
	return m.ID < other.ID
}
