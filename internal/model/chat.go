package model

// ChatSummary is one row of the chat list.
type ChatSummary struct {
	ID              int64    `json:"id"`
	CounterpartID   int64    `json:"counterpartId"`
	CounterpartName string   `json:"counterpartName"`
	LastMessage     *Message `json:"lastMessage,omitempty"`
	UnreadCount     int      `json:"unreadCount"`
	CreatedAt       int64    `json:"createdAt"`
}

// ChatDetail is the full thread header: counterpart identity, the
// booking request the conversation is attached to, and the counterpart's
// read watermark.
type ChatDetail struct {
	ID                    int64  `json:"id"`
	CounterpartID         int64  `json:"counterpartId"`
	CounterpartName       string `json:"counterpartName"`
	RequestID             int64  `json:"requestId,omitempty"`
	CounterpartLastReadID int64  `json:"counterpartLastReadId"`
}
