package model

// Event is a decoded push-channel event. The wire envelope is a
// loosely-typed union dispatched by a "type" string; it is decoded into
// one of these variants at the channel boundary so consumers never
// pattern-match on raw strings.
type Event interface {
	event()
}

// MessageNew carries a newly created message.
type MessageNew struct {
	Message Message
}

// ChatRead signals that a user has read up to a message.
type ChatRead struct {
	ChatID    int64
	UserID    int64
	MessageID int64
}

// ChatCreated signals a new conversation visible to this user.
type ChatCreated struct {
	Chat ChatSummary
}

// Typing is a presence hint, delivered best-effort in both directions.
type Typing struct {
	ChatID   int64
	UserID   int64
	IsTyping bool
}

func (MessageNew) event()  {}
func (ChatRead) event()    {}
func (ChatCreated) event() {}
func (Typing) event()      {}
