package bus

import "time"

// Event represents a domain event published on the bus.
type Event struct {
	Kind      string
	Timestamp time.Time
	Payload   any
}

// Well-known event kinds. Subscribers filter by namespace prefix, so
// "thread." matches every thread event.
const (
	KindStatusChanged  = "channel.status_changed"
	KindThreadUpdated  = "thread.updated"
	KindThreadTyping   = "thread.typing"
	KindSendFailed     = "message.send_failed"
	KindSendAck        = "message.send_ack"
	KindChatListUpdate = "chatlist.updated"
)
