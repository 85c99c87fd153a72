package thread

import (
	"sync"
	"time"

	"github.com/dmoroz/marketchat/internal/bus"
	"github.com/dmoroz/marketchat/internal/model"
	"github.com/dmoroz/marketchat/internal/timer"
)

// SignalSender publishes presence frames, best-effort.
type SignalSender interface {
	Send(model.Typing)
}

// TypingState is the bus payload for remote typing changes.
type TypingState struct {
	ChatID   int64
	IsTyping bool
}

// TypingCoordinator debounces local composer activity into typing
// events and expires remote typing state when no refresh arrives.
type TypingCoordinator struct {
	send   SignalSender
	chatID int64
	selfID int64
	idle   time.Duration
	expiry time.Duration
	bus    *bus.Bus

	idleTimer   timer.Timer
	expiryTimer timer.Timer

	mu        sync.Mutex
	composing bool
	remote    bool
}

// NewTypingCoordinator creates a coordinator for one thread.
func NewTypingCoordinator(chatID, selfID int64, idle, expiry time.Duration, send SignalSender, b *bus.Bus) *TypingCoordinator {
	return &TypingCoordinator{
		send:   send,
		chatID: chatID,
		selfID: selfID,
		idle:   idle,
		expiry: expiry,
		bus:    b,
	}
}

// ComposerChanged is invoked on every composer text change. The
// empty-to-nonempty edge emits typing:start; repeats are suppressed; the
// rolling idle timer emits typing:stop after the idle window, or
// immediately when the composer is cleared.
func (c *TypingCoordinator) ComposerChanged(text string) {
	if text == "" {
		c.stopLocal()
		return
	}

	c.mu.Lock()
	starting := !c.composing
	c.composing = true
	c.mu.Unlock()

	if starting {
		c.send.Send(model.Typing{ChatID: c.chatID, UserID: c.selfID, IsTyping: true})
	}
	c.idleTimer.Schedule(c.idle, c.stopLocal)
}

// MessageSent clears the local typing state immediately.
func (c *TypingCoordinator) MessageSent() {
	c.stopLocal()
}

func (c *TypingCoordinator) stopLocal() {
	c.mu.Lock()
	if !c.composing {
		c.mu.Unlock()
		return
	}
	c.composing = false
	c.mu.Unlock()

	c.idleTimer.Stop()
	c.send.Send(model.Typing{ChatID: c.chatID, UserID: c.selfID, IsTyping: false})
}

// HandleRemote processes an inbound typing event. A start (re)arms the
// expiry fail-safe so a lost typing:stop cannot wedge the indicator on.
func (c *TypingCoordinator) HandleRemote(evt model.Typing) {
	if evt.ChatID != c.chatID || evt.UserID == c.selfID {
		return
	}
	if evt.IsTyping {
		c.setRemote(true)
		c.expiryTimer.Schedule(c.expiry, func() { c.setRemote(false) })
		return
	}
	c.expiryTimer.Stop()
	c.setRemote(false)
}

// RemoteTyping reports whether the counterpart is currently typing.
func (c *TypingCoordinator) RemoteTyping() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.remote
}

func (c *TypingCoordinator) setRemote(typing bool) {
	c.mu.Lock()
	changed := c.remote != typing
	c.remote = typing
	c.mu.Unlock()

	if changed && c.bus != nil {
		c.bus.Publish(bus.Event{
			Kind:      bus.KindThreadTyping,
			Timestamp: time.Now(),
			Payload:   TypingState{ChatID: c.chatID, IsTyping: typing},
		})
	}
}
