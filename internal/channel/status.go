package channel

import (
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/dmoroz/marketchat/internal/bus"
)

// Status represents the push channel connection state.
type Status string

const (
	Idle         Status = "IDLE"
	Connecting   Status = "CONNECTING"
	Connected    Status = "CONNECTED"
	Reconnecting Status = "RECONNECTING"
)

// validTransitions defines allowed status transitions. Explicit teardown
// returns to Idle from any state; everything else cycles through the
// connect/reconnect loop.
var validTransitions = map[Status][]Status{
	Idle:         {Connecting},
	Connecting:   {Connected, Reconnecting, Idle},
	Connected:    {Reconnecting, Idle},
	Reconnecting: {Connecting, Idle},
}

// StatusChange is the payload for status change notifications.
type StatusChange struct {
	From Status
	To   Status
}

// Machine tracks and enforces channel status transitions. Subscribers
// are notified synchronously, in registration order, while the
// transition lock is held, so every consumer observes the same sequence.
type Machine struct {
	mu      sync.Mutex
	current Status
	bus     *bus.Bus
	subs    map[int]func(StatusChange)
	next    int
}

// NewMachine creates a status machine starting in Idle.
func NewMachine(b *bus.Bus) *Machine {
	return &Machine{
		current: Idle,
		bus:     b,
		subs:    make(map[int]func(StatusChange)),
	}
}

// Current returns the current status.
func (m *Machine) Current() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current
}

// Subscribe registers a synchronous status listener and returns an
// unsubscribe function.
func (m *Machine) Subscribe(fn func(StatusChange)) func() {
	m.mu.Lock()
	id := m.next
	m.next++
	m.subs[id] = fn
	m.mu.Unlock()

	return func() {
		m.mu.Lock()
		delete(m.subs, id)
		m.mu.Unlock()
	}
}

// Transition attempts to move to a new status. Returns an error if the
// transition is invalid; the status is unchanged in that case.
func (m *Machine) Transition(to Status) error {
	m.mu.Lock()
	allowed := validTransitions[m.current]
	if !slices.Contains(allowed, to) {
		current := m.current
		m.mu.Unlock()
		return fmt.Errorf("invalid transition from %s to %s", current, to)
	}
	from := m.current
	m.current = to
	listeners := make([]func(StatusChange), 0, len(m.subs))
	for _, fn := range m.subs {
		listeners = append(listeners, fn)
	}
	m.mu.Unlock()

	change := StatusChange{From: from, To: to}
	for _, fn := range listeners {
		fn(change)
	}
	if m.bus != nil {
		m.bus.Publish(bus.Event{
			Kind:      bus.KindStatusChanged,
			Timestamp: time.Now(),
			Payload:   change,
		})
	}
	return nil
}
