package channel

import (
	"fmt"
	"math/rand"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/dmoroz/marketchat/internal/bus"
	"github.com/dmoroz/marketchat/internal/model"
	"github.com/dmoroz/marketchat/internal/timer"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
)

// Options controls reconnect backoff bounds.
type Options struct {
	BackoffMin time.Duration
	BackoffMax time.Duration
}

// Channel maintains one push connection for a (server, user) pair. It
// owns reconnection with bounded jittered backoff and fans decoded
// events out to subscribers. Delivery is at-most-once per connection and
// unordered relative to REST responses; consumers treat events as hints.
type Channel struct {
	url     string
	machine *Machine
	logger  *zap.Logger
	opts    Options
	dialer  *websocket.Dialer

	retry timer.Timer

	mu      sync.Mutex
	wmu     sync.Mutex
	conn    *websocket.Conn
	subs    map[int]func(model.Event)
	nextSub int
	attempt int
	closed  bool
}

// StreamURL derives the push endpoint from the HTTP base URL by
// substituting the websocket scheme and appending the stream path.
func StreamURL(serverURL string, userID int64) (string, error) {
	u, err := url.Parse(serverURL)
	if err != nil {
		return "", fmt.Errorf("parse server url: %w", err)
	}
	switch u.Scheme {
	case "https", "wss":
		u.Scheme = "wss"
	case "http", "ws":
		u.Scheme = "ws"
	default:
		return "", fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	u.Path = "/api/chats/stream"
	q := url.Values{}
	q.Set("userId", strconv.FormatInt(userID, 10))
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// New creates a channel for the given server and user. Call Open to
// start connecting.
func New(serverURL string, userID int64, opts Options, b *bus.Bus, logger *zap.Logger) (*Channel, error) {
	streamURL, err := StreamURL(serverURL, userID)
	if err != nil {
		return nil, err
	}
	if opts.BackoffMin <= 0 {
		opts.BackoffMin = time.Second
	}
	if opts.BackoffMax < opts.BackoffMin {
		opts.BackoffMax = 30 * time.Second
	}
	return &Channel{
		url:     streamURL,
		machine: NewMachine(b),
		logger:  logger,
		opts:    opts,
		dialer:  websocket.DefaultDialer,
		subs:    make(map[int]func(model.Event)),
	}, nil
}

// Status returns the current connection status.
func (c *Channel) Status() Status {
	return c.machine.Current()
}

// SubscribeStatus registers a synchronous listener for status
// transitions and returns an unsubscribe function.
func (c *Channel) SubscribeStatus(fn func(StatusChange)) func() {
	return c.machine.Subscribe(fn)
}

// Subscribe registers a listener for inbound events and returns an
// unsubscribe function.
func (c *Channel) Subscribe(fn func(model.Event)) func() {
	c.mu.Lock()
	id := c.nextSub
	c.nextSub++
	c.subs[id] = fn
	c.mu.Unlock()

	return func() {
		c.mu.Lock()
		delete(c.subs, id)
		c.mu.Unlock()
	}
}

// Open starts the connect loop. Safe to call once per channel.
func (c *Channel) Open() {
	if err := c.machine.Transition(Connecting); err != nil {
		c.logger.Warn("channel already open", zap.Error(err))
		return
	}
	go c.dial()
}

// Close tears the channel down and returns the status to Idle.
func (c *Channel) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	conn := c.conn
	c.conn = nil
	c.mu.Unlock()

	c.retry.Stop()
	if conn != nil {
		_ = conn.Close()
	}
	_ = c.machine.Transition(Idle)
	c.logger.Info("channel closed")
}

// Send publishes a local event best-effort. Typing is not
// delivery-guaranteed, so write failures are swallowed.
func (c *Channel) Send(evt model.Typing) {
	data, err := EncodeTyping(evt)
	if err != nil {
		return
	}

	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return
	}

	c.wmu.Lock()
	defer c.wmu.Unlock()
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		c.logger.Debug("typing send dropped", zap.Error(err))
	}
}

func (c *Channel) dial() {
	conn, resp, err := c.dialer.Dial(c.url, nil)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		if conn != nil {
			_ = conn.Close()
		}
		return
	}
	if err != nil {
		c.attempt++
		attempt := c.attempt
		c.mu.Unlock()
		c.logger.Warn("channel dial failed", zap.Error(err), zap.Int("attempt", attempt))
		_ = c.machine.Transition(Reconnecting)
		c.scheduleRetry(attempt)
		return
	}
	c.conn = conn
	c.attempt = 0
	c.mu.Unlock()

	_ = c.machine.Transition(Connected)
	c.logger.Info("channel connected")

	go c.readLoop(conn)
	go c.pingLoop(conn)
}

func (c *Channel) readLoop(conn *websocket.Conn) {
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			c.mu.Lock()
			closed := c.closed
			if c.conn == conn {
				c.conn = nil
			}
			c.attempt++
			attempt := c.attempt
			c.mu.Unlock()
			_ = conn.Close()
			if closed {
				return
			}
			c.logger.Warn("channel read failed", zap.Error(err))
			_ = c.machine.Transition(Reconnecting)
			c.scheduleRetry(attempt)
			return
		}

		evt, err := DecodeEvent(data)
		if err != nil {
			c.logger.Debug("dropping malformed event", zap.Error(err))
			continue
		}
		c.dispatch(evt)
	}
}

func (c *Channel) pingLoop(conn *websocket.Conn) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for range ticker.C {
		c.mu.Lock()
		current := c.conn
		c.mu.Unlock()
		if current != conn {
			return
		}
		c.wmu.Lock()
		err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
		c.wmu.Unlock()
		if err != nil {
			return
		}
	}
}

func (c *Channel) dispatch(evt model.Event) {
	c.mu.Lock()
	listeners := make([]func(model.Event), 0, len(c.subs))
	for _, fn := range c.subs {
		listeners = append(listeners, fn)
	}
	c.mu.Unlock()

	for _, fn := range listeners {
		fn(evt)
	}
}

func (c *Channel) scheduleRetry(attempt int) {
	delay := c.backoffDelay(attempt)
	c.logger.Info("channel reconnect scheduled", zap.Duration("delay", delay), zap.Int("attempt", attempt))
	c.retry.Schedule(delay, func() {
		c.mu.Lock()
		closed := c.closed
		c.mu.Unlock()
		if closed {
			return
		}
		_ = c.machine.Transition(Connecting)
		c.dial()
	})
}

// backoffDelay doubles per attempt up to the configured cap and applies
// jitter in [d/2, d) so reconnect storms do not synchronize.
func (c *Channel) backoffDelay(attempt int) time.Duration {
	d := c.opts.BackoffMin
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= c.opts.BackoffMax {
			d = c.opts.BackoffMax
			break
		}
	}
	half := d / 2
	if half <= 0 {
		return d
	}
	return half + time.Duration(rand.Int63n(int64(half)))
}
