package ws

import (
	"context"
	"sync"
	"time"

	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"rtcore/internal/event"
)

const writeTimeout = 10 * time.Second

// Client is one websocket connection. It starts unbound and is routed to
// only after it announces the identity its token was issued for.
type Client struct {
	id       string
	verified string
	conn     *websocket.Conn
	send     chan event.Event

	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	user   string
	closed bool
}

func newClient(id, verified string, conn *websocket.Conn, buffer int) *Client {
	ctx, cancel := context.WithCancel(context.Background())
	return &Client{
		id:       id,
		verified: verified,
		conn:     conn,
		send:     make(chan event.Event, buffer),
		ctx:      ctx,
		cancel:   cancel,
	}
}

func (c *Client) ID() string { return c.id }

// User is the identity this connection announced, or "" before that.
func (c *Client) User() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.user
}

// bind records user as the announced identity. It reports false once the
// client is closed.
func (c *Client) bind(user string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	c.user = user
	return true
}

func (c *Client) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// Push queues ev for the write loop. A full buffer drops the event.
func (c *Client) Push(ev event.Event) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	select {
	case c.send <- ev:
		return true
	default:
		return false
	}
}

// shutdown stops the loops and refuses further pushes. It reports whether
// this call did the work.
func (c *Client) shutdown() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	c.closed = true
	c.cancel()
	return true
}

func (c *Client) Done() <-chan struct{} { return c.ctx.Done() }

func (c *Client) writeLoop() {
	for {
		select {
		case <-c.ctx.Done():
			return
		case ev := <-c.send:
			writeCtx, cancel := context.WithTimeout(c.ctx, writeTimeout)
			err := wsjson.Write(writeCtx, c.conn, ev)
			cancel()
			if err != nil {
				// the read loop sees the closed socket and runs the hub's Close
				_ = c.conn.Close(websocket.StatusInternalError, "write failed")
				return
			}
		}
	}
}

func (c *Client) keepAliveLoop(interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-c.ctx.Done():
			return
		case <-ticker.C:
			pingCtx, cancel := context.WithTimeout(c.ctx, 5*time.Second)
			err := c.conn.Ping(pingCtx)
			cancel()
			if err != nil && c.ctx.Err() == nil {
				_ = c.conn.Close(websocket.StatusGoingAway, "ping timeout")
				return
			}
		}
	}
}
