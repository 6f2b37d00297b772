package ws

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"nhooyr.io/websocket"

	"rtcore/internal/apperr"
	"rtcore/internal/event"
	"rtcore/internal/presence"
	"rtcore/internal/relay"
	"rtcore/internal/signaling"
)

const disconnectTimeout = 10 * time.Second

type Options struct {
	SendBuffer   int
	PingInterval time.Duration
}

// Hub owns every live connection. It binds connections to users in the
// presence registry and unwinds calls when a connection goes away.
type Hub struct {
	mu      sync.RWMutex
	clients map[*Client]struct{}

	registry *presence.Registry
	relay    *relay.Relay
	calls    *signaling.Coordinator

	opts Options
	log  zerolog.Logger
}

// NewHub wires the relay and call coordinator to a fresh registry whose
// presence changes are broadcast to every connection.
func NewHub(messages relay.MessageStore, calls signaling.CallRecorder, log zerolog.Logger, opts Options) *Hub {
	if opts.SendBuffer <= 0 {
		opts.SendBuffer = 64
	}
	h := &Hub{
		clients: map[*Client]struct{}{},
		opts:    opts,
		log:     log.With().Str("component", "hub").Logger(),
	}
	h.registry = presence.NewRegistry(h.broadcastStatus)
	h.relay = relay.New(messages, h.registry, log)
	h.calls = signaling.New(h.registry, calls, log)
	return h
}

func (h *Hub) Registry() *presence.Registry { return h.registry }

func (h *Hub) Relay() *relay.Relay { return h.relay }

func (h *Hub) Calls() *signaling.Coordinator { return h.calls }

// Open registers a freshly accepted socket as an unbound client and starts
// its write and keep-alive loops.
func (h *Hub) Open(conn *websocket.Conn, verified string) *Client {
	c := newClient(uuid.NewString(), verified, conn, h.opts.SendBuffer)
	h.attach(c)

	go c.writeLoop()
	go c.keepAliveLoop(h.opts.PingInterval)

	h.log.Debug().Str("conn", c.id).Str("verified", verified).Msg("connection opened")
	return c
}

func (h *Hub) attach(c *Client) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
}

// Announce binds c to user. Only the identity the token was issued for may
// be announced.
func (h *Hub) Announce(c *Client, user string) error {
	if user == "" || user != c.verified {
		return apperr.ErrIdentityMismatch
	}
	if !c.bind(user) {
		return apperr.ErrConnectionClosed
	}
	h.registry.Register(user, c)
	// Close may have run between bind and Register and missed the binding
	if c.isClosed() {
		h.release(c)
		return apperr.ErrConnectionClosed
	}
	h.log.Info().Str("conn", c.id).Str("user", user).Msg("user online")
	return nil
}

// Close tears down c. Calls are ended only when c was still the connection
// the user is reached on; a superseded connection closing leaves them alone.
func (h *Hub) Close(c *Client) {
	if !c.shutdown() {
		return
	}

	h.mu.Lock()
	delete(h.clients, c)
	h.mu.Unlock()

	h.release(c)

	if c.conn != nil {
		_ = c.conn.Close(websocket.StatusNormalClosure, "bye")
	}
}

// release drops c's binding and, if it was current, ends the user's calls.
func (h *Hub) release(c *Client) {
	user, ok := h.registry.Unregister(c)
	if !ok {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), disconnectTimeout)
	h.calls.Disconnect(ctx, user)
	cancel()
	h.log.Info().Str("conn", c.id).Str("user", user).Msg("user offline")
}

// Broadcast pushes ev to every open connection, bound or not.
func (h *Hub) Broadcast(ev event.Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		c.Push(ev)
	}
}

func (h *Hub) broadcastStatus(s event.Status) {
	h.Broadcast(event.Event{Type: event.UserStatus, Data: s})
}

// Shutdown closes every connection. Active calls end as if each user
// disconnected.
func (h *Hub) Shutdown() {
	h.mu.RLock()
	clients := make([]*Client, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.RUnlock()

	for _, c := range clients {
		h.Close(c)
	}
}

// Count returns the number of open connections.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
