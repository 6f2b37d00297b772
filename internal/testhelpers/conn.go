package testhelpers

import (
	"encoding/json"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"rtcore/internal/event"
)

// Conn records pushed events in memory.
type Conn struct {
	id string

	mu     sync.Mutex
	events []event.Event
	closed bool
}

func NewConn(id string) *Conn {
	return &Conn{id: id}
}

func (c *Conn) ID() string { return c.id }

func (c *Conn) Push(ev event.Event) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	c.events = append(c.events, ev)
	return true
}

// Close makes later pushes fail, as a dropped socket would.
func (c *Conn) Close() {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
}

func (c *Conn) Events() []event.Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]event.Event, len(c.events))
	copy(out, c.events)
	return out
}

// Types lists the type of every recorded event in order.
func (c *Conn) Types() []string {
	evs := c.Events()
	out := make([]string, 0, len(evs))
	for _, ev := range evs {
		out = append(out, ev.Type)
	}
	return out
}

// Last returns the most recent event of type typ.
func (c *Conn) Last(t testing.TB, typ string) event.Event {
	t.Helper()
	evs := c.Events()
	for i := len(evs) - 1; i >= 0; i-- {
		if evs[i].Type == typ {
			return evs[i]
		}
	}
	require.Failf(t, "event not pushed", "no %q event among %v", typ, c.Types())
	return event.Event{}
}

// Decode round-trips ev.Data through JSON into out, the way a client sees it.
func Decode(t testing.TB, ev event.Event, out interface{}) {
	t.Helper()
	raw, err := json.Marshal(ev.Data)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(raw, out))
}

func (c *Conn) Reset() {
	c.mu.Lock()
	c.events = nil
	c.mu.Unlock()
}
