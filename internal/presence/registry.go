// Package presence tracks which connection currently reaches each user.
package presence

import (
	"sort"
	"sync"

	"rtcore/internal/event"
)

// Conn is a live connection events can be pushed to.
type Conn interface {
	ID() string
	// Push queues ev without blocking. It reports false when the connection
	// is closed or cannot take more events.
	Push(ev event.Event) bool
}

// Notifier receives presence changes after the registry has applied them.
type Notifier func(status event.Status)

// Registry maps a user to the connection that was registered last for it.
// An earlier connection stays open but is no longer routed to.
type Registry struct {
	mu     sync.RWMutex
	byUser map[string]Conn
	byConn map[string]string

	// emitMu is taken before mu is released so notifications leave in the
	// order the mutations were applied.
	emitMu sync.Mutex
	notify Notifier
}

func NewRegistry(notify Notifier) *Registry {
	if notify == nil {
		notify = func(event.Status) {}
	}
	return &Registry{
		byUser: map[string]Conn{},
		byConn: map[string]string{},
		notify: notify,
	}
}

// Register binds user to c, replacing any earlier binding.
func (r *Registry) Register(user string, c Conn) {
	var dropped string
	r.mu.Lock()
	if prev, ok := r.byUser[user]; ok && prev.ID() != c.ID() {
		delete(r.byConn, prev.ID())
	}
	// a connection re-announcing as someone else drops its old binding
	if prevUser, ok := r.byConn[c.ID()]; ok && prevUser != user {
		if cur, ok := r.byUser[prevUser]; ok && cur.ID() == c.ID() {
			delete(r.byUser, prevUser)
			dropped = prevUser
		}
	}
	r.byUser[user] = c
	r.byConn[c.ID()] = user
	r.emitMu.Lock()
	r.mu.Unlock()
	defer r.emitMu.Unlock()

	if dropped != "" {
		r.notify(event.Status{UserID: dropped, Online: false})
	}
	r.notify(event.Status{UserID: user, Online: true})
}

// Unregister drops the binding held by c. It reports the user and true only
// when c was still the current connection for that user.
func (r *Registry) Unregister(c Conn) (string, bool) {
	r.mu.Lock()
	user, ok := r.byConn[c.ID()]
	if !ok {
		r.mu.Unlock()
		return "", false
	}
	delete(r.byConn, c.ID())
	cur, bound := r.byUser[user]
	if !bound || cur.ID() != c.ID() {
		r.mu.Unlock()
		return "", false
	}
	delete(r.byUser, user)
	r.emitMu.Lock()
	r.mu.Unlock()
	defer r.emitMu.Unlock()

	r.notify(event.Status{UserID: user, Online: false})
	return user, true
}

func (r *Registry) Lookup(user string) (Conn, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.byUser[user]
	return c, ok
}

func (r *Registry) Online(user string) bool {
	_, ok := r.Lookup(user)
	return ok
}

// UserOf returns the user c is currently bound as.
func (r *Registry) UserOf(c Conn) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	user, ok := r.byConn[c.ID()]
	return user, ok
}

// Users lists online users in sorted order.
func (r *Registry) Users() []string {
	r.mu.RLock()
	out := make([]string, 0, len(r.byUser))
	for u := range r.byUser {
		out = append(out, u)
	}
	r.mu.RUnlock()
	sort.Strings(out)
	return out
}

// Push delivers ev to user's current connection. The lookup happens at call
// time so a connection that went away since an earlier check is not used.
func (r *Registry) Push(user string, ev event.Event) bool {
	c, ok := r.Lookup(user)
	if !ok {
		return false
	}
	return c.Push(ev)
}
