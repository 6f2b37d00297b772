// Package signaling brokers the offer/answer exchange that sets up a
// peer-to-peer call. Payloads are routed as-is; media never passes through.
package signaling

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"rtcore/internal/apperr"
	"rtcore/internal/conversation"
	"rtcore/internal/event"
	"rtcore/internal/models"
	"rtcore/internal/presence"
)

type CallRecorder interface {
	RecordCall(ctx context.Context, rec *models.CallRecord) error
}

const (
	ReasonBusy        = "busy"
	ReasonUnreachable = "unreachable"
	ReasonInvalid     = "invalid"
)

type IncomingCall struct {
	From   string          `json:"from"`
	Kind   models.CallKind `json:"kind"`
	Signal json.RawMessage `json:"signal"`
}

type Answer struct {
	From   string          `json:"from"`
	Signal json.RawMessage `json:"signal"`
}

type PeerEvent struct {
	From string `json:"from"`
}

type CallFailed struct {
	To      string `json:"to"`
	Reason  string `json:"reason"`
	Message string `json:"message"`
}

type Candidate struct {
	From      string          `json:"from"`
	Candidate json.RawMessage `json:"candidate"`
}

// Coordinator holds every call attempt in flight, at most one per pair of
// users. A second attempt for a busy pair is refused.
type Coordinator struct {
	mu       sync.Mutex
	sessions map[conversation.ID]*Session

	registry *presence.Registry
	recorder CallRecorder
	now      func() time.Time
	log      zerolog.Logger
}

type Option func(*Coordinator)

func WithClock(now func() time.Time) Option {
	return func(c *Coordinator) { c.now = now }
}

func New(registry *presence.Registry, recorder CallRecorder, log zerolog.Logger, opts ...Option) *Coordinator {
	c := &Coordinator{
		sessions: map[conversation.ID]*Session{},
		registry: registry,
		recorder: recorder,
		now:      func() time.Time { return time.Now().UTC() },
		log:      log.With().Str("component", "signaling").Logger(),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Initiate relays caller's offer to callee. It fails without creating a
// session when callee is offline or the pair already has a call going.
func (c *Coordinator) Initiate(caller, callee string, kind models.CallKind, offer json.RawMessage) error {
	if kind == "" {
		kind = models.CallVideo
	}
	if !kind.Valid() {
		c.failed(caller, callee, ReasonInvalid, apperr.ErrInvalidCallKind)
		return apperr.ErrInvalidCallKind
	}
	if caller == callee {
		c.failed(caller, callee, ReasonInvalid, apperr.ErrSelfTarget)
		return apperr.ErrSelfTarget
	}

	c.mu.Lock()
	id := conversation.Resolve(caller, callee)
	if _, busy := c.sessions[id]; busy {
		c.mu.Unlock()
		c.failed(caller, callee, ReasonBusy, apperr.ErrBusy)
		return apperr.ErrBusy
	}

	s := newSession(caller, callee, kind, c.now())
	_ = s.transition(Calling)

	delivered := c.registry.Push(callee, event.Event{
		Type: event.IncomingCall,
		Data: IncomingCall{From: caller, Kind: kind, Signal: offer},
	})
	if !delivered {
		c.mu.Unlock()
		c.failed(caller, callee, ReasonUnreachable, apperr.ErrPeerUnreachable)
		return apperr.ErrPeerUnreachable
	}

	_ = s.transition(Ringing)
	c.sessions[id] = s
	c.mu.Unlock()

	c.log.Info().Str("caller", caller).Str("callee", callee).Str("kind", string(kind)).Msg("call ringing")
	return nil
}

// Accept relays callee's answer back to caller and starts the call clock.
func (c *Coordinator) Accept(callee, caller string, answer json.RawMessage) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	s, err := c.sessionFor(callee, caller)
	if err != nil {
		return err
	}
	if s.Callee != callee {
		return apperr.ErrInvalidTransition
	}
	if err := s.transition(Accepted); err != nil {
		return err
	}
	s.AcceptedAt = c.now()

	c.registry.Push(caller, event.Event{
		Type: event.CallAccepted,
		Data: Answer{From: callee, Signal: answer},
	})
	c.log.Info().Str("caller", caller).Str("callee", callee).Msg("call accepted")
	return nil
}

// Reject declines a ringing call.
func (c *Coordinator) Reject(ctx context.Context, callee, caller string) error {
	c.mu.Lock()
	s, err := c.sessionFor(callee, caller)
	if err == nil && s.Callee != callee {
		err = apperr.ErrInvalidTransition
	}
	if err == nil {
		err = s.transition(Rejected)
	}
	if err != nil {
		c.mu.Unlock()
		return err
	}
	rec := c.finish(s)
	c.registry.Push(caller, event.Event{Type: event.CallRejected, Data: PeerEvent{From: callee}})
	c.mu.Unlock()

	return c.persist(ctx, rec, callee)
}

// HangUp ends the call between user and peer from any non-terminal state.
func (c *Coordinator) HangUp(ctx context.Context, user, peer string) error {
	c.mu.Lock()
	s, err := c.sessionFor(user, peer)
	if err == nil {
		err = s.transition(Ended)
	}
	if err != nil {
		c.mu.Unlock()
		return err
	}
	rec := c.finish(s)
	c.registry.Push(peer, event.Event{Type: event.CallEnded, Data: PeerEvent{From: user}})
	c.mu.Unlock()

	return c.persist(ctx, rec, user)
}

// Disconnect hangs up every call user is part of. Each still gets a record.
func (c *Coordinator) Disconnect(ctx context.Context, user string) int {
	var recs []*models.CallRecord

	c.mu.Lock()
	for _, s := range c.sessions {
		peer, ok := s.Peer(user)
		if !ok {
			continue
		}
		if err := s.transition(Ended); err != nil {
			continue
		}
		recs = append(recs, c.finish(s))
		c.registry.Push(peer, event.Event{Type: event.CallEnded, Data: PeerEvent{From: user}})
	}
	c.mu.Unlock()

	for _, rec := range recs {
		_ = c.persist(ctx, rec, "")
	}
	if len(recs) > 0 {
		c.log.Info().Str("user", user).Int("calls", len(recs)).Msg("calls ended by disconnect")
	}
	return len(recs)
}

// Candidate forwards a connectivity candidate while the pair is ringing or
// talking.
func (c *Coordinator) Candidate(from, to string, candidate json.RawMessage) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	s, err := c.sessionFor(from, to)
	if err != nil {
		return err
	}
	if s.State != Ringing && s.State != Accepted {
		return apperr.ErrInvalidTransition
	}
	if !c.registry.Push(to, event.Event{
		Type: event.IceCandidate,
		Data: Candidate{From: from, Candidate: candidate},
	}) {
		return apperr.ErrPeerUnreachable
	}
	return nil
}

// Active returns copies of the sessions user is part of.
func (c *Coordinator) Active(user string) []Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []Session
	for _, s := range c.sessions {
		if _, ok := s.Peer(user); ok {
			out = append(out, *s)
		}
	}
	return out
}

// sessionFor must be called with c.mu held.
func (c *Coordinator) sessionFor(user, peer string) (*Session, error) {
	s, ok := c.sessions[conversation.Resolve(user, peer)]
	if !ok {
		return nil, apperr.ErrNoActiveCall
	}
	return s, nil
}

// finish must be called with c.mu held, after s reached a terminal state.
func (c *Coordinator) finish(s *Session) *models.CallRecord {
	delete(c.sessions, s.ID)
	rec := s.record(c.now())
	c.log.Info().
		Str("caller", rec.CallerID).
		Str("callee", rec.ReceiverID).
		Str("status", string(rec.Status)).
		Int("duration", rec.Duration).
		Msg("call finished")
	return rec
}

// persist files rec and tells notify about a failure. Runs without the lock.
func (c *Coordinator) persist(ctx context.Context, rec *models.CallRecord, notify string) error {
	err := c.recorder.RecordCall(ctx, rec)
	if err == nil {
		return nil
	}
	c.log.Error().Err(err).Str("caller", rec.CallerID).Str("callee", rec.ReceiverID).Msg("call record not stored")
	if notify != "" {
		c.registry.Push(notify, event.Event{
			Type: event.Error,
			Data: event.Failure{Code: string(apperr.CodeOf(err)), Message: apperr.MessageOf(err)},
		})
	}
	return err
}

func (c *Coordinator) failed(caller, callee, reason string, err error) {
	c.registry.Push(caller, event.Event{
		Type: event.CallFailed,
		Data: CallFailed{To: callee, Reason: reason, Message: apperr.MessageOf(err)},
	})
}
