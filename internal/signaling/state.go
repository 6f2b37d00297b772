package signaling

import (
	"time"

	"rtcore/internal/apperr"
	"rtcore/internal/conversation"
	"rtcore/internal/models"
)

type State int

const (
	Idle State = iota
	Calling
	Ringing
	Accepted
	Rejected
	Ended
)

var stateNames = map[State]string{
	Idle:     "idle",
	Calling:  "calling",
	Ringing:  "ringing",
	Accepted: "accepted",
	Rejected: "rejected",
	Ended:    "ended",
}

func (s State) String() string {
	if n, ok := stateNames[s]; ok {
		return n
	}
	return "unknown"
}

// Terminal states end the attempt. Accepted is terminal for the handshake
// but the session lives on until someone hangs up.
func (s State) Terminal() bool {
	return s == Rejected || s == Ended
}

// transitions lists every move a session may make. Anything else is refused.
var transitions = map[State][]State{
	Idle:     {Calling},
	Calling:  {Ringing, Ended},
	Ringing:  {Accepted, Rejected, Ended},
	Accepted: {Ended},
}

func canTransition(from, to State) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Session is one call attempt between two users.
type Session struct {
	ID         conversation.ID
	Caller     string
	Callee     string
	Kind       models.CallKind
	State      State
	StartedAt  time.Time
	AcceptedAt time.Time

	// set once the session reaches Rejected or Ended
	from State
}

func newSession(caller, callee string, kind models.CallKind, now time.Time) *Session {
	return &Session{
		ID:        conversation.Resolve(caller, callee),
		Caller:    caller,
		Callee:    callee,
		Kind:      kind,
		State:     Idle,
		StartedAt: now,
	}
}

func (s *Session) transition(to State) error {
	if !canTransition(s.State, to) {
		return apperr.ErrInvalidTransition
	}
	s.from = s.State
	s.State = to
	return nil
}

// Peer returns the other participant, or false if user is not in the call.
func (s *Session) Peer(user string) (string, bool) {
	switch user {
	case s.Caller:
		return s.Callee, true
	case s.Callee:
		return s.Caller, true
	}
	return "", false
}

// Status derives how a finished attempt is filed.
func (s *Session) Status() models.CallStatus {
	switch {
	case s.State == Rejected:
		return models.CallRejected
	case s.State == Ended && s.from == Accepted:
		return models.CallCompleted
	default:
		return models.CallMissed
	}
}

// Duration counts whole seconds since the callee answered.
func (s *Session) Duration(endedAt time.Time) int {
	if s.AcceptedAt.IsZero() || endedAt.Before(s.AcceptedAt) {
		return 0
	}
	return int(endedAt.Sub(s.AcceptedAt) / time.Second)
}

func (s *Session) record(endedAt time.Time) *models.CallRecord {
	started := s.StartedAt
	if !s.AcceptedAt.IsZero() {
		started = s.AcceptedAt
	}
	return &models.CallRecord{
		CallerID:   s.Caller,
		ReceiverID: s.Callee,
		Kind:       s.Kind,
		Status:     s.Status(),
		Duration:   s.Duration(endedAt),
		StartedAt:  started,
		EndedAt:    endedAt,
	}
}
