package ws

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"

	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"rtcore/internal/apperr"
	"rtcore/internal/event"
	"rtcore/internal/models"
)

var errUnknownEvent = apperr.InvalidArg("unknown event type")

// Serve reads events from c until the socket closes, handling them one at a
// time so a sender's events keep their order.
func (h *Hub) Serve(ctx context.Context, c *Client) {
	defer h.Close(c)

	for {
		var env event.Envelope
		if err := wsjson.Read(ctx, c.conn, &env); err != nil {
			status := websocket.CloseStatus(err)
			if status != websocket.StatusNormalClosure && status != websocket.StatusGoingAway && ctx.Err() == nil {
				h.log.Debug().Err(err).Str("conn", c.id).Msg("read loop ended")
			}
			return
		}
		if err := h.Dispatch(ctx, c, env); err != nil {
			h.log.Debug().Err(err).Str("conn", c.id).Str("type", env.Type).Msg("event refused")
		}
	}
}

// Dispatch runs the single core operation env asks for. Failures the core
// did not already report to the client come back as an error event.
func (h *Hub) Dispatch(ctx context.Context, c *Client, env event.Envelope) error {
	// a send in flight finishes even if the socket drops
	ctx = context.WithoutCancel(ctx)

	err := h.dispatch(ctx, c, env)
	if err != nil && !reported(err) {
		c.Push(event.Event{
			Type: event.Error,
			Data: event.Failure{Code: string(apperr.CodeOf(err)), Message: apperr.MessageOf(err)},
		})
	}
	return err
}

func (h *Hub) dispatch(ctx context.Context, c *Client, env event.Envelope) error {
	if env.Type == event.UserOnline {
		user, err := decodeIdentity(env.Data)
		if err != nil {
			return err
		}
		return h.Announce(c, user)
	}

	user := c.User()
	if user == "" {
		return apperr.ErrNotAnnounced
	}

	switch env.Type {
	case event.SendMessage:
		var p event.SendMessagePayload
		if err := decode(env.Data, &p); err != nil {
			return err
		}
		_, err := h.relay.Send(ctx, c, user, p.Receiver, p.Text)
		return reportedErr(err)

	case event.Typing:
		var p event.TypingPayload
		if err := decode(env.Data, &p); err != nil {
			return err
		}
		h.relay.Typing(user, p.To)
		return nil

	case event.MarkRead:
		var p event.MarkReadPayload
		if err := decode(env.Data, &p); err != nil {
			return err
		}
		_, err := h.relay.MarkRead(ctx, c, user, p.Peer)
		return reportedErr(err)

	case event.CallUser:
		var p event.CallUserPayload
		if err := decode(env.Data, &p); err != nil {
			return err
		}
		return reportedErr(h.calls.Initiate(user, p.UserToCall, models.CallKind(p.Kind), p.SignalData))

	case event.AnswerCall:
		var p event.AnswerCallPayload
		if err := decode(env.Data, &p); err != nil {
			return err
		}
		return h.calls.Accept(user, p.To, p.Signal)

	case event.RejectCall:
		var p event.PeerPayload
		if err := decode(env.Data, &p); err != nil {
			return err
		}
		return controlErr(h.calls.Reject(ctx, user, p.To))

	case event.EndCall:
		var p event.PeerPayload
		if err := decode(env.Data, &p); err != nil {
			return err
		}
		return controlErr(h.calls.HangUp(ctx, user, p.To))

	case event.IceCandidate:
		var p event.CandidatePayload
		if err := decode(env.Data, &p); err != nil {
			return err
		}
		return h.calls.Candidate(user, p.To, p.Candidate)
	}
	return errUnknownEvent
}

// alreadyReported marks errors whose failure event has been pushed.
type alreadyReported struct{ error }

func (e alreadyReported) Unwrap() error { return e.error }

func reportedErr(err error) error {
	if err == nil {
		return nil
	}
	return alreadyReported{err}
}

// controlErr treats storage failures as reported, since the coordinator has
// already told the user about them.
func controlErr(err error) error {
	if err != nil && apperr.CodeOf(err) == apperr.CodeInternal {
		return reportedErr(err)
	}
	return err
}

func reported(err error) bool {
	var r alreadyReported
	return errors.As(err, &r)
}

func decode(raw json.RawMessage, v interface{}) error {
	if len(raw) == 0 {
		return apperr.InvalidArg("missing event payload")
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return apperr.Wrap(apperr.CodeInvalidArgument, "malformed event payload", err)
	}
	return nil
}

// decodeIdentity accepts either a bare string or {"userId": "..."}.
func decodeIdentity(raw json.RawMessage) (string, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) > 0 && raw[0] == '"' {
		var user string
		if err := json.Unmarshal(raw, &user); err != nil {
			return "", apperr.Wrap(apperr.CodeInvalidArgument, "malformed event payload", err)
		}
		return user, nil
	}
	var p event.AnnounceIdentity
	if err := decode(raw, &p); err != nil {
		return "", err
	}
	return p.UserID, nil
}
