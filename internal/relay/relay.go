// Package relay delivers direct messages and typing signals between users.
package relay

import (
	"context"

	"github.com/rs/zerolog"

	"rtcore/internal/apperr"
	"rtcore/internal/conversation"
	"rtcore/internal/event"
	"rtcore/internal/models"
	"rtcore/internal/presence"
)

type MessageStore interface {
	Persist(ctx context.Context, msg *models.Message) error
	MarkRead(ctx context.Context, id conversation.ID, recipient string) (int64, error)
}

type Typing struct {
	From string `json:"from"`
	To   string `json:"to"`
}

type ReadReceipt struct {
	ConversationID conversation.ID `json:"conversationId"`
	By             string          `json:"by"`
	Count          int64           `json:"count"`
}

type Relay struct {
	store    MessageStore
	registry *presence.Registry
	log      zerolog.Logger
}

func New(store MessageStore, registry *presence.Registry, log zerolog.Logger) *Relay {
	return &Relay{
		store:    store,
		registry: registry,
		log:      log.With().Str("component", "relay").Logger(),
	}
}

// Send stores the message and then pushes it to the receiver, if online, and
// back to origin as confirmation. A receiver that is offline finds the message
// in its history later; nothing is queued for redelivery.
func (r *Relay) Send(ctx context.Context, origin presence.Conn, sender, receiver, text string) (*models.Message, error) {
	if sender == receiver {
		r.fail(origin, apperr.ErrSelfTarget)
		return nil, apperr.ErrSelfTarget
	}

	msg := &models.Message{
		SenderID:       sender,
		ReceiverID:     receiver,
		Text:           text,
		ConversationID: conversation.Resolve(sender, receiver).String(),
	}
	if err := r.store.Persist(ctx, msg); err != nil {
		r.log.Warn().Err(err).Str("sender", sender).Str("receiver", receiver).Msg("message not stored")
		r.fail(origin, err)
		return nil, err
	}

	// the receiver may have gone away while the write was in flight
	delivered := r.registry.Push(receiver, event.Event{Type: event.ReceiveMessage, Data: msg})
	if origin != nil {
		origin.Push(event.Event{Type: event.MessageSent, Data: msg})
	}

	r.log.Debug().
		Uint("id", msg.ID).
		Str("conversation", msg.ConversationID).
		Bool("delivered", delivered).
		Msg("message relayed")
	return msg, nil
}

// Typing is best effort and dropped when to is offline.
func (r *Relay) Typing(from, to string) bool {
	if from == to {
		return false
	}
	return r.registry.Push(to, event.Event{Type: event.UserTyping, Data: Typing{From: from, To: to}})
}

// MarkRead flags reader's side of the conversation with peer as read and lets
// peer know.
func (r *Relay) MarkRead(ctx context.Context, origin presence.Conn, reader, peer string) (int64, error) {
	id := conversation.Resolve(reader, peer)
	n, err := r.store.MarkRead(ctx, id, reader)
	if err != nil {
		r.log.Warn().Err(err).Str("conversation", id.String()).Msg("mark read failed")
		r.fail(origin, err)
		return 0, err
	}
	if n > 0 {
		r.registry.Push(peer, event.Event{
			Type: event.MessagesRead,
			Data: ReadReceipt{ConversationID: id, By: reader, Count: n},
		})
	}
	return n, nil
}

func (r *Relay) fail(origin presence.Conn, err error) {
	if origin == nil {
		return
	}
	origin.Push(event.Event{
		Type: event.MessageError,
		Data: event.Failure{Code: string(apperr.CodeOf(err)), Message: apperr.MessageOf(err)},
	})
}
