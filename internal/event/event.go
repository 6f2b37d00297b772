package event

import "encoding/json"

// Event is what the server pushes to a connection.
type Event struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

// Envelope is what a client sends. Data is decoded by the handler for Type.
type Envelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// inbound
const (
	UserOnline   = "user-online"
	SendMessage  = "send-message"
	Typing       = "typing"
	MarkRead     = "mark-read"
	CallUser     = "call-user"
	AnswerCall   = "answer-call"
	RejectCall   = "reject-call"
	EndCall      = "end-call"
	IceCandidate = "ice-candidate"
)

// outbound
const (
	UserStatus     = "user-status"
	ReceiveMessage = "receive-message"
	MessageSent    = "message-sent"
	MessageError   = "message-error"
	MessagesRead   = "messages-read"
	UserTyping     = "user-typing"
	IncomingCall   = "incoming-call"
	CallAccepted   = "call-accepted"
	CallRejected   = "call-rejected"
	CallEnded      = "call-ended"
	CallFailed     = "call-failed"
	Error          = "error"
)

type Status struct {
	UserID string `json:"userId"`
	Online bool   `json:"online"`
}

type Failure struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Client payloads.

type AnnounceIdentity struct {
	UserID string `json:"userId"`
}

type SendMessagePayload struct {
	Receiver string `json:"receiver"`
	Text     string `json:"text"`
}

type TypingPayload struct {
	To string `json:"to"`
}

type MarkReadPayload struct {
	Peer string `json:"peer"`
}

type CallUserPayload struct {
	UserToCall string          `json:"userToCall"`
	Kind       string          `json:"kind"`
	SignalData json.RawMessage `json:"signalData"`
}

type AnswerCallPayload struct {
	To     string          `json:"to"`
	Signal json.RawMessage `json:"signal"`
}

type PeerPayload struct {
	To string `json:"to"`
}

type CandidatePayload struct {
	To        string          `json:"to"`
	Candidate json.RawMessage `json:"candidate"`
}
