package models

import "time"

type Message struct {
	ID             uint      `gorm:"primaryKey" json:"id"`
	ConversationID string    `gorm:"size:191;not null;index:idx_messages_conv_created,priority:1" json:"conversationId"`
	SenderID       string    `gorm:"size:64;index;not null" json:"sender"`
	ReceiverID     string    `gorm:"size:64;index:idx_messages_receiver_read,priority:1;not null" json:"receiver"`
	Text           string    `gorm:"type:text;not null" json:"text"`
	Read           bool      `gorm:"column:is_read;not null;default:false;index:idx_messages_receiver_read,priority:2" json:"read"`
	CreatedAt      time.Time `gorm:"index:idx_messages_conv_created,priority:2" json:"createdAt"`
	UpdatedAt      time.Time `json:"updatedAt"`
}

type CallKind string

const (
	CallVoice CallKind = "voice"
	CallVideo CallKind = "video"
)

func (k CallKind) Valid() bool {
	return k == CallVoice || k == CallVideo
}

type CallStatus string

const (
	CallCompleted CallStatus = "completed"
	CallMissed    CallStatus = "missed"
	CallRejected  CallStatus = "rejected"
)

func (s CallStatus) Valid() bool {
	return s == CallCompleted || s == CallMissed || s == CallRejected
}

type CallRecord struct {
	ID         uint       `gorm:"primaryKey" json:"id"`
	CallerID   string     `gorm:"size:64;index;not null" json:"caller"`
	ReceiverID string     `gorm:"size:64;index;not null" json:"receiver"`
	Kind       CallKind   `gorm:"size:10;not null;default:video" json:"type"`
	Status     CallStatus `gorm:"size:16;not null" json:"status"`
	Duration   int        `gorm:"not null;default:0" json:"duration"` // seconds
	StartedAt  time.Time  `json:"startedAt"`
	EndedAt    time.Time  `json:"endedAt"`
	CreatedAt  time.Time  `gorm:"index" json:"createdAt"`
}
