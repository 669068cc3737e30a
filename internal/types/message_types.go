package types

import (
	"encoding/json"
	"time"

	"foodshare-chat/internal/models"
)

type EventType string

const (
	EventChatMessage    EventType = "chat_message"
	EventPrivateMessage EventType = "private_message"
	EventTyping         EventType = "typing"
	EventStopTyping     EventType = "stop_typing"
	EventMarkRead       EventType = "mark_read"
	EventMessageRead    EventType = "message_read"
	EventOnlineUsers    EventType = "online_users"
	EventSystem         EventType = "system"
)

// Envelope is one event on the socket in either direction.
type Envelope struct {
	Type    EventType       `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

func NewEnvelope(t EventType, payload any) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Envelope{Type: t, Payload: raw})
}

// Client -> server commands.

type GlobalMessageCommand struct {
	SenderIdentity string             `json:"senderIdentity"`
	Role           string             `json:"role,omitempty"`
	Body           string             `json:"body"`
	Kind           string             `json:"kind,omitempty"`
	Attachment     *models.Attachment `json:"attachment,omitempty"`
	ClientRef      string             `json:"clientRef,omitempty"`
	// Timestamp is accepted for compatibility and never used.
	Timestamp string `json:"timestamp,omitempty"`
}

type PrivateMessageCommand struct {
	From       string             `json:"from"`
	To         string             `json:"to"`
	Role       string             `json:"role,omitempty"`
	Body       string             `json:"body"`
	Kind       string             `json:"kind,omitempty"`
	Attachment *models.Attachment `json:"attachment,omitempty"`
	ClientRef  string             `json:"clientRef,omitempty"`
	Timestamp  string             `json:"timestamp,omitempty"`
}

// TypingEvent travels both ways; To is only set client -> server.
type TypingEvent struct {
	From      string `json:"from"`
	To        string `json:"to,omitempty"`
	IsPrivate bool   `json:"isPrivate"`
}

type MarkReadCommand struct {
	MessageID      string `json:"messageId"`
	ReaderIdentity string `json:"readerIdentity"`
	SenderIdentity string `json:"senderIdentity,omitempty"`
}

// Server -> client payloads.

type ReadReceipt struct {
	MessageID      string `json:"messageId"`
	ReaderIdentity string `json:"readerIdentity"`
}

type SystemNotice struct {
	Content string `json:"content"`
}

// MessageView is the rendered form of a stored message, shared by the live
// channel and the history endpoint.
type MessageView struct {
	ID             string             `json:"id"`
	Sender         string             `json:"sender"`
	SenderName     string             `json:"senderName"`
	Recipient      string             `json:"recipient"`
	Role           models.Role        `json:"role"`
	Body           string             `json:"body"`
	Kind           models.MessageKind `json:"kind"`
	Attachment     *models.Attachment `json:"attachment,omitempty"`
	SentAt         time.Time          `json:"sentAt"`
	Timestamp      string             `json:"timestamp"`
	Read           bool               `json:"read"`
	IsPrivate      bool               `json:"isPrivate"`
	OtherUser      string             `json:"otherUser,omitempty"`
	ConversationID string             `json:"conversationId,omitempty"`
	ClientRef      string             `json:"clientRef,omitempty"`
}

// NewMessageView renders m for viewer. viewer may be empty for global messages.
func NewMessageView(m *models.Message, viewer string) MessageView {
	v := MessageView{
		ID:         m.ID.String(),
		Sender:     m.Sender,
		SenderName: m.SenderName,
		Recipient:  m.Recipient,
		Role:       m.Role,
		Body:       m.Body,
		Kind:       m.Kind,
		Attachment: m.Attachment,
		SentAt:     m.SentAt,
		Timestamp:  m.SentAt.Local().Format(models.DisplayTimeLayout),
		Read:       m.Read,
		IsPrivate:  !m.IsGlobal(),
	}
	if v.IsPrivate {
		if viewer == m.Sender {
			v.OtherUser = m.Recipient
		} else {
			v.OtherUser = m.Sender
		}
	}
	return v
}
