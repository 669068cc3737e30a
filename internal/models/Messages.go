package models

import (
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
)

// GlobalRoom is the recipient sentinel for the shared broadcast channel.
const GlobalRoom = "global"

// DisplayTimeLayout is the short clock format rendered next to each message.
const DisplayTimeLayout = "15:04"

type MessageKind string

const (
	KindText  MessageKind = "text"
	KindImage MessageKind = "image"
	KindVideo MessageKind = "video"
	KindFile  MessageKind = "file"
)

var (
	ErrInvalidKind       = errors.New("invalid message kind")
	ErrMissingAttachment = errors.New("attachment required for non-text message")
	ErrEmptyMessage      = errors.New("message has neither body nor attachment")
)

// ParseKind maps a wire value onto a MessageKind. Empty means text.
func ParseKind(s string) (MessageKind, error) {
	switch MessageKind(strings.ToLower(strings.TrimSpace(s))) {
	case "", KindText:
		return KindText, nil
	case KindImage:
		return KindImage, nil
	case KindVideo:
		return KindVideo, nil
	case KindFile:
		return KindFile, nil
	}
	return "", ErrInvalidKind
}

type Attachment struct {
	URL          string `json:"url"`
	OriginalName string `json:"originalName,omitempty"`
}

type Message struct {
	ID           uuid.UUID   `json:"id"`
	Conversation string      `json:"conversation"`
	Sender       string      `json:"sender"`
	SenderName   string      `json:"senderName"`
	Recipient    string      `json:"recipient"`
	Role         Role        `json:"role"`
	Body         string      `json:"body"`
	Kind         MessageKind `json:"kind"`
	Attachment   *Attachment `json:"attachment,omitempty"`
	SentAt       time.Time   `json:"sentAt"`
	Read         bool        `json:"read"`
}

func (m *Message) IsGlobal() bool {
	return m.Recipient == GlobalRoom
}

// Validate checks the kind/attachment/body combination before a message is
// handed to a store.
func (m *Message) Validate() error {
	if m.Kind == "" {
		m.Kind = KindText
	}
	if _, err := ParseKind(string(m.Kind)); err != nil {
		return err
	}
	if m.Attachment != nil && strings.TrimSpace(m.Attachment.URL) == "" {
		m.Attachment = nil
	}
	if m.Kind != KindText && m.Attachment == nil {
		return ErrMissingAttachment
	}
	if m.Kind == KindText && m.Body == "" && m.Attachment == nil {
		return ErrEmptyMessage
	}
	return nil
}

// ConversationKey groups messages into threads. Private keys are built from
// the sorted pair so both directions resolve to the same thread.
func ConversationKey(sender, recipient string) string {
	if recipient == GlobalRoom {
		return GlobalRoom
	}
	a, b := sender, recipient
	if b < a {
		a, b = b, a
	}
	return "dm:" + a + "\x1f" + b
}
