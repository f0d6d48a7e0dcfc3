package domain

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

type Message struct {
	ID         uuid.UUID `json:"id"`
	Text       *string   `json:"text,omitempty"`
	SenderID   uuid.UUID `json:"sender_id"`
	ReceiverID uuid.UUID `json:"receiver_id"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
	// Joined field, at most one attachment per message
	Attachment *Attachment `json:"attachment,omitempty"`
}

// PartnerOf returns the other participant of the conversation this message
// belongs to, relative to localUserID. A self-chat collapses to the user's
// own id.
func (m *Message) PartnerOf(localUserID uuid.UUID) uuid.UUID {
	if m.SenderID == localUserID {
		return m.ReceiverID
	}
	return m.SenderID
}

// Renderable reports whether the message carries any content. The sender
// enforces text-or-attachment; this is a render-time fallback only.
func (m *Message) Renderable() bool {
	if m.Text != nil && strings.TrimSpace(*m.Text) != "" {
		return true
	}
	return m.Attachment != nil
}
