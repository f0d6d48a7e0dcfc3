package domain

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Preview is the derived summary of the most recent activity in one
// conversation, keyed by partner id. It is never persisted.
type Preview struct {
	Text         string    `json:"text"`
	UpdatedAt    time.Time `json:"updated_at"`
	IsOwnMessage bool      `json:"is_own_message"`
}

func NewPreview(msg *Message, localUserID uuid.UUID) Preview {
	return Preview{
		Text:         previewText(msg),
		UpdatedAt:    msg.UpdatedAt,
		IsOwnMessage: msg.SenderID == localUserID,
	}
}

// previewText prefers the trimmed message text, then a short label for the
// attachment type, then a generic placeholder.
func previewText(msg *Message) string {
	if msg.Text != nil {
		if t := strings.TrimSpace(*msg.Text); t != "" {
			return t
		}
	}
	if msg.Attachment != nil {
		switch msg.Attachment.Kind() {
		case "image":
			return "Photo"
		case "video":
			return "Video"
		case "audio":
			return "Audio"
		default:
			return "File"
		}
	}
	return "New message"
}
