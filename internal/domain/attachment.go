package domain

import (
	"io"
	"strings"
	"time"

	"github.com/google/uuid"
)

// UploadState tracks the client-side lifecycle of an attachment. Only
// UploadReady attachments exist in the authoritative store; the other two
// states live exclusively on optimistic local entries.
type UploadState string

const (
	UploadPending UploadState = "pending"
	Uploading     UploadState = "uploading"
	UploadReady   UploadState = "ready"
)

type Attachment struct {
	ID        uuid.UUID   `json:"id"`
	MessageID uuid.UUID   `json:"message_id"`
	State     UploadState `json:"-"`
	Path      string      `json:"path"`
	FileName  string      `json:"file_name"`
	MimeType  string      `json:"mime_type"`
	Size      int64       `json:"size"`
	CreatedAt time.Time   `json:"created_at"`
}

// Kind buckets the MIME type for preview labelling.
func (a *Attachment) Kind() string {
	switch {
	case strings.HasPrefix(a.MimeType, "image/"):
		return "image"
	case strings.HasPrefix(a.MimeType, "video/"):
		return "video"
	case strings.HasPrefix(a.MimeType, "audio/"):
		return "audio"
	default:
		return "file"
	}
}

// File is a binary pending upload, as handed over by the UI layer.
type File struct {
	Name        string
	ContentType string
	Size        int64
	Data        io.Reader
}
