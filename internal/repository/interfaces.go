package repository

import (
	"context"
	"io"

	"github.com/google/uuid"
	"github.com/shravzzv/chatly/internal/domain"
)

// MessageGateway is the authoritative remote store for message rows.
// Implementations return (nil, nil) when a single row is not found.
type MessageGateway interface {
	// ListBetween returns every message exchanged between the two users,
	// ordered by creation time ascending, each enriched with at most one
	// attachment.
	ListBetween(ctx context.Context, userA, userB uuid.UUID) ([]domain.Message, error)
	// ListForUser returns every message the user sent or received, ordered
	// by updated_at descending, attachment enriched.
	ListForUser(ctx context.Context, userID uuid.UUID) ([]domain.Message, error)
	// LatestBetween returns the single most recently updated message between
	// the two users, or nil when the conversation is empty.
	LatestBetween(ctx context.Context, userA, userB uuid.UUID) (*domain.Message, error)
	Create(ctx context.Context, text *string, senderID, receiverID uuid.UUID) (*domain.Message, error)
	UpdateText(ctx context.Context, id uuid.UUID, text string) (*domain.Message, error)
	Delete(ctx context.Context, id uuid.UUID) error
}

// AttachmentRecord is the metadata inserted after a successful blob upload.
type AttachmentRecord struct {
	MessageID uuid.UUID
	Path      string
	FileName  string
	MimeType  string
	Size      int64
}

type AttachmentGateway interface {
	Create(ctx context.Context, rec *AttachmentRecord) (*domain.Attachment, error)
}

// BlobStore holds attachment binaries. Metadata rows are not its concern.
type BlobStore interface {
	Upload(ctx context.Context, path string, body io.Reader, size int64, contentType string) error
	Delete(ctx context.Context, path string) error
}

// UsageLimiter is the external quota collaborator. CheckAndIncrement rejects
// with a recognizable error when the daily limit for the kind is exceeded or
// the plan forbids the feature.
type UsageLimiter interface {
	CheckAndIncrement(ctx context.Context, userID uuid.UUID, kind string) error
}
