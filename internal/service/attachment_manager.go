package service

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shravzzv/chatly/internal/domain"
	"github.com/shravzzv/chatly/internal/repository"
)

// AttachmentManager uploads attachment binaries and creates their metadata
// rows. It performs no cleanup on failure; the message send path owns the
// rollback policy because it also owns the message rollback.
type AttachmentManager struct {
	gateway repository.AttachmentGateway
	blobs   repository.BlobStore
	logger  zerolog.Logger
}

func NewAttachmentManager(gateway repository.AttachmentGateway, blobs repository.BlobStore, logger zerolog.Logger) *AttachmentManager {
	return &AttachmentManager{
		gateway: gateway,
		blobs:   blobs,
		logger:  logger,
	}
}

// Create uploads the blob under a key scoped to the message id, then inserts
// the metadata record. When the insert fails after a successful upload, the
// returned attachment carries the uploaded path (state Uploading) alongside
// the error so the caller can release the blob.
func (m *AttachmentManager) Create(ctx context.Context, messageID uuid.UUID, file *domain.File) (*domain.Attachment, error) {
	key := fmt.Sprintf("chat/%s/%s%s", messageID, uuid.New(), strings.ToLower(filepath.Ext(file.Name)))

	if err := m.blobs.Upload(ctx, key, file.Data, file.Size, file.ContentType); err != nil {
		return nil, fmt.Errorf("uploading blob: %w", err)
	}

	att, err := m.gateway.Create(ctx, &repository.AttachmentRecord{
		MessageID: messageID,
		Path:      key,
		FileName:  file.Name,
		MimeType:  file.ContentType,
		Size:      file.Size,
	})
	if err != nil {
		partial := &domain.Attachment{
			MessageID: messageID,
			State:     domain.Uploading,
			Path:      key,
			FileName:  file.Name,
			MimeType:  file.ContentType,
			Size:      file.Size,
		}
		return partial, fmt.Errorf("creating attachment record: %w", err)
	}
	return att, nil
}

// DeleteBlob removes only the storage object; the metadata row is removed by
// the database cascade when its parent message is deleted. Best-effort.
func (m *AttachmentManager) DeleteBlob(ctx context.Context, att *domain.Attachment) {
	if att == nil || att.Path == "" {
		return
	}
	if err := m.blobs.Delete(ctx, att.Path); err != nil {
		m.logger.Warn().Err(err).Str("path", att.Path).Msg("failed to delete attachment blob")
	}
}
