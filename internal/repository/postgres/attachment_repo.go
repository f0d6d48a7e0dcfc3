package postgres

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shravzzv/chatly/internal/domain"
	"github.com/shravzzv/chatly/internal/repository"
)

type AttachmentRepo struct {
	pool *pgxpool.Pool
}

func NewAttachmentRepo(pool *pgxpool.Pool) *AttachmentRepo {
	return &AttachmentRepo{pool: pool}
}

func (r *AttachmentRepo) Create(ctx context.Context, rec *repository.AttachmentRecord) (*domain.Attachment, error) {
	query := `
		INSERT INTO message_attachments (message_id, path, file_name, mime_type, size)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at`
	att := domain.Attachment{
		MessageID: rec.MessageID,
		State:     domain.UploadReady,
		Path:      rec.Path,
		FileName:  rec.FileName,
		MimeType:  rec.MimeType,
		Size:      rec.Size,
	}
	err := r.pool.QueryRow(ctx, query,
		rec.MessageID, rec.Path, rec.FileName, rec.MimeType, rec.Size,
	).Scan(&att.ID, &att.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &att, nil
}
