package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shravzzv/chatly/internal/domain"
)

const messageColumns = `
	m.id, m.text, m.sender_id, m.receiver_id, m.created_at, m.updated_at,
	a.id, a.path, a.file_name, a.mime_type, a.size, a.created_at`

const attachmentJoin = `LEFT JOIN message_attachments a ON a.message_id = m.id`

type MessageRepo struct {
	pool *pgxpool.Pool
}

func NewMessageRepo(pool *pgxpool.Pool) *MessageRepo {
	return &MessageRepo{pool: pool}
}

func (r *MessageRepo) ListBetween(ctx context.Context, userA, userB uuid.UUID) ([]domain.Message, error) {
	query := `
		SELECT ` + messageColumns + `
		FROM messages m ` + attachmentJoin + `
		WHERE (m.sender_id = $1 AND m.receiver_id = $2)
			OR (m.sender_id = $2 AND m.receiver_id = $1)
		ORDER BY m.created_at ASC`

	rows, err := r.pool.Query(ctx, query, userA, userB)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanMessages(rows)
}

func (r *MessageRepo) ListForUser(ctx context.Context, userID uuid.UUID) ([]domain.Message, error) {
	query := `
		SELECT ` + messageColumns + `
		FROM messages m ` + attachmentJoin + `
		WHERE m.sender_id = $1 OR m.receiver_id = $1
		ORDER BY m.updated_at DESC`

	rows, err := r.pool.Query(ctx, query, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanMessages(rows)
}

func (r *MessageRepo) LatestBetween(ctx context.Context, userA, userB uuid.UUID) (*domain.Message, error) {
	query := `
		SELECT ` + messageColumns + `
		FROM messages m ` + attachmentJoin + `
		WHERE (m.sender_id = $1 AND m.receiver_id = $2)
			OR (m.sender_id = $2 AND m.receiver_id = $1)
		ORDER BY m.updated_at DESC
		LIMIT 1`

	var msg domain.Message
	err := scanMessage(r.pool.QueryRow(ctx, query, userA, userB), &msg)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &msg, nil
}

func (r *MessageRepo) Create(ctx context.Context, text *string, senderID, receiverID uuid.UUID) (*domain.Message, error) {
	query := `
		INSERT INTO messages (text, sender_id, receiver_id)
		VALUES ($1, $2, $3)
		RETURNING id`
	var id uuid.UUID
	if err := r.pool.QueryRow(ctx, query, text, senderID, receiverID).Scan(&id); err != nil {
		return nil, err
	}
	return r.getByID(ctx, id)
}

func (r *MessageRepo) UpdateText(ctx context.Context, id uuid.UUID, text string) (*domain.Message, error) {
	query := `UPDATE messages SET text = $1, updated_at = now() WHERE id = $2`
	tag, err := r.pool.Exec(ctx, query, text, id)
	if err != nil {
		return nil, err
	}
	if tag.RowsAffected() == 0 {
		return nil, nil
	}
	return r.getByID(ctx, id)
}

// Delete removes the row; the attachment row goes with it via ON DELETE CASCADE.
func (r *MessageRepo) Delete(ctx context.Context, id uuid.UUID) error {
	_, err := r.pool.Exec(ctx, `DELETE FROM messages WHERE id = $1`, id)
	return err
}

func (r *MessageRepo) getByID(ctx context.Context, id uuid.UUID) (*domain.Message, error) {
	query := `
		SELECT ` + messageColumns + `
		FROM messages m ` + attachmentJoin + `
		WHERE m.id = $1`
	var msg domain.Message
	err := scanMessage(r.pool.QueryRow(ctx, query, id), &msg)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &msg, nil
}

func scanMessages(rows pgx.Rows) ([]domain.Message, error) {
	var messages []domain.Message
	for rows.Next() {
		var msg domain.Message
		if err := scanMessage(rows, &msg); err != nil {
			return nil, err
		}
		messages = append(messages, msg)
	}
	return messages, rows.Err()
}

func scanMessage(row pgx.Row, msg *domain.Message) error {
	var (
		attID      *uuid.UUID
		attPath    *string
		attName    *string
		attMime    *string
		attSize    *int64
		attCreated *time.Time
	)
	err := row.Scan(
		&msg.ID, &msg.Text, &msg.SenderID, &msg.ReceiverID, &msg.CreatedAt, &msg.UpdatedAt,
		&attID, &attPath, &attName, &attMime, &attSize, &attCreated,
	)
	if err != nil {
		return err
	}
	if attID != nil {
		msg.Attachment = &domain.Attachment{
			ID:        *attID,
			MessageID: msg.ID,
			State:     domain.UploadReady,
			Path:      *attPath,
			FileName:  *attName,
			MimeType:  *attMime,
			Size:      *attSize,
			CreatedAt: *attCreated,
		}
	}
	return nil
}
