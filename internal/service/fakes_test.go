package service

import (
	"context"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shravzzv/chatly/internal/domain"
	"github.com/shravzzv/chatly/internal/repository"
)

var (
	testUser    = uuid.MustParse("11111111-1111-1111-1111-111111111111")
	testPartner = uuid.MustParse("22222222-2222-2222-2222-222222222222")
	testOther   = uuid.MustParse("33333333-3333-3333-3333-333333333333")

	baseTime = time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
)

func textPtr(s string) *string { return &s }

func textMessage(id uuid.UUID, text string, sender, receiver uuid.UUID, at time.Time) domain.Message {
	return domain.Message{
		ID:         id,
		Text:       textPtr(text),
		SenderID:   sender,
		ReceiverID: receiver,
		CreatedAt:  at,
		UpdatedAt:  at,
	}
}

type fakeGateway struct {
	mu sync.Mutex

	listBetween map[uuid.UUID][]domain.Message
	gates       map[uuid.UUID]chan struct{}
	listForUser []domain.Message
	latest      *domain.Message

	createResult *domain.Message
	updateResult *domain.Message

	failList   error
	failCreate error
	failUpdate error
	failDelete error
	failLatest error

	created     []domain.Message
	deleted     []uuid.UUID
	latestCalls int
}

func (g *fakeGateway) ListBetween(ctx context.Context, userA, userB uuid.UUID) ([]domain.Message, error) {
	g.mu.Lock()
	gate := g.gates[userB]
	g.mu.Unlock()
	if gate != nil {
		<-gate
	}
	if g.failList != nil {
		return nil, g.failList
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	msgs := make([]domain.Message, len(g.listBetween[userB]))
	copy(msgs, g.listBetween[userB])
	return msgs, nil
}

func (g *fakeGateway) ListForUser(ctx context.Context, userID uuid.UUID) ([]domain.Message, error) {
	if g.failList != nil {
		return nil, g.failList
	}
	return g.listForUser, nil
}

func (g *fakeGateway) LatestBetween(ctx context.Context, userA, userB uuid.UUID) (*domain.Message, error) {
	g.mu.Lock()
	g.latestCalls++
	g.mu.Unlock()
	if g.failLatest != nil {
		return nil, g.failLatest
	}
	if g.latest == nil {
		return nil, nil
	}
	msg := *g.latest
	return &msg, nil
}

func (g *fakeGateway) Create(ctx context.Context, text *string, senderID, receiverID uuid.UUID) (*domain.Message, error) {
	if g.failCreate != nil {
		return nil, g.failCreate
	}
	var msg domain.Message
	if g.createResult != nil {
		msg = *g.createResult
	} else {
		now := time.Now()
		msg = domain.Message{
			ID:         uuid.New(),
			Text:       text,
			SenderID:   senderID,
			ReceiverID: receiverID,
			CreatedAt:  now,
			UpdatedAt:  now,
		}
	}
	g.mu.Lock()
	g.created = append(g.created, msg)
	g.mu.Unlock()
	return &msg, nil
}

func (g *fakeGateway) UpdateText(ctx context.Context, id uuid.UUID, text string) (*domain.Message, error) {
	if g.failUpdate != nil {
		return nil, g.failUpdate
	}
	if g.updateResult != nil {
		msg := *g.updateResult
		return &msg, nil
	}
	now := time.Now()
	return &domain.Message{ID: id, Text: textPtr(text), SenderID: testUser, ReceiverID: testPartner, CreatedAt: baseTime, UpdatedAt: now}, nil
}

func (g *fakeGateway) Delete(ctx context.Context, id uuid.UUID) error {
	if g.failDelete != nil {
		return g.failDelete
	}
	g.mu.Lock()
	g.deleted = append(g.deleted, id)
	g.mu.Unlock()
	return nil
}

type fakeAttachmentGateway struct {
	mu      sync.Mutex
	fail    error
	created []repository.AttachmentRecord
}

func (g *fakeAttachmentGateway) Create(ctx context.Context, rec *repository.AttachmentRecord) (*domain.Attachment, error) {
	if g.fail != nil {
		return nil, g.fail
	}
	g.mu.Lock()
	g.created = append(g.created, *rec)
	g.mu.Unlock()
	return &domain.Attachment{
		ID:        uuid.New(),
		MessageID: rec.MessageID,
		State:     domain.UploadReady,
		Path:      rec.Path,
		FileName:  rec.FileName,
		MimeType:  rec.MimeType,
		Size:      rec.Size,
		CreatedAt: time.Now(),
	}, nil
}

type fakeBlobStore struct {
	mu         sync.Mutex
	failUpload error
	failDelete error
	uploads    []string
	deletes    []string
}

func (b *fakeBlobStore) Upload(ctx context.Context, path string, body io.Reader, size int64, contentType string) error {
	if b.failUpload != nil {
		return b.failUpload
	}
	b.mu.Lock()
	b.uploads = append(b.uploads, path)
	b.mu.Unlock()
	return nil
}

func (b *fakeBlobStore) Delete(ctx context.Context, path string) error {
	b.mu.Lock()
	b.deletes = append(b.deletes, path)
	b.mu.Unlock()
	return b.failDelete
}

type fakeLimiter struct {
	mu    sync.Mutex
	err   error
	calls int
}

func (l *fakeLimiter) CheckAndIncrement(ctx context.Context, userID uuid.UUID, kind string) error {
	l.mu.Lock()
	l.calls++
	l.mu.Unlock()
	return l.err
}
