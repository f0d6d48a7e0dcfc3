package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shravzzv/chatly/internal/domain"
	"github.com/shravzzv/chatly/internal/quota"
	"github.com/shravzzv/chatly/internal/repository"
)

var (
	ErrNoConversation  = errors.New("no open conversation")
	ErrMessageNotFound = errors.New("message not found")
)

// SendInput carries exactly one of Text or File. An input with neither is a
// no-op.
type SendInput struct {
	Text string
	File *domain.File
}

// MessageStore owns the ordered message list for the single open
// conversation. Mutations apply optimistically and roll back to a snapshot
// when the authoritative call fails; callers present errors to the user.
type MessageStore struct {
	gateway     repository.MessageGateway
	attachments *AttachmentManager
	limiter     repository.UsageLimiter
	projector   *PreviewProjector
	localUserID uuid.UUID
	logger      zerolog.Logger

	mu        sync.Mutex
	messages  []domain.Message
	partnerID *uuid.UUID
	epoch     uint64
	loading   bool
	err       error
	onChange  func()

	locks keyedMutex
}

func NewMessageStore(
	gateway repository.MessageGateway,
	attachments *AttachmentManager,
	limiter repository.UsageLimiter,
	projector *PreviewProjector,
	localUserID uuid.UUID,
	logger zerolog.Logger,
) *MessageStore {
	return &MessageStore{
		gateway:     gateway,
		attachments: attachments,
		limiter:     limiter,
		projector:   projector,
		localUserID: localUserID,
		logger:      logger,
		locks:       newKeyedMutex(),
	}
}

// SetOnChange registers the hook the UI layer uses to re-render. Called after
// every visible state change, never while the internal lock is held.
func (s *MessageStore) SetOnChange(fn func()) {
	s.mu.Lock()
	s.onChange = fn
	s.mu.Unlock()
}

// Messages returns a snapshot of the open conversation's list.
func (s *MessageStore) Messages() []domain.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.Message, len(s.messages))
	copy(out, s.messages)
	return out
}

func (s *MessageStore) Loading() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loading
}

func (s *MessageStore) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// PartnerID returns the currently open conversation partner, or nil.
func (s *MessageStore) PartnerID() *uuid.UUID {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.partnerID == nil {
		return nil
	}
	id := *s.partnerID
	return &id
}

// LoadForPartner switches the open conversation and fetches its messages.
// A nil partner clears the list without fetching. Each call bumps the fetch
// epoch; a response resolving after a newer switch is dropped so stale data
// never overwrites the newly selected conversation.
func (s *MessageStore) LoadForPartner(ctx context.Context, partnerID *uuid.UUID) error {
	s.mu.Lock()
	s.epoch++
	epoch := s.epoch
	if partnerID == nil {
		s.partnerID = nil
		s.messages = nil
		s.loading = false
		s.err = nil
		s.mu.Unlock()
		s.notify()
		return nil
	}
	id := *partnerID
	s.partnerID = &id
	s.loading = true
	s.mu.Unlock()
	s.notify()

	messages, err := s.gateway.ListBetween(ctx, s.localUserID, id)

	s.mu.Lock()
	if s.epoch != epoch {
		// Superseded by a newer switch; this response no longer matters.
		s.mu.Unlock()
		return nil
	}
	s.loading = false
	if err != nil {
		s.err = err
		s.mu.Unlock()
		s.notify()
		return fmt.Errorf("loading conversation: %w", err)
	}
	s.err = nil
	s.messages = messages
	s.mu.Unlock()
	s.notify()
	return nil
}

// Send creates a message in the open conversation. The optimistic entry is
// visible immediately; on any authoritative failure it is removed and the
// error is returned to the caller untouched enough for errors.Is to work.
func (s *MessageStore) Send(ctx context.Context, input SendInput) (*domain.Message, error) {
	text := strings.TrimSpace(input.Text)
	if text == "" && input.File == nil {
		return nil, nil
	}

	s.mu.Lock()
	if s.partnerID == nil {
		s.mu.Unlock()
		return nil, ErrNoConversation
	}
	partnerID := *s.partnerID
	s.mu.Unlock()

	now := time.Now()
	optimistic := domain.Message{
		ID:         uuid.New(),
		SenderID:   s.localUserID,
		ReceiverID: partnerID,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	var textPtr *string
	if text != "" {
		t := text
		textPtr = &t
		optimistic.Text = &t
	}
	if input.File != nil {
		optimistic.Attachment = &domain.Attachment{
			MessageID: optimistic.ID,
			State:     domain.UploadPending,
			FileName:  input.File.Name,
			MimeType:  input.File.ContentType,
			Size:      input.File.Size,
			CreatedAt: now,
		}
	}

	s.append(optimistic)

	created, err := s.gateway.Create(ctx, textPtr, s.localUserID, partnerID)
	if err != nil {
		s.removeByID(optimistic.ID)
		return nil, fmt.Errorf("creating message: %w", err)
	}

	if input.File == nil {
		s.replaceByID(optimistic.ID, *created)
		s.projector.Upsert(created)
		return created, nil
	}

	s.markUploading(optimistic.ID)

	att, err := s.attachments.Create(ctx, created.ID, input.File)
	if err != nil {
		s.rollbackMediaSend(ctx, optimistic.ID, created.ID, att)
		return nil, err
	}

	if err := s.limiter.CheckAndIncrement(ctx, s.localUserID, quota.KindMedia); err != nil {
		// The upload went through but the plan says no; undo everything so
		// the caller can tell quota apart from a generic failure.
		s.rollbackMediaSend(ctx, optimistic.ID, created.ID, att)
		return nil, err
	}

	final := *created
	final.Attachment = att
	s.replaceByID(optimistic.ID, final)
	s.projector.Upsert(&final)
	return &final, nil
}

// Edit optimistically replaces the message text and bumps updated_at, then
// confirms with the authoritative store. On failure the pre-edit snapshot is
// restored in full.
func (s *MessageStore) Edit(ctx context.Context, id uuid.UUID, newText string) (*domain.Message, error) {
	unlock := s.locks.Lock(id)
	defer unlock()

	s.mu.Lock()
	idx := s.indexOf(id)
	if idx < 0 {
		s.mu.Unlock()
		return nil, ErrMessageNotFound
	}
	snapshot := make([]domain.Message, len(s.messages))
	copy(snapshot, s.messages)
	t := newText
	s.messages[idx].Text = &t
	s.messages[idx].UpdatedAt = time.Now()
	s.mu.Unlock()
	s.notify()

	updated, err := s.gateway.UpdateText(ctx, id, newText)
	if err == nil && updated == nil {
		err = ErrMessageNotFound
	}
	if err != nil {
		s.restore(snapshot)
		return nil, fmt.Errorf("updating message: %w", err)
	}

	// Server updated_at is the source of truth from here on.
	s.replaceByID(id, *updated)
	s.projector.Upsert(updated)
	return updated, nil
}

// Delete optimistically removes the message, confirms with the authoritative
// store, then best-effort deletes the blob and reconciles the preview. Blob
// and preview failures are logged, never rolled back.
func (s *MessageStore) Delete(ctx context.Context, id uuid.UUID) error {
	unlock := s.locks.Lock(id)
	defer unlock()

	s.mu.Lock()
	idx := s.indexOf(id)
	if idx < 0 {
		s.mu.Unlock()
		return ErrMessageNotFound
	}
	snapshot := make([]domain.Message, len(s.messages))
	copy(snapshot, s.messages)
	deleted := s.messages[idx]
	s.messages = append(s.messages[:idx:idx], s.messages[idx+1:]...)
	s.mu.Unlock()
	s.notify()

	if err := s.gateway.Delete(ctx, id); err != nil {
		s.restore(snapshot)
		return fmt.Errorf("deleting message: %w", err)
	}

	if deleted.Attachment != nil {
		s.attachments.DeleteBlob(ctx, deleted.Attachment)
	}
	if err := s.projector.ReconcileAfterDelete(ctx, &deleted); err != nil {
		s.logger.Warn().Err(err).Stringer("message_id", id).Msg("preview reconciliation failed after delete")
	}
	return nil
}

// rollbackMediaSend undoes a media send after the message row was already
// created: the remote row is deleted (the attachment record cascades), the
// uploaded blob is best-effort removed, and the optimistic entry disappears.
func (s *MessageStore) rollbackMediaSend(ctx context.Context, optimisticID, createdID uuid.UUID, att *domain.Attachment) {
	if err := s.gateway.Delete(ctx, createdID); err != nil {
		s.logger.Warn().Err(err).Stringer("message_id", createdID).Msg("failed to delete message during media rollback")
	}
	if att != nil {
		s.attachments.DeleteBlob(ctx, att)
	}
	s.removeByID(optimisticID)
}

// --- realtime router entry points ---

// Held returns a copy of the locally-held message, if any.
func (s *MessageStore) Held(id uuid.UUID) (domain.Message, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if idx := s.indexOf(id); idx >= 0 {
		return s.messages[idx], true
	}
	return domain.Message{}, false
}

// ApplyRemoteInsert appends the message when it belongs to the open
// conversation and its id is unseen. Returns false when nothing changed.
func (s *MessageStore) ApplyRemoteInsert(msg *domain.Message) bool {
	s.mu.Lock()
	if !s.belongsToOpenLocked(msg) || s.indexOf(msg.ID) >= 0 {
		s.mu.Unlock()
		return false
	}
	s.messages = append(s.messages, *msg)
	s.mu.Unlock()
	s.notify()
	return true
}

// ApplyRemoteUpdate merges the row into the open conversation's list,
// replacing the held copy or appending when the row belongs here but was
// never seen.
func (s *MessageStore) ApplyRemoteUpdate(msg *domain.Message) bool {
	s.mu.Lock()
	if !s.belongsToOpenLocked(msg) {
		s.mu.Unlock()
		return false
	}
	if idx := s.indexOf(msg.ID); idx >= 0 {
		merged := *msg
		if merged.Attachment == nil {
			merged.Attachment = s.messages[idx].Attachment
		}
		s.messages[idx] = merged
	} else {
		s.messages = append(s.messages, *msg)
	}
	s.mu.Unlock()
	s.notify()
	return true
}

// ApplyRemoteDelete removes the message and returns the pre-delete copy.
func (s *MessageStore) ApplyRemoteDelete(id uuid.UUID) (domain.Message, bool) {
	s.mu.Lock()
	idx := s.indexOf(id)
	if idx < 0 {
		s.mu.Unlock()
		return domain.Message{}, false
	}
	deleted := s.messages[idx]
	s.messages = append(s.messages[:idx:idx], s.messages[idx+1:]...)
	s.mu.Unlock()
	s.notify()
	return deleted, true
}

// ApplyRemoteAttachment attaches the record to its message and returns the
// enriched copy. Attachment events never create messages.
func (s *MessageStore) ApplyRemoteAttachment(att *domain.Attachment) (domain.Message, bool) {
	s.mu.Lock()
	idx := s.indexOf(att.MessageID)
	if idx < 0 {
		s.mu.Unlock()
		return domain.Message{}, false
	}
	a := *att
	a.State = domain.UploadReady
	s.messages[idx].Attachment = &a
	enriched := s.messages[idx]
	s.mu.Unlock()
	s.notify()
	return enriched, true
}

// ApplyRemoteAttachmentDelete clears the attachment field; the message
// itself survives.
func (s *MessageStore) ApplyRemoteAttachmentDelete(messageID uuid.UUID) (domain.Message, bool) {
	s.mu.Lock()
	idx := s.indexOf(messageID)
	if idx < 0 {
		s.mu.Unlock()
		return domain.Message{}, false
	}
	s.messages[idx].Attachment = nil
	stripped := s.messages[idx]
	s.mu.Unlock()
	s.notify()
	return stripped, true
}

// --- internals ---

func (s *MessageStore) belongsToOpenLocked(msg *domain.Message) bool {
	return s.partnerID != nil && msg.PartnerOf(s.localUserID) == *s.partnerID
}

// indexOf assumes s.mu is held.
func (s *MessageStore) indexOf(id uuid.UUID) int {
	for i := range s.messages {
		if s.messages[i].ID == id {
			return i
		}
	}
	return -1
}

func (s *MessageStore) append(msg domain.Message) {
	s.mu.Lock()
	s.messages = append(s.messages, msg)
	s.mu.Unlock()
	s.notify()
}

func (s *MessageStore) removeByID(id uuid.UUID) {
	s.mu.Lock()
	if idx := s.indexOf(id); idx >= 0 {
		s.messages = append(s.messages[:idx:idx], s.messages[idx+1:]...)
	}
	s.mu.Unlock()
	s.notify()
}

func (s *MessageStore) replaceByID(id uuid.UUID, msg domain.Message) {
	s.mu.Lock()
	if idx := s.indexOf(id); idx >= 0 {
		s.messages[idx] = msg
	}
	s.mu.Unlock()
	s.notify()
}

func (s *MessageStore) markUploading(id uuid.UUID) {
	s.mu.Lock()
	if idx := s.indexOf(id); idx >= 0 && s.messages[idx].Attachment != nil {
		s.messages[idx].Attachment.State = domain.Uploading
	}
	s.mu.Unlock()
	s.notify()
}

func (s *MessageStore) restore(snapshot []domain.Message) {
	s.mu.Lock()
	s.messages = snapshot
	s.mu.Unlock()
	s.notify()
}

func (s *MessageStore) notify() {
	s.mu.Lock()
	fn := s.onChange
	s.mu.Unlock()
	if fn != nil {
		fn()
	}
}
