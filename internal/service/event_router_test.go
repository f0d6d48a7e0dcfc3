package service

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shravzzv/chatly/internal/domain"
	"github.com/shravzzv/chatly/internal/transport/feed"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRouter(t *testing.T, gw *fakeGateway) (*EventRouter, *MessageStore, *PreviewProjector) {
	t.Helper()
	store, projector := newTestStore(gw, &fakeAttachmentGateway{}, &fakeBlobStore{}, &fakeLimiter{})
	router := NewEventRouter(store, projector, nil, testUser, zerolog.Nop())
	return router, store, projector
}

func messageEvent(t *testing.T, eventType string, msg domain.Message) feed.Event {
	t.Helper()
	row, err := json.Marshal(msg)
	require.NoError(t, err)
	return feed.Event{Stream: feed.StreamMessages, Type: eventType, Row: row}
}

func attachmentEvent(t *testing.T, eventType string, att domain.Attachment) feed.Event {
	t.Helper()
	row, err := json.Marshal(att)
	require.NoError(t, err)
	return feed.Event{Stream: feed.StreamAttachments, Type: eventType, Row: row}
}

func TestInsertEventAppendsToOpenConversation(t *testing.T) {
	gw := &fakeGateway{}
	router, store, projector := newTestRouter(t, gw)
	openConversation(t, store, testPartner)

	incoming := textMessage(uuid.New(), "hi there", testPartner, testUser, baseTime)
	router.handleMessageEvent(context.Background(), messageEvent(t, feed.TypeInsert, incoming))

	msgs := store.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, incoming.ID, msgs[0].ID)
	assert.Equal(t, "hi there", projector.Previews()[testPartner].Text)
}

func TestInsertEventForOtherConversationOnlyUpdatesPreview(t *testing.T) {
	gw := &fakeGateway{}
	router, store, projector := newTestRouter(t, gw)
	openConversation(t, store, testPartner)

	incoming := textMessage(uuid.New(), "from someone else", testOther, testUser, baseTime)
	router.handleMessageEvent(context.Background(), messageEvent(t, feed.TypeInsert, incoming))

	assert.Empty(t, store.Messages())
	assert.Equal(t, "from someone else", projector.Previews()[testOther].Text)
}

func TestInsertEventEchoOfHeldMessageIgnored(t *testing.T) {
	id := uuid.New()
	held := textMessage(id, "sent by us", testUser, testPartner, baseTime)
	gw := &fakeGateway{listBetween: map[uuid.UUID][]domain.Message{testPartner: {held}}}
	router, store, projector := newTestRouter(t, gw)
	openConversation(t, store, testPartner)

	// Give the preview a text the echo would overwrite if it got through.
	edited := held
	edited.Text = textPtr("locally edited")
	edited.UpdatedAt = baseTime.Add(time.Minute)
	projector.Upsert(&edited)

	router.handleMessageEvent(context.Background(), messageEvent(t, feed.TypeInsert, held))

	require.Len(t, store.Messages(), 1)
	assert.Equal(t, "locally edited", projector.Previews()[testPartner].Text)
}

func TestDuplicateInsertDelivery(t *testing.T) {
	gw := &fakeGateway{}
	router, store, _ := newTestRouter(t, gw)
	openConversation(t, store, testPartner)

	incoming := textMessage(uuid.New(), "hi", testPartner, testUser, baseTime)
	event := messageEvent(t, feed.TypeInsert, incoming)
	router.handleMessageEvent(context.Background(), event)
	router.handleMessageEvent(context.Background(), event)

	assert.Len(t, store.Messages(), 1)
}

func TestUpdateEventStaleEchoIgnored(t *testing.T) {
	id := uuid.New()
	held := textMessage(id, "locally edited", testUser, testPartner, baseTime.Add(time.Minute))
	gw := &fakeGateway{listBetween: map[uuid.UUID][]domain.Message{testPartner: {held}}}
	router, store, projector := newTestRouter(t, gw)
	openConversation(t, store, testPartner)
	projector.Upsert(&held)

	stale := textMessage(id, "pre-edit text", testUser, testPartner, baseTime)
	router.handleMessageEvent(context.Background(), messageEvent(t, feed.TypeUpdate, stale))

	msgs := store.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, "locally edited", *msgs[0].Text)
	assert.Equal(t, "locally edited", projector.Previews()[testPartner].Text)
}

func TestUpdateEventMergesNewerRow(t *testing.T) {
	id := uuid.New()
	held := textMessage(id, "old text", testUser, testPartner, baseTime)
	held.Attachment = &domain.Attachment{MessageID: id, Path: "chat/a/b.jpg", State: domain.UploadReady, MimeType: "image/jpeg"}
	gw := &fakeGateway{listBetween: map[uuid.UUID][]domain.Message{testPartner: {held}}}
	router, store, projector := newTestRouter(t, gw)
	openConversation(t, store, testPartner)

	updated := textMessage(id, "new text", testUser, testPartner, baseTime.Add(time.Minute))
	router.handleMessageEvent(context.Background(), messageEvent(t, feed.TypeUpdate, updated))

	msgs := store.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, "new text", *msgs[0].Text)
	// The event row had no attachment; the locally held one survives the merge.
	require.NotNil(t, msgs[0].Attachment)
	assert.Equal(t, "chat/a/b.jpg", msgs[0].Attachment.Path)
	assert.Equal(t, "new text", projector.Previews()[testPartner].Text)
}

func TestDeleteEventReconcilesPreview(t *testing.T) {
	id := uuid.New()
	held := textMessage(id, "only message", testPartner, testUser, baseTime)
	gw := &fakeGateway{listBetween: map[uuid.UUID][]domain.Message{testPartner: {held}}}
	router, store, projector := newTestRouter(t, gw)
	openConversation(t, store, testPartner)
	projector.Upsert(&held)

	router.handleMessageEvent(context.Background(), messageEvent(t, feed.TypeDelete, held))

	assert.Empty(t, store.Messages())
	// The conversation is now empty; the partner disappears from previews.
	assert.NotContains(t, projector.Previews(), testPartner)
}

func TestDeleteEventForUnknownMessage(t *testing.T) {
	gw := &fakeGateway{}
	router, store, _ := newTestRouter(t, gw)
	openConversation(t, store, testPartner)

	unknown := textMessage(uuid.New(), "never seen", testPartner, testUser, baseTime)
	router.handleMessageEvent(context.Background(), messageEvent(t, feed.TypeDelete, unknown))

	assert.Empty(t, store.Messages())
	assert.Zero(t, gw.latestCalls)
}

func TestAttachmentInsertEnrichesHeldMessage(t *testing.T) {
	id := uuid.New()
	held := domain.Message{ID: id, SenderID: testPartner, ReceiverID: testUser, CreatedAt: baseTime, UpdatedAt: baseTime}
	gw := &fakeGateway{listBetween: map[uuid.UUID][]domain.Message{testPartner: {held}}}
	router, store, projector := newTestRouter(t, gw)
	openConversation(t, store, testPartner)
	projector.Upsert(&held)
	require.Equal(t, "New message", projector.Previews()[testPartner].Text)

	att := domain.Attachment{
		ID:        uuid.New(),
		MessageID: id,
		Path:      "chat/a/photo.jpg",
		FileName:  "photo.jpg",
		MimeType:  "image/jpeg",
		Size:      2048,
		CreatedAt: baseTime,
	}
	router.handleAttachmentEvent(context.Background(), attachmentEvent(t, feed.TypeInsert, att))

	msgs := store.Messages()
	require.Len(t, msgs, 1)
	require.NotNil(t, msgs[0].Attachment)
	assert.Equal(t, domain.UploadReady, msgs[0].Attachment.State)
	assert.Equal(t, "Photo", projector.Previews()[testPartner].Text)
}

func TestAttachmentInsertForUnknownMessageIgnored(t *testing.T) {
	gw := &fakeGateway{}
	router, store, projector := newTestRouter(t, gw)
	openConversation(t, store, testPartner)

	att := domain.Attachment{ID: uuid.New(), MessageID: uuid.New(), MimeType: "image/jpeg"}
	router.handleAttachmentEvent(context.Background(), attachmentEvent(t, feed.TypeInsert, att))

	assert.Empty(t, store.Messages())
	assert.Empty(t, projector.Previews())
}

func TestAttachmentDeleteStripsHeldMessage(t *testing.T) {
	id := uuid.New()
	held := domain.Message{
		ID: id, SenderID: testPartner, ReceiverID: testUser,
		CreatedAt: baseTime, UpdatedAt: baseTime,
		Attachment: &domain.Attachment{ID: uuid.New(), MessageID: id, MimeType: "image/jpeg", State: domain.UploadReady},
	}
	gw := &fakeGateway{listBetween: map[uuid.UUID][]domain.Message{testPartner: {held}}}
	router, store, projector := newTestRouter(t, gw)
	openConversation(t, store, testPartner)
	projector.Upsert(&held)
	require.Equal(t, "Photo", projector.Previews()[testPartner].Text)

	router.handleAttachmentEvent(context.Background(), attachmentEvent(t, feed.TypeDelete, *held.Attachment))

	msgs := store.Messages()
	require.Len(t, msgs, 1)
	assert.Nil(t, msgs[0].Attachment)
	assert.Equal(t, "New message", projector.Previews()[testPartner].Text)
}

func TestSelfChatInsertDeliveredOnce(t *testing.T) {
	gw := &fakeGateway{}
	router, store, projector := newTestRouter(t, gw)
	openConversation(t, store, testUser)

	note := textMessage(uuid.New(), "note to self", testUser, testUser, baseTime)
	// A self-chat produces one event per stream role; both carry the same id.
	event := messageEvent(t, feed.TypeInsert, note)
	router.handleMessageEvent(context.Background(), event)
	router.handleMessageEvent(context.Background(), event)

	assert.Len(t, store.Messages(), 1)
	previews := projector.Previews()
	require.Len(t, previews, 1)
	assert.Equal(t, "note to self", previews[testUser].Text)
}

func TestUndecodableEventIgnored(t *testing.T) {
	gw := &fakeGateway{}
	router, store, _ := newTestRouter(t, gw)
	openConversation(t, store, testPartner)

	router.handleMessageEvent(context.Background(), feed.Event{Type: feed.TypeInsert, Row: []byte("{not json")})
	router.handleAttachmentEvent(context.Background(), feed.Event{Type: feed.TypeInsert, Row: []byte("{not json")})

	assert.Empty(t, store.Messages())
}
