package service

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shravzzv/chatly/internal/domain"
	"github.com/shravzzv/chatly/internal/transport/feed"
	"golang.org/x/sync/errgroup"
)

// EventRouter subscribes to the message and attachment change streams and
// fans events into the MessageStore and PreviewProjector with idempotency
// and staleness guards. Reconnection is the feed transport's job.
type EventRouter struct {
	store       *MessageStore
	projector   *PreviewProjector
	source      feed.Source
	localUserID uuid.UUID
	logger      zerolog.Logger
}

func NewEventRouter(
	store *MessageStore,
	projector *PreviewProjector,
	source feed.Source,
	localUserID uuid.UUID,
	logger zerolog.Logger,
) *EventRouter {
	return &EventRouter{
		store:       store,
		projector:   projector,
		source:      source,
		localUserID: localUserID,
		logger:      logger,
	}
}

// Run subscribes both streams and dispatches until the context is cancelled
// or a stream closes.
func (r *EventRouter) Run(ctx context.Context) error {
	messages, err := r.source.Subscribe(ctx, feed.StreamMessages)
	if err != nil {
		return err
	}
	attachments, err := r.source.Subscribe(ctx, feed.StreamAttachments)
	if err != nil {
		return err
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return r.pump(ctx, messages, r.handleMessageEvent) })
	g.Go(func() error { return r.pump(ctx, attachments, r.handleAttachmentEvent) })
	return g.Wait()
}

func (r *EventRouter) pump(ctx context.Context, events <-chan feed.Event, handle func(context.Context, feed.Event)) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-events:
			if !ok {
				return nil
			}
			handle(ctx, event)
		}
	}
}

func (r *EventRouter) handleMessageEvent(ctx context.Context, event feed.Event) {
	var msg domain.Message
	if err := json.Unmarshal(event.Row, &msg); err != nil {
		r.logger.Warn().Err(err).Str("type", event.Type).Msg("undecodable message event")
		return
	}

	switch event.Type {
	case feed.TypeInsert:
		// An id we already hold is our own optimistic send echoing back, or
		// the duplicate delivery a self-chat produces.
		if _, held := r.store.Held(msg.ID); held {
			return
		}
		r.store.ApplyRemoteInsert(&msg)
		r.projector.Upsert(&msg)

	case feed.TypeUpdate:
		if local, held := r.store.Held(msg.ID); held && local.UpdatedAt.After(msg.UpdatedAt) {
			// An optimistic edit already superseded this echo.
			return
		}
		r.store.ApplyRemoteUpdate(&msg)
		r.projector.Upsert(&msg)

	case feed.TypeDelete:
		if prior, held := r.store.ApplyRemoteDelete(msg.ID); held {
			if err := r.projector.ReconcileAfterDelete(ctx, &prior); err != nil {
				r.logger.Warn().Err(err).Stringer("message_id", msg.ID).Msg("preview reconciliation failed after remote delete")
			}
		}

	default:
		r.logger.Debug().Str("type", event.Type).Msg("ignoring message event")
	}
}

// Attachment events enrich an already-known message; they never create one.
func (r *EventRouter) handleAttachmentEvent(ctx context.Context, event feed.Event) {
	var att domain.Attachment
	if err := json.Unmarshal(event.Row, &att); err != nil {
		r.logger.Warn().Err(err).Str("type", event.Type).Msg("undecodable attachment event")
		return
	}

	switch event.Type {
	case feed.TypeInsert:
		if enriched, held := r.store.ApplyRemoteAttachment(&att); held {
			r.projector.Upsert(&enriched)
		}
	case feed.TypeDelete:
		if stripped, held := r.store.ApplyRemoteAttachmentDelete(att.MessageID); held {
			r.projector.Upsert(&stripped)
		}
	default:
		r.logger.Debug().Str("type", event.Type).Msg("ignoring attachment event")
	}
}
