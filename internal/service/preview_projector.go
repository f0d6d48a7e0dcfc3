package service

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shravzzv/chatly/internal/domain"
	"github.com/shravzzv/chatly/internal/repository"
)

// PreviewProjector keeps one Preview per conversation partner, reflecting
// the most recent activity. Freshness is keyed by updated_at so an edit to
// an older message still counts as new activity. The timestamp guard is the
// only concurrency control between user intents and realtime events; stale
// writes are silently dropped.
type PreviewProjector struct {
	gateway     repository.MessageGateway
	localUserID uuid.UUID
	logger      zerolog.Logger

	mu       sync.RWMutex
	previews map[uuid.UUID]domain.Preview
	loading  bool
	err      error
	onChange func()
}

func NewPreviewProjector(gateway repository.MessageGateway, localUserID uuid.UUID, logger zerolog.Logger) *PreviewProjector {
	return &PreviewProjector{
		gateway:     gateway,
		localUserID: localUserID,
		logger:      logger,
		previews:    make(map[uuid.UUID]domain.Preview),
	}
}

func (p *PreviewProjector) SetOnChange(fn func()) {
	p.mu.Lock()
	p.onChange = fn
	p.mu.Unlock()
}

// Previews returns a snapshot. Absence of a partner key means that
// conversation has no messages, not that it is unknown.
func (p *PreviewProjector) Previews() map[uuid.UUID]domain.Preview {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make(map[uuid.UUID]domain.Preview, len(p.previews))
	for k, v := range p.previews {
		out[k] = v
	}
	return out
}

func (p *PreviewProjector) Loading() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.loading
}

func (p *PreviewProjector) Err() error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.err
}

// LoadAll rebuilds the projection from the authoritative store. Preview
// loading is advisory to the UI, so a failure sets the error field and
// leaves the projection empty instead of propagating.
func (p *PreviewProjector) LoadAll(ctx context.Context) {
	p.mu.Lock()
	p.loading = true
	p.mu.Unlock()
	p.notify()

	messages, err := p.gateway.ListForUser(ctx, p.localUserID)

	p.mu.Lock()
	p.loading = false
	if err != nil {
		p.err = err
		p.previews = make(map[uuid.UUID]domain.Preview)
		p.mu.Unlock()
		p.logger.Error().Err(err).Msg("failed to load previews")
		p.notify()
		return
	}
	p.err = nil
	previews := make(map[uuid.UUID]domain.Preview)
	// Rows arrive updated_at descending; the first per partner is the
	// freshest.
	for i := range messages {
		partner := messages[i].PartnerOf(p.localUserID)
		if _, ok := previews[partner]; ok {
			continue
		}
		previews[partner] = domain.NewPreview(&messages[i], p.localUserID)
	}
	p.previews = previews
	p.mu.Unlock()
	p.notify()
}

// Upsert applies the message's derivation unless an existing Preview is
// strictly newer. Equal timestamps are accepted so same-tick reconciliation
// still lands.
func (p *PreviewProjector) Upsert(msg *domain.Message) {
	partner := msg.PartnerOf(p.localUserID)
	p.mu.Lock()
	if cur, ok := p.previews[partner]; ok && msg.UpdatedAt.Before(cur.UpdatedAt) {
		p.mu.Unlock()
		return
	}
	p.previews[partner] = domain.NewPreview(msg, p.localUserID)
	p.mu.Unlock()
	p.notify()
}

// ReconcileAfterDelete repairs the projection after a message was removed.
// When the deleted message was the visible preview's source, the partner's
// Preview is rebuilt from the most recent surviving message, or removed when
// none is left.
func (p *PreviewProjector) ReconcileAfterDelete(ctx context.Context, deleted *domain.Message) error {
	partner := deleted.PartnerOf(p.localUserID)

	p.mu.RLock()
	cur, ok := p.previews[partner]
	p.mu.RUnlock()
	if !ok || cur.UpdatedAt.After(deleted.UpdatedAt) {
		// The deletion did not affect the visible preview.
		return nil
	}

	latest, err := p.gateway.LatestBetween(ctx, p.localUserID, partner)
	if err != nil {
		return fmt.Errorf("loading latest message for %s: %w", partner, err)
	}

	p.mu.Lock()
	if latest == nil {
		delete(p.previews, partner)
	} else {
		p.previews[partner] = domain.NewPreview(latest, p.localUserID)
	}
	p.mu.Unlock()
	p.notify()
	return nil
}

// Replace sets or removes a partner's Preview unconditionally, bypassing the
// freshness guard. Escape hatch for rollbacks and ordering-violation
// recovery.
func (p *PreviewProjector) Replace(partnerID uuid.UUID, msg *domain.Message) {
	p.mu.Lock()
	if msg == nil {
		delete(p.previews, partnerID)
	} else {
		p.previews[partnerID] = domain.NewPreview(msg, p.localUserID)
	}
	p.mu.Unlock()
	p.notify()
}

func (p *PreviewProjector) notify() {
	p.mu.RLock()
	fn := p.onChange
	p.mu.RUnlock()
	if fn != nil {
		fn()
	}
}
