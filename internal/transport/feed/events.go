package feed

import (
	"context"
	"encoding/json"
)

// Streams exposed by the change-event feed. The messages stream is filtered
// server-side to rows where the authenticated user is sender or receiver; the
// attachments stream is unfiltered.
const (
	StreamMessages    = "messages"
	StreamAttachments = "message_attachments"
)

// Change types.
const (
	TypeInsert = "insert"
	TypeUpdate = "update"
	TypeDelete = "delete"
)

// Event is the envelope for one row change.
type Event struct {
	Stream    string          `json:"stream"`
	Type      string          `json:"type"`
	Row       json.RawMessage `json:"row"`
	Timestamp int64           `json:"ts,omitempty"`
}

// Source delivers change events, one subscription per stream. The returned
// channel closes when the subscription ends; reconnection and missed-event
// catch-up are the transport's responsibility, not the consumer's.
type Source interface {
	Subscribe(ctx context.Context, stream string) (<-chan Event, error)
}
