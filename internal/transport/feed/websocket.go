package feed

import (
	"context"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"
)

const (
	writeWait      = 10 * time.Second
	pingInterval   = 30 * time.Second
	maxMessageSize = 1 << 20
	eventBufSize   = 256
	feedTokenTTL   = time.Hour
)

// WebsocketSource consumes the change-event feed over a WebSocket. Auth is
// done via ?token=xxx query param (WebSocket can't send headers), signed with
// the shared feed secret and the local user as subject.
type WebsocketSource struct {
	url       string
	jwtSecret string
	userID    uuid.UUID
	logger    zerolog.Logger
}

func NewWebsocketSource(url, jwtSecret string, userID uuid.UUID, logger zerolog.Logger) *WebsocketSource {
	return &WebsocketSource{
		url:       url,
		jwtSecret: jwtSecret,
		userID:    userID,
		logger:    logger,
	}
}

type subscribeFrame struct {
	Action string `json:"action"`
	Stream string `json:"stream"`
}

func (s *WebsocketSource) Subscribe(ctx context.Context, stream string) (<-chan Event, error) {
	token, err := s.signToken()
	if err != nil {
		return nil, fmt.Errorf("signing feed token: %w", err)
	}

	conn, _, err := websocket.Dial(ctx, fmt.Sprintf("%s?token=%s", s.url, token), nil)
	if err != nil {
		return nil, fmt.Errorf("dialing feed: %w", err)
	}
	conn.SetReadLimit(maxMessageSize)

	wctx, cancel := context.WithTimeout(ctx, writeWait)
	err = wsjson.Write(wctx, conn, subscribeFrame{Action: "subscribe", Stream: stream})
	cancel()
	if err != nil {
		conn.Close(websocket.StatusInternalError, "subscribe failed")
		return nil, fmt.Errorf("subscribing to %s: %w", stream, err)
	}

	out := make(chan Event, eventBufSize)
	go s.readPump(ctx, conn, stream, out)
	go s.pingLoop(ctx, conn)
	return out, nil
}

func (s *WebsocketSource) readPump(ctx context.Context, conn *websocket.Conn, stream string, out chan<- Event) {
	defer func() {
		conn.Close(websocket.StatusNormalClosure, "")
		close(out)
	}()

	for {
		var event Event
		if err := wsjson.Read(ctx, conn, &event); err != nil {
			if ctx.Err() == nil && websocket.CloseStatus(err) == -1 {
				s.logger.Warn().Err(err).Str("stream", stream).Msg("feed read error")
			}
			return
		}
		if event.Stream == "" {
			event.Stream = stream
		}

		select {
		case out <- event:
		case <-ctx.Done():
			return
		}
	}
}

func (s *WebsocketSource) pingLoop(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			wctx, cancel := context.WithTimeout(ctx, writeWait)
			err := conn.Ping(wctx)
			cancel()
			if err != nil {
				return
			}
		case <-ctx.Done():
			return
		}
	}
}

func (s *WebsocketSource) signToken() (string, error) {
	now := time.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": s.userID.String(),
		"iat": now.Unix(),
		"exp": now.Add(feedTokenTTL).Unix(),
	})
	return token.SignedString([]byte(s.jwtSecret))
}
