package api

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	echo "github.com/labstack/echo/v5"

	"github.com/buntinglabs/mundi/pkg/events"
	"github.com/buntinglabs/mundi/pkg/metrics"
)

// wsHandler upgrades to WebSocket and streams sanitized message payloads and
// ephemeral payloads for one conversation. On reconnect within the miss
// buffer TTL, missed events are replayed before live traffic.
func (s *Server) wsHandler(c *echo.Context) error {
	userID := currentUser(c)

	conversationID, err := strconv.ParseInt(c.Param("conversation_id"), 10, 64)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid conversation id")
	}
	if _, err := s.conversations.Get(c.Request().Context(), conversationID, userID); err != nil {
		return mapServiceError(err)
	}

	// The chat stream is same-origin only; the embed allowlist applies to
	// the style endpoint, not here.
	conn, err := websocket.Accept(c.Response(), c.Request(), nil)
	if err != nil {
		return err
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	ctx, cancel := context.WithCancel(c.Request().Context())
	defer cancel()

	sub, replay := s.bus.Subscribe(userID, conversationID)
	defer s.bus.Unsubscribe(sub)
	metrics.WSSubscribers.Inc()
	defer metrics.WSSubscribers.Dec()

	// Reads are discarded; their only purpose is disconnect detection.
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.Read(ctx); err != nil {
				return
			}
		}
	}()

	for _, n := range replay {
		if err := s.writeNotification(ctx, conn, n); err != nil {
			return nil
		}
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case n, ok := <-sub.C():
			if !ok {
				return nil
			}
			if err := s.writeNotification(ctx, conn, n); err != nil {
				return nil
			}
		}
	}
}

// writeNotification resolves a notification to its client payload and sends
// it. Reference notifications are re-read from the database and sanitized;
// system messages sanitize to nothing and are skipped.
func (s *Server) writeNotification(ctx context.Context, conn *websocket.Conn, n *events.Notification) error {
	if n.Ephemeral != nil {
		return wsjson.Write(ctx, conn, n.Ephemeral)
	}

	msg, err := s.messages.Get(ctx, n.Ref.ID)
	if err != nil {
		slog.Warn("Failed to resolve message notification", "message_id", n.Ref.ID, "error", err)
		return nil
	}
	sanitized := msg.Sanitize()
	if sanitized == nil {
		return nil
	}
	return wsjson.Write(ctx, conn, sanitized)
}
