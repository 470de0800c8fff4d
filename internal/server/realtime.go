package server

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/lobby/internal/backend"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"
)

const realtimeWriteTimeout = 10 * time.Second

// handleRealtime upgrades to a websocket and streams insert envelopes for the
// requested tables. Direct-message events are always scoped to the caller.
func (h *httpHandler) handleRealtime(c *gin.Context) {
	userID := c.GetString(userIDContextKey)
	specs, err := parseFeedSpecs(c.Query("tables"), userID)
	if err != nil {
		abortWithError(c, http.StatusBadRequest, backend.KindInvalidRequest, err.Error())
		return
	}

	conn, err := websocket.Accept(c.Writer, c.Request, h.acceptOptions())
	if err != nil {
		h.logger.Warn("websocket accept failed", zap.String("user_id", userID), zap.Error(err))
		return
	}
	defer conn.CloseNow() //nolint:errcheck

	ctx := conn.CloseRead(c.Request.Context())
	stream, cleanup := h.realtime.Stream(ctx, specs)
	defer cleanup()

	if err := writeEnvelope(ctx, conn, backend.FeedEnvelope{Type: backend.EnvelopeSubscribed}); err != nil {
		h.logger.Info("realtime handshake failed", zap.String("user_id", userID), zap.Error(err))
		return
	}

	ticker := time.NewTicker(h.heartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			_ = conn.Close(websocket.StatusNormalClosure, "")
			return
		case event, ok := <-stream:
			if !ok {
				_ = conn.Close(websocket.StatusNormalClosure, "")
				return
			}
			record := event.Message
			envelope := backend.FeedEnvelope{Type: backend.EnvelopeInsert, Table: event.Table, Record: &record}
			if err := writeEnvelope(ctx, conn, envelope); err != nil {
				h.logger.Info("realtime connection closed", zap.String("user_id", userID), zap.Error(err))
				return
			}
		case <-ticker.C:
			pingCtx, cancel := context.WithTimeout(ctx, realtimeWriteTimeout)
			err := conn.Ping(pingCtx)
			cancel()
			if err != nil {
				_ = conn.Close(websocket.StatusGoingAway, "heartbeat timeout")
				return
			}
		}
	}
}

func (h *httpHandler) acceptOptions() *websocket.AcceptOptions {
	if allowsAnyOrigin(h.origins) {
		return &websocket.AcceptOptions{InsecureSkipVerify: true}
	}
	patterns := make([]string, 0, len(h.origins))
	for _, origin := range h.origins {
		if parsed, err := url.Parse(origin); err == nil && parsed.Host != "" {
			patterns = append(patterns, parsed.Host)
			continue
		}
		patterns = append(patterns, origin)
	}
	return &websocket.AcceptOptions{OriginPatterns: patterns}
}

func writeEnvelope(ctx context.Context, conn *websocket.Conn, envelope backend.FeedEnvelope) error {
	writeCtx, cancel := context.WithTimeout(ctx, realtimeWriteTimeout)
	defer cancel()
	return wsjson.Write(writeCtx, conn, envelope)
}

// parseFeedSpecs reads a comma separated table list.
func parseFeedSpecs(raw, userID string) ([]backend.FeedSpec, error) {
	var specs []backend.FeedSpec
	seen := make(map[string]struct{})
	for _, part := range strings.Split(raw, ",") {
		table := strings.TrimSpace(part)
		if table == "" {
			continue
		}
		if _, duplicate := seen[table]; duplicate {
			continue
		}
		seen[table] = struct{}{}
		switch table {
		case backend.TableMessages:
			specs = append(specs, backend.FeedSpec{Table: table})
		case backend.TableDirectMessages:
			specs = append(specs, backend.FeedSpec{Table: table, ParticipantID: userID})
		default:
			return nil, fmt.Errorf("unknown table %q", table)
		}
	}
	if len(specs) == 0 {
		return nil, fmt.Errorf("tables is required")
	}
	return specs, nil
}
