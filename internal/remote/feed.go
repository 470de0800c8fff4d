package remote

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"github.com/MarcoPoloResearchLab/lobby/internal/backend"
	"go.uber.org/zap"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"
)

const opSubscribe = "remote.subscribe"

var errUnexpectedHandshake = errors.New("remote: expected subscribed envelope")

// Subscribe opens a realtime websocket for the tables named in specs.
// The server scopes direct-message events to the token's identity, so
// ParticipantID is not sent. ctx bounds the dial and the handshake only.
func (c *Client) Subscribe(ctx context.Context, specs []backend.FeedSpec, onInsert func(backend.InsertEvent)) (backend.Subscription, error) {
	tables := make([]string, 0, len(specs))
	seen := make(map[string]struct{}, len(specs))
	for _, spec := range specs {
		if spec.Table == "" {
			continue
		}
		if _, ok := seen[spec.Table]; ok {
			continue
		}
		seen[spec.Table] = struct{}{}
		tables = append(tables, spec.Table)
	}
	if len(tables) == 0 {
		return nil, backend.NewError(backend.KindInvalidRequest, opSubscribe, errors.New("no tables requested"))
	}

	query := url.Values{}
	query.Set("tables", strings.Join(tables, ","))
	target := c.endpoint("/realtime", query)
	target = strings.Replace(target, "https://", "wss://", 1)
	target = strings.Replace(target, "http://", "ws://", 1)

	header := http.Header{}
	if token := c.AccessToken(); token != "" {
		header.Set("Authorization", "Bearer "+token)
	}
	// The websocket outlives any request timeout; ctx bounds the dial instead.
	dialClient := *c.httpClient
	dialClient.Timeout = 0
	conn, response, err := websocket.Dial(ctx, target, &websocket.DialOptions{
		HTTPClient: &dialClient,
		HTTPHeader: header,
	})
	if err != nil {
		if response != nil && response.StatusCode >= http.StatusBadRequest {
			return nil, decodeError(opSubscribe, response)
		}
		return nil, backend.NewError(backend.KindGeneric, opSubscribe, fmt.Errorf("websocket dial: %w", err))
	}

	var ack backend.FeedEnvelope
	if err := wsjson.Read(ctx, conn, &ack); err != nil {
		_ = conn.CloseNow()
		return nil, backend.NewError(backend.KindGeneric, opSubscribe, fmt.Errorf("read handshake: %w", err))
	}
	if ack.Type != backend.EnvelopeSubscribed {
		_ = conn.CloseNow()
		return nil, backend.NewError(backend.KindGeneric, opSubscribe, fmt.Errorf("%w, got %q", errUnexpectedHandshake, ack.Type))
	}

	readCtx, cancel := context.WithCancel(context.Background())
	sub := &subscription{conn: conn, cancel: cancel}
	go sub.readLoop(readCtx, onInsert, c.logger)
	return sub, nil
}

type subscription struct {
	conn   *websocket.Conn
	cancel context.CancelFunc
	once   sync.Once
}

func (s *subscription) readLoop(ctx context.Context, onInsert func(backend.InsertEvent), logger *zap.Logger) {
	for {
		var envelope backend.FeedEnvelope
		if err := wsjson.Read(ctx, s.conn, &envelope); err != nil {
			if ctx.Err() == nil {
				logger.Warn("realtime connection lost", zap.Error(err))
			}
			return
		}
		if envelope.Type != backend.EnvelopeInsert || envelope.Record == nil {
			continue
		}
		if ctx.Err() != nil {
			return
		}
		onInsert(backend.InsertEvent{Table: envelope.Table, Message: *envelope.Record})
	}
}

// Unsubscribe stops delivery and closes the socket in the background.
func (s *subscription) Unsubscribe() error {
	s.once.Do(func() {
		s.cancel()
		go func() {
			_ = s.conn.Close(websocket.StatusNormalClosure, "unsubscribe")
		}()
	})
	return nil
}
