package remote

import (
	"context"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/MarcoPoloResearchLab/lobby/internal/backend"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"
)

// feedServer accepts one websocket, acknowledges it and relays pushed envelopes.
type feedServer struct {
	mu     sync.Mutex
	tables string
	auth   string
	push   chan backend.FeedEnvelope
	closed chan struct{}
}

func newFeedServer() *feedServer {
	return &feedServer{push: make(chan backend.FeedEnvelope, 8), closed: make(chan struct{})}
}

func (f *feedServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	f.tables = r.URL.Query().Get("tables")
	f.auth = r.Header.Get("Authorization")
	f.mu.Unlock()

	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		return
	}
	defer close(f.closed)
	defer conn.CloseNow() //nolint:errcheck

	ctx := conn.CloseRead(r.Context())
	if err := wsjson.Write(ctx, conn, backend.FeedEnvelope{Type: backend.EnvelopeSubscribed}); err != nil {
		return
	}
	for {
		select {
		case <-ctx.Done():
			return
		case envelope := <-f.push:
			if err := wsjson.Write(ctx, conn, envelope); err != nil {
				return
			}
		}
	}
}

func TestSubscribeDeliversInsertEnvelopes(t *testing.T) {
	server := newFeedServer()
	client := newTestClient(t, server, WithAccessToken("token-1"))

	events := make(chan backend.InsertEvent, 4)
	sub, err := client.Subscribe(context.Background(), []backend.FeedSpec{
		{Table: backend.TableMessages},
		{Table: backend.TableDirectMessages, ParticipantID: "alice"},
		{Table: backend.TableMessages},
	}, func(event backend.InsertEvent) {
		events <- event
	})
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer sub.Unsubscribe() //nolint:errcheck

	server.mu.Lock()
	tables, authHeader := server.tables, server.auth
	server.mu.Unlock()
	if tables != "messages,direct_messages" || authHeader != "Bearer token-1" {
		t.Fatalf("unexpected handshake tables=%q auth=%q", tables, authHeader)
	}

	server.push <- backend.FeedEnvelope{Type: "heartbeat"}
	server.push <- backend.FeedEnvelope{Type: backend.EnvelopeInsert, Table: backend.TableMessages, Record: &backend.Message{ID: "m1", ChannelID: "general", Content: "hi"}}

	select {
	case event := <-events:
		if event.Table != backend.TableMessages || event.Message.ID != "m1" {
			t.Fatalf("unexpected event %+v", event)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("expected an insert event")
	}
}

func TestUnsubscribeDoesNotWaitForRunningHandler(t *testing.T) {
	server := newFeedServer()
	client := newTestClient(t, server)

	entered := make(chan struct{})
	release := make(chan struct{})
	sub, err := client.Subscribe(context.Background(), []backend.FeedSpec{{Table: backend.TableMessages}}, func(backend.InsertEvent) {
		close(entered)
		<-release
	})
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	server.push <- backend.FeedEnvelope{Type: backend.EnvelopeInsert, Table: backend.TableMessages, Record: &backend.Message{ID: "m1"}}
	<-entered

	done := make(chan struct{})
	go func() {
		_ = sub.Unsubscribe()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("unsubscribe blocked on a running handler")
	}
	close(release)

	select {
	case <-server.closed:
	case <-time.After(3 * time.Second):
		t.Fatalf("expected the server side to observe the close")
	}
}

func TestSubscribeRejectsEmptySpecs(t *testing.T) {
	client := newTestClient(t, newFeedServer())
	if _, err := client.Subscribe(context.Background(), nil, func(backend.InsertEvent) {}); !backend.IsKind(err, backend.KindInvalidRequest) {
		t.Fatalf("expected invalid request, got %v", err)
	}
}

func TestSubscribeDecodesRefusedHandshake(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized", "message": "access token rejected"})
	}))
	_, err := client.Subscribe(context.Background(), []backend.FeedSpec{{Table: backend.TableMessages}}, func(backend.InsertEvent) {})
	if !backend.IsKind(err, backend.KindUnauthorized) {
		t.Fatalf("expected unauthorized, got %v", err)
	}
}
