package schedbridge

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gorilla/websocket"
)

// wsTestServer accepts one websocket client and forwards every JSON message.
func wsTestServer(t *testing.T) (*httptest.Server, chan Message) {
	t.Helper()
	messages := make(chan Message, 16)
	upgrader := websocket.Upgrader{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			var msg Message
			if err := conn.ReadJSON(&msg); err != nil {
				return
			}
			messages <- msg
		}
	}))
	t.Cleanup(server.Close)
	return server, messages
}

func wsURL(server *httptest.Server) string {
	return "ws" + strings.TrimPrefix(server.URL, "http")
}

func TestBridge_NotifyEnqueued(t *testing.T) {
	server, messages := wsTestServer(t)

	b := New(wsURL(server), nil)
	defer b.Close()

	if err := b.NotifyEnqueued(context.Background(), "task-1"); err != nil {
		t.Fatal(err)
	}

	msg := <-messages
	if msg.Type != "task_enqueued" {
		t.Errorf("Type = %q, want task_enqueued", msg.Type)
	}
	if msg.TaskID != "task-1" {
		t.Errorf("TaskID = %q, want task-1", msg.TaskID)
	}
}

func TestBridge_SignalDrain(t *testing.T) {
	server, messages := wsTestServer(t)

	b := New(wsURL(server), nil)
	defer b.Close()

	if err := b.SignalDrain(context.Background(), 5); err != nil {
		t.Fatal(err)
	}

	msg := <-messages
	if msg.Type != "drain_hint" {
		t.Errorf("Type = %q, want drain_hint", msg.Type)
	}
	if msg.Limit != 5 {
		t.Errorf("Limit = %d, want 5", msg.Limit)
	}
}

func TestBridge_ReusesConnection(t *testing.T) {
	server, messages := wsTestServer(t)

	b := New(wsURL(server), nil)
	defer b.Close()

	for i := 0; i < 3; i++ {
		if err := b.NotifyEnqueued(context.Background(), "task-x"); err != nil {
			t.Fatal(err)
		}
		<-messages
	}
	if b.attempts != 0 {
		t.Errorf("attempts = %d after successful sends, want 0", b.attempts)
	}
}

func TestBridge_DialFailure(t *testing.T) {
	b := New("ws://127.0.0.1:1/nowhere", nil)
	defer b.Close()

	if err := b.NotifyEnqueued(context.Background(), "task-1"); err == nil {
		t.Fatal("expected dial error")
	}
	// Failed dials count toward backoff
	if b.attempts != 1 {
		t.Errorf("attempts = %d, want 1", b.attempts)
	}
}

func TestBridge_CloseIdempotent(t *testing.T) {
	server, _ := wsTestServer(t)

	b := New(wsURL(server), nil)
	if err := b.NotifyEnqueued(context.Background(), "task-1"); err != nil {
		t.Fatal(err)
	}

	if err := b.Close(); err != nil {
		t.Errorf("first Close: %v", err)
	}
	if err := b.Close(); err != nil {
		t.Errorf("second Close: %v", err)
	}
}
