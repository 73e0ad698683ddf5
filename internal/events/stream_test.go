package events

import (
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

func dial(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

// readType reads messages until one of type typ arrives.
func readType(t *testing.T, conn *websocket.Conn, typ string) wsMessage {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	for {
		var msg wsMessage
		if err := conn.ReadJSON(&msg); err != nil {
			t.Fatalf("waiting for %s: %v", typ, err)
		}
		if msg.Type == typ {
			return msg
		}
	}
}

func TestStreamHandlerQuerySession(t *testing.T) {
	b := NewBroker()
	srv := httptest.NewServer(StreamHandler(b))
	defer srv.Close()
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/events/ws?session=abc"

	conn := dial(t, wsURL)
	if err := conn.WriteJSON(wsMessage{Type: "connection_init"}); err != nil {
		t.Fatalf("init: %v", err)
	}
	readType(t, conn, "connection_ack")

	b.Publish("abc", Event{Type: TypeResult, Data: map[string]any{"winner": 1}})
	msg := readType(t, conn, "next")
	var evt Event
	if err := json.Unmarshal(msg.Payload, &evt); err != nil {
		t.Fatalf("payload: %v", err)
	}
	if evt.Type != TypeResult || evt.Data["winner"].(float64) != 1 {
		t.Fatalf("bad event %+v", evt)
	}
}

func TestStreamHandlerSubscribeFilters(t *testing.T) {
	b := NewBroker()
	srv := httptest.NewServer(StreamHandler(b))
	defer srv.Close()
	conn := dial(t, "ws"+strings.TrimPrefix(srv.URL, "http"))

	_ = conn.WriteJSON(wsMessage{Type: "subscribe", ID: "x", Payload: json.RawMessage(`{}`)})
	if msg := readType(t, conn, "error"); msg.ID != "x" {
		t.Fatalf("error for id %q", msg.ID)
	}

	_ = conn.WriteJSON(wsMessage{Type: "subscribe", ID: "p", Payload: json.RawMessage(`{"session":"s","types":["plan.ready"]}`)})
	_ = conn.WriteJSON(wsMessage{Type: "ping"})
	readType(t, conn, "pong")

	b.Publish("s", Event{Type: TypeBid})
	b.Publish("s", Event{Type: TypePlan})
	msg := readType(t, conn, "next")
	var evt Event
	_ = json.Unmarshal(msg.Payload, &evt)
	if evt.Type != TypePlan {
		t.Fatalf("filter let through %s", evt.Type)
	}
}
