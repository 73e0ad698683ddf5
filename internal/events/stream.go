package events

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Minimal subscribe protocol over WebSocket, modelled on graphql-transport-ws:
// connection_init -> connection_ack, subscribe {session} -> next* -> complete.

var upgrader = websocket.Upgrader{CheckOrigin: func(_ *http.Request) bool { return true }}

type wsMessage struct {
	Type    string          `json:"type"`
	ID      string          `json:"id,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

type subscribePayload struct {
	Session string   `json:"session"`
	Types   []string `json:"types,omitempty"` // empty means all event types
}

// StreamHandler serves /events/ws. A "session" query parameter subscribes
// immediately; otherwise clients send subscribe messages.
func StreamHandler(b EventBroker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer func() { _ = conn.Close() }()

		type sub struct {
			session string
			ch      chan Event
		}
		subs := map[string]sub{}
		var wmu sync.Mutex
		write := func(v any) error {
			wmu.Lock()
			defer wmu.Unlock()
			_ = conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			return conn.WriteJSON(v)
		}
		start := func(id string, pl subscribePayload) {
			ch := b.Subscribe(pl.Session)
			subs[id] = sub{session: pl.Session, ch: ch}
			want := map[string]bool{}
			for _, t := range pl.Types {
				want[t] = true
			}
			go func() {
				for evt := range ch {
					if len(want) > 0 && !want[evt.Type] {
						continue
					}
					payload, _ := json.Marshal(evt)
					if err := write(wsMessage{Type: "next", ID: id, Payload: payload}); err != nil {
						return
					}
				}
				_ = write(wsMessage{Type: "complete", ID: id})
			}()
		}

		if s := r.URL.Query().Get("session"); s != "" {
			start("0", subscribePayload{Session: s})
		}

		conn.SetReadLimit(1 << 20)
		_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		conn.SetPongHandler(func(string) error { _ = conn.SetReadDeadline(time.Now().Add(60 * time.Second)); return nil })

		for {
			var msg wsMessage
			if err := conn.ReadJSON(&msg); err != nil {
				break
			}
			_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))
			switch msg.Type {
			case "connection_init":
				_ = write(wsMessage{Type: "connection_ack"})
			case "ping":
				_ = write(wsMessage{Type: "pong"})
			case "subscribe":
				var pl subscribePayload
				if err := json.Unmarshal(msg.Payload, &pl); err != nil || pl.Session == "" {
					_ = write(wsMessage{Type: "error", ID: msg.ID, Payload: []byte(`{"message":"session required"}`)})
					_ = write(wsMessage{Type: "complete", ID: msg.ID})
					continue
				}
				if _, dup := subs[msg.ID]; dup {
					_ = write(wsMessage{Type: "error", ID: msg.ID, Payload: []byte(`{"message":"duplicate id"}`)})
					continue
				}
				start(msg.ID, pl)
			case "complete":
				if s0, ok := subs[msg.ID]; ok {
					b.Unsubscribe(s0.session, s0.ch)
					delete(subs, msg.ID)
				}
			default:
				// ignore
			}
		}
		// Cleanup
		for id, s0 := range subs {
			b.Unsubscribe(s0.session, s0.ch)
			delete(subs, id)
		}
	}
}
