// Package main tails the event stream of an auction session.
//
//	go run ./scripts -addr localhost:9090 -session <uuid> [-types auction.result,plan.ready] [-token <jwt>]
package main

import (
	"encoding/json"
	"flag"
	"log"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strings"

	"github.com/gorilla/websocket"
)

type wsMessage struct {
	Type    string          `json:"type"`
	ID      string          `json:"id,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

func main() {
	addr := flag.String("addr", "localhost:9090", "agent HTTP address")
	session := flag.String("session", "", "session to follow (required)")
	types := flag.String("types", "", "comma separated event types, empty for all")
	token := flag.String("token", os.Getenv("AGENT_TOKEN"), "bearer token when the agent runs with AUTH_MODE=hmac")
	flag.Parse()
	if *session == "" {
		flag.Usage()
		os.Exit(2)
	}

	u := url.URL{Scheme: "ws", Host: *addr, Path: "/events/ws"}
	hdr := http.Header{}
	if *token != "" {
		hdr.Set("Authorization", "Bearer "+*token)
	}
	c, _, err := websocket.DefaultDialer.Dial(u.String(), hdr)
	if err != nil {
		log.Fatal("dial:", err)
	}
	defer func() { _ = c.Close() }()

	if err := c.WriteJSON(wsMessage{Type: "connection_init"}); err != nil {
		log.Fatal(err)
	}
	sub := map[string]any{"session": *session}
	if *types != "" {
		sub["types"] = strings.Split(*types, ",")
	}
	pl, _ := json.Marshal(sub)
	if err := c.WriteJSON(wsMessage{Type: "subscribe", ID: "1", Payload: pl}); err != nil {
		log.Fatal(err)
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			var m wsMessage
			if err := c.ReadJSON(&m); err != nil {
				log.Printf("read: %v", err)
				return
			}
			log.Printf("%s %s", m.Type, string(m.Payload))
			if m.Type == "complete" {
				return
			}
		}
	}()

	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt)
	select {
	case <-done:
	case <-interrupt:
		_ = c.WriteJSON(wsMessage{Type: "complete", ID: "1"})
	}
}
