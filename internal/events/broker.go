// Package events fans agent events (bids, results, plans) out to subscribers,
// in process or over Redis pub/sub, keyed by session.
package events

import (
	"sync"

	"logibid/internal/metrics"
)

// Event types.
const (
	TypeBid    = "auction.bid"
	TypeResult = "auction.result"
	TypePlan   = "plan.ready"
)

type Event struct {
	Type string         `json:"type"`
	Data map[string]any `json:"data"`
}

// Publisher is the write side used by the agent.
type Publisher interface {
	Publish(session string, evt Event)
}

// EventBroker is implemented by Broker and RedisBroker.
type EventBroker interface {
	Publisher
	Subscribe(session string) chan Event
	Unsubscribe(session string, ch chan Event)
}

// Broker is an in-memory EventBroker. Slow subscribers miss events rather than
// block publishers.
type Broker struct {
	mu   sync.Mutex
	subs map[string]map[chan Event]struct{} // session -> set of channels
}

func NewBroker() *Broker {
	return &Broker{subs: map[string]map[chan Event]struct{}{}}
}

func (b *Broker) Subscribe(session string) chan Event {
	ch := make(chan Event, 8)
	b.mu.Lock()
	if b.subs[session] == nil {
		b.subs[session] = map[chan Event]struct{}{}
	}
	b.subs[session][ch] = struct{}{}
	b.mu.Unlock()
	return ch
}

func (b *Broker) Unsubscribe(session string, ch chan Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	m := b.subs[session]
	if _, ok := m[ch]; !ok {
		return
	}
	delete(m, ch)
	if len(m) == 0 {
		delete(b.subs, session)
	}
	close(ch)
}

func (b *Broker) Publish(session string, evt Event) {
	metrics.EventsPublished.WithLabelValues(evt.Type).Inc()
	b.mu.Lock()
	m := b.subs[session]
	for ch := range m {
		select {
		case ch <- evt:
		default:
		}
	}
	b.mu.Unlock()
}

// Discard drops every event.
type Discard struct{}

func (Discard) Publish(string, Event) {}

type tee []Publisher

func (t tee) Publish(session string, evt Event) {
	for _, p := range t {
		p.Publish(session, evt)
	}
}

// Tee publishes every event to each non-nil publisher in order.
func Tee(pubs ...Publisher) Publisher {
	var t tee
	for _, p := range pubs {
		if p != nil {
			t = append(t, p)
		}
	}
	return t
}
