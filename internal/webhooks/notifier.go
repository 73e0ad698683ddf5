// Package webhooks delivers agent events to an HTTP endpoint, signed with a
// shared secret and retried with exponential backoff.
package webhooks

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	"logibid/internal/events"
	"logibid/internal/logging"
)

type delivery struct {
	id        string
	eventType string
	body      []byte
	attempts  int
}

// Notifier is an events.Publisher that POSTs every event to URL. Publish never
// blocks; when the queue is full the event is dropped and logged.
type Notifier struct {
	URL         string
	Secret      string
	HTTP        *http.Client
	MaxAttempts int
	Types       map[string]bool // nil means every type
	Backoff     func(attempts int) time.Duration

	mu     sync.RWMutex
	closed bool
	queue  chan delivery
	cancel context.CancelFunc
	wg     sync.WaitGroup
	log    *slog.Logger
}

func NewNotifier(url, secret string) *Notifier {
	return &Notifier{
		URL:         url,
		Secret:      secret,
		HTTP:        &http.Client{Timeout: 5 * time.Second},
		MaxAttempts: 5,
		Backoff:     nextBackoff,
		queue:       make(chan delivery, 256),
		log:         logging.New("webhooks"),
	}
}

// NewNotifierFromEnv reads WEBHOOK_URL, WEBHOOK_SECRET and WEBHOOK_MAX_ATTEMPTS.
// It returns nil when WEBHOOK_URL is unset.
func NewNotifierFromEnv() *Notifier {
	url := os.Getenv("WEBHOOK_URL")
	if url == "" {
		return nil
	}
	n := NewNotifier(url, os.Getenv("WEBHOOK_SECRET"))
	if v := os.Getenv("WEBHOOK_MAX_ATTEMPTS"); v != "" {
		if m, err := strconv.Atoi(v); err == nil && m > 0 {
			n.MaxAttempts = m
		}
	}
	return n
}

// Publish enqueues evt for delivery.
func (n *Notifier) Publish(session string, evt events.Event) {
	if n.Types != nil && !n.Types[evt.Type] {
		return
	}
	payload := map[string]any{
		"id":      "evt_" + uuid.NewString(),
		"type":    evt.Type,
		"session": session,
		"ts":      time.Now().UTC().Format(time.RFC3339),
		"data":    evt.Data,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		n.log.Error("encode event", "type", evt.Type, "error", err)
		return
	}
	n.mu.RLock()
	defer n.mu.RUnlock()
	if n.closed {
		return
	}
	select {
	case n.queue <- delivery{id: payload["id"].(string), eventType: evt.Type, body: body}:
	default:
		n.log.Warn("webhook queue full, dropping event", "type", evt.Type, "session", session)
	}
}

// Start delivers queued events in the background until ctx is done or Close
// gives up waiting.
func (n *Notifier) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	n.mu.Lock()
	n.cancel = cancel
	n.mu.Unlock()
	n.wg.Add(1)
	go n.run(ctx)
}

func (n *Notifier) run(ctx context.Context) {
	defer n.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case d, ok := <-n.queue:
			if !ok {
				return
			}
			n.deliver(ctx, d)
		}
	}
}

// Close stops accepting events and waits for the queue to drain until ctx is
// done. After that in-flight retries are cancelled and every undelivered event
// is logged as dropped; the result is then ctx.Err().
func (n *Notifier) Close(ctx context.Context) error {
	n.mu.Lock()
	if !n.closed {
		n.closed = true
		close(n.queue)
	}
	cancel := n.cancel
	n.mu.Unlock()

	drained := make(chan struct{})
	go func() {
		n.wg.Wait()
		close(drained)
	}()
	var err error
	select {
	case <-drained:
	case <-ctx.Done():
		err = ctx.Err()
		if cancel != nil {
			cancel()
		}
		<-drained
	}
	if cancel != nil {
		cancel()
	}
	for d := range n.queue {
		n.log.Error("webhook dropped", "id", d.id, "type", d.eventType, "attempts", d.attempts)
	}
	return err
}

func (n *Notifier) deliver(ctx context.Context, d delivery) {
	for {
		code, err := n.post(ctx, d)
		d.attempts++
		if err == nil {
			n.log.Debug("webhook delivered", "id", d.id, "type", d.eventType, "attempts", d.attempts)
			return
		}
		if d.attempts >= n.MaxAttempts {
			n.log.Error("webhook failed", "id", d.id, "type", d.eventType, "code", code, "attempts", d.attempts, "error", err)
			return
		}
		select {
		case <-ctx.Done():
			n.log.Error("webhook dropped", "id", d.id, "type", d.eventType, "attempts", d.attempts, "error", ctx.Err())
			return
		case <-time.After(n.Backoff(d.attempts - 1)):
		}
	}
}

func (n *Notifier) post(ctx context.Context, d delivery) (int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.URL, bytes.NewReader(d.body))
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Event-Type", d.eventType)
	req.Header.Set("X-Event-Id", d.id)
	if n.Secret != "" {
		req.Header.Set("X-Signature", Sign(n.Secret, d.body))
	}
	resp, err := n.HTTP.Do(req)
	if err != nil {
		return 0, err
	}
	_ = resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return resp.StatusCode, fmt.Errorf("webhook: status %d", resp.StatusCode)
	}
	return resp.StatusCode, nil
}

func nextBackoff(attempts int) time.Duration {
	if attempts < 0 {
		attempts = 0
	}
	if attempts > 10 {
		attempts = 10
	}
	base := time.Second * time.Duration(1<<attempts)
	if base > time.Minute {
		base = time.Minute
	}
	return base
}
