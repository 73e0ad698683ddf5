package store

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"logibid/internal/opt"
)

// Memory is a simple in-memory ledger used when no DATABASE_URL is set.
type Memory struct {
	mu        sync.Mutex
	rounds    map[string]RoundRecord            // id -> round
	bySession map[string][]string               // session -> round ids in append order
	planMx    map[string]map[string]PlanMetrics // session -> fleet -> latest
}

func NewMemory() *Memory {
	return &Memory{
		rounds:    map[string]RoundRecord{},
		bySession: map[string][]string{},
		planMx:    map[string]map[string]PlanMetrics{},
	}
}

func (m *Memory) AppendRound(_ context.Context, r RoundRecord) (string, error) {
	if r.Session == "" {
		return "", fmt.Errorf("append round %d: empty session", r.Round)
	}
	r.ID = uuid.New().String()
	if r.At.IsZero() {
		r.At = time.Now().UTC()
	}
	r.Bids = append([]int64(nil), r.Bids...)
	m.mu.Lock()
	m.rounds[r.ID] = r
	m.bySession[r.Session] = append(m.bySession[r.Session], r.ID)
	m.mu.Unlock()
	return r.ID, nil
}

func (m *Memory) GetRound(_ context.Context, id string) (RoundRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rounds[id]
	if !ok {
		return RoundRecord{}, ErrNotFound
	}
	return r, nil
}

func (m *Memory) ListRounds(_ context.Context, session string) ([]RoundRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]RoundRecord, 0, len(m.bySession[session]))
	for _, id := range m.bySession[session] {
		out = append(out, m.rounds[id])
	}
	return out, nil
}

func (m *Memory) SavePlanMetrics(_ context.Context, session, fleet string, mx opt.Metrics) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.planMx[session] == nil {
		m.planMx[session] = map[string]PlanMetrics{}
	}
	m.planMx[session][fleet] = summarize(fleet, mx)
	return nil
}

func (m *Memory) ListPlanMetrics(_ context.Context, session string) (map[string]PlanMetrics, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := map[string]PlanMetrics{}
	for k, v := range m.planMx[session] {
		out[k] = v
	}
	return out, nil
}

func (m *Memory) Close() error { return nil }
