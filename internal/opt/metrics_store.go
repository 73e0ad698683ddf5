package opt

import "sync"

type key struct {
	Agent string
	Fleet string
}

var (
	mu    sync.Mutex
	store = map[key]Metrics{}
)

// RecordMetrics keeps the latest run metrics for an agent's fleet ("own" or
// "adversary"), replacing the previous entry.
func RecordMetrics(agent, fleet string, m Metrics) {
	mu.Lock()
	store[key{Agent: agent, Fleet: fleet}] = m
	mu.Unlock()
}

// GetMetrics returns the latest metrics per fleet for agent.
func GetMetrics(agent string) map[string]Metrics {
	mu.Lock()
	defer mu.Unlock()
	out := map[string]Metrics{}
	for k, v := range store {
		if k.Agent == agent {
			out[k.Fleet] = v
		}
	}
	return out
}
