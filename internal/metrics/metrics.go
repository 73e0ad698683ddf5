package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

var (
	// Registry is the dedicated Prometheus registry for the agent
	Registry = prometheus.NewRegistry()
	// Bids counts auction rounds by outcome (won, lost, abstained)
	Bids = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "auction_bids_total", Help: "Auction rounds by outcome."},
		[]string{"outcome"},
	)
	// BidPrice records submitted bid prices by strategy
	BidPrice = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{Name: "auction_bid_price", Help: "Submitted bid prices.", Buckets: prometheus.ExponentialBuckets(50, 2, 10)},
		[]string{"strategy"},
	)
	// Discrepancy is the running mean gap between observed and predicted adversary bids
	Discrepancy = prometheus.NewGauge(
		prometheus.GaugeOpts{Name: "auction_adversary_discrepancy", Help: "Running mean of observed minus predicted adversary bid."},
	)
	// RewardWon is the sum of winning bids so far
	RewardWon = prometheus.NewGauge(
		prometheus.GaugeOpts{Name: "auction_reward_won", Help: "Cumulative reward of won tasks."},
	)

	// OptimizerIterations counts local search iterations by fleet (own, adversary, plan)
	OptimizerIterations = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "optimizer_iterations_total", Help: "Local search iterations by fleet."},
		[]string{"fleet"},
	)
	// OptimizerBestCost is the best cost of the latest run per fleet
	OptimizerBestCost = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{Name: "optimizer_best_cost", Help: "Best solution cost of the latest run."},
		[]string{"fleet"},
	)
	// ValueSweeps counts value-iteration sweeps
	ValueSweeps = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "mdp_value_sweeps_total", Help: "Value-iteration sweeps."},
	)
	// PhaseDuration records phase durations in seconds (setup, bid, result, plan)
	PhaseDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{Name: "agent_phase_duration_seconds", Help: "Agent phase duration in seconds.", Buckets: prometheus.DefBuckets},
		[]string{"phase"},
	)
	// EventsPublished counts broker publishes by event type
	EventsPublished = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "events_published_total", Help: "Published agent events by type."},
		[]string{"event_type"},
	)
)

// RegisterDefault registers collectors to the agent registry.
func RegisterDefault() {
	regOnce.Do(func() {
		Registry.MustRegister(Bids)
		Registry.MustRegister(BidPrice)
		Registry.MustRegister(Discrepancy)
		Registry.MustRegister(RewardWon)
		Registry.MustRegister(OptimizerIterations)
		Registry.MustRegister(OptimizerBestCost)
		Registry.MustRegister(ValueSweeps)
		Registry.MustRegister(PhaseDuration)
		Registry.MustRegister(EventsPublished)
		// Go/process collectors on our registry
		Registry.MustRegister(collectors.NewGoCollector())
		Registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	})
}

var regOnce sync.Once
