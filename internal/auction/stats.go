package auction

import "time"

// Share bounds for the own side of the estimation budget.
const (
	minShare = 0.2
	maxShare = 0.8
)

// Stats are the running statistics of the bidding loop. They only change
// through Observe.
type Stats struct {
	Rounds       int
	OwnWon       int
	AdvWon       int
	RewardWon    int64
	Discrepancy  float64 // running mean of observed minus predicted adversary bid
	Observations int     // rounds that fed Discrepancy
	OwnShare     float64 // fraction of the bid budget spent on the own fleet
}

func NewStats() Stats { return Stats{OwnShare: 0.5} }

// Outcome is what one auction round taught the agent.
type Outcome struct {
	Won           bool
	Price         int64   // own bid, counted as reward when Won
	Predicted     float64 // adversary marginal cost estimate
	HasPrediction bool
	Observed      int64 // best rival bid, NoBid when none
}

// Observe returns the statistics after o.
func (s Stats) Observe(o Outcome) Stats {
	s.Rounds++
	if o.Won {
		s.OwnWon++
		if o.Price > 0 {
			s.RewardWon += o.Price
		}
	} else {
		s.AdvWon++
	}
	if o.HasPrediction && o.Observed >= 0 {
		diff := float64(o.Observed) - o.Predicted
		if s.Observations == 0 {
			s.Discrepancy = diff
		} else {
			s.Discrepancy += (diff - s.Discrepancy) / float64(s.Observations+1)
		}
		s.Observations++
	}
	// Laplace-smoothed share of tasks handled by our side.
	share := float64(s.OwnWon+1) / float64(s.OwnWon+s.AdvWon+2)
	s.OwnShare = min(maxShare, max(minShare, share))
	return s
}

// Split divides an estimation budget between the own and adversary searches.
func (s Stats) Split(total time.Duration) (own, adv time.Duration) {
	share := s.OwnShare
	if share == 0 {
		share = 0.5
	}
	own = time.Duration(float64(total) * share)
	return own, total - own
}
