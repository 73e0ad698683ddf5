package auction

import (
	"math"
	"math/rand"

	"logibid/internal/config"
)

// Strategy selects how the base price is derived.
type Strategy int

const (
	Breakeven Strategy = iota // total cost with the task minus reward already won
	Marginal                  // marginal cost plus a margin
	Undercut                  // just below the adversary estimate
	numStrategies
)

func (s Strategy) String() string {
	switch s {
	case Breakeven:
		return config.StrategyBreakeven
	case Marginal:
		return config.StrategyMarginal
	default:
		return config.StrategyAdversary
	}
}

// Quote carries the cost estimates for one auctioned task.
type Quote struct {
	OwnMarginal  float64 // own cost with the task minus committed cost
	OwnTotal     float64 // own cost with the task
	RewardWon    int64
	AdvEstimate  float64 // adversary marginal cost plus the running discrepancy
	HasAdv       bool
	PositionGain float64 // change of summed terminal values caused by the task
}

// Pricing holds the price shaping parameters.
type Pricing struct {
	Margin         float64
	Undercut       float64
	Blend          float64
	SafetyMargin   float64
	PositionWeight float64
}

func pricingFrom(cfg config.Config) Pricing {
	return Pricing{
		Margin:         cfg.Margin,
		Undercut:       cfg.Undercut,
		Blend:          cfg.Blend,
		SafetyMargin:   cfg.SafetyMargin,
		PositionWeight: cfg.PositionWeight,
	}
}

// Base is the strategy's raw price. Undercut falls back to Marginal when there
// is no adversary estimate.
func (p Pricing) Base(s Strategy, q Quote) float64 {
	switch s {
	case Breakeven:
		return q.OwnTotal - float64(q.RewardWon)
	case Undercut:
		if q.HasAdv {
			return q.AdvEstimate * (1 - p.Undercut)
		}
	}
	return q.OwnMarginal * (1 + p.Margin)
}

// Price shapes the base price into the bid: subtract the weighted position
// gain, clamp at zero, then move a Blend fraction toward the adversary estimate
// when below it, or add the safety margin otherwise.
func (p Pricing) Price(s Strategy, q Quote) int64 {
	price := p.Base(s, q) - p.PositionWeight*q.PositionGain
	price = math.Max(0, price)
	if q.HasAdv && price < q.AdvEstimate {
		price += p.Blend * (q.AdvEstimate - price)
	} else {
		price += p.SafetyMargin
	}
	if math.IsNaN(price) || math.IsInf(price, 0) {
		return 0
	}
	return int64(math.Ceil(math.Max(0, price)))
}

// pickStrategy resolves the configured strategy; "mixed" draws one with the
// configured weights.
func pickStrategy(name string, weights []float64, rng *rand.Rand) Strategy {
	switch name {
	case config.StrategyBreakeven:
		return Breakeven
	case config.StrategyMarginal:
		return Marginal
	case config.StrategyAdversary:
		return Undercut
	}
	sum := 0.0
	for _, w := range weights {
		sum += w
	}
	if len(weights) != int(numStrategies) || sum <= 0 {
		return Marginal
	}
	r := rng.Float64() * sum
	acc := 0.0
	for i, w := range weights {
		acc += w
		if r < acc {
			return Strategy(i)
		}
	}
	return Strategy(len(weights) - 1)
}
