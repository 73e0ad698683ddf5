package topology

import (
	"fmt"
	"math/rand"

	"logibid/internal/model"
)

// Distribution is a table-driven model.TaskDistribution.
type Distribution struct {
	n      int
	prob   []float64
	reward []float64
}

// NewDistribution validates an explicit probability/reward table. Per origin city
// the probabilities must sum to at most 1; the remainder means "no task".
func NewDistribution(g *Graph, prob, reward [][]float64) (*Distribution, error) {
	n := len(g.cities)
	if len(prob) != n || len(reward) != n {
		return nil, fmt.Errorf("distribution: want %d rows, got prob=%d reward=%d", n, len(prob), len(reward))
	}
	d := &Distribution{n: n, prob: make([]float64, n*n), reward: make([]float64, n*n)}
	for i := 0; i < n; i++ {
		if len(prob[i]) != n || len(reward[i]) != n {
			return nil, fmt.Errorf("distribution: row %d has wrong width", i)
		}
		sum := 0.0
		for j := 0; j < n; j++ {
			p := prob[i][j]
			if p < 0 || (i == j && p != 0) {
				return nil, fmt.Errorf("distribution: invalid probability %.3f at %d,%d", p, i, j)
			}
			sum += p
			d.prob[i*n+j] = p
			d.reward[i*n+j] = reward[i][j]
		}
		if sum > 1+1e-9 {
			return nil, fmt.Errorf("distribution: row %d sums to %.3f", i, sum)
		}
	}
	return d, nil
}

// Uniform spreads probability p of a task appearing in each city evenly over the
// other cities; rewards are rewardPerKm times the shortest distance.
func Uniform(g *Graph, p, rewardPerKm float64) *Distribution {
	n := len(g.cities)
	d := &Distribution{n: n, prob: make([]float64, n*n), reward: make([]float64, n*n)}
	if n < 2 {
		return d
	}
	each := p / float64(n-1)
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			if i == j {
				continue
			}
			d.prob[i*n+j] = each
			d.reward[i*n+j] = rewardPerKm * g.Distance(model.CityID(i), model.CityID(j))
		}
	}
	return d
}

func (d *Distribution) Probability(from, to model.CityID) float64 {
	return d.prob[int(from)*d.n+int(to)]
}

func (d *Distribution) Reward(from, to model.CityID) float64 {
	return d.reward[int(from)*d.n+int(to)]
}

// Draw samples a task proportionally to the pairwise probabilities.
func (d *Distribution) Draw(id int, rng *rand.Rand, maxWeight float64) model.Task {
	total := 0.0
	for _, p := range d.prob {
		total += p
	}
	r := rng.Float64() * total
	acc := 0.0
	idx := len(d.prob) - 1
	for i, p := range d.prob {
		acc += p
		if p > 0 && r <= acc {
			idx = i
			break
		}
	}
	from, to := idx/d.n, idx%d.n
	w := maxWeight
	if maxWeight >= 1 {
		w = float64(1 + rng.Intn(int(maxWeight)))
	}
	return model.Task{
		ID:       id,
		Pickup:   model.CityID(from),
		Delivery: model.CityID(to),
		Weight:   w,
		Reward:   int64(d.reward[idx]),
	}
}
