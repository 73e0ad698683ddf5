package sim

import (
	"math"

	"logibid/internal/model"
	"logibid/internal/opt"
)

// Competitor bids its cheapest-insertion marginal cost plus a markup.
type Competitor struct {
	ID     int
	Markup float64

	sol   *opt.Solution
	tasks []model.Task
}

func NewCompetitor(id int, topo model.Topology, vehicles []model.Vehicle, markup float64) *Competitor {
	return &Competitor{ID: id, Markup: markup, sol: opt.Trivial(topo, vehicles)}
}

// Bid prices t. ok is false when no vehicle can carry it.
func (c *Competitor) Bid(t model.Task) (int64, bool) {
	with, err := opt.InsertTask(c.sol, t)
	if err != nil {
		return 0, false
	}
	marginal := math.Max(0, with.Cost-c.sol.Cost)
	return int64(math.Ceil(marginal * (1 + c.Markup))), true
}

// Won commits t.
func (c *Competitor) Won(t model.Task) error {
	with, err := opt.InsertTask(c.sol, t)
	if err != nil {
		return err
	}
	c.sol = with
	c.tasks = append(c.tasks, t)
	return nil
}

func (c *Competitor) Cost() float64 { return c.sol.Cost }

func (c *Competitor) Tasks() []model.Task { return append([]model.Task(nil), c.tasks...) }
