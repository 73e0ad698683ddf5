package opt

import (
	"fmt"
	"math"

	"logibid/internal/model"
)

// InsertTask returns a copy of sol with t added at its cheapest feasible
// pickup/delivery positions. Goodness equals Cost on the result.
func InsertTask(sol *Solution, t model.Task) (*Solution, error) {
	seen := map[int]bool{}
	vi, a, ok := cheapestInsertion(sol.topo, sol.vehicles, sol.agendas, t, seen)
	if !ok {
		return nil, fmt.Errorf("task %d (weight %.1f): %w", t.ID, t.Weight, ErrInfeasible)
	}
	agendas := cloneAgendas(sol.agendas)
	agendas[vi] = a
	return newOwned(sol.topo, sol.vehicles, agendas), nil
}

// cheapestInsertion tries every vehicle and every pickup/delivery position pair,
// keeping the feasible one with the smallest route-cost increase.
func cheapestInsertion(topo model.Topology, vehicles []model.Vehicle, agendas [][]Step, t model.Task, seen map[int]bool) (int, []Step, bool) {
	bestVI, bestCost := -1, math.MaxFloat64
	var bestAgenda []Step
	for vi, v := range vehicles {
		if !v.CanCarry(t) {
			continue
		}
		base := agendas[vi]
		before := routeCost(topo, v, base)
		for i := 0; i <= len(base); i++ {
			for j := i + 1; j <= len(base)+1; j++ {
				cand := insertPair(base, t, i, j)
				if !feasible(v, cand, seen) {
					continue
				}
				if d := routeCost(topo, v, cand) - before; d < bestCost {
					bestVI, bestCost, bestAgenda = vi, d, cand
				}
			}
		}
	}
	return bestVI, bestAgenda, bestVI >= 0
}
