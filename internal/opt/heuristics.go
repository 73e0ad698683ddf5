package opt

import (
	"time"

	"logibid/internal/model"
)

// Polish applies first-improvement relocation of single steps within each agenda
// (or-opt of length 1) while it reduces route cost and the deadline allows.
// Moves that break precedence or capacity are skipped.
func Polish(sol *Solution, deadline time.Time) *Solution {
	seen := map[int]bool{}
	agendas := cloneAgendas(sol.agendas)
	changed := false
	for vi, v := range sol.vehicles {
		best := agendas[vi]
		bestCost := routeCost(sol.topo, v, best)
		for time.Now().Before(deadline) {
			next, c, ok := relocateOnce(sol, v, best, bestCost, seen)
			if !ok {
				break
			}
			best, bestCost = next, c
			agendas[vi] = best
			changed = true
		}
	}
	if !changed {
		return sol
	}
	return newOwned(sol.topo, sol.vehicles, agendas)
}

// relocateOnce returns the first feasible single-step relocation that beats cost.
func relocateOnce(sol *Solution, v model.Vehicle, agenda []Step, cost float64, seen map[int]bool) ([]Step, float64, bool) {
	n := len(agenda)
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			if j == i {
				continue
			}
			cand := relocateStep(agenda, i, j)
			if !feasible(v, cand, seen) {
				continue
			}
			if c := routeCost(sol.topo, v, cand); c+1e-6 < cost {
				return cand, c, true
			}
		}
	}
	return nil, 0, false
}

// relocateStep moves the step at i so that it ends up at index j.
func relocateStep(agenda []Step, i, j int) []Step {
	rest := make([]Step, 0, len(agenda)-1)
	rest = append(rest, agenda[:i]...)
	rest = append(rest, agenda[i+1:]...)
	out := make([]Step, 0, len(agenda))
	out = append(out, rest[:j]...)
	out = append(out, agenda[i])
	return append(out, rest[j:]...)
}
