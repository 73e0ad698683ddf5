package opt

import (
	"errors"
	"fmt"
	"math"
	"math/rand"
	"sort"
	"time"

	"golang.org/x/time/rate"

	"logibid/internal/logging"
	"logibid/internal/model"
)

// ErrInfeasible means some task is heavier than every vehicle's capacity.
var ErrInfeasible = errors.New("opt: task cannot be carried by any vehicle")

// TerminalValuer estimates the value of a vehicle finishing its route in a city.
type TerminalValuer interface {
	TerminalValue(v model.Vehicle, city model.CityID) float64
}

// Move operators, in roulette-wheel order.
const (
	MoveTransfer = iota // pickup/delivery pair to another vehicle
	MoveRelocate        // one step to another position of the same agenda
	MoveSwap            // two steps of the same agenda
	numMoves
)

type Problem struct {
	Topology model.Topology
	Vehicles []model.Vehicle
	Tasks    []model.Task

	Values      TerminalValuer // optional; Goodness = Cost - ValueWeight*Σ terminal values
	ValueWeight float64
	Focus       *int      // ID of a newly auctioned task; moves favour it
	Seed        *Solution // resume from this assignment

	ArchiveSize        int
	IterationsLimit    int     // optional iteration cap
	InitialTemp        float64 // 0 derives it from the initial cost
	Cooling            float64 // per iteration, in (0,1)
	InitialMoveWeights []float64
	Label              string // fleet name for logs
}

type Metrics struct {
	MoveSelects      [numMoves]int
	Iterations       int
	Improvements     int
	AcceptedWorse    int
	Infeasible       int
	InitialCost      float64
	BestCost         float64
	FinalCost        float64
	FinalMoveWeights [numMoves]float64
	Snapshots        []WeightSnapshot
	Elapsed          time.Duration
}

type WeightSnapshot struct {
	Iteration int
	Weights   [numMoves]float64
}

const (
	snapshotEvery = 500
	maxStuck      = 1000
)

// Solve runs stochastic local search until the budget elapses (or the iteration
// cap is hit) and returns the best distinct solutions visited. Every generated
// candidate is feasible. A fixed seed and iteration cap give a reproducible run.
func Solve(p Problem, seed int64, timeBudget time.Duration) (*Archive, Metrics, error) {
	start := time.Now()
	deadline := start.Add(timeBudget)
	if seed == 0 {
		seed = start.UnixNano()
	}
	for _, t := range p.Tasks {
		if !anyCarrier(p.Vehicles, t) {
			return nil, Metrics{}, fmt.Errorf("task %d (weight %.1f): %w", t.ID, t.Weight, ErrInfeasible)
		}
	}
	log := logging.New("sls").With("fleet", p.Label)
	s := newSearch(p, rand.New(rand.NewSource(seed)))
	archive := NewArchive(p.ArchiveSize)

	curr := s.initial()
	archive.Add(curr)
	best := curr
	m := Metrics{InitialCost: curr.Cost, BestCost: curr.Cost}
	if len(p.Tasks) == 0 {
		m.FinalCost = curr.Cost
		m.Elapsed = time.Since(start)
		return archive, m, nil
	}

	moveW := []float64{1, 1, 1}
	if len(p.InitialMoveWeights) == numMoves {
		copy(moveW, p.InitialMoveWeights)
	}
	temp := p.InitialTemp
	if temp <= 0 {
		temp = math.Max(1, 0.05*curr.Cost)
	}
	cool := 0.999
	if p.Cooling > 0 && p.Cooling < 1 {
		cool = p.Cooling
	}
	progress := rate.Sometimes{Interval: 250 * time.Millisecond}
	stuck := 0

	for time.Now().Before(deadline) {
		if p.IterationsLimit > 0 && m.Iterations >= p.IterationsLimit {
			break
		}
		m.Iterations++
		op := selectOp(moveW, s.rng)
		m.MoveSelects[op]++
		cand := s.neighbor(curr, op)
		if cand == nil {
			m.Infeasible++
			moveW[op] = math.Max(0.01, moveW[op]*0.999)
			// No move applies (e.g. one vehicle, one task): nothing left to explore.
			if stuck++; stuck >= maxStuck {
				break
			}
			continue
		}
		stuck = 0
		archive.Add(cand)
		// acceptance criterion (simulated annealing)
		delta := cand.Goodness - curr.Goodness
		if delta < 0 || s.rng.Float64() < math.Exp(-delta/(temp+1e-9)) {
			curr = cand
			if cand.Goodness < best.Goodness {
				best = cand
				moveW[op] += 0.1
				m.Improvements++
				m.BestCost = best.Cost
			} else {
				moveW[op] += 0.01
				if delta > 0 {
					m.AcceptedWorse++
				}
			}
		} else {
			// slight penalty for non-acceptance
			moveW[op] = math.Max(0.01, moveW[op]*0.999)
		}
		temp *= cool
		if m.Iterations%snapshotEvery == 0 {
			m.Snapshots = append(m.Snapshots, WeightSnapshot{Iteration: m.Iterations, Weights: [numMoves]float64{moveW[0], moveW[1], moveW[2]}})
		}
		progress.Do(func() {
			log.Debug("search progress", "iterations", m.Iterations, "best", best.Cost, "current", curr.Cost, "temp", temp)
		})
	}
	m.FinalCost = archive.First().Cost
	m.FinalMoveWeights = [numMoves]float64{moveW[0], moveW[1], moveW[2]}
	m.Elapsed = time.Since(start)
	log.Debug("search done", "iterations", m.Iterations, "initial", m.InitialCost, "final", m.FinalCost, "elapsed", m.Elapsed)
	return archive, m, nil
}

func anyCarrier(vehicles []model.Vehicle, t model.Task) bool {
	for _, v := range vehicles {
		if v.CanCarry(t) {
			return true
		}
	}
	return false
}

// search holds the per-run state shared by construction and moves.
type search struct {
	p    Problem
	rng  *rand.Rand
	seen map[int]bool
}

func newSearch(p Problem, rng *rand.Rand) *search {
	return &search{p: p, rng: rng, seen: map[int]bool{}}
}

// build wraps owned agendas into a Solution and applies the terminal-value heuristic.
func (s *search) build(agendas [][]Step) *Solution {
	if debugChecks {
		for i, v := range s.p.Vehicles {
			if !feasible(v, agendas[i], s.seen) {
				panic(fmt.Sprintf("opt: infeasible agenda for vehicle %d: %v", v.ID, agendas[i]))
			}
		}
	}
	sol := newOwned(s.p.Topology, s.p.Vehicles, agendas)
	if s.p.Values != nil && s.p.ValueWeight != 0 {
		bonus := 0.0
		for i, v := range s.p.Vehicles {
			bonus += s.p.Values.TerminalValue(v, sol.EndCity(i))
		}
		sol.Goodness = sol.Cost - s.p.ValueWeight*bonus
	}
	return sol
}

// initial resumes from the seed when given, otherwise builds a greedy assignment.
func (s *search) initial() *Solution {
	if s.p.Seed != nil {
		return s.fromSeed(s.p.Seed)
	}
	return s.greedySeed()
}

// greedySeed assigns round robin: each vehicle in turn appends the unassigned task
// that is cheapest to serve from its current end city. Appending a full
// pickup/delivery pair keeps the load at one task, so it is always feasible.
func (s *search) greedySeed() *Solution {
	tasks := sortedTasks(s.p.Tasks)
	n := len(tasks)
	used := make([]bool, n)
	agendas := make([][]Step, len(s.p.Vehicles))
	ends := make([]model.CityID, len(s.p.Vehicles))
	for vi, v := range s.p.Vehicles {
		ends[vi] = v.Home
	}
	for assigned := 0; assigned < n; {
		progress := false
		for vi, v := range s.p.Vehicles {
			bestIdx, bestDelta := -1, math.MaxFloat64
			for i, t := range tasks {
				if used[i] || !v.CanCarry(t) {
					continue
				}
				d := (s.p.Topology.Distance(ends[vi], t.Pickup) + s.p.Topology.Distance(t.Pickup, t.Delivery)) * v.CostPerKm
				if d < bestDelta {
					bestDelta = d
					bestIdx = i
				}
			}
			if bestIdx >= 0 {
				t := tasks[bestIdx]
				agendas[vi] = append(agendas[vi], Step{Task: t, Role: Pickup}, Step{Task: t, Role: Delivery})
				ends[vi] = t.Delivery
				used[bestIdx] = true
				assigned++
				progress = true
				if assigned == n {
					break
				}
			}
		}
		if !progress {
			break
		}
	}
	return s.build(agendas)
}

// fromSeed maps the seed's agendas onto the problem's vehicles by ID, drops tasks
// that are no longer part of the problem and inserts the missing ones cheaply.
func (s *search) fromSeed(seed *Solution) *Solution {
	want := make(map[int]bool, len(s.p.Tasks))
	for _, t := range s.p.Tasks {
		want[t.ID] = true
	}
	byVehicle := make(map[int][]Step, len(seed.vehicles))
	for i, v := range seed.vehicles {
		byVehicle[v.ID] = seed.agendas[i]
	}
	have := map[int]bool{}
	agendas := make([][]Step, len(s.p.Vehicles))
	for vi, v := range s.p.Vehicles {
		for _, st := range byVehicle[v.ID] {
			if want[st.Task.ID] && v.CanCarry(st.Task) {
				agendas[vi] = append(agendas[vi], st)
				have[st.Task.ID] = true
			}
		}
		// A seed built for another capacity could overflow; serve its tasks one by one.
		if !feasible(v, agendas[vi], s.seen) {
			agendas[vi] = sequential(agendas[vi])
		}
	}
	for _, t := range sortedTasks(s.p.Tasks) {
		if have[t.ID] {
			continue
		}
		vi, a, ok := cheapestInsertion(s.p.Topology, s.p.Vehicles, agendas, t, s.seen)
		if !ok {
			continue // unreachable: Solve rejects tasks nobody can carry
		}
		agendas[vi] = a
	}
	return s.build(agendas)
}

// sequential rewrites an agenda as back-to-back pickup/delivery pairs in pickup order.
func sequential(agenda []Step) []Step {
	out := make([]Step, 0, len(agenda))
	for _, st := range agenda {
		if st.Role == Pickup {
			out = append(out, st, Step{Task: st.Task, Role: Delivery})
		}
	}
	return out
}

func sortedTasks(tasks []model.Task) []model.Task {
	out := append([]model.Task(nil), tasks...)
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// neighbor applies one move of kind op to curr, or returns nil when the draw
// produced nothing feasible.
func (s *search) neighbor(curr *Solution, op int) *Solution {
	switch op {
	case MoveTransfer:
		return s.transfer(curr)
	case MoveRelocate:
		return s.relocate(curr)
	default:
		return s.swap(curr)
	}
}

const placementTries = 4

// transfer moves one task's pickup/delivery pair to another vehicle at random
// positions, falling back to appending it when random placements overflow.
func (s *search) transfer(curr *Solution) *Solution {
	from, task, ok := s.pickTask(curr)
	if !ok {
		return nil
	}
	var targets []int
	for vi, v := range s.p.Vehicles {
		if vi != from && v.CanCarry(task) {
			targets = append(targets, vi)
		}
	}
	if len(targets) == 0 {
		return nil
	}
	to := targets[s.rng.Intn(len(targets))]
	agendas := cloneAgendas(curr.agendas)
	agendas[from] = removeTask(agendas[from], task.ID)
	base := agendas[to]
	v := s.p.Vehicles[to]
	for try := 0; try < placementTries; try++ {
		i := s.rng.Intn(len(base) + 1)
		j := i + 1 + s.rng.Intn(len(base)-i+1)
		cand := insertPair(base, task, i, j)
		if feasible(v, cand, s.seen) {
			agendas[to] = cand
			return s.build(agendas)
		}
	}
	agendas[to] = insertPair(base, task, len(base), len(base)+1)
	return s.build(agendas)
}

// pickTask chooses the focus task with some probability, otherwise a uniform task.
func (s *search) pickTask(curr *Solution) (int, model.Task, bool) {
	if s.p.Focus != nil && s.rng.Float64() < 0.3 {
		for vi, a := range curr.agendas {
			for _, st := range a {
				if st.Task.ID == *s.p.Focus {
					return vi, st.Task, true
				}
			}
		}
	}
	total := curr.NumTasks()
	if total == 0 {
		return 0, model.Task{}, false
	}
	k := s.rng.Intn(total)
	for vi, a := range curr.agendas {
		for _, st := range a {
			if st.Role != Pickup {
				continue
			}
			if k == 0 {
				return vi, st.Task, true
			}
			k--
		}
	}
	return 0, model.Task{}, false
}

// pickAgenda returns a random vehicle holding at least two tasks.
func (s *search) pickAgenda(curr *Solution) (int, bool) {
	var busy []int
	for vi, a := range curr.agendas {
		if len(a) >= 4 {
			busy = append(busy, vi)
		}
	}
	if len(busy) == 0 {
		return 0, false
	}
	return busy[s.rng.Intn(len(busy))], true
}

// relocate moves one step to another position within its vehicle's agenda.
func (s *search) relocate(curr *Solution) *Solution {
	vi, ok := s.pickAgenda(curr)
	if !ok {
		return nil
	}
	a := curr.agendas[vi]
	n := len(a)
	for try := 0; try < placementTries; try++ {
		i, j := s.rng.Intn(n), s.rng.Intn(n)
		if i == j {
			continue
		}
		cand := relocateStep(a, i, j)
		if feasible(s.p.Vehicles[vi], cand, s.seen) {
			agendas := cloneAgendas(curr.agendas)
			agendas[vi] = cand
			return s.build(agendas)
		}
	}
	return nil
}

// swap exchanges two steps of different tasks within one agenda.
func (s *search) swap(curr *Solution) *Solution {
	vi, ok := s.pickAgenda(curr)
	if !ok {
		return nil
	}
	a := curr.agendas[vi]
	n := len(a)
	for try := 0; try < placementTries; try++ {
		i, j := s.rng.Intn(n), s.rng.Intn(n)
		if i == j || a[i].Task.ID == a[j].Task.ID {
			continue
		}
		cand := append([]Step(nil), a...)
		cand[i], cand[j] = cand[j], cand[i]
		if feasible(s.p.Vehicles[vi], cand, s.seen) {
			agendas := cloneAgendas(curr.agendas)
			agendas[vi] = cand
			return s.build(agendas)
		}
	}
	return nil
}

// cloneAgendas copies the outer slice only; agendas replaced by a move are rebuilt,
// untouched ones are shared read-only.
func cloneAgendas(agendas [][]Step) [][]Step {
	return append([][]Step(nil), agendas...)
}

func removeTask(agenda []Step, taskID int) []Step {
	out := make([]Step, 0, len(agenda))
	for _, st := range agenda {
		if st.Task.ID != taskID {
			out = append(out, st)
		}
	}
	return out
}

// insertPair returns a new agenda with the pickup at index i and the delivery at
// index j of the result (j > i).
func insertPair(agenda []Step, t model.Task, i, j int) []Step {
	out := make([]Step, 0, len(agenda)+2)
	out = append(out, agenda[:i]...)
	out = append(out, Step{Task: t, Role: Pickup})
	rest := agenda[i:]
	k := j - i - 1
	out = append(out, rest[:k]...)
	out = append(out, Step{Task: t, Role: Delivery})
	out = append(out, rest[k:]...)
	return out
}

// selectOp picks an operator by roulette wheel.
func selectOp(weights []float64, rng *rand.Rand) int {
	sum := 0.0
	for _, w := range weights {
		sum += w
	}
	if sum <= 0 {
		return 0
	}
	r := rng.Float64() * sum
	acc := 0.0
	for i, w := range weights {
		acc += w
		if r <= acc {
			return i
		}
	}
	return len(weights) - 1
}
