// Package mdp computes positional values for vehicles by value iteration over
// (city, pending delivery) states. The values estimate how good it is to be
// idle in a city given the task arrival distribution, and back the optimizer's
// terminal-position heuristic and the bidder's position adjustment.
package mdp

import (
	"errors"
	"fmt"
	"math"
	"time"

	"logibid/internal/logging"
	"logibid/internal/model"
	"logibid/internal/opt"
)

var ErrBadOptions = errors.New("mdp: invalid options")

const (
	DefaultDiscount  = 0.95
	DefaultThreshold = 0.01
	DefaultMaxTasks  = 50
	defaultMaxSweeps = 10000
)

type Options struct {
	Discount          float64 // γ0 in (0,1)
	Threshold         float64 // stop when max |ΔV| over a sweep falls below it
	MaxTasks          int     // horizon for discount annealing
	RewardPerDistance float64 // 0 derives it from the distribution
	MaxSweeps         int
	Deadline          time.Time // zero means no deadline
}

func (o Options) withDefaults() Options {
	if o.Discount == 0 {
		o.Discount = DefaultDiscount
	}
	if o.Threshold == 0 {
		o.Threshold = DefaultThreshold
	}
	if o.MaxTasks == 0 {
		o.MaxTasks = DefaultMaxTasks
	}
	if o.MaxSweeps == 0 {
		o.MaxSweeps = defaultMaxSweeps
	}
	return o
}

func (o Options) validate() error {
	switch {
	case o.Discount <= 0 || o.Discount >= 1:
		return fmt.Errorf("discount %v not in (0,1): %w", o.Discount, ErrBadOptions)
	case o.Threshold <= 0:
		return fmt.Errorf("threshold %v must be positive: %w", o.Threshold, ErrBadOptions)
	case o.MaxTasks < 0:
		return fmt.Errorf("max tasks %d is negative: %w", o.MaxTasks, ErrBadOptions)
	case o.RewardPerDistance < 0:
		return fmt.Errorf("reward per distance %v is negative: %w", o.RewardPerDistance, ErrBadOptions)
	}
	return nil
}

// Stats describes the last (re)computation.
type Stats struct {
	Discount  float64
	Sweeps    int       // summed over value tables
	Deltas    []float64 // max |ΔV| per sweep of the last table computed
	Converged bool      // every table met the threshold
	Elapsed   time.Duration
}

// noAction marks a state with no admissible action (single-city topologies).
const noAction = -1

// values is the converged table for one cost-per-km class. A state is
// c*(n+1)+k with k == n meaning no pending task; action a < n moves to city a,
// action n delivers the pending task.
type values struct {
	v      []float64
	policy []int
}

// Table holds one value table per distinct vehicle cost-per-km; vehicles with
// equal cost share values since nothing else enters the reward model.
type Table struct {
	topo   model.Topology
	cities []model.CityID
	index  map[model.CityID]int
	n      int
	dist   []float64 // n×n distances
	next   []float64 // n×(n+1) arrival probabilities, column n is "no task"

	opts    Options
	gamma   float64
	rpd     float64
	classes []float64 // distinct cost per km, first-seen order
	byCost  map[float64]*values
	stats   Stats
}

// New builds the tables for the given vehicles within opts.Deadline.
func New(topo model.Topology, dist model.TaskDistribution, vehicles []model.Vehicle, opts Options) (*Table, error) {
	opts = opts.withDefaults()
	if err := opts.validate(); err != nil {
		return nil, err
	}
	t := &Table{
		topo:   topo,
		cities: topo.Cities(),
		index:  map[model.CityID]int{},
		opts:   opts,
		gamma:  opts.Discount,
		byCost: map[float64]*values{},
	}
	t.n = len(t.cities)
	for i, c := range t.cities {
		t.index[c] = i
	}
	n := t.n
	t.dist = make([]float64, n*n)
	t.next = make([]float64, n*(n+1))
	for i, a := range t.cities {
		rest := 1.0
		for j, b := range t.cities {
			t.dist[i*n+j] = topo.Distance(a, b)
			p := dist.Probability(a, b)
			t.next[i*(n+1)+j] = p
			rest -= p
		}
		t.next[i*(n+1)+n] = math.Max(0, rest)
	}
	t.rpd = opts.RewardPerDistance
	if t.rpd == 0 {
		t.rpd = t.estimateRewardPerDistance(dist)
	}
	for _, v := range vehicles {
		if _, ok := t.byCost[v.CostPerKm]; !ok {
			t.byCost[v.CostPerKm] = nil
			t.classes = append(t.classes, v.CostPerKm)
		}
	}
	t.recompute(opts.Deadline)
	return t, nil
}

// estimateRewardPerDistance is the probability-weighted reward over the
// probability-weighted task length.
func (t *Table) estimateRewardPerDistance(dist model.TaskDistribution) float64 {
	var reward, length float64
	for i, a := range t.cities {
		for j, b := range t.cities {
			p := t.next[i*(t.n+1)+j]
			reward += p * dist.Reward(a, b)
			length += p * t.dist[i*t.n+j]
		}
	}
	if length == 0 {
		return 0
	}
	return reward / length
}

func (t *Table) recompute(deadline time.Time) {
	start := time.Now()
	log := logging.New("mdp")
	t.stats = Stats{Discount: t.gamma, Converged: true}
	for _, cpk := range t.classes {
		vals, deltas, ok := t.iterate(cpk, deadline)
		t.byCost[cpk] = vals
		t.stats.Sweeps += len(deltas)
		t.stats.Deltas = deltas
		t.stats.Converged = t.stats.Converged && ok
	}
	t.stats.Elapsed = time.Since(start)
	log.Debug("value iteration done", "discount", t.gamma, "sweeps", t.stats.Sweeps,
		"converged", t.stats.Converged, "elapsed", t.stats.Elapsed)
}

// iterate runs synchronous Bellman sweeps until the largest change drops below
// the threshold, the sweep cap is hit or the deadline passes.
func (t *Table) iterate(cpk float64, deadline time.Time) (*values, []float64, bool) {
	n := t.n
	states := n * (n + 1)
	cur := make([]float64, states)
	nxt := make([]float64, states)
	policy := make([]int, states)
	expect := make([]float64, n)
	q := make([]float64, n+1)
	var deltas []float64

	for sweep := 0; sweep < t.opts.MaxSweeps; sweep++ {
		if !deadline.IsZero() && sweep > 0 && time.Now().After(deadline) {
			return &values{v: cur, policy: policy}, deltas, false
		}
		// expected value on arriving idle at city c, before a task shows up
		for c := 0; c < n; c++ {
			e := 0.0
			row := t.next[c*(n+1) : (c+1)*(n+1)]
			for k, p := range row {
				e += p * cur[c*(n+1)+k]
			}
			expect[c] = e
		}
		delta := 0.0
		for c := 0; c < n; c++ {
			for k := 0; k <= n; k++ {
				s := c*(n+1) + k
				for a := 0; a < n; a++ {
					q[a] = math.Inf(-1)
					if a != c {
						q[a] = -t.dist[c*n+a]*cpk + t.gamma*expect[a]
					}
				}
				q[n] = math.Inf(-1)
				if k < n {
					d := t.dist[c*n+k]
					q[n] = t.rpd*d - d*cpk + t.gamma*expect[k]
				}
				best := argmax(q)
				nxt[s] = 0
				policy[s] = best
				if best != noAction {
					nxt[s] = q[best]
				}
				delta = math.Max(delta, math.Abs(nxt[s]-cur[s]))
			}
		}
		cur, nxt = nxt, cur
		deltas = append(deltas, delta)
		if delta < t.opts.Threshold {
			return &values{v: cur, policy: policy}, deltas, true
		}
	}
	return &values{v: cur, policy: policy}, deltas, false
}

// argmax returns the index of the largest finite Q, preferring a non-zero value
// when the maximum is exactly zero; noAction when every entry is -Inf.
func argmax(q []float64) int {
	best, nonZero := noAction, noAction
	for a, x := range q {
		if math.IsInf(x, -1) {
			continue
		}
		if best == noAction || x > q[best] {
			best = a
		}
		if x != 0 && (nonZero == noAction || x > q[nonZero]) {
			nonZero = a
		}
	}
	if best != noAction && q[best] == 0 && nonZero != noAction {
		return nonZero
	}
	return best
}

func (t *Table) lookup(v model.Vehicle) *values { return t.byCost[v.CostPerKm] }

// TerminalValue is the value of vehicle v standing idle in city with no pending
// task. Unknown vehicles or cities yield 0.
func (t *Table) TerminalValue(v model.Vehicle, city model.CityID) float64 {
	vals := t.lookup(v)
	c, ok := t.index[city]
	if vals == nil || !ok {
		return 0
	}
	return vals.v[c*(t.n+1)+t.n]
}

// Value exposes V for a state; pending may be model.NoCity.
func (t *Table) Value(v model.Vehicle, city, pending model.CityID) float64 {
	vals := t.lookup(v)
	c, ok := t.index[city]
	if vals == nil || !ok {
		return 0
	}
	k := t.n
	if pending != model.NoCity {
		if k, ok = t.index[pending]; !ok {
			return 0
		}
	}
	return vals.v[c*(t.n+1)+k]
}

// BestAction follows the policy for vehicle v in city from, optionally offered
// task. A deliver decision means taking the task to its delivery city; a move
// decision names the first hop toward the chosen city. ok is false when the
// vehicle is unknown or no action exists.
func (t *Table) BestAction(v model.Vehicle, from model.CityID, task *model.Task) (act opt.Action, ok bool) {
	vals := t.lookup(v)
	c, known := t.index[from]
	if vals == nil || !known {
		return opt.Action{}, false
	}
	k := t.n
	if task != nil {
		if k, known = t.index[task.Delivery]; !known {
			return opt.Action{}, false
		}
	}
	switch a := vals.policy[c*(t.n+1)+k]; {
	case a == noAction:
		return opt.Action{}, false
	case a == t.n:
		return opt.Action{Kind: opt.ActDeliver, City: task.Delivery, Task: *task}, true
	default:
		to := t.cities[a]
		hop := to
		if path := t.topo.Path(from, to); len(path) > 0 {
			hop = path[0]
		}
		return opt.Action{Kind: opt.ActMove, City: hop}, true
	}
}

// Anneal shrinks the discount to γ0·(max-done)/max and recomputes every table
// before deadline. Once done reaches max the discount is left as is.
func (t *Table) Anneal(done int, deadline time.Time) {
	if done < t.opts.MaxTasks {
		t.gamma = t.opts.Discount * float64(t.opts.MaxTasks-done) / float64(t.opts.MaxTasks)
	}
	t.recompute(deadline)
}

func (t *Table) Discount() float64 { return t.gamma }

func (t *Table) RewardPerDistance() float64 { return t.rpd }

func (t *Table) Stats() Stats { return t.stats }
