// Package auction turns route optimization and positional values into bids.
// An Agent is set up once, then answers AskPrice / AuctionResult for each
// auctioned task and finally plans routes for the tasks it won. Calls must be
// sequential.
package auction

import (
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"time"

	"logibid/internal/config"
	"logibid/internal/events"
	"logibid/internal/logging"
	"logibid/internal/mdp"
	"logibid/internal/metrics"
	"logibid/internal/model"
	"logibid/internal/opt"
)

var ErrPhase = errors.New("auction: operation not allowed in this phase")

type Phase int

const (
	PhaseSetup Phase = iota
	PhaseBid
	PhasePlan
)

func (p Phase) String() string {
	switch p {
	case PhaseSetup:
		return "setup"
	case PhaseBid:
		return "bid"
	default:
		return "plan"
	}
}

// slack is the share of each phase timeout the agent plans to use; the rest
// covers bookkeeping and host overhead.
const slack = 0.85

// proposal is the tentative outcome of the last AskPrice.
type proposal struct {
	task        model.Task
	abstained   bool
	own         *opt.Solution
	adv         *opt.Solution
	ownMarginal float64
	advMarginal float64
	advEstimate float64
	hasAdv      bool
	price       int64
	strategy    Strategy
}

type Agent struct {
	id   int
	name string
	topo model.Topology
	dist model.TaskDistribution
	cfg  config.Config

	own, adv []model.Vehicle
	table    *mdp.Table
	rng      *rand.Rand
	limit    int

	pub     events.Publisher
	session string
	log     *slog.Logger

	phase        Phase
	ownTasks     []model.Task
	advTasks     []model.Task
	committed    *opt.Solution
	advCommitted *opt.Solution
	pending      *proposal
	stats        Stats
	record       BidRecord
	pricing      Pricing
}

type Option func(*Agent)

// WithAdversary models the competitor with its own fleet instead of a mirror of ours.
func WithAdversary(vehicles []model.Vehicle) Option {
	return func(a *Agent) { a.adv = append([]model.Vehicle(nil), vehicles...) }
}

// WithPublisher emits bid, result and plan events for session.
func WithPublisher(p events.Publisher, session string) Option {
	return func(a *Agent) { a.pub, a.session = p, session }
}

// WithSearchLimit caps optimizer iterations per search, making runs with a
// fixed seed reproducible regardless of machine speed.
func WithSearchLimit(n int) Option {
	return func(a *Agent) { a.limit = n }
}

// New performs setup: it builds the positional value tables for both fleets
// within the setup timeout and zeroes the running statistics.
func New(topo model.Topology, dist model.TaskDistribution, agentID int, vehicles []model.Vehicle, cfg config.Config, opts ...Option) (*Agent, error) {
	start := time.Now()
	if len(vehicles) == 0 {
		return nil, fmt.Errorf("auction: agent %d has no vehicles", agentID)
	}
	a := &Agent{
		id:      agentID,
		name:    fmt.Sprintf("agent-%d", agentID),
		topo:    topo,
		dist:    dist,
		cfg:     cfg,
		own:     append([]model.Vehicle(nil), vehicles...),
		pub:     events.Discard{},
		phase:   PhaseSetup,
		stats:   NewStats(),
		pricing: pricingFrom(cfg),
	}
	for _, o := range opts {
		o(a)
	}
	if len(a.adv) == 0 {
		a.adv = append([]model.Vehicle(nil), a.own...)
	}
	seed := cfg.Seed
	if seed == 0 {
		seed = start.UnixNano()
	}
	a.rng = rand.New(rand.NewSource(seed))
	a.log = logging.New("auction").With("agent", agentID)

	deadline := start.Add(time.Duration(float64(cfg.Timeouts.SetupDuration()) * slack))
	table, err := mdp.New(topo, dist, append(append([]model.Vehicle(nil), a.own...), a.adv...), mdp.Options{
		Discount:          cfg.DiscountFactor,
		Threshold:         cfg.ConvergenceThreshold,
		MaxTasks:          cfg.MaxTasks,
		RewardPerDistance: cfg.RewardPerDistance,
		Deadline:          deadline,
	})
	if err != nil {
		return nil, fmt.Errorf("auction: value table: %w", err)
	}
	a.table = table
	a.committed = opt.Trivial(topo, a.own)
	a.advCommitted = opt.Trivial(topo, a.adv)
	a.phase = PhaseBid

	st := table.Stats()
	metrics.ValueSweeps.Add(float64(st.Sweeps))
	metrics.PhaseDuration.WithLabelValues(PhaseSetup.String()).Observe(time.Since(start).Seconds())
	a.log.Info("setup done", "vehicles", len(a.own), "adversary_vehicles", len(a.adv),
		"sweeps", st.Sweeps, "converged", st.Converged, "reward_per_distance", table.RewardPerDistance(),
		"elapsed", time.Since(start))
	return a, nil
}

func (a *Agent) ID() int                      { return a.id }
func (a *Agent) Name() string                 { return a.name }
func (a *Agent) Phase() Phase                 { return a.phase }
func (a *Agent) Stats() Stats                 { return a.stats }
func (a *Agent) Record() *BidRecord           { return &a.record }
func (a *Agent) Committed() *opt.Solution     { return a.committed }
func (a *Agent) Table() *mdp.Table            { return a.table }
func (a *Agent) OwnTasks() []model.Task       { return append([]model.Task(nil), a.ownTasks...) }
func (a *Agent) AdversaryTasks() []model.Task { return append([]model.Task(nil), a.advTasks...) }

// Bid describes the last AskPrice. It is valid until AuctionResult.
type Bid struct {
	Task        model.Task
	Abstained   bool
	Price       int64
	Strategy    string
	OwnMarginal float64
	AdvEstimate float64
	HasAdv      bool
}

// LastBid returns the pending bid, false when nothing was priced since the
// last result.
func (a *Agent) LastBid() (Bid, bool) {
	p := a.pending
	if p == nil {
		return Bid{}, false
	}
	b := Bid{Task: p.task, Abstained: p.abstained}
	if !p.abstained {
		b.Price, b.Strategy = p.price, p.strategy.String()
		b.OwnMarginal, b.AdvEstimate, b.HasAdv = p.ownMarginal, p.advEstimate, p.hasAdv
	}
	return b, true
}

func (a *Agent) problem(vehicles []model.Vehicle, tasks []model.Task, seed *opt.Solution, label string) opt.Problem {
	return opt.Problem{
		Topology:        a.topo,
		Vehicles:        vehicles,
		Tasks:           tasks,
		Values:          a.table,
		ValueWeight:     a.cfg.PositionWeight,
		Seed:            seed,
		ArchiveSize:     a.cfg.ArchiveSize,
		IterationsLimit: a.limit,
		InitialTemp:     a.cfg.InitialTemp,
		Cooling:         a.cfg.Cooling,
		Label:           label,
	}
}

// search runs the optimizer and records its metrics under fleet.
func (a *Agent) search(p opt.Problem, fleet string, budget time.Duration) (*opt.Solution, error) {
	archive, m, err := opt.Solve(p, a.rng.Int63(), budget)
	if err != nil {
		return nil, err
	}
	opt.RecordMetrics(a.name, fleet, m)
	metrics.OptimizerIterations.WithLabelValues(fleet).Add(float64(m.Iterations))
	metrics.OptimizerBestCost.WithLabelValues(fleet).Set(m.BestCost)
	return archive.First(), nil
}

func canCarry(vehicles []model.Vehicle, t model.Task) bool {
	for _, v := range vehicles {
		if v.CanCarry(t) {
			return true
		}
	}
	return false
}

// endValue sums the terminal values of every vehicle's end city.
func (a *Agent) endValue(s *opt.Solution) float64 {
	total := 0.0
	for i, v := range s.Vehicles() {
		total += a.table.TerminalValue(v, s.EndCity(i))
	}
	return total
}

// AskPrice estimates both fleets' marginal cost for task within the bid timeout
// and returns a non-negative price. ok is false when the agent abstains: no own
// vehicle can carry the task, or the agent is not bidding any more.
func (a *Agent) AskPrice(task model.Task) (price int64, ok bool) {
	if a.phase != PhaseBid {
		a.log.Warn("ask price outside bid phase", "phase", a.phase, "task", task.ID)
		return 0, false
	}
	start := time.Now()
	defer func() {
		metrics.PhaseDuration.WithLabelValues(PhaseBid.String()).Observe(time.Since(start).Seconds())
	}()
	if !canCarry(a.own, task) {
		a.pending = &proposal{task: task, abstained: true}
		a.log.Info("abstain", "task", task.ID, "weight", task.Weight)
		a.publish(events.TypeBid, map[string]any{"task": task.ID, "abstained": true})
		return 0, false
	}
	budget := time.Duration(float64(a.cfg.Timeouts.BidDuration()) * slack)
	ownBudget, advBudget := a.stats.Split(budget)
	advCapable := canCarry(a.adv, task)
	if !advCapable {
		ownBudget = budget
	}

	focus := task.ID
	p := a.problem(a.own, append(a.OwnTasks(), task), a.committed, "own")
	p.Focus = &focus
	ownWith, err := a.search(p, "own", ownBudget)
	if err != nil {
		// unreachable: canCarry checked above
		a.log.Error("own search failed", "task", task.ID, "error", err)
		return 0, false
	}
	prop := &proposal{task: task, own: ownWith, ownMarginal: ownWith.Cost - a.committed.Cost}

	if advCapable {
		remaining := time.Until(start.Add(budget))
		if remaining < advBudget {
			advBudget = max(0, remaining)
		}
		p := a.problem(a.adv, append(a.AdversaryTasks(), task), a.advCommitted, "adversary")
		p.Focus = &focus
		advWith, err := a.search(p, "adversary", advBudget)
		if err != nil {
			a.log.Warn("adversary search failed", "task", task.ID, "adversary_tasks", len(a.advTasks), "error", err)
		} else {
			prop.adv = advWith
			prop.hasAdv = true
			prop.advMarginal = advWith.Cost - a.advCommitted.Cost
			prop.advEstimate = prop.advMarginal + a.stats.Discrepancy
		}
	}

	q := Quote{
		OwnMarginal:  prop.ownMarginal,
		OwnTotal:     ownWith.Cost,
		RewardWon:    a.stats.RewardWon,
		AdvEstimate:  prop.advEstimate,
		HasAdv:       prop.hasAdv,
		PositionGain: a.endValue(ownWith) - a.endValue(a.committed),
	}
	prop.strategy = pickStrategy(a.cfg.Strategy, a.cfg.StrategyWeights, a.rng)
	prop.price = a.pricing.Price(prop.strategy, q)
	a.pending = prop

	metrics.BidPrice.WithLabelValues(prop.strategy.String()).Observe(float64(prop.price))
	a.log.Info("bid", "task", task.ID, "price", prop.price, "strategy", prop.strategy,
		"own_marginal", prop.ownMarginal, "adv_estimate", prop.advEstimate, "has_adv", prop.hasAdv,
		"elapsed", time.Since(start))
	a.publish(events.TypeBid, map[string]any{
		"task":        task.ID,
		"price":       prop.price,
		"strategy":    prop.strategy.String(),
		"ownMarginal": prop.ownMarginal,
		"advEstimate": prop.advEstimate,
	})
	return prop.price, true
}

// AuctionResult records the round and commits the tentative solution of the
// side that won the task. bids holds one entry per agent ID, negative for no bid.
func (a *Agent) AuctionResult(task model.Task, winner int, bids []int64) error {
	if a.phase != PhaseBid {
		return fmt.Errorf("auction result for task %d in %s phase: %w", task.ID, a.phase, ErrPhase)
	}
	start := time.Now()
	prop := a.pending
	a.pending = nil
	if prop != nil && prop.task.ID != task.ID {
		a.log.Warn("result for a task that was not priced last", "task", task.ID, "priced", prop.task.ID)
		prop = nil
	}
	a.record.Record(winner, bids)
	won := winner == a.id

	out := Outcome{Won: won, Price: bidOf(bids, a.id), Observed: bestRival(bids, a.id)}
	if prop != nil && prop.hasAdv {
		out.Predicted, out.HasPrediction = prop.advMarginal, true
	}
	a.stats = a.stats.Observe(out)

	if won {
		if err := a.commitOwn(task, prop); err != nil {
			return err
		}
	} else {
		a.commitAdversary(task, prop)
	}

	if n := a.cfg.ReannealEvery; n > 0 && a.stats.Rounds%n == 0 {
		deadline := start.Add(time.Duration(float64(a.cfg.Timeouts.BidDuration()) * slack / 2))
		a.table.Anneal(a.stats.Rounds, deadline)
		metrics.ValueSweeps.Add(float64(a.table.Stats().Sweeps))
		a.log.Debug("re-annealed", "discount", a.table.Discount(), "rounds", a.stats.Rounds)
	}

	outcome := "lost"
	switch {
	case won:
		outcome = "won"
	case prop != nil && prop.abstained:
		outcome = "abstained"
	}
	metrics.Bids.WithLabelValues(outcome).Inc()
	metrics.Discrepancy.Set(a.stats.Discrepancy)
	metrics.RewardWon.Set(float64(a.stats.RewardWon))
	metrics.PhaseDuration.WithLabelValues("result").Observe(time.Since(start).Seconds())
	a.log.Info("auction result", "task", task.ID, "winner", winner, "outcome", outcome,
		"reward_won", a.stats.RewardWon, "discrepancy", a.stats.Discrepancy, "own_share", a.stats.OwnShare)
	a.publish(events.TypeResult, map[string]any{
		"task":        task.ID,
		"winner":      winner,
		"won":         won,
		"bids":        append([]int64(nil), bids...),
		"rewardWon":   a.stats.RewardWon,
		"discrepancy": a.stats.Discrepancy,
	})
	return nil
}

func (a *Agent) commitOwn(task model.Task, prop *proposal) error {
	a.ownTasks = append(a.ownTasks, task)
	if prop != nil && prop.own != nil {
		a.committed = prop.own
		return nil
	}
	// Won without a usable estimate: insert cheaply into the committed routes.
	s, err := opt.InsertTask(a.committed, task)
	if err != nil {
		return fmt.Errorf("commit task %d: %w", task.ID, err)
	}
	a.committed = s
	return nil
}

// commitAdversary adds a lost task to the adversary model. Tasks the modelled
// fleet cannot carry stay out of it, otherwise every later adversary search
// would be infeasible.
func (a *Agent) commitAdversary(task model.Task, prop *proposal) {
	if prop != nil && prop.adv != nil {
		a.advTasks = append(a.advTasks, task)
		a.advCommitted = prop.adv
		return
	}
	s, err := opt.InsertTask(a.advCommitted, task)
	if err != nil {
		a.log.Warn("task left out of the adversary model", "task", task.ID, "weight", task.Weight, "error", err)
		return
	}
	a.advTasks = append(a.advTasks, task)
	a.advCommitted = s
}

// Plan resumes the optimizer from the committed solution for the host's
// vehicles and tasks, polishes the best result, substitutes the host's task
// objects and returns the per-vehicle actions.
func (a *Agent) Plan(vehicles []model.Vehicle, tasks []model.Task) ([]opt.VehiclePlan, error) {
	if a.phase == PhaseSetup {
		return nil, fmt.Errorf("plan before setup: %w", ErrPhase)
	}
	start := time.Now()
	a.phase = PhasePlan
	if missing := absentTasks(a.ownTasks, tasks); len(missing) > 0 {
		a.log.Warn("won tasks missing from the plan request", "missing", missing, "requested", len(tasks))
	}
	deadline := start.Add(time.Duration(float64(a.cfg.Timeouts.PlanDuration()) * slack))

	// Polish gets a slice of the budget at the end.
	searchBudget := time.Duration(float64(time.Until(deadline)) * 0.9)
	best, err := a.search(a.problem(vehicles, tasks, a.committed, "plan"), "plan", searchBudget)
	if err != nil {
		return nil, fmt.Errorf("plan: %w", err)
	}
	best = opt.Polish(best, deadline)
	if err := best.ReplaceTasks(tasks); err != nil {
		return nil, fmt.Errorf("plan: %w", err)
	}
	a.committed = best
	plans := best.Plans()

	metrics.PhaseDuration.WithLabelValues(PhasePlan.String()).Observe(time.Since(start).Seconds())
	a.log.Info("plan ready", "vehicles", len(vehicles), "tasks", len(tasks), "cost", best.Cost, "elapsed", time.Since(start))
	a.publish(events.TypePlan, map[string]any{"vehicles": len(vehicles), "tasks": len(tasks), "cost": best.Cost})
	return plans, nil
}

// absentTasks lists the IDs of won tasks that tasks does not contain.
func absentTasks(won, tasks []model.Task) []int {
	have := make(map[int]bool, len(tasks))
	for _, t := range tasks {
		have[t.ID] = true
	}
	var out []int
	for _, t := range won {
		if !have[t.ID] {
			out = append(out, t.ID)
		}
	}
	return out
}

func (a *Agent) publish(typ string, data map[string]any) {
	if a.session == "" {
		return
	}
	a.pub.Publish(a.session, events.Event{Type: typ, Data: data})
}
