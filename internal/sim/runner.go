package sim

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"time"

	"logibid/internal/auction"
	"logibid/internal/logging"
	"logibid/internal/opt"
	"logibid/internal/store"
)

// Runner plays one scenario between an agent and a Competitor.
type Runner struct {
	World      *World
	Agent      *auction.Agent
	Competitor *Competitor
	Ledger     store.Ledger
	Session    string

	rng *rand.Rand
	log *slog.Logger
}

// NewRunner pairs agent with a cheapest-insertion competitor driving the
// scenario's competitor fleet. The agent must have ID 0 or 1; the competitor
// takes the other one.
func NewRunner(w *World, agent *auction.Agent, ledger store.Ledger, session string) (*Runner, error) {
	id := agent.ID()
	if id != 0 && id != 1 {
		return nil, fmt.Errorf("sim: agent id must be 0 or 1, got %d", id)
	}
	return &Runner{
		World:      w,
		Agent:      agent,
		Competitor: NewCompetitor(1-id, w.Graph, w.Competitor, w.Scenario.Markup),
		Ledger:     ledger,
		Session:    session,
		rng:        rand.New(rand.NewSource(w.Scenario.Seed)),
		log:        logging.New("sim").With("session", session),
	}, nil
}

type Side struct {
	Won    int     `json:"won"`
	Reward int64   `json:"reward"`
	Cost   float64 `json:"cost"`
}

func (s Side) Profit() float64 { return float64(s.Reward) - s.Cost }

type Report struct {
	Session    string            `json:"session"`
	Rounds     int               `json:"rounds"`
	Unassigned int               `json:"unassigned"`
	Agent      Side              `json:"agent"`
	Competitor Side              `json:"competitor"`
	Plans      []opt.VehiclePlan `json:"-"`
	Elapsed    time.Duration     `json:"elapsed"`
}

// Run auctions every task of the scenario, then collects the agent's plan.
// Each round is appended to the ledger; the agent's optimizer summaries are
// saved once at the end.
func (r *Runner) Run(ctx context.Context) (Report, error) {
	start := time.Now()
	rep := Report{Session: r.Session}
	sc := r.World.Scenario
	for i := 0; i < sc.Tasks; i++ {
		if err := ctx.Err(); err != nil {
			return rep, err
		}
		if err := r.round(ctx, i, &rep); err != nil {
			return rep, err
		}
		rep.Rounds++
	}

	tasks := r.Agent.OwnTasks()
	plans, err := r.Agent.Plan(r.World.Agent, tasks)
	if err != nil {
		return rep, fmt.Errorf("sim: agent plan: %w", err)
	}
	rep.Plans = plans
	rep.Agent.Cost = r.Agent.Committed().Cost
	rep.Competitor.Cost = r.Competitor.Cost()

	for fleet, m := range opt.GetMetrics(r.Agent.Name()) {
		if err := r.Ledger.SavePlanMetrics(ctx, r.Session, fleet, m); err != nil {
			return rep, fmt.Errorf("sim: save %s metrics: %w", fleet, err)
		}
	}
	rep.Elapsed = time.Since(start)
	r.log.Info("auction finished", "rounds", rep.Rounds, "agent_won", rep.Agent.Won,
		"agent_profit", rep.Agent.Profit(), "competitor_won", rep.Competitor.Won,
		"competitor_profit", rep.Competitor.Profit(), "elapsed", rep.Elapsed)
	return rep, nil
}

func (r *Runner) round(ctx context.Context, i int, rep *Report) error {
	task := r.World.Dist.Draw(i, r.rng, r.World.Scenario.MaxWeight)
	task.Reward = 0

	agentID, compID := r.Agent.ID(), r.Competitor.ID
	bids := []int64{auction.NoBid, auction.NoBid}
	if p, ok := r.Agent.AskPrice(task); ok {
		bids[agentID] = p
	}
	bid, _ := r.Agent.LastBid()
	if p, ok := r.Competitor.Bid(task); ok {
		bids[compID] = p
	}

	winner := settle(bids, r.rng)
	rec := store.RoundRecord{
		Session:     r.Session,
		Round:       i,
		Task:        task,
		Price:       bid.Price,
		Abstained:   bid.Abstained,
		Winner:      winner,
		Won:         winner == agentID,
		Bids:        bids,
		OwnMarginal: bid.OwnMarginal,
		AdvEstimate: bid.AdvEstimate,
		Strategy:    bid.Strategy,
		At:          time.Now(),
	}
	if winner < 0 {
		rep.Unassigned++
		r.log.Warn("nobody bid", "task", task.ID, "weight", task.Weight)
	} else {
		task.Reward = bids[winner]
		rec.Task = task
		if err := r.Agent.AuctionResult(task, winner, bids); err != nil {
			return fmt.Errorf("sim: round %d: %w", i, err)
		}
		if winner == agentID {
			rep.Agent.Won++
			rep.Agent.Reward += task.Reward
		} else {
			if err := r.Competitor.Won(task); err != nil {
				return fmt.Errorf("sim: round %d competitor: %w", i, err)
			}
			rep.Competitor.Won++
			rep.Competitor.Reward += task.Reward
		}
	}
	if _, err := r.Ledger.AppendRound(ctx, rec); err != nil {
		return fmt.Errorf("sim: %w", err)
	}
	r.log.Debug("round settled", "round", i, "task", task.ID, "bids", bids, "winner", winner)
	return nil
}

// settle picks the lowest bid, breaking ties at random. -1 when nobody bid.
func settle(bids []int64, rng *rand.Rand) int {
	winner, ties := -1, 0
	for i, b := range bids {
		if b < 0 {
			continue
		}
		switch {
		case winner < 0 || b < bids[winner]:
			winner, ties = i, 1
		case b == bids[winner]:
			ties++
			if rng.Intn(ties) == 0 {
				winner = i
			}
		}
	}
	return winner
}
