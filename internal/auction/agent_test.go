package auction

import (
	"bytes"
	"errors"
	"fmt"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"logibid/internal/config"
	"logibid/internal/events"
	"logibid/internal/logging"
	"logibid/internal/model"
	"logibid/internal/opt"
	"logibid/internal/topology"
)

// twoCities is A and B, 10 km apart, with one truck standing in A.
func twoCities(t *testing.T) (*topology.Graph, []model.Vehicle) {
	t.Helper()
	g, err := topology.New(
		[]topology.City{{Name: "A"}, {Name: "B", X: 10}},
		[]topology.Road{{From: "A", To: "B"}},
	)
	require.NoError(t, err)
	return g, []model.Vehicle{{ID: 0, Name: "truck", Capacity: 10, CostPerKm: 1, Home: 0}}
}

// plainConfig bids exactly the marginal cost.
func plainConfig() config.Config {
	cfg := config.Default()
	cfg.Strategy = config.StrategyMarginal
	cfg.Margin = 0
	cfg.Blend = 0
	cfg.SafetyMargin = 0
	cfg.PositionWeight = 0
	cfg.ReannealEvery = 0
	cfg.Seed = 7
	return cfg
}

func newAgent(t *testing.T, cfg config.Config, opts ...Option) *Agent {
	t.Helper()
	g, fleet := twoCities(t)
	a, err := New(g, topology.Uniform(g, 0.5, 5), 0, fleet, cfg, append([]Option{WithSearchLimit(200)}, opts...)...)
	require.NoError(t, err)
	require.Equal(t, PhaseBid, a.Phase())
	return a
}

var (
	aToB = model.Task{ID: 1, Pickup: 0, Delivery: 1, Weight: 1}
	bToA = model.Task{ID: 2, Pickup: 1, Delivery: 0, Weight: 1}
)

func TestNewRejectsEmptyFleet(t *testing.T) {
	g, _ := twoCities(t)
	_, err := New(g, topology.Uniform(g, 0.5, 5), 0, nil, plainConfig())
	require.Error(t, err)
}

func TestAskPriceBidsMarginalCost(t *testing.T) {
	a := newAgent(t, plainConfig())

	price, ok := a.AskPrice(aToB)
	require.True(t, ok)
	require.Equal(t, int64(10), price)
	require.InDelta(t, 10, a.pending.ownMarginal, 1e-9)
	require.True(t, a.pending.hasAdv)
	require.InDelta(t, 10, a.pending.advMarginal, 1e-9)
	require.Equal(t, 0.0, a.Committed().Cost, "asking does not commit")

	bid, ok := a.LastBid()
	require.True(t, ok)
	require.Equal(t, Bid{Task: aToB, Price: 10, Strategy: "marginal", OwnMarginal: 10, AdvEstimate: 10, HasAdv: true}, bid)
	require.NoError(t, a.AuctionResult(aToB, 1, []int64{10, 11}))
	_, ok = a.LastBid()
	require.False(t, ok)
}

func TestAuctionResultWonCommitsOwnSolution(t *testing.T) {
	a := newAgent(t, plainConfig())

	price, ok := a.AskPrice(aToB)
	require.True(t, ok)
	require.NoError(t, a.AuctionResult(aToB, 0, []int64{price, 12}))

	require.InDelta(t, 10, a.Committed().Cost, 1e-9)
	require.Equal(t, []model.Task{aToB}, a.OwnTasks())
	require.Empty(t, a.AdversaryTasks())
	st := a.Stats()
	require.Equal(t, 1, st.OwnWon)
	require.Equal(t, price, st.RewardWon)
	require.InDelta(t, 2, st.Discrepancy, 1e-9, "rival bid 12 against predicted 10")
	require.Equal(t, 1, a.Record().Len())
	require.Equal(t, price, a.Record().TotalReward(0))

	// The truck now stands in B, so the way back costs another 10.
	price, ok = a.AskPrice(bToA)
	require.True(t, ok)
	require.Equal(t, int64(10), price)
	require.NoError(t, a.AuctionResult(bToA, 0, []int64{price, 30}))
	require.InDelta(t, 20, a.Committed().Cost, 1e-9)
	require.Equal(t, int64(20), a.Stats().RewardWon)
}

func TestAuctionResultLostTracksAdversary(t *testing.T) {
	a := newAgent(t, plainConfig())

	_, ok := a.AskPrice(aToB)
	require.True(t, ok)
	require.NoError(t, a.AuctionResult(aToB, 1, []int64{10, 7}))

	require.Empty(t, a.OwnTasks())
	require.Equal(t, []model.Task{aToB}, a.AdversaryTasks())
	require.Equal(t, 0.0, a.Committed().Cost)
	require.InDelta(t, -3, a.Stats().Discrepancy, 1e-9)
	require.Equal(t, 1, a.Stats().AdvWon)
}

func TestAskPriceAbstainsOnOversizedTask(t *testing.T) {
	a := newAgent(t, plainConfig())
	heavy := model.Task{ID: 9, Pickup: 0, Delivery: 1, Weight: 50}

	price, ok := a.AskPrice(heavy)
	require.False(t, ok)
	require.Zero(t, price)
	require.NoError(t, a.AuctionResult(heavy, 1, []int64{NoBid, 30}))
	require.Equal(t, []int64{NoBid}, a.Record().Bids(0))
	require.Zero(t, a.Stats().Observations)
}

func TestAdversaryEstimateSurvivesTaskItCannotCarry(t *testing.T) {
	a := newAgent(t, plainConfig())

	_, ok := a.AskPrice(aToB)
	require.True(t, ok)
	require.NoError(t, a.AuctionResult(aToB, 1, []int64{10, 12}))
	require.Equal(t, 1, a.Stats().Observations)

	// The real competitor wins a task too heavy for the mirrored fleet.
	heavy := model.Task{ID: 9, Pickup: 0, Delivery: 1, Weight: 50}
	_, ok = a.AskPrice(heavy)
	require.False(t, ok)
	require.NoError(t, a.AuctionResult(heavy, 1, []int64{NoBid, 30}))
	require.Equal(t, []model.Task{aToB}, a.AdversaryTasks())

	for _, task := range []model.Task{bToA, {ID: 3, Pickup: 0, Delivery: 1, Weight: 1}} {
		p, ok := a.AskPrice(task)
		require.True(t, ok)
		bid, _ := a.LastBid()
		require.True(t, bid.HasAdv, "task %d", task.ID)
		require.NoError(t, a.AuctionResult(task, 1, []int64{p, p + 2}))
	}
	require.Equal(t, 3, a.Stats().Observations)
	require.Len(t, a.AdversaryTasks(), 3)
}

func TestWithAdversaryModelsDifferentFleet(t *testing.T) {
	lorry := []model.Vehicle{{ID: 1, Name: "lorry", Capacity: 100, CostPerKm: 3, Home: 1}}
	a := newAgent(t, plainConfig(), WithAdversary(lorry))

	_, ok := a.AskPrice(aToB)
	require.True(t, ok)
	bid, _ := a.LastBid()
	require.InDelta(t, 10, bid.OwnMarginal, 1e-9)
	require.True(t, bid.HasAdv)
	require.InDelta(t, 60, bid.AdvEstimate, 1e-9, "the lorry drives B-A-B at 3 per km")
	require.NoError(t, a.AuctionResult(aToB, 1, []int64{10, 70}))
	require.InDelta(t, 10, a.Stats().Discrepancy, 1e-9)

	// Too heavy for our truck but not for the lorry: it joins the adversary model.
	heavy := model.Task{ID: 9, Pickup: 0, Delivery: 1, Weight: 50}
	_, ok = a.AskPrice(heavy)
	require.False(t, ok)
	require.NoError(t, a.AuctionResult(heavy, 1, []int64{NoBid, 200}))
	require.Equal(t, []model.Task{aToB, heavy}, a.AdversaryTasks())
	require.Equal(t, 1, a.Stats().Observations)
}

func TestBidsAreNeverNegative(t *testing.T) {
	cfg := plainConfig()
	cfg.Strategy = config.StrategyBreakeven
	a := newAgent(t, cfg)

	// A large reward already won pushes the breakeven price far below zero.
	a.stats.RewardWon = 10_000
	price, ok := a.AskPrice(aToB)
	require.True(t, ok)
	require.GreaterOrEqual(t, price, int64(0))

	cfg = plainConfig()
	cfg.Strategy = config.StrategyMixed
	a = newAgent(t, cfg)
	for i := 0; i < 6; i++ {
		task := model.Task{ID: 10 + i, Pickup: model.CityID(i % 2), Delivery: model.CityID((i + 1) % 2), Weight: 1}
		price, ok := a.AskPrice(task)
		require.True(t, ok)
		require.GreaterOrEqual(t, price, int64(0))
		require.NoError(t, a.AuctionResult(task, i%2, []int64{price, price + 1}))
	}
}

func TestSeededAgentsAreReproducible(t *testing.T) {
	cfg := plainConfig()
	cfg.Strategy = config.StrategyMixed
	cfg.Margin, cfg.Blend, cfg.SafetyMargin, cfg.PositionWeight = 0.1, 0.5, 5, 0.05

	run := func() []int64 {
		a := newAgent(t, cfg)
		var prices []int64
		for i := 0; i < 5; i++ {
			task := model.Task{ID: i, Pickup: model.CityID(i % 2), Delivery: model.CityID((i + 1) % 2), Weight: 2}
			p, ok := a.AskPrice(task)
			require.True(t, ok)
			prices = append(prices, p)
			require.NoError(t, a.AuctionResult(task, i%2, []int64{p, 15}))
		}
		return prices
	}
	require.Equal(t, run(), run())
}

func TestAskPriceRespectsBidTimeout(t *testing.T) {
	g, err := topology.New(
		[]topology.City{{Name: "A"}, {Name: "B", X: 10}, {Name: "C", X: 20, Y: 5}, {Name: "D", X: 5, Y: 15}, {Name: "E", X: 25, Y: 20}},
		[]topology.Road{{From: "A", To: "B"}, {From: "B", To: "C"}, {From: "C", To: "E"}, {From: "E", To: "D"}, {From: "D", To: "A"}},
	)
	require.NoError(t, err)
	cfg := plainConfig()
	cfg.Timeouts.Bid = 60
	fleet := []model.Vehicle{{ID: 0, Capacity: 5, CostPerKm: 1}, {ID: 1, Capacity: 5, CostPerKm: 2, Home: 3}}
	a, err := New(g, topology.Uniform(g, 0.5, 5), 0, fleet, cfg)
	require.NoError(t, err)

	for i := 0; i < 6; i++ {
		task := model.Task{ID: i, Pickup: model.CityID(i % 5), Delivery: model.CityID((i + 2) % 5), Weight: 1}
		start := time.Now()
		p, ok := a.AskPrice(task)
		require.True(t, ok)
		require.Less(t, time.Since(start), 60*time.Millisecond+250*time.Millisecond)
		require.NoError(t, a.AuctionResult(task, 0, []int64{p, p + 5}))
	}
	require.Len(t, a.OwnTasks(), 6)
}

func TestReannealLowersDiscount(t *testing.T) {
	cfg := plainConfig()
	cfg.ReannealEvery = 1
	a := newAgent(t, cfg)
	before := a.Table().Discount()

	p, _ := a.AskPrice(aToB)
	require.NoError(t, a.AuctionResult(aToB, 0, []int64{p, 20}))
	require.InDelta(t, before*float64(cfg.MaxTasks-1)/float64(cfg.MaxTasks), a.Table().Discount(), 1e-9)
}

func TestPlanCoversTasksWithHostObjects(t *testing.T) {
	a := newAgent(t, plainConfig())
	for i, task := range []model.Task{aToB, bToA} {
		p, ok := a.AskPrice(task)
		require.True(t, ok, "task %d", i)
		require.NoError(t, a.AuctionResult(task, 0, []int64{p, 100}))
	}

	hostA, hostB := aToB, bToA
	hostA.Reward, hostB.Reward = 10, 12
	_, fleet := twoCities(t)
	plans, err := a.Plan(fleet, []model.Task{hostA, hostB})
	require.NoError(t, err)
	require.Equal(t, PhasePlan, a.Phase())
	require.Len(t, plans, 1)

	picked := map[int]model.Task{}
	delivered := map[int]model.Task{}
	for _, act := range plans[0].Actions {
		switch act.Kind {
		case opt.ActPickup:
			picked[act.Task.ID] = act.Task
		case opt.ActDeliver:
			delivered[act.Task.ID] = act.Task
		}
	}
	want := map[int]model.Task{1: hostA, 2: hostB}
	require.Equal(t, want, picked)
	require.Equal(t, want, delivered)
	require.InDelta(t, 20, a.Committed().Cost, 1e-9)
}

func TestPlanIncludesTasksNeverAuctioned(t *testing.T) {
	a := newAgent(t, plainConfig())
	_, fleet := twoCities(t)

	plans, err := a.Plan(fleet, []model.Task{aToB})
	require.NoError(t, err)
	require.Equal(t, 1, countKind(plans, opt.ActDeliver))
}

func TestPlanWarnsAboutWonTasksMissingFromRequest(t *testing.T) {
	prev := slog.Default()
	t.Cleanup(func() { slog.SetDefault(prev) })
	var buf bytes.Buffer
	logging.Init(logging.Options{Level: slog.LevelWarn, Output: &buf})

	a := newAgent(t, plainConfig())
	p, _ := a.AskPrice(aToB)
	require.NoError(t, a.AuctionResult(aToB, 0, []int64{p, 20}))

	_, fleet := twoCities(t)
	plans, err := a.Plan(fleet, []model.Task{bToA})
	require.NoError(t, err)
	require.Equal(t, 1, countKind(plans, opt.ActDeliver))
	require.Contains(t, buf.String(), "won tasks missing from the plan request")
	require.Equal(t, []int{1}, absentTasks(a.OwnTasks(), []model.Task{bToA}))
	require.Empty(t, absentTasks(a.OwnTasks(), []model.Task{bToA, aToB}))
}

func TestPhaseChecks(t *testing.T) {
	a := newAgent(t, plainConfig())
	_, fleet := twoCities(t)
	_, err := a.Plan(fleet, nil)
	require.NoError(t, err)

	err = a.AuctionResult(aToB, 0, []int64{1, 2})
	require.True(t, errors.Is(err, ErrPhase), "got %v", err)
	price, ok := a.AskPrice(aToB)
	require.False(t, ok)
	require.Zero(t, price)

	// Planning again resumes from the last plan.
	_, err = a.Plan(fleet, nil)
	require.NoError(t, err)
}

func TestAgentPublishesEvents(t *testing.T) {
	b := events.NewBroker()
	ch := b.Subscribe("s1")
	defer b.Unsubscribe("s1", ch)
	a := newAgent(t, plainConfig(), WithPublisher(b, "s1"))

	p, _ := a.AskPrice(aToB)
	require.NoError(t, a.AuctionResult(aToB, 0, []int64{p, 20}))
	_, fleet := twoCities(t)
	_, err := a.Plan(fleet, []model.Task{aToB})
	require.NoError(t, err)

	var types []string
	for i := 0; i < 3; i++ {
		select {
		case evt := <-ch:
			types = append(types, evt.Type)
		case <-time.After(time.Second):
			t.Fatalf("only got %v", types)
		}
	}
	require.Equal(t, []string{events.TypeBid, events.TypeResult, events.TypePlan}, types)
}

func countKind(plans []opt.VehiclePlan, k opt.ActionKind) int {
	n := 0
	for _, p := range plans {
		for _, act := range p.Actions {
			if act.Kind == k {
				n++
			}
		}
	}
	return n
}

func ExampleAgent() {
	g, _ := topology.New(
		[]topology.City{{Name: "A"}, {Name: "B", X: 10}},
		[]topology.Road{{From: "A", To: "B"}},
	)
	cfg := plainConfig()
	a, _ := New(g, topology.Uniform(g, 0.5, 5), 0,
		[]model.Vehicle{{ID: 0, Capacity: 10, CostPerKm: 1}}, cfg, WithSearchLimit(100))
	price, ok := a.AskPrice(model.Task{ID: 1, Pickup: 0, Delivery: 1, Weight: 1})
	fmt.Println(price, ok)
	// Output: 10 true
}
