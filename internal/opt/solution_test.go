package opt

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"

	"logibid/internal/model"
	"logibid/internal/topology"
)

// lineTopo is A - B - C - D, 10 km apart.
func lineTopo(t *testing.T) *topology.Graph {
	t.Helper()
	g, err := topology.New(
		[]topology.City{{Name: "A"}, {Name: "B", X: 10}, {Name: "C", X: 20}, {Name: "D", X: 30}},
		[]topology.Road{{From: "A", To: "B"}, {From: "B", To: "C"}, {From: "C", To: "D"}},
	)
	if err != nil {
		t.Fatalf("topology: %v", err)
	}
	return g
}

func fleet() []model.Vehicle {
	return []model.Vehicle{
		{ID: 1, Name: "v1", Capacity: 10, CostPerKm: 1, Home: 0},
		{ID: 2, Name: "v2", Capacity: 10, CostPerKm: 2, Home: 3},
	}
}

func pair(t model.Task) []Step {
	return []Step{{Task: t, Role: Pickup}, {Task: t, Role: Delivery}}
}

func TestTrivialSolution(t *testing.T) {
	s := Trivial(lineTopo(t), fleet())
	if s.Cost != 0 || s.Goodness != 0 {
		t.Fatalf("trivial cost %v goodness %v, want 0", s.Cost, s.Goodness)
	}
	if s.NumTasks() != 0 {
		t.Fatalf("trivial carries %d tasks", s.NumTasks())
	}
	for _, p := range s.Plans() {
		if len(p.Actions) != 0 {
			t.Fatalf("vehicle %d has actions %v", p.Vehicle.ID, p.Actions)
		}
	}
}

func TestSolutionCostAndPlans(t *testing.T) {
	topo := lineTopo(t)
	task := model.Task{ID: 7, Pickup: 1, Delivery: 2, Weight: 3, Reward: 100}
	s := NewSolution(topo, fleet(), [][]Step{pair(task), nil})
	// v1: A->B->C = 20 km at 1/km.
	if s.Cost != 20 {
		t.Fatalf("cost = %v, want 20", s.Cost)
	}
	if got := s.EndCity(0); got != 2 {
		t.Fatalf("end city = %v, want 2", got)
	}
	if got := s.EndCity(1); got != 3 {
		t.Fatalf("idle vehicle end city = %v, want home 3", got)
	}
	want := []Action{
		{Kind: ActMove, City: 1},
		{Kind: ActPickup, City: 1, Task: task},
		{Kind: ActMove, City: 2},
		{Kind: ActDeliver, City: 2, Task: task},
	}
	if diff := cmp.Diff(want, s.Plans()[0].Actions); diff != "" {
		t.Fatalf("plan mismatch (-want +got):\n%s", diff)
	}
}

func TestSolutionCopiesAgendas(t *testing.T) {
	task := model.Task{ID: 1, Pickup: 0, Delivery: 1, Weight: 1}
	agenda := pair(task)
	s := NewSolution(lineTopo(t), fleet(), [][]Step{agenda, nil})
	agenda[0].Task.ID = 99
	if s.Agenda(0)[0].Task.ID != 1 {
		t.Fatal("solution aliases caller agenda")
	}
}

func TestReplaceTasks(t *testing.T) {
	topo := lineTopo(t)
	placeholder := model.Task{ID: 4, Pickup: 0, Delivery: 3, Weight: 1}
	s := NewSolution(topo, fleet(), [][]Step{pair(placeholder), nil})
	cost := s.Cost

	real := placeholder
	real.Reward = 250
	if err := s.ReplaceTasks([]model.Task{real, {ID: 9}}); err != nil {
		t.Fatalf("replace: %v", err)
	}
	if s.Cost != cost {
		t.Fatalf("cost changed %v -> %v", cost, s.Cost)
	}
	for _, st := range s.Agenda(0) {
		if st.Task.Reward != 250 {
			t.Fatalf("step %v kept placeholder task", st)
		}
	}

	err := s.ReplaceTasks([]model.Task{{ID: 5}})
	if !errors.Is(err, ErrUnmatchedTask) {
		t.Fatalf("err = %v, want ErrUnmatchedTask", err)
	}
	if s.Agenda(0)[0].Task.Reward != 250 {
		t.Fatal("failed replace modified the solution")
	}
}

func TestSolutionEqual(t *testing.T) {
	topo := lineTopo(t)
	a := model.Task{ID: 1, Pickup: 0, Delivery: 1, Weight: 1}
	b := model.Task{ID: 2, Pickup: 1, Delivery: 2, Weight: 1}
	s1 := NewSolution(topo, fleet(), [][]Step{append(pair(a), pair(b)...), nil})
	s2 := NewSolution(topo, fleet(), [][]Step{append(pair(a), pair(b)...), nil})
	s3 := NewSolution(topo, fleet(), [][]Step{append(pair(b), pair(a)...), nil})
	s4 := NewSolution(topo, fleet(), [][]Step{pair(a), pair(b)})
	if !s1.Equal(s2) || s1.Fingerprint() != s2.Fingerprint() {
		t.Fatal("identical solutions differ")
	}
	if s1.Equal(s3) {
		t.Fatal("order should matter")
	}
	if s1.Equal(s4) {
		t.Fatal("vehicle assignment should matter")
	}
}

func TestFeasible(t *testing.T) {
	v := model.Vehicle{ID: 1, Capacity: 5}
	a := model.Task{ID: 1, Weight: 3}
	b := model.Task{ID: 2, Weight: 3}
	seen := map[int]bool{}
	cases := []struct {
		name   string
		agenda []Step
		want   bool
	}{
		{"empty", nil, true},
		{"pair", pair(a), true},
		{"sequential", append(pair(a), pair(b)...), true},
		{"overlap overflows", []Step{{a, Pickup}, {b, Pickup}, {a, Delivery}, {b, Delivery}}, false},
		{"delivery first", []Step{{a, Delivery}, {a, Pickup}}, false},
		{"missing delivery", []Step{{a, Pickup}}, false},
		{"double pickup", []Step{{a, Pickup}, {a, Pickup}, {a, Delivery}}, false},
	}
	for _, tc := range cases {
		if got := feasible(v, tc.agenda, seen); got != tc.want {
			t.Errorf("%s: feasible = %v, want %v", tc.name, got, tc.want)
		}
	}
}
