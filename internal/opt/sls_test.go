package opt

import (
	"errors"
	"testing"
	"time"

	"logibid/internal/model"
)

func someTasks() []model.Task {
	return []model.Task{
		{ID: 1, Pickup: 0, Delivery: 3, Weight: 4},
		{ID: 2, Pickup: 1, Delivery: 2, Weight: 6},
		{ID: 3, Pickup: 3, Delivery: 0, Weight: 2},
		{ID: 4, Pickup: 2, Delivery: 1, Weight: 5},
		{ID: 5, Pickup: 1, Delivery: 3, Weight: 3},
		{ID: 6, Pickup: 0, Delivery: 2, Weight: 7},
	}
}

// checkComplete fails unless every task appears once with a feasible agenda.
func checkComplete(t *testing.T, s *Solution, tasks []model.Task) {
	t.Helper()
	if s.NumTasks() != len(tasks) {
		t.Fatalf("solution carries %d tasks, want %d", s.NumTasks(), len(tasks))
	}
	carried := map[int]int{}
	seen := map[int]bool{}
	for i, v := range s.Vehicles() {
		if !feasible(v, s.Agenda(i), seen) {
			t.Fatalf("vehicle %d agenda infeasible: %v", v.ID, s.Agenda(i))
		}
		for _, task := range s.Tasks(i) {
			carried[task.ID]++
		}
	}
	for _, task := range tasks {
		if carried[task.ID] != 1 {
			t.Fatalf("task %d carried %d times", task.ID, carried[task.ID])
		}
	}
}

func TestSolveEmptyTaskSet(t *testing.T) {
	a, m, err := Solve(Problem{Topology: lineTopo(t), Vehicles: fleet()}, 1, time.Second)
	if err != nil {
		t.Fatalf("solve: %v", err)
	}
	if a.Len() != 1 || a.First().Cost != 0 {
		t.Fatalf("want the single empty solution, got %d entries", a.Len())
	}
	if m.Iterations != 0 {
		t.Fatalf("iterations = %d, want 0", m.Iterations)
	}
}

func TestSolveInfeasibleTask(t *testing.T) {
	tasks := []model.Task{{ID: 1, Pickup: 0, Delivery: 1, Weight: 50}}
	_, _, err := Solve(Problem{Topology: lineTopo(t), Vehicles: fleet(), Tasks: tasks}, 1, time.Second)
	if !errors.Is(err, ErrInfeasible) {
		t.Fatalf("err = %v, want ErrInfeasible", err)
	}
}

func TestSolveArchiveFeasibleAndSorted(t *testing.T) {
	tasks := someTasks()
	a, m, err := Solve(Problem{Topology: lineTopo(t), Vehicles: fleet(), Tasks: tasks, IterationsLimit: 2000}, 42, 10*time.Second)
	if err != nil {
		t.Fatalf("solve: %v", err)
	}
	prev := -1.0
	for _, s := range a.All() {
		checkComplete(t, s, tasks)
		if s.Goodness < prev {
			t.Fatalf("archive not sorted: %v after %v", s.Goodness, prev)
		}
		prev = s.Goodness
	}
	if m.FinalCost > m.InitialCost {
		t.Fatalf("final %v worse than initial %v", m.FinalCost, m.InitialCost)
	}
	if m.Iterations != 2000 {
		t.Fatalf("iterations = %d, want 2000", m.Iterations)
	}
}

func TestSolveReproducibleAndMonotone(t *testing.T) {
	p := Problem{Topology: lineTopo(t), Vehicles: fleet(), Tasks: someTasks()}
	run := func(limit int) *Solution {
		p.IterationsLimit = limit
		a, _, err := Solve(p, 7, 10*time.Second)
		if err != nil {
			t.Fatalf("solve: %v", err)
		}
		return a.First()
	}
	short, again, long := run(200), run(200), run(3000)
	if !short.Equal(again) {
		t.Fatal("same seed and budget gave different best solutions")
	}
	if long.Cost > short.Cost {
		t.Fatalf("larger budget got worse: %v > %v", long.Cost, short.Cost)
	}
}

func TestSolveHonoursDeadline(t *testing.T) {
	start := time.Now()
	_, _, err := Solve(Problem{Topology: lineTopo(t), Vehicles: fleet(), Tasks: someTasks()}, 3, 30*time.Millisecond)
	if err != nil {
		t.Fatalf("solve: %v", err)
	}
	if el := time.Since(start); el > time.Second {
		t.Fatalf("solve ran %v past a 30ms budget", el)
	}
}

func TestSolveResumesFromSeed(t *testing.T) {
	topo := lineTopo(t)
	tasks := someTasks()
	a, _, err := Solve(Problem{Topology: topo, Vehicles: fleet(), Tasks: tasks[:4], IterationsLimit: 500}, 5, 10*time.Second)
	if err != nil {
		t.Fatalf("solve: %v", err)
	}
	seed := a.First()

	// Drop task 1, add tasks 5 and 6.
	next := tasks[1:]
	b, m, err := Solve(Problem{Topology: topo, Vehicles: fleet(), Tasks: next, Seed: seed, IterationsLimit: 1}, 5, 10*time.Second)
	if err != nil {
		t.Fatalf("resume: %v", err)
	}
	checkComplete(t, b.First(), next)
	if m.InitialCost <= 0 {
		t.Fatalf("initial cost = %v", m.InitialCost)
	}
}

type endBonus map[model.CityID]float64

func (b endBonus) TerminalValue(_ model.Vehicle, c model.CityID) float64 { return b[c] }

func TestSolveTerminalValueShapesGoodness(t *testing.T) {
	tasks := someTasks()[:2]
	p := Problem{
		Topology: lineTopo(t), Vehicles: fleet(), Tasks: tasks,
		Values: endBonus{3: 100}, ValueWeight: 0.5, IterationsLimit: 300,
	}
	a, _, err := Solve(p, 11, 10*time.Second)
	if err != nil {
		t.Fatalf("solve: %v", err)
	}
	for _, s := range a.All() {
		bonus := 0.0
		for i := range s.Vehicles() {
			if s.EndCity(i) == 3 {
				bonus += 100
			}
		}
		if want := s.Cost - 0.5*bonus; s.Goodness != want {
			t.Fatalf("goodness = %v, want %v", s.Goodness, want)
		}
	}
}

func TestInsertTask(t *testing.T) {
	topo := lineTopo(t)
	base := Trivial(topo, fleet())
	task := model.Task{ID: 1, Pickup: 0, Delivery: 1, Weight: 2}
	s, err := InsertTask(base, task)
	if err != nil {
		t.Fatalf("insert: %v", err)
	}
	// v1 is home at A and costs 1/km: A->B is 10.
	if s.Cost != 10 || len(s.Tasks(0)) != 1 {
		t.Fatalf("cost %v, v1 tasks %v", s.Cost, s.Tasks(0))
	}
	if base.NumTasks() != 0 {
		t.Fatal("insert modified its input")
	}
	if _, err := InsertTask(base, model.Task{ID: 2, Weight: 99}); !errors.Is(err, ErrInfeasible) {
		t.Fatalf("err = %v, want ErrInfeasible", err)
	}
}

func TestPolishNeverWorsens(t *testing.T) {
	topo := lineTopo(t)
	a := model.Task{ID: 1, Pickup: 3, Delivery: 0, Weight: 1}
	b := model.Task{ID: 2, Pickup: 3, Delivery: 1, Weight: 1}
	// A->D->A->D->B = 30+30+30+20; carrying both from D is cheaper.
	s := NewSolution(topo, fleet(), [][]Step{append(pair(a), pair(b)...), nil})
	got := Polish(s, time.Now().Add(time.Second))
	if got.Cost >= s.Cost {
		t.Fatalf("polish cost %v, want below %v", got.Cost, s.Cost)
	}
	checkComplete(t, got, []model.Task{a, b})

	if Polish(got, time.Now().Add(time.Second)).Cost > got.Cost {
		t.Fatal("second polish worsened the solution")
	}
}

func TestMetricsStore(t *testing.T) {
	RecordMetrics("agent-x", "own", Metrics{Iterations: 3})
	RecordMetrics("agent-x", "adversary", Metrics{Iterations: 4})
	RecordMetrics("agent-y", "own", Metrics{Iterations: 5})
	got := GetMetrics("agent-x")
	if len(got) != 2 || got["own"].Iterations != 3 || got["adversary"].Iterations != 4 {
		t.Fatalf("metrics = %+v", got)
	}
}
