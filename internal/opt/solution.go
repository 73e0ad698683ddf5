package opt

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/cespare/xxhash/v2"

	"logibid/internal/model"
)

// ErrUnmatchedTask is returned by ReplaceTasks when a step's task has no replacement.
var ErrUnmatchedTask = errors.New("opt: step has no matching replacement task")

// Solution assigns an ordered agenda to every vehicle. Vehicles are stable keys by
// index. Agendas are never written in place: moves build fresh slices for the
// vehicles they touch and share the rest read-only, so candidates cannot disturb
// each other. Cost and Goodness are fixed at construction.
type Solution struct {
	topo     model.Topology
	vehicles []model.Vehicle
	agendas  [][]Step

	Cost     float64 // Σ route distance × cost per km
	Goodness float64 // ranking key; Cost unless the optimizer adjusts it
	fp       uint64
}

// NewSolution copies agendas; agendas[i] belongs to vehicles[i]. Precedence and
// capacity are the caller's responsibility.
func NewSolution(topo model.Topology, vehicles []model.Vehicle, agendas [][]Step) *Solution {
	own := make([][]Step, len(vehicles))
	for i := range own {
		if i < len(agendas) {
			own[i] = append([]Step(nil), agendas[i]...)
		}
	}
	return newOwned(topo, vehicles, own)
}

// Trivial is the do-nothing solution: every agenda empty, cost 0.
func Trivial(topo model.Topology, vehicles []model.Vehicle) *Solution {
	return newOwned(topo, vehicles, make([][]Step, len(vehicles)))
}

// newOwned takes ownership of agendas without copying.
func newOwned(topo model.Topology, vehicles []model.Vehicle, agendas [][]Step) *Solution {
	s := &Solution{topo: topo, vehicles: vehicles, agendas: agendas}
	s.Cost = s.computeCost()
	s.Goodness = s.Cost
	s.fp = s.fingerprint()
	return s
}

func (s *Solution) computeCost() float64 {
	total := 0.0
	for i, v := range s.vehicles {
		total += routeCost(s.topo, v, s.agendas[i])
	}
	return total
}

func routeCost(topo model.Topology, v model.Vehicle, agenda []Step) float64 {
	return routeDistance(topo, v.Home, agenda) * v.CostPerKm
}

func routeDistance(topo model.Topology, from model.CityID, agenda []Step) float64 {
	d := 0.0
	for _, st := range agenda {
		to := st.City()
		d += topo.Distance(from, to)
		from = to
	}
	return d
}

// fingerprint hashes vehicle IDs and step keys; equal solutions hash equal.
func (s *Solution) fingerprint() uint64 {
	h := xxhash.New()
	var buf [9]byte
	for i, v := range s.vehicles {
		binary.LittleEndian.PutUint64(buf[:8], uint64(v.ID))
		buf[8] = 0xff
		_, _ = h.Write(buf[:])
		for _, st := range s.agendas[i] {
			binary.LittleEndian.PutUint64(buf[:8], uint64(st.Task.ID))
			buf[8] = byte(st.Role)
			_, _ = h.Write(buf[:])
		}
	}
	return h.Sum64()
}

// Fingerprint is a structural hash; see Equal.
func (s *Solution) Fingerprint() uint64 { return s.fp }

// Vehicles returns the vehicle keys in index order.
func (s *Solution) Vehicles() []model.Vehicle { return append([]model.Vehicle(nil), s.vehicles...) }

// Agenda returns a copy of vehicle i's steps.
func (s *Solution) Agenda(i int) []Step { return append([]Step(nil), s.agendas[i]...) }

// NumTasks counts the tasks carried across all vehicles.
func (s *Solution) NumTasks() int {
	n := 0
	for _, a := range s.agendas {
		n += len(a)
	}
	return n / 2
}

// Tasks lists the tasks handled by vehicle i in pickup order.
func (s *Solution) Tasks(i int) []model.Task {
	var out []model.Task
	for _, st := range s.agendas[i] {
		if st.Role == Pickup {
			out = append(out, st.Task)
		}
	}
	return out
}

// EndCity is where vehicle i stops after its last step.
func (s *Solution) EndCity(i int) model.CityID {
	if a := s.agendas[i]; len(a) > 0 {
		return a[len(a)-1].City()
	}
	return s.vehicles[i].Home
}

// Equal reports structural equality: same vehicles in the same order with the
// same step keys.
func (s *Solution) Equal(o *Solution) bool {
	if s == o {
		return true
	}
	if o == nil || s.fp != o.fp || len(s.vehicles) != len(o.vehicles) {
		return false
	}
	for i := range s.vehicles {
		if s.vehicles[i].ID != o.vehicles[i].ID || len(s.agendas[i]) != len(o.agendas[i]) {
			return false
		}
		for k := range s.agendas[i] {
			if !s.agendas[i][k].Same(o.agendas[i][k]) {
				return false
			}
		}
	}
	return true
}

// Plans expands every agenda into moves along shortest paths, each followed by
// the pickup or delivery event.
func (s *Solution) Plans() []VehiclePlan {
	out := make([]VehiclePlan, len(s.vehicles))
	for i, v := range s.vehicles {
		actions := []Action{}
		from := v.Home
		for _, st := range s.agendas[i] {
			for _, c := range s.topo.Path(from, st.City()) {
				actions = append(actions, Action{Kind: ActMove, City: c})
			}
			kind := ActPickup
			if st.Role == Delivery {
				kind = ActDeliver
			}
			actions = append(actions, Action{Kind: kind, City: st.City(), Task: st.Task})
			from = st.City()
		}
		out[i] = VehiclePlan{Vehicle: v, Actions: actions}
	}
	return out
}

// ReplaceTasks swaps every step's task for the task with the same ID in tasks,
// keeping positions. Route topology, Cost and Goodness are unchanged. On a
// missing ID nothing is modified.
func (s *Solution) ReplaceTasks(tasks []model.Task) error {
	byID := make(map[int]model.Task, len(tasks))
	for _, t := range tasks {
		byID[t.ID] = t
	}
	next := make([][]Step, len(s.agendas))
	for i, a := range s.agendas {
		next[i] = make([]Step, len(a))
		for k, st := range a {
			t, ok := byID[st.Task.ID]
			if !ok {
				return fmt.Errorf("vehicle %d step %d (task %d %s): %w", s.vehicles[i].ID, k, st.Task.ID, st.Role, ErrUnmatchedTask)
			}
			next[i][k] = Step{Task: t, Role: st.Role}
		}
	}
	s.agendas = next
	return nil
}

// feasible checks precedence (pickup strictly before delivery, both present) and
// that the carried load never exceeds capacity. seen is scratch space.
func feasible(v model.Vehicle, agenda []Step, seen map[int]bool) bool {
	clear(seen)
	load := 0.0
	for _, st := range agenda {
		if st.Role == Pickup {
			if _, dup := seen[st.Task.ID]; dup {
				return false
			}
			seen[st.Task.ID] = true
			load += st.Task.Weight
			if load > v.Capacity {
				return false
			}
			continue
		}
		open, ok := seen[st.Task.ID]
		if !ok || !open {
			return false
		}
		seen[st.Task.ID] = false
		load -= st.Task.Weight
	}
	for _, open := range seen {
		if open {
			return false
		}
	}
	return true
}
