// Package topology provides the city graph and task distribution consumed by the
// engine: all-pairs shortest distances and next-hop paths over undirected roads.
package topology

import (
	"errors"
	"fmt"
	"math"

	"github.com/katalvlaran/lvlath/matrix"

	"logibid/internal/model"
)

var (
	ErrUnknownCity  = errors.New("topology: unknown city")
	ErrDisconnected = errors.New("topology: graph is not connected")
	ErrBadRoad      = errors.New("topology: road length must be positive")
)

// City is a named node with planar coordinates.
type City struct {
	Name string  `yaml:"name"`
	X    float64 `yaml:"x"`
	Y    float64 `yaml:"y"`
}

// Road connects two cities by name. Length 0 means the euclidean distance.
type Road struct {
	From   string  `yaml:"from"`
	To     string  `yaml:"to"`
	Length float64 `yaml:"length,omitempty"`
}

// Graph is an immutable topology with precomputed shortest paths.
type Graph struct {
	cities []City
	byName map[string]model.CityID
	dist   []float64 // row-major n×n
	next   []int     // next hop on a shortest path
}

// New builds the graph from its roads and computes all-pairs shortest paths.
// Every city must be reachable and every road must have a positive length.
func New(cities []City, roads []Road) (*Graph, error) {
	n := len(cities)
	g := &Graph{
		cities: append([]City(nil), cities...),
		byName: make(map[string]model.CityID, n),
		dist:   make([]float64, n*n),
		next:   make([]int, n*n),
	}
	for i, c := range cities {
		if _, dup := g.byName[c.Name]; dup {
			return nil, fmt.Errorf("topology: duplicate city %q", c.Name)
		}
		g.byName[c.Name] = model.CityID(i)
	}
	if n == 0 {
		return g, nil
	}

	// direct[i*n+j] is the shortest road between i and j, 0 when there is none.
	direct := make([]float64, n*n)
	total := 0.0
	for _, r := range roads {
		a, ok := g.byName[r.From]
		if !ok {
			return nil, fmt.Errorf("road %s-%s: %w", r.From, r.To, ErrUnknownCity)
		}
		b, ok := g.byName[r.To]
		if !ok {
			return nil, fmt.Errorf("road %s-%s: %w", r.From, r.To, ErrUnknownCity)
		}
		l := r.Length
		if l <= 0 {
			ca, cb := cities[a], cities[b]
			l = math.Hypot(ca.X-cb.X, ca.Y-cb.Y)
		}
		if l <= 0 || math.IsInf(l, 0) || math.IsNaN(l) {
			return nil, fmt.Errorf("road %s-%s: length %v: %w", r.From, r.To, l, ErrBadRoad)
		}
		if a == b {
			continue
		}
		total += l
		i, j := int(a), int(b)
		if direct[i*n+j] == 0 || l < direct[i*n+j] {
			direct[i*n+j], direct[j*n+i] = l, l
		}
	}

	// Unreachable pairs start at a finite bound no real path can reach, since
	// the dense matrix only stores finite values.
	unreachable := total + 1
	d, err := matrix.NewDense(n, n)
	if err != nil {
		return nil, fmt.Errorf("topology: %w", err)
	}
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			v := direct[i*n+j]
			switch {
			case i == j:
				v = 0
			case v == 0:
				v = unreachable
			}
			if err := d.Set(i, j, v); err != nil {
				return nil, fmt.Errorf("topology: %w", err)
			}
		}
	}
	if err := matrix.FloydWarshall(d); err != nil {
		return nil, fmt.Errorf("topology: shortest paths: %w", err)
	}
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			v, err := d.At(i, j)
			if err != nil {
				return nil, fmt.Errorf("topology: %w", err)
			}
			if v >= unreachable {
				return nil, fmt.Errorf("%s unreachable from %s: %w", cities[j].Name, cities[i].Name, ErrDisconnected)
			}
			g.dist[i*n+j] = v
		}
	}
	g.buildNextHops(direct)
	return g, nil
}

// buildNextHops picks, for every pair a≠b, the lowest-index neighbour j of a
// with road(a,j) + d(j,b) = d(a,b). Road lengths are positive, so following
// next hops strictly shortens the remaining distance.
func (g *Graph) buildNextHops(direct []float64) {
	n := len(g.cities)
	for a := 0; a < n; a++ {
		for b := 0; b < n; b++ {
			g.next[a*n+b] = b
			if a == b {
				continue
			}
			want := g.dist[a*n+b]
			tol := 1e-9 * math.Max(1, want)
			for j := 0; j < n; j++ {
				l := direct[a*n+j]
				if l == 0 {
					continue
				}
				if math.Abs(l+g.dist[j*n+b]-want) <= tol {
					g.next[a*n+b] = j
					break
				}
			}
		}
	}
}

// Cities lists every city ID in index order.
func (g *Graph) Cities() []model.CityID {
	out := make([]model.CityID, len(g.cities))
	for i := range out {
		out[i] = model.CityID(i)
	}
	return out
}

// CityName returns the city's name, or "?" for an unknown ID.
func (g *Graph) CityName(c model.CityID) string {
	if int(c) < 0 || int(c) >= len(g.cities) {
		return "?"
	}
	return g.cities[c].Name
}

// Lookup resolves a city by name.
func (g *Graph) Lookup(name string) (model.CityID, error) {
	id, ok := g.byName[name]
	if !ok {
		return model.NoCity, fmt.Errorf("%q: %w", name, ErrUnknownCity)
	}
	return id, nil
}

func (g *Graph) Distance(a, b model.CityID) float64 {
	return g.dist[int(a)*len(g.cities)+int(b)]
}

func (g *Graph) Path(a, b model.CityID) []model.CityID {
	n := len(g.cities)
	var out []model.CityID
	for cur := int(a); cur != int(b); {
		cur = g.next[cur*n+int(b)]
		out = append(out, model.CityID(cur))
	}
	return out
}
