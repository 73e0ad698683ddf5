package opt

import "sort"

// DefaultArchiveSize is used when a caller passes a non-positive capacity.
const DefaultArchiveSize = 10

// Archive is a bounded, duplicate-free list of solutions kept in ascending
// Goodness order. Ties keep insertion order; overflow drops the worst tail.
type Archive struct {
	limit int
	items []*Solution
}

func NewArchive(limit int) *Archive {
	if limit <= 0 {
		limit = DefaultArchiveSize
	}
	return &Archive{limit: limit, items: make([]*Solution, 0, limit+1)}
}

// Add inserts s right after the last entry whose Goodness is <= s.Goodness.
// It reports whether s is held after trimming.
func (a *Archive) Add(s *Solution) bool {
	if s == nil {
		return false
	}
	// Worse than a full archive's tail: would be trimmed immediately.
	if len(a.items) >= a.limit && s.Goodness >= a.items[len(a.items)-1].Goodness {
		return false
	}
	for _, have := range a.items {
		if have.Equal(s) {
			return false
		}
	}
	pos := sort.Search(len(a.items), func(i int) bool { return a.items[i].Goodness > s.Goodness })
	a.items = append(a.items, nil)
	copy(a.items[pos+1:], a.items[pos:])
	a.items[pos] = s
	if len(a.items) > a.limit {
		a.items[len(a.items)-1] = nil
		a.items = a.items[:a.limit]
	}
	return true
}

// AddAll applies Add to each solution in order.
func (a *Archive) AddAll(ss []*Solution) {
	for _, s := range ss {
		a.Add(s)
	}
}

// First is the lowest-Goodness solution, nil when empty.
func (a *Archive) First() *Solution {
	if len(a.items) == 0 {
		return nil
	}
	return a.items[0]
}

// Last is the highest-Goodness solution, nil when empty.
func (a *Archive) Last() *Solution {
	if len(a.items) == 0 {
		return nil
	}
	return a.items[len(a.items)-1]
}

func (a *Archive) Len() int { return len(a.items) }

func (a *Archive) Cap() int { return a.limit }

// All returns the held solutions best first.
func (a *Archive) All() []*Solution { return append([]*Solution(nil), a.items...) }
