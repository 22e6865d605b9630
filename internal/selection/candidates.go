package selection

import (
	"cmp"
	"fmt"
	"slices"

	"github.com/example/go-unitsel/internal/features"
	"github.com/example/go-unitsel/internal/units"
)

// Candidate pairs a target with a unit that could realize it.
type Candidate struct {
	Target     *Target
	Unit       units.Span
	TargetCost float64

	// vectors of the target halves at the candidate's left and right edge
	first, last features.Vector
}

func compareCandidates(a, b Candidate) int {
	if c := cmp.Compare(a.TargetCost, b.TargetCost); c != 0 {
		return c
	}
	return cmp.Compare(a.Unit.Index(), b.Unit.Index())
}

// column is the candidate set of one lattice position.
type column []Candidate

// generator builds candidate sets for one selection call.
type generator struct {
	db       *Database
	computer FeatureComputer
	cache    *FeatureCache
	min, max int
}

// preselect returns the non-edge units the index offers for v, widening the
// pool one level at a time while it holds fewer than min units.
func (g *generator) preselect(v features.Vector) []features.Vector {
	var pool []features.Vector
	for depth := g.db.Index.Depth(); depth >= 0; depth-- {
		pool = pool[:0]
		for _, u := range g.db.Index.RetrieveDepth(v, depth) {
			if !g.db.Units.At(u.Unit()).IsEdge() {
				pool = append(pool, u)
			}
		}
		if len(pool) >= g.min {
			break
		}
	}
	return pool
}

func (g *generator) vector(t *Target) (features.Vector, error) {
	return g.cache.Vector(g.computer, g.db.Definition(), t)
}

func (g *generator) truncate(c column) column {
	slices.SortFunc(c, compareCandidates)
	if g.max > 0 && len(c) > g.max {
		c = c[:g.max]
	}
	return c
}

// single generates candidates for a simple or half-phone target.
func (g *generator) single(t *Target) (column, error) {
	v, err := g.vector(t)
	if err != nil {
		return nil, err
	}
	tc := g.db.CostFor(t)
	pool := g.preselect(v)
	out := make(column, 0, len(pool))
	for _, u := range pool {
		out = append(out, Candidate{
			Target:     t,
			Unit:       units.Single(g.db.Units.At(u.Unit())),
			TargetCost: tc.Cost(v, u),
			first:      v,
			last:       v,
		})
	}
	return g.truncate(out), nil
}

// diphone pairs recorded units across the diphone boundary. A left unit u
// qualifies when u+1 is a non-edge unit with the right half's phone; a right
// unit v qualifies when v-1 is a non-edge unit with the left half's phone.
func (g *generator) diphone(t *Target) (column, error) {
	lv, err := g.vector(t.Left)
	if err != nil {
		return nil, err
	}
	rv, err := g.vector(t.Right)
	if err != nil {
		return nil, err
	}
	phone := g.db.PhoneFeature()
	wantLeft, wantRight := lv.Code(phone), rv.Code(phone)

	lefts := make(map[int]bool)
	for _, u := range g.preselect(lv) {
		if next, ok := g.db.Units.Neighbor(u.Unit(), 1); ok && g.db.Vectors[next.Index].Code(phone) == wantRight {
			lefts[u.Unit()] = true
		}
	}
	for _, u := range g.preselect(rv) {
		if prev, ok := g.db.Units.Neighbor(u.Unit(), -1); ok && g.db.Vectors[prev.Index].Code(phone) == wantLeft {
			lefts[prev.Index] = true
		}
	}

	lc, rc := g.db.CostFor(t.Left), g.db.CostFor(t.Right)
	out := make(column, 0, len(lefts))
	for u := range lefts {
		a, b := g.db.Units.At(u), g.db.Units.At(u+1)
		c := (lc.Cost(lv, g.db.Vectors[u]) + rc.Cost(rv, g.db.Vectors[u+1])) / 2
		out = append(out, Candidate{
			Target:     t,
			Unit:       units.Diphone(a, b),
			TargetCost: c,
			first:      lv,
			last:       rv,
		})
	}
	return g.truncate(out), nil
}

// generate returns the lattice columns for t: one column, or two when a
// diphone without candidates falls back to its halves.
func (g *generator) generate(t *Target) ([]column, error) {
	if t == nil {
		return nil, fmt.Errorf("selection: %w: nil target", ErrMalformedTarget)
	}
	if t.Kind != KindDiphone {
		c, err := g.single(t)
		if err != nil {
			return nil, err
		}
		return []column{c}, nil
	}

	c, err := g.diphone(t)
	if err != nil {
		return nil, err
	}
	if len(c) > 0 {
		return []column{c}, nil
	}
	left, err := g.single(t.Left)
	if err != nil {
		return nil, err
	}
	right, err := g.single(t.Right)
	if err != nil {
		return nil, err
	}
	return []column{left, right}, nil
}
