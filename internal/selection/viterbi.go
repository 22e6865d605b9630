package selection

import (
	"cmp"
	"context"
	"fmt"
	"math"
	"slices"

	"github.com/example/go-unitsel/internal/cost"
)

type weights struct {
	target, join float64
}

// cell is one lattice state: a candidate with its best cumulative score and
// the position of its best predecessor in the previous column.
type cell struct {
	score float64
	back  int
}

// ranked returns the positions of finite cells ordered by (score, unit
// index), truncated to beam when beam > 0.
func ranked(col column, cells []cell, beam int) []int {
	order := make([]int, 0, len(cells))
	for i, c := range cells {
		if !math.IsInf(c.score, 1) {
			order = append(order, i)
		}
	}
	slices.SortStableFunc(order, func(a, b int) int {
		if c := cmp.Compare(cells[a].score, cells[b].score); c != 0 {
			return c
		}
		return cmp.Compare(col[a].Unit.Index(), col[b].Unit.Index())
	})
	if beam > 0 && len(order) > beam {
		order = order[:beam]
	}
	return order
}

// viterbi finds the minimum cost path through the lattice. A predecessor
// only replaces the current best on a strictly lower score, so ties keep
// the lower ranked predecessor.
func viterbi(ctx context.Context, lattice []column, join cost.JoinCostFunction, w weights, beam int) ([]Candidate, float64, error) {
	if len(lattice) == 0 {
		return nil, 0, nil
	}
	cells := make([][]cell, len(lattice))
	for i, col := range lattice {
		if len(col) == 0 {
			return nil, 0, fmt.Errorf("selection: %w: no candidates at position %d", ErrNoPath, i)
		}
		cells[i] = make([]cell, len(col))
	}

	for j, c := range lattice[0] {
		cells[0][j] = cell{score: w.target * c.TargetCost, back: -1}
	}

	for i := 1; i < len(lattice); i++ {
		if err := ctx.Err(); err != nil {
			return nil, 0, fmt.Errorf("selection: search cancelled at position %d: %w", i, err)
		}
		prevCol := lattice[i-1]
		preds := ranked(prevCol, cells[i-1], beam)
		if len(preds) == 0 {
			return nil, 0, fmt.Errorf("selection: %w: position %d is unreachable", ErrNoPath, i-1)
		}
		for j, c := range lattice[i] {
			best := cell{score: math.Inf(1), back: -1}
			tc := w.target * c.TargetCost
			for _, p := range preds {
				pc := prevCol[p]
				jc := join.Cost(pc.last, pc.Unit, c.first, c.Unit)
				if math.IsInf(jc, 1) || math.IsNaN(jc) {
					continue
				}
				if s := cells[i-1][p].score + w.join*jc + tc; s < best.score {
					best = cell{score: s, back: p}
				}
			}
			cells[i][j] = best
		}
	}

	last := len(lattice) - 1
	final := ranked(lattice[last], cells[last], 1)
	if len(final) == 0 {
		return nil, 0, fmt.Errorf("selection: %w: position %d is unreachable", ErrNoPath, last)
	}

	path := make([]Candidate, len(lattice))
	at := final[0]
	total := cells[last][at].score
	for i := last; i >= 0; i-- {
		path[i] = lattice[i][at]
		at = cells[i][at].back
	}
	return path, total, nil
}
