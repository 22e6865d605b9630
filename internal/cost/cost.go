// Package cost implements the target and join cost functions that score
// candidate units during selection.
package cost

import (
	"github.com/example/go-unitsel/internal/features"
	"github.com/example/go-unitsel/internal/units"
)

// TargetCostFunction scores how well a unit's features match a target.
type TargetCostFunction interface {
	Cost(target, unit features.Vector) float64
	Definition() *features.Definition
}

// JoinCostFunction scores the transition from u1 to u2. The target vectors
// are those of the targets the units realize: for diphones, the halves
// adjacent to the join.
type JoinCostFunction interface {
	Cost(t1 features.Vector, u1 units.Span, t2 features.Vector, u2 units.Span) float64
}

// Term is one feature's contribution to a target cost.
type Term struct {
	Feature string
	Weight  float64
	Target  string
	Unit    string
	Cost    float64
}
