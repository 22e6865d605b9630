package cost

import (
	"fmt"
	"math"

	"github.com/example/go-unitsel/internal/features"
)

// FeatureTargetCost is the weighted feature-by-feature target cost:
// mismatching discrete features add their weight (or the declared
// similarity times the weight), continuous features add the weighted
// distance of their weighting function.
type FeatureTargetCost struct {
	def     *features.Definition
	weights *features.Definition
}

// NewFeatureTargetCost builds a target cost over def. A non-nil override
// supplies weights, weighting functions and similarity matrices and must be
// compatible with def.
func NewFeatureTargetCost(def, override *features.Definition) (*FeatureTargetCost, error) {
	weights := def
	if override != nil {
		if err := def.CheckCompatible(override); err != nil {
			return nil, fmt.Errorf("cost: target weights: %w", err)
		}
		weights = override
	}
	return &FeatureTargetCost{def: def, weights: weights}, nil
}

// Definition is the schema of the unit feature vectors.
func (c *FeatureTargetCost) Definition() *features.Definition { return c.def }

// Cost returns the weighted distance between target and unit. Continuous
// pairs involving NaN are skipped.
func (c *FeatureTargetCost) Cost(target, unit features.Vector) float64 {
	var sum float64
	w := c.weights
	for i := 0; i < w.NumDiscrete(); i++ {
		sum += c.discrete(i, target, unit)
	}
	for j := 0; j < w.NumContinuous(); j++ {
		sum += c.continuous(j, target, unit)
	}
	return sum
}

func (c *FeatureTargetCost) discrete(i int, target, unit features.Vector) float64 {
	weight := float64(c.weights.Weight(i))
	if weight == 0 {
		return 0
	}
	a, b := target.Code(i), unit.Code(i)
	if i < c.weights.NumByte() {
		if s, ok := c.weights.Similarity(i, byte(a), byte(b)); ok {
			return weight * float64(s)
		}
	}
	if a != b {
		return weight
	}
	return 0
}

func (c *FeatureTargetCost) continuous(j int, target, unit features.Vector) float64 {
	i := c.weights.NumDiscrete() + j
	weight := float64(c.weights.Weight(i))
	if weight == 0 {
		return 0
	}
	a, b := float64(target.Float(j)), float64(unit.Float(j))
	if math.IsNaN(a) || math.IsNaN(b) {
		return 0
	}
	return weight * c.weights.WeightFunc(i).Cost(a, b)
}

// Breakdown lists the non-zero-weight terms of Cost in feature order.
func (c *FeatureTargetCost) Breakdown(target, unit features.Vector) []Term {
	w := c.weights
	terms := make([]Term, 0, w.NumFeatures())
	for i := 0; i < w.NumFeatures(); i++ {
		if w.Weight(i) == 0 {
			continue
		}
		t := Term{Feature: w.Name(i), Weight: float64(w.Weight(i))}
		if i < w.NumDiscrete() {
			t.Target, _ = w.ValueName(i, target.Code(i))
			t.Unit, _ = w.ValueName(i, unit.Code(i))
			t.Cost = c.discrete(i, target, unit)
		} else {
			j := i - w.NumDiscrete()
			t.Target = fmt.Sprint(target.Float(j))
			t.Unit = fmt.Sprint(unit.Float(j))
			t.Cost = c.continuous(j, target, unit)
		}
		terms = append(terms, t)
	}
	return terms
}
