package voice

import (
	"fmt"

	"github.com/example/go-unitsel/internal/cost"
	"github.com/example/go-unitsel/internal/features"
	"github.com/example/go-unitsel/internal/selection"
)

// Explanation breaks the target cost of one selected unit into per-feature
// terms. Diphones list the terms of both halves.
type Explanation struct {
	Target     string
	Unit       int
	TargetCost float64
	Terms      []cost.Term
}

type breakdowner interface {
	Breakdown(target, unit features.Vector) []cost.Term
}

// Explain recomputes the feature terms behind each unit of res. Terms are
// left empty for cost functions that cannot report them.
func (v *Voice) Explain(res *selection.Result) ([]Explanation, error) {
	var cache selection.FeatureCache
	fc := selection.MapFeatureComputer{PhoneFeature: v.Descriptor.PhoneFeature}
	def := v.Database.Definition()

	out := make([]Explanation, 0, len(res.Units))
	for _, c := range res.Units {
		e := Explanation{Target: c.Target.String(), Unit: c.Unit.Index(), TargetCost: c.TargetCost}
		us := c.Unit.Units()
		for i, half := range c.Target.Halves() {
			bd, ok := v.Database.CostFor(half).(breakdowner)
			if !ok || i >= len(us) {
				break
			}
			tv, err := cache.Vector(fc, def, half)
			if err != nil {
				return nil, fmt.Errorf("voice: explain %s: %w", half, err)
			}
			e.Terms = append(e.Terms, bd.Breakdown(tv, v.Features.Vectors[us[i].Index])...)
		}
		out = append(out, e)
	}
	return out, nil
}
