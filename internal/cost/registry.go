package cost

import (
	"fmt"
	"slices"
	"strings"

	"github.com/example/go-unitsel/internal/features"
)

// Join cost kinds.
const (
	JoinFeaturesKind = "features"
	JoinModelKind    = "model"
)

// JoinDeps are the resources a join cost variant may need.
type JoinDeps struct {
	Features     *JoinFeatures
	Precomputed  *Precomputed
	Model        *JoinModel
	Targets      *features.Definition
	SignalWeight float64
}

type joinFactory func(JoinDeps) (JoinCostFunction, error)

var joinKinds = map[string]joinFactory{
	JoinFeaturesKind: func(d JoinDeps) (JoinCostFunction, error) {
		opts := []JoinOption{WithPrecomputed(d.Precomputed)}
		if d.SignalWeight > 0 {
			opts = append(opts, WithSignalWeight(d.SignalWeight))
		}
		return NewJoinCostFeatures(d.Features, opts...), nil
	},
	JoinModelKind: func(d JoinDeps) (JoinCostFunction, error) {
		if d.Model == nil {
			return nil, fmt.Errorf("cost: join cost %q needs a join model", JoinModelKind)
		}
		if d.Targets == nil {
			return nil, fmt.Errorf("cost: join cost %q needs the target feature definition", JoinModelKind)
		}
		return NewJoinModelCost(d.Model, d.Features, d.Targets)
	},
}

// JoinKinds lists the registered join cost kinds.
func JoinKinds() []string {
	kinds := make([]string, 0, len(joinKinds))
	for k := range joinKinds {
		kinds = append(kinds, k)
	}
	slices.Sort(kinds)
	return kinds
}

// NewJoinCostFunction resolves a join cost variant by kind. An empty kind
// selects the feature distance.
func NewJoinCostFunction(kind string, deps JoinDeps) (JoinCostFunction, error) {
	kind = strings.ToLower(strings.TrimSpace(kind))
	if kind == "" {
		kind = JoinFeaturesKind
	}
	factory, ok := joinKinds[kind]
	if !ok {
		return nil, fmt.Errorf("cost: unknown join cost %q (expected %s)", kind, strings.Join(JoinKinds(), "|"))
	}
	if deps.Features == nil {
		return nil, fmt.Errorf("cost: join cost %q needs join features", kind)
	}
	return factory(deps)
}
