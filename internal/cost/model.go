package cost

import (
	"fmt"
	"io"
	"math"

	"gopkg.in/yaml.v3"

	"github.com/example/go-unitsel/internal/binfile"
	"github.com/example/go-unitsel/internal/features"
	"github.com/example/go-unitsel/internal/units"
)

// DefaultF0Weight balances the F0 and spectral terms of the join model.
const DefaultF0Weight = 0.5

// Gaussian is a diagonal normal distribution.
type Gaussian struct {
	Mean     []float64 `yaml:"mean"`
	Variance []float64 `yaml:"variance"`
}

// distance is the variance-normalized Euclidean distance of x from the
// mean.
func (g Gaussian) distance(x []float64) float64 {
	var sum float64
	for i, v := range x {
		d := v - g.Mean[i]
		sum += d * d / g.Variance[i]
	}
	return math.Sqrt(sum)
}

func (g Gaussian) validate(dim int, where string) error {
	if len(g.Mean) != dim || len(g.Variance) != dim {
		return fmt.Errorf("cost: %w: join model %s has %d means and %d variances, want %d",
			binfile.ErrFormat, where, len(g.Mean), len(g.Variance), dim)
	}
	for i, v := range g.Variance {
		if !(v > 0) {
			return fmt.Errorf("cost: %w: join model %s variance %d is %v", binfile.ErrFormat, where, i, v)
		}
	}
	return nil
}

// ModelNode is a node of the join model tree. An internal node names a
// discrete target feature and branches on its value name; a leaf carries
// the Gaussians for the spectral and F0 boundary differences.
type ModelNode struct {
	Feature  string                `yaml:"feature,omitempty"`
	Branches map[string]*ModelNode `yaml:"branches,omitempty"`
	Default  *ModelNode            `yaml:"default,omitempty"`

	MCep *Gaussian `yaml:"mcep,omitempty"`
	F0   *Gaussian `yaml:"f0,omitempty"`

	featureIndex int
	byCode       []*ModelNode
}

// JoinModel is the decoded model file.
type JoinModel struct {
	F0Weight *float64   `yaml:"f0_weight,omitempty"`
	Tree     *ModelNode `yaml:"tree"`
}

// ReadJoinModel decodes a YAML join model. Unknown keys are rejected.
func ReadJoinModel(r io.Reader) (*JoinModel, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	var m JoinModel
	if err := dec.Decode(&m); err != nil {
		return nil, fmt.Errorf("cost: %w: join model: %v", binfile.ErrFormat, err)
	}
	if m.Tree == nil {
		return nil, fmt.Errorf("cost: %w: join model has no tree", binfile.ErrFormat)
	}
	return &m, nil
}

// WriteJoinModel encodes m as YAML.
func WriteJoinModel(w io.Writer, m *JoinModel) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(m); err != nil {
		return fmt.Errorf("cost: write join model: %w", err)
	}
	return enc.Close()
}

// JoinModelCost scores joins by how typical the boundary difference is for
// the left target's context. Adjacency and edge rules match
// JoinCostFeatures.
type JoinModelCost struct {
	features *JoinFeatures
	def      *features.Definition
	tree     *ModelNode
	f0Weight float64
}

// NewJoinModelCost binds m to the join features and the target schema. The
// last join feature is F0; the others are spectral.
func NewJoinModelCost(m *JoinModel, jf *JoinFeatures, def *features.Definition) (*JoinModelCost, error) {
	if jf.Dim() < 2 {
		return nil, fmt.Errorf("cost: %w: join model needs at least two join features, have %d", binfile.ErrIncompatible, jf.Dim())
	}
	c := &JoinModelCost{features: jf, def: def, tree: m.Tree, f0Weight: DefaultF0Weight}
	if m.F0Weight != nil {
		c.f0Weight = *m.F0Weight
	}
	if c.f0Weight < 0 || c.f0Weight > 1 {
		return nil, fmt.Errorf("cost: %w: f0 weight %v outside [0,1]", binfile.ErrFormat, c.f0Weight)
	}
	if err := c.bind(c.tree, "tree"); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *JoinModelCost) bind(n *ModelNode, where string) error {
	if n.Feature == "" {
		if n.MCep == nil || n.F0 == nil {
			return fmt.Errorf("cost: %w: join model leaf %s lacks mcep or f0", binfile.ErrFormat, where)
		}
		if err := n.MCep.validate(c.features.Dim()-1, where+".mcep"); err != nil {
			return err
		}
		return n.F0.validate(1, where+".f0")
	}

	idx, ok := c.def.Index(n.Feature)
	if !ok || c.def.Kind(idx) == features.KindContinuous {
		return fmt.Errorf("cost: %w: join model splits on %q, not a discrete target feature", binfile.ErrIncompatible, n.Feature)
	}
	if n.Default == nil {
		return fmt.Errorf("cost: %w: join model node %s on %q has no default", binfile.ErrFormat, where, n.Feature)
	}
	n.featureIndex = idx
	n.byCode = make([]*ModelNode, c.def.NumValues(idx))
	for value, child := range n.Branches {
		code, err := c.def.ValueCode(idx, value)
		if err != nil {
			return fmt.Errorf("cost: join model node %s: %w", where, err)
		}
		if err := c.bind(child, where+"."+value); err != nil {
			return err
		}
		n.byCode[code] = child
	}
	return c.bind(n.Default, where+".default")
}

func (c *JoinModelCost) leaf(target features.Vector) *ModelNode {
	n := c.tree
	for n.Feature != "" {
		next := n.Default
		if target.NumBytes()+target.NumShorts() > n.featureIndex {
			if code := target.Code(n.featureIndex); code < len(n.byCode) && n.byCode[code] != nil {
				next = n.byCode[code]
			}
		}
		n = next
	}
	return n
}

// Cost implements JoinCostFunction. The left target t1 selects the leaf.
func (c *JoinModelCost) Cost(t1 features.Vector, u1 units.Span, _ features.Vector, u2 units.Span) float64 {
	a, b := u1.Last, u2.First
	if b.Index == a.Index+1 {
		return 0
	}
	if a.IsEdge() || b.IsEdge() {
		return math.Inf(1)
	}
	if !c.features.has(a.Index) || !c.features.has(b.Index) {
		return math.Inf(1)
	}

	n := c.leaf(t1)
	ra, lb := c.features.Right(a.Index), c.features.Left(b.Index)
	last := len(ra) - 1
	diff := make([]float64, len(ra))
	for i := range ra {
		diff[i] = float64(ra[i]) - float64(lb[i])
		if math.IsNaN(diff[i]) {
			// a missing value contributes nothing
			if i < last {
				diff[i] = n.MCep.Mean[i]
			} else {
				diff[i] = n.F0.Mean[0]
			}
		}
	}
	mcep := n.MCep.distance(diff[:last])
	f0 := n.F0.distance(diff[last:])
	return 1 + c.f0Weight*f0 + (1-c.f0Weight)*mcep
}
