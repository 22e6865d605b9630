// Package index builds the preselection tree: a multi-way decision tree
// that partitions unit feature vectors by successive discrete feature
// values.
package index

import (
	"cmp"
	"fmt"
	"math"
	"slices"

	"github.com/example/go-unitsel/internal/binfile"
	"github.com/example/go-unitsel/internal/features"
)

// Node is a tree node. Internal nodes split on Feature and hold one child
// per value code; a nil child is a dead branch. Every node covers the
// range [From,To) of the tree's sorted vector array.
type Node struct {
	Feature  int
	Children []*Node
	From, To int
}

// IsLeaf reports whether n is at the last level of the tree.
func (n *Node) IsLeaf() bool { return n.Children == nil }

// Tree is read-only after Build and safe for concurrent lookups.
type Tree struct {
	def      *features.Definition
	sequence []int
	vectors  []features.Vector
	root     *Node
}

// Build sorts a copy of vectors into tree order and builds the node
// hierarchy for the feature sequence. Only discrete features may be used.
func Build(vectors []features.Vector, sequence []int, def *features.Definition) (*Tree, error) {
	var leaves int64 = 1
	for level, f := range sequence {
		if f < 0 || f >= def.NumFeatures() {
			return nil, fmt.Errorf("index: %w: feature %d at level %d", binfile.ErrOutOfRange, f, level)
		}
		if def.Kind(f) == features.KindContinuous {
			return nil, fmt.Errorf("index: %w: continuous feature %q cannot be indexed", binfile.ErrFormat, def.Name(f))
		}
		nv := int64(def.NumValues(f))
		if nv > 0 && leaves > math.MaxInt64/nv {
			return nil, fmt.Errorf("index: %w: leaf count overflows at level %d (%q)", binfile.ErrCapacity, level, def.Name(f))
		}
		leaves *= nv
	}
	for _, v := range vectors {
		if v.NumBytes() != def.NumByte() || v.NumShorts() != def.NumShort() || v.NumFloats() != def.NumContinuous() {
			return nil, fmt.Errorf("index: %w: vector for unit %d does not match definition", binfile.ErrIncompatible, v.Unit())
		}
	}

	t := &Tree{
		def:      def,
		sequence: slices.Clone(sequence),
		vectors:  slices.Clone(vectors),
	}
	t.root = t.build(0, len(t.vectors), 0)
	return t, nil
}

func (t *Tree) build(from, to, level int) *Node {
	vs := t.vectors[from:to]
	if level == len(t.sequence) {
		slices.SortStableFunc(vs, func(a, b features.Vector) int { return cmp.Compare(a.Unit(), b.Unit()) })
		return &Node{Feature: -1, From: from, To: to}
	}

	f := t.sequence[level]
	slices.SortStableFunc(vs, func(a, b features.Vector) int { return cmp.Compare(a.Code(f), b.Code(f)) })

	n := &Node{Feature: f, Children: make([]*Node, t.def.NumValues(f)), From: from, To: to}
	i := from
	for val := range n.Children {
		j := i
		for j < to && t.vectors[j].Code(f) == val {
			j++
		}
		if j > i {
			n.Children[val] = t.build(i, j, level+1)
		}
		i = j
	}
	return n
}

// Retrieve returns the vectors that agree with v on every indexed feature.
// The result aliases the tree and must not be modified.
func (t *Tree) Retrieve(v features.Vector) []features.Vector {
	return t.RetrieveDepth(v, len(t.sequence))
}

// RetrieveDepth stops after depth levels; zero returns every vector.
func (t *Tree) RetrieveDepth(v features.Vector, depth int) []features.Vector {
	n := t.root
	for level := 0; level < depth && !n.IsLeaf(); level++ {
		code := v.Code(n.Feature)
		if code < 0 || code >= len(n.Children) || n.Children[code] == nil {
			return nil
		}
		n = n.Children[code]
	}
	return t.vectors[n.From:n.To]
}

// Depth is the number of levels.
func (t *Tree) Depth() int { return len(t.sequence) }

// Sequence returns the indexed feature sequence.
func (t *Tree) Sequence() []int { return slices.Clone(t.sequence) }

// Definition is the schema the tree was built with.
func (t *Tree) Definition() *features.Definition { return t.def }

// Len is the number of indexed vectors.
func (t *Tree) Len() int { return len(t.vectors) }

// Root returns the root node.
func (t *Tree) Root() *Node { return t.root }

// Stats summarizes the shape of a tree.
type Stats struct {
	Nodes       int
	Leaves      int
	DeadBranch  int
	MaxLeafSize int
}

// Stats walks the tree.
func (t *Tree) Stats() Stats {
	var s Stats
	var walk func(n *Node)
	walk = func(n *Node) {
		s.Nodes++
		if n.IsLeaf() {
			s.Leaves++
			s.MaxLeafSize = max(s.MaxLeafSize, n.To-n.From)
			return
		}
		for _, c := range n.Children {
			if c == nil {
				s.DeadBranch++
				continue
			}
			walk(c)
		}
	}
	walk(t.root)
	return s
}
