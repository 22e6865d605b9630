package cost

import (
	"bufio"
	"cmp"
	"fmt"
	"io"
	"slices"

	"github.com/example/go-unitsel/internal/binfile"
)

// Precomputed is a sparse table of join costs between a left unit (the
// last half of the earlier diphone) and a right unit.
type Precomputed struct {
	costs map[pairKey]float32
}

type pairKey struct{ left, right int32 }

// NewPrecomputed returns an empty table.
func NewPrecomputed() *Precomputed {
	return &Precomputed{costs: make(map[pairKey]float32)}
}

// Set records the cost of joining left to right.
func (p *Precomputed) Set(left, right int, c float32) {
	p.costs[pairKey{int32(left), int32(right)}] = c
}

// Cost looks up a pair.
func (p *Precomputed) Cost(left, right int) (float32, bool) {
	c, ok := p.costs[pairKey{int32(left), int32(right)}]
	return c, ok
}

// Len is the number of stored pairs.
func (p *Precomputed) Len() int { return len(p.costs) }

// ReadPrecomputed decodes a precomputed join cost file.
func ReadPrecomputed(r io.Reader) (*Precomputed, error) {
	br := binfile.NewReader(bufio.NewReader(r))
	if _, err := binfile.ReadHeader(br, binfile.TypePrecomputedJoinCosts); err != nil {
		return nil, fmt.Errorf("cost: %w", err)
	}
	nLeft := br.Int32()
	if err := br.Err(); err != nil {
		return nil, fmt.Errorf("cost: read precomputed join costs: %w", err)
	}
	if nLeft < 0 {
		return nil, fmt.Errorf("cost: %w: negative left unit count %d", binfile.ErrFormat, nLeft)
	}
	p := NewPrecomputed()
	for i := 0; i < int(nLeft); i++ {
		left := br.Int32()
		nRight := br.Int32()
		if err := br.Err(); err != nil {
			return nil, fmt.Errorf("cost: read precomputed entry %d: %w", i, err)
		}
		if left < 0 || nRight < 0 {
			return nil, fmt.Errorf("cost: %w: precomputed entry %d has unit %d with %d partners", binfile.ErrFormat, i, left, nRight)
		}
		for k := 0; k < int(nRight); k++ {
			right := br.Int32()
			c := br.Float32()
			if err := br.Err(); err != nil {
				return nil, fmt.Errorf("cost: read precomputed entry %d: %w", i, err)
			}
			p.costs[pairKey{left, right}] = c
		}
	}
	return p, nil
}

// WritePrecomputed encodes p, grouped by left unit in ascending order.
func WritePrecomputed(w io.Writer, p *Precomputed) error {
	keys := make([]pairKey, 0, len(p.costs))
	for k := range p.costs {
		keys = append(keys, k)
	}
	slices.SortFunc(keys, func(a, b pairKey) int {
		if c := cmp.Compare(a.left, b.left); c != 0 {
			return c
		}
		return cmp.Compare(a.right, b.right)
	})

	bw := bufio.NewWriter(w)
	out := binfile.NewWriter(bw)
	if err := binfile.WriteHeader(out, binfile.TypePrecomputedJoinCosts); err != nil {
		return fmt.Errorf("cost: write header: %w", err)
	}
	var groups [][]pairKey
	for i, k := range keys {
		if i == 0 || k.left != keys[i-1].left {
			groups = append(groups, nil)
		}
		groups[len(groups)-1] = append(groups[len(groups)-1], k)
	}
	out.Int32(int32(len(groups)))
	for _, g := range groups {
		out.Int32(g[0].left)
		out.Int32(int32(len(g)))
		for _, k := range g {
			out.Int32(k.right)
			out.Float32(p.costs[k])
		}
	}
	if err := out.Err(); err != nil {
		return fmt.Errorf("cost: write precomputed join costs: %w", err)
	}
	return bw.Flush()
}
