package cost

import (
	"bufio"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"

	"github.com/example/go-unitsel/internal/binfile"
	"github.com/example/go-unitsel/internal/features"
	"github.com/example/go-unitsel/internal/units"
)

// JoinFeatures holds, for every unit, the acoustic snapshot at its left
// and right boundary, with one weight and weighting function per
// dimension.
type JoinFeatures struct {
	Weights []float32
	Funcs   []string

	funcs []features.WeightFunc
	dim   int
	left  []float32
	right []float32
}

// NewJoinFeatures builds join features from per-unit left and right
// boundary vectors, all of len(weights) dimensions.
func NewJoinFeatures(weights []float32, funcs []string, left, right [][]float32) (*JoinFeatures, error) {
	if len(funcs) != len(weights) {
		return nil, fmt.Errorf("cost: %w: %d weights for %d weighting functions", binfile.ErrFormat, len(weights), len(funcs))
	}
	if len(left) != len(right) {
		return nil, fmt.Errorf("cost: %w: %d left and %d right join vectors", binfile.ErrFormat, len(left), len(right))
	}
	jf := &JoinFeatures{
		Weights: append([]float32(nil), weights...),
		Funcs:   append([]string(nil), funcs...),
		dim:     len(weights),
		left:    make([]float32, 0, len(left)*len(weights)),
		right:   make([]float32, 0, len(right)*len(weights)),
	}
	for u := range left {
		if len(left[u]) != jf.dim || len(right[u]) != jf.dim {
			return nil, fmt.Errorf("cost: %w: join vectors of unit %d have %d/%d values, want %d",
				binfile.ErrFormat, u, len(left[u]), len(right[u]), jf.dim)
		}
		jf.left = append(jf.left, left[u]...)
		jf.right = append(jf.right, right[u]...)
	}
	if err := jf.resolve(); err != nil {
		return nil, err
	}
	return jf, nil
}

func (jf *JoinFeatures) resolve() error {
	funcs := make([]features.WeightFunc, len(jf.Funcs))
	for i, name := range jf.Funcs {
		wf, err := features.LookupWeightFunc(name)
		if err != nil {
			return fmt.Errorf("cost: join feature %d: %w", i, err)
		}
		funcs[i] = wf
	}
	jf.funcs = funcs
	return nil
}

// Dim is the number of join features.
func (jf *JoinFeatures) Dim() int { return jf.dim }

// NumUnits is the number of units described.
func (jf *JoinFeatures) NumUnits() int {
	if jf.dim == 0 {
		return 0
	}
	return len(jf.left) / jf.dim
}

// Left returns the left boundary vector of unit u. The slice aliases
// internal storage.
func (jf *JoinFeatures) Left(u int) []float32 { return jf.left[u*jf.dim : (u+1)*jf.dim] }

// Right returns the right boundary vector of unit u.
func (jf *JoinFeatures) Right(u int) []float32 { return jf.right[u*jf.dim : (u+1)*jf.dim] }

func (jf *JoinFeatures) has(u int) bool { return u >= 0 && u < jf.NumUnits() }

// SignalCost is the weighted distance between the right boundary of unit a
// and the left boundary of unit b. NaN pairs are skipped.
func (jf *JoinFeatures) SignalCost(a, b int) float64 {
	if !jf.has(a) || !jf.has(b) {
		return math.Inf(1)
	}
	ra, lb := jf.Right(a), jf.Left(b)
	var sum float64
	for i, w := range jf.Weights {
		if w == 0 {
			continue
		}
		x, y := float64(ra[i]), float64(lb[i])
		if math.IsNaN(x) || math.IsNaN(y) {
			continue
		}
		sum += float64(w) * jf.funcs[i].Cost(x, y)
	}
	return sum
}

// ApplyWeights replaces the weights and weighting functions, typically
// from a join weights file.
func (jf *JoinFeatures) ApplyWeights(weights []float32, funcs []string) error {
	if len(weights) != jf.dim || len(funcs) != jf.dim {
		return fmt.Errorf("cost: %w: %d join weights for %d join features", binfile.ErrIncompatible, len(weights), jf.dim)
	}
	old, oldFuncs := jf.Weights, jf.Funcs
	jf.Weights = append([]float32(nil), weights...)
	jf.Funcs = append([]string(nil), funcs...)
	if err := jf.resolve(); err != nil {
		jf.Weights, jf.Funcs = old, oldFuncs
		return err
	}
	return nil
}

// ReadJoinFeatures decodes a join feature file.
func ReadJoinFeatures(r io.Reader) (*JoinFeatures, error) {
	br := binfile.NewReader(bufio.NewReader(r))
	if _, err := binfile.ReadHeader(br, binfile.TypeJoinFeats); err != nil {
		return nil, fmt.Errorf("cost: %w", err)
	}
	n := br.Int32()
	if err := br.Err(); err != nil {
		return nil, fmt.Errorf("cost: read join features: %w", err)
	}
	if n < 0 || n > 1<<16 {
		return nil, fmt.Errorf("cost: %w: join feature count %d", binfile.ErrFormat, n)
	}
	jf := &JoinFeatures{dim: int(n)}
	for i := 0; i < int(n); i++ {
		jf.Weights = append(jf.Weights, br.Float32())
		jf.Funcs = append(jf.Funcs, br.UTF())
	}
	nUnits := br.Int32()
	if err := br.Err(); err != nil {
		return nil, fmt.Errorf("cost: read join features: %w", err)
	}
	if nUnits < 0 {
		return nil, fmt.Errorf("cost: %w: negative unit count %d", binfile.ErrFormat, nUnits)
	}
	capacity := min(int(nUnits)*int(n), 1<<20)
	jf.left = make([]float32, 0, capacity)
	jf.right = make([]float32, 0, capacity)
	for u := 0; u < int(nUnits); u++ {
		for i := 0; i < int(n); i++ {
			jf.left = append(jf.left, br.Float32())
		}
		for i := 0; i < int(n); i++ {
			jf.right = append(jf.right, br.Float32())
		}
		if err := br.Err(); err != nil {
			return nil, fmt.Errorf("cost: read join vectors of unit %d: %w", u, err)
		}
	}
	if err := jf.resolve(); err != nil {
		return nil, err
	}
	return jf, nil
}

// WriteJoinFeatures encodes jf.
func WriteJoinFeatures(w io.Writer, jf *JoinFeatures) error {
	bw := bufio.NewWriter(w)
	out := binfile.NewWriter(bw)
	if err := binfile.WriteHeader(out, binfile.TypeJoinFeats); err != nil {
		return fmt.Errorf("cost: write header: %w", err)
	}
	out.Int32(int32(jf.dim))
	for i := range jf.Weights {
		out.Float32(jf.Weights[i])
		out.UTF(jf.Funcs[i])
	}
	out.Int32(int32(jf.NumUnits()))
	for u := 0; u < jf.NumUnits(); u++ {
		for _, x := range jf.Left(u) {
			out.Float32(x)
		}
		for _, x := range jf.Right(u) {
			out.Float32(x)
		}
	}
	if err := out.Err(); err != nil {
		return fmt.Errorf("cost: write join features: %w", err)
	}
	return bw.Flush()
}

// ReadJoinWeights parses a join weights file of "index : weight func"
// lines. Weights are normalized to sum to one; the result has dim entries
// and every index must be listed.
func ReadJoinWeights(r io.Reader, dim int) ([]float32, []string, error) {
	weights := make([]float32, dim)
	funcs := make([]string, dim)
	seen := make([]bool, dim)
	var sum float64

	sc := bufio.NewScanner(r)
	lineNo := 0
	for sc.Scan() {
		lineNo++
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		idxStr, def, ok := strings.Cut(line, ":")
		if !ok {
			return nil, nil, fmt.Errorf("cost: %w: join weights line %d: missing ':' in %q", binfile.ErrFormat, lineNo, line)
		}
		idx, err := strconv.Atoi(strings.TrimSpace(idxStr))
		if err != nil || idx < 0 || idx >= dim {
			return nil, nil, fmt.Errorf("cost: %w: join weights line %d: feature index %q (have %d)", binfile.ErrFormat, lineNo, idxStr, dim)
		}
		fields := strings.Fields(def)
		if len(fields) == 0 {
			return nil, nil, fmt.Errorf("cost: %w: join weights line %d: no weight", binfile.ErrFormat, lineNo)
		}
		w, err := strconv.ParseFloat(fields[0], 32)
		if err != nil || w < 0 {
			return nil, nil, fmt.Errorf("cost: %w: join weights line %d: bad weight %q", binfile.ErrFormat, lineNo, fields[0])
		}
		weights[idx] = float32(w)
		funcs[idx] = strings.Join(fields[1:], " ")
		seen[idx] = true
		sum += w
	}
	if err := sc.Err(); err != nil {
		return nil, nil, fmt.Errorf("cost: read join weights: %w", err)
	}
	for i, ok := range seen {
		if !ok {
			return nil, nil, fmt.Errorf("cost: %w: join weights do not list feature %d", binfile.ErrFormat, i)
		}
	}
	if sum > 0 {
		for i := range weights {
			weights[i] = float32(float64(weights[i]) / sum)
		}
	}
	return weights, funcs, nil
}

// JoinCostFeatures is the feature-distance join cost.
type JoinCostFeatures struct {
	features    *JoinFeatures
	precomputed *Precomputed
	signal      float64
}

// JoinOption configures a JoinCostFeatures.
type JoinOption func(*JoinCostFeatures)

// WithPrecomputed consults p for joins between two diphones.
func WithPrecomputed(p *Precomputed) JoinOption {
	return func(j *JoinCostFeatures) { j.precomputed = p }
}

// WithSignalWeight scales the computed signal distance; the default is 1.
func WithSignalWeight(w float64) JoinOption {
	return func(j *JoinCostFeatures) { j.signal = w }
}

// NewJoinCostFeatures builds the join cost over jf.
func NewJoinCostFeatures(jf *JoinFeatures, opts ...JoinOption) *JoinCostFeatures {
	j := &JoinCostFeatures{features: jf, signal: 1}
	for _, opt := range opts {
		opt(j)
	}
	return j
}

// Features exposes the underlying join features.
func (j *JoinCostFeatures) Features() *JoinFeatures { return j.features }

// Cost is zero for units adjacent in the corpus, +Inf when either side is
// an edge unit, and otherwise one plus the boundary distance.
func (j *JoinCostFeatures) Cost(_ features.Vector, u1 units.Span, _ features.Vector, u2 units.Span) float64 {
	a, b := u1.Last, u2.First
	if b.Index == a.Index+1 {
		return 0
	}
	if a.IsEdge() || b.IsEdge() {
		return math.Inf(1)
	}
	if j.precomputed != nil && u1.IsDiphone() && u2.IsDiphone() {
		if c, ok := j.precomputed.Cost(a.Index, b.Index); ok {
			return 1 + float64(c)
		}
	}
	return 1 + j.signal*j.features.SignalCost(a.Index, b.Index)
}
