package features

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/example/go-unitsel/internal/binfile"
)

// WeightFunc is the per-feature distance used for continuous features.
type WeightFunc interface {
	Cost(a, b float64) float64
	Name() string
}

type linearFunc struct{}

func (linearFunc) Cost(a, b float64) float64 { return math.Abs(a - b) }
func (linearFunc) Name() string              { return "linear" }

// stepFunc is 0 while the difference stays within the threshold and 1
// beyond it. A percent threshold is relative to b.
type stepFunc struct {
	threshold float64
	percent   bool
	name      string
}

func (s stepFunc) Cost(a, b float64) float64 {
	diff := math.Abs(a - b)
	if s.percent && b != 0 {
		diff /= math.Abs(b)
	}
	if diff <= s.threshold {
		return 0
	}
	return 1
}

func (s stepFunc) Name() string { return s.name }

var weightFuncs = map[string]func(arg string) (WeightFunc, error){
	"linear": func(arg string) (WeightFunc, error) {
		if arg != "" {
			return nil, fmt.Errorf("linear takes no argument, got %q", arg)
		}
		return linearFunc{}, nil
	},
	"step": func(arg string) (WeightFunc, error) {
		raw := strings.TrimSpace(arg)
		percent := strings.HasSuffix(raw, "%")
		raw = strings.TrimSuffix(raw, "%")
		v, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
		if err != nil || v < 0 {
			return nil, fmt.Errorf("step needs a non-negative threshold, got %q", arg)
		}
		if percent {
			v /= 100
		}
		return stepFunc{threshold: v, percent: percent, name: "step " + strings.TrimSpace(arg)}, nil
	},
}

// LookupWeightFunc resolves a weight function specification such as
// "linear" or "step 20%". The empty string means linear.
func LookupWeightFunc(spec string) (WeightFunc, error) {
	spec = strings.TrimSpace(spec)
	if spec == "" {
		return linearFunc{}, nil
	}
	name, arg, _ := strings.Cut(spec, " ")
	ctor, ok := weightFuncs[name]
	if !ok {
		return nil, fmt.Errorf("features: %w: unknown weight function %q (known: %s)",
			binfile.ErrFormat, name, strings.Join(WeightFuncNames(), ", "))
	}
	wf, err := ctor(strings.TrimSpace(arg))
	if err != nil {
		return nil, fmt.Errorf("features: %w: %v", binfile.ErrFormat, err)
	}
	return wf, nil
}

// WeightFuncNames lists the registered weight function names.
func WeightFuncNames() []string {
	names := make([]string, 0, len(weightFuncs))
	for n := range weightFuncs {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
