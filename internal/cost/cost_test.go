package cost

import (
	"bytes"
	"errors"
	"math"
	"strings"
	"testing"

	"github.com/example/go-unitsel/internal/binfile"
	"github.com/example/go-unitsel/internal/features"
	"github.com/example/go-unitsel/internal/units"
)

func testDefinition(t *testing.T) *features.Definition {
	t.Helper()
	def, err := features.NewDefinition([]features.Feature{
		{Name: "phone", Kind: features.KindByte, Weight: 0.5, Values: []string{"0", "a", "b", "c"}},
		{Name: "stressed", Kind: features.KindByte, Weight: 0.25, Values: []string{"0", "1"}},
		{Name: "f0", Kind: features.KindContinuous, Weight: 0.25, WeightFunc: "linear"},
	})
	if err != nil {
		t.Fatal(err)
	}
	return def
}

func vec(t *testing.T, def *features.Definition, s string) features.Vector {
	t.Helper()
	v, err := def.ParseVector(-1, s)
	if err != nil {
		t.Fatal(err)
	}
	return v
}

func TestFeatureTargetCost(t *testing.T) {
	def := testDefinition(t)
	tc, err := NewFeatureTargetCost(def, nil)
	if err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name         string
		target, unit string
		want         float64
	}{
		{"identical", "a 1 100", "a 1 100", 0},
		{"phone mismatch", "a 1 100", "b 1 100", 0.5},
		{"all discrete mismatch", "a 1 100", "b 0 100", 0.75},
		{"continuous distance", "a 1 100", "a 1 104", 1},
		{"nan skipped", "a 1 NaN", "a 1 104", 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tc.Cost(vec(t, def, tt.target), vec(t, def, tt.unit))
			if math.Abs(got-tt.want) > 1e-6 {
				t.Errorf("Cost = %v; want %v", got, tt.want)
			}
		})
	}

	terms := tc.Breakdown(vec(t, def, "a 1 100"), vec(t, def, "b 1 102"))
	if len(terms) != 3 || terms[0].Target != "a" || terms[0].Unit != "b" || terms[0].Cost != 0.5 {
		t.Errorf("Breakdown = %+v", terms)
	}
	var sum float64
	for _, term := range terms {
		sum += term.Cost
	}
	if got := tc.Cost(vec(t, def, "a 1 100"), vec(t, def, "b 1 102")); math.Abs(sum-got) > 1e-9 {
		t.Errorf("Breakdown sums to %v; Cost is %v", sum, got)
	}
}

func TestFeatureTargetCost_MonotoneInMismatches(t *testing.T) {
	def := testDefinition(t)
	tc, _ := NewFeatureTargetCost(def, nil)
	target := vec(t, def, "a 1 100")
	prev := -1.0
	for _, u := range []string{"a 1 100", "b 1 100", "b 0 100", "b 0 110"} {
		c := tc.Cost(target, vec(t, def, u))
		if c < prev {
			t.Errorf("cost decreased to %v for %q", c, u)
		}
		prev = c
	}
}

func TestFeatureTargetCost_Override(t *testing.T) {
	def := testDefinition(t)
	text := `ByteValuedFeatureProcessors
1 | phone 0 a b c
0 | stressed 0 1
ShortValuedFeatureProcessors
ContinuousFeatureProcessors
1 linear | f0
FeatureSimilarity
phone 0 a b c
0
a 1
b 1 0.2
c 1 1 1
`
	override, err := features.ParseDefinitionText(strings.NewReader(text))
	if err != nil {
		t.Fatal(err)
	}
	tc, err := NewFeatureTargetCost(def, override)
	if err != nil {
		t.Fatal(err)
	}
	// weights normalize to 0.5 / 0 / 0.5; a vs b similarity is 0.2
	got := tc.Cost(vec(t, def, "a 0 100"), vec(t, def, "b 1 100"))
	if math.Abs(got-0.1) > 1e-6 {
		t.Errorf("Cost = %v; want 0.1", got)
	}

	other, _ := features.NewDefinition([]features.Feature{
		{Name: "phone", Kind: features.KindByte, Weight: 1, Values: []string{"0", "a"}},
	})
	if _, err := NewFeatureTargetCost(def, other); !errors.Is(err, binfile.ErrIncompatible) {
		t.Errorf("incompatible override err = %v", err)
	}
}

func testJoinFeatures(t *testing.T) *JoinFeatures {
	t.Helper()
	left := [][]float32{{0, 0}, {1, 100}, {2, 110}, {5, 90}, {0, 0}}
	right := [][]float32{{0, 0}, {1.5, 105}, {2.5, 100}, {6, 95}, {0, 0}}
	jf, err := NewJoinFeatures([]float32{0.5, 0.5}, []string{"linear", "linear"}, left, right)
	if err != nil {
		t.Fatal(err)
	}
	return jf
}

func testUnits() []units.Unit {
	return []units.Unit{
		{Index: 0, Start: 0, Duration: 0},
		{Index: 1, Start: 0, Duration: 100},
		{Index: 2, Start: 100, Duration: 100},
		{Index: 3, Start: 200, Duration: 100},
		{Index: 4, Start: 300, Duration: 0},
	}
}

func TestJoinCostFeatures(t *testing.T) {
	jf := testJoinFeatures(t)
	us := testUnits()
	jc := NewJoinCostFeatures(jf)
	var none features.Vector

	if got := jc.Cost(none, units.Single(us[1]), none, units.Single(us[2])); got != 0 {
		t.Errorf("adjacent cost = %v; want 0", got)
	}
	if got := jc.Cost(none, units.Single(us[3]), none, units.Single(us[4])); got != 0 {
		t.Errorf("adjacent edge cost = %v; want 0", got)
	}
	if got := jc.Cost(none, units.Single(us[1]), none, units.Single(us[4])); !math.IsInf(got, 1) {
		t.Errorf("edge cost = %v; want +Inf", got)
	}

	// right(1) = {1.5,105}, left(3) = {5,90}: 1 + 0.5*3.5 + 0.5*15
	if got := jc.Cost(none, units.Single(us[1]), none, units.Single(us[3])); math.Abs(got-10.25) > 1e-6 {
		t.Errorf("cost(1,3) = %v; want 10.25", got)
	}

	// diphone join uses the last half on the left and the first on the right
	d1 := units.Diphone(us[1], us[2])
	d2 := units.Diphone(us[3], us[4])
	if got := jc.Cost(none, d1, none, d2); got != 0 {
		t.Errorf("diphone adjacency cost = %v; want 0", got)
	}
}

func TestJoinCostFeatures_Precomputed(t *testing.T) {
	jf := testJoinFeatures(t)
	us := testUnits()
	p := NewPrecomputed()
	p.Set(2, 1, 0.5)

	jc := NewJoinCostFeatures(jf, WithPrecomputed(p))
	var none features.Vector
	d1 := units.Diphone(us[1], us[2])
	d2 := units.Diphone(us[1], us[2])
	if got := jc.Cost(none, d1, none, d2); got != 1.5 {
		t.Errorf("precomputed cost = %v; want 1.5", got)
	}
	// single units ignore the table
	if got := jc.Cost(none, units.Single(us[2]), none, units.Single(us[1])); got == 1.5 {
		t.Error("table consulted for non-diphone join")
	}

	var buf bytes.Buffer
	if err := WritePrecomputed(&buf, p); err != nil {
		t.Fatal(err)
	}
	back, err := ReadPrecomputed(&buf)
	if err != nil {
		t.Fatal(err)
	}
	if c, ok := back.Cost(2, 1); !ok || c != 0.5 || back.Len() != 1 {
		t.Errorf("round trip = %v, %v, len %d", c, ok, back.Len())
	}
}

func TestJoinFeatures_RoundTrip(t *testing.T) {
	jf := testJoinFeatures(t)
	var buf bytes.Buffer
	if err := WriteJoinFeatures(&buf, jf); err != nil {
		t.Fatal(err)
	}
	back, err := ReadJoinFeatures(bytes.NewReader(buf.Bytes()))
	if err != nil {
		t.Fatal(err)
	}
	if back.Dim() != 2 || back.NumUnits() != 5 || back.Right(3)[1] != 95 || back.Left(2)[0] != 2 {
		t.Errorf("round trip mismatch: dim %d units %d", back.Dim(), back.NumUnits())
	}

	data := buf.Bytes()
	if _, err := ReadJoinFeatures(bytes.NewReader(data[:len(data)-3])); !errors.Is(err, binfile.ErrFormat) {
		t.Errorf("truncated err = %v", err)
	}
}

func TestReadJoinWeights(t *testing.T) {
	in := "# weights\n0 : 3 linear\n1 : 1 step 10%\n"
	w, f, err := ReadJoinWeights(strings.NewReader(in), 2)
	if err != nil {
		t.Fatal(err)
	}
	if w[0] != 0.75 || w[1] != 0.25 || f[1] != "step 10%" {
		t.Errorf("weights = %v funcs = %q", w, f)
	}

	jf := testJoinFeatures(t)
	if err := jf.ApplyWeights(w, f); err != nil {
		t.Fatal(err)
	}
	if err := jf.ApplyWeights(w, []string{"linear", "bogus"}); err == nil {
		t.Error("unknown weighting function accepted")
	}
	if jf.Funcs[1] != "step 10%" {
		t.Errorf("failed ApplyWeights changed state: %q", jf.Funcs)
	}

	for _, bad := range []string{"0 3 linear\n", "5 : 1 linear\n1 : 1 linear\n", "0 : -1 linear\n1 : 1 linear\n", "0 : 1 linear\n"} {
		if _, _, err := ReadJoinWeights(strings.NewReader(bad), 2); !errors.Is(err, binfile.ErrFormat) {
			t.Errorf("ReadJoinWeights(%q) err = %v", bad, err)
		}
	}
}

const testModel = `f0_weight: 0.5
tree:
  feature: phone
  branches:
    a:
      mcep: {mean: [0], variance: [1]}
      f0: {mean: [0], variance: [100]}
  default:
    mcep: {mean: [0], variance: [4]}
    f0: {mean: [0], variance: [400]}
`

func TestJoinModelCost(t *testing.T) {
	def := testDefinition(t)
	jf := testJoinFeatures(t)
	m, err := ReadJoinModel(strings.NewReader(testModel))
	if err != nil {
		t.Fatal(err)
	}
	jc, err := NewJoinCostFunction(JoinModelKind, JoinDeps{Features: jf, Model: m, Targets: def})
	if err != nil {
		t.Fatal(err)
	}
	us := testUnits()

	ta := vec(t, def, "a 1 100")
	tb := vec(t, def, "b 1 100")
	if got := jc.Cost(ta, units.Single(us[1]), tb, units.Single(us[2])); got != 0 {
		t.Errorf("adjacent cost = %v; want 0", got)
	}
	if got := jc.Cost(ta, units.Single(us[1]), tb, units.Single(us[0])); !math.IsInf(got, 1) {
		t.Errorf("edge cost = %v; want +Inf", got)
	}

	// diff right(1)-left(3) = {-3.5, 15}
	wantA := 1 + 0.5*15/10 + 0.5*3.5
	if got := jc.Cost(ta, units.Single(us[1]), tb, units.Single(us[3])); math.Abs(got-wantA) > 1e-6 {
		t.Errorf("cost via branch a = %v; want %v", got, wantA)
	}
	wantDefault := 1 + 0.5*15/20 + 0.5*3.5/2
	if got := jc.Cost(tb, units.Single(us[1]), ta, units.Single(us[3])); math.Abs(got-wantDefault) > 1e-6 {
		t.Errorf("cost via default = %v; want %v", got, wantDefault)
	}
}

func TestJoinModel_Rejects(t *testing.T) {
	def := testDefinition(t)
	jf := testJoinFeatures(t)

	if _, err := ReadJoinModel(strings.NewReader("tree:\n  bogus: 1\n")); !errors.Is(err, binfile.ErrFormat) {
		t.Errorf("unknown key err = %v", err)
	}

	noDefault := "tree:\n  feature: phone\n  branches: {}\n"
	m, err := ReadJoinModel(strings.NewReader(noDefault))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := NewJoinModelCost(m, jf, def); !errors.Is(err, binfile.ErrFormat) {
		t.Errorf("missing default err = %v", err)
	}

	badFeature := "tree:\n  feature: f0\n  default:\n    mcep: {mean: [0], variance: [1]}\n    f0: {mean: [0], variance: [1]}\n"
	m, _ = ReadJoinModel(strings.NewReader(badFeature))
	if _, err := NewJoinModelCost(m, jf, def); !errors.Is(err, binfile.ErrIncompatible) {
		t.Errorf("continuous split err = %v", err)
	}

	m, _ = ReadJoinModel(strings.NewReader(testModel))
	var buf bytes.Buffer
	if err := WriteJoinModel(&buf, m); err != nil {
		t.Fatal(err)
	}
	if _, err := ReadJoinModel(&buf); err != nil {
		t.Errorf("re-read written model: %v", err)
	}
}

func TestNewJoinCostFunction(t *testing.T) {
	jf := testJoinFeatures(t)
	if _, err := NewJoinCostFunction("", JoinDeps{Features: jf}); err != nil {
		t.Errorf("default kind: %v", err)
	}
	if _, err := NewJoinCostFunction("Features", JoinDeps{Features: jf}); err != nil {
		t.Errorf("mixed case kind: %v", err)
	}
	if _, err := NewJoinCostFunction("model", JoinDeps{Features: jf}); err == nil {
		t.Error("model kind without a model accepted")
	}
	if _, err := NewJoinCostFunction("bogus", JoinDeps{Features: jf}); err == nil {
		t.Error("unknown kind accepted")
	}
}
