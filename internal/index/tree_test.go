package index

import (
	"errors"
	"math/rand/v2"
	"slices"
	"testing"

	"github.com/example/go-unitsel/internal/binfile"
	"github.com/example/go-unitsel/internal/features"
)

func testDefinition(t *testing.T) *features.Definition {
	t.Helper()
	def, err := features.NewDefinition([]features.Feature{
		{Name: "phone", Kind: features.KindByte, Weight: 1, Values: []string{"0", "a", "b", "c"}},
		{Name: "stressed", Kind: features.KindByte, Weight: 1, Values: []string{"0", "1"}},
		{Name: "pos", Kind: features.KindShort, Weight: 1, Values: []string{"0", "x", "y"}},
		{Name: "f0", Kind: features.KindContinuous, Weight: 1, WeightFunc: "linear"},
	})
	if err != nil {
		t.Fatalf("NewDefinition: %v", err)
	}
	return def
}

func randomVectors(t *testing.T, def *features.Definition, n int) []features.Vector {
	t.Helper()
	rng := rand.New(rand.NewPCG(1, 2))
	vs := make([]features.Vector, n)
	for u := range vs {
		// phone never takes value 3, leaving a dead branch
		v, err := def.Vector(u,
			[]byte{byte(rng.IntN(3)), byte(rng.IntN(2))},
			[]int16{int16(rng.IntN(3))},
			[]float32{rng.Float32()})
		if err != nil {
			t.Fatal(err)
		}
		vs[u] = v
	}
	return vs
}

func linearScan(vs []features.Vector, q features.Vector, seq []int) []int {
	var out []int
	for _, v := range vs {
		match := true
		for _, f := range seq {
			if v.Code(f) != q.Code(f) {
				match = false
				break
			}
		}
		if match {
			out = append(out, v.Unit())
		}
	}
	return out
}

func units(vs []features.Vector) []int {
	out := make([]int, len(vs))
	for i, v := range vs {
		out[i] = v.Unit()
	}
	return out
}

func TestRetrieve_MatchesLinearScan(t *testing.T) {
	def := testDefinition(t)
	vs := randomVectors(t, def, 200)
	seq := []int{0, 2, 1}

	tree, err := Build(vs, seq, def)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	for phone := 0; phone < 4; phone++ {
		for stressed := 0; stressed < 2; stressed++ {
			for pos := 0; pos < 3; pos++ {
				q, _ := def.Vector(-1, []byte{byte(phone), byte(stressed)}, []int16{int16(pos)}, []float32{0})
				got := units(tree.Retrieve(q))
				want := linearScan(vs, q, seq)
				if !slices.Equal(got, want) {
					t.Errorf("Retrieve(%d,%d,%d) = %v; want %v", phone, stressed, pos, got, want)
				}
			}
		}
	}
}

func TestRetrieve_DeadBranchIsEmpty(t *testing.T) {
	def := testDefinition(t)
	tree, err := Build(randomVectors(t, def, 50), []int{0, 1}, def)
	if err != nil {
		t.Fatal(err)
	}
	q, _ := def.Vector(-1, []byte{3, 0}, []int16{0}, []float32{0})
	if got := tree.Retrieve(q); len(got) != 0 {
		t.Errorf("dead branch returned %d vectors", len(got))
	}
	if s := tree.Stats(); s.DeadBranch == 0 || s.Leaves == 0 {
		t.Errorf("Stats = %+v", s)
	}
}

func TestRetrieveDepth(t *testing.T) {
	def := testDefinition(t)
	vs := randomVectors(t, def, 120)
	seq := []int{0, 1, 2}
	tree, err := Build(vs, seq, def)
	if err != nil {
		t.Fatal(err)
	}
	q, _ := def.Vector(-1, []byte{1, 1}, []int16{2}, []float32{0})

	if got := tree.RetrieveDepth(q, 0); len(got) != len(vs) {
		t.Errorf("depth 0 returned %d; want all %d", len(got), len(vs))
	}

	prev := len(vs)
	for depth := 1; depth <= len(seq); depth++ {
		got := tree.RetrieveDepth(q, depth)
		want := linearScan(vs, q, seq[:depth])
		if len(got) != len(want) {
			t.Errorf("depth %d returned %d; want %d", depth, len(got), len(want))
		}
		if len(got) > prev {
			t.Errorf("depth %d widened the pool", depth)
		}
		prev = len(got)
	}
}

func TestBuild_EmptySequence(t *testing.T) {
	def := testDefinition(t)
	vs := randomVectors(t, def, 10)
	slices.Reverse(vs)
	tree, err := Build(vs, nil, def)
	if err != nil {
		t.Fatal(err)
	}
	got := units(tree.Retrieve(vs[0]))
	if !slices.IsSorted(got) || len(got) != 10 {
		t.Errorf("leaf = %v; want all units sorted", got)
	}
}

func TestBuild_Rejects(t *testing.T) {
	def := testDefinition(t)
	vs := randomVectors(t, def, 5)

	if _, err := Build(vs, []int{3}, def); !errors.Is(err, binfile.ErrFormat) {
		t.Errorf("continuous feature err = %v", err)
	}
	if _, err := Build(vs, []int{7}, def); !errors.Is(err, binfile.ErrOutOfRange) {
		t.Errorf("unknown feature err = %v", err)
	}

	wide := make([]features.Feature, 0, 9)
	values := make([]string, 200)
	for i := range values {
		values[i] = string(rune('A'+i%26)) + string(rune('a'+i/26))
	}
	seq := make([]int, 0, 9)
	for i := range 9 {
		wide = append(wide, features.Feature{Name: "f" + string(rune('0'+i)), Kind: features.KindByte, Weight: 1, Values: values})
		seq = append(seq, i)
	}
	wideDef, err := features.NewDefinition(wide)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := Build(nil, seq, wideDef); !errors.Is(err, binfile.ErrCapacity) {
		t.Errorf("overflow err = %v; want ErrCapacity", err)
	}
}
