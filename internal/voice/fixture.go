package voice

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"path/filepath"
	"strings"

	"github.com/spf13/afero"

	"github.com/example/go-unitsel/internal/binfile"
	"github.com/example/go-unitsel/internal/cost"
	"github.com/example/go-unitsel/internal/features"
	"github.com/example/go-unitsel/internal/timeline"
	"github.com/example/go-unitsel/internal/units"
)

// FixtureRate is the sample rate of fixture voices.
const FixtureRate = 16000

// FixturePhones is the phone inventory of fixture voices. Code 0 marks
// edge units.
var FixturePhones = []string{"0", "_", "a", "i", "n", "s", "t"}

// FixtureUtterances are the recordings of the fixture corpus, one phone
// per space separated symbol. Each is framed by pauses and edge units.
var FixtureUtterances = []string{"s a t", "n i t", "t a n", "s i n", "a n t a"}

// FixtureOptions select the variant of fixture voice to write.
type FixtureOptions struct {
	Name      string
	LPC       bool   // LPC timeline instead of raw PCM
	HalfPhone bool   // separate left and right half-phone weights
	JoinCost  string // join cost kind recorded in the descriptor
}

// fixtureUnit is one unit of the synthetic corpus.
type fixtureUnit struct {
	phone    string
	stress   string
	position string
	periods  []int
}

func (u fixtureUnit) edge() bool { return u.phone == "0" }

func (u fixtureUnit) samples() int {
	n := 0
	for _, p := range u.periods {
		n += p
	}
	return n
}

func fixtureCorpus() []fixtureUnit {
	var out []fixtureUnit
	idx := 0
	unit := func(phone, stress, position string) fixtureUnit {
		defer func() { idx++ }()
		if phone == "0" {
			return fixtureUnit{phone: phone, stress: "0", position: "0"}
		}
		f0 := 100 + 10*(idx%5)
		n := 3 + idx%3
		periods := make([]int, n)
		for i := range periods {
			periods[i] = FixtureRate / f0
		}
		return fixtureUnit{phone: phone, stress: stress, position: position, periods: periods}
	}
	for _, utt := range FixtureUtterances {
		phones := strings.Fields(utt)
		out = append(out, unit("0", "0", "0"), unit("_", "0", "0"))
		for i, ph := range phones {
			pos := "medial"
			switch i {
			case 0:
				pos = "initial"
			case len(phones) - 1:
				pos = "final"
			}
			stress := "0"
			if ph == "a" || ph == "i" {
				stress = "1"
			}
			out = append(out, unit(ph, stress, pos))
		}
		out = append(out, unit("_", "0", "0"), unit("0", "0", "0"))
	}
	return out
}

// FixtureDefinition is the feature schema of fixture voices.
func FixtureDefinition() (*features.Definition, error) {
	return features.NewDefinition([]features.Feature{
		{Name: "phone", Kind: features.KindByte, Weight: 4, Values: FixturePhones},
		{Name: "stress", Kind: features.KindByte, Weight: 1, Values: []string{"0", "1"}},
		{Name: "position", Kind: features.KindByte, Weight: 1, Values: []string{"0", "initial", "medial", "final"}},
		{Name: "f0", Kind: features.KindContinuous, Weight: 0.01, WeightFunc: "linear"},
		{Name: "duration", Kind: features.KindContinuous, Weight: 1, WeightFunc: "step 20%"},
	})
}

// WriteFixture writes a small synthetic voice into dir together with a
// voices.json manifest listing it, and returns the descriptor path.
func WriteFixture(fs afero.Fs, dir string, opts FixtureOptions) (string, error) {
	if opts.Name == "" {
		opts.Name = "fixture"
	}
	if err := fs.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("voice: fixture dir: %w", err)
	}
	def, err := FixtureDefinition()
	if err != nil {
		return "", err
	}
	corpus := fixtureCorpus()

	write := func(name string, enc func(io.Writer) error) error {
		var buf bytes.Buffer
		if err := enc(&buf); err != nil {
			return fmt.Errorf("voice: fixture %s: %w", name, err)
		}
		return afero.WriteFile(fs, filepath.Join(dir, name), buf.Bytes(), 0o644)
	}

	vectors, us, err := fixtureRecords(def, corpus)
	if err != nil {
		return "", err
	}
	steps := []struct {
		name string
		enc  func(io.Writer) error
	}{
		{"unitfeats.mry", func(w io.Writer) error {
			return features.WriteFeatureFile(w, &features.FeatureFile{Type: binfile.TypeUnitFeats, Definition: def, Vectors: vectors})
		}},
		{"weights.txt", func(w io.Writer) error { return features.WriteDefinitionText(w, def) }},
		{"units.mry", func(w io.Writer) error { return units.Write(w, us) }},
		{"joinfeats.mry", func(w io.Writer) error {
			jf, err := fixtureJoinFeatures(corpus)
			if err != nil {
				return err
			}
			return cost.WriteJoinFeatures(w, jf)
		}},
		{"joinweights.txt", func(w io.Writer) error {
			_, err := io.WriteString(w, "# mcep 1, mcep 2, f0\n0 : 1 linear\n1 : 1 linear\n2 : 2 linear\n")
			return err
		}},
		{"precomputed.mry", func(w io.Writer) error { return cost.WritePrecomputed(w, fixturePrecomputed(corpus)) }},
		{"joinmodel.yaml", func(w io.Writer) error { return cost.WriteJoinModel(w, fixtureJoinModel()) }},
		{"timeline.mry", func(w io.Writer) error {
			tw, err := fixtureTimeline(corpus, opts.LPC)
			if err != nil {
				return err
			}
			_, err = tw.WriteTo(w)
			return err
		}},
	}
	for _, s := range steps {
		if err := write(s.name, s.enc); err != nil {
			return "", err
		}
	}

	desc := &Descriptor{
		Name:          opts.Name,
		Locale:        "und",
		PhoneFeature:  "phone",
		PauseSymbol:   "_",
		IndexSequence: []string{"phone", "stress"},
		MatchDuration: true,
		Files: Files{
			Features:   "unitfeats.mry",
			Weights:    "weights.txt",
			Units:      "units.mry",
			Join:       "joinfeats.mry",
			JoinWeight: "joinweights.txt",
			Precompute: "precomputed.mry",
			JoinModel:  "joinmodel.yaml",
			Audio:      "timeline.mry",
		},
		Selection: SelectionDefaults{
			TargetWeight:  0.5,
			JoinWeight:    -1,
			MinCandidates: 2,
			JoinCost:      opts.JoinCost,
		},
	}
	if opts.HalfPhone {
		desc.Files.LeftHalf = "weights.txt"
		desc.Files.RightHalf = "weights.txt"
	}
	if err := write(DescriptorName, func(w io.Writer) error { return WriteDescriptor(w, desc) }); err != nil {
		return "", err
	}
	err = write(ManifestName, func(w io.Writer) error {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(manifest{Voices: []Entry{{ID: opts.Name, Path: DescriptorName, License: "CC0-1.0"}}})
	})
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, DescriptorName), nil
}

func fixtureRecords(def *features.Definition, corpus []fixtureUnit) ([]features.Vector, *units.File, error) {
	vectors := make([]features.Vector, len(corpus))
	us := make([]units.Unit, len(corpus))
	var start int64
	for i, u := range corpus {
		codes := make([]byte, 3)
		for k, value := range []string{u.phone, u.stress, u.position} {
			c, err := def.ValueCode(k, value)
			if err != nil {
				return nil, nil, err
			}
			codes[k] = byte(c)
		}
		f0, dur := float32(0), float32(0)
		if n := u.samples(); n > 0 {
			f0 = float32(FixtureRate / u.periods[0])
			dur = float32(n) / FixtureRate
		}
		v, err := def.Vector(i, codes, nil, []float32{f0, dur})
		if err != nil {
			return nil, nil, err
		}
		vectors[i] = v
		us[i] = units.Unit{Start: start, Duration: int32(u.samples())}
		start += int64(u.samples())
	}
	uf, err := units.New(FixtureRate, us)
	if err != nil {
		return nil, nil, err
	}
	return vectors, uf, nil
}

func fixtureJoinFeatures(corpus []fixtureUnit) (*cost.JoinFeatures, error) {
	left := make([][]float32, len(corpus))
	right := make([][]float32, len(corpus))
	for i, u := range corpus {
		if u.edge() {
			left[i], right[i] = []float32{0, 0, 0}, []float32{0, 0, 0}
			continue
		}
		f0 := float32(FixtureRate/u.periods[0]) / 100
		x := float64(i)
		left[i] = []float32{float32(math.Sin(x)), float32(math.Cos(x)), f0}
		right[i] = []float32{float32(math.Sin(x + 0.5)), float32(math.Cos(x + 0.5)), f0}
	}
	return cost.NewJoinFeatures([]float32{1, 1, 1}, []string{"linear", "linear", "linear"}, left, right)
}

func fixturePrecomputed(corpus []fixtureUnit) *cost.Precomputed {
	p := cost.NewPrecomputed()
	for i := 0; i+2 < len(corpus); i++ {
		if !corpus[i].edge() && !corpus[i+2].edge() {
			p.Set(i, i+2, 0.25)
		}
	}
	return p
}

func fixtureJoinModel() *cost.JoinModel {
	leaf := func(f0Var float64) *cost.ModelNode {
		return &cost.ModelNode{
			MCep: &cost.Gaussian{Mean: []float64{0, 0}, Variance: []float64{1, 1}},
			F0:   &cost.Gaussian{Mean: []float64{0}, Variance: []float64{f0Var}},
		}
	}
	return &cost.JoinModel{Tree: &cost.ModelNode{
		Feature:  "stress",
		Branches: map[string]*cost.ModelNode{"1": leaf(0.25)},
		Default:  leaf(1),
	}}
}

// fixtureTimeline synthesizes one datagram per pitch period: a decaying
// resonance for speech and silence for pauses.
func fixtureTimeline(corpus []fixtureUnit, lpc bool) (*timeline.Writer, error) {
	lp := timeline.LPCParams{Order: 2, Min: -2, Range: 4}
	header := "audio.type=raw\n"
	if lpc {
		header = lp.Params().String()
	}
	tw, err := timeline.NewWriter(header, FixtureRate, FixtureRate/10)
	if err != nil {
		return nil, err
	}
	for i, u := range corpus {
		for _, n := range u.periods {
			var d timeline.Datagram
			if lpc {
				res := make([]int16, n)
				if u.phone != "_" {
					res[0] = 4000
					for k := 1; k < n; k++ {
						res[k] = int16((k*37+i*11)%21 - 10)
					}
				}
				if d, err = timeline.EncodeLPC(timeline.LPCFrame{Coeffs: []float32{0.9, -0.4}, Residual: res}, lp); err != nil {
					return nil, err
				}
			} else {
				s := make([]int16, n)
				if u.phone != "_" {
					for k := range s {
						t := float64(k) / float64(n)
						s[k] = int16(6000 * math.Exp(-3*t) * math.Sin(2*math.Pi*float64(2+i%3)*t))
					}
				}
				d = timeline.EncodeRaw(s)
			}
			if err := tw.Feed(d); err != nil {
				return nil, err
			}
		}
	}
	return tw, nil
}
