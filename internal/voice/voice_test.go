package voice

import (
	"context"
	"errors"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/afero"

	"github.com/example/go-unitsel/internal/binfile"
	"github.com/example/go-unitsel/internal/cost"
	"github.com/example/go-unitsel/internal/selection"
)

func phoneTargets(phones ...string) []*selection.Target {
	ts := make([]*selection.Target, len(phones))
	for i, ph := range phones {
		dur := 0.0
		if ph == "_" {
			dur = 0.02
		}
		ts[i] = selection.NewTarget(ph, dur, nil)
	}
	return ts
}

func TestReadDescriptor(t *testing.T) {
	tests := []struct {
		name    string
		toml    string
		wantErr bool
		check   func(*testing.T, *Descriptor)
	}{
		{
			name: "defaults",
			toml: `name = "x"
[files]
features = "f.mry"
units = "u.mry"
join_features = "j.mry"
audio = "a.mry"
`,
			check: func(t *testing.T, d *Descriptor) {
				if d.PhoneFeature != "phone" || d.PauseSymbol != "_" {
					t.Errorf("phone/pause = %q/%q", d.PhoneFeature, d.PauseSymbol)
				}
				if !d.MatchDuration {
					t.Error("target duration matching off by default")
				}
				if d.Selection.TargetWeight != 0.5 || d.Selection.JoinWeight != -1 || d.Selection.MinCandidates != 1 {
					t.Errorf("selection defaults = %+v", d.Selection)
				}
			},
		},
		{
			name: "overrides",
			toml: `name = "x"
phone_feature = "segment"
match_target_duration = false
index_sequence = ["segment", "stress"]
[files]
features = "f.mry"
units = "u.mry"
join_features = "j.mry"
audio = "a.mry"
[selection]
beam = 8
join_cost = "model"
`,
			check: func(t *testing.T, d *Descriptor) {
				if d.PhoneFeature != "segment" || d.MatchDuration || len(d.IndexSequence) != 2 {
					t.Errorf("descriptor = %+v", d)
				}
				if d.Selection.Beam != 8 || d.Selection.JoinCost != "model" {
					t.Errorf("selection = %+v", d.Selection)
				}
			},
		},
		{name: "missing audio", toml: "[files]\nfeatures = \"f\"\nunits = \"u\"\njoin_features = \"j\"\n", wantErr: true},
		{name: "unknown key", toml: "colour = \"red\"\n[files]\nfeatures = \"f\"\nunits = \"u\"\njoin_features = \"j\"\naudio = \"a\"\n", wantErr: true},
		{name: "one half weight", toml: "[files]\nfeatures = \"f\"\nunits = \"u\"\njoin_features = \"j\"\naudio = \"a\"\nleft_weights = \"l\"\n", wantErr: true},
		{name: "not toml", toml: "name = = 1", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, err := ReadDescriptor(strings.NewReader(tt.toml))
			if tt.wantErr {
				if !errors.Is(err, binfile.ErrFormat) {
					t.Fatalf("err = %v; want ErrFormat", err)
				}
				return
			}
			if err != nil {
				t.Fatal(err)
			}
			tt.check(t, d)
		})
	}
}

func TestLoadAndSynthesize(t *testing.T) {
	tests := []struct {
		name string
		opts FixtureOptions
	}{
		{name: "raw", opts: FixtureOptions{}},
		{name: "lpc", opts: FixtureOptions{LPC: true}},
		{name: "half phone model", opts: FixtureOptions{HalfPhone: true, JoinCost: cost.JoinModelKind}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fs := afero.NewMemMapFs()
			path, err := WriteFixture(fs, "/voices", tt.opts)
			if err != nil {
				t.Fatalf("WriteFixture: %v", err)
			}
			v, err := Load(fs, path, WithParallel(1))
			if err != nil {
				t.Fatalf("Load: %v", err)
			}
			defer v.Close()

			if v.SampleRate() != FixtureRate {
				t.Errorf("rate = %d", v.SampleRate())
			}
			targets := phoneTargets("_", "s", "a", "t", "_")
			samples, res, err := v.Synthesize(context.Background(), targets)
			if err != nil {
				t.Fatalf("Synthesize: %v", err)
			}
			if len(res.Units) != len(targets) {
				t.Fatalf("selected %d units for %d targets", len(res.Units), len(targets))
			}
			for i, c := range res.Units {
				if got := v.Database.Phone(c.Unit.Index()); got != targets[i].Phone {
					t.Errorf("unit %d phone = %q; want %q", i, got, targets[i].Phone)
				}
			}
			if math.IsInf(res.Cost, 0) || math.IsNaN(res.Cost) {
				t.Errorf("cost = %v", res.Cost)
			}
			if len(samples) == 0 {
				t.Fatal("no samples")
			}
			for i, x := range samples {
				if x < -1 || x > 1 || math.IsNaN(x) {
					t.Fatalf("sample %d = %v", i, x)
				}
			}
		})
	}
}

func TestSynthesizeDiphones(t *testing.T) {
	fs := afero.NewMemMapFs()
	path, err := WriteFixture(fs, "/v", FixtureOptions{HalfPhone: true})
	if err != nil {
		t.Fatal(err)
	}
	v, err := Load(fs, path)
	if err != nil {
		t.Fatal(err)
	}
	defer v.Close()

	var targets []*selection.Target
	phones := []string{"s", "a", "t"}
	for i := 0; i+1 < len(phones); i++ {
		d, err := selection.NewDiphone(
			selection.NewHalfPhone(phones[i], false, 0, nil),
			selection.NewHalfPhone(phones[i+1], true, 0, nil),
		)
		if err != nil {
			t.Fatal(err)
		}
		targets = append(targets, d)
	}
	samples, res, err := v.Synthesize(context.Background(), targets)
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	if len(res.Units) == 0 || len(samples) == 0 {
		t.Fatalf("units = %d, samples = %d", len(res.Units), len(samples))
	}
}

func TestLoad_Overrides(t *testing.T) {
	fs := afero.NewMemMapFs()
	path, err := WriteFixture(fs, "/v", FixtureOptions{})
	if err != nil {
		t.Fatal(err)
	}
	v, err := Load(fs, path, WithOverrides(Overrides{TargetWeight: 0.9, JoinWeight: 0, Beam: 3, MaxCandidates: 4}))
	if err != nil {
		t.Fatal(err)
	}
	defer v.Close()
	o := v.Selector.Options()
	if o.TargetWeight != 0.9 || o.JoinWeight != 0 || o.Beam != 3 || o.MaxCandidates != 4 || o.MinCandidates != 2 {
		t.Errorf("options = %+v", o)
	}
}

func TestSynthesize_TargetDuration(t *testing.T) {
	fs := afero.NewMemMapFs()
	path, err := WriteFixture(fs, "/v", FixtureOptions{})
	if err != nil {
		t.Fatal(err)
	}
	const want = FixtureRate / 5 // 0.2 s, several times any recorded fixture unit

	tests := []struct {
		name    string
		ov      Overrides
		stretch bool
	}{
		{name: "default", ov: Overrides{JoinWeight: -1}, stretch: true},
		{name: "recorded", ov: Overrides{JoinWeight: -1, KeepRecordedDuration: true}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v, err := Load(fs, path, WithParallel(1), WithOverrides(tt.ov))
			if err != nil {
				t.Fatal(err)
			}
			defer v.Close()

			samples, _, err := v.Synthesize(context.Background(), []*selection.Target{selection.NewTarget("a", 0.2, nil)})
			if err != nil {
				t.Fatalf("Synthesize: %v", err)
			}
			// at most half a period of rounding plus one right context period
			if tt.stretch && math.Abs(float64(len(samples)-want)) > 250 {
				t.Errorf("len = %d; want about %d", len(samples), want)
			}
			if !tt.stretch && len(samples) >= want/2 {
				t.Errorf("len = %d; want the recorded unit length", len(samples))
			}
		})
	}
}

func TestLoad_Failures(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(fs afero.Fs)
		want   error
	}{
		{
			name:   "missing units",
			mutate: func(fs afero.Fs) { _ = fs.Remove("/v/units.mry") },
			want:   os.ErrNotExist,
		},
		{
			name: "unknown index feature",
			mutate: func(fs afero.Fs) {
				data, _ := afero.ReadFile(fs, "/v/voice.toml")
				data = []byte(strings.Replace(string(data), `"stress"`, `"tone"`, 1))
				_ = afero.WriteFile(fs, "/v/voice.toml", data, 0o644)
			},
			want: binfile.ErrIncompatible,
		},
		{
			name: "truncated timeline",
			mutate: func(fs afero.Fs) {
				data, _ := afero.ReadFile(fs, "/v/timeline.mry")
				_ = afero.WriteFile(fs, "/v/timeline.mry", data[:len(data)/2], 0o644)
			},
			want: binfile.ErrFormat,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fs := afero.NewMemMapFs()
			path, err := WriteFixture(fs, "/v", FixtureOptions{})
			if err != nil {
				t.Fatal(err)
			}
			tt.mutate(fs)
			v, err := Load(fs, path)
			if err == nil {
				v.Close()
				t.Fatal("Load succeeded")
			}
			if v != nil {
				t.Error("failed Load returned a voice")
			}
			if !errors.Is(err, tt.want) {
				t.Errorf("err = %v; want %v", err, tt.want)
			}
		})
	}
}

func TestManager(t *testing.T) {
	tmp := t.TempDir()
	fs := afero.NewOsFs()
	if _, err := WriteFixture(fs, tmp, FixtureOptions{Name: "demo"}); err != nil {
		t.Fatal(err)
	}

	mgr, err := NewManager(fs, filepath.Join(tmp, ManifestName))
	if err != nil {
		t.Fatalf("new voice manager: %v", err)
	}
	defer mgr.Close()

	voices := mgr.List()
	if len(voices) != 1 || voices[0].ID != "demo" {
		t.Fatalf("voices = %+v", voices)
	}
	if mgr.DefaultID() != "demo" {
		t.Errorf("default = %q", mgr.DefaultID())
	}

	resolved, err := mgr.Resolve("demo")
	if err != nil {
		t.Fatalf("resolve voice path: %v", err)
	}
	if want := filepath.Join(tmp, DescriptorName); resolved != want {
		t.Fatalf("expected %q, got %q", want, resolved)
	}

	v1, err := mgr.Get("")
	if err != nil {
		t.Fatalf("get default: %v", err)
	}
	v2, err := mgr.Get("demo")
	if err != nil {
		t.Fatal(err)
	}
	if v1 != v2 {
		t.Error("voice loaded twice")
	}

	if _, err := mgr.Get("unknown"); !errors.Is(err, ErrUnknownVoice) {
		t.Errorf("unknown voice err = %v", err)
	}
	if err := mgr.Close(); err != nil {
		t.Errorf("close: %v", err)
	}
}

func TestManager_RejectsManifest(t *testing.T) {
	tests := []struct {
		name     string
		manifest string
	}{
		{"empty id", `{"voices": [{"id": "", "path": "a.toml"}]}`},
		{"empty path", `{"voices": [{"id": "a", "path": ""}]}`},
		{"duplicate", `{"voices": [{"id": "a", "path": "a.toml"}, {"id": "a", "path": "b.toml"}]}`},
		{"not json", `voices:`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fs := afero.NewMemMapFs()
			if err := afero.WriteFile(fs, "/m.json", []byte(tt.manifest), 0o644); err != nil {
				t.Fatal(err)
			}
			if _, err := NewManager(fs, "/m.json"); err == nil {
				t.Fatal("expected error")
			}
		})
	}
	if _, err := NewManager(afero.NewMemMapFs(), ""); err == nil {
		t.Error("empty manifest path accepted")
	}
}

func TestExplain(t *testing.T) {
	fs := afero.NewMemMapFs()
	path, err := WriteFixture(fs, "/v", FixtureOptions{})
	if err != nil {
		t.Fatal(err)
	}
	v, err := Load(fs, path, WithParallel(1))
	if err != nil {
		t.Fatal(err)
	}
	defer v.Close()

	_, res, err := v.Synthesize(context.Background(), phoneTargets("_", "s", "a", "t", "_"))
	if err != nil {
		t.Fatal(err)
	}
	ex, err := v.Explain(res)
	if err != nil {
		t.Fatal(err)
	}
	if len(ex) != len(res.Units) {
		t.Fatalf("explained %d units; want %d", len(ex), len(res.Units))
	}
	for i, e := range ex {
		if e.Target != res.Units[i].Target.String() || len(e.Terms) == 0 {
			t.Errorf("explanation %d = %+v", i, e)
		}
		var sum float64
		for _, term := range e.Terms {
			sum += term.Cost
		}
		if math.Abs(sum-e.TargetCost) > 1e-9 {
			t.Errorf("%s: terms sum to %v; target cost %v", e.Target, sum, e.TargetCost)
		}
		if e.Terms[0].Feature != "phone" {
			t.Errorf("first term = %+v", e.Terms[0])
		}
	}
}
