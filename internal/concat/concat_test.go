package concat

import (
	"bytes"
	"context"
	"errors"
	"math"
	"testing"

	"github.com/cwbudde/algo-dsp/dsp/window"

	"github.com/example/go-unitsel/internal/audio"
	"github.com/example/go-unitsel/internal/binfile"
	"github.com/example/go-unitsel/internal/selection"
	"github.com/example/go-unitsel/internal/timeline"
	"github.com/example/go-unitsel/internal/units"
)

const rate = 16000

func openTimeline(t *testing.T, header string, ds []timeline.Datagram) *timeline.Reader {
	t.Helper()
	w, err := timeline.NewWriter(header, rate, 100)
	if err != nil {
		t.Fatal(err)
	}
	for _, d := range ds {
		if err := w.Feed(d); err != nil {
			t.Fatal(err)
		}
	}
	var buf bytes.Buffer
	if _, err := w.WriteTo(&buf); err != nil {
		t.Fatal(err)
	}
	r, err := timeline.Open(bytes.NewReader(buf.Bytes()), int64(buf.Len()))
	if err != nil {
		t.Fatal(err)
	}
	return r
}

func constant(n int, v int16) []int16 {
	s := make([]int16, n)
	for i := range s {
		s[i] = v
	}
	return s
}

// rawVoice has periods of 40, 50, 60, 30, 70 and 45 samples. Units: 0 holds
// periods 0-1, 1 holds 2-3, 2 holds 4, 3 is an edge, 4 holds 5.
func rawVoice(t *testing.T) (*timeline.Reader, *units.File) {
	t.Helper()
	lengths := []int{40, 50, 60, 30, 70, 45}
	var ds []timeline.Datagram
	for i, n := range lengths {
		ds = append(ds, timeline.EncodeRaw(constant(n, int16(1000*(i+1)))))
	}
	tl := openTimeline(t, "audio.type=raw\n", ds)
	uf, err := units.New(rate, []units.Unit{
		{Start: 0, Duration: 90},
		{Start: 90, Duration: 90},
		{Start: 180, Duration: 70},
		{Start: 250, Duration: 0},
		{Start: 250, Duration: 45},
	})
	if err != nil {
		t.Fatal(err)
	}
	return tl, uf
}

func selected(uf *units.File, phone string, seconds float64, idx int) SelectedUnit {
	return SelectedUnit{
		Target: selection.NewTarget(phone, seconds, nil),
		Unit:   units.Single(uf.At(idx)),
	}
}

func TestConcatenate_ExactLength(t *testing.T) {
	tl, uf := rawVoice(t)

	tests := []struct {
		name  string
		opts  []Option
		units []SelectedUnit
		want  int
	}{
		{
			// N = 90, 70, 45; right contexts 60 (next unit), 70 (edge pad), 45 (end pad)
			name:  "speech",
			units: []SelectedUnit{selected(uf, "a", 0, 0), selected(uf, "b", 0, 2), selected(uf, "c", 0, 4)},
			want:  90 + 70 + 45 + 45,
		},
		{
			// the pause grid lasts exactly 160 samples and has no right context
			name:  "trailing silence",
			units: []SelectedUnit{selected(uf, "a", 0, 0), selected(uf, "_", 0.01, 2)},
			want:  90 + 160,
		},
		{
			// periods 40 40 50 50 stretch unit 0 to 180 samples
			name:  "matched duration by default",
			units: []SelectedUnit{selected(uf, "a", 180.0/rate, 0)},
			want:  180 + 60,
		},
		{
			name:  "recorded duration kept",
			opts:  []Option{WithMatchTargetDuration(false)},
			units: []SelectedUnit{selected(uf, "a", 180.0/rate, 0)},
			want:  90 + 60,
		},
		{
			// periods 60 30 shrink to the nearest single period, 30
			name:  "shortened",
			units: []SelectedUnit{selected(uf, "a", 45.0/rate, 1)},
			want:  30 + 70,
		},
		{
			name:  "single unit sequential",
			opts:  []Option{WithParallel(1)},
			units: []SelectedUnit{selected(uf, "a", 0, 1)},
			want:  90 + 70,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := NewOverlap(tl, uf, tt.opts...)
			if err != nil {
				t.Fatal(err)
			}
			out, err := c.Concatenate(context.Background(), tt.units)
			if err != nil {
				t.Fatalf("Concatenate: %v", err)
			}
			if len(out) != tt.want {
				t.Errorf("len = %d; want %d", len(out), tt.want)
			}
			for i, x := range out {
				if x < -1 || x > 1 || math.IsNaN(x) {
					t.Fatalf("sample %d = %v out of range", i, x)
				}
			}
		})
	}
}

func TestConcatenate_Crossfade(t *testing.T) {
	tl, uf := rawVoice(t)
	c, err := NewOverlap(tl, uf)
	if err != nil {
		t.Fatal(err)
	}
	out, err := c.Concatenate(context.Background(), []SelectedUnit{selected(uf, "a", 0, 0), selected(uf, "b", 0, 2)})
	if err != nil {
		t.Fatal(err)
	}
	if out[0] != 0 {
		t.Errorf("first sample = %v; want 0 under the rising window", out[0])
	}
	// the second period of unit 0 is copied untouched
	if want := 2000.0 / 32768; math.Abs(out[60]-want) > 1e-12 {
		t.Errorf("out[60] = %v; want %v", out[60], want)
	}
	// at the start of unit 2 only the right context of unit 0 sounds
	if want := 3000.0 / 32768 * window.Generate(window.TypeHann, 120)[60]; math.Abs(out[90]-want) > 1e-12 {
		t.Errorf("out[90] = %v; want %v", out[90], want)
	}
	// the falling half starts at sample R of a symmetric Hann of length 2R
	if want := 3000.0 / 32768 * (0.5 - 0.5*math.Cos(2*math.Pi*60/119)); math.Abs(out[90]-want) > 1e-12 {
		t.Errorf("out[90] = %v; want closed form %v", out[90], want)
	}
}

func TestConcatenate_LPC(t *testing.T) {
	lp := timeline.LPCParams{Order: 1, Min: -1, Range: 2}
	frames := []timeline.LPCFrame{
		{Coeffs: []float32{0.5}, Residual: []int16{1000, 0}},
		{Coeffs: []float32{0.5}, Residual: []int16{0, 0}},
		{Coeffs: []float32{0.5}, Residual: []int16{0, 0, 0, 0}},
	}
	var ds []timeline.Datagram
	for _, f := range frames {
		d, err := timeline.EncodeLPC(f, lp)
		if err != nil {
			t.Fatal(err)
		}
		ds = append(ds, d)
	}
	tl := openTimeline(t, lp.Params().String(), ds)
	uf, err := units.New(rate, []units.Unit{{Start: 0, Duration: 4}, {Start: 4, Duration: 4}})
	if err != nil {
		t.Fatal(err)
	}

	if _, err := NewOverlap(tl, uf); !errors.Is(err, binfile.ErrIncompatible) {
		t.Errorf("raw concatenator on LPC timeline err = %v", err)
	}
	c, err := NewLPCOverlap(tl, uf)
	if err != nil {
		t.Fatal(err)
	}
	out, err := c.Concatenate(context.Background(), []SelectedUnit{selected(uf, "a", 0, 0)})
	if err != nil {
		t.Fatal(err)
	}
	if len(out) != 8 {
		t.Fatalf("len = %d; want 4 samples plus a 4 sample right context", len(out))
	}
	// the filter memory decays across the frame boundary
	r := float64(audio.MuLawDecode(audio.MuLawEncode(1000)))
	for i, want := range map[int]float64{2: 0.25 * r / 32768, 3: 0.125 * r / 32768} {
		if math.Abs(out[i]-want) > 1e-5 {
			t.Errorf("out[%d] = %v; want %v", i, out[i], want)
		}
	}
}

func TestConcatenate_Errors(t *testing.T) {
	tl, uf := rawVoice(t)
	c, err := NewOverlap(tl, uf)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := c.Concatenate(context.Background(), []SelectedUnit{{Unit: units.Single(uf.At(3))}}); !errors.Is(err, binfile.ErrOutOfRange) {
		t.Errorf("edge unit err = %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := c.Concatenate(ctx, []SelectedUnit{selected(uf, "a", 0, 0)}); !errors.Is(err, context.Canceled) {
		t.Errorf("cancelled err = %v", err)
	}
	out, err := c.Concatenate(context.Background(), nil)
	if err != nil || len(out) != 0 {
		t.Errorf("empty = %v, %v", out, err)
	}

	mc := openTimeline(t, "audio.type=mcep\nmcep.order=2\n", []timeline.Datagram{timeline.EncodeMCep([]float32{1, 2}, 80)})
	if _, err := New(mc, uf); !errors.Is(err, binfile.ErrIncompatible) {
		t.Errorf("mcep timeline err = %v", err)
	}
}

func TestStretchAndGrid(t *testing.T) {
	periods := [][]float64{make([]float64, 40), make([]float64, 50)}
	got := stretch(periods, 180)
	if len(got) != 4 || len(got[0]) != 40 || len(got[1]) != 40 || len(got[2]) != 50 || len(got[3]) != 50 {
		t.Errorf("stretch to 180 gave %d periods", len(got))
	}
	if got := stretch(periods, 45); len(got) != 1 {
		t.Errorf("stretch to 45 gave %d periods; want 1", len(got))
	}

	o := &Overlap{tl: &timeline.Reader{SampleRate: rate}, opts: defaultOptions()}
	grid := o.silenceGrid(SelectedUnit{Target: selection.NewTarget("_", 0.01, nil)}, [][]float64{make([]float64, 70)})
	sum := 0
	for _, p := range grid {
		sum += len(p)
	}
	if len(grid) != 2 || sum != 160 {
		t.Errorf("grid = %d periods, %d samples; want 2, 160", len(grid), sum)
	}
}
