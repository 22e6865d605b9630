package audio

import (
	"math"
	"testing"
)

const voicedRate = 16000

// voiced returns n samples of a decaying pulse per pitch period at f0,
// shifted by dc. It has the shape of concatenator output for a vowel.
func voiced(n int, f0, amp, dc float64) []float32 {
	period := int(voicedRate / f0)
	out := make([]float32, n)
	for i := range out {
		k := i % period
		out[i] = float32(amp*math.Exp(-float64(k)/12)*math.Cos(2*math.Pi*800*float64(k)/voicedRate) + dc)
	}

	return out
}

func TestDCBlock(t *testing.T) {
	tests := []struct {
		name string
		rate int
		in   []float32
		// check runs over the samples after the filter has settled
		check func(t *testing.T, in, got []float32)
	}{
		{
			name: "removes recording offset",
			rate: voicedRate,
			in:   voiced(voicedRate, 120, 0.3, 0.2),
			check: func(t *testing.T, _, got []float32) {
				if m := meanOf(got[voicedRate/2:]); math.Abs(float64(m)) > 0.005 {
					t.Errorf("mean after DC block = %f; want near 0", m)
				}
			},
		},
		{
			name: "keeps a 1 kHz tone",
			rate: voicedRate,
			in:   sine(voicedRate, 1000, 0.5),
			check: func(t *testing.T, in, got []float32) {
				ratio := float64(rmsOf(got[voicedRate/2:]) / rmsOf(in[voicedRate/2:]))
				if math.Abs(ratio-1) > 0.01 {
					t.Errorf("RMS ratio = %f; want about 1", ratio)
				}
			},
		},
		{
			name: "rate below the cutoff leaves samples",
			rate: 30,
			in:   []float32{0.5, 0.5, 0.5, 0.5},
			check: func(t *testing.T, _, got []float32) {
				for i, v := range got {
					if v != 0.5 {
						t.Fatalf("sample %d = %f; want 0.5", i, v)
					}
				}
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := append([]float32(nil), tt.in...)
			got := DCBlock(tt.in, tt.rate)
			if len(got) != len(in) {
				t.Fatalf("len = %d; want %d", len(got), len(in))
			}
			tt.check(t, in, got)
		})
	}

	if got := DCBlock(nil, voicedRate); len(got) != 0 {
		t.Errorf("DCBlock(nil) = %v", got)
	}
}

func TestPeakNormalize(t *testing.T) {
	quiet := voiced(800, 100, 0.4, 0)
	ratio := quiet[10] / quiet[3]

	got := PeakNormalize(quiet)
	if p := peakOf(got); math.Abs(float64(p)-1) > 1e-6 {
		t.Errorf("peak = %f; want 1", p)
	}
	if r := got[10] / got[3]; math.Abs(float64(r-ratio)) > 1e-5 {
		t.Errorf("sample ratio = %f; want %f", r, ratio)
	}

	silence := make([]float32, 320)
	if p := peakOf(PeakNormalize(silence)); p != 0 {
		t.Errorf("pause peak = %f; want 0", p)
	}
}

func TestFades(t *testing.T) {
	const ms = 5
	n := int(ms / 1000.0 * voicedRate)

	ones := func() []float32 {
		s := make([]float32, voicedRate/10)
		for i := range s {
			s[i] = 1
		}
		return s
	}

	in := FadeIn(ones(), voicedRate, ms)
	if in[0] != 0 || in[n] != 1 {
		t.Errorf("fade in: first = %f, sample %d = %f", in[0], n, in[n])
	}
	for i := 1; i < n; i++ {
		if in[i] < in[i-1] {
			t.Fatalf("fade in falls at sample %d", i)
		}
	}

	out := FadeOut(ones(), voicedRate, ms)
	last := len(out) - 1
	if out[last] != 0 || out[last-n] != 1 {
		t.Errorf("fade out: last = %f, sample %d = %f", out[last], last-n, out[last-n])
	}
	for i := last - n + 1; i <= last; i++ {
		if out[i] > out[i-1] {
			t.Fatalf("fade out rises at sample %d", i)
		}
	}

	// a fade longer than the signal covers all of it
	short := FadeIn([]float32{1, 1, 1}, voicedRate, 1000)
	if short[0] != 0 || short[2] >= 1 {
		t.Errorf("short fade = %v", short)
	}
}

func sine(n int, hz, amp float64) []float32 {
	out := make([]float32, n)
	for i := range out {
		out[i] = float32(amp * math.Sin(2*math.Pi*hz*float64(i)/voicedRate))
	}

	return out
}

func peakOf(s []float32) float32 {
	var peak float32
	for _, v := range s {
		peak = max(peak, float32(math.Abs(float64(v))))
	}

	return peak
}

func meanOf(s []float32) float32 {
	var sum float64
	for _, v := range s {
		sum += float64(v)
	}

	return float32(sum / float64(len(s)))
}

func rmsOf(s []float32) float32 {
	var sum float64
	for _, v := range s {
		sum += float64(v) * float64(v)
	}

	return float32(math.Sqrt(sum / float64(len(s))))
}
