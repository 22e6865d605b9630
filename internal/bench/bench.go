// Package bench times repeated synthesis of one utterance and reports
// latency and real-time factor.
package bench

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"slices"
	"strings"
	"time"

	"github.com/example/go-unitsel/internal/audio"
	"github.com/example/go-unitsel/internal/tts"
)

// Synthesizer is the part of tts.Service a benchmark drives.
type Synthesizer interface {
	Synthesize(ctx context.Context, u *tts.Utterance) (*tts.Result, error)
}

// ---------------------------------------------------------------------------
// Run result and stats
// ---------------------------------------------------------------------------

// RunResult holds the timing and selection outcome of one synthesis run.
type RunResult struct {
	Index int
	Cold  bool // first measured run after warmup
	// Elapsed is wall time around Synthesize.
	Elapsed time.Duration
	Audio   time.Duration
	RTF     float64
	Units   int
	Cost    float64
}

// Stats holds aggregate latency over all runs.
type Stats struct {
	Min     time.Duration
	Max     time.Duration
	Mean    time.Duration
	P50     time.Duration
	P95     time.Duration
	MeanRTF float64
}

// Run synthesizes u warmup+runs times and returns the measured runs.
// Warmup runs are discarded. Any synthesis error aborts the benchmark.
func Run(ctx context.Context, s Synthesizer, u *tts.Utterance, runs, warmup int) ([]RunResult, error) {
	if s == nil {
		return nil, errors.New("bench: synthesizer is required")
	}
	if runs < 1 {
		return nil, fmt.Errorf("bench: runs must be >= 1, got %d", runs)
	}

	for i := range max(warmup, 0) {
		if _, err := s.Synthesize(ctx, u); err != nil {
			return nil, fmt.Errorf("bench: warmup %d: %w", i+1, err)
		}
	}

	out := make([]RunResult, 0, runs)
	for i := range runs {
		start := time.Now()
		res, err := s.Synthesize(ctx, u)
		elapsed := time.Since(start)
		if err != nil {
			return out, fmt.Errorf("bench: run %d: %w", i+1, err)
		}
		r := RunResult{
			Index:   i,
			Cold:    i == 0 && warmup <= 0,
			Elapsed: elapsed,
			Audio:   res.Duration(),
		}
		r.RTF = CalcRTF(elapsed, r.Audio)
		if res.Selection != nil {
			r.Units = len(res.Selection.Units)
			r.Cost = res.Selection.Cost
		}
		out = append(out, r)
	}
	return out, nil
}

// Summarize computes latency stats and the mean RTF over runs.
func Summarize(runs []RunResult) Stats {
	ds := make([]time.Duration, len(runs))
	var rtf float64
	for i, r := range runs {
		ds[i] = r.Elapsed
		rtf += r.RTF
	}
	s := ComputeStats(ds)
	if len(runs) > 0 {
		s.MeanRTF = rtf / float64(len(runs))
	}
	return s
}

// ComputeStats calculates min, max, mean and nearest-rank percentiles over
// durations. An empty slice yields zero Stats.
func ComputeStats(durations []time.Duration) Stats {
	if len(durations) == 0 {
		return Stats{}
	}
	sorted := slices.Clone(durations)
	slices.Sort(sorted)

	var sum time.Duration
	for _, d := range sorted {
		sum += d
	}
	return Stats{
		Min:  sorted[0],
		Max:  sorted[len(sorted)-1],
		Mean: sum / time.Duration(len(sorted)),
		P50:  percentile(sorted, 50),
		P95:  percentile(sorted, 95),
	}
}

func percentile(sorted []time.Duration, p int) time.Duration {
	rank := (p*len(sorted) + 99) / 100
	return sorted[max(rank-1, 0)]
}

// ---------------------------------------------------------------------------
// RTF helpers
// ---------------------------------------------------------------------------

// CalcRTF returns synthesis_duration / audio_duration.
// Returns 0 if audioDur is zero.
func CalcRTF(synthDur, audioDur time.Duration) float64 {
	if audioDur <= 0 {
		return 0
	}
	return float64(synthDur) / float64(audioDur)
}

// WAVDuration decodes a mono 16-bit WAV and returns its playback length.
func WAVDuration(wav []byte) (time.Duration, error) {
	samples, rate, err := audio.DecodeWAV(wav)
	if err != nil {
		return 0, fmt.Errorf("bench: %w", err)
	}
	return time.Duration(int64(len(samples)) * int64(time.Second) / int64(rate)), nil
}

// CheckRTFThreshold returns an error if meanRTF > threshold.
// A threshold of 0 disables the gate.
func CheckRTFThreshold(meanRTF, threshold float64) error {
	if threshold <= 0 {
		return nil
	}
	if meanRTF > threshold {
		return fmt.Errorf("mean RTF %.3f exceeds threshold %.3f", meanRTF, threshold)
	}
	return nil
}

// ---------------------------------------------------------------------------
// Output formatters
// ---------------------------------------------------------------------------

func ms(d time.Duration) float64 { return float64(d) / float64(time.Millisecond) }

// FormatTable writes a human-readable table of bench results to w.
func FormatTable(runs []RunResult, stats Stats, w io.Writer) {
	sb := &strings.Builder{}
	rule := strings.Repeat("-", 62)

	fmt.Fprintf(sb, "%-5s  %-5s  %10s  %10s  %6s  %10s  %8s\n", "Run", "Cold", "MS", "Audio(ms)", "Units", "Cost", "RTF")
	fmt.Fprintln(sb, rule)

	for _, r := range runs {
		cold := ""
		if r.Cold {
			cold = "yes"
		}
		fmt.Fprintf(sb, "%-5d  %-5s  %10.1f  %10.1f  %6d  %10.4f  %8.3f\n",
			r.Index+1, cold, ms(r.Elapsed), ms(r.Audio), r.Units, r.Cost, r.RTF)
	}

	fmt.Fprintln(sb, rule)
	for _, row := range []struct {
		label string
		d     time.Duration
	}{
		{"min", stats.Min},
		{"p50", stats.P50},
		{"mean", stats.Mean},
		{"p95", stats.P95},
		{"max", stats.Max},
	} {
		fmt.Fprintf(sb, "%-12s  %10.1f\n", "("+row.label+")", ms(row.d))
	}
	fmt.Fprintf(sb, "%-12s  %10.3f\n", "(mean rtf)", stats.MeanRTF)

	fmt.Fprint(w, sb.String())
}

type jsonReport struct {
	Runs  []jsonRun `json:"runs"`
	Stats jsonStats `json:"stats"`
}

type jsonRun struct {
	Index      int     `json:"index"`
	Cold       bool    `json:"cold"`
	DurationMS float64 `json:"duration_ms"`
	AudioMS    float64 `json:"audio_ms"`
	Units      int     `json:"units"`
	Cost       float64 `json:"cost"`
	RTF        float64 `json:"rtf"`
}

type jsonStats struct {
	MinMS   float64 `json:"min_ms"`
	P50MS   float64 `json:"p50_ms"`
	MeanMS  float64 `json:"mean_ms"`
	P95MS   float64 `json:"p95_ms"`
	MaxMS   float64 `json:"max_ms"`
	MeanRTF float64 `json:"mean_rtf"`
}

// FormatJSON writes a JSON report of bench results to w.
func FormatJSON(runs []RunResult, stats Stats, w io.Writer) error {
	jr := jsonReport{
		Runs: make([]jsonRun, len(runs)),
		Stats: jsonStats{
			MinMS:   ms(stats.Min),
			P50MS:   ms(stats.P50),
			MeanMS:  ms(stats.Mean),
			P95MS:   ms(stats.P95),
			MaxMS:   ms(stats.Max),
			MeanRTF: stats.MeanRTF,
		},
	}
	for i, r := range runs {
		jr.Runs[i] = jsonRun{
			Index:      r.Index,
			Cold:       r.Cold,
			DurationMS: ms(r.Elapsed),
			AudioMS:    ms(r.Audio),
			Units:      r.Units,
			Cost:       r.Cost,
			RTF:        r.RTF,
		}
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(jr)
}
