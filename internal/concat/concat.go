// Package concat turns a selected unit sequence into audio by
// overlap-adding pitch periods read from the voice's audio timeline.
package concat

import (
	"context"
	"fmt"
	"log/slog"
	"math"

	"github.com/cwbudde/algo-dsp/dsp/window"
	"github.com/sourcegraph/conc/iter"

	"github.com/example/go-unitsel/internal/audio"
	"github.com/example/go-unitsel/internal/binfile"
	"github.com/example/go-unitsel/internal/selection"
	"github.com/example/go-unitsel/internal/timeline"
	"github.com/example/go-unitsel/internal/units"
)

// DefaultPauseSymbol is the phone that marks silence.
const DefaultPauseSymbol = "_"

// SelectedUnit is one unit of the selected path together with the target
// it realizes.
type SelectedUnit struct {
	Target *selection.Target
	Unit   units.Span
}

// FromResult converts a selection result.
func FromResult(res *selection.Result) []SelectedUnit {
	out := make([]SelectedUnit, len(res.Units))
	for i, c := range res.Units {
		out[i] = SelectedUnit{Target: c.Target, Unit: c.Unit}
	}
	return out
}

// Concatenator renders selected units as samples in [-1, 1] at
// SampleRate.
type Concatenator interface {
	Concatenate(ctx context.Context, us []SelectedUnit) ([]float64, error)
	SampleRate() int
}

type options struct {
	pause       string
	matchTarget bool
	parallel    int
	logger      *slog.Logger
}

func defaultOptions() options {
	return options{
		pause:       DefaultPauseSymbol,
		matchTarget: true,
		logger:      slog.Default(),
	}
}

// Option configures an Overlap concatenator.
type Option func(*options)

// WithPauseSymbol sets the phone treated as silence.
func WithPauseSymbol(s string) Option {
	return func(o *options) { o.pause = s }
}

// WithMatchTargetDuration controls whether speech units with a target
// duration repeat or drop whole periods to approach it. On by default; off
// keeps the recorded periods.
func WithMatchTargetDuration(on bool) Option {
	return func(o *options) { o.matchTarget = on }
}

// WithParallel bounds the goroutines of the per-unit pass; 0 uses
// GOMAXPROCS and 1 runs sequentially.
func WithParallel(n int) Option {
	return func(o *options) { o.parallel = n }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// Overlap is the pitch-synchronous overlap-add concatenator. It reads
// either a raw PCM or an LPC timeline.
type Overlap struct {
	tl      *timeline.Reader
	decoder *timeline.Decoder
	units   *units.File
	opts    options
}

// NewOverlap concatenates from a raw PCM timeline.
func NewOverlap(tl *timeline.Reader, us *units.File, optFns ...Option) (*Overlap, error) {
	return newOverlap(tl, us, timeline.AudioRaw, optFns)
}

// NewLPCOverlap concatenates from an LPC timeline, resynthesizing every
// period through the all-pole filter.
func NewLPCOverlap(tl *timeline.Reader, us *units.File, optFns ...Option) (*Overlap, error) {
	return newOverlap(tl, us, timeline.AudioLPC, optFns)
}

// New picks the concatenator matching the timeline's audio type.
func New(tl *timeline.Reader, us *units.File, optFns ...Option) (*Overlap, error) {
	p, err := tl.Params()
	if err != nil {
		return nil, err
	}
	return newOverlap(tl, us, p.AudioType(), optFns)
}

func newOverlap(tl *timeline.Reader, us *units.File, want string, optFns []Option) (*Overlap, error) {
	opts := defaultOptions()
	for _, fn := range optFns {
		fn(&opts)
	}
	p, err := tl.Params()
	if err != nil {
		return nil, fmt.Errorf("concat: %w", err)
	}
	if p.AudioType() != want {
		return nil, fmt.Errorf("concat: %w: timeline holds %q audio, want %q", binfile.ErrIncompatible, p.AudioType(), want)
	}
	if want != timeline.AudioRaw && want != timeline.AudioLPC {
		return nil, fmt.Errorf("concat: %w: cannot render %q audio", binfile.ErrIncompatible, want)
	}
	dec, err := timeline.NewDecoder(p)
	if err != nil {
		return nil, fmt.Errorf("concat: %w", err)
	}
	return &Overlap{tl: tl, decoder: dec, units: us, opts: opts}, nil
}

// SampleRate is the rate of the output samples.
func (o *Overlap) SampleRate() int { return o.tl.SampleRate }

// Concatenate runs the per-unit pass, then overlap-adds the units in
// order. The output has sum(N_i) + R_last samples, where N_i is the length
// of unit i's periods and R_last the right context of the last unit.
func (o *Overlap) Concatenate(ctx context.Context, us []SelectedUnit) ([]float64, error) {
	if len(us) == 0 {
		return nil, nil
	}
	mapper := iter.Mapper[SelectedUnit, *layout]{MaxGoroutines: o.opts.parallel}
	layouts, err := mapper.MapErr(us, func(su *SelectedUnit) (*layout, error) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		return o.layout(*su)
	})
	if err != nil {
		return nil, fmt.Errorf("concat: %w", err)
	}
	out := overlapAdd(layouts)
	for i, x := range out {
		out[i] = max(-1, min(1, x))
	}
	o.opts.logger.Debug("units concatenated", "units", len(us), "samples", len(out))
	return out, nil
}

// layout is the period sequence of one unit plus the right context used
// only for the crossfade into the next unit.
type layout struct {
	periods [][]float64
	right   []float64
}

// length is N: the samples contributed by the unit's own periods.
func (l *layout) length() int {
	n := 0
	for _, p := range l.periods {
		n += len(p)
	}
	return n
}

func (o *Overlap) silence(su SelectedUnit) bool {
	return su.Target != nil && su.Target.Phone == o.opts.pause
}

// targetLength converts the target duration to output samples, or returns
// false when the target gives none.
func (o *Overlap) targetLength(su SelectedUnit) (int, bool) {
	if su.Target == nil || !(su.Target.Duration > 0) {
		return 0, false
	}
	return int(math.Round(su.Target.Duration * float64(o.tl.SampleRate))), true
}

func (o *Overlap) layout(su SelectedUnit) (*layout, error) {
	span := su.Unit
	if span.First.IsEdge() || span.Last.IsEdge() {
		return nil, fmt.Errorf("%w: unit %d is an edge unit", binfile.ErrOutOfRange, span.Index())
	}
	rate := o.units.SampleRate
	start := span.First.Start
	dur := span.Last.End() - start

	ds, err := o.tl.Datagrams(start, dur, rate)
	if err != nil {
		return nil, fmt.Errorf("unit %d: %w", span.Index(), err)
	}
	silent := o.silence(su)
	if !silent {
		if next, ok := o.units.Neighbor(span.Last.Index, 1); ok {
			rc, err := o.tl.Datagram(next.Start, rate)
			if err != nil {
				return nil, fmt.Errorf("unit %d right context: %w", span.Index(), err)
			}
			ds = append(ds, rc)
		} else {
			ds = append(ds, timeline.Datagram{})
		}
	}

	frames, err := o.render(ds)
	if err != nil {
		return nil, fmt.Errorf("unit %d: %w", span.Index(), err)
	}

	l := &layout{}
	if silent {
		l.periods = o.silenceGrid(su, frames)
		return l, nil
	}
	recorded := frames[:len(frames)-1]
	l.right = frames[len(frames)-1]
	if l.right == nil {
		// a zero frame as long as the last recorded one
		l.right = make([]float64, len(recorded[len(recorded)-1]))
	}
	l.periods = recorded
	if target, ok := o.targetLength(su); ok && o.opts.matchTarget {
		l.periods = stretch(recorded, target)
	}
	return l, nil
}

// render decodes datagrams into period waveforms. An LPC unit is filtered
// with one history across all its frames. An empty datagram renders as nil.
func (o *Overlap) render(ds []timeline.Datagram) ([][]float64, error) {
	var filter *audio.LPCFilter
	if o.decoder.AudioType() == timeline.AudioLPC {
		filter = audio.NewLPCFilter(o.decoder.LPC().Order)
	}
	out := make([][]float64, len(ds))
	for i, d := range ds {
		if d.Data == nil {
			continue
		}
		f, err := o.decoder.Decode(d)
		if err != nil {
			return nil, err
		}
		var samples []float64
		switch f := f.(type) {
		case timeline.RawFrame:
			samples = make([]float64, len(f.Samples))
			for k, s := range f.Samples {
				samples[k] = float64(s)
			}
		case timeline.LPCFrame:
			samples = filter.Synthesize(make([]float64, 0, len(f.Residual)), f.Coeffs, f.Residual)
		default:
			return nil, fmt.Errorf("%w: frame type %T", binfile.ErrIncompatible, f)
		}
		for k := range samples {
			samples[k] /= 32768
		}
		out[i] = samples
	}
	return out, nil
}

// silenceGrid lays out evenly spaced periods summing to the target length.
// Period k copies the nearest recorded frame, truncated or zero padded.
func (o *Overlap) silenceGrid(su SelectedUnit, frames [][]float64) [][]float64 {
	unitLen := 0
	for _, f := range frames {
		unitLen += len(f)
	}
	target, ok := o.targetLength(su)
	if !ok {
		target = unitLen
	}
	n := 1
	if unitLen > 0 {
		avg := float64(unitLen) / float64(len(frames))
		n = max(1, int(math.Round(float64(target)/avg)))
	}
	base := target / n
	periods := make([][]float64, n)
	for k := range periods {
		size := base
		if k == n-1 {
			size = target - base*(n-1)
		}
		p := make([]float64, size)
		src := nearest(k, n, len(frames))
		copy(p, frames[src])
		periods[k] = p
	}
	return periods
}

// nearest maps period k of n onto one of m recorded frames.
func nearest(k, n, m int) int {
	i := int(math.Floor((float64(k) + 0.5) * float64(m) / float64(n)))
	return min(max(i, 0), m-1)
}

// stretch repeats or skips whole periods so the result lasts about target
// samples.
func stretch(periods [][]float64, target int) [][]float64 {
	total := 0
	for _, p := range periods {
		total += len(p)
	}
	if total == 0 || target <= 0 {
		return periods
	}
	n := max(1, int(math.Round(float64(len(periods))*float64(target)/float64(total))))
	out := make([][]float64, n)
	for k := range out {
		out[k] = periods[nearest(k, n, len(periods))]
	}
	return out
}

// overlapAdd places unit i at p_i, with p_{i+1} = p_i + N_i. The first
// period of each unit rises with the first half of a Hann window and the
// right context falls with the second half, so each internal boundary
// overlaps exactly one right context.
func overlapAdd(ls []*layout) []float64 {
	total := 0
	for _, l := range ls {
		total += l.length()
	}
	total += len(ls[len(ls)-1].right)
	out := make([]float64, total)

	p := 0
	for _, l := range ls {
		pos := p
		for k, period := range l.periods {
			var rise []float64
			if k == 0 {
				rise = window.Generate(window.TypeHann, 2*len(period))
			}
			for s, x := range period {
				if rise != nil {
					x *= rise[s]
				}
				out[pos+s] += x
			}
			pos += len(period)
		}
		r := len(l.right)
		fall := window.Generate(window.TypeHann, 2*r)
		for s, x := range l.right {
			if pos+s >= total {
				break
			}
			out[pos+s] += x * fall[r+s]
		}
		p += l.length()
	}
	return out
}
