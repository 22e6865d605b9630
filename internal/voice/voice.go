package voice

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"

	"github.com/spf13/afero"
	"go.uber.org/multierr"

	"github.com/example/go-unitsel/internal/binfile"
	"github.com/example/go-unitsel/internal/concat"
	"github.com/example/go-unitsel/internal/cost"
	"github.com/example/go-unitsel/internal/features"
	"github.com/example/go-unitsel/internal/index"
	"github.com/example/go-unitsel/internal/selection"
	"github.com/example/go-unitsel/internal/timeline"
	"github.com/example/go-unitsel/internal/units"
)

// Overrides replace descriptor settings. Zero values keep the voice's own
// setting; JoinWeight keeps it when negative. KeepRecordedDuration switches
// off target duration matching even when the descriptor asks for it.
type Overrides struct {
	TargetWeight         float64
	JoinWeight           float64
	Beam                 int
	MinCandidates        int
	MaxCandidates        int
	JoinCost             string
	KeepRecordedDuration bool
}

type options struct {
	logger    *slog.Logger
	overrides Overrides
	parallel  int
}

// Option configures Load.
type Option func(*options)

// WithLogger sets the logger used while loading and for the voice's
// selector and concatenator.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithOverrides applies caller settings over the descriptor.
func WithOverrides(ov Overrides) Option {
	return func(o *options) { o.overrides = ov }
}

// WithParallel bounds the goroutines used per synthesis; 0 uses
// GOMAXPROCS and 1 runs sequentially.
func WithParallel(n int) Option {
	return func(o *options) { o.parallel = n }
}

// Voice is a loaded, read-only voice. It is safe for concurrent
// synthesis.
type Voice struct {
	Name       string
	Descriptor *Descriptor
	Features   *features.FeatureFile
	Units      *units.File
	Timeline   *timeline.Reader
	Database   *selection.Database
	Join       cost.JoinCostFunction
	Selector   *selection.Selector
	Concat     concat.Concatenator

	closers []io.Closer
}

// Load reads the descriptor at descPath and every file it names. On
// failure nothing stays open.
func Load(fs afero.Fs, descPath string, optFns ...Option) (v *Voice, err error) {
	opts := options{logger: slog.Default(), overrides: Overrides{JoinWeight: -1}}
	for _, fn := range optFns {
		fn(&opts)
	}

	desc, err := readFile(fs, descPath, ReadDescriptor)
	if err != nil {
		return nil, err
	}
	l := &loader{fs: fs, dir: filepath.Dir(descPath), desc: desc}
	v = &Voice{Name: desc.Name, Descriptor: desc}
	defer func() {
		if err != nil {
			err = multierr.Append(err, v.Close())
			v = nil
		}
	}()

	if v.Features, err = readFile(fs, l.path(desc.Files.Features), features.ReadFeatureFile); err != nil {
		return v, err
	}
	def := v.Features.Definition
	target, err := l.targetCost(def, desc.Files.Weights)
	if err != nil {
		return v, err
	}
	var dbOpts []selection.DatabaseOption
	if desc.Files.LeftHalf != "" {
		left, err := l.targetCost(def, desc.Files.LeftHalf)
		if err != nil {
			return v, err
		}
		right, err := l.targetCost(def, desc.Files.RightHalf)
		if err != nil {
			return v, err
		}
		if err := left.Definition().CheckCompatible(right.Definition()); err != nil {
			return v, fmt.Errorf("voice: half-phone weights: %w", err)
		}
		dbOpts = append(dbOpts, selection.WithHalfPhoneCosts(left, right))
	}

	if v.Units, err = readFile(fs, l.path(desc.Files.Units), units.Read); err != nil {
		return v, err
	}
	seq, err := l.sequence(def)
	if err != nil {
		return v, err
	}
	tree, err := index.Build(v.Features.Vectors, seq, def)
	if err != nil {
		return v, fmt.Errorf("voice: index: %w", err)
	}
	if v.Database, err = selection.NewDatabase(v.Units, v.Features.Vectors, tree, target, desc.PhoneFeature, dbOpts...); err != nil {
		return v, fmt.Errorf("voice: %w", err)
	}

	if v.Join, err = l.joinCost(def, v.Units.Len(), opts.overrides.JoinCost); err != nil {
		return v, err
	}

	if err := v.openTimeline(fs, l.path(desc.Files.Audio)); err != nil {
		return v, err
	}
	cc, err := concat.New(v.Timeline, v.Units,
		concat.WithPauseSymbol(desc.PauseSymbol),
		concat.WithMatchTargetDuration(desc.MatchDuration && !opts.overrides.KeepRecordedDuration),
		concat.WithParallel(opts.parallel),
		concat.WithLogger(opts.logger),
	)
	if err != nil {
		return v, fmt.Errorf("voice: %w", err)
	}
	v.Concat = cc

	search := searchOptions(desc.Selection, opts.overrides)
	search.Parallel = opts.parallel
	if v.Selector, err = selection.NewSelector(v.Database, v.Join,
		selection.WithOptions(search),
		selection.WithFeatureComputer(selection.MapFeatureComputer{PhoneFeature: desc.PhoneFeature}),
		selection.WithLogger(opts.logger),
	); err != nil {
		return v, fmt.Errorf("voice: %w", err)
	}

	opts.logger.Info("voice loaded",
		"voice", desc.Name,
		"units", v.Units.Len(),
		"features", def.NumFeatures(),
		"index_depth", tree.Depth(),
		"sample_rate", v.Timeline.SampleRate,
	)
	return v, nil
}

// Close releases the voice's open files.
func (v *Voice) Close() error {
	var err error
	for _, c := range v.closers {
		err = multierr.Append(err, c.Close())
	}
	v.closers = nil
	return err
}

// SampleRate is the rate of synthesized audio.
func (v *Voice) SampleRate() int { return v.Concat.SampleRate() }

// Synthesize selects units for targets and concatenates them.
func (v *Voice) Synthesize(ctx context.Context, targets []*selection.Target) ([]float64, *selection.Result, error) {
	res, err := v.Selector.Select(ctx, targets, nil)
	if err != nil {
		return nil, nil, err
	}
	samples, err := v.Concat.Concatenate(ctx, concat.FromResult(res))
	if err != nil {
		return nil, res, err
	}
	return samples, res, nil
}

func (v *Voice) openTimeline(fs afero.Fs, name string) error {
	f, err := fs.Open(name)
	if err != nil {
		return fmt.Errorf("voice: open audio timeline: %w", err)
	}
	v.closers = append(v.closers, f)
	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("voice: stat audio timeline: %w", err)
	}
	if v.Timeline, err = timeline.Open(f, info.Size()); err != nil {
		return fmt.Errorf("voice: %s: %w", name, err)
	}
	return nil
}

func searchOptions(d SelectionDefaults, ov Overrides) selection.Options {
	o := selection.Options{
		TargetWeight:  d.TargetWeight,
		JoinWeight:    d.JoinWeight,
		Beam:          d.Beam,
		MinCandidates: d.MinCandidates,
		MaxCandidates: d.MaxCandidates,
	}
	if ov.TargetWeight > 0 {
		o.TargetWeight = ov.TargetWeight
	}
	if ov.JoinWeight >= 0 {
		o.JoinWeight = ov.JoinWeight
	}
	if ov.Beam > 0 {
		o.Beam = ov.Beam
	}
	if ov.MinCandidates > 0 {
		o.MinCandidates = ov.MinCandidates
	}
	if ov.MaxCandidates > 0 {
		o.MaxCandidates = ov.MaxCandidates
	}
	return o
}

// loader resolves and decodes the files of one descriptor.
type loader struct {
	fs   afero.Fs
	dir  string
	desc *Descriptor
}

func (l *loader) path(name string) string { return resolve(l.dir, name) }

func (l *loader) targetCost(def *features.Definition, weights string) (*cost.FeatureTargetCost, error) {
	var override *features.Definition
	if weights != "" {
		var err error
		if override, err = readFile(l.fs, l.path(weights), features.ParseDefinitionText); err != nil {
			return nil, err
		}
	}
	tc, err := cost.NewFeatureTargetCost(def, override)
	if err != nil {
		return nil, fmt.Errorf("voice: %s: %w", weights, err)
	}
	return tc, nil
}

// sequence maps the descriptor's index feature names to indices. An empty
// list indexes on the phone feature alone.
func (l *loader) sequence(def *features.Definition) ([]int, error) {
	names := l.desc.IndexSequence
	if len(names) == 0 {
		names = []string{l.desc.PhoneFeature}
	}
	seq := make([]int, len(names))
	for i, name := range names {
		idx, ok := def.Index(name)
		if !ok {
			return nil, fmt.Errorf("voice: %w: index feature %q is not defined", binfile.ErrIncompatible, name)
		}
		seq[i] = idx
	}
	return seq, nil
}

func (l *loader) joinCost(def *features.Definition, nUnits int, kind string) (cost.JoinCostFunction, error) {
	files := l.desc.Files
	jf, err := readFile(l.fs, l.path(files.Join), cost.ReadJoinFeatures)
	if err != nil {
		return nil, err
	}
	if jf.NumUnits() != nUnits {
		return nil, fmt.Errorf("voice: %w: join features describe %d units, unit file %d", binfile.ErrIncompatible, jf.NumUnits(), nUnits)
	}
	if files.JoinWeight != "" {
		f, err := l.fs.Open(l.path(files.JoinWeight))
		if err != nil {
			return nil, fmt.Errorf("voice: %w", err)
		}
		weights, funcs, err := cost.ReadJoinWeights(f, jf.Dim())
		f.Close()
		if err != nil {
			return nil, fmt.Errorf("voice: %s: %w", files.JoinWeight, err)
		}
		if err := jf.ApplyWeights(weights, funcs); err != nil {
			return nil, fmt.Errorf("voice: %s: %w", files.JoinWeight, err)
		}
	}

	deps := cost.JoinDeps{Features: jf, Targets: def, SignalWeight: l.desc.Selection.SignalWeight}
	if files.Precompute != "" {
		if deps.Precomputed, err = readFile(l.fs, l.path(files.Precompute), cost.ReadPrecomputed); err != nil {
			return nil, err
		}
	}
	if files.JoinModel != "" {
		if deps.Model, err = readFile(l.fs, l.path(files.JoinModel), cost.ReadJoinModel); err != nil {
			return nil, err
		}
	}
	if kind == "" {
		kind = l.desc.Selection.JoinCost
	}
	jc, err := cost.NewJoinCostFunction(kind, deps)
	if err != nil {
		return nil, fmt.Errorf("voice: %w", err)
	}
	return jc, nil
}

// readFile opens name on fs and decodes it with read.
func readFile[T any](fs afero.Fs, name string, read func(io.Reader) (T, error)) (T, error) {
	var zero T
	f, err := fs.Open(name)
	if err != nil {
		return zero, fmt.Errorf("voice: %w", err)
	}
	defer f.Close()
	v, err := read(f)
	if err != nil {
		return zero, fmt.Errorf("voice: %s: %w", name, err)
	}
	return v, nil
}
