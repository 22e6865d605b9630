package selection

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/sourcegraph/conc/iter"

	"github.com/example/go-unitsel/internal/cost"
)

// Defaults for Options.
const (
	DefaultTargetWeight  = 0.5
	DefaultMinCandidates = 1
)

// Options tune the search. JoinWeight below zero means 1 - TargetWeight.
type Options struct {
	TargetWeight  float64
	JoinWeight    float64
	Beam          int // predecessors kept per position; 0 keeps all
	MinCandidates int
	MaxCandidates int // 0 keeps all
	Parallel      int // goroutines for candidate generation; 0 uses GOMAXPROCS, 1 disables
}

// DefaultOptions returns the standard search settings.
func DefaultOptions() Options {
	return Options{
		TargetWeight:  DefaultTargetWeight,
		JoinWeight:    -1,
		MinCandidates: DefaultMinCandidates,
	}
}

func (o Options) weights() weights {
	w := weights{target: o.TargetWeight, join: o.JoinWeight}
	if w.join < 0 {
		w.join = 1 - w.target
	}
	return w
}

func (o Options) validate() error {
	w := o.weights()
	switch {
	case w.target < 0 || w.join < 0:
		return fmt.Errorf("selection: negative weights (target %v, join %v)", w.target, w.join)
	case o.Beam < 0 || o.MinCandidates < 0 || o.MaxCandidates < 0 || o.Parallel < 0:
		return fmt.Errorf("selection: beam and candidate limits must not be negative")
	}
	return nil
}

type selectorOptions struct {
	search   Options
	computer FeatureComputer
	logger   *slog.Logger
}

// Option configures a Selector.
type Option func(*selectorOptions)

// WithOptions replaces the search settings.
func WithOptions(o Options) Option {
	return func(so *selectorOptions) { so.search = o }
}

// WithFeatureComputer sets how target vectors are computed.
func WithFeatureComputer(fc FeatureComputer) Option {
	return func(so *selectorOptions) { so.computer = fc }
}

// WithLogger sets the logger for per-call debug lines.
func WithLogger(l *slog.Logger) Option {
	return func(so *selectorOptions) { so.logger = l }
}

// Selector runs unit selection against one database. It holds no
// per-call state and is safe for concurrent use.
type Selector struct {
	db   *Database
	join cost.JoinCostFunction
	opts selectorOptions
}

// NewSelector builds a selector over db scoring joins with join.
func NewSelector(db *Database, join cost.JoinCostFunction, optFns ...Option) (*Selector, error) {
	opts := selectorOptions{
		search:   DefaultOptions(),
		computer: MapFeatureComputer{},
		logger:   slog.Default(),
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	if err := opts.search.validate(); err != nil {
		return nil, err
	}
	if db == nil || join == nil {
		return nil, fmt.Errorf("selection: database and join cost are required")
	}
	return &Selector{db: db, join: join, opts: opts}, nil
}

// Options returns the search settings in effect.
func (s *Selector) Options() Options { return s.opts.search }

// Database returns the database searched.
func (s *Selector) Database() *Database { return s.db }

// Result is a selected path.
type Result struct {
	Units []Candidate
	Cost  float64
	// Candidates counts the candidates considered at each lattice position.
	Candidates []int
}

// Select finds the lowest cost unit sequence for targets. Target vectors
// are memoized in cache, which may be nil.
func (s *Selector) Select(ctx context.Context, targets []*Target, cache *FeatureCache) (*Result, error) {
	g := s.generator(cache)

	lattice, err := s.lattice(g, targets)
	if err != nil {
		return nil, err
	}

	path, total, err := viterbi(ctx, lattice, s.join, s.opts.search.weights(), s.opts.search.Beam)
	if err != nil {
		return nil, err
	}
	res := &Result{Units: path, Cost: total, Candidates: make([]int, len(lattice))}
	for i, col := range lattice {
		res.Candidates[i] = len(col)
	}
	s.opts.logger.Debug("units selected",
		"targets", len(targets),
		"positions", len(lattice),
		"cost", total,
	)
	return res, nil
}

// Candidates returns the sorted candidate sets of targets without searching.
func (s *Selector) Candidates(targets []*Target, cache *FeatureCache) ([][]Candidate, error) {
	g := s.generator(cache)
	lattice, err := s.lattice(g, targets)
	if err != nil {
		return nil, err
	}
	out := make([][]Candidate, len(lattice))
	for i, col := range lattice {
		out[i] = col
	}
	return out, nil
}

func (s *Selector) generator(cache *FeatureCache) *generator {
	if cache == nil {
		cache = &FeatureCache{}
	}
	return &generator{
		db:       s.db,
		computer: s.opts.computer,
		cache:    cache,
		min:      s.opts.search.MinCandidates,
		max:      s.opts.search.MaxCandidates,
	}
}

func (s *Selector) lattice(g *generator, targets []*Target) ([]column, error) {
	var (
		perTarget [][]column
		err       error
	)
	if s.opts.search.Parallel == 1 {
		perTarget = make([][]column, len(targets))
		for i, t := range targets {
			if perTarget[i], err = g.generate(t); err != nil {
				return nil, err
			}
		}
	} else {
		mapper := iter.Mapper[*Target, []column]{MaxGoroutines: s.opts.search.Parallel}
		perTarget, err = mapper.MapErr(targets, func(t **Target) ([]column, error) {
			return g.generate(*t)
		})
		if err != nil {
			return nil, err
		}
	}

	var lattice []column
	for _, cols := range perTarget {
		lattice = append(lattice, cols...)
	}
	return lattice, nil
}
