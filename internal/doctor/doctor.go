// Package doctor provides preflight checks for a voices directory and the
// host it runs on.
package doctor

import (
	"context"
	"fmt"
	"io"
	"runtime"
	"slices"
	"strings"

	"github.com/sourcegraph/conc/pool"
	"github.com/spf13/afero"
	"go.uber.org/multierr"
	"golang.org/x/sys/cpu"

	"github.com/example/go-unitsel/internal/selection"
	"github.com/example/go-unitsel/internal/timeline"
	"github.com/example/go-unitsel/internal/voice"
)

// PassMark and FailMark are the prefix symbols printed for each check result.
const (
	PassMark = "✓"
	FailMark = "✗"
)

// Config holds the inputs of every doctor check.
type Config struct {
	// Fs defaults to the OS filesystem.
	Fs           afero.Fs
	ManifestPath string
	// Voices limits the load check to these ids. Empty checks every
	// manifest entry.
	Voices []string
	// Probe is synthesized with every loaded voice. Empty skips the probe.
	Probe []string
	// Workers bounds concurrent voice loads; 0 uses GOMAXPROCS.
	Workers     int
	VoiceOption []voice.Option
}

// Check is the outcome of one named check.
type Check struct {
	Name   string
	Detail string
	Err    error
}

// Result collects the outcome of all checks.
type Result struct {
	checks []Check
	err    error
}

// Failed returns true if any check failed.
func (r *Result) Failed() bool { return r.err != nil }

// Err combines every failure, or nil.
func (r *Result) Err() error { return r.err }

// Checks returns every check in report order.
func (r *Result) Checks() []Check { return slices.Clone(r.checks) }

// Failures returns the list of failure messages.
func (r *Result) Failures() []string {
	var out []string
	for _, c := range r.checks {
		if c.Err != nil {
			out = append(out, fmt.Sprintf("%s: %v", c.Name, c.Err))
		}
	}
	return out
}

// AddFailure appends an external failure to the result.
func (r *Result) AddFailure(name string, err error) { r.add(Check{Name: name, Err: err}) }

func (r *Result) add(c Check) {
	r.checks = append(r.checks, c)
	if c.Err != nil {
		r.err = multierr.Append(r.err, fmt.Errorf("%s: %w", c.Name, c.Err))
	}
}

// Run executes all checks and writes one line per check to w, prefixed
// with PassMark or FailMark.
func Run(ctx context.Context, cfg Config, w io.Writer) Result {
	var res Result
	res.add(platformCheck())

	fs := cfg.Fs
	if fs == nil {
		fs = afero.NewOsFs()
	}
	mgr, err := voice.NewManager(fs, cfg.ManifestPath, cfg.VoiceOption...)
	if err != nil {
		res.add(Check{Name: "voice manifest", Err: err})
		report(w, res.checks)
		return res
	}
	defer mgr.Close()

	entries := mgr.List()
	res.add(Check{Name: "voice manifest", Detail: fmt.Sprintf("%s (%d voices)", cfg.ManifestPath, len(entries))})

	ids := cfg.Voices
	if len(ids) == 0 {
		for _, e := range entries {
			ids = append(ids, e.ID)
		}
	}
	for _, c := range checkVoices(ctx, mgr, ids, cfg) {
		res.add(c)
	}

	report(w, res.checks)
	return res
}

func report(w io.Writer, checks []Check) {
	for _, c := range checks {
		if c.Err != nil {
			fmt.Fprintf(w, "%s %s: %v\n", FailMark, c.Name, c.Err)
			continue
		}
		fmt.Fprintf(w, "%s %s: %s\n", PassMark, c.Name, c.Detail)
	}
}

func platformCheck() Check {
	var simd []string
	switch runtime.GOARCH {
	case "amd64", "386":
		for _, f := range []struct {
			name string
			on   bool
		}{{"sse4.1", cpu.X86.HasSSE41}, {"avx", cpu.X86.HasAVX}, {"avx2", cpu.X86.HasAVX2}, {"fma", cpu.X86.HasFMA}} {
			if f.on {
				simd = append(simd, f.name)
			}
		}
	case "arm64":
		if cpu.ARM64.HasASIMD {
			simd = append(simd, "asimd")
		}
	}
	if len(simd) == 0 {
		simd = append(simd, "none detected")
	}
	return Check{
		Name:   "platform",
		Detail: fmt.Sprintf("%s/%s, %d CPUs, simd: %s", runtime.GOOS, runtime.GOARCH, runtime.NumCPU(), strings.Join(simd, " ")),
	}
}

// checkVoices loads every voice concurrently. Results follow ids order.
func checkVoices(ctx context.Context, mgr *voice.Manager, ids []string, cfg Config) []Check {
	workers := cfg.Workers
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	out := make([]Check, len(ids))
	p := pool.New().WithMaxGoroutines(workers)
	for i, id := range ids {
		p.Go(func() {
			out[i] = checkVoice(ctx, mgr, id, cfg.Probe)
		})
	}
	p.Wait()
	return out
}

func checkVoice(ctx context.Context, mgr *voice.Manager, id string, probe []string) Check {
	c := Check{Name: "voice " + id}
	if err := ctx.Err(); err != nil {
		c.Err = err
		return c
	}
	v, err := mgr.Get(id)
	if err != nil {
		c.Err = err
		return c
	}
	kind := "unknown"
	if p, err := timeline.ParseParams(v.Timeline.ProcHeader); err == nil {
		kind = p.AudioType()
	}
	c.Detail = fmt.Sprintf("%d units, %d Hz, %s audio", v.Units.Len(), v.SampleRate(), kind)
	if len(probe) == 0 {
		return c
	}

	targets := make([]*selection.Target, len(probe))
	for i, ph := range probe {
		targets[i] = selection.NewTarget(ph, 0, nil)
	}
	samples, sel, err := v.Synthesize(ctx, targets)
	if err != nil {
		c.Err = fmt.Errorf("probe %q: %w", strings.Join(probe, " "), err)
		return c
	}
	c.Detail += fmt.Sprintf(", probe %d samples at cost %.3f", len(samples), sel.Cost)
	return c
}
