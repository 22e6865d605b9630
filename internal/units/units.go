// Package units reads and writes the unit file: the start and duration of
// every unit within the concatenated corpus timeline.
package units

import (
	"bufio"
	"fmt"
	"io"

	"github.com/example/go-unitsel/internal/binfile"
)

// Unit is a span of recorded speech. Start and Duration are in samples at
// the unit file's sample rate. A zero duration marks an edge unit that
// bounds an utterance.
type Unit struct {
	Index    int
	Start    int64
	Duration int32
}

// IsEdge reports whether u is an utterance boundary marker.
func (u Unit) IsEdge() bool { return u.Duration == 0 }

// End is the first sample after the unit.
func (u Unit) End() int64 { return u.Start + int64(u.Duration) }

// File is the content of a unit file. Units are indexed by position and
// never change after loading.
type File struct {
	SampleRate int
	units      []Unit
}

// New builds a File from units, renumbering them by position.
func New(sampleRate int, us []Unit) (*File, error) {
	if sampleRate <= 0 {
		return nil, fmt.Errorf("units: %w: sample rate %d", binfile.ErrOutOfRange, sampleRate)
	}
	f := &File{SampleRate: sampleRate, units: make([]Unit, len(us))}
	for i, u := range us {
		if u.Start < 0 || u.Duration < 0 {
			return nil, fmt.Errorf("units: %w: unit %d has start %d duration %d", binfile.ErrOutOfRange, i, u.Start, u.Duration)
		}
		u.Index = i
		f.units[i] = u
	}
	return f, nil
}

func (f *File) Len() int { return len(f.units) }

// Unit returns the unit at index i.
func (f *File) Unit(i int) (Unit, error) {
	if i < 0 || i >= len(f.units) {
		return Unit{}, fmt.Errorf("units: %w: unit %d of %d", binfile.ErrOutOfRange, i, len(f.units))
	}
	return f.units[i], nil
}

// At is Unit without the bounds error; callers must hold a valid index.
func (f *File) At(i int) Unit { return f.units[i] }

// Neighbor returns the unit at i+offset when it exists and is not an edge.
func (f *File) Neighbor(i, offset int) (Unit, bool) {
	j := i + offset
	if j < 0 || j >= len(f.units) || f.units[j].IsEdge() {
		return Unit{}, false
	}
	return f.units[j], true
}

// Read decodes a unit file.
func Read(r io.Reader) (*File, error) {
	br := binfile.NewReader(bufio.NewReader(r))
	if _, err := binfile.ReadHeader(br, binfile.TypeUnits); err != nil {
		return nil, fmt.Errorf("units: %w", err)
	}
	n := br.Int32()
	rate := br.Int32()
	if err := br.Err(); err != nil {
		return nil, fmt.Errorf("units: read counts: %w", err)
	}
	if n < 0 {
		return nil, fmt.Errorf("units: %w: negative unit count %d", binfile.ErrFormat, n)
	}
	if rate <= 0 {
		return nil, fmt.Errorf("units: %w: sample rate %d", binfile.ErrFormat, rate)
	}

	us := make([]Unit, 0, min(int(n), 1<<16))
	for i := 0; i < int(n); i++ {
		u := Unit{Index: i, Start: br.Int64(), Duration: br.Int32()}
		if err := br.Err(); err != nil {
			return nil, fmt.Errorf("units: read unit %d: %w", i, err)
		}
		if u.Start < 0 || u.Duration < 0 {
			return nil, fmt.Errorf("units: %w: unit %d has start %d duration %d", binfile.ErrFormat, i, u.Start, u.Duration)
		}
		us = append(us, u)
	}
	return &File{SampleRate: int(rate), units: us}, nil
}

// Write encodes f.
func Write(w io.Writer, f *File) error {
	bw := bufio.NewWriter(w)
	out := binfile.NewWriter(bw)
	if err := binfile.WriteHeader(out, binfile.TypeUnits); err != nil {
		return fmt.Errorf("units: write header: %w", err)
	}
	out.Int32(int32(len(f.units)))
	out.Int32(int32(f.SampleRate))
	for _, u := range f.units {
		out.Int64(u.Start)
		out.Int32(u.Duration)
	}
	if err := out.Err(); err != nil {
		return fmt.Errorf("units: write: %w", err)
	}
	return bw.Flush()
}
