package features

import (
	"bufio"
	"fmt"
	"io"

	"github.com/example/go-unitsel/internal/binfile"
)

// FeatureFile is the content of a unit, half-phone or target feature file.
// The unit index of a vector is its position in Vectors.
type FeatureFile struct {
	Type       binfile.Type
	Definition *Definition
	Vectors    []Vector
}

var featureFileTypes = []binfile.Type{
	binfile.TypeUnitFeats,
	binfile.TypeHalfPhoneUnitFeats,
	binfile.TypeTargetFeats,
}

// ReadFeatureFile decodes a feature file.
func ReadFeatureFile(r io.Reader) (*FeatureFile, error) {
	br := binfile.NewReader(bufio.NewReader(r))
	typ, err := binfile.ReadHeader(br, featureFileTypes...)
	if err != nil {
		return nil, fmt.Errorf("features: %w", err)
	}
	def, err := ReadDefinition(br)
	if err != nil {
		return nil, err
	}

	n := br.Int32()
	if err := br.Err(); err != nil {
		return nil, fmt.Errorf("features: read vector count: %w", err)
	}
	if n < 0 {
		return nil, fmt.Errorf("features: %w: negative vector count %d", binfile.ErrFormat, n)
	}

	vectors := make([]Vector, 0, min(int(n), 1<<16))
	bytes := make([]byte, def.nByte)
	shorts := make([]int16, def.nShort)
	floats := make([]float32, def.nCont)
	for u := 0; u < int(n); u++ {
		for i := range bytes {
			bytes[i] = br.Uint8()
		}
		for i := range shorts {
			shorts[i] = br.Int16()
		}
		for i := range floats {
			floats[i] = br.Float32()
		}
		if err := br.Err(); err != nil {
			return nil, fmt.Errorf("features: read vector %d: %w", u, err)
		}
		v, err := def.Vector(u, bytes, shorts, floats)
		if err != nil {
			return nil, fmt.Errorf("features: vector %d: %w", u, err)
		}
		vectors = append(vectors, v)
	}

	return &FeatureFile{Type: typ, Definition: def, Vectors: vectors}, nil
}

// WriteFeatureFile encodes f. Vector unit indices are not stored; the
// reader restores them from position.
func WriteFeatureFile(w io.Writer, f *FeatureFile) error {
	bw := bufio.NewWriter(w)
	out := binfile.NewWriter(bw)
	if err := binfile.WriteHeader(out, f.Type); err != nil {
		return fmt.Errorf("features: write header: %w", err)
	}
	WriteDefinition(out, f.Definition)
	out.Int32(int32(len(f.Vectors)))
	for _, v := range f.Vectors {
		if v.NumBytes() != f.Definition.nByte || v.NumShorts() != f.Definition.nShort || v.NumFloats() != f.Definition.nCont {
			return fmt.Errorf("features: %w: vector for unit %d does not match definition", binfile.ErrFormat, v.Unit())
		}
		out.Bytes(v.bytes)
		for _, s := range v.shorts {
			out.Int16(s)
		}
		for _, x := range v.floats {
			out.Float32(x)
		}
	}
	if err := out.Err(); err != nil {
		return fmt.Errorf("features: write: %w", err)
	}
	return bw.Flush()
}

// ReadDefinition decodes the binary schema section.
func ReadDefinition(r *binfile.Reader) (*Definition, error) {
	var fs []Feature

	nByte := r.Int32()
	if nByte < 0 || nByte > 1<<16 {
		r.Fail(fmt.Errorf("%w: byte feature count %d", binfile.ErrFormat, nByte))
	}
	for i := 0; i < int(nByte) && r.Err() == nil; i++ {
		f := Feature{Kind: KindByte, Weight: r.Float32(), Name: r.UTF()}
		nv := int(r.Uint8())
		for v := 0; v < nv; v++ {
			f.Values = append(f.Values, r.UTF())
		}
		fs = append(fs, f)
	}

	nShort := r.Int32()
	if nShort < 0 || nShort > 1<<16 {
		r.Fail(fmt.Errorf("%w: short feature count %d", binfile.ErrFormat, nShort))
	}
	for i := 0; i < int(nShort) && r.Err() == nil; i++ {
		f := Feature{Kind: KindShort, Weight: r.Float32(), Name: r.UTF()}
		nv := int(r.Int16())
		if nv < 0 {
			r.Fail(fmt.Errorf("%w: feature %q has %d values", binfile.ErrFormat, f.Name, nv))
		}
		for v := 0; v < nv; v++ {
			f.Values = append(f.Values, r.UTF())
		}
		fs = append(fs, f)
	}

	nCont := r.Int32()
	if nCont < 0 || nCont > 1<<16 {
		r.Fail(fmt.Errorf("%w: continuous feature count %d", binfile.ErrFormat, nCont))
	}
	for i := 0; i < int(nCont) && r.Err() == nil; i++ {
		f := Feature{Kind: KindContinuous, Weight: r.Float32()}
		f.WeightFunc = r.UTF()
		f.Name = r.UTF()
		fs = append(fs, f)
	}

	if err := r.Err(); err != nil {
		return nil, fmt.Errorf("features: read definition: %w", err)
	}
	return NewDefinition(fs)
}

// WriteDefinition encodes the binary schema section. Errors surface through
// w.Err.
func WriteDefinition(w *binfile.Writer, d *Definition) {
	w.Int32(int32(d.nByte))
	for _, f := range d.features[:d.nByte] {
		w.Float32(f.Weight)
		w.UTF(f.Name)
		w.Uint8(uint8(len(f.Values)))
		for _, v := range f.Values {
			w.UTF(v)
		}
	}
	w.Int32(int32(d.nShort))
	for _, f := range d.features[d.nByte : d.nByte+d.nShort] {
		w.Float32(f.Weight)
		w.UTF(f.Name)
		w.Int16(int16(len(f.Values)))
		for _, v := range f.Values {
			w.UTF(v)
		}
	}
	w.Int32(int32(d.nCont))
	for _, f := range d.features[d.nByte+d.nShort:] {
		w.Float32(f.Weight)
		w.UTF(f.WeightFunc)
		w.UTF(f.Name)
	}
}
