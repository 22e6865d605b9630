// Package features describes the typed feature schema of a voice database
// and the per-unit feature vectors stored under it.
package features

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/example/go-unitsel/internal/binfile"
	"golang.org/x/text/unicode/norm"
)

// Kind is the storage class of a feature.
type Kind uint8

const (
	KindByte Kind = iota
	KindShort
	KindContinuous
)

func (k Kind) String() string {
	switch k {
	case KindByte:
		return "byte"
	case KindShort:
		return "short"
	case KindContinuous:
		return "continuous"
	default:
		return "Kind(" + strconv.Itoa(int(k)) + ")"
	}
}

const (
	maxByteValues  = math.MaxUint8
	maxShortValues = math.MaxInt16
)

// Feature is one column of the schema. Values lists the enumeration of a
// discrete feature (code = position); WeightFunc names the distance used for
// a continuous one.
type Feature struct {
	Name       string
	Kind       Kind
	Weight     float32
	Values     []string
	WeightFunc string
}

// Definition is an ordered schema: byte features first, then short
// features, then continuous features. It is immutable once built.
type Definition struct {
	features []Feature
	nByte    int
	nShort   int
	nCont    int

	byName     map[string]int
	codes      []map[string]int
	funcs      []WeightFunc
	similarity [][][]float32
}

// NewDefinition validates fs and builds a Definition. Value names are NFC
// normalized.
func NewDefinition(fs []Feature) (*Definition, error) {
	d := &Definition{
		features: make([]Feature, len(fs)),
		byName:   make(map[string]int, len(fs)),
		codes:    make([]map[string]int, len(fs)),
	}

	prev := KindByte
	for i, f := range fs {
		if f.Name == "" {
			return nil, fmt.Errorf("features: %w: feature %d has no name", binfile.ErrFormat, i)
		}
		if _, dup := d.byName[f.Name]; dup {
			return nil, fmt.Errorf("features: %w: duplicate feature %q", binfile.ErrFormat, f.Name)
		}
		if f.Kind < prev {
			return nil, fmt.Errorf("features: %w: %s feature %q after %s features", binfile.ErrFormat, f.Kind, f.Name, prev)
		}
		prev = f.Kind
		if f.Weight < 0 || math.IsNaN(float64(f.Weight)) {
			return nil, fmt.Errorf("features: %w: feature %q has invalid weight %v", binfile.ErrFormat, f.Name, f.Weight)
		}

		f.Values = append([]string(nil), f.Values...)
		switch f.Kind {
		case KindByte, KindShort:
			limit := maxByteValues
			if f.Kind == KindShort {
				limit = maxShortValues
				d.nShort++
			} else {
				d.nByte++
			}
			if len(f.Values) == 0 || len(f.Values) > limit {
				return nil, fmt.Errorf("features: %w: %s feature %q has %d values (want 1..%d)",
					binfile.ErrFormat, f.Kind, f.Name, len(f.Values), limit)
			}
			codes := make(map[string]int, len(f.Values))
			for code, v := range f.Values {
				v = norm.NFC.String(v)
				f.Values[code] = v
				if _, dup := codes[v]; dup {
					return nil, fmt.Errorf("features: %w: feature %q repeats value %q", binfile.ErrFormat, f.Name, v)
				}
				codes[v] = code
			}
			d.codes[i] = codes
			f.WeightFunc = ""
		case KindContinuous:
			if len(f.Values) != 0 {
				return nil, fmt.Errorf("features: %w: continuous feature %q lists values", binfile.ErrFormat, f.Name)
			}
			wf, err := LookupWeightFunc(f.WeightFunc)
			if err != nil {
				return nil, fmt.Errorf("features: feature %q: %w", f.Name, err)
			}
			d.funcs = append(d.funcs, wf)
			d.nCont++
		default:
			return nil, fmt.Errorf("features: %w: feature %q has unknown kind %d", binfile.ErrFormat, f.Name, f.Kind)
		}

		d.features[i] = f
		d.byName[f.Name] = i
	}
	d.similarity = make([][][]float32, d.nByte)

	return d, nil
}

func (d *Definition) NumFeatures() int   { return len(d.features) }
func (d *Definition) NumByte() int       { return d.nByte }
func (d *Definition) NumShort() int      { return d.nShort }
func (d *Definition) NumContinuous() int { return d.nCont }

// NumDiscrete is the number of byte and short features.
func (d *Definition) NumDiscrete() int { return d.nByte + d.nShort }

// Feature returns the i-th feature. The Values slice must not be modified.
func (d *Definition) Feature(i int) Feature { return d.features[i] }

func (d *Definition) Name(i int) string { return d.features[i].Name }

func (d *Definition) Kind(i int) Kind { return d.features[i].Kind }

func (d *Definition) Weight(i int) float32 { return d.features[i].Weight }

// NumValues is the enumeration size of a discrete feature, 0 for continuous.
func (d *Definition) NumValues(i int) int { return len(d.features[i].Values) }

// Index looks up a feature by name.
func (d *Definition) Index(name string) (int, bool) {
	i, ok := d.byName[name]
	return i, ok
}

// WeightFunc returns the distance function of feature i, which must be
// continuous.
func (d *Definition) WeightFunc(i int) WeightFunc {
	return d.funcs[i-d.nByte-d.nShort]
}

// ValueName translates a discrete code to its value name.
func (d *Definition) ValueName(i, code int) (string, error) {
	if i < 0 || i >= d.NumDiscrete() {
		return "", fmt.Errorf("features: %w: feature index %d is not discrete", binfile.ErrOutOfRange, i)
	}
	vals := d.features[i].Values
	if code < 0 || code >= len(vals) {
		return "", fmt.Errorf("features: %w: code %d for feature %q (%d values)", binfile.ErrOutOfRange, code, d.features[i].Name, len(vals))
	}
	return vals[code], nil
}

// ValueCode translates a value name of a discrete feature to its code.
func (d *Definition) ValueCode(i int, value string) (int, error) {
	if i < 0 || i >= d.NumDiscrete() {
		return 0, fmt.Errorf("features: %w: feature index %d is not discrete", binfile.ErrOutOfRange, i)
	}
	code, ok := d.codes[i][norm.NFC.String(value)]
	if !ok {
		return 0, fmt.Errorf("features: %w: feature %q has no value %q", binfile.ErrFormat, d.features[i].Name, value)
	}
	return code, nil
}

// Similarity returns the similarity cost between two codes of byte feature i
// when a similarity matrix was declared for it.
func (d *Definition) Similarity(i int, a, b byte) (float32, bool) {
	if i >= len(d.similarity) || d.similarity[i] == nil {
		return 0, false
	}
	return d.similarity[i][a][b], true
}

// Compatible reports whether other has the same names, kinds and value
// enumerations. Weights and weight functions may differ.
func (d *Definition) Compatible(other *Definition) bool {
	return d.CheckCompatible(other) == nil
}

// CheckCompatible is Compatible with a reason, wrapped in ErrIncompatible.
func (d *Definition) CheckCompatible(other *Definition) error {
	if d.nByte != other.nByte {
		return fmt.Errorf("features: %w: byte feature count %d versus %d", binfile.ErrIncompatible, d.nByte, other.nByte)
	}
	if d.nShort != other.nShort {
		return fmt.Errorf("features: %w: short feature count %d versus %d", binfile.ErrIncompatible, d.nShort, other.nShort)
	}
	if d.nCont != other.nCont {
		return fmt.Errorf("features: %w: continuous feature count %d versus %d", binfile.ErrIncompatible, d.nCont, other.nCont)
	}
	for i, f := range d.features {
		g := other.features[i]
		if f.Name != g.Name {
			return fmt.Errorf("features: %w: feature %d named %q versus %q", binfile.ErrIncompatible, i, f.Name, g.Name)
		}
		if len(f.Values) != len(g.Values) {
			return fmt.Errorf("features: %w: feature %q has %d versus %d values", binfile.ErrIncompatible, f.Name, len(f.Values), len(g.Values))
		}
		for v := range f.Values {
			if f.Values[v] != g.Values[v] {
				return fmt.Errorf("features: %w: feature %q value %d is %q versus %q",
					binfile.ErrIncompatible, f.Name, v, f.Values[v], g.Values[v])
			}
		}
	}
	return nil
}

// Vector builds a feature vector under this definition, validating lengths
// and codes. The slices are copied.
func (d *Definition) Vector(unit int, bytes []byte, shorts []int16, floats []float32) (Vector, error) {
	if len(bytes) != d.nByte || len(shorts) != d.nShort || len(floats) != d.nCont {
		return Vector{}, fmt.Errorf("features: %w: vector has %d/%d/%d values, definition %d/%d/%d",
			binfile.ErrFormat, len(bytes), len(shorts), len(floats), d.nByte, d.nShort, d.nCont)
	}
	for i, b := range bytes {
		if int(b) >= len(d.features[i].Values) {
			return Vector{}, fmt.Errorf("features: %w: code %d for feature %q", binfile.ErrOutOfRange, b, d.features[i].Name)
		}
	}
	for i, s := range shorts {
		f := d.features[d.nByte+i]
		if s < 0 || int(s) >= len(f.Values) {
			return Vector{}, fmt.Errorf("features: %w: code %d for feature %q", binfile.ErrOutOfRange, s, f.Name)
		}
	}
	return newVector(unit, bytes, shorts, floats), nil
}

// ParseVector reads a whitespace-separated vector with one token per
// feature. Discrete tokens are value names or numeric codes.
func (d *Definition) ParseVector(unit int, s string) (Vector, error) {
	tokens := strings.Fields(s)
	if len(tokens) != len(d.features) {
		return Vector{}, fmt.Errorf("features: %w: expected %d features, got %d", binfile.ErrFormat, len(d.features), len(tokens))
	}
	bytes := make([]byte, d.nByte)
	shorts := make([]int16, d.nShort)
	floats := make([]float32, d.nCont)
	for i, tok := range tokens {
		if i >= d.NumDiscrete() {
			f, err := strconv.ParseFloat(tok, 32)
			if err != nil {
				return Vector{}, fmt.Errorf("features: %w: feature %q: %v", binfile.ErrFormat, d.features[i].Name, err)
			}
			floats[i-d.NumDiscrete()] = float32(f)
			continue
		}
		code, err := d.ValueCode(i, tok)
		if err != nil {
			n, convErr := strconv.Atoi(tok)
			if convErr != nil {
				return Vector{}, err
			}
			code = n
		}
		if i < d.nByte {
			if code < 0 || code > math.MaxUint8 {
				return Vector{}, fmt.Errorf("features: %w: code %d for feature %q", binfile.ErrOutOfRange, code, d.features[i].Name)
			}
			bytes[i] = byte(code)
		} else {
			if code < 0 || code > math.MaxInt16 {
				return Vector{}, fmt.Errorf("features: %w: code %d for feature %q", binfile.ErrOutOfRange, code, d.features[i].Name)
			}
			shorts[i-d.nByte] = int16(code)
		}
	}
	return d.Vector(unit, bytes, shorts, floats)
}

// FormatVector renders v with value names, the inverse of ParseVector.
func (d *Definition) FormatVector(v Vector) string {
	parts := make([]string, 0, len(d.features))
	for i := range d.features {
		if i < d.NumDiscrete() {
			name, err := d.ValueName(i, v.Code(i))
			if err != nil {
				name = strconv.Itoa(v.Code(i))
			}
			parts = append(parts, name)
			continue
		}
		parts = append(parts, strconv.FormatFloat(float64(v.Float(i-d.NumDiscrete())), 'g', -1, 32))
	}
	return strings.Join(parts, " ")
}
