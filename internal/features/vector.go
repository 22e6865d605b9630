package features

import "math"

// Vector holds the feature values of one unit (or target). Discrete values
// are addressed by feature index, continuous values by their position among
// the continuous features. Vectors are values and never change after
// construction.
type Vector struct {
	unit   int
	bytes  []byte
	shorts []int16
	floats []float32
}

func newVector(unit int, bytes []byte, shorts []int16, floats []float32) Vector {
	return Vector{
		unit:   unit,
		bytes:  append([]byte(nil), bytes...),
		shorts: append([]int16(nil), shorts...),
		floats: append([]float32(nil), floats...),
	}
}

// Unit is the index of the described unit, or -1 for a target.
func (v Vector) Unit() int { return v.unit }

func (v Vector) NumBytes() int  { return len(v.bytes) }
func (v Vector) NumShorts() int { return len(v.shorts) }
func (v Vector) NumFloats() int { return len(v.floats) }

// Code returns the value code of discrete feature i.
func (v Vector) Code(i int) int {
	if i < len(v.bytes) {
		return int(v.bytes[i])
	}
	return int(v.shorts[i-len(v.bytes)])
}

func (v Vector) Byte(i int) byte { return v.bytes[i] }

func (v Vector) Short(i int) int16 { return v.shorts[i] }

// Float returns the j-th continuous value.
func (v Vector) Float(j int) float32 { return v.floats[j] }

// WithUnit returns a copy of v describing unit.
func (v Vector) WithUnit(unit int) Vector {
	v.unit = unit
	return v
}

// Equal compares values and unit index; floats compare bitwise so NaN
// equals NaN.
func (v Vector) Equal(o Vector) bool {
	return v.unit == o.unit && v.SameValues(o)
}

// SameValues compares the feature values only.
func (v Vector) SameValues(o Vector) bool {
	if len(v.bytes) != len(o.bytes) || len(v.shorts) != len(o.shorts) || len(v.floats) != len(o.floats) {
		return false
	}
	for i := range v.bytes {
		if v.bytes[i] != o.bytes[i] {
			return false
		}
	}
	for i := range v.shorts {
		if v.shorts[i] != o.shorts[i] {
			return false
		}
	}
	for i := range v.floats {
		if math.Float32bits(v.floats[i]) != math.Float32bits(o.floats[i]) {
			return false
		}
	}
	return true
}
