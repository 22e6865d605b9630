package audio

import "math/bits"

const (
	muLawBias = 0x84
	muLawClip = 32635
)

// muLawExp is the decoded magnitude at the start of each segment.
var muLawExp = [8]int32{0, 132, 396, 924, 1980, 4092, 8316, 16764}

// MuLawEncode compresses a 16-bit sample to an 8-bit G.711 mu-law code.
func MuLawEncode(s int16) byte {
	v := int32(s)
	var sign int32
	if v < 0 {
		sign = 0x80
		v = -v
	}
	v = min(v, muLawClip) + muLawBias
	exponent := int32(bits.Len32(uint32(v>>7))) - 1
	mantissa := (v >> (exponent + 3)) & 0x0F

	return ^byte(sign | exponent<<4 | mantissa)
}

// MuLawDecode expands an 8-bit mu-law code to a 16-bit sample.
func MuLawDecode(u byte) int16 {
	u = ^u
	exponent := (u >> 4) & 0x07
	mantissa := int32(u & 0x0F)
	v := muLawExp[exponent] + mantissa<<(exponent+3)
	if u&0x80 != 0 {
		v = -v
	}

	return int16(v)
}
