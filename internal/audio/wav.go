package audio

import (
	"encoding/binary"
	"io"
	"math"
)

// Hook post-processes a synthesized signal before encoding.
type Hook func(samples []float32) []float32

func ApplyHooks(samples []float32, hooks ...Hook) []float32 {
	out := samples
	for _, hook := range hooks {
		out = hook(out)
	}

	return out
}

// PostProcess is the configurable chain applied to synthesized audio.
type PostProcess struct {
	DCBlock   bool
	Normalize bool
	FadeMs    float64
}

// Hooks builds the hook chain for sampleRate in a fixed order: DC block,
// normalization, then fades.
func (p PostProcess) Hooks(sampleRate int) []Hook {
	var hooks []Hook
	if p.DCBlock {
		hooks = append(hooks, func(s []float32) []float32 { return DCBlock(s, sampleRate) })
	}
	if p.Normalize {
		hooks = append(hooks, PeakNormalize)
	}
	if p.FadeMs > 0 {
		hooks = append(hooks,
			func(s []float32) []float32 { return FadeIn(s, sampleRate, p.FadeMs) },
			func(s []float32) []float32 { return FadeOut(s, sampleRate, p.FadeMs) },
		)
	}

	return hooks
}

// ToFloat32 narrows concatenator output for encoding.
func ToFloat32(samples []float64) []float32 {
	out := make([]float32, len(samples))
	for i, s := range samples {
		out[i] = float32(s)
	}

	return out
}

// Clamp returns samples limited to [-1, 1]. The input is not modified.
func Clamp(samples []float32) []float32 {
	out := make([]float32, len(samples))
	for i, s := range samples {
		out[i] = float32(math.Max(-1.0, math.Min(1.0, float64(s))))
	}

	return out
}

// WritePCM16Samples encodes float32 samples as little-endian 16-bit signed
// integers and writes them to w. Samples are clamped to [-1, 1].
func WritePCM16Samples(w io.Writer, samples []float32) (int, error) {
	buf := make([]byte, len(samples)*2)
	for i, s := range samples {
		clamped := math.Max(-1.0, math.Min(1.0, float64(s)))
		v := int16(clamped * 32767)
		binary.LittleEndian.PutUint16(buf[i*2:], uint16(v))
	}

	return w.Write(buf)
}
