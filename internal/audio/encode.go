package audio

import (
	"errors"
	"fmt"
	"io"

	"github.com/cwbudde/wav"
	goaudio "github.com/go-audio/audio"
)

// WriteWAV streams samples to w as mono 16-bit PCM. The encoder patches
// the RIFF sizes on close, so w must be seekable. Samples are clamped to
// [-1, 1].
func WriteWAV(w io.WriteSeeker, samples []float32, sampleRate int) error {
	if sampleRate < 1 {
		return fmt.Errorf("invalid sample rate: %d", sampleRate)
	}

	enc := wav.NewEncoder(w, sampleRate, BitDepth, Channels, 1) // 1 = PCM
	buf := &goaudio.Float32Buffer{
		Data:           Clamp(samples),
		Format:         &goaudio.Format{SampleRate: sampleRate, NumChannels: Channels},
		SourceBitDepth: BitDepth,
	}
	if err := enc.Write(buf); err != nil {
		return fmt.Errorf("writing PCM: %w", err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("closing encoder: %w", err)
	}
	return nil
}

// EncodeWAV encodes samples as an in-memory mono 16-bit WAV file.
func EncodeWAV(samples []float32, sampleRate int) ([]byte, error) {
	f := &memFile{data: make([]byte, 0, 44+2*len(samples))}
	if err := WriteWAV(f, samples, sampleRate); err != nil {
		return nil, err
	}
	return f.data, nil
}

// EncodeWAV64 is EncodeWAV for the float64 output of the concatenator.
func EncodeWAV64(samples []float64, sampleRate int) ([]byte, error) {
	return EncodeWAV(ToFloat32(samples), sampleRate)
}

// memFile is a growable io.WriteSeeker over a byte slice.
type memFile struct {
	data []byte
	pos  int64
}

func (f *memFile) Write(p []byte) (int, error) {
	end := f.pos + int64(len(p))
	if end > int64(len(f.data)) {
		f.data = append(f.data, make([]byte, end-int64(len(f.data)))...)
	}
	copy(f.data[f.pos:end], p)
	f.pos = end
	return len(p), nil
}

func (f *memFile) Seek(offset int64, whence int) (int64, error) {
	var pos int64
	switch whence {
	case io.SeekStart:
		pos = offset
	case io.SeekCurrent:
		pos = f.pos + offset
	case io.SeekEnd:
		pos = int64(len(f.data)) + offset
	default:
		return 0, fmt.Errorf("seek: bad whence %d", whence)
	}
	if pos < 0 {
		return 0, errors.New("seek before start")
	}
	f.pos = pos
	return pos, nil
}
