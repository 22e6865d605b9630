package audio

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/cwbudde/wav"
)

// Output format of synthesized audio. The sample rate follows the voice's
// audio timeline.
const (
	DefaultSampleRate = 16000
	Channels          = 1
	BitDepth          = 16
)

// ErrFormatMismatch is returned when a decoded WAV is not mono 16-bit PCM.
var ErrFormatMismatch = errors.New("WAV format mismatch")

// DecodeWAV decodes WAV bytes and returns float32 PCM samples with the
// file's sample rate. Only mono 16-bit PCM is accepted.
func DecodeWAV(data []byte) ([]float32, int, error) {
	if len(data) == 0 {
		return nil, 0, errors.New("empty WAV input")
	}

	dec := wav.NewDecoder(bytes.NewReader(data))
	if !dec.IsValidFile() {
		return nil, 0, errors.New("invalid WAV file")
	}

	if dec.NumChans != Channels {
		return nil, 0, fmt.Errorf("%w: channels %d, want %d", ErrFormatMismatch, dec.NumChans, Channels)
	}
	if dec.BitDepth != BitDepth {
		return nil, 0, fmt.Errorf("%w: bit depth %d, want %d", ErrFormatMismatch, dec.BitDepth, BitDepth)
	}
	if dec.SampleRate == 0 {
		return nil, 0, fmt.Errorf("%w: sample rate 0", ErrFormatMismatch)
	}

	buf, err := dec.FullPCMBuffer()
	if err != nil {
		return nil, 0, fmt.Errorf("reading PCM data: %w", err)
	}

	return buf.Data, int(dec.SampleRate), nil
}
