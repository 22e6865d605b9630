package testutil

import (
	"testing"
	"time"

	"github.com/example/go-unitsel/internal/audio"
)

// decodeWAV decodes data as the mono 16-bit PCM the synthesizer writes.
func decodeWAV(tb testing.TB, data []byte) ([]float32, int) {
	tb.Helper()

	samples, rate, err := audio.DecodeWAV(data)
	if err != nil {
		tb.Fatalf("WAV: %v", err)
	}

	return samples, rate
}

// AssertValidWAV checks that data decodes as mono 16-bit PCM at wantRate
// with at least one sample.
func AssertValidWAV(tb testing.TB, data []byte, wantRate int) {
	tb.Helper()

	samples, rate := decodeWAV(tb, data)
	if rate != wantRate {
		tb.Fatalf("WAV: expected sample rate %d, got %d", wantRate, rate)
	}

	if len(samples) == 0 {
		tb.Fatal("WAV: data chunk contains zero samples")
	}
}

// AssertWAVDurationApprox asserts that the WAV playback length falls within
// [minLen, maxLen].
func AssertWAVDurationApprox(tb testing.TB, data []byte, minLen, maxLen time.Duration) {
	tb.Helper()

	samples, rate := decodeWAV(tb, data)

	d := time.Duration(int64(len(samples)) * int64(time.Second) / int64(rate))
	if d < minLen || d > maxLen {
		tb.Fatalf("WAV duration %v out of expected range [%v, %v]", d, minLen, maxLen)
	}
}
