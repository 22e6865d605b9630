// Package testutil provides shared fixtures and skip helpers for tests.
//
// Fixture helpers write a complete synthetic voice into a temporary
// directory, so most tests need no external data. Skip helpers call
// t.Skipf with a readable reason when an optional prerequisite is absent.
//
// Typical usage:
//
//	func TestMyIntegration(t *testing.T) {
//	    dir := testutil.RequireVoiceDir(t)
//	    ...
//	}
package testutil

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/afero"

	"github.com/example/go-unitsel/internal/voice"
)

// VoiceDirEnv names the variable pointing at a directory of real voices.
const VoiceDirEnv = "UNITSEL_TEST_VOICE_DIR"

// FixtureVoice writes a synthetic voice into a fresh temporary directory
// and returns the directory and the descriptor path.
func FixtureVoice(tb testing.TB, opts voice.FixtureOptions) (string, string) {
	tb.Helper()

	dir := tb.TempDir()

	desc, err := voice.WriteFixture(afero.NewOsFs(), dir, opts)
	if err != nil {
		tb.Fatalf("write fixture voice: %v", err)
	}

	return dir, desc
}

// FixtureManager writes a synthetic voice and returns a manager over its
// manifest. The manager is closed when the test ends.
func FixtureManager(tb testing.TB, opts ...voice.Option) *voice.Manager {
	tb.Helper()

	dir, _ := FixtureVoice(tb, voice.FixtureOptions{})

	mgr, err := voice.NewManager(afero.NewOsFs(), filepath.Join(dir, voice.ManifestName), opts...)
	if err != nil {
		tb.Fatalf("new voice manager: %v", err)
	}
	tb.Cleanup(func() { _ = mgr.Close() })

	return mgr
}

// RequireVoiceDir skips the test unless VoiceDirEnv names a directory with a
// voices.json manifest, and returns that directory.
func RequireVoiceDir(tb testing.TB) string {
	tb.Helper()

	dir := os.Getenv(VoiceDirEnv)
	if dir == "" {
		tb.Skipf("real voices not available; set %s to a directory with %s", VoiceDirEnv, voice.ManifestName)
		return ""
	}

	if _, err := os.Stat(filepath.Join(dir, voice.ManifestName)); err != nil {
		tb.Skipf("voice manifest not available in %s=%q: %v", VoiceDirEnv, dir, err)
		return ""
	}

	return dir
}
