package doctor_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/afero"

	"github.com/example/go-unitsel/internal/doctor"
	"github.com/example/go-unitsel/internal/voice"
)

const voicesDir = "/voices"

func fixtureFs(t *testing.T, opts voice.FixtureOptions) afero.Fs {
	t.Helper()

	fs := afero.NewMemMapFs()
	if _, err := voice.WriteFixture(fs, voicesDir, opts); err != nil {
		t.Fatalf("WriteFixture: %v", err)
	}
	return fs
}

func manifestPath() string { return filepath.Join(voicesDir, voice.ManifestName) }

// ---------------------------------------------------------------------------
// all-pass scenario
// ---------------------------------------------------------------------------

func TestRun_AllChecksPass(t *testing.T) {
	cfg := doctor.Config{
		Fs:           fixtureFs(t, voice.FixtureOptions{}),
		ManifestPath: manifestPath(),
		Probe:        []string{"_", "s", "a", "t", "_"},
		VoiceOption:  []voice.Option{voice.WithParallel(1)},
	}

	var out strings.Builder
	result := doctor.Run(context.Background(), cfg, &out)

	if result.Failed() {
		t.Fatalf("expected all checks to pass; failures: %v", result.Failures())
	}

	if result.Err() != nil {
		t.Errorf("Err() = %v", result.Err())
	}

	for _, want := range []string{"platform", "voice manifest", "voice fixture", "raw audio", "probe"} {
		if !strings.Contains(out.String(), want) {
			t.Errorf("output should mention %q:\n%s", want, out.String())
		}
	}

	if strings.Contains(out.String(), doctor.FailMark) {
		t.Errorf("output contains a failure mark:\n%s", out.String())
	}

	if got := len(result.Checks()); got != 3 {
		t.Errorf("want 3 checks, got %d", got)
	}
}

func TestRun_LPCVoice(t *testing.T) {
	cfg := doctor.Config{
		Fs:           fixtureFs(t, voice.FixtureOptions{LPC: true}),
		ManifestPath: manifestPath(),
	}

	var out strings.Builder
	result := doctor.Run(context.Background(), cfg, &out)

	if result.Failed() {
		t.Fatalf("failures: %v", result.Failures())
	}

	if !strings.Contains(out.String(), "lpc audio") {
		t.Errorf("output should name the lpc timeline:\n%s", out.String())
	}
}

// ---------------------------------------------------------------------------
// failures
// ---------------------------------------------------------------------------

func TestRun_MissingManifestFails(t *testing.T) {
	cfg := doctor.Config{
		Fs:           afero.NewMemMapFs(),
		ManifestPath: manifestPath(),
	}

	var out strings.Builder
	result := doctor.Run(context.Background(), cfg, &out)

	if !result.Failed() {
		t.Fatal("expected failure without a manifest")
	}

	if !errors.Is(result.Err(), os.ErrNotExist) {
		t.Errorf("Err() = %v; want not-exist", result.Err())
	}

	if !strings.Contains(out.String(), doctor.FailMark+" voice manifest") {
		t.Errorf("output should mark the manifest failure:\n%s", out.String())
	}
}

func TestRun_UnknownVoiceFails(t *testing.T) {
	cfg := doctor.Config{
		Fs:           fixtureFs(t, voice.FixtureOptions{}),
		ManifestPath: manifestPath(),
		Voices:       []string{"fixture", "ghost"},
	}

	var out strings.Builder
	result := doctor.Run(context.Background(), cfg, &out)

	if !errors.Is(result.Err(), voice.ErrUnknownVoice) {
		t.Fatalf("Err() = %v; want ErrUnknownVoice", result.Err())
	}

	failures := result.Failures()
	if len(failures) != 1 || !strings.Contains(failures[0], "ghost") {
		t.Errorf("failures = %v", failures)
	}

	checks := result.Checks()
	if checks[2].Name != "voice fixture" || checks[2].Err != nil {
		t.Errorf("fixture check = %+v", checks[2])
	}
}

func TestRun_BrokenVoiceFails(t *testing.T) {
	fs := fixtureFs(t, voice.FixtureOptions{})
	if err := fs.Remove(filepath.Join(voicesDir, "timeline.mry")); err != nil {
		t.Fatal(err)
	}

	var out strings.Builder
	result := doctor.Run(context.Background(), doctor.Config{Fs: fs, ManifestPath: manifestPath()}, &out)

	if !errors.Is(result.Err(), os.ErrNotExist) {
		t.Fatalf("Err() = %v; want not-exist", result.Err())
	}
}

func TestRun_ProbeWithUnknownPhoneFails(t *testing.T) {
	cfg := doctor.Config{
		Fs:           fixtureFs(t, voice.FixtureOptions{}),
		ManifestPath: manifestPath(),
		Probe:        []string{"zh"},
	}

	var out strings.Builder
	result := doctor.Run(context.Background(), cfg, &out)

	if !result.Failed() || !strings.Contains(out.String(), `probe "zh"`) {
		t.Errorf("expected probe failure:\n%s", out.String())
	}
}

func TestRun_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	cfg := doctor.Config{
		Fs:           fixtureFs(t, voice.FixtureOptions{}),
		ManifestPath: manifestPath(),
	}

	var out strings.Builder
	result := doctor.Run(ctx, cfg, &out)

	if !errors.Is(result.Err(), context.Canceled) {
		t.Errorf("Err() = %v; want Canceled", result.Err())
	}
}

func TestResult_AddFailure(t *testing.T) {
	var r doctor.Result
	if r.Failed() {
		t.Fatal("zero result failed")
	}

	r.AddFailure("config", errors.New("bad"))
	if !r.Failed() || len(r.Failures()) != 1 || r.Failures()[0] != "config: bad" {
		t.Errorf("failures = %v", r.Failures())
	}
}
