package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/example/go-unitsel/internal/config"
	"github.com/example/go-unitsel/internal/selection"
	"github.com/example/go-unitsel/internal/testutil"
	"github.com/example/go-unitsel/internal/voice"
)

// run executes the root command with args and returns stdout and stderr.
func run(t *testing.T, stdin string, args ...string) (string, string, error) {
	t.Helper()

	orig := activeCfg
	t.Cleanup(func() { activeCfg = orig })

	root := NewRootCmd()
	var out, errOut bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&errOut)
	root.SetIn(strings.NewReader(stdin))
	root.SetArgs(args)

	err := root.ExecuteContext(context.Background())
	return out.String(), errOut.String(), err
}

func fixtureDir(t *testing.T) string {
	t.Helper()

	dir, _ := testutil.FixtureVoice(t, voice.FixtureOptions{})
	return dir
}

const fixturePhones = "_:0.02 s a t _:0.02"

// ---------------------------------------------------------------------------
// root
// ---------------------------------------------------------------------------

func TestNewRootCmd_HasExpectedSubcommands(t *testing.T) {
	root := NewRootCmd()

	want := []string{"synth", "bench", "serve", "health", "doctor", "inspect", "voice"}
	for _, name := range want {
		found := false

		for _, sub := range root.Commands() {
			if sub.Name() == name {
				found = true
				break
			}
		}

		if !found {
			t.Errorf("expected subcommand %q not found in root", name)
		}
	}
}

func TestNewRootCmd_HasPersistentFlags(t *testing.T) {
	root := NewRootCmd()
	for _, name := range []string{"config", "voice-dir", "join-cost", "mode"} {
		if root.PersistentFlags().Lookup(name) == nil {
			t.Errorf("expected --%s persistent flag to be registered", name)
		}
	}
}

func TestSetupLogger_DoesNotPanic(_ *testing.T) {
	for _, level := range []string{"debug", "info", "warn", "error", "not-a-level"} {
		setupLogger(level)
	}
}

func TestRequireConfig(t *testing.T) {
	orig := activeCfg
	t.Cleanup(func() { activeCfg = orig })

	activeCfg = config.Config{}
	if _, err := requireConfig(); err == nil {
		t.Fatal("expected error when config is not loaded")
	}

	activeCfg = config.DefaultConfig()
	got, err := requireConfig()
	if err != nil {
		t.Fatalf("requireConfig: %v", err)
	}
	if got.Paths.VoiceDir != "voices" {
		t.Errorf("VoiceDir = %q", got.Paths.VoiceDir)
	}
}

func TestRoot_RejectsInvalidConfig(t *testing.T) {
	_, _, err := run(t, "", "--join-cost", "neural", "voice", "list")
	if err == nil || !strings.Contains(err.Error(), "join cost") {
		t.Fatalf("err = %v", err)
	}
}

// ---------------------------------------------------------------------------
// input
// ---------------------------------------------------------------------------

func TestParsePhones(t *testing.T) {
	u, err := parsePhones(" _:0.05 s  a:0.1 ")
	if err != nil {
		t.Fatal(err)
	}
	if len(u.Targets) != 3 {
		t.Fatalf("targets = %+v", u.Targets)
	}
	if u.Targets[0].Phone != "_" || u.Targets[0].Duration != 0.05 || u.Targets[1].Duration != 0 || u.Targets[2].Duration != 0.1 {
		t.Errorf("targets = %+v", u.Targets)
	}

	if _, err := parsePhones("a:slow"); err == nil {
		t.Error("bad duration accepted")
	}
}

func TestUtteranceInput_Read(t *testing.T) {
	dir := t.TempDir()
	jsonPath := filepath.Join(dir, "u.json")
	if err := os.WriteFile(jsonPath, []byte(`{"targets":[{"phone":"a"},{"phone":"t"}]}`), 0o644); err != nil {
		t.Fatal(err)
	}

	u, err := utteranceInput{targetsPath: jsonPath}.read(nil)
	if err != nil || len(u.Targets) != 2 {
		t.Fatalf("json file: %+v, %v", u, err)
	}

	u, err = utteranceInput{targetsPath: "-", format: "yaml"}.read(strings.NewReader("mode: diphone\ntargets:\n  - phone: a\n  - phone: t\n"))
	if err != nil || u.Mode != "diphone" || len(u.Targets) != 2 {
		t.Fatalf("yaml stdin: %+v, %v", u, err)
	}

	for name, in := range map[string]utteranceInput{
		"neither": {},
		"both":    {targetsPath: jsonPath, phones: "a"},
		"missing": {targetsPath: filepath.Join(dir, "nope.json")},
	} {
		if _, err := in.read(nil); err == nil {
			t.Errorf("%s: want error", name)
		}
	}
}

// ---------------------------------------------------------------------------
// synth
// ---------------------------------------------------------------------------

func TestSynthCmd_WritesWAV(t *testing.T) {
	dir := fixtureDir(t)
	out := filepath.Join(t.TempDir(), "out.wav")

	_, stderr, err := run(t, "", "--voice-dir", dir, "synth", "--phones", fixturePhones, "--out", out, "--explain")
	if err != nil {
		t.Fatalf("synth: %v", err)
	}

	data, err := os.ReadFile(out)
	if err != nil {
		t.Fatal(err)
	}
	testutil.AssertValidWAV(t, data, voice.FixtureRate)

	for _, want := range []string{"TARGET", "total", "wrote " + out} {
		if !strings.Contains(stderr, want) {
			t.Errorf("stderr missing %q:\n%s", want, stderr)
		}
	}
}

func TestSynthCmd_StdinToStdout(t *testing.T) {
	dir := fixtureDir(t)
	body := `{"mode":"diphone","targets":[{"phone":"s"},{"phone":"a"},{"phone":"t"}]}`

	stdout, _, err := run(t, body, "--voice-dir", dir, "synth", "--targets", "-", "--out", "-")
	if err != nil {
		t.Fatalf("synth: %v", err)
	}
	testutil.AssertValidWAV(t, []byte(stdout), voice.FixtureRate)
}

func TestSynthCmd_Errors(t *testing.T) {
	dir := fixtureDir(t)

	_, _, err := run(t, "", "--voice-dir", dir, "synth", "--phones", "zh", "--out", "-")
	if !errors.Is(err, selection.ErrMalformedTarget) {
		t.Errorf("unknown phone err = %v", err)
	}

	_, _, err = run(t, "", "--voice-dir", dir, "--voice", "ghost", "synth", "--phones", "a", "--out", "-")
	if !errors.Is(err, voice.ErrUnknownVoice) {
		t.Errorf("unknown voice err = %v", err)
	}

	_, _, err = run(t, "", "--voice-dir", t.TempDir(), "synth", "--phones", "a", "--out", "-")
	if !errors.Is(err, os.ErrNotExist) {
		t.Errorf("missing manifest err = %v", err)
	}
}

// ---------------------------------------------------------------------------
// bench
// ---------------------------------------------------------------------------

func TestBenchCmd_JSON(t *testing.T) {
	dir := fixtureDir(t)

	stdout, _, err := run(t, "", "--voice-dir", dir, "bench", "--phones", fixturePhones, "--runs", "2", "--warmup", "0", "--format", "json")
	if err != nil {
		t.Fatalf("bench: %v", err)
	}

	var report struct {
		Runs []struct {
			Cold  bool `json:"cold"`
			Units int  `json:"units"`
		} `json:"runs"`
	}
	if err := json.Unmarshal([]byte(stdout), &report); err != nil {
		t.Fatalf("decode report: %v\n%s", err, stdout)
	}
	if len(report.Runs) != 2 || !report.Runs[0].Cold || report.Runs[0].Units != 5 {
		t.Errorf("report = %+v", report)
	}
}

func TestBenchCmd_Validation(t *testing.T) {
	dir := fixtureDir(t)

	for _, args := range [][]string{
		{"--runs", "0"},
		{"--format", "xml"},
		{"--rtf-threshold", "1e-12"},
	} {
		full := append([]string{"--voice-dir", dir, "bench", "--phones", fixturePhones, "--runs", "1"}, args...)
		if _, _, err := run(t, "", full...); err == nil {
			t.Errorf("bench %v: want error", args)
		}
	}
}

// ---------------------------------------------------------------------------
// doctor
// ---------------------------------------------------------------------------

func TestDoctorCmd(t *testing.T) {
	dir := fixtureDir(t)

	stdout, _, err := run(t, "", "--voice-dir", dir, "doctor", "--probe", "_ a _")
	if err != nil {
		t.Fatalf("doctor: %v\n%s", err, stdout)
	}
	if !strings.Contains(stdout, "doctor checks passed") {
		t.Errorf("stdout:\n%s", stdout)
	}

	_, stderr, err := run(t, "", "--voice-dir", t.TempDir(), "doctor")
	if err == nil || !strings.Contains(stderr, "FAIL: voice manifest") {
		t.Errorf("missing manifest: err=%v stderr=%s", err, stderr)
	}
}

// ---------------------------------------------------------------------------
// inspect
// ---------------------------------------------------------------------------

func TestInspectCmd(t *testing.T) {
	dir := fixtureDir(t)

	tests := []struct {
		file string
		want []string
	}{
		{"units.mry", []string{"UNITS", "edge units", "sample rate:"}},
		{"unitfeats.mry", []string{"UNITFEATS", "phone stress position f0 duration"}},
		{"joinfeats.mry", []string{"JOINFEATS", "dimensions:"}},
		{"precomputed.mry", []string{"PRECOMPUTED_JOINCOSTS", "pairs:"}},
		{"timeline.mry", []string{"TIMELINE", "datagrams:", "audio:"}},
	}
	for _, tt := range tests {
		t.Run(tt.file, func(t *testing.T) {
			stdout, _, err := run(t, "", "inspect", filepath.Join(dir, tt.file))
			if err != nil {
				t.Fatalf("inspect: %v", err)
			}
			for _, want := range tt.want {
				if !strings.Contains(stdout, want) {
					t.Errorf("output missing %q:\n%s", want, stdout)
				}
			}
		})
	}

	if _, _, err := run(t, "", "inspect", filepath.Join(dir, voice.DescriptorName)); err == nil {
		t.Error("inspecting a TOML descriptor succeeded")
	}
}

// ---------------------------------------------------------------------------
// voice
// ---------------------------------------------------------------------------

func TestVoiceCmd_FixtureAndList(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "voices")

	stdout, _, err := run(t, "", "voice", "fixture", dir, "--name", "demo", "--lpc")
	if err != nil {
		t.Fatalf("voice fixture: %v", err)
	}
	if strings.TrimSpace(stdout) != filepath.Join(dir, voice.DescriptorName) {
		t.Errorf("stdout = %q", stdout)
	}

	stdout, _, err = run(t, "", "--voice-dir", dir, "voice", "list")
	if err != nil {
		t.Fatalf("voice list: %v", err)
	}
	if !strings.Contains(stdout, "demo") || !strings.Contains(stdout, "CC0-1.0") {
		t.Errorf("list output:\n%s", stdout)
	}
}

// ---------------------------------------------------------------------------
// health
// ---------------------------------------------------------------------------

func TestHealthCmd(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/health" {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	}))
	defer ts.Close()

	stdout, _, err := run(t, "", "health", "--addr", ts.Listener.Addr().String())
	if err != nil {
		t.Fatalf("health: %v", err)
	}
	if strings.TrimSpace(stdout) != "ok" {
		t.Errorf("stdout = %q", stdout)
	}
}
