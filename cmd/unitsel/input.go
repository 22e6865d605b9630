package main

import (
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/spf13/afero"
	"github.com/spf13/cast"
	"github.com/spf13/pflag"

	"github.com/example/go-unitsel/internal/tts"
)

// utteranceInput selects where a command reads its targets from.
type utteranceInput struct {
	targetsPath string
	format      string
	phones      string
}

// read loads the utterance from --phones, or from --targets ('-' for
// stdin). The format falls back to the file extension, then JSON.
func (in utteranceInput) read(stdin io.Reader) (*tts.Utterance, error) {
	if strings.TrimSpace(in.phones) != "" {
		if in.targetsPath != "" {
			return nil, errors.New("--phones and --targets are mutually exclusive")
		}
		return parsePhones(in.phones)
	}
	if in.targetsPath == "" {
		return nil, errors.New("one of --targets or --phones is required")
	}

	format := in.format
	if format == "" {
		format = filepath.Ext(in.targetsPath)
	}
	if in.targetsPath == "-" {
		return tts.DecodeUtterance(stdin, format)
	}
	f, err := appFs.Open(in.targetsPath)
	if err != nil {
		return nil, fmt.Errorf("open targets: %w", err)
	}
	defer f.Close()
	return tts.DecodeUtterance(f, format)
}

// parsePhones reads "ph[:seconds] ..." into an utterance.
func parsePhones(s string) (*tts.Utterance, error) {
	fields := strings.Fields(s)
	u := &tts.Utterance{Targets: make([]tts.TargetSpec, 0, len(fields))}
	for _, f := range fields {
		ph, dur, hasDur := strings.Cut(f, ":")
		spec := tts.TargetSpec{Phone: ph}
		if hasDur {
			d, err := cast.ToFloat64E(dur)
			if err != nil {
				return nil, fmt.Errorf("phone %q: duration: %w", f, err)
			}
			spec.Duration = d
		}
		u.Targets = append(u.Targets, spec)
	}
	return u, nil
}

func (in *utteranceInput) register(fs *pflag.FlagSet) {
	fs.StringVar(&in.targetsPath, "targets", "", "Utterance file (json|yaml, '-' for stdin)")
	fs.StringVar(&in.format, "targets-format", "", "Utterance format: json|yaml (default from extension)")
	fs.StringVar(&in.phones, "phones", "", `Inline phones, e.g. "_:0.05 s a t _:0.05"`)
}

func writeOutput(path string, data []byte, stdout io.Writer) error {
	if path == "-" {
		_, err := stdout.Write(data)
		return err
	}
	if err := afero.WriteFile(appFs, path, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}
