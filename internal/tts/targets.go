package tts

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/example/go-unitsel/internal/selection"
)

// Target modes.
const (
	ModePhone     = "phone"
	ModeHalfPhone = "halfphone"
	ModeDiphone   = "diphone"
)

// NormalizeMode canonicalizes a target mode. Empty selects ModePhone.
func NormalizeMode(raw string) (string, error) {
	mode := strings.ToLower(strings.TrimSpace(raw))
	switch mode {
	case "":
		return ModePhone, nil
	case ModePhone, ModeHalfPhone, ModeDiphone:
		return mode, nil
	case "half-phone", "half":
		return ModeHalfPhone, nil
	default:
		return "", fmt.Errorf("invalid target mode %q (expected %s|%s|%s)", raw, ModePhone, ModeHalfPhone, ModeDiphone)
	}
}

// TargetSpec is one phone of an utterance as supplied by a caller.
// Features maps feature names to value names or numbers.
type TargetSpec struct {
	Phone    string         `json:"phone" yaml:"phone"`
	Duration float64        `json:"duration,omitempty" yaml:"duration,omitempty"`
	Features map[string]any `json:"features,omitempty" yaml:"features,omitempty"`
}

// Utterance is a synthesis request body.
type Utterance struct {
	Voice   string       `json:"voice,omitempty" yaml:"voice,omitempty"`
	Mode    string       `json:"mode,omitempty" yaml:"mode,omitempty"`
	Targets []TargetSpec `json:"targets" yaml:"targets"`
}

// DecodeUtterance reads an utterance as JSON, or as YAML when format is
// "yaml" or "yml".
func DecodeUtterance(r io.Reader, format string) (*Utterance, error) {
	var u Utterance
	switch strings.ToLower(strings.TrimPrefix(format, ".")) {
	case "yaml", "yml":
		dec := yaml.NewDecoder(r)
		dec.KnownFields(true)
		if err := dec.Decode(&u); err != nil {
			return nil, fmt.Errorf("%w: decode targets: %w", selection.ErrMalformedTarget, err)
		}
	case "", "json":
		dec := json.NewDecoder(r)
		dec.DisallowUnknownFields()
		if err := dec.Decode(&u); err != nil {
			return nil, fmt.Errorf("%w: decode targets: %w", selection.ErrMalformedTarget, err)
		}
	default:
		return nil, fmt.Errorf("unsupported target format %q", format)
	}
	return &u, nil
}

// BuildTargets turns phone specs into selection targets. Half-phone mode
// splits every phone in two; diphone mode joins the right half of each
// phone to the left half of the next. Halves get half the phone duration.
func BuildTargets(specs []TargetSpec, mode string) ([]*selection.Target, error) {
	mode, err := NormalizeMode(mode)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", selection.ErrMalformedTarget, err)
	}
	for i, s := range specs {
		if strings.TrimSpace(s.Phone) == "" {
			return nil, fmt.Errorf("%w: target %d has no phone", selection.ErrMalformedTarget, i)
		}
		if s.Duration < 0 {
			return nil, fmt.Errorf("%w: target %d (%s) has negative duration %v", selection.ErrMalformedTarget, i, s.Phone, s.Duration)
		}
	}

	half := func(s TargetSpec, left bool) *selection.Target {
		return selection.NewHalfPhone(s.Phone, left, s.Duration/2, s.Features)
	}
	var out []*selection.Target
	switch mode {
	case ModePhone:
		for _, s := range specs {
			out = append(out, selection.NewTarget(s.Phone, s.Duration, s.Features))
		}
	case ModeHalfPhone:
		for _, s := range specs {
			out = append(out, half(s, true), half(s, false))
		}
	case ModeDiphone:
		if len(specs) == 1 {
			return nil, fmt.Errorf("%w: diphone mode needs at least two phones", selection.ErrMalformedTarget)
		}
		for i := 0; i+1 < len(specs); i++ {
			d, err := selection.NewDiphone(half(specs[i], false), half(specs[i+1], true))
			if err != nil {
				return nil, err
			}
			out = append(out, d)
		}
	}
	return out, nil
}
