// Package voice assembles a unit selection voice from its descriptor and
// data files.
package voice

import (
	"fmt"
	"io"
	"path/filepath"

	"github.com/BurntSushi/toml"

	"github.com/example/go-unitsel/internal/binfile"
)

// DescriptorName is the conventional descriptor file name in a voice
// directory.
const DescriptorName = "voice.toml"

// Files names the data files of a voice, relative to the descriptor.
// Optional entries may be empty.
type Files struct {
	Features   string `toml:"features"`
	Weights    string `toml:"target_weights,omitempty"`
	LeftHalf   string `toml:"left_weights,omitempty"`
	RightHalf  string `toml:"right_weights,omitempty"`
	Units      string `toml:"units"`
	Join       string `toml:"join_features"`
	JoinWeight string `toml:"join_weights,omitempty"`
	Precompute string `toml:"precomputed_joins,omitempty"`
	JoinModel  string `toml:"join_model,omitempty"`
	Audio      string `toml:"audio"`
}

// SelectionDefaults are the voice's preferred search settings.
type SelectionDefaults struct {
	TargetWeight  float64 `toml:"target_weight"`
	JoinWeight    float64 `toml:"join_weight"`
	Beam          int     `toml:"beam"`
	MinCandidates int     `toml:"min_candidates"`
	MaxCandidates int     `toml:"max_candidates"`
	JoinCost      string  `toml:"join_cost"`
	SignalWeight  float64 `toml:"signal_weight"`
}

// Descriptor is the decoded voice.toml.
type Descriptor struct {
	Name          string            `toml:"name"`
	Locale        string            `toml:"locale"`
	Gender        string            `toml:"gender,omitempty"`
	PhoneFeature  string            `toml:"phone_feature"`
	PauseSymbol   string            `toml:"pause_symbol"`
	IndexSequence []string          `toml:"index_sequence"`
	Files         Files             `toml:"files"`
	Selection     SelectionDefaults `toml:"selection"`
	MatchDuration bool              `toml:"match_target_duration"`
}

// ReadDescriptor decodes a descriptor and checks that the required files
// are named. Undecoded keys are rejected.
func ReadDescriptor(r io.Reader) (*Descriptor, error) {
	d := &Descriptor{
		PhoneFeature:  "phone",
		PauseSymbol:   "_",
		MatchDuration: true,
		Selection: SelectionDefaults{
			TargetWeight:  0.5,
			JoinWeight:    -1,
			MinCandidates: 1,
		},
	}
	md, err := toml.NewDecoder(r).Decode(d)
	if err != nil {
		return nil, fmt.Errorf("voice: %w: descriptor: %v", binfile.ErrFormat, err)
	}
	if extra := md.Undecoded(); len(extra) > 0 {
		return nil, fmt.Errorf("voice: %w: descriptor has unknown key %q", binfile.ErrFormat, extra[0].String())
	}
	for _, req := range []struct{ key, file string }{
		{"features", d.Files.Features},
		{"units", d.Files.Units},
		{"join_features", d.Files.Join},
		{"audio", d.Files.Audio},
	} {
		if req.file == "" {
			return nil, fmt.Errorf("voice: %w: descriptor names no %s file", binfile.ErrFormat, req.key)
		}
	}
	if (d.Files.LeftHalf == "") != (d.Files.RightHalf == "") {
		return nil, fmt.Errorf("voice: %w: left and right half-phone weights must be given together", binfile.ErrFormat)
	}
	return d, nil
}

// WriteDescriptor encodes d as TOML.
func WriteDescriptor(w io.Writer, d *Descriptor) error {
	if err := toml.NewEncoder(w).Encode(d); err != nil {
		return fmt.Errorf("voice: write descriptor: %w", err)
	}
	return nil
}

// resolve joins a descriptor-relative name with the descriptor directory.
func resolve(dir, name string) string {
	if name == "" || filepath.IsAbs(name) {
		return name
	}
	return filepath.Join(dir, name)
}
