package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/example/go-unitsel/internal/audio"
	"github.com/example/go-unitsel/internal/voice"
)

// EnvPrefix prefixes every environment override, e.g. UNITSEL_SERVER_LISTEN_ADDR.
const EnvPrefix = "UNITSEL"

type Config struct {
	Paths     PathsConfig     `mapstructure:"paths"`
	Selection SelectionConfig `mapstructure:"selection"`
	Concat    ConcatConfig    `mapstructure:"concat"`
	Server    ServerConfig    `mapstructure:"server"`
	LogLevel  string          `mapstructure:"log_level"`
}

type PathsConfig struct {
	VoiceDir string `mapstructure:"voice_dir"`
	Voice    string `mapstructure:"voice"`
}

// SelectionConfig overrides the search settings of the voice. Zero values
// keep the voice's own settings; a negative JoinWeight does too.
type SelectionConfig struct {
	TargetWeight  float64 `mapstructure:"target_weight"`
	JoinWeight    float64 `mapstructure:"join_weight"`
	Beam          int     `mapstructure:"beam"`
	MinCandidates int     `mapstructure:"min_candidates"`
	MaxCandidates int     `mapstructure:"max_candidates"`
	JoinCost      string  `mapstructure:"join_cost"`
	Mode          string  `mapstructure:"mode"`
	Parallel      int     `mapstructure:"parallel"`
}

type ConcatConfig struct {
	MatchDuration bool    `mapstructure:"match_duration"`
	Normalize     bool    `mapstructure:"normalize"`
	DCBlock       bool    `mapstructure:"dc_block"`
	FadeMs        float64 `mapstructure:"fade_ms"`
}

type ServerConfig struct {
	ListenAddr      string `mapstructure:"listen_addr"`
	Workers         int    `mapstructure:"workers"`
	RequestTimeout  int    `mapstructure:"request_timeout"`
	ShutdownTimeout int    `mapstructure:"shutdown_timeout"`
	MaxBodyBytes    int    `mapstructure:"max_body_bytes"`
}

type LoadOptions struct {
	Cmd        flagBinder
	ConfigFile string
	// EnvFiles are loaded into the environment before anything else.
	// Missing files are skipped.
	EnvFiles []string
	Defaults Config
}

type flagBinder interface {
	Flags() *pflag.FlagSet
}

func DefaultConfig() Config {
	return Config{
		Paths: PathsConfig{
			VoiceDir: "voices",
			Voice:    "",
		},
		Selection: SelectionConfig{
			JoinWeight: -1,
			Mode:       "phone",
		},
		Concat: ConcatConfig{
			MatchDuration: true,
			DCBlock:       true,
			FadeMs:        2,
		},
		Server: ServerConfig{
			ListenAddr:      ":8080",
			Workers:         2,
			RequestTimeout:  60,
			ShutdownTimeout: 30,
			MaxBodyBytes:    1 << 20,
		},
		LogLevel: "info",
	}
}

// ManifestPath is the voices.json inside the voice directory.
func (c Config) ManifestPath() string {
	return filepath.Join(c.Paths.VoiceDir, voice.ManifestName)
}

// VoiceOverrides maps the selection and concat sections onto voice
// overrides. Join cost aliases are canonicalized.
func (c Config) VoiceOverrides() voice.Overrides {
	joinCost, err := NormalizeJoinCost(c.Selection.JoinCost)
	if err != nil {
		joinCost = c.Selection.JoinCost
	}
	return voice.Overrides{
		TargetWeight:         c.Selection.TargetWeight,
		JoinWeight:           c.Selection.JoinWeight,
		Beam:                 c.Selection.Beam,
		MinCandidates:        c.Selection.MinCandidates,
		MaxCandidates:        c.Selection.MaxCandidates,
		JoinCost:             joinCost,
		KeepRecordedDuration: !c.Concat.MatchDuration,
	}
}

// PostProcess is the output hook chain of the concat section.
func (c Config) PostProcess() audio.PostProcess {
	return audio.PostProcess{
		DCBlock:   c.Concat.DCBlock,
		Normalize: c.Concat.Normalize,
		FadeMs:    c.Concat.FadeMs,
	}
}

// Validate checks values that cannot be checked by decoding alone.
func (c Config) Validate() error {
	if _, err := NormalizeJoinCost(c.Selection.JoinCost); err != nil {
		return err
	}
	if c.Selection.TargetWeight < 0 || c.Selection.TargetWeight > 1 {
		return fmt.Errorf("selection.target_weight %v outside [0,1]", c.Selection.TargetWeight)
	}
	if c.Selection.JoinWeight > 1 {
		return fmt.Errorf("selection.join_weight %v above 1", c.Selection.JoinWeight)
	}
	if c.Selection.Beam < 0 || c.Selection.MinCandidates < 0 || c.Selection.MaxCandidates < 0 || c.Selection.Parallel < 0 {
		return errors.New("selection: beam, candidate limits and parallel must not be negative")
	}
	if c.Server.MaxBodyBytes <= 0 {
		return fmt.Errorf("server.max_body_bytes must be positive, got %d", c.Server.MaxBodyBytes)
	}
	return nil
}

// flagKeys maps config keys to their command-line flags.
var flagKeys = []struct{ key, flag string }{
	{"paths.voice_dir", "voice-dir"},
	{"paths.voice", "voice"},
	{"selection.target_weight", "target-weight"},
	{"selection.join_weight", "join-weight"},
	{"selection.beam", "beam"},
	{"selection.min_candidates", "min-candidates"},
	{"selection.max_candidates", "max-candidates"},
	{"selection.join_cost", "join-cost"},
	{"selection.mode", "mode"},
	{"selection.parallel", "parallel"},
	{"concat.match_duration", "match-duration"},
	{"concat.normalize", "normalize"},
	{"concat.dc_block", "dc-block"},
	{"concat.fade_ms", "fade-ms"},
	{"server.listen_addr", "listen-addr"},
	{"server.workers", "workers"},
	{"server.request_timeout", "request-timeout"},
	{"server.shutdown_timeout", "shutdown-timeout"},
	{"server.max_body_bytes", "max-body-bytes"},
	{"log_level", "log-level"},
}

func RegisterFlags(fs *pflag.FlagSet, defaults Config) {
	fs.String("voice-dir", defaults.Paths.VoiceDir, "Directory holding voices.json and the voices it lists")
	fs.String("voice", defaults.Paths.Voice, "Voice id (default: first voice of the manifest)")
	fs.Float64("target-weight", defaults.Selection.TargetWeight, "Target cost weight in [0,1] (0 keeps the voice setting)")
	fs.Float64("join-weight", defaults.Selection.JoinWeight, "Join cost weight (negative keeps the voice setting)")
	fs.Int("beam", defaults.Selection.Beam, "Viterbi beam width (0 keeps the voice setting)")
	fs.Int("min-candidates", defaults.Selection.MinCandidates, "Minimum candidates per target before widening the index search")
	fs.Int("max-candidates", defaults.Selection.MaxCandidates, "Maximum candidates per target (0 = unlimited)")
	fs.String("join-cost", defaults.Selection.JoinCost, "Join cost variant: features|model (empty keeps the voice setting)")
	fs.String("mode", defaults.Selection.Mode, "Target mode: phone|halfphone|diphone")
	fs.Int("parallel", defaults.Selection.Parallel, "Goroutines per synthesis (0 = GOMAXPROCS, 1 = sequential)")
	fs.Bool("match-duration", defaults.Concat.MatchDuration, "Stretch speech units to their target durations")
	fs.Bool("normalize", defaults.Concat.Normalize, "Peak-normalize synthesized audio")
	fs.Bool("dc-block", defaults.Concat.DCBlock, "Remove DC offset from synthesized audio")
	fs.Float64("fade-ms", defaults.Concat.FadeMs, "Fade in/out length in milliseconds")
	fs.String("listen-addr", defaults.Server.ListenAddr, "HTTP listen address")
	fs.Int("workers", defaults.Server.Workers, "Max concurrent syntheses")
	fs.Int("request-timeout", defaults.Server.RequestTimeout, "Per-request synthesis timeout in seconds")
	fs.Int("shutdown-timeout", defaults.Server.ShutdownTimeout, "Graceful shutdown drain period in seconds")
	fs.Int("max-body-bytes", defaults.Server.MaxBodyBytes, "Maximum request body size")
	fs.String("log-level", defaults.LogLevel, "Log level: debug|info|warn|error")
}

func Load(opts LoadOptions) (Config, error) {
	for _, f := range opts.EnvFiles {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, os.ErrNotExist) {
			return Config{}, fmt.Errorf("load env file %s: %w", f, err)
		}
	}

	v := viper.New()

	setDefaults(v, opts.Defaults)
	if opts.Cmd != nil {
		if err := bindFlags(v, opts.Cmd.Flags()); err != nil {
			return Config{}, err
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	replacer := strings.NewReplacer("-", "_", ".", "_")
	v.SetEnvKeyReplacer(replacer)
	v.AutomaticEnv()

	if opts.ConfigFile != "" {
		v.SetConfigFile(opts.ConfigFile)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config file: %w", err)
		}
	} else {
		v.SetConfigName("unitsel")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return Config{}, fmt.Errorf("read config file: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}

	return cfg, nil
}

// bindFlags binds every registered config flag present in fs. A flag
// only overrides file and env values when set explicitly.
func bindFlags(v *viper.Viper, fs *pflag.FlagSet) error {
	for _, fk := range flagKeys {
		f := fs.Lookup(fk.flag)
		if f == nil {
			continue
		}
		if err := v.BindPFlag(fk.key, f); err != nil {
			return fmt.Errorf("bind flag %s: %w", fk.flag, err)
		}
	}
	return nil
}

func setDefaults(v *viper.Viper, c Config) {
	v.SetDefault("paths.voice_dir", c.Paths.VoiceDir)
	v.SetDefault("paths.voice", c.Paths.Voice)
	v.SetDefault("selection.target_weight", c.Selection.TargetWeight)
	v.SetDefault("selection.join_weight", c.Selection.JoinWeight)
	v.SetDefault("selection.beam", c.Selection.Beam)
	v.SetDefault("selection.min_candidates", c.Selection.MinCandidates)
	v.SetDefault("selection.max_candidates", c.Selection.MaxCandidates)
	v.SetDefault("selection.join_cost", c.Selection.JoinCost)
	v.SetDefault("selection.mode", c.Selection.Mode)
	v.SetDefault("selection.parallel", c.Selection.Parallel)
	v.SetDefault("concat.match_duration", c.Concat.MatchDuration)
	v.SetDefault("concat.normalize", c.Concat.Normalize)
	v.SetDefault("concat.dc_block", c.Concat.DCBlock)
	v.SetDefault("concat.fade_ms", c.Concat.FadeMs)
	v.SetDefault("server.listen_addr", c.Server.ListenAddr)
	v.SetDefault("server.workers", c.Server.Workers)
	v.SetDefault("server.request_timeout", c.Server.RequestTimeout)
	v.SetDefault("server.shutdown_timeout", c.Server.ShutdownTimeout)
	v.SetDefault("server.max_body_bytes", c.Server.MaxBodyBytes)
	v.SetDefault("log_level", c.LogLevel)
}
