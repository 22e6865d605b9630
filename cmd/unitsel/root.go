package main

import (
	"errors"
	"log/slog"
	"os"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/example/go-unitsel/internal/config"
	"github.com/example/go-unitsel/internal/server"
	"github.com/example/go-unitsel/internal/tts"
	"github.com/example/go-unitsel/internal/voice"
)

var (
	cfgFile   string
	activeCfg config.Config
	// appFs backs every voice file the commands read.
	appFs afero.Fs = afero.NewOsFs()
)

func NewRootCmd() *cobra.Command {
	defaults := config.DefaultConfig()

	cmd := &cobra.Command{
		Use:           "unitsel",
		Short:         "Unit selection speech synthesis",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			loaded, err := config.Load(config.LoadOptions{
				Cmd:        cmd,
				ConfigFile: cfgFile,
				EnvFiles:   []string{".env"},
				Defaults:   defaults,
			})
			if err != nil {
				return err
			}
			if err := loaded.Validate(); err != nil {
				return err
			}
			activeCfg = loaded
			setupLogger(loaded.LogLevel)
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Optional config file (yaml|toml|json)")
	config.RegisterFlags(cmd.PersistentFlags(), defaults)

	cmd.AddCommand(newSynthCmd())
	cmd.AddCommand(newBenchCmd())
	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newHealthCmd())
	cmd.AddCommand(newDoctorCmd())
	cmd.AddCommand(newInspectCmd())
	cmd.AddCommand(newVoiceCmd())

	return cmd
}

// setupLogger configures the process-wide slog default logger.
func setupLogger(levelStr string) {
	lvl, err := server.ParseLogLevel(levelStr)
	if err != nil {
		lvl = slog.LevelInfo
	}
	h := slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: lvl})
	slog.SetDefault(slog.New(h))
}

func requireConfig() (config.Config, error) {
	if activeCfg.Paths.VoiceDir == "" {
		return config.Config{}, errors.New("configuration not loaded")
	}
	return activeCfg, nil
}

// newService opens the voice manifest of cfg and wraps it in a synthesis
// service. The returned manager must be closed by the caller.
func newService(cfg config.Config) (*tts.Service, *voice.Manager, error) {
	mgr, err := voice.NewManager(appFs, cfg.ManifestPath(),
		voice.WithOverrides(cfg.VoiceOverrides()),
		voice.WithParallel(cfg.Selection.Parallel),
		voice.WithLogger(slog.Default()),
	)
	if err != nil {
		return nil, nil, err
	}

	mode, err := tts.NormalizeMode(cfg.Selection.Mode)
	if err != nil {
		_ = mgr.Close()
		return nil, nil, err
	}

	svc, err := tts.NewService(mgr,
		tts.WithLogger(slog.Default()),
		tts.WithPostProcess(cfg.PostProcess()),
		tts.WithDefaultVoice(cfg.Paths.Voice),
		tts.WithDefaultMode(mode),
	)
	if err != nil {
		_ = mgr.Close()
		return nil, nil, err
	}
	return svc, mgr, nil
}
