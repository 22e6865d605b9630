package main

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/spf13/cobra"

	"github.com/example/go-unitsel/internal/doctor"
	"github.com/example/go-unitsel/internal/voice"
)

func newDoctorCmd() *cobra.Command {
	var probe string

	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Check the voices directory and the host",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := requireConfig()
			if err != nil {
				return err
			}

			dcfg := doctor.Config{
				Fs:           appFs,
				ManifestPath: cfg.ManifestPath(),
				Probe:        strings.Fields(probe),
				VoiceOption: []voice.Option{
					voice.WithOverrides(cfg.VoiceOverrides()),
					voice.WithParallel(cfg.Selection.Parallel),
					voice.WithLogger(slog.Default()),
				},
			}
			if cfg.Paths.Voice != "" {
				dcfg.Voices = []string{cfg.Paths.Voice}
			}

			out := cmd.OutOrStdout()
			result := doctor.Run(cmd.Context(), dcfg, out)

			if result.Failed() {
				for _, f := range result.Failures() {
					fmt.Fprintf(cmd.ErrOrStderr(), "FAIL: %s\n", f)
				}

				return errors.New("doctor checks failed")
			}

			_, _ = fmt.Fprintln(out, "doctor checks passed")

			return nil
		},
	}

	cmd.Flags().StringVar(&probe, "probe", "", `Phones to synthesize with every voice, e.g. "_ a _"`)

	return cmd
}
