package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/example/go-unitsel/internal/bench"
)

func newBenchCmd() *cobra.Command {
	var (
		in           utteranceInput
		runs         int
		warmup       int
		format       string
		rtfThreshold float64
	)

	cmd := &cobra.Command{
		Use:   "bench",
		Short: "Benchmark synthesis latency and realtime factor",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := requireConfig()
			if err != nil {
				return err
			}

			if runs < 1 {
				return errors.New("--runs must be at least 1")
			}
			if format != "table" && format != "json" {
				return errors.New("--format must be 'table' or 'json'")
			}

			u, err := in.read(cmd.InOrStdin())
			if err != nil {
				return err
			}

			svc, mgr, err := newService(cfg)
			if err != nil {
				return err
			}
			defer mgr.Close()

			results, err := bench.Run(cmd.Context(), svc, u, runs, warmup)
			if err != nil {
				return err
			}
			stats := bench.Summarize(results)

			out := cmd.OutOrStdout()
			switch format {
			case "json":
				if err := bench.FormatJSON(results, stats, out); err != nil {
					return fmt.Errorf("write report: %w", err)
				}
			default:
				bench.FormatTable(results, stats, out)
			}

			return bench.CheckRTFThreshold(stats.MeanRTF, rtfThreshold)
		},
	}

	in.register(cmd.Flags())
	cmd.Flags().IntVar(&runs, "runs", 5, "Number of measured synthesis runs")
	cmd.Flags().IntVar(&warmup, "warmup", 1, "Unmeasured runs before the first measured run")
	cmd.Flags().StringVar(&format, "format", "table", "Output format: table|json")
	cmd.Flags().Float64Var(&rtfThreshold, "rtf-threshold", 0, "Exit non-zero if mean RTF exceeds this value (0 = disabled)")

	return cmd
}
