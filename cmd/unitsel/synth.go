package main

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/example/go-unitsel/internal/voice"
)

func newSynthCmd() *cobra.Command {
	var (
		in      utteranceInput
		out     string
		explain bool
	)

	cmd := &cobra.Command{
		Use:   "synth",
		Short: "Synthesize a target list to WAV",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := requireConfig()
			if err != nil {
				return err
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

			wav, res, err := svc.SynthesizeWAV(cmd.Context(), u)
			if err != nil {
				return err
			}

			if explain {
				v, err := mgr.Get(res.Voice)
				if err != nil {
					return err
				}
				ex, err := v.Explain(res.Selection)
				if err != nil {
					return err
				}
				writeExplanations(cmd.ErrOrStderr(), ex, res.Selection.Cost)
			}

			if err := writeOutput(out, wav, cmd.OutOrStdout()); err != nil {
				return err
			}
			if out != "-" {
				fmt.Fprintf(cmd.ErrOrStderr(), "wrote %s (%s, %d units, cost %.4f)\n",
					out, res.Duration().Round(time.Millisecond), len(res.Selection.Units), res.Selection.Cost)
			}
			return nil
		},
	}

	in.register(cmd.Flags())
	cmd.Flags().StringVar(&out, "out", "out.wav", "Output WAV path ('-' for stdout)")
	cmd.Flags().BoolVar(&explain, "explain", false, "Print the target cost terms of every selected unit to stderr")

	return cmd
}

func writeExplanations(w io.Writer, ex []voice.Explanation, total float64) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "TARGET\tUNIT\tCOST\tTERMS")
	for _, e := range ex {
		var terms []string
		for _, t := range e.Terms {
			if t.Cost == 0 {
				continue
			}
			terms = append(terms, fmt.Sprintf("%s %s/%s=%.3g", t.Feature, t.Target, t.Unit, t.Cost))
		}
		fmt.Fprintf(tw, "%s\t%d\t%.4f\t%s\n", e.Target, e.Unit, e.TargetCost, strings.Join(terms, ", "))
	}
	fmt.Fprintf(tw, "total\t\t%.4f\t\n", total)
	_ = tw.Flush()
}

