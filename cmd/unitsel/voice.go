package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/example/go-unitsel/internal/voice"
)

func newVoiceCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "voice",
		Short: "List voices and write synthetic test voices",
	}

	cmd.AddCommand(newVoiceListCmd())
	cmd.AddCommand(newVoiceFixtureCmd())

	return cmd
}

func newVoiceListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List the voices of the manifest",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := requireConfig()
			if err != nil {
				return err
			}

			mgr, err := voice.NewManager(appFs, cfg.ManifestPath())
			if err != nil {
				return err
			}
			defer mgr.Close()

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tPATH\tLICENSE\tDEFAULT")
			for _, e := range mgr.List() {
				def := ""
				if e.ID == mgr.DefaultID() {
					def = "yes"
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", e.ID, e.Path, e.License, def)
			}
			return tw.Flush()
		},
	}
}

func newVoiceFixtureCmd() *cobra.Command {
	var opts voice.FixtureOptions

	cmd := &cobra.Command{
		Use:   "fixture DIR",
		Short: "Write a small synthetic voice with its manifest",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			desc, err := voice.WriteFixture(appFs, args[0], opts)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), desc)
			return err
		},
	}

	cmd.Flags().StringVar(&opts.Name, "name", "fixture", "Voice id")
	cmd.Flags().BoolVar(&opts.LPC, "lpc", false, "Store the audio timeline as LPC residuals")
	cmd.Flags().BoolVar(&opts.HalfPhone, "half-phone", false, "Declare left and right half-phone weights")
	cmd.Flags().StringVar(&opts.JoinCost, "join-cost", "", "Default join cost of the voice (features|model)")

	return cmd
}
