package main

import (
	"bytes"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/example/go-unitsel/internal/binfile"
	"github.com/example/go-unitsel/internal/cost"
	"github.com/example/go-unitsel/internal/features"
	"github.com/example/go-unitsel/internal/timeline"
	"github.com/example/go-unitsel/internal/units"
)

func newInspectCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "inspect FILE...",
		Short: "Describe voice database files",
		Args:  cobra.MinimumNArgs(1),
		// Inspecting files needs no voice directory.
		PersistentPreRunE: func(*cobra.Command, []string) error { return nil },
		RunE: func(cmd *cobra.Command, args []string) error {
			for i, path := range args {
				if i > 0 {
					fmt.Fprintln(cmd.OutOrStdout())
				}
				if err := inspectFile(cmd.OutOrStdout(), path); err != nil {
					return fmt.Errorf("%s: %w", path, err)
				}
			}
			return nil
		},
	}

	return cmd
}

func inspectFile(w io.Writer, path string) error {
	data, err := afero.ReadFile(appFs, path)
	if err != nil {
		return err
	}
	typ, err := binfile.ReadHeader(binfile.NewReader(bytes.NewReader(data)))
	if err != nil {
		return err
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	row := func(k string, v any) { fmt.Fprintf(tw, "%s:\t%v\n", k, v) }
	row("file", path)
	row("type", typ)
	row("size", fmt.Sprintf("%d bytes", len(data)))

	switch typ {
	case binfile.TypeUnits:
		us, err := units.Read(bytes.NewReader(data))
		if err != nil {
			return err
		}
		edges := 0
		for i := range us.Len() {
			if us.At(i).IsEdge() {
				edges++
			}
		}
		row("units", us.Len())
		row("edge units", edges)
		row("sample rate", us.SampleRate)
	case binfile.TypeUnitFeats, binfile.TypeHalfPhoneUnitFeats, binfile.TypeTargetFeats:
		ff, err := features.ReadFeatureFile(bytes.NewReader(data))
		if err != nil {
			return err
		}
		def := ff.Definition
		row("vectors", len(ff.Vectors))
		row("features", fmt.Sprintf("%d (%d byte, %d short, %d continuous)",
			def.NumFeatures(), def.NumByte(), def.NumShort(), def.NumContinuous()))
		names := make([]string, def.NumFeatures())
		for i := range names {
			names[i] = def.Name(i)
		}
		row("names", strings.Join(names, " "))
	case binfile.TypeJoinFeats:
		jf, err := cost.ReadJoinFeatures(bytes.NewReader(data))
		if err != nil {
			return err
		}
		row("units", jf.NumUnits())
		row("dimensions", jf.Dim())
	case binfile.TypePrecomputedJoinCosts:
		p, err := cost.ReadPrecomputed(bytes.NewReader(data))
		if err != nil {
			return err
		}
		row("pairs", p.Len())
	case binfile.TypeTimeline:
		tl, err := timeline.Open(bytes.NewReader(data), int64(len(data)))
		if err != nil {
			return err
		}
		params, err := timeline.ParseParams(tl.ProcHeader)
		if err != nil {
			return err
		}
		row("sample rate", tl.SampleRate)
		row("datagrams", tl.NumDatagrams)
		if tl.SampleRate > 0 {
			row("duration", time.Duration(tl.TotalDuration()*int64(time.Second)/int64(tl.SampleRate)))
		}
		row("audio", params.AudioType())
		row("index entries", len(tl.Index().Entries))
	}
	return tw.Flush()
}
