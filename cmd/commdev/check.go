package main

import (
	"errors"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/bamsammich/commdev/internal/comm"
	"github.com/bamsammich/commdev/internal/ui"
)

func newCheckCmd(g *globalOpts) *cobra.Command {
	return &cobra.Command{
		Use:   "check [ENDPOINT...]",
		Short: "Classify endpoints as good, conflicting or unreachable",
		Long: `Check every endpoint for write access and for aliasing.

ENDPOINT is host=path, a bare path, or a host name from the config file.
With no arguments, every [[endpoint]] in the config file is checked.
Exits 1 when any endpoint is conflicting or unreachable.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			hosts, err := g.endpoints(args)
			if err != nil {
				return err
			}
			if len(hosts) == 0 {
				return errors.New("no endpoints: pass host=path arguments or add [[endpoint]] entries to the config file")
			}

			reg, err := newRegistry()
			if err != nil {
				return err
			}

			var good, conflict, wrong []comm.Endpoint
			reg.Check(hosts, &good, &conflict, &wrong)
			slog.Debug("check complete",
				"good", len(good), "conflict", len(conflict), "wrong", len(wrong))

			ui.WriteBuckets(cmd.OutOrStdout(), good, conflict, wrong)
			if len(conflict)+len(wrong) > 0 {
				return &exitError{code: 1}
			}
			return nil
		},
	}
}
