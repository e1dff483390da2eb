package main

import (
	"fmt"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/eth2030/reputation-miner/metrics"
)

func newReplayCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "replay",
		Short: "Replay the active cycle without submitting and print the roots",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			a, err := newApp(ctx, c.cfg, c.log, metrics.NopMetrics(), false)
			if err != nil {
				return err
			}
			defer a.close()

			m := a.miner
			if err := m.BeginCycle(ctx); err != nil {
				return err
			}
			if err := m.ReplayAll(ctx); err != nil {
				return err
			}
			if err := m.VerifyProofs(ctx); err != nil {
				return errors.Wrap(err, "self-check")
			}
			root, err := m.RootHash(ctx)
			if err != nil {
				return err
			}
			jrh, err := m.JustificationRootHash(ctx)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "cycle:          %s\n", m.Cycle().Address().Hex())
			fmt.Fprintf(out, "root hash:      %s\n", root.Hex())
			fmt.Fprintf(out, "reputations:    %d\n", m.NReputations())
			fmt.Fprintf(out, "total updates:  %d\n", m.TotalUpdates())
			fmt.Fprintf(out, "justification:  %s\n", jrh.Hex())
			return nil
		},
	}
}
