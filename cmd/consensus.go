package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var consensusThreshold float64

var consensusCmd = &cobra.Command{
	Use:   "consensus",
	Short: "Compute regional consensus from the configured fixtures",
	RunE:  runConsensus,
}

func init() {
	consensusCmd.Flags().Float64Var(&consensusThreshold, "threshold", 0, "override the consensus threshold (0 to 1)")
	rootCmd.AddCommand(consensusCmd)
}

func runConsensus(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	svc, err := offline(ctx)
	if err != nil {
		return err
	}
	defer svc.Close()

	n, err := svc.Manager.SyncActions(ctx)
	if err != nil {
		return fmt.Errorf("sync actions: %w", err)
	}
	fmt.Fprintf(cmd.ErrOrStderr(), "extracted %d signals\n", n)

	var threshold *float64
	if cmd.Flags().Changed("threshold") {
		threshold = &consensusThreshold
	}
	rep, err := svc.Manager.RunConsensus(ctx, nil, nil, threshold)
	if err != nil {
		return err
	}
	return printJSON(cmd.OutOrStdout(), rep)
}
