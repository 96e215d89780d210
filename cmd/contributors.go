package cmd

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
)

var contributorsCmd = &cobra.Command{
	Use:   "contributors STORE SKU NEEDED",
	Short: "List peer stores able to contribute stock, best first",
	Args:  cobra.ExactArgs(3),
	RunE:  runContributors,
}

func init() {
	rootCmd.AddCommand(contributorsCmd)
}

func runContributors(cmd *cobra.Command, args []string) error {
	needed, err := strconv.Atoi(args[2])
	if err != nil {
		return fmt.Errorf("needed: %w", err)
	}
	ctx := cmd.Context()
	svc, err := offline(ctx)
	if err != nil {
		return err
	}
	defer svc.Close()
	if _, err := svc.Manager.RunClustering(ctx); err != nil {
		fmt.Fprintf(cmd.ErrOrStderr(), "clustering skipped: %v\n", err)
	}
	candidates, err := svc.Manager.ScoreContributors(ctx, args[0], args[1], needed)
	if err != nil {
		return err
	}
	return printJSON(cmd.OutOrStdout(), candidates)
}
