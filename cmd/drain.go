package cmd

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/kilianp07/stockpulse/pkg/export"
)

var (
	drainFormat string
	drainOut    string
)

var drainCmd = &cobra.Command{
	Use:   "drain",
	Short: "Run one allocation cycle over the fixture requests and export the outcomes",
	RunE:  runDrain,
}

func init() {
	drainCmd.Flags().StringVarP(&drainFormat, "format", "f", "json", "output format: json or csv")
	drainCmd.Flags().StringVarP(&drainOut, "out", "o", "", "output file (default stdout)")
	rootCmd.AddCommand(drainCmd)
}

func runDrain(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	svc, err := offline(ctx)
	if err != nil {
		return err
	}
	defer svc.Close()

	if _, err := svc.Manager.SyncActions(ctx); err != nil {
		return fmt.Errorf("sync actions: %w", err)
	}
	if _, err := svc.Manager.RunClustering(ctx); err != nil {
		fmt.Fprintf(cmd.ErrOrStderr(), "clustering skipped: %v\n", err)
	}
	res := svc.Cycle(ctx)

	var w io.Writer = cmd.OutOrStdout()
	if drainOut != "" {
		f, err := os.Create(drainOut)
		if err != nil {
			return err
		}
		defer f.Close()
		w = f
	}
	if err := export.Write(w, drainFormat, res.Outcomes); err != nil {
		return err
	}
	fmt.Fprintf(cmd.ErrOrStderr(), "cycle %s: %d processed, %d transfers\n", res.ID, len(res.Outcomes), len(res.Transfers))
	return nil
}
