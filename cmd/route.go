package cmd

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/kilianp07/stockpulse/core/model"
)

var routePriority string

var routeCmd = &cobra.Command{
	Use:   "route FROM TO QUANTITY",
	Short: "Find the best warehouse route for a store-to-store transfer",
	Args:  cobra.ExactArgs(3),
	RunE:  runRoute,
}

func init() {
	routeCmd.Flags().StringVarP(&routePriority, "priority", "p", string(model.PriorityStandard), "standard, high or emergency")
	rootCmd.AddCommand(routeCmd)
}

func runRoute(cmd *cobra.Command, args []string) error {
	qty, err := strconv.Atoi(args[2])
	if err != nil {
		return fmt.Errorf("quantity: %w", err)
	}
	prio := model.Priority(routePriority)
	switch prio {
	case model.PriorityStandard, model.PriorityHigh, model.PriorityEmergency:
	default:
		return fmt.Errorf("unknown priority %q", routePriority)
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
	route, err := svc.Manager.RouteTransfer(ctx, args[0], args[1], qty, prio)
	if err != nil {
		return err
	}
	return printJSON(cmd.OutOrStdout(), route)
}
