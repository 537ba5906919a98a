package cli

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show past detection runs",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()
		limit, _ := cmd.Flags().GetInt("limit")

		runs, err := appInstance.Storage.GetRecentRuns(ctx, limit)
		if err != nil {
			return err
		}
		if len(runs) == 0 {
			fmt.Println("No runs recorded yet.")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tMODE\tSTARTED\tTOTAL\tRES\tDC\tUNK\tSTATUS")
		fmt.Fprintln(w, "--\t----\t-------\t-----\t---\t--\t---\t------")
		for _, run := range runs {
			status := "OK"
			if run.Error != "" {
				status = "FAILED"
			} else if run.FinishedAt == nil {
				status = "INCOMPLETE"
			}
			fmt.Fprintf(w, "%d\t%s\t%s\t%d\t%d\t%d\t%d\t%s\n",
				run.ID, run.Mode, run.StartedAt.Format("2006-01-02 15:04:05"),
				run.Total, run.Residential, run.Datacenter, run.Unknown, status)
		}
		w.Flush()

		return nil
	},
}

var historyResultsCmd = &cobra.Command{
	Use:   "results <run-id>",
	Short: "Show per-node verdicts of one run",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()

		id, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return fmt.Errorf("invalid run id: %s", args[0])
		}

		run, err := appInstance.Storage.GetRun(ctx, id)
		if err != nil {
			return err
		}
		results, err := appInstance.Storage.GetRunResults(ctx, id)
		if err != nil {
			return err
		}

		fmt.Printf("Run %d (%s, started %s)\n\n", run.ID, run.Mode,
			run.StartedAt.Format("2006-01-02 15:04:05"))

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "NODE\tIP\tLABEL\tORG\tREASON")
		fmt.Fprintln(w, "----\t--\t-----\t---\t------")
		for _, r := range results {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
				truncateName(r.NodeName, 35), r.IP,
				labelStyle(r.Label).Render(r.Label), truncateName(r.Org, 30), r.Reason)
		}
		w.Flush()

		return nil
	},
}

func truncateName(name string, maxLen int) string {
	if len(name) <= maxLen {
		return name
	}
	return name[:maxLen-3] + "..."
}

func init() {
	historyCmd.Flags().IntP("limit", "n", 20, "number of runs to show")

	historyCmd.AddCommand(historyResultsCmd)
	rootCmd.AddCommand(historyCmd)
}
